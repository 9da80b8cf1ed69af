package redis

import "fmt"

const (
	// KeyPrefixSnapshot is the prefix for context snapshot keys
	KeyPrefixSnapshot = "relay:snapshot:"
	// KeyAllContexts is the key for the set of published context names
	KeyAllContexts = "relay:contexts"
)

// SnapshotKey returns the Redis key holding the snapshot of a context
func SnapshotKey(name string) string {
	return KeyPrefixSnapshot + name
}

// AllContextsKey returns the key for the set of published context names
func AllContextsKey() string {
	return KeyAllContexts
}

// ExtractContextName extracts the context name from a snapshot key
func ExtractContextName(key string) (string, error) {
	if len(key) <= len(KeyPrefixSnapshot) || key[:len(KeyPrefixSnapshot)] != KeyPrefixSnapshot {
		return "", fmt.Errorf("invalid snapshot key: %s", key)
	}
	return key[len(KeyPrefixSnapshot):], nil
}
