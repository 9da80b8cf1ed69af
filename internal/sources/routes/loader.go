package routes

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/relay/internal/route"
)

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Loader reads a routes file. It is a route.Builder, so an engine can take
// it directly.
type Loader struct {
	filePath string
	lookup   func(string) (string, bool)
}

func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
		lookup:   os.LookupEnv,
	}
}

// Load reads and parses the routes file. ${VAR} and ${VAR:-default}
// references are expanded from the environment before parsing.
func (l *Loader) Load() (*File, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}
	return Parse(expandVariables(data, l.lookup))
}

// Parse decodes a routes document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse routes yaml: %w", err)
	}
	return &f, nil
}

// Configure implements route.Builder.
func (l *Loader) Configure() ([]*route.Definition, error) {
	f, err := l.Load()
	if err != nil {
		return nil, err
	}
	return NewMapper().MapRoutes(f)
}

func expandVariables(data []byte, lookup func(string) (string, bool)) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		sub := envPattern.FindSubmatch(m)
		if v, ok := lookup(string(sub[1])); ok {
			return []byte(v)
		}
		return sub[2]
	})
}
