package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSnapshotNotFound is returned when no snapshot is stored for a context.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Store handles Redis operations for context snapshots
type Store struct {
	client redis.Cmdable
}

// NewStore creates a new Redis store
func NewStore(client redis.Cmdable) *Store {
	return &Store{
		client: client,
	}
}

// SaveSnapshot stores snap under its management name. A zero ttl keeps it
// until overwritten or deleted.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot, ttl time.Duration) error {
	name := snap.Name()
	if name == "" {
		return errors.New("snapshot has no context name")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, SnapshotKey(name), data, ttl)
		p.SAdd(ctx, AllContextsKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the snapshot of a context
func (s *Store) GetSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, SnapshotKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// ListContexts returns the names of every published context, sorted.
func (s *Store) ListContexts(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, AllContextsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// GetAllSnapshots retrieves every published snapshot. Names whose snapshot
// has expired are dropped from the set.
func (s *Store) GetAllSnapshots(ctx context.Context) ([]*Snapshot, error) {
	names, err := s.ListContexts(ctx)
	if err != nil {
		return nil, err
	}

	snaps := make([]*Snapshot, 0, len(names))
	for _, name := range names {
		snap, err := s.GetSnapshot(ctx, name)
		if errors.Is(err, ErrSnapshotNotFound) {
			_ = s.client.SRem(ctx, AllContextsKey(), name).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// DeleteSnapshot removes the snapshot of a context
func (s *Store) DeleteSnapshot(ctx context.Context, name string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, SnapshotKey(name))
		p.SRem(ctx, AllContextsKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Ping reports whether Redis answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
