package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrSnakeDoc/relay/internal/logger"
	redisstore "github.com/MrSnakeDoc/relay/internal/store/redis"
)

// DefaultStaleThreshold is the age after which a context that stopped
// publishing is forgotten.
const DefaultStaleThreshold = 24 * time.Hour

// SnapshotStore lists and deletes published snapshots.
type SnapshotStore interface {
	ListContexts(ctx context.Context) ([]string, error)
	GetSnapshot(ctx context.Context, name string) (*redisstore.Snapshot, error)
	DeleteSnapshot(ctx context.Context, name string) error
}

// SnapshotJanitor removes snapshots of contexts that stopped publishing,
// such as crashed processes whose snapshot has no TTL.
type SnapshotJanitor struct {
	store     SnapshotStore
	self      string
	logger    logger.Logger
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewSnapshotJanitor creates a janitor. The snapshot named self is never
// collected.
func NewSnapshotJanitor(
	store SnapshotStore,
	self string,
	log logger.Logger,
	interval time.Duration,
	threshold time.Duration,
) *SnapshotJanitor {
	if threshold == 0 {
		threshold = DefaultStaleThreshold
	}

	return &SnapshotJanitor{
		store:     store,
		self:      self,
		logger:    log,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
	}
}

func (j *SnapshotJanitor) Name() string { return "snapshot-janitor" }

// Start runs one collection and begins the periodic loop.
func (j *SnapshotJanitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopCh != nil {
		return nil
	}

	if _, err := j.Collect(ctx); err != nil {
		j.logger.Warn("initial snapshot collection failed", logger.Error(err))
	}

	stopCh := make(chan struct{})
	j.stopCh = stopCh
	ticker := time.NewTicker(j.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := j.Collect(context.Background()); err != nil {
					j.logger.Error("snapshot collection failed", logger.Error(err))
				}
			case <-stopCh:
				return
			}
		}
	}()
	return nil
}

func (j *SnapshotJanitor) Stop(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopCh != nil {
		close(j.stopCh)
		j.stopCh = nil
	}
	return nil
}

// Collect deletes every snapshot older than the threshold and returns the
// names it removed. Failures on single contexts are logged and skipped.
func (j *SnapshotJanitor) Collect(ctx context.Context) ([]string, error) {
	names, err := j.store.ListContexts(ctx)
	if err != nil {
		return nil, err
	}

	now := j.now()
	var deleted []string
	for _, name := range names {
		if name == j.self {
			continue
		}

		snap, err := j.store.GetSnapshot(ctx, name)
		switch {
		case errors.Is(err, redisstore.ErrSnapshotNotFound):
			// expired through its TTL; drop the dangling name
		case err != nil:
			j.logger.Warn("failed to read snapshot",
				logger.String("context", name),
				logger.Error(err))
			continue
		case now.Sub(snap.TakenAt) < j.threshold:
			continue
		}

		if err := j.store.DeleteSnapshot(ctx, name); err != nil {
			j.logger.Warn("failed to delete stale snapshot",
				logger.String("context", name),
				logger.Error(err))
			continue
		}
		deleted = append(deleted, name)
		j.logger.Info("collected stale snapshot", logger.String("context", name))
	}

	if len(deleted) == 0 {
		j.logger.Debug("no stale snapshots to collect")
	}
	return deleted, nil
}
