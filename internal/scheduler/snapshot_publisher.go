// Package scheduler runs the periodic background jobs of a relay process as
// managed services of its context.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/relay/internal/logger"
	redisstore "github.com/MrSnakeDoc/relay/internal/store/redis"
)

// SnapshotSaver persists snapshots. *redisstore.Store implements it.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, snap *redisstore.Snapshot, ttl time.Duration) error
}

// SnapshotSource captures the current state to publish.
type SnapshotSource func() *redisstore.Snapshot

// SnapshotPublisher publishes snapshots on a fixed interval and on demand.
// It is meant to be registered with DeferStartService so the first snapshot
// already shows the started routes.
type SnapshotPublisher struct {
	source   SnapshotSource
	store    SnapshotSaver
	logger   logger.Logger
	interval time.Duration
	ttl      time.Duration
	timeout  time.Duration

	trigger chan struct{}
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSnapshotPublisher(
	source SnapshotSource,
	store SnapshotSaver,
	log logger.Logger,
	interval time.Duration,
	ttl time.Duration,
) *SnapshotPublisher {
	return &SnapshotPublisher{
		source:   source,
		store:    store,
		logger:   log,
		interval: interval,
		ttl:      ttl,
		timeout:  5 * time.Second,
		trigger:  make(chan struct{}, 1),
	}
}

func (sp *SnapshotPublisher) Name() string { return "snapshot-publisher" }

// Start publishes once and begins the periodic loop. A failed first
// publication is logged and does not fail the start.
func (sp *SnapshotPublisher) Start(ctx context.Context) error {
	if sp.interval <= 0 {
		return fmt.Errorf("snapshot interval must be > 0, got %v", sp.interval)
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.cancel != nil {
		return nil
	}

	if err := sp.Publish(ctx); err != nil {
		sp.logger.Warn("initial snapshot publication failed", logger.Error(err))
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sp.cancel = cancel
	sp.done = make(chan struct{})
	go sp.loop(loopCtx, sp.done)

	sp.logger.Info("snapshot publisher started", logger.Duration("interval", sp.interval))
	return nil
}

func (sp *SnapshotPublisher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(sp.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := sp.Publish(ctx); err != nil {
				sp.logger.Error("failed to publish snapshot", logger.Error(err))
			}
		case <-sp.trigger:
			sp.logger.Debug("snapshot publication triggered")
			if err := sp.Publish(ctx); err != nil {
				sp.logger.Error("failed to publish snapshot", logger.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Trigger asks the running loop for an immediate publication. It never
// blocks; triggers arriving while one is pending are merged.
func (sp *SnapshotPublisher) Trigger() {
	select {
	case sp.trigger <- struct{}{}:
	default:
	}
}

// Stop ends the loop and publishes a final snapshot.
func (sp *SnapshotPublisher) Stop(ctx context.Context) error {
	sp.mu.Lock()
	cancel, done := sp.cancel, sp.done
	sp.cancel, sp.done = nil, nil
	sp.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	if err := sp.Publish(ctx); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	sp.logger.Info("snapshot publisher stopped")
	return nil
}

// Publish captures and saves one snapshot.
func (sp *SnapshotPublisher) Publish(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sp.timeout)
	defer cancel()

	snap := sp.source()
	if err := sp.store.SaveSnapshot(ctx, snap, sp.ttl); err != nil {
		return err
	}
	sp.logger.Debug("snapshot published",
		logger.String("context", snap.Name()),
		logger.Int("routes", len(snap.Routes)))
	return nil
}
