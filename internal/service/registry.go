// Package service tracks the auxiliary services whose start/stop lifecycle is
// delegated to the engine.
//
// Services start in registration order and stop in the exact reverse of the
// order in which they actually started. Services registered through
// DeferStart are queued and started in one batch when the engine reaches
// "almost started", before startup listeners fire.
package service

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/relay/internal/fault"
	"github.com/MrSnakeDoc/relay/internal/logger"
)

var (
	// ErrContextStopped is returned when a service is added while the engine is stopping.
	ErrContextStopped = fault.New(fault.ErrLifecycle, "context is stopping")
	// ErrNilService is returned for a nil service.
	ErrNilService = fault.New(fault.ErrValidation, "service is nil")
)

// Service is the start/stop contract every managed service satisfies.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Named lets a service report a display name for logs and snapshots.
type Named interface {
	Name() string
}

// Handle identifies a registration. It stays valid until the service is removed.
type Handle uint64

type phase int

const (
	phaseIdle phase = iota
	phaseStarting
	phaseStarted
	phaseStopping
)

type entry struct {
	handle         Handle
	svc            Service
	name           string
	stopOnShutdown bool
	deferred       bool
	claimed        bool // start in progress or done
	started        bool
	startSeq       uint64
}

// Info is a read-only view of one registration.
type Info struct {
	Handle         Handle `json:"handle"`
	Name           string `json:"name"`
	StopOnShutdown bool   `json:"stop_on_shutdown"`
	Deferred       bool   `json:"deferred"`
	Started        bool   `json:"started"`
}

// Registry holds managed services.
type Registry struct {
	mu         sync.RWMutex
	logger     logger.Logger
	entries    []*entry // registration order
	pending    []*entry // deferred start queue
	phase      phase
	nextHandle Handle
	startSeq   uint64
}

// NewRegistry creates an empty registry in the idle phase.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{logger: log}
}

// Add registers svc. The service is started right away when the engine is
// started or forceStart is set; otherwise it is started by StartAll.
// Re-adding an already registered instance returns its existing handle.
// A service that fails to start is unregistered and the error is returned.
func (r *Registry) Add(ctx context.Context, svc Service, stopOnShutdown, forceStart bool) (Handle, error) {
	if svc == nil {
		return 0, ErrNilService
	}

	r.mu.Lock()
	if r.phase == phaseStopping {
		r.mu.Unlock()
		return 0, ErrContextStopped
	}
	if e := r.findLocked(svc); e != nil {
		r.mu.Unlock()
		return e.handle, nil
	}
	e := r.appendLocked(svc, stopOnShutdown, false)
	startNow := forceStart || r.phase == phaseStarted
	if startNow {
		e.claimed = true
	}
	r.mu.Unlock()

	if !startNow {
		r.logger.Debug("service staged", logger.String("service", e.name))
		return e.handle, nil
	}
	if err := r.start(ctx, e); err != nil {
		r.removeEntry(e)
		return 0, err
	}
	return e.handle, nil
}

// DeferStart stages svc until MarkStarted. When the engine is already
// started it behaves like Add with an immediate start.
func (r *Registry) DeferStart(ctx context.Context, svc Service, stopOnShutdown bool) (Handle, error) {
	if svc == nil {
		return 0, ErrNilService
	}

	r.mu.Lock()
	if r.phase == phaseStopping {
		r.mu.Unlock()
		return 0, ErrContextStopped
	}
	if e := r.findLocked(svc); e != nil {
		r.mu.Unlock()
		return e.handle, nil
	}
	if r.phase == phaseStarted {
		e := r.appendLocked(svc, stopOnShutdown, false)
		e.claimed = true
		r.mu.Unlock()
		if err := r.start(ctx, e); err != nil {
			r.removeEntry(e)
			return 0, err
		}
		return e.handle, nil
	}
	e := r.appendLocked(svc, stopOnShutdown, true)
	r.pending = append(r.pending, e)
	r.mu.Unlock()

	r.logger.Debug("service deferred", logger.String("service", e.name))
	return e.handle, nil
}

// Remove unregisters svc without touching its running state.
func (r *Registry) Remove(svc Service) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.findLocked(svc)
	if e == nil {
		return false
	}
	r.removeLocked(e)
	return true
}

// RemoveHandle unregisters the service behind h without touching its running state.
func (r *Registry) RemoveHandle(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.handle == h {
			r.removeLocked(e)
			return true
		}
	}
	return false
}

// Has reports whether svc is registered.
func (r *Registry) Has(svc Service) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(svc) != nil
}

// Get returns the service behind h.
func (r *Registry) Get(h Handle) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.handle == h {
			return e.svc, true
		}
	}
	return nil, false
}

// Lookup returns the first registered service assignable to T, in registration order.
func Lookup[T any](r *Registry) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if v, ok := e.svc.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// LookupAll returns every registered service assignable to T, in registration order.
func LookupAll[T any](r *Registry) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []T
	for _, e := range r.entries {
		if v, ok := e.svc.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns the registrations in registration order.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Info{
			Handle:         e.handle,
			Name:           e.name,
			StopOnShutdown: e.stopOnShutdown,
			Deferred:       e.deferred,
			Started:        e.started,
		})
	}
	return out
}

// StartAll starts every staged, non-deferred service in registration order.
// The first failure aborts the remaining starts and is returned.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	r.phase = phaseStarting
	r.mu.Unlock()

	for i := 0; ; i++ {
		e, ok := r.claimAt(i, false)
		if !ok {
			return nil
		}
		if e == nil {
			continue
		}
		if err := r.start(ctx, e); err != nil {
			return err
		}
	}
}

// MarkStarted moves the registry into the started phase: the deferred queue
// is drained in registration order, then any service staged while the engine
// was starting is started. Services added afterwards start immediately.
func (r *Registry) MarkStarted(ctx context.Context) error {
	r.mu.Lock()
	r.phase = phaseStarted
	queue := r.pending
	r.pending = nil
	for _, e := range queue {
		e.claimed = true
	}
	r.mu.Unlock()

	for i, e := range queue {
		if err := r.start(ctx, e); err != nil {
			r.mu.Lock()
			for _, rest := range queue[i+1:] {
				rest.claimed = false
			}
			r.pending = append(queue[i+1:], r.pending...)
			r.mu.Unlock()
			return err
		}
	}

	for i := 0; ; i++ {
		e, ok := r.claimAt(i, true)
		if !ok {
			return nil
		}
		if e == nil {
			continue
		}
		if err := r.start(ctx, e); err != nil {
			return err
		}
	}
}

// BeginStop rejects new registrations with ErrContextStopped until StopAll
// completes. The engine calls it before draining routes.
func (r *Registry) BeginStop() {
	r.mu.Lock()
	r.phase = phaseStopping
	r.mu.Unlock()
}

// StopAll stops every started service flagged stopOnShutdown, in the reverse
// of the order in which they started. Every service is attempted; failures
// are logged and the first one is returned. Stopped services and services
// that never started but were flagged stopOnShutdown are unregistered.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	r.phase = phaseStopping
	var toStop []*entry
	for _, e := range r.entries {
		if e.started && e.stopOnShutdown {
			toStop = append(toStop, e)
		}
	}
	r.mu.Unlock()

	sort.Slice(toStop, func(i, j int) bool { return toStop[i].startSeq > toStop[j].startSeq })

	var errs error
	for _, e := range toStop {
		if err := e.svc.Stop(ctx); err != nil {
			r.logger.Warn("failed to stop service",
				logger.String("service", e.name),
				logger.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("stop service %s: %w", e.name, err))
		} else {
			r.logger.Debug("service stopped", logger.String("service", e.name))
		}
		r.mu.Lock()
		e.started = false
		e.claimed = false
		r.mu.Unlock()
	}

	r.mu.Lock()
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.stopOnShutdown {
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = nil
	}
	r.entries = kept
	r.pending = nil
	r.phase = phaseIdle
	r.mu.Unlock()

	if errs != nil {
		if all := multierr.Errors(errs); len(all) > 1 {
			r.logger.Warn("services failed to stop", logger.Int("count", len(all)))
		}
		return multierr.Errors(errs)[0]
	}
	return nil
}

// claimAt claims the entry at index i for starting. ok is false past the end.
// A nil entry with ok=true means the slot is not eligible.
func (r *Registry) claimAt(i int, includeDeferred bool) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.entries) {
		return nil, false
	}
	e := r.entries[i]
	if e.claimed || (e.deferred && !includeDeferred) {
		return nil, true
	}
	e.claimed = true
	return e, true
}

func (r *Registry) start(ctx context.Context, e *entry) error {
	if err := e.svc.Start(ctx); err != nil {
		r.mu.Lock()
		e.claimed = false
		r.mu.Unlock()
		r.logger.Error("failed to start service",
			logger.String("service", e.name),
			logger.Error(err))
		return fmt.Errorf("start service %s: %w", e.name, err)
	}

	r.mu.Lock()
	r.startSeq++
	e.startSeq = r.startSeq
	e.started = true
	r.mu.Unlock()

	r.logger.Debug("service started", logger.String("service", e.name))
	return nil
}

func (r *Registry) appendLocked(svc Service, stopOnShutdown, deferred bool) *entry {
	r.nextHandle++
	e := &entry{
		handle:         r.nextHandle,
		svc:            svc,
		name:           nameOf(svc),
		stopOnShutdown: stopOnShutdown,
		deferred:       deferred,
	}
	r.entries = append(r.entries, e)
	return e
}

func (r *Registry) removeEntry(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(e)
}

func (r *Registry) removeLocked(target *entry) {
	for i, e := range r.entries {
		if e == target {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	for i, e := range r.pending {
		if e == target {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			break
		}
	}
}

func (r *Registry) findLocked(svc Service) *entry {
	for _, e := range r.entries {
		if sameService(e.svc, svc) {
			return e
		}
	}
	return nil
}

// sameService compares by reference identity. Two structurally equal values
// are distinct services; only the same pointer (or channel) is a duplicate.
func sameService(a, b Service) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if k := ta.Kind(); k != reflect.Pointer && k != reflect.Chan {
		return false
	}
	return a == b
}

func nameOf(svc Service) string {
	if n, ok := svc.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", svc)
}
