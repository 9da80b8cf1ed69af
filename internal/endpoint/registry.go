package endpoint

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/MrSnakeDoc/relay/internal/logger"
)

// DefaultMaxDynamic bounds the dynamic tier when no size is configured.
const DefaultMaxDynamic = 1000

// Tier names reported in snapshots and metrics.
const (
	TierStatic  = "static"
	TierDynamic = "dynamic"
)

// Strategy is notified of every endpoint registration. Strategies must not
// register endpoints themselves.
type Strategy interface {
	Registered(uri string, ep Endpoint)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(uri string, ep Endpoint)

func (f StrategyFunc) Registered(uri string, ep Endpoint) { f(uri, ep) }

// Observer receives cache events. Metrics implement it.
type Observer interface {
	CacheHit(tier string)
	CacheMiss()
	Evicted()
	Sizes(static, dynamic int)
}

type noopObserver struct{}

func (noopObserver) CacheHit(string) {}
func (noopObserver) CacheMiss()      {}
func (noopObserver) Evicted()        {}
func (noopObserver) Sizes(int, int)  {}

// Info is a read-only view of a cached endpoint.
type Info struct {
	URI        string            `json:"uri"`
	Component  string            `json:"component"`
	Tier       string            `json:"tier"`
	Params     map[string]string `json:"params,omitempty"`
	Routes     []string          `json:"routes,omitempty"`
	LastAccess time.Time         `json:"last_access"`
}

type entry struct {
	parsed     Parsed
	ep         Endpoint
	static     bool
	routes     map[string]struct{}
	seq        uint64
	lastAccess atomic.Int64
}

func (e *entry) touch(now time.Time) { e.lastAccess.Store(now.UnixNano()) }

// Registry caches endpoints by normalized URI in two tiers: a static tier
// owned by routes and never evicted, and a bounded dynamic tier evicted
// least-recently-used. At most one live instance exists per URI.
type Registry struct {
	mu         sync.RWMutex
	static     map[string]*entry
	dynamic    *lru.Cache[string, *entry]
	maxDynamic int
	seq        uint64

	cbMu      sync.Mutex // serializes registrations with callback catch-up
	callbacks []Strategy

	flight   singleflight.Group
	resolver ComponentResolver
	logger   logger.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxDynamic bounds the dynamic tier. Values <= 0 select DefaultMaxDynamic.
func WithMaxDynamic(n int) Option {
	return func(r *Registry) { r.maxDynamic = n }
}

// WithLogger sets the registry logger.
func WithLogger(log logger.Logger) Option {
	return func(r *Registry) { r.logger = log }
}

// WithObserver sets the cache event observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithClock overrides the access-time clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry resolving components through resolver.
func NewRegistry(resolver ComponentResolver, opts ...Option) *Registry {
	r := &Registry{
		static:   make(map[string]*entry),
		resolver: resolver,
		logger:   logger.NewNop(),
		observer: noopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxDynamic <= 0 {
		r.maxDynamic = DefaultMaxDynamic
	}
	if r.observer == nil {
		r.observer = noopObserver{}
	}

	cache, err := lru.New[string, *entry](r.maxDynamic)
	if err != nil {
		// only fails for non-positive sizes, excluded above
		panic(err)
	}
	r.dynamic = cache
	return r
}

// MaxDynamic returns the dynamic tier bound.
func (r *Registry) MaxDynamic() int { return r.maxDynamic }

// Resolve returns the endpoint for uri, creating, starting and caching it in
// the dynamic tier on a miss. Concurrent first resolutions of the same URI
// construct exactly one instance; a construction failure is returned to every
// waiting caller and nothing is cached.
func (r *Registry) Resolve(ctx context.Context, uri string) (Endpoint, error) {
	p, err := Normalize(uri)
	if err != nil {
		return nil, err
	}
	if e, ok := r.lookup(p.Key); ok {
		return e.ep, nil
	}
	e, err := r.getOrCreate(ctx, p, false)
	if err != nil {
		return nil, err
	}
	return e.ep, nil
}

// Acquire resolves uri on behalf of routeID and pins it in the static tier.
// Acquiring the same URI twice for one route is a no-op.
func (r *Registry) Acquire(ctx context.Context, uri, routeID string) (Endpoint, error) {
	p, err := Normalize(uri)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		if _, ok := r.lookup(p.Key); !ok {
			if _, err := r.getOrCreate(ctx, p, true); err != nil {
				return nil, err
			}
		}
		if ep, ok := r.pin(p.Key, routeID); ok {
			return ep, nil
		}
		// evicted between creation and pinning; go around again
	}
	return nil, &ConstructionError{URI: p.Key, Err: errors.New("endpoint evicted while being acquired")}
}

// Release drops routeID's reference to uri. It reports whether the endpoint
// is static and no longer referenced by any route. Unreferenced static
// endpoints stay registered until removed explicitly.
func (r *Registry) Release(uri, routeID string) bool {
	p, err := Normalize(uri)
	if err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.static[p.Key]
	if !ok {
		return false
	}
	delete(e.routes, routeID)
	return len(e.routes) == 0
}

// AddStatic registers ep under uri in the static tier, replacing any entry
// already cached for that URI. The previous endpoint is stopped and returned.
func (r *Registry) AddStatic(ctx context.Context, uri string, ep Endpoint) (Endpoint, error) {
	if ep == nil {
		return nil, ErrNilEndpoint
	}
	p, err := Normalize(uri)
	if err != nil {
		return nil, err
	}

	if cur, ok := r.Lookup(p.Key); !ok || !sameEndpoint(cur, ep) {
		if err := ep.Start(ctx); err != nil {
			return nil, &ConstructionError{URI: p.Key, Err: err}
		}
	}

	r.cbMu.Lock()
	r.mu.Lock()
	var prev *entry
	if old, ok := r.static[p.Key]; ok {
		prev = old
	} else if old, ok := r.dynamic.Peek(p.Key); ok {
		r.dynamic.Remove(p.Key)
		prev = old
	}
	e := r.newEntryLocked(p, ep, true)
	if prev != nil && prev.static {
		for id := range prev.routes {
			e.routes[id] = struct{}{}
		}
	}
	r.static[p.Key] = e
	r.reportSizesLocked()
	r.mu.Unlock()
	r.notify(p.Key, ep)
	r.cbMu.Unlock()

	if prev == nil {
		return nil, nil
	}
	if sameEndpoint(prev.ep, ep) {
		return prev.ep, nil
	}
	if err := prev.ep.Stop(ctx); err != nil {
		return prev.ep, fmt.Errorf("stop replaced endpoint %s: %w", p.Key, err)
	}
	return prev.ep, nil
}

// Lookup returns the cached endpoint for uri without creating it and without
// refreshing its recency.
func (r *Registry) Lookup(uri string) (Endpoint, bool) {
	p, err := Normalize(uri)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.static[p.Key]; ok {
		return e.ep, true
	}
	if e, ok := r.dynamic.Peek(p.Key); ok {
		return e.ep, true
	}
	return nil, false
}

// Remove stops and unregisters ep regardless of its tier.
func (r *Registry) Remove(ctx context.Context, ep Endpoint) error {
	if ep == nil {
		return ErrNilEndpoint
	}

	r.mu.Lock()
	e := r.findLocked(ep)
	if e == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, ep.URI())
	}
	r.detachLocked(e)
	r.reportSizesLocked()
	r.mu.Unlock()

	if err := e.ep.Stop(ctx); err != nil {
		return fmt.Errorf("stop endpoint %s: %w", e.parsed.Key, err)
	}
	return nil
}

// RemoveMatching stops and unregisters every endpoint whose URI matches
// pattern (see Matches). Every match is attempted; stop failures are
// combined into the returned error alongside the removed endpoints.
func (r *Registry) RemoveMatching(ctx context.Context, pattern string) ([]Endpoint, error) {
	r.mu.Lock()
	var matched []*entry
	for _, e := range r.entriesLocked() {
		if Matches(pattern, e.parsed.Key) {
			matched = append(matched, e)
		}
	}
	for _, e := range matched {
		r.detachLocked(e)
	}
	r.reportSizesLocked()
	r.mu.Unlock()

	removed := make([]Endpoint, 0, len(matched))
	var errs error
	for _, e := range matched {
		removed = append(removed, e.ep)
		if err := e.ep.Stop(ctx); err != nil {
			r.logger.Warn("failed to stop endpoint",
				logger.String("uri", e.parsed.Key),
				logger.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("stop endpoint %s: %w", e.parsed.Key, err))
		}
	}
	return removed, errs
}

// RemoveUnreferenced stops and unregisters the static endpoints among uris
// that no route references anymore.
func (r *Registry) RemoveUnreferenced(ctx context.Context, uris []string) error {
	r.mu.Lock()
	var orphans []*entry
	for _, uri := range uris {
		p, err := Normalize(uri)
		if err != nil {
			continue
		}
		if e, ok := r.static[p.Key]; ok && len(e.routes) == 0 {
			delete(r.static, p.Key)
			orphans = append(orphans, e)
		}
	}
	r.reportSizesLocked()
	r.mu.Unlock()

	var errs error
	for _, e := range orphans {
		if err := e.ep.Stop(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop endpoint %s: %w", e.parsed.Key, err))
		}
	}
	return errs
}

// RegisterCallback adds s. It is first called once for every endpoint
// already registered, in registration order, and then for each new
// registration. No registration is missed or reported twice.
func (r *Registry) RegisterCallback(s Strategy) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	r.mu.RLock()
	existing := r.entriesLocked()
	r.mu.RUnlock()

	for _, e := range existing {
		s.Registered(e.parsed.Key, e.ep)
	}
	r.callbacks = append(r.callbacks, s)
}

// Endpoints returns every cached endpoint in registration order.
func (r *Registry) Endpoints() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.entriesLocked()
	out := make([]Endpoint, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ep)
	}
	return out
}

// Map returns every cached endpoint keyed by normalized URI.
func (r *Registry) Map() map[string]Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Endpoint, len(r.static)+r.dynamic.Len())
	for _, e := range r.entriesLocked() {
		out[e.parsed.Key] = e.ep
	}
	return out
}

// Snapshot returns a view of every cached endpoint, sorted by URI.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	entries := r.entriesLocked()
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		info := Info{
			URI:        e.parsed.Key,
			Component:  e.parsed.Scheme,
			Tier:       TierDynamic,
			Params:     e.parsed.Params,
			LastAccess: time.Unix(0, e.lastAccess.Load()),
		}
		if e.static {
			info.Tier = TierStatic
			for id := range e.routes {
				info.Routes = append(info.Routes, id)
			}
			sort.Strings(info.Routes)
		}
		out = append(out, info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Len returns the number of static and dynamic endpoints.
func (r *Registry) Len() (static, dynamic int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.static), r.dynamic.Len()
}

// StopAll stops and unregisters every endpoint. Every endpoint is attempted.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entriesLocked()
	r.static = make(map[string]*entry)
	r.dynamic.Purge()
	r.reportSizesLocked()
	r.mu.Unlock()

	var errs error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.ep.Stop(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop endpoint %s: %w", e.parsed.Key, err))
		}
	}
	return errs
}

func (r *Registry) lookup(key string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.static[key]; ok {
		e.touch(r.now())
		r.observer.CacheHit(TierStatic)
		return e, true
	}
	if e, ok := r.dynamic.Get(key); ok {
		e.touch(r.now())
		r.observer.CacheHit(TierDynamic)
		return e, true
	}
	return nil, false
}

func (r *Registry) getOrCreate(ctx context.Context, p Parsed, static bool) (*entry, error) {
	v, err, _ := r.flight.Do(p.Key, func() (any, error) {
		if e, ok := r.lookup(p.Key); ok {
			return e, nil
		}
		return r.create(ctx, p, static)
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

func (r *Registry) create(ctx context.Context, p Parsed, static bool) (*entry, error) {
	r.observer.CacheMiss()

	comp, err := r.resolver.Resolve(p.Scheme)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoint %s: %w", p.Key, err)
	}
	ep, err := comp.CreateEndpoint(ctx, p.Key, p.Params)
	if err != nil {
		return nil, &ConstructionError{URI: p.Key, Err: err}
	}
	if err := ep.Start(ctx); err != nil {
		return nil, &ConstructionError{URI: p.Key, Err: err}
	}

	var e *entry
	for e == nil {
		r.cbMu.Lock()
		r.mu.Lock()
		if cur, ok := r.peekLocked(p.Key); ok {
			// registered while this instance was being built
			r.mu.Unlock()
			r.cbMu.Unlock()
			if !sameEndpoint(cur.ep, ep) {
				r.discard(ctx, p.Key, ep)
			}
			return cur, nil
		}
		if !static && r.dynamic.Len() >= r.maxDynamic {
			_, oldest, ok := r.dynamic.RemoveOldest()
			r.reportSizesLocked()
			r.mu.Unlock()
			r.cbMu.Unlock()
			if ok {
				r.evict(ctx, oldest)
			}
			continue
		}

		e = r.newEntryLocked(p, ep, static)
		if static {
			r.static[p.Key] = e
		} else {
			r.dynamic.Add(p.Key, e)
		}
		r.reportSizesLocked()
		r.mu.Unlock()
		r.notify(p.Key, ep)
		r.cbMu.Unlock()
	}

	r.logger.Debug("endpoint created",
		logger.String("uri", p.Key),
		logger.Bool("static", static))
	return e, nil
}

// discard stops an instance that lost the race to register its URI.
func (r *Registry) discard(ctx context.Context, key string, ep Endpoint) {
	if err := ep.Stop(ctx); err != nil {
		r.logger.Warn("failed to stop duplicate endpoint",
			logger.String("uri", key),
			logger.Error(err))
		return
	}
	r.logger.Debug("duplicate endpoint discarded", logger.String("uri", key))
}

func (r *Registry) evict(ctx context.Context, e *entry) {
	r.observer.Evicted()
	if err := e.ep.Stop(ctx); err != nil {
		r.logger.Warn("failed to stop evicted endpoint",
			logger.String("uri", e.parsed.Key),
			logger.Error(err))
		return
	}
	r.logger.Debug("dynamic endpoint evicted", logger.String("uri", e.parsed.Key))
}

// pin moves key into the static tier and records routeID as a referrer.
func (r *Registry) pin(key, routeID string) (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.static[key]; ok {
		e.routes[routeID] = struct{}{}
		return e.ep, true
	}
	e, ok := r.dynamic.Peek(key)
	if !ok {
		return nil, false
	}
	r.dynamic.Remove(key)
	e.static = true
	e.routes[routeID] = struct{}{}
	r.static[key] = e
	r.reportSizesLocked()
	return e.ep, true
}

func (r *Registry) peekLocked(key string) (*entry, bool) {
	if e, ok := r.static[key]; ok {
		return e, true
	}
	return r.dynamic.Peek(key)
}

func (r *Registry) newEntryLocked(p Parsed, ep Endpoint, static bool) *entry {
	r.seq++
	e := &entry{
		parsed: p,
		ep:     ep,
		static: static,
		routes: make(map[string]struct{}),
		seq:    r.seq,
	}
	e.touch(r.now())
	return e
}

// notify runs the callbacks. Caller holds cbMu.
func (r *Registry) notify(key string, ep Endpoint) {
	for _, cb := range r.callbacks {
		cb.Registered(key, ep)
	}
}

// entriesLocked returns both tiers in registration order.
func (r *Registry) entriesLocked() []*entry {
	out := make([]*entry, 0, len(r.static)+r.dynamic.Len())
	for _, e := range r.static {
		out = append(out, e)
	}
	out = append(out, r.dynamic.Values()...)
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Registry) findLocked(ep Endpoint) *entry {
	for _, e := range r.entriesLocked() {
		if sameEndpoint(e.ep, ep) {
			return e
		}
	}
	return nil
}

func (r *Registry) detachLocked(e *entry) {
	if e.static {
		delete(r.static, e.parsed.Key)
		return
	}
	r.dynamic.Remove(e.parsed.Key)
}

func (r *Registry) reportSizesLocked() {
	r.observer.Sizes(len(r.static), r.dynamic.Len())
}

// sameEndpoint compares by reference when possible and by URI otherwise.
func sameEndpoint(a, b Endpoint) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if k := ta.Kind(); k == reflect.Pointer || k == reflect.Chan {
		return a == b
	}
	return a.URI() == b.URI()
}
