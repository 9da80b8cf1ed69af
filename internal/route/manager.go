package route

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrSnakeDoc/relay/internal/logger"
)

// Manager owns the routes of a context: their definitions, ids, startup
// ranks and the order in which their inputs actually started.
type Manager struct {
	mu       sync.RWMutex
	routes   map[string]*Route
	declared []*Route
	startup  []StartupEntry
	seq      uint64
	startSeq uint64

	ids IDFactory
	log logger.Logger
}

// NewManager creates an empty manager. A nil factory selects ULIDFactory.
func NewManager(ids IDFactory, log logger.Logger) *Manager {
	if ids == nil {
		ids = ULIDFactory{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		routes: make(map[string]*Route),
		ids:    ids,
		log:    log,
	}
}

const maxIDAttempts = 1000

// Prepare validates a batch of definitions against each other and against
// the routes already held, and returns copies with ids assigned. Nothing is
// mutated. A definition whose id matches an existing route replaces it.
func (m *Manager) Prepare(defs []*Definition) ([]*Definition, error) {
	out := make([]*Definition, 0, len(defs))
	batch := make(map[string]*Definition, len(defs))
	named := make(map[string]bool, len(defs))
	for i, def := range defs {
		if def == nil {
			return nil, fmt.Errorf("%w: definition %d is nil", ErrInvalidDefinition, i)
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if def.ID != "" {
			named[def.ID] = true
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, def := range defs {
		d := def.Clone()
		if d.ID == "" {
			// generated ids never replace a route or claim a name in the batch
			d.ID = m.ids.NewID(d)
			for tries := 1; m.routes[d.ID] != nil || named[d.ID] || batch[d.ID] != nil; tries++ {
				if tries == maxIDAttempts {
					return nil, fmt.Errorf("%w: no free id after %s", ErrDuplicateRouteID, d.ID)
				}
				d.ID = m.ids.NewID(d)
			}
		}
		if _, dup := batch[d.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRouteID, d.ID)
		}
		batch[d.ID] = d
		out = append(out, d)
	}

	graph := make(map[string][]string, len(m.routes)+len(out))
	ranks := make(map[int]string)
	for id, r := range m.routes {
		if _, replaced := batch[id]; replaced {
			continue
		}
		graph[id] = r.def.DependsOn
		if r.def.StartupOrder > 0 {
			ranks[r.def.StartupOrder] = id
		}
	}
	for _, d := range out {
		graph[d.ID] = d.DependsOn
		if d.StartupOrder == 0 {
			continue
		}
		if other, taken := ranks[d.StartupOrder]; taken {
			return nil, fmt.Errorf("%w: %d used by %s and %s", ErrDuplicateOrder, d.StartupOrder, other, d.ID)
		}
		ranks[d.StartupOrder] = d.ID
	}
	for _, d := range out {
		for _, dep := range d.DependsOn {
			if _, ok := graph[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, d.ID, dep)
			}
		}
	}
	if err := checkCycles(graph); err != nil {
		return nil, err
	}
	return out, nil
}

// Add registers a prepared definition. The id must not be in use.
func (m *Manager) Add(def *Definition) (*Route, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidRouteID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.routes[def.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRouteID, def.ID)
	}
	m.seq++
	rank := def.StartupOrder
	if rank == 0 {
		rank = AutoOrderBase + int(m.seq)
	}
	r := newRoute(def, rank, m.seq, m.log)
	m.routes[def.ID] = r
	m.declared = append(m.declared, r)
	m.log.Debug("route added",
		logger.String("route_id", def.ID),
		logger.Int("startup_order", rank))
	return r, nil
}

// Remove unregisters a stopped route and drops its endpoint references. It
// returns the URIs no route references anymore; they stay registered until
// the caller removes them.
func (m *Manager) Remove(id string, eps Endpoints) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.routes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}
	if st := r.State(); st != Stopped {
		return nil, fmt.Errorf("%w: %s is %s", ErrRouteStillRunning, id, st)
	}

	var orphans []string
	if eps != nil {
		orphans = r.release(eps)
	}
	delete(m.routes, id)
	m.declared = slices.DeleteFunc(m.declared, func(x *Route) bool { return x == r })
	m.startup = slices.DeleteFunc(m.startup, func(e StartupEntry) bool { return e.RouteID == id })
	m.log.Debug("route removed", logger.String("route_id", id))
	return orphans, nil
}

// Detach drops the endpoint references of a route while keeping its
// definition. It returns the URIs no route references anymore.
func (m *Manager) Detach(id string, eps Endpoints) []string {
	r, ok := m.Get(id)
	if !ok {
		return nil
	}
	return r.release(eps)
}

// Start starts one route and records it in the startup order.
func (m *Manager) Start(ctx context.Context, id string, eps Endpoints) error {
	r, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}
	if err := r.Start(ctx, eps); err != nil {
		return err
	}
	m.recordStarted(r)
	return nil
}

// Resume resumes a suspended route. A route whose suspend degraded to a stop
// starts again and moves to the end of the startup order.
func (m *Manager) Resume(ctx context.Context, id string, eps Endpoints) error {
	r, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRouteNotFound, id)
	}
	restart := r.State() == Stopped
	if err := r.Resume(ctx, eps); err != nil {
		return err
	}
	if restart {
		m.recordStarted(r)
	}
	return nil
}

func (m *Manager) recordStarted(r *Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startup = slices.DeleteFunc(m.startup, func(e StartupEntry) bool { return e.RouteID == r.ID() })
	m.startSeq++
	m.startup = append(m.startup, StartupEntry{RouteID: r.ID(), Rank: r.rank, Seq: m.startSeq})
}

// Prune drops stopped routes from the startup order.
func (m *Manager) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startup = slices.DeleteFunc(m.startup, func(e StartupEntry) bool {
		r, ok := m.routes[e.RouteID]
		return !ok || r.State() == Stopped
	})
}

// Get returns the route with id.
func (m *Manager) Get(id string) (*Route, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[id]
	return r, ok
}

// Routes returns every route in declaration order.
func (m *Manager) Routes() []*Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.declared)
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.routes)
}

// StartupOrder returns the routes in the order their inputs began consuming.
func (m *Manager) StartupOrder() []StartupEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.startup)
}

// ShutdownOrder returns the running routes in reverse startup order.
func (m *Manager) ShutdownOrder() []*Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Route, 0, len(m.startup))
	for i := len(m.startup) - 1; i >= 0; i-- {
		r, ok := m.routes[m.startup[i].RouteID]
		if !ok {
			continue
		}
		if st := r.State(); st == Started || st == Suspended {
			out = append(out, r)
		}
	}
	return out
}
