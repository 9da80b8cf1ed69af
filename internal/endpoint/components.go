package endpoint

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MrSnakeDoc/relay/internal/fault"
)

// ErrComponentExists is returned when a scheme is already served.
var ErrComponentExists = fault.New(fault.ErrValidation, "component already registered")

// Components is the default map-backed ComponentResolver.
type Components struct {
	mu    sync.RWMutex
	items map[string]Component
}

// NewComponents creates an empty component map.
func NewComponents() *Components {
	return &Components{items: make(map[string]Component)}
}

// Add registers c under name.
func (c *Components) Add(name string, comp Component) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if !schemePattern.MatchString(name) {
		return fmt.Errorf("%w: component name %q", ErrInvalidURI, name)
	}
	if comp == nil {
		return fault.New(fault.ErrValidation, "component is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[name]; exists {
		return fmt.Errorf("%w: %s", ErrComponentExists, name)
	}
	c.items[name] = comp
	return nil
}

// Get returns the component registered under name.
func (c *Components) Get(name string) (Component, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	comp, ok := c.items[strings.ToLower(name)]
	return comp, ok
}

// Remove unregisters and returns the component under name.
func (c *Components) Remove(name string) (Component, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name = strings.ToLower(name)
	comp, ok := c.items[name]
	delete(c.items, name)
	return comp, ok
}

// Names returns the registered names, sorted.
func (c *Components) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.items))
	for n := range c.items {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve implements ComponentResolver.
func (c *Components) Resolve(scheme string) (Component, error) {
	if comp, ok := c.Get(scheme); ok {
		return comp, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchComponent, scheme)
}
