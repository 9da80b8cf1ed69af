// Package route owns route definitions, the per-route lifecycle and the
// manager that orders routes for startup and shutdown.
package route

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/MrSnakeDoc/relay/internal/endpoint"
	"github.com/MrSnakeDoc/relay/internal/fault"
)

// MaxExplicitOrder is the highest rank a definition may request. Higher
// ranks are assigned automatically in declaration order.
const MaxExplicitOrder = 999

// AutoOrderBase is the first automatically assigned rank.
const AutoOrderBase = 1000

var (
	ErrInvalidRouteID    = fault.New(fault.ErrValidation, "invalid route id")
	ErrDuplicateRouteID  = fault.New(fault.ErrValidation, "duplicate route id")
	ErrInvalidDefinition = fault.New(fault.ErrValidation, "invalid route definition")
	ErrDuplicateOrder    = fault.New(fault.ErrValidation, "duplicate startup order")
	ErrUnknownDependency = fault.New(fault.ErrValidation, "unknown route dependency")
	ErrDependencyCycle   = fault.New(fault.ErrValidation, "route dependency cycle")
	ErrRouteNotFound     = fault.New(fault.ErrValidation, "route not found")
	ErrRouteStillRunning = fault.New(fault.ErrLifecycle, "route is still running")
	ErrInvalidRouteState = fault.New(fault.ErrLifecycle, "invalid route state transition")
	ErrNotConsumer       = fault.New(fault.ErrConstruction, "endpoint cannot be used as a route input")
	ErrNotProducer       = fault.New(fault.ErrConstruction, "endpoint cannot be used as a route step")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]*$`)

// Definition describes a route: one input and an ordered list of steps.
type Definition struct {
	ID           string   `yaml:"id" json:"id"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	From         string   `yaml:"from" json:"from"`
	To           []string `yaml:"to" json:"to"`
	StartupOrder int      `yaml:"startupOrder,omitempty" json:"startup_order,omitempty"`
	AutoStartup  *bool    `yaml:"autoStartup,omitempty" json:"auto_startup,omitempty"`
	DependsOn    []string `yaml:"dependsOn,omitempty" json:"depends_on,omitempty"`
}

// IsAutoStartup reports whether the route starts with the context.
func (d *Definition) IsAutoStartup() bool {
	return d.AutoStartup == nil || *d.AutoStartup
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	c := *d
	c.To = slices.Clone(d.To)
	c.DependsOn = slices.Clone(d.DependsOn)
	if d.AutoStartup != nil {
		v := *d.AutoStartup
		c.AutoStartup = &v
	}
	return &c
}

// Validate checks the definition in isolation. The id may still be empty.
func (d *Definition) Validate() error {
	if d.ID != "" && !idPattern.MatchString(d.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidRouteID, d.ID)
	}
	if _, err := endpoint.Normalize(d.From); err != nil {
		return fmt.Errorf("route %s: from: %w", d.ID, err)
	}
	for i, uri := range d.To {
		if _, err := endpoint.Normalize(uri); err != nil {
			return fmt.Errorf("route %s: to[%d]: %w", d.ID, i, err)
		}
	}
	if d.StartupOrder < 0 || d.StartupOrder > MaxExplicitOrder {
		return fmt.Errorf("%w: route %s: startup order %d outside 1..%d",
			ErrInvalidDefinition, d.ID, d.StartupOrder, MaxExplicitOrder)
	}
	for _, dep := range d.DependsOn {
		if dep == d.ID && dep != "" {
			return fmt.Errorf("%w: route %s depends on itself", ErrDependencyCycle, d.ID)
		}
	}
	return nil
}

// URIs returns the normalized input and step URIs, input first, without duplicates.
func (d *Definition) URIs() []string {
	seen := make(map[string]struct{}, len(d.To)+1)
	out := make([]string, 0, len(d.To)+1)
	for _, raw := range append([]string{d.From}, d.To...) {
		p, err := endpoint.Normalize(raw)
		if err != nil {
			continue
		}
		if _, ok := seen[p.Key]; ok {
			continue
		}
		seen[p.Key] = struct{}{}
		out = append(out, p.Key)
	}
	return out
}

// Builder produces route definitions.
type Builder interface {
	Configure() ([]*Definition, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func() ([]*Definition, error)

func (f BuilderFunc) Configure() ([]*Definition, error) { return f() }

// Definitions is a Builder over a fixed list.
type Definitions []*Definition

func (d Definitions) Configure() ([]*Definition, error) { return d, nil }
