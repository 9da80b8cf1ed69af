package routes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/relay/internal/route"
)

// ErrNoRoutes is returned for a file that declares no routes.
var ErrNoRoutes = errors.New("no routes found in routes file")

// Mapper converts routes file entries to route definitions.
type Mapper struct{}

func NewMapper() *Mapper {
	return &Mapper{}
}

// MapRoutes converts every entry of f, in file order. Entries are checked in
// isolation here; cross-route rules (duplicates, dependencies) are left to
// the engine.
func (m *Mapper) MapRoutes(f *File) ([]*route.Definition, error) {
	if f == nil || len(f.Routes) == 0 {
		return nil, ErrNoRoutes
	}

	defs := make([]*route.Definition, 0, len(f.Routes))
	for i, spec := range f.Routes {
		def := &route.Definition{
			ID:           strings.TrimSpace(spec.ID),
			Description:  spec.Description,
			From:         strings.TrimSpace(spec.From),
			To:           trimAll(spec.To),
			StartupOrder: spec.StartupOrder,
			AutoStartup:  spec.AutoStartup,
			DependsOn:    trimAll(spec.DependsOn),
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
