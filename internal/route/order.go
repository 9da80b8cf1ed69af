package route

import (
	"fmt"
	"sort"
	"strings"
)

// StartupEntry records when a route input began consuming.
type StartupEntry struct {
	RouteID string `json:"route_id"`
	Rank    int    `json:"startup_order"`
	Seq     uint64 `json:"seq"`
}

// Plan orders routes for startup: by rank, then declaration order, with
// every route placed after the routes it depends on. Dependencies outside
// routes are ignored.
func Plan(routes []*Route) ([]*Route, error) {
	byID := make(map[string]*Route, len(routes))
	for _, r := range routes {
		byID[r.ID()] = r
	}

	inDegree := make(map[string]int, len(routes))
	dependents := make(map[string][]string)
	for _, r := range routes {
		for _, dep := range r.def.DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			dependents[dep] = append(dependents[dep], r.ID())
			inDegree[r.ID()]++
		}
	}

	var ready []*Route
	for _, r := range routes {
		if inDegree[r.ID()] == 0 {
			ready = append(ready, r)
		}
	}

	out := make([]*Route, 0, len(routes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return before(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)

		for _, id := range dependents[next.ID()] {
			inDegree[id]--
			if inDegree[id] == 0 {
				ready = append(ready, byID[id])
			}
		}
	}

	if len(out) != len(routes) {
		var stuck []string
		for _, r := range routes {
			if inDegree[r.ID()] > 0 {
				stuck = append(stuck, r.ID())
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(stuck, ", "))
	}
	return out, nil
}

func before(a, b *Route) bool {
	if a.rank != b.rank {
		return a.rank < b.rank
	}
	return a.seq < b.seq
}

// checkCycles walks graph (route id -> dependencies) and reports the first
// cycle found as a path.
func checkCycles(graph map[string][]string) error {
	const (
		white = iota
		gray
		black
	)

	ids := make([]string, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	color := make(map[string]int, len(graph))
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		path = append(path, id)
		for _, dep := range graph[id] {
			switch color[dep] {
			case gray:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				return fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(cycle, " -> "))
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
