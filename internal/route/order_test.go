package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/relay/internal/logger"
)

func ids(routes []*Route) []string {
	out := make([]string, len(routes))
	for i, r := range routes {
		out[i] = r.ID()
	}
	return out
}

func mk(id string, rank int, seq uint64, deps ...string) *Route {
	return newRoute(&Definition{ID: id, From: "direct:" + id, DependsOn: deps}, rank, seq, logger.NewNop())
}

func TestPlanByRankThenDeclaration(t *testing.T) {
	routes := []*Route{
		mk("c", 1003, 3),
		mk("a", 1001, 1),
		mk("first", 5, 4),
		mk("b", 1002, 2),
	}
	out, err := Plan(routes)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "a", "b", "c"}, ids(out))
}

func TestPlanHonoursDependencies(t *testing.T) {
	routes := []*Route{
		mk("consumer", 1, 1, "producer"),
		mk("producer", 1002, 2, "store"),
		mk("store", 1003, 3),
		mk("other", 1004, 4),
	}
	out, err := Plan(routes)
	require.NoError(t, err)
	assert.Equal(t, []string{"store", "producer", "consumer", "other"}, ids(out))
}

func TestPlanIgnoresOutsideDependencies(t *testing.T) {
	out, err := Plan([]*Route{mk("a", 1001, 1, "elsewhere")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(out))
}

func TestPlanDetectsCycle(t *testing.T) {
	_, err := Plan([]*Route{mk("a", 1001, 1, "b"), mk("b", 1002, 2, "a")})
	assert.ErrorIs(t, err, ErrDependencyCycle)
}

func TestCheckCyclesReportsPath(t *testing.T) {
	err := checkCycles(map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"a"}})
	require.ErrorIs(t, err, ErrDependencyCycle)
	assert.Contains(t, err.Error(), "a -> b -> c -> a")

	assert.NoError(t, checkCycles(map[string][]string{"a": {"b"}, "b": nil}))
}
