package depgraph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

func TestWaves_NoEdgesSingleWave(t *testing.T) {
	g := New()
	g.AddNode("b")
	g.AddNode("a")
	g.AddNode("c")

	waves, err := g.Waves()
	require.NoError(t, err)
	require.Len(t, waves, 1)
	assert.Equal(t, []string{"a", "b", "c"}, waves[0])
}

func TestWaves_LinearChain(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	waves, err := g.Waves()
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, waves)
}

func TestWaves_DiamondDependency(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("a", "c")
	g.AddEdge("b", "d")
	g.AddEdge("c", "d")

	waves, err := g.Waves()
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, waves)
}

func TestWaves_EveryNodeExactlyOnce(t *testing.T) {
	g := New()
	g.AddEdge("x", "y")
	g.AddNode("z")
	g.AddEdge("z", "y")

	waves, err := g.Waves()
	require.NoError(t, err)

	seen := map[string]int{}
	for _, wave := range waves {
		for _, n := range wave {
			seen[n]++
		}
	}
	assert.Equal(t, map[string]int{"x": 1, "y": 1, "z": 1}, seen)
}

func TestWaves_CycleFailsWithCycleError(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	waves, err := g.Waves()
	assert.Nil(t, waves)
	require.Error(t, err)

	var cycleErr *agentmodel.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.ElementsMatch(t, []string{"a", "b"}, cycleErr.Remaining)
}

func TestWaves_PartialCycleNamesOnlyRemaining(t *testing.T) {
	g := New()
	g.AddEdge("root", "a")
	g.AddEdge("a", "b")
	g.AddEdge("b", "a") // a <-> b cycle, unreachable from root's completion

	_, err := g.Waves()
	require.Error(t, err)
	var cycleErr *agentmodel.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.ElementsMatch(t, []string{"a", "b"}, cycleErr.Remaining)
}

func TestFromSelection_PrePartitionedWaves(t *testing.T) {
	g := FromSelection([]string{"a", "b", "c"}, [][]string{{"a"}, {"b", "c"}}, nil)
	waves, err := g.Waves()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}}, waves)
}

func TestFromSelection_KnownEdgesOnlyAppliedWhenBothSelected(t *testing.T) {
	known := []KnownEdge{
		{From: "scanner", To: "reporter"},
		{From: "scanner", To: "notifier"}, // notifier not selected
	}
	g := FromSelection([]string{"scanner", "reporter"}, nil, known)
	waves, err := g.Waves()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"scanner"}, {"reporter"}}, waves)
}

func TestFromSelection_NoEdgesMatchedYieldsSingleWave(t *testing.T) {
	known := []KnownEdge{{From: "x", To: "y"}}
	g := FromSelection([]string{"a", "b"}, nil, known)
	waves, err := g.Waves()
	require.NoError(t, err)
	require.Len(t, waves, 1)
	assert.Equal(t, []string{"a", "b"}, waves[0])
}
