package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain builds n nodes linked n0 -> n1 -> ... -> n(k-1) with "next" edges.
func chain(t *testing.T, b Backend, n int) []*Node {
	t.Helper()
	nodes := make([]*Node, n)
	for i := range n {
		nodes[i] = mustCreateNode(t, b, "step", Properties{"i": Int(int64(i))})
		if i > 0 {
			mustCreateEdge(t, b, "next", nodes[i-1].ID, nodes[i].ID)
		}
	}
	return nodes
}

func TestTraversal(t *testing.T) {
	for name, newBackend := range testBackends() {
		t.Run(name, func(t *testing.T) {
			runTraversalTests(t, newBackend)
		})
	}
}

func runTraversalTests(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("Related_DepthZero", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()

		nodes := chain(t, backend, 3)
		related, err := Related(context.Background(), backend, nodes[0].ID, 0)
		require.NoError(t, err)
		assert.Empty(t, related)
	})

	t.Run("Related_BoundedBothDirections", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()
		ctx := context.Background()

		nodes := chain(t, backend, 5)

		one, err := Related(ctx, backend, nodes[2].ID, 1)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{nodes[1].ID, nodes[3].ID}, nodeIDs(one))

		two, err := Related(ctx, backend, nodes[2].ID, 2)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{nodes[0].ID, nodes[1].ID, nodes[3].ID, nodes[4].ID}, nodeIDs(two))
		// BFS order: the two depth-1 nodes come first.
		assert.ElementsMatch(t, []uuid.UUID{nodes[1].ID, nodes[3].ID}, nodeIDs(two[:2]))

		far, err := Related(ctx, backend, nodes[0].ID, 10)
		require.NoError(t, err)
		assert.Len(t, far, 4, "each node once, start excluded")
	})

	t.Run("Related_Cycle", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()
		ctx := context.Background()

		nodes := chain(t, backend, 3)
		mustCreateEdge(t, backend, "next", nodes[2].ID, nodes[0].ID)
		mustCreateEdge(t, backend, "self", nodes[0].ID, nodes[0].ID)

		related, err := Related(ctx, backend, nodes[0].ID, 3)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{nodes[1].ID, nodes[2].ID}, nodeIDs(related))
	})

	t.Run("Traverse_DirectionAndType", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()
		ctx := context.Background()

		nodes := chain(t, backend, 3)
		side := mustCreateNode(t, backend, "side", nil)
		mustCreateEdge(t, backend, "aside", nodes[1].ID, side.ID)

		out, err := Traverse(ctx, backend, nodes[1].ID, TraversalOptions{MaxDepth: 2, Direction: Outgoing, EdgeType: "next"})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, nodes[2].ID, out[0].Node.ID)
		assert.Equal(t, 1, out[0].Depth)

		in, err := Traverse(ctx, backend, nodes[2].ID, TraversalOptions{MaxDepth: 5, Direction: Incoming})
		require.NoError(t, err)
		require.Len(t, in, 2)
		assert.Equal(t, nodes[1].ID, in[0].Node.ID)
		assert.Equal(t, nodes[0].ID, in[1].Node.ID)
		assert.Equal(t, 2, in[1].Depth)

		capped, err := Traverse(ctx, backend, nodes[1].ID, TraversalOptions{MaxDepth: 3, Direction: Both, MaxResults: 2})
		require.NoError(t, err)
		assert.Len(t, capped, 2)
	})

	t.Run("ShortestPath", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()
		ctx := context.Background()

		nodes := chain(t, backend, 4)
		// Shortcut 0 -> 2 makes 0 -> 2 -> 3 the minimal path.
		mustCreateEdge(t, backend, "jump", nodes[0].ID, nodes[2].ID)

		path, err := ShortestPath(ctx, backend, nodes[0].ID, nodes[3].ID, 5)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{nodes[0].ID, nodes[2].ID, nodes[3].ID}, path)

		self, err := ShortestPath(ctx, backend, nodes[1].ID, nodes[1].ID, 0)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{nodes[1].ID}, self)

		tooShort, err := ShortestPath(ctx, backend, nodes[0].ID, nodes[3].ID, 1)
		require.NoError(t, err)
		assert.Nil(t, tooShort)

		exact, err := ShortestPath(ctx, backend, nodes[0].ID, nodes[3].ID, 2)
		require.NoError(t, err)
		assert.Len(t, exact, 3)
	})

	t.Run("ShortestPath_OutgoingOnly", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()
		ctx := context.Background()

		nodes := chain(t, backend, 3)

		back, err := ShortestPath(ctx, backend, nodes[2].ID, nodes[0].ID, 10)
		require.NoError(t, err)
		assert.Nil(t, back)

		missing, err := ShortestPath(ctx, backend, nodes[0].ID, uuid.New(), 10)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("ExtractSubgraph", func(t *testing.T) {
		backend := newBackend(t)
		defer backend.Close()
		ctx := context.Background()

		nodes := chain(t, backend, 4)
		mustCreateEdge(t, backend, "back", nodes[1].ID, nodes[0].ID)

		sub, err := ExtractSubgraph(ctx, backend, nodes[1].ID, 1)
		require.NoError(t, err)
		assert.Equal(t, nodes[1].ID, sub.Nodes[0].ID, "center first")
		assert.ElementsMatch(t, []uuid.UUID{nodes[0].ID, nodes[1].ID, nodes[2].ID}, nodeIDs(sub.Nodes))

		var pairs [][2]uuid.UUID
		for _, e := range sub.Edges {
			pairs = append(pairs, [2]uuid.UUID{e.From, e.To})
		}
		assert.ElementsMatch(t, [][2]uuid.UUID{
			{nodes[0].ID, nodes[1].ID},
			{nodes[1].ID, nodes[2].ID},
			{nodes[1].ID, nodes[0].ID},
		}, pairs, "edge 2->3 leaves the subgraph")

		alone, err := ExtractSubgraph(ctx, backend, nodes[3].ID, 0)
		require.NoError(t, err)
		assert.Len(t, alone.Nodes, 1)
		assert.Empty(t, alone.Edges)

		_, err = ExtractSubgraph(ctx, backend, uuid.New(), 2)
		assert.True(t, IsNotFound(err))
	})
}

func TestTraverse_SkipsDanglingEdges(t *testing.T) {
	backend := NewInMemoryBackend()
	ctx := context.Background()

	a := mustCreateNode(t, backend, "agent", nil)
	b := mustCreateNode(t, backend, "agent", nil)
	mustCreateEdge(t, backend, "knows", a.ID, b.ID)

	// Simulate the CreateEdge/DeleteNode race by removing b behind the
	// edge map's back.
	backend.nodesMu.Lock()
	delete(backend.nodes, b.ID)
	backend.nodesMu.Unlock()

	related, err := Related(ctx, backend, a.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, related)

	neighbors, err := backend.GetNeighbors(ctx, a.ID, "", Outgoing)
	require.NoError(t, err)
	assert.Empty(t, neighbors)
}
