package graph

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// TraversalOptions configures Traverse.
type TraversalOptions struct {
	// MaxDepth is the number of hops to follow. Zero visits nothing.
	MaxDepth int
	// Direction selects which edges are followed from each node.
	Direction Direction
	// EdgeType restricts traversal to one edge type; empty follows all.
	EdgeType string
	// MaxResults stops the walk early when positive.
	MaxResults int
}

// ConnectedNode is a node reached during traversal.
type ConnectedNode struct {
	Node  *Node `json:"node"`
	Depth int   `json:"depth"`
}

// Traverse walks the graph breadth-first from start and returns every node
// reached within opts.MaxDepth hops, each once, in BFS order. The start
// node is never included. Edges pointing at deleted nodes are skipped.
func Traverse(ctx context.Context, b Backend, start uuid.UUID, opts TraversalOptions) ([]*ConnectedNode, error) {
	results := make([]*ConnectedNode, 0)
	if opts.MaxDepth <= 0 {
		return results, nil
	}

	visited := map[uuid.UUID]bool{start: true}
	type item struct {
		id    uuid.UUID
		depth int
	}
	queue := []item{{start, 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= opts.MaxDepth {
			continue
		}

		next, err := adjacent(ctx, b, current.id, opts.EdgeType, opts.Direction)
		if err != nil {
			return nil, err
		}

		for _, id := range next {
			if visited[id] {
				continue
			}
			visited[id] = true

			node, err := b.GetNode(ctx, id)
			if IsNotFound(err) {
				continue
			}
			if err != nil {
				return nil, err
			}

			conn := &ConnectedNode{Node: node, Depth: current.depth + 1}
			results = append(results, conn)
			if opts.MaxResults > 0 && len(results) >= opts.MaxResults {
				return results, nil
			}
			if conn.Depth < opts.MaxDepth {
				queue = append(queue, item{id, conn.Depth})
			}
		}
	}

	return results, nil
}

// adjacent lists the IDs one hop from id. Outgoing and incoming edges are
// fetched concurrently when both are needed.
func adjacent(ctx context.Context, b Backend, id uuid.UUID, edgeType string, dir Direction) ([]uuid.UUID, error) {
	var out, in []*Edge

	g, gctx := errgroup.WithContext(ctx)
	if dir == Outgoing || dir == Both {
		g.Go(func() error {
			var err error
			out, err = b.GetEdgesFrom(gctx, id, edgeType)
			return err
		})
	}
	if dir == Incoming || dir == Both {
		g.Go(func() error {
			var err error
			in, err = b.GetEdgesTo(gctx, id, edgeType)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(out)+len(in))
	for _, e := range out {
		ids = append(ids, e.To)
	}
	for _, e := range in {
		ids = append(ids, e.From)
	}
	return ids, nil
}

// Related returns the nodes within depth hops of start, following edges in
// either direction. Depth 0 returns an empty list.
func Related(ctx context.Context, b Backend, start uuid.UUID, depth int) ([]*Node, error) {
	connected, err := Traverse(ctx, b, start, TraversalOptions{
		MaxDepth:  depth,
		Direction: Both,
	})
	if err != nil {
		return nil, err
	}

	nodes := make([]*Node, len(connected))
	for i, c := range connected {
		nodes[i] = c.Node
	}
	return nodes, nil
}

// ShortestPath finds a minimal chain of outgoing edges from start to end of
// at most maxDepth hops. It returns the node IDs along the path, starting
// with start and ending with end, or nil when no such path exists.
func ShortestPath(ctx context.Context, b Backend, start, end uuid.UUID, maxDepth int) ([]uuid.UUID, error) {
	if start == end {
		return []uuid.UUID{start}, nil
	}

	parent := make(map[uuid.UUID]uuid.UUID)
	visited := map[uuid.UUID]bool{start: true}
	frontier := []uuid.UUID{start}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []uuid.UUID
		for _, current := range frontier {
			edges, err := b.GetEdgesFrom(ctx, current, "")
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if visited[e.To] {
					continue
				}
				visited[e.To] = true
				parent[e.To] = current

				if e.To == end {
					return buildPath(parent, start, end), nil
				}
				next = append(next, e.To)
			}
		}
		frontier = next
	}

	return nil, nil
}

func buildPath(parent map[uuid.UUID]uuid.UUID, start, end uuid.UUID) []uuid.UUID {
	path := []uuid.UUID{end}
	for n := end; n != start; {
		n = parent[n]
		path = append(path, n)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Subgraph is a portion of the graph around a center node.
type Subgraph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// ExtractSubgraph returns center, every node within depth hops of it, and
// every edge whose endpoints are both in that set.
func ExtractSubgraph(ctx context.Context, b Backend, center uuid.UUID, depth int) (*Subgraph, error) {
	root, err := b.GetNode(ctx, center)
	if err != nil {
		return nil, err
	}

	related, err := Related(ctx, b, center, depth)
	if err != nil {
		return nil, err
	}

	nodes := append([]*Node{root}, related...)
	members := make(map[uuid.UUID]bool, len(nodes))
	for _, n := range nodes {
		members[n.ID] = true
	}

	edges := make([]*Edge, 0)
	for _, n := range nodes {
		out, err := b.GetEdgesFrom(ctx, n.ID, "")
		if err != nil {
			return nil, err
		}
		for _, e := range out {
			if members[e.To] {
				edges = append(edges, e)
			}
		}
	}

	return &Subgraph{Nodes: nodes, Edges: edges}, nil
}
