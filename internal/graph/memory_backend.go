package graph

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryBackend provides an in-memory implementation of Backend.
//
// Nodes and edges sit behind separate locks, always taken nodes first.
// CreateEdge checks its endpoints under the node lock and inserts under the
// edge lock, so a DeleteNode racing between the two can leave a dangling
// edge. Readers skip edges whose endpoints are gone.
type InMemoryBackend struct {
	nodesMu sync.RWMutex
	nodes   map[uuid.UUID]*Node

	edgesMu sync.RWMutex
	edges   map[uuid.UUID]*Edge
}

// NewInMemoryBackend creates a new in-memory backend.
func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		nodes: make(map[uuid.UUID]*Node),
		edges: make(map[uuid.UUID]*Edge),
	}
}

// CreateNode inserts a new node.
func (b *InMemoryBackend) CreateNode(ctx context.Context, node *Node) error {
	fillNodeDefaults(node)
	if _, err := node.Properties.Encode(); err != nil {
		return &ErrBackend{Op: "encode node properties", Err: err}
	}

	b.nodesMu.Lock()
	defer b.nodesMu.Unlock()

	if _, ok := b.nodes[node.ID]; ok {
		return &ErrAlreadyExists{Entity: "node", ID: node.ID.String()}
	}
	b.nodes[node.ID] = node.Clone()
	return nil
}

// GetNode retrieves a node by ID.
func (b *InMemoryBackend) GetNode(ctx context.Context, id uuid.UUID) (*Node, error) {
	b.nodesMu.RLock()
	defer b.nodesMu.RUnlock()

	node, ok := b.nodes[id]
	if !ok {
		return nil, nodeNotFound(id)
	}
	return node.Clone(), nil
}

// UpdateNode replaces the type and properties of an existing node.
func (b *InMemoryBackend) UpdateNode(ctx context.Context, node *Node) error {
	if _, err := node.Properties.Encode(); err != nil {
		return &ErrBackend{Op: "encode node properties", Err: err}
	}

	b.nodesMu.Lock()
	defer b.nodesMu.Unlock()

	stored, ok := b.nodes[node.ID]
	if !ok {
		return nodeNotFound(node.ID)
	}
	if err := prepareUpdate(node, stored.CreatedAt); err != nil {
		return err
	}
	b.nodes[node.ID] = node.Clone()
	return nil
}

// DeleteNode removes a node and every edge touching it.
func (b *InMemoryBackend) DeleteNode(ctx context.Context, id uuid.UUID) error {
	b.nodesMu.Lock()
	defer b.nodesMu.Unlock()
	b.edgesMu.Lock()
	defer b.edgesMu.Unlock()

	if _, ok := b.nodes[id]; !ok {
		return nodeNotFound(id)
	}
	delete(b.nodes, id)
	for edgeID, edge := range b.edges {
		if edge.From == id || edge.To == id {
			delete(b.edges, edgeID)
		}
	}
	return nil
}

// CreateEdge inserts a new edge between two existing nodes.
func (b *InMemoryBackend) CreateEdge(ctx context.Context, edge *Edge) error {
	fillEdgeDefaults(edge)
	if _, err := edge.Properties.Encode(); err != nil {
		return &ErrBackend{Op: "encode edge properties", Err: err}
	}

	b.nodesMu.RLock()
	_, fromOK := b.nodes[edge.From]
	_, toOK := b.nodes[edge.To]
	b.nodesMu.RUnlock()

	if !fromOK {
		return nodeNotFound(edge.From)
	}
	if !toOK {
		return nodeNotFound(edge.To)
	}

	b.edgesMu.Lock()
	defer b.edgesMu.Unlock()

	if _, ok := b.edges[edge.ID]; ok {
		return &ErrAlreadyExists{Entity: "edge", ID: edge.ID.String()}
	}
	b.edges[edge.ID] = edge.Clone()
	return nil
}

// GetEdge retrieves an edge by ID.
func (b *InMemoryBackend) GetEdge(ctx context.Context, id uuid.UUID) (*Edge, error) {
	b.edgesMu.RLock()
	defer b.edgesMu.RUnlock()

	edge, ok := b.edges[id]
	if !ok {
		return nil, edgeNotFound(id)
	}
	return edge.Clone(), nil
}

// DeleteEdge removes an edge by ID.
func (b *InMemoryBackend) DeleteEdge(ctx context.Context, id uuid.UUID) error {
	b.edgesMu.Lock()
	defer b.edgesMu.Unlock()

	if _, ok := b.edges[id]; !ok {
		return edgeNotFound(id)
	}
	delete(b.edges, id)
	return nil
}

// GetEdgesFrom lists edges leaving nodeID, newest first.
func (b *InMemoryBackend) GetEdgesFrom(ctx context.Context, nodeID uuid.UUID, edgeType string) ([]*Edge, error) {
	return b.listEdges(ctx, func(e *Edge) bool {
		return e.From == nodeID && (edgeType == "" || e.Type == edgeType)
	})
}

// GetEdgesTo lists edges arriving at nodeID, newest first.
func (b *InMemoryBackend) GetEdgesTo(ctx context.Context, nodeID uuid.UUID, edgeType string) ([]*Edge, error) {
	return b.listEdges(ctx, func(e *Edge) bool {
		return e.To == nodeID && (edgeType == "" || e.Type == edgeType)
	})
}

// listEdges fails on a done context, as a SQLite query would.
func (b *InMemoryBackend) listEdges(ctx context.Context, keep func(*Edge) bool) ([]*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ErrBackend{Op: "list edges", Err: err}
	}

	b.edgesMu.RLock()
	defer b.edgesMu.RUnlock()

	results := make([]*Edge, 0)
	for _, edge := range b.edges {
		if keep(edge) {
			results = append(results, edge.Clone())
		}
	}
	slices.SortFunc(results, compareEdgesNewestFirst)
	return results, nil
}

// GetNeighbors returns the nodes at the other end of nodeID's edges.
func (b *InMemoryBackend) GetNeighbors(ctx context.Context, nodeID uuid.UUID, edgeType string, dir Direction) ([]*Node, error) {
	var ids []uuid.UUID
	if dir == Outgoing || dir == Both {
		out, err := b.GetEdgesFrom(ctx, nodeID, edgeType)
		if err != nil {
			return nil, err
		}
		for _, e := range out {
			ids = append(ids, e.To)
		}
	}
	if dir == Incoming || dir == Both {
		in, err := b.GetEdgesTo(ctx, nodeID, edgeType)
		if err != nil {
			return nil, err
		}
		for _, e := range in {
			// A self-loop was already counted as outgoing.
			if dir == Both && e.From == nodeID {
				continue
			}
			ids = append(ids, e.From)
		}
	}

	b.nodesMu.RLock()
	defer b.nodesMu.RUnlock()

	neighbors := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if node, ok := b.nodes[id]; ok {
			neighbors = append(neighbors, node.Clone())
		}
	}
	return neighbors, nil
}

// Search filters, sorts and paginates nodes.
func (b *InMemoryBackend) Search(ctx context.Context, q SearchQuery) (*SearchResults[*Node], error) {
	q = q.normalized()
	matched, err := b.matchNodes(q)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(matched, func(x, y *Node) int {
		return compareNodes(q, x, y)
	})

	total := len(matched)
	start := min(q.Offset, total)
	end := min(start+q.Limit, total)

	page := make([]*Node, 0, end-start)
	for _, n := range matched[start:end] {
		page = append(page, n.Clone())
	}
	return newSearchResults(page, total, q), nil
}

// CountNodes counts nodes matching the query filters.
func (b *InMemoryBackend) CountNodes(ctx context.Context, q SearchQuery) (int, error) {
	matched, err := b.matchNodes(q)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (b *InMemoryBackend) matchNodes(q SearchQuery) ([]*Node, error) {
	b.nodesMu.RLock()
	defer b.nodesMu.RUnlock()

	m := newNodeMatcher(q)
	var matched []*Node
	for _, node := range b.nodes {
		ok, err := m.match(node)
		if err != nil {
			return nil, &ErrBackend{Op: "encode properties", Err: err}
		}
		if ok {
			matched = append(matched, node)
		}
	}
	return matched, nil
}

// Stats returns node and edge counts by type.
func (b *InMemoryBackend) Stats(ctx context.Context) (*Stats, error) {
	b.nodesMu.RLock()
	defer b.nodesMu.RUnlock()
	b.edgesMu.RLock()
	defer b.edgesMu.RUnlock()

	stats := &Stats{
		NodeCount:   int64(len(b.nodes)),
		EdgeCount:   int64(len(b.edges)),
		NodesByType: make(map[string]int64),
		EdgesByType: make(map[string]int64),
	}
	for _, node := range b.nodes {
		stats.NodesByType[node.Type]++
	}
	for _, edge := range b.edges {
		stats.EdgesByType[edge.Type]++
	}
	return stats, nil
}

// Close is a no-op for the in-memory backend.
func (b *InMemoryBackend) Close() error {
	return nil
}

func fillNodeDefaults(node *Node) {
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now()
	}
	node.CreatedAt = node.CreatedAt.UTC()
	node.UpdatedAt = node.UpdatedAt.UTC()
	if node.UpdatedAt.IsZero() || node.UpdatedAt.Before(node.CreatedAt) {
		node.UpdatedAt = node.CreatedAt
	}
	if node.Properties == nil {
		node.Properties = Properties{}
	}
}

func fillEdgeDefaults(edge *Edge) {
	if edge.ID == uuid.Nil {
		edge.ID = uuid.New()
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = now()
	}
	edge.CreatedAt = edge.CreatedAt.UTC()
	if edge.Properties == nil {
		edge.Properties = Properties{}
	}
}

// prepareUpdate applies update rules shared by both backends: the stored
// creation time wins and UpdatedAt may not precede it.
func prepareUpdate(node *Node, createdAt time.Time) error {
	node.CreatedAt = createdAt
	node.UpdatedAt = node.UpdatedAt.UTC()
	if node.UpdatedAt.IsZero() {
		node.Touch()
	}
	if node.UpdatedAt.Before(createdAt) {
		return &ErrConstraint{Reason: "updated_at precedes created_at for node " + node.ID.String()}
	}
	if node.Properties == nil {
		node.Properties = Properties{}
	}
	return nil
}

var _ Backend = (*InMemoryBackend)(nil)
