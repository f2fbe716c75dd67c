package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Backend defines the interface for graph storage backends.
// Implementations include SQLiteBackend for persistence and InMemoryBackend
// for tests and ephemeral use.
type Backend interface {
	// Node operations
	CreateNode(ctx context.Context, node *Node) error
	GetNode(ctx context.Context, id uuid.UUID) (*Node, error)
	UpdateNode(ctx context.Context, node *Node) error
	DeleteNode(ctx context.Context, id uuid.UUID) error

	// Edge operations. An empty edgeType matches every type.
	CreateEdge(ctx context.Context, edge *Edge) error
	GetEdge(ctx context.Context, id uuid.UUID) (*Edge, error)
	DeleteEdge(ctx context.Context, id uuid.UUID) error
	GetEdgesFrom(ctx context.Context, nodeID uuid.UUID, edgeType string) ([]*Edge, error)
	GetEdgesTo(ctx context.Context, nodeID uuid.UUID, edgeType string) ([]*Edge, error)
	GetNeighbors(ctx context.Context, nodeID uuid.UUID, edgeType string, dir Direction) ([]*Node, error)

	// Search operations
	Search(ctx context.Context, q SearchQuery) (*SearchResults[*Node], error)
	CountNodes(ctx context.Context, q SearchQuery) (int, error)

	// Stats returns node and edge counts.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases backend resources.
	Close() error
}

// Direction selects which edges of a node GetNeighbors follows.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	case Both:
		return "both"
	}
	return "unknown"
}

// ParseDirection accepts out/outgoing, in/incoming and both.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "out", "outgoing":
		return Outgoing, true
	case "in", "incoming":
		return Incoming, true
	case "both", "any":
		return Both, true
	}
	return 0, false
}

// OrderBy selects the search sort key.
type OrderBy int

const (
	OrderByUpdatedAt OrderBy = iota
	OrderByCreatedAt
	// OrderByRelevance has no scoring yet and sorts like OrderByUpdatedAt.
	OrderByRelevance
)

// SortDirection selects ascending or descending order.
type SortDirection int

const (
	Desc SortDirection = iota
	Asc
)

// DefaultSearchLimit applies when SearchQuery.Limit is not positive.
const DefaultSearchLimit = 50

// SearchQuery filters, orders and paginates nodes. The zero value matches
// every node, newest update first, 50 per page.
type SearchQuery struct {
	NodeTypes []string
	// Text is matched case-insensitively against the serialized properties.
	Text string

	// Time bounds are inclusive; zero values are unset.
	CreatedAfter  time.Time
	CreatedBefore time.Time
	UpdatedAfter  time.Time
	UpdatedBefore time.Time

	// PropertyFilters maps a property key to the exact text form its value
	// must have (see Value.Text).
	PropertyFilters map[string]string

	OrderBy   OrderBy
	Direction SortDirection
	Limit     int
	Offset    int
}

// normalized returns q with pagination defaults applied.
func (q SearchQuery) normalized() SearchQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// SearchResults is one page of a search.
type SearchResults[T any] struct {
	Items         []T  `json:"items"`
	TotalCount    int  `json:"total_count"`
	ReturnedCount int  `json:"returned_count"`
	HasMore       bool `json:"has_more"`
	Limit         int  `json:"limit"`
	Offset        int  `json:"offset"`
}

func newSearchResults[T any](items []T, total int, q SearchQuery) *SearchResults[T] {
	if items == nil {
		items = []T{}
	}
	return &SearchResults[T]{
		Items:         items,
		TotalCount:    total,
		ReturnedCount: len(items),
		HasMore:       total > q.Offset+q.Limit,
		Limit:         q.Limit,
		Offset:        q.Offset,
	}
}

// MapResults converts the items of a page, keeping the pagination fields.
func MapResults[T, U any](r *SearchResults[T], fn func(T) U) *SearchResults[U] {
	items := make([]U, len(r.Items))
	for i, item := range r.Items {
		items[i] = fn(item)
	}
	return &SearchResults[U]{
		Items:         items,
		TotalCount:    r.TotalCount,
		ReturnedCount: len(items),
		HasMore:       r.HasMore,
		Limit:         r.Limit,
		Offset:        r.Offset,
	}
}

// Stats contains store statistics.
type Stats struct {
	NodeCount   int64            `json:"node_count"`
	EdgeCount   int64            `json:"edge_count"`
	NodesByType map[string]int64 `json:"nodes_by_type"`
	EdgesByType map[string]int64 `json:"edges_by_type"`
}
