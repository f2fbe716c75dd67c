// Package graph provides the property-graph store: nodes and typed directed
// edges with tagged property maps, pluggable backends, traversal and search.
package graph

import (
	"time"

	"github.com/google/uuid"
)

// Namespace is the UUIDv5 namespace used to derive node IDs from string keys.
var Namespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// DeriveID returns the deterministic node ID for a string key.
func DeriveID(key string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(key))
}

// Node is a vertex in the graph.
type Node struct {
	ID         uuid.UUID  `json:"id"`
	Type       string     `json:"node_type"`
	Properties Properties `json:"properties"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewNode creates a node with a random ID.
func NewNode(nodeType string, props Properties) *Node {
	return NewNodeWithID(uuid.New(), nodeType, props)
}

// NewNodeWithID creates a node with a caller-chosen ID, usually from DeriveID.
func NewNodeWithID(id uuid.UUID, nodeType string, props Properties) *Node {
	now := now()
	if props == nil {
		props = Properties{}
	}
	return &Node{
		ID:         id,
		Type:       nodeType,
		Properties: props,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Set stores a property and refreshes UpdatedAt.
func (n *Node) Set(key string, v Value) {
	if n.Properties == nil {
		n.Properties = Properties{}
	}
	n.Properties[key] = v
	n.Touch()
}

// Touch moves UpdatedAt to now, never before CreatedAt.
func (n *Node) Touch() {
	t := now()
	if t.Before(n.CreatedAt) {
		t = n.CreatedAt
	}
	n.UpdatedAt = t
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	c := *n
	c.Properties = n.Properties.Clone()
	return &c
}

// Edge is a directed, typed relationship between two nodes.
type Edge struct {
	ID         uuid.UUID  `json:"id"`
	Type       string     `json:"edge_type"`
	From       uuid.UUID  `json:"from_node_id"`
	To         uuid.UUID  `json:"to_node_id"`
	Properties Properties `json:"properties"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NewEdge creates an edge with a random ID.
func NewEdge(edgeType string, from, to uuid.UUID, props Properties) *Edge {
	if props == nil {
		props = Properties{}
	}
	return &Edge{
		ID:         uuid.New(),
		Type:       edgeType,
		From:       from,
		To:         to,
		Properties: props,
		CreatedAt:  now(),
	}
}

// Other returns the endpoint opposite id.
func (e *Edge) Other(id uuid.UUID) uuid.UUID {
	if e.From == id {
		return e.To
	}
	return e.From
}

func (e *Edge) Clone() *Edge {
	c := *e
	c.Properties = e.Properties.Clone()
	return &c
}

// timeLayout is fixed width so that lexical order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func now() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
