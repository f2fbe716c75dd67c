// Package kb stores Zettelkasten notes as graph nodes addressed by Luhmann
// addresses, with typed links between them.
package kb

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/richardanaya/agent-office/internal/graph"
	"github.com/richardanaya/agent-office/internal/luhmann"
)

// Node and edge types written by the knowledge base.
const (
	NoteType    = "note"
	CounterType = "kb_counter"

	EdgeReferences = "references"
	EdgeContinues  = "continues"
	EdgeChildOf    = "child_of"
)

// CounterID is the node holding the next top-level note number.
var CounterID = graph.DeriveID("__kb_counter__")

var (
	ErrNoteNotFound = errors.New("note not found")
	ErrNoteExists   = errors.New("note already exists")
	ErrSelfLink     = errors.New("cannot link note to itself")

	// ErrCounterExhausted is returned once every top-level number is used.
	ErrCounterExhausted = errors.New("top-level note numbers exhausted")
)

func noteNotFound(addr luhmann.Address) error {
	return fmt.Errorf("%w: %s", ErrNoteNotFound, addr)
}

func noteExists(addr luhmann.Address) error {
	return fmt.Errorf("%w: %s", ErrNoteExists, addr)
}

// Note is an atomic knowledge-base entry.
type Note struct {
	Address   luhmann.Address `json:"address"`
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	CreatedBy string          `json:"created_by,omitempty"`
	Tags      []string        `json:"tags"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Link is a typed connection from one note to another.
type Link struct {
	From    luhmann.Address `json:"from"`
	To      luhmann.Address `json:"to"`
	Type    string          `json:"type"`
	Context string          `json:"context,omitempty"`
}

func (n *Note) properties() graph.Properties {
	props := graph.Properties{
		"title":      graph.String(n.Title),
		"content":    graph.String(n.Content),
		"luhmann_id": graph.String(n.Address.String()),
		"tags":       graph.Strings(n.Tags...),
	}
	if n.CreatedBy != "" {
		props["created_by"] = graph.String(n.CreatedBy)
	}
	return props
}

func (n *Note) toNode() *graph.Node {
	node := graph.NewNodeWithID(n.Address.NodeID(), NoteType, n.properties())
	if !n.CreatedAt.IsZero() {
		node.CreatedAt = n.CreatedAt
		node.UpdatedAt = n.UpdatedAt
	}
	return node
}

// noteFromNode reads a note back from its node. Nodes of another type or
// without a title, content and address are not notes.
func noteFromNode(node *graph.Node) (*Note, bool) {
	if node == nil || node.Type != NoteType {
		return nil, false
	}
	title, ok := stringProperty(node.Properties, "title")
	if !ok {
		return nil, false
	}
	content, ok := stringProperty(node.Properties, "content")
	if !ok {
		return nil, false
	}
	addr, err := luhmann.Parse(node.Properties.GetString("luhmann_id"))
	if err != nil {
		return nil, false
	}
	tagsValue, _ := node.Properties.Get("tags")
	tags, _ := tagsValue.AsStrings()
	if tags == nil {
		tags = []string{}
	}
	return &Note{
		Address:   addr,
		ID:        node.ID,
		Title:     title,
		Content:   content,
		CreatedBy: node.Properties.GetString("created_by"),
		Tags:      tags,
		CreatedAt: node.CreatedAt,
		UpdatedAt: node.UpdatedAt,
	}, true
}

func stringProperty(props graph.Properties, key string) (string, bool) {
	v, ok := props.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

func notesFromNodes(nodes []*graph.Node) []*Note {
	notes := make([]*Note, 0, len(nodes))
	for _, node := range nodes {
		if note, ok := noteFromNode(node); ok {
			notes = append(notes, note)
		}
	}
	return notes
}
