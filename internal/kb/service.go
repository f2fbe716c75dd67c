package kb

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"
	"golang.org/x/sync/errgroup"

	"github.com/richardanaya/agent-office/internal/graph"
	"github.com/richardanaya/agent-office/internal/luhmann"
)

// listPageSize bounds each search page while listing every note.
const listPageSize = 500

// Service manages notes on top of a graph backend. It is shared by every
// agent; notes are addressed only by their Luhmann address.
type Service struct {
	backend graph.Backend
	author  string
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAuthor records who creates notes through this service.
func WithAuthor(author string) Option {
	return func(s *Service) { s.author = author }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a knowledge-base service over backend.
func NewService(backend graph.Backend, opts ...Option) *Service {
	s := &Service{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "kb")
	return s
}

// CreateNote creates a note at the next top-level address.
//
// The counter is read, used and written back without a transaction, so
// concurrent callers can be handed the same address; the loser gets
// ErrNoteExists. An address already taken by CreateNoteWithID is also
// reported as ErrNoteExists and the counter still advances past it.
func (s *Service) CreateNote(ctx context.Context, title, content string, tags ...string) (*Note, error) {
	addr, err := s.nextMainAddress(ctx)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, addr, title, content, tags)
}

// CreateNoteWithID creates a note at a caller-chosen address.
func (s *Service) CreateNoteWithID(ctx context.Context, addr luhmann.Address, title, content string, tags ...string) (*Note, error) {
	return s.create(ctx, addr, title, content, tags)
}

// CreateBranch creates a child of parent at the address after its last
// existing child and links it back to the parent.
func (s *Service) CreateBranch(ctx context.Context, parent luhmann.Address, title, content string, tags ...string) (*Note, error) {
	if _, err := s.GetNote(ctx, parent); err != nil {
		return nil, err
	}

	addr, err := s.nextChildAddress(ctx, parent)
	if err != nil {
		return nil, err
	}

	note, err := s.create(ctx, addr, title, content, tags)
	if err != nil {
		return nil, err
	}

	edge := graph.NewEdge(EdgeReferences, addr.NodeID(), parent.NodeID(), graph.Properties{
		"context": graph.String(fmt.Sprintf("Branch of %s", parent)),
	})
	if err := s.backend.CreateEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("link branch %s to %s: %w", addr, parent, err)
	}
	return note, nil
}

func (s *Service) create(ctx context.Context, addr luhmann.Address, title, content string, tags []string) (*Note, error) {
	if addr.IsZero() {
		return nil, fmt.Errorf("create note: %w", luhmann.ErrInvalidAddress)
	}
	if tags == nil {
		tags = []string{}
	}
	note := &Note{
		Address:   addr,
		ID:        addr.NodeID(),
		Title:     title,
		Content:   content,
		CreatedBy: s.author,
		Tags:      tags,
	}
	node := note.toNode()
	if err := s.backend.CreateNode(ctx, node); err != nil {
		if graph.IsAlreadyExists(err) {
			return nil, noteExists(addr)
		}
		return nil, fmt.Errorf("create note %s: %w", addr, err)
	}
	note.CreatedAt, note.UpdatedAt = node.CreatedAt, node.UpdatedAt

	s.logger.Debug("created note", "address", addr.String(), "title", title)
	return note, nil
}

// nextMainAddress allocates the next top-level number from the counter
// node, creating the counter at 1 on first use.
func (s *Service) nextMainAddress(ctx context.Context) (luhmann.Address, error) {
	counter, err := s.backend.GetNode(ctx, CounterID)
	if graph.IsNotFound(err) {
		counter = graph.NewNodeWithID(CounterID, CounterType, graph.Properties{
			"next_main_id": graph.Int(1),
		})
		err = s.backend.CreateNode(ctx, counter)
		if graph.IsAlreadyExists(err) {
			counter, err = s.backend.GetNode(ctx, CounterID)
		}
	}
	if err != nil {
		return luhmann.Address{}, fmt.Errorf("read note counter: %w", err)
	}

	next := int64(1)
	if v, ok := counter.Properties.Get("next_main_id"); ok {
		if n, ok := v.AsInt(); ok && n > 0 {
			next = n
		}
	}
	if next > math.MaxUint32 {
		return luhmann.Address{}, fmt.Errorf("%w: counter at %d", ErrCounterExhausted, next)
	}

	counter.Set("next_main_id", graph.Int(next+1))
	if err := s.backend.UpdateNode(ctx, counter); err != nil {
		return luhmann.Address{}, fmt.Errorf("update note counter: %w", err)
	}
	return luhmann.New(luhmann.Number(uint32(next))), nil
}

// nextChildAddress is the sibling after parent's greatest child, or the
// first child when there are none. A last child at 'z' gets a child of its
// own instead.
func (s *Service) nextChildAddress(ctx context.Context, parent luhmann.Address) (luhmann.Address, error) {
	children, err := s.children(ctx, parent)
	if err != nil {
		return luhmann.Address{}, err
	}
	if len(children) == 0 {
		return parent.FirstChild(), nil
	}
	last := children[len(children)-1].Address
	if next, ok := last.NextSibling(); ok {
		return next, nil
	}
	return last.FirstChild(), nil
}

// GetNote returns the note at addr.
func (s *Service) GetNote(ctx context.Context, addr luhmann.Address) (*Note, error) {
	node, err := s.backend.GetNode(ctx, addr.NodeID())
	if err != nil {
		if graph.IsNotFound(err) {
			return nil, noteNotFound(addr)
		}
		return nil, fmt.Errorf("get note %s: %w", addr, err)
	}
	note, ok := noteFromNode(node)
	if !ok {
		return nil, noteNotFound(addr)
	}
	return note, nil
}

// NoteUpdate holds the fields UpdateNote changes; nil fields are kept.
type NoteUpdate struct {
	Title   *string
	Content *string
	Tags    []string
}

// UpdateNote applies update to the note at addr.
func (s *Service) UpdateNote(ctx context.Context, addr luhmann.Address, update NoteUpdate) (*Note, error) {
	note, err := s.GetNote(ctx, addr)
	if err != nil {
		return nil, err
	}
	if update.Title != nil {
		note.Title = *update.Title
	}
	if update.Content != nil {
		note.Content = *update.Content
	}
	if update.Tags != nil {
		note.Tags = update.Tags
	}

	node := note.toNode()
	node.Touch()
	if err := s.backend.UpdateNode(ctx, node); err != nil {
		if graph.IsNotFound(err) {
			return nil, noteNotFound(addr)
		}
		return nil, fmt.Errorf("update note %s: %w", addr, err)
	}
	note.UpdatedAt = node.UpdatedAt
	return note, nil
}

// DeleteNote removes the note at addr together with its links.
func (s *Service) DeleteNote(ctx context.Context, addr luhmann.Address) error {
	if err := s.backend.DeleteNode(ctx, addr.NodeID()); err != nil {
		if graph.IsNotFound(err) {
			return noteNotFound(addr)
		}
		return fmt.Errorf("delete note %s: %w", addr, err)
	}
	s.logger.Debug("deleted note", "address", addr.String())
	return nil
}

// ListNotes returns every note sorted by address.
func (s *Service) ListNotes(ctx context.Context) ([]*Note, error) {
	notes := []*Note{}
	q := graph.SearchQuery{
		NodeTypes: []string{NoteType},
		OrderBy:   graph.OrderByCreatedAt,
		Direction: graph.Asc,
		Limit:     listPageSize,
	}
	for {
		page, err := s.backend.Search(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list notes: %w", err)
		}
		notes = append(notes, notesFromNodes(page.Items)...)
		if !page.HasMore {
			break
		}
		q.Offset += q.Limit
	}
	sortNotes(notes)
	return notes, nil
}

// ListByPrefix returns the note at prefix and all of its descendants.
func (s *Service) ListByPrefix(ctx context.Context, prefix luhmann.Address) ([]*Note, error) {
	return s.filter(ctx, func(n *Note) bool {
		return n.Address.Equal(prefix) || n.Address.IsDescendantOf(prefix)
	})
}

// SearchNotes returns notes whose title, content or a tag contains query,
// ignoring case.
func (s *Service) SearchNotes(ctx context.Context, query string) ([]*Note, error) {
	query = strings.ToLower(query)
	return s.filter(ctx, func(n *Note) bool {
		if strings.Contains(strings.ToLower(n.Title), query) ||
			strings.Contains(strings.ToLower(n.Content), query) {
			return true
		}
		return slices.ContainsFunc(n.Tags, func(tag string) bool {
			return strings.Contains(strings.ToLower(tag), query)
		})
	})
}

// FindByTitle fuzzy-matches pattern against note titles, as in "grstor"
// for "Graph storage". Best matches come first; at most limit notes are
// returned when limit is positive.
func (s *Service) FindByTitle(ctx context.Context, pattern string, limit int) ([]*Note, error) {
	notes, err := s.ListNotes(ctx)
	if err != nil {
		return nil, err
	}
	titles := make([]string, len(notes))
	for i, n := range notes {
		titles[i] = n.Title
	}

	matches := fuzzy.Find(pattern, titles)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	found := make([]*Note, len(matches))
	for i, m := range matches {
		found[i] = notes[m.Index]
	}
	return found, nil
}

func (s *Service) children(ctx context.Context, parent luhmann.Address) ([]*Note, error) {
	return s.filter(ctx, func(n *Note) bool {
		p, ok := n.Address.Parent()
		return ok && p.Equal(parent)
	})
}

func (s *Service) filter(ctx context.Context, keep func(*Note) bool) ([]*Note, error) {
	notes, err := s.ListNotes(ctx)
	if err != nil {
		return nil, err
	}
	out := notes[:0]
	for _, n := range notes {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

func sortNotes(notes []*Note) {
	slices.SortFunc(notes, func(a, b *Note) int {
		return cmp.Or(a.Address.Compare(b.Address), a.CreatedAt.Compare(b.CreatedAt))
	})
}

// LinkNotes adds a "references" link from one note to another. A non-empty
// why is stored as the link context.
func (s *Service) LinkNotes(ctx context.Context, from, to luhmann.Address, why string) error {
	props := graph.Properties{}
	if why != "" {
		props["context"] = graph.String(why)
	}
	return s.link(ctx, EdgeReferences, from, to, props)
}

// MarkContinuation records that the note at from continues on the note at to.
func (s *Service) MarkContinuation(ctx context.Context, from, to luhmann.Address) error {
	return s.link(ctx, EdgeContinues, from, to, graph.Properties{
		"context": graph.String("Continues on next note"),
	})
}

func (s *Service) link(ctx context.Context, edgeType string, from, to luhmann.Address, props graph.Properties) error {
	if from.Equal(to) {
		return ErrSelfLink
	}
	for _, addr := range []luhmann.Address{from, to} {
		if _, err := s.GetNote(ctx, addr); err != nil {
			return err
		}
	}

	edge := graph.NewEdge(edgeType, from.NodeID(), to.NodeID(), props)
	if err := s.backend.CreateEdge(ctx, edge); err != nil {
		return fmt.Errorf("link %s -> %s: %w", from, to, err)
	}
	s.logger.Debug("linked notes", "type", edgeType, "from", from.String(), "to", to.String())
	return nil
}

// GetLinks returns the "references" links leaving the note at addr.
func (s *Service) GetLinks(ctx context.Context, addr luhmann.Address) ([]Link, error) {
	edges, err := s.backend.GetEdgesFrom(ctx, addr.NodeID(), EdgeReferences)
	if err != nil {
		return nil, fmt.Errorf("get links of %s: %w", addr, err)
	}

	links := make([]Link, 0, len(edges))
	for _, edge := range edges {
		target, err := s.noteByID(ctx, edge.To)
		if err != nil {
			return nil, err
		}
		if target == nil {
			continue
		}
		links = append(links, Link{
			From:    addr,
			To:      target.Address,
			Type:    edge.Type,
			Context: edge.Properties.GetString("context"),
		})
	}
	return links, nil
}

// noteByID returns nil without error when the node is gone or not a note.
func (s *Service) noteByID(ctx context.Context, id uuid.UUID) (*Note, error) {
	node, err := s.backend.GetNode(ctx, id)
	if err != nil {
		if graph.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	note, _ := noteFromNode(node)
	return note, nil
}

// CreateIndex creates the index note of parent at "<parent>0", listing its
// direct children.
func (s *Service) CreateIndex(ctx context.Context, parent luhmann.Address) (*Note, error) {
	parentNote, err := s.GetNote(ctx, parent)
	if err != nil {
		return nil, err
	}
	children, err := s.children(ctx, parent)
	if err != nil {
		return nil, err
	}

	indexAddr, err := luhmann.Parse(parent.String() + "0")
	if err != nil {
		return nil, fmt.Errorf("index address of %s: %w", parent, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Index: %s\n\n", parentNote.Title)
	fmt.Fprintf(&b, "Parent note: [[%s]]\n\n", parent)
	b.WriteString("Children:\n\n")
	if len(children) == 0 {
		b.WriteString("(No children)\n")
	}
	for _, child := range children {
		fmt.Fprintf(&b, "- [[%s]]: %s\n", child.Address, child.Title)
	}

	index, err := s.create(ctx, indexAddr, "Index: "+parentNote.Title, b.String(), nil)
	if err != nil {
		return nil, err
	}

	edge := graph.NewEdge(EdgeChildOf, indexAddr.NodeID(), parent.NodeID(), graph.Properties{
		"context": graph.String("Index of children"),
	})
	if err := s.backend.CreateEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("link index %s to %s: %w", indexAddr, parent, err)
	}
	return index, nil
}

// NoteContext is a note with everything directly related to it.
type NoteContext struct {
	Note          *Note   `json:"note"`
	Parent        *Note   `json:"parent,omitempty"`
	Children      []*Note `json:"children"`
	LinksTo       []*Note `json:"links_to"`
	Backlinks     []*Note `json:"backlinks"`
	ContinuesTo   []*Note `json:"continues_to"`
	ContinuedFrom []*Note `json:"continued_from"`
}

// Context gathers the parent, children, links and continuations of a note.
// The lookups run concurrently.
func (s *Service) Context(ctx context.Context, addr luhmann.Address) (*NoteContext, error) {
	note, err := s.GetNote(ctx, addr)
	if err != nil {
		return nil, err
	}
	nc := &NoteContext{Note: note}
	id := addr.NodeID()

	g, gctx := errgroup.WithContext(ctx)
	if parent, ok := addr.Parent(); ok {
		g.Go(func() error {
			p, err := s.noteByID(gctx, parent.NodeID())
			nc.Parent = p
			return err
		})
	}
	g.Go(func() (err error) {
		nc.Children, err = s.children(gctx, addr)
		return err
	})
	g.Go(func() (err error) {
		nc.LinksTo, err = s.edgeNotes(gctx, id, graph.Outgoing, EdgeReferences)
		return err
	})
	g.Go(func() (err error) {
		nc.Backlinks, err = s.edgeNotes(gctx, id, graph.Incoming, EdgeReferences)
		return err
	})
	g.Go(func() (err error) {
		nc.ContinuesTo, err = s.edgeNotes(gctx, id, graph.Outgoing, EdgeContinues)
		return err
	})
	g.Go(func() (err error) {
		nc.ContinuedFrom, err = s.edgeNotes(gctx, id, graph.Incoming, EdgeContinues)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("context of %s: %w", addr, err)
	}
	return nc, nil
}

// edgeNotes returns the notes joined to id by edges of edgeType, one per
// edge, newest edge first.
func (s *Service) edgeNotes(ctx context.Context, id uuid.UUID, dir graph.Direction, edgeType string) ([]*Note, error) {
	var (
		edges []*graph.Edge
		err   error
	)
	if dir == graph.Incoming {
		edges, err = s.backend.GetEdgesTo(ctx, id, edgeType)
	} else {
		edges, err = s.backend.GetEdgesFrom(ctx, id, edgeType)
	}
	if err != nil {
		return nil, err
	}

	notes := []*Note{}
	for _, edge := range edges {
		note, err := s.noteByID(ctx, edge.Other(id))
		if err != nil {
			return nil, err
		}
		if note != nil {
			notes = append(notes, note)
		}
	}
	return notes, nil
}
