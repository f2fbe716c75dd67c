package kb

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardanaya/agent-office/internal/graph"
	"github.com/richardanaya/agent-office/internal/luhmann"
)

func backends() map[string]func(t *testing.T) graph.Backend {
	return map[string]func(t *testing.T) graph.Backend{
		"memory": func(t *testing.T) graph.Backend {
			return graph.NewInMemoryBackend()
		},
		"sqlite": func(t *testing.T) graph.Backend {
			b, err := graph.NewSQLiteBackend(context.Background(), graph.SQLiteBackendOptions{})
			require.NoError(t, err)
			return b
		},
	}
}

func newService(t *testing.T, newBackend func(t *testing.T) graph.Backend) (*Service, graph.Backend) {
	t.Helper()
	backend := newBackend(t)
	t.Cleanup(func() { backend.Close() })
	return NewService(backend, WithAuthor("agent-1")), backend
}

func addr(s string) luhmann.Address { return luhmann.MustParse(s) }

func addresses(notes []*Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.Address.String()
	}
	return out
}

func TestService(t *testing.T) {
	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			runServiceTests(t, newBackend)
		})
	}
}

func runServiceTests(t *testing.T, newBackend func(t *testing.T) graph.Backend) {
	t.Run("CreateNote_AutoNumbers", func(t *testing.T) {
		kb, backend := newService(t, newBackend)
		ctx := context.Background()

		first, err := kb.CreateNote(ctx, "First Note", "Content 1", "intro")
		require.NoError(t, err)
		assert.Equal(t, "1", first.Address.String())
		assert.Equal(t, []string{"intro"}, first.Tags)
		assert.Equal(t, "agent-1", first.CreatedBy)

		second, err := kb.CreateNote(ctx, "Second Note", "Content 2")
		require.NoError(t, err)
		assert.Equal(t, "2", second.Address.String())
		assert.Equal(t, graph.DeriveID("2"), second.ID)

		counter, err := backend.GetNode(ctx, CounterID)
		require.NoError(t, err)
		assert.Equal(t, CounterType, counter.Type)
		next, _ := counter.Properties.Get("next_main_id")
		n, _ := next.AsInt()
		assert.Equal(t, int64(3), n)
	})

	t.Run("CreateNote_CounterExhausted", func(t *testing.T) {
		kb, backend := newService(t, newBackend)
		ctx := context.Background()

		require.NoError(t, backend.CreateNode(ctx, graph.NewNodeWithID(CounterID, CounterType, graph.Properties{
			"next_main_id": graph.Int(math.MaxUint32),
		})))

		last, err := kb.CreateNote(ctx, "Last", "")
		require.NoError(t, err)
		assert.Equal(t, "4294967295", last.Address.String())

		_, err = kb.CreateNote(ctx, "One too many", "")
		require.ErrorIs(t, err, ErrCounterExhausted)

		notes, err := kb.ListNotes(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"4294967295"}, addresses(notes))
	})

	t.Run("CreateNote_TakenAddress", func(t *testing.T) {
		kb, _ := newService(t, newBackend)
		ctx := context.Background()

		_, err := kb.CreateNoteWithID(ctx, addr("1"), "Manual", "Content")
		require.NoError(t, err)

		_, err = kb.CreateNote(ctx, "Auto", "Content")
		assert.ErrorIs(t, err, ErrNoteExists)

		// The counter moved on, so the next call succeeds.
		note, err := kb.CreateNote(ctx, "Auto", "Content")
		require.NoError(t, err)
		assert.Equal(t, "2", note.Address.String())
	})

	t.Run("CreateNoteWithID_Duplicate", func(t *testing.T) {
		kb, _ := newService(t, newBackend)
		ctx := context.Background()

		note, err := kb.CreateNoteWithID(ctx, addr("1a"), "Note 1a", "Content")
		require.NoError(t, err)
		assert.Equal(t, "1a", note.Address.String())

		_, err = kb.CreateNoteWithID(ctx, addr("1a"), "Again", "Content")
		assert.ErrorIs(t, err, ErrNoteExists)

		_, err = kb.CreateNoteWithID(ctx, luhmann.Address{}, "Empty", "Content")
		assert.ErrorIs(t, err, luhmann.ErrInvalidAddress)
	})

	t.Run("CreateBranch", func(t *testing.T) {
		kb, backend := newService(t, newBackend)
		ctx := context.Background()

		_, err := kb.CreateNoteWithID(ctx, addr("1"), "Parent", "Parent content")
		require.NoError(t, err)

		child, err := kb.CreateBranch(ctx, addr("1"), "Child", "Child content")
		require.NoError(t, err)
		assert.Equal(t, "1a", child.Address.String())

		child2, err := kb.CreateBranch(ctx, addr("1"), "Child 2", "Child content 2")
		require.NoError(t, err)
		assert.Equal(t, "1b", child2.Address.String())

		grandchild, err := kb.CreateBranch(ctx, addr("1a"), "Grandchild", "Deeper")
		require.NoError(t, err)
		assert.Equal(t, "1a1", grandchild.Address.String())

		edges, err := backend.GetEdgesFrom(ctx, child.ID, EdgeReferences)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, graph.DeriveID("1"), edges[0].To)
		assert.Equal(t, "Branch of 1", edges[0].Properties.GetString("context"))

		_, err = kb.CreateBranch(ctx, addr("9"), "Orphan", "No parent")
		assert.ErrorIs(t, err, ErrNoteNotFound)
	})

	t.Run("CreateBranch_AfterZ", func(t *testing.T) {
		kb, _ := newService(t, newBackend)
		ctx := context.Background()

		_, err := kb.CreateNoteWithID(ctx, addr("1"), "Parent", "")
		require.NoError(t, err)
		_, err = kb.CreateNoteWithID(ctx, addr("1z"), "Last letter", "")
		require.NoError(t, err)

		next, err := kb.CreateBranch(ctx, addr("1"), "Overflow", "")
		require.NoError(t, err)
		assert.Equal(t, "1z1", next.Address.String())
	})

	t.Run("GetUpdateDelete", func(t *testing.T) {
		kb, _ := newService(t, newBackend)
		ctx := context.Background()

		created, err := kb.CreateNote(ctx, "Test", "Content", "a", "b")
		require.NoError(t, err)

		got, err := kb.GetNote(ctx, created.Address)
		require.NoError(t, err)
		assert.Equal(t, "Test", got.Title)
		assert.Equal(t, "Content", got.Content)
		assert.Equal(t, []string{"a", "b"}, got.Tags)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

		title := "Renamed"
		updated, err := kb.UpdateNote(ctx, created.Address, NoteUpdate{Title: &title, Tags: []string{"c"}})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", updated.Title)
		assert.Equal(t, "Content", updated.Content)
		assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

		got, err = kb.GetNote(ctx, created.Address)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Title)
		assert.Equal(t, []string{"c"}, got.Tags)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

		require.NoError(t, kb.DeleteNote(ctx, created.Address))
		_, err = kb.GetNote(ctx, created.Address)
		assert.ErrorIs(t, err, ErrNoteNotFound)
		assert.ErrorIs(t, kb.DeleteNote(ctx, created.Address), ErrNoteNotFound)

		_, err = kb.UpdateNote(ctx, created.Address, NoteUpdate{Title: &title})
		assert.ErrorIs(t, err, ErrNoteNotFound)
	})

	t.Run("GetNote_NotANote", func(t *testing.T) {
		kb, backend := newService(t, newBackend)
		ctx := context.Background()

		require.NoError(t, backend.CreateNode(ctx, graph.NewNodeWithID(graph.DeriveID("5"), "agent", nil)))
		_, err := kb.GetNote(ctx, addr("5"))
		assert.ErrorIs(t, err, ErrNoteNotFound)
	})

	t.Run("ListNotes_SortedByAddress", func(t *testing.T) {
		kb, _ := newService(t, newBackend)
		ctx := context.Background()

		for _, a := range []string{"2", "10", "1", "1a", "1a1", "1b"} {
			_, err := kb.CreateNoteWithID(ctx, addr(a), "Note "+a, "Content")
			require.NoError(t, err)
		}
		_, err := kb.CreateNote(ctx, "Counter touched", "")
		require.Error(t, err)

		notes, err := kb.ListNotes(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "1a", "1a1", "1b", "2", "10"}, addresses(notes))

		prefixed, err := kb.ListByPrefix(ctx, addr("1a"))
		require.NoError(t, err)
		assert.Equal(t, []string{"1a", "1a1"}, addresses(prefixed))
	})

	t.Run("SearchNotes", func(t *testing.T) {
		kb, _ := newService(t, newBackend)
		ctx := context.Background()

		_, err := kb.CreateNote(ctx, "Rust Programming", "A systems language")
		require.NoError(t, err)
		_, err = kb.CreateNote(ctx, "Python Basics", "Easy to learn", "scripting")
		require.NoError(t, err)
		_, err = kb.CreateNote(ctx, "Rust vs Go", "Comparison")
		require.NoError(t, err)

		results, err := kb.SearchNotes(ctx, "rust")
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "3"}, addresses(results))

		byTag, err := kb.SearchNotes(ctx, "SCRIPT")
		require.NoError(t, err)
		assert.Equal(t, []string{"2"}, addresses(byTag))

		none, err := kb.SearchNotes(ctx, "haskell")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("FindByTitle", func(t *testing.T) {
		kb, _ := newService(t, newBackend)
		ctx := context.Background()

		for _, title := range []string{"Rust Programming", "Python Basics", "Rust vs Go"} {
			_, err := kb.CreateNote(ctx, title, "")
			require.NoError(t, err)
		}

		found, err := kb.FindByTitle(ctx, "Rvs", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"3"}, addresses(found))

		found, err = kb.FindByTitle(ctx, "Rust", 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"1", "3"}, addresses(found))

		found, err = kb.FindByTitle(ctx, "Rust", 1)
		require.NoError(t, err)
		assert.Len(t, found, 1)

		found, err = kb.FindByTitle(ctx, "zzz", 0)
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("LinkNotes", func(t *testing.T) {
		kb, _ := newService(t, newBackend)
		ctx := context.Background()

		note1, err := kb.CreateNote(ctx, "First", "Content")
		require.NoError(t, err)
		note2, err := kb.CreateNote(ctx, "Second", "Content")
		require.NoError(t, err)

		require.NoError(t, kb.LinkNotes(ctx, note1.Address, note2.Address, "See also"))

		links, err := kb.GetLinks(ctx, note1.Address)
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, "2", links[0].To.String())
		assert.Equal(t, EdgeReferences, links[0].Type)
		assert.Equal(t, "See also", links[0].Context)

		assert.ErrorIs(t, kb.LinkNotes(ctx, note1.Address, note1.Address, ""), ErrSelfLink)
		assert.ErrorIs(t, kb.LinkNotes(ctx, note1.Address, addr("42"), ""), ErrNoteNotFound)
	})

	t.Run("MarkContinuation", func(t *testing.T) {
		kb, _ := newService(t, newBackend)
		ctx := context.Background()

		_, err := kb.CreateNoteWithID(ctx, addr("1"), "First", "Content 1")
		require.NoError(t, err)
		_, err = kb.CreateNoteWithID(ctx, addr("2"), "Second", "Content 2")
		require.NoError(t, err)

		require.NoError(t, kb.MarkContinuation(ctx, addr("1"), addr("2")))
		assert.ErrorIs(t, kb.MarkContinuation(ctx, addr("1"), addr("1")), ErrSelfLink)

		nc, err := kb.Context(ctx, addr("2"))
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, addresses(nc.ContinuedFrom))
		assert.Empty(t, nc.ContinuesTo)
	})

	t.Run("CreateIndex", func(t *testing.T) {
		kb, backend := newService(t, newBackend)
		ctx := context.Background()

		for a, title := range map[string]string{
			"1":   "Parent Note",
			"1a":  "First Child",
			"1b":  "Second Child",
			"1a1": "Grandchild",
		} {
			_, err := kb.CreateNoteWithID(ctx, addr(a), title, "Content")
			require.NoError(t, err)
		}

		index, err := kb.CreateIndex(ctx, addr("1"))
		require.NoError(t, err)
		assert.Equal(t, "10", index.Address.String())
		assert.Equal(t, "Index: Parent Note", index.Title)
		assert.Contains(t, index.Content, "- [[1a]]: First Child\n- [[1b]]: Second Child\n")
		assert.NotContains(t, index.Content, "1a1")

		edges, err := backend.GetEdgesFrom(ctx, index.ID, EdgeChildOf)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, graph.DeriveID("1"), edges[0].To)

		_, err = kb.CreateIndex(ctx, addr("1"))
		assert.ErrorIs(t, err, ErrNoteExists)

		empty, err := kb.CreateIndex(ctx, addr("1b"))
		require.NoError(t, err)
		assert.Equal(t, "1b0", empty.Address.String())
		assert.Contains(t, empty.Content, "(No children)")
	})

	t.Run("Context", func(t *testing.T) {
		kb, _ := newService(t, newBackend)
		ctx := context.Background()

		_, err := kb.CreateNoteWithID(ctx, addr("1"), "Root", "")
		require.NoError(t, err)
		_, err = kb.CreateBranch(ctx, addr("1"), "Branch A", "")
		require.NoError(t, err)
		_, err = kb.CreateBranch(ctx, addr("1"), "Branch B", "")
		require.NoError(t, err)
		_, err = kb.CreateNoteWithID(ctx, addr("2"), "Other", "")
		require.NoError(t, err)
		require.NoError(t, kb.LinkNotes(ctx, addr("1a"), addr("2"), "related"))
		require.NoError(t, kb.LinkNotes(ctx, addr("2"), addr("1a"), ""))
		require.NoError(t, kb.MarkContinuation(ctx, addr("1a"), addr("1b")))

		nc, err := kb.Context(ctx, addr("1a"))
		require.NoError(t, err)
		assert.Equal(t, "Branch A", nc.Note.Title)
		require.NotNil(t, nc.Parent)
		assert.Equal(t, "1", nc.Parent.Address.String())
		assert.Empty(t, nc.Children)
		assert.ElementsMatch(t, []string{"1", "2"}, addresses(nc.LinksTo))
		assert.Equal(t, []string{"2"}, addresses(nc.Backlinks))
		assert.Equal(t, []string{"1b"}, addresses(nc.ContinuesTo))
		assert.Empty(t, nc.ContinuedFrom)

		root, err := kb.Context(ctx, addr("1"))
		require.NoError(t, err)
		assert.Nil(t, root.Parent)
		assert.Equal(t, []string{"1a", "1b"}, addresses(root.Children))
		assert.ElementsMatch(t, []string{"1a", "1b"}, addresses(root.Backlinks))

		_, err = kb.Context(ctx, addr("7"))
		assert.ErrorIs(t, err, ErrNoteNotFound)
	})

	t.Run("DeleteNote_RemovesLinks", func(t *testing.T) {
		kb, backend := newService(t, newBackend)
		ctx := context.Background()

		_, err := kb.CreateNoteWithID(ctx, addr("1"), "A", "")
		require.NoError(t, err)
		_, err = kb.CreateNoteWithID(ctx, addr("2"), "B", "")
		require.NoError(t, err)
		require.NoError(t, kb.LinkNotes(ctx, addr("1"), addr("2"), ""))

		require.NoError(t, kb.DeleteNote(ctx, addr("2")))

		links, err := kb.GetLinks(ctx, addr("1"))
		require.NoError(t, err)
		assert.Empty(t, links)
		edges, err := backend.GetEdgesFrom(ctx, graph.DeriveID("1"), "")
		require.NoError(t, err)
		assert.Empty(t, edges)
	})
}

// TestCreateNote_ConcurrentCounter exercises the unsynchronized counter:
// every call either gets a fresh address or ErrNoteExists, never a
// duplicate note.
func TestCreateNote_ConcurrentCounter(t *testing.T) {
	kb := NewService(graph.NewInMemoryBackend())
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			note, err := kb.CreateNote(ctx, "concurrent", "")
			if err != nil {
				assert.ErrorIs(t, err, ErrNoteExists)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[note.Address.String()])
			seen[note.Address.String()] = true
		}()
	}
	wg.Wait()

	notes, err := kb.ListNotes(ctx)
	require.NoError(t, err)
	assert.Len(t, notes, len(seen))
}
