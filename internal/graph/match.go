package graph

import (
	"bytes"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// nodeMatcher evaluates a SearchQuery against nodes in memory. Text and
// property matching run over the encoded property map, the same document
// the SQLite backend stores, so both backends agree on what matches.
type nodeMatcher struct {
	q    SearchQuery
	text string
	keys []string
}

func newNodeMatcher(q SearchQuery) *nodeMatcher {
	keys := make([]string, 0, len(q.PropertyFilters))
	for k := range q.PropertyFilters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return &nodeMatcher{q: q, text: asciiLower(q.Text), keys: keys}
}

func (m *nodeMatcher) match(n *Node) (bool, error) {
	q := m.q
	if len(q.NodeTypes) > 0 && !slices.Contains(q.NodeTypes, n.Type) {
		return false, nil
	}
	if !q.CreatedAfter.IsZero() && n.CreatedAt.Before(q.CreatedAfter) {
		return false, nil
	}
	if !q.CreatedBefore.IsZero() && n.CreatedAt.After(q.CreatedBefore) {
		return false, nil
	}
	if !q.UpdatedAfter.IsZero() && n.UpdatedAt.Before(q.UpdatedAfter) {
		return false, nil
	}
	if !q.UpdatedBefore.IsZero() && n.UpdatedAt.After(q.UpdatedBefore) {
		return false, nil
	}
	if m.text == "" && len(m.keys) == 0 {
		return true, nil
	}

	raw, err := n.Properties.Encode()
	if err != nil {
		return false, err
	}
	if m.text != "" && !strings.Contains(asciiLower(string(raw)), m.text) {
		return false, nil
	}
	for _, key := range m.keys {
		if !propertyTextEquals(raw, key, q.PropertyFilters[key]) {
			return false, nil
		}
	}
	return true, nil
}

// propertyTextEquals looks up key in an encoded property map and compares
// the text form of its tagged value with want.
func propertyTextEquals(raw []byte, key, want string) bool {
	res := gjson.GetBytes(raw, gjson.Escape(key))
	if !res.IsObject() {
		return false
	}
	matched := false
	res.ForEach(func(_, v gjson.Result) bool {
		text, ok := jsonText(v)
		matched = ok && text == want
		return false
	})
	return matched
}

func jsonText(v gjson.Result) (string, bool) {
	switch v.Type {
	case gjson.String:
		return v.Str, true
	case gjson.Number:
		return v.Raw, true
	case gjson.True:
		return "true", true
	case gjson.False:
		return "false", true
	case gjson.Null:
		return "null", true
	default:
		return "", false
	}
}

// compareNodes orders nodes by the query's sort key, breaking ties on ID.
func compareNodes(q SearchQuery, a, b *Node) int {
	var c int
	if q.OrderBy == OrderByCreatedAt {
		c = a.CreatedAt.Compare(b.CreatedAt)
	} else {
		c = a.UpdatedAt.Compare(b.UpdatedAt)
	}
	if c == 0 {
		c = bytes.Compare(a.ID[:], b.ID[:])
	}
	if q.Direction == Desc {
		c = -c
	}
	return c
}

// compareEdgesNewestFirst is the listing order for edges.
func compareEdgesNewestFirst(a, b *Edge) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return bytes.Compare(b.ID[:], a.ID[:])
}

// asciiLower folds only ASCII letters, matching SQLite's LOWER().
func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}
