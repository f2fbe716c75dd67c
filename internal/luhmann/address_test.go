package luhmann

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/richardanaya/agent-office/internal/graph"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want []Segment
	}{
		{"1", []Segment{Number(1)}},
		{"1a", []Segment{Number(1), Letter('a')}},
		{"1a2b", []Segment{Number(1), Letter('a'), Number(2), Letter('b')}},
		{"11", []Segment{Number(11)}},
		{"aa", []Segment{Letter('a'), Letter('a')}},
		{"1A", []Segment{Number(1), Letter('a')}},
		{"1.a-2", []Segment{Number(1), Letter('a'), Number(2)}},
		{"007", []Segment{Number(7)}},
		{"99999999999a", []Segment{Letter('a')}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Segments())
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "-./", "99999999999"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidAddress, in)
	}
	assert.Panics(t, func() { MustParse("") })
}

func TestAddress_String(t *testing.T) {
	assert.Equal(t, "1a2", MustParse("1a2").String())
	assert.Equal(t, "1a", MustParse(" 1 A ").String())
	assert.Equal(t, "", Address{}.String())
}

func TestAddress_Parent(t *testing.T) {
	parent, ok := MustParse("1a2").Parent()
	require.True(t, ok)
	assert.Equal(t, "1a", parent.String())

	parent, ok = MustParse("1a").Parent()
	require.True(t, ok)
	assert.Equal(t, "1", parent.String())

	_, ok = MustParse("1").Parent()
	assert.False(t, ok)
	_, ok = Address{}.Parent()
	assert.False(t, ok)
}

func TestAddress_NextSibling(t *testing.T) {
	cases := map[string]string{
		"1":   "2",
		"9":   "10",
		"1a":  "1b",
		"1a2": "1a3",
		"1y":  "1z",
	}
	for in, want := range cases {
		got, ok := MustParse(in).NextSibling()
		require.True(t, ok, in)
		assert.Equal(t, want, got.String(), in)
	}

	_, ok := MustParse("1z").NextSibling()
	assert.False(t, ok)
	_, ok = New(Number(math.MaxUint32)).NextSibling()
	assert.False(t, ok)
	_, ok = Address{}.NextSibling()
	assert.False(t, ok)
}

func TestAddress_FirstChild(t *testing.T) {
	assert.Equal(t, "1a", MustParse("1").FirstChild().String())
	assert.Equal(t, "1a1", MustParse("1a").FirstChild().String())
	assert.Equal(t, "1a1a", MustParse("1a1").FirstChild().String())
	assert.Equal(t, "1", Address{}.FirstChild().String())
}

func TestAddress_LevelAndDescendant(t *testing.T) {
	assert.Equal(t, 1, MustParse("12").Level())
	assert.Equal(t, 4, MustParse("1a2b").Level())

	root := MustParse("1a")
	assert.True(t, MustParse("1a2").IsDescendantOf(root))
	assert.True(t, MustParse("1a2b").IsDescendantOf(root))
	assert.False(t, root.IsDescendantOf(root))
	assert.False(t, MustParse("1b2").IsDescendantOf(root))
	assert.False(t, MustParse("1").IsDescendantOf(root))
	assert.True(t, MustParse("1").IsDescendantOf(Address{}))
}

func TestAddress_Compare(t *testing.T) {
	sorted := []string{"1", "1a", "1a1", "1a2", "1a10", "1b", "2", "10"}
	shuffled := []Address{}
	for _, i := range []int{5, 0, 7, 3, 1, 6, 2, 4} {
		shuffled = append(shuffled, MustParse(sorted[i]))
	}
	slices.SortFunc(shuffled, Address.Compare)

	var got []string
	for _, a := range shuffled {
		got = append(got, a.String())
	}
	assert.Equal(t, sorted, got)

	// Numbers sort before letters at the same position.
	assert.Negative(t, New(Number(1), Number(1)).Compare(MustParse("1a")))
	// "11" is the single number eleven and sorts after every address under 1.
	assert.Positive(t, MustParse("11").Compare(MustParse("1a")))
	assert.True(t, MustParse("1A").Equal(MustParse("1a")))
}

func TestAddress_InsertBetween(t *testing.T) {
	mid, ok := MustParse("1").InsertBetween(MustParse("2"))
	require.True(t, ok)
	assert.Equal(t, "1a", mid.String())

	mid, ok = MustParse("1a").InsertBetween(MustParse("1b"))
	require.True(t, ok)
	assert.Equal(t, "1a1", mid.String())
	assert.Positive(t, mid.Compare(MustParse("1a")))
	assert.Negative(t, mid.Compare(MustParse("1b")))

	_, ok = MustParse("1a").InsertBetween(MustParse("2b"))
	assert.False(t, ok)
}

func TestAddress_NodeID(t *testing.T) {
	assert.Equal(t, graph.DeriveID("1a"), MustParse("1A").NodeID())
	assert.Equal(t, "b04965e6-a9bb-591f-8f8a-1adcb2c8dc39", MustParse("1").NodeID().String())
}

func TestAddress_TextMarshaling(t *testing.T) {
	type doc struct {
		Addr Address `json:"addr"`
	}
	raw, err := json.Marshal(doc{Addr: MustParse("3c4")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"addr":"3c4"}`, string(raw))

	var back doc
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "3c4", back.Addr.String())

	assert.Error(t, json.Unmarshal([]byte(`{"addr":"--"}`), &back))
}

func canonicalAddress() *rapid.Generator[Address] {
	return rapid.Custom(func(t *rapid.T) Address {
		n := rapid.IntRange(1, 6).Draw(t, "levels")
		segs := make([]Segment, n)
		for i := range segs {
			if i%2 == 0 {
				segs[i] = Number(rapid.Uint32Range(1, 500).Draw(t, "num"))
			} else {
				segs[i] = Letter(rapid.ByteRange('a', 'z').Draw(t, "letter"))
			}
		}
		return New(segs...)
	})
}

func TestProperty_ParseStringRoundtrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := canonicalAddress().Draw(t, "addr")
		back, err := Parse(a.String())
		require.NoError(t, err)
		assert.Equal(t, a.Segments(), back.Segments())
	})
}

func TestProperty_Hierarchy(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := canonicalAddress().Draw(t, "addr")

		child := a.FirstChild()
		assert.Equal(t, a.Level()+1, child.Level())
		assert.True(t, child.IsDescendantOf(a))
		parent, ok := child.Parent()
		require.True(t, ok)
		assert.True(t, parent.Equal(a))
		assert.Negative(t, a.Compare(child))

		if next, ok := a.NextSibling(); ok {
			assert.Equal(t, a.Level(), next.Level())
			assert.Negative(t, a.Compare(next))
			assert.Negative(t, child.Compare(next))

			mid, ok := a.InsertBetween(next)
			require.True(t, ok)
			assert.Negative(t, a.Compare(mid))
			assert.Negative(t, mid.Compare(next))
		}
	})
}

func TestProperty_CompareIsTotalOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := canonicalAddress().Draw(t, "a")
		b := canonicalAddress().Draw(t, "b")

		assert.Equal(t, sign(a.Compare(b)), -sign(b.Compare(a)))
		assert.Equal(t, a.Compare(b) == 0, a.String() == b.String())
	})
}

func TestProperty_ParseNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.String().Draw(t, "in")
		a, err := Parse(in)
		if err != nil {
			return
		}
		// Re-parsing may merge adjacent digit runs once, then it is stable.
		once, err := Parse(a.String())
		if err != nil {
			return
		}
		twice, err := Parse(once.String())
		require.NoError(t, err)
		assert.Equal(t, once.Segments(), twice.Segments(), strconv.Quote(in))
	})
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
