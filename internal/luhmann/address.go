// Package luhmann implements Zettelkasten-style hierarchical note
// addresses such as 1, 1a, 1a2 and 1a2b.
//
// An address is a sequence of segments alternating, by convention, between
// numbers and lowercase letters. Parsing is permissive: it never enforces
// alternation, so "11" is the single number 11 and "aa" is two letters.
package luhmann

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/richardanaya/agent-office/internal/graph"
)

// ErrInvalidAddress is returned by Parse when the input has no segments.
var ErrInvalidAddress = errors.New("invalid luhmann address")

// Segment is one component of an address: a number or a letter.
type Segment struct {
	letter byte // 0 for numeric segments
	number uint32
}

// Number returns a numeric segment.
func Number(n uint32) Segment { return Segment{number: n} }

// Letter returns a letter segment. c must be in a..z.
func Letter(c byte) Segment { return Segment{letter: c} }

func (s Segment) IsLetter() bool { return s.letter != 0 }

// Number returns the numeric value and whether s is numeric.
func (s Segment) Number() (uint32, bool) { return s.number, s.letter == 0 }

// Letter returns the letter and whether s is a letter.
func (s Segment) Letter() (byte, bool) { return s.letter, s.letter != 0 }

func (s Segment) String() string {
	if s.letter != 0 {
		return string(rune(s.letter))
	}
	return strconv.FormatUint(uint64(s.number), 10)
}

// compare orders numbers before letters, then by value.
func (s Segment) compare(o Segment) int {
	switch {
	case !s.IsLetter() && o.IsLetter():
		return -1
	case s.IsLetter() && !o.IsLetter():
		return 1
	case s.IsLetter():
		return int(s.letter) - int(o.letter)
	case s.number < o.number:
		return -1
	case s.number > o.number:
		return 1
	}
	return 0
}

// Address is an immutable hierarchical note address. The zero value is the
// empty address, which is not a valid note address but is the implicit
// root: its first child is "1".
type Address struct {
	segs []Segment
}

// New builds an address from segments.
func New(segs ...Segment) Address {
	return Address{segs: append([]Segment(nil), segs...)}
}

// Parse reads an address left to right. A maximal run of ASCII digits forms
// one numeric segment; each ASCII letter forms one lowercase letter segment;
// any other character is skipped. A digit run too large for uint32 is
// dropped. Parse fails only when no segment remains.
func Parse(s string) (Address, error) {
	var segs []Segment
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case '0' <= c && c <= '9':
			j := i
			for j < len(s) && '0' <= s[j] && s[j] <= '9' {
				j++
			}
			if n, err := strconv.ParseUint(s[i:j], 10, 32); err == nil {
				segs = append(segs, Number(uint32(n)))
			}
			i = j
		case 'a' <= c && c <= 'z':
			segs = append(segs, Letter(c))
			i++
		case 'A' <= c && c <= 'Z':
			segs = append(segs, Letter(c+('a'-'A')))
			i++
		default:
			i++
		}
	}
	if len(segs) == 0 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address{segs: segs}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String concatenates the segments, e.g. "1a2".
func (a Address) String() string {
	var b strings.Builder
	for _, s := range a.segs {
		b.WriteString(s.String())
	}
	return b.String()
}

// Segments returns a copy of the address segments.
func (a Address) Segments() []Segment {
	return append([]Segment(nil), a.segs...)
}

func (a Address) IsZero() bool { return len(a.segs) == 0 }

// Level is the number of segments.
func (a Address) Level() int { return len(a.segs) }

// Parent drops the last segment. Top-level and empty addresses have none.
func (a Address) Parent() (Address, bool) {
	if len(a.segs) <= 1 {
		return Address{}, false
	}
	return New(a.segs[:len(a.segs)-1]...), true
}

// NextSibling increments the last segment. There is no sibling after 'z'
// or after the largest number.
func (a Address) NextSibling() (Address, bool) {
	if len(a.segs) == 0 {
		return Address{}, false
	}
	last := a.segs[len(a.segs)-1]
	var next Segment
	if c, ok := last.Letter(); ok {
		if c >= 'z' {
			return Address{}, false
		}
		next = Letter(c + 1)
	} else {
		if last.number == math.MaxUint32 {
			return Address{}, false
		}
		next = Number(last.number + 1)
	}
	return a.with(len(a.segs)-1, next), true
}

// FirstChild appends 'a' after a number, or 1 after a letter or to the
// empty address.
func (a Address) FirstChild() Address {
	if len(a.segs) > 0 && !a.segs[len(a.segs)-1].IsLetter() {
		return a.with(len(a.segs), Letter('a'))
	}
	return a.with(len(a.segs), Number(1))
}

// InsertBetween returns an address that sorts between a and its sibling
// next, which is a's first child. It fails when the two are not siblings.
func (a Address) InsertBetween(next Address) (Address, bool) {
	pa, _ := a.Parent()
	pn, _ := next.Parent()
	if !pa.Equal(pn) || a.IsZero() {
		return Address{}, false
	}
	return a.FirstChild(), true
}

// with returns a copy of a whose segment at i is s; i may equal Level to
// append.
func (a Address) with(i int, s Segment) Address {
	segs := make([]Segment, max(i+1, len(a.segs)))
	copy(segs, a.segs)
	segs[i] = s
	return Address{segs: segs}
}

// IsDescendantOf reports whether a is strictly deeper than o and starts
// with all of o's segments.
func (a Address) IsDescendantOf(o Address) bool {
	if len(o.segs) >= len(a.segs) {
		return false
	}
	for i, s := range o.segs {
		if a.segs[i] != s {
			return false
		}
	}
	return true
}

// Equal reports whether both addresses have identical segments.
func (a Address) Equal(o Address) bool {
	return a.Compare(o) == 0
}

// Compare orders addresses segment by segment, numbers before letters, and
// a prefix before its extensions: 1 < 1a < 1a1 < 1b < 2 < 10.
func (a Address) Compare(o Address) int {
	for i := 0; i < len(a.segs) && i < len(o.segs); i++ {
		if c := a.segs[i].compare(o.segs[i]); c != 0 {
			return c
		}
	}
	return len(a.segs) - len(o.segs)
}

// NodeID is the graph node ID for the note at this address.
func (a Address) NodeID() uuid.UUID {
	return graph.DeriveID(a.String())
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
