// Package shape tracks which arrays are known to have equal length.
//
// Every array variable is mapped to a size symbol, and size symbols are
// grouped into equivalence classes with a union-find structure. Two arrays
// have provably equal length when their size symbols are in the same class.
package shape

import (
	"fmt"
	"sort"
	"strings"
)

// EquivSet is the shape equivalence registry shared by the analyses of one
// program. It is not safe for concurrent use.
type EquivSet struct {
	parent  map[string]string
	rank    map[string]int
	shapes  map[string]string
	defined map[string]bool
}

// New returns an empty equivalence registry.
func New() *EquivSet {
	return &EquivSet{
		parent:  make(map[string]string),
		rank:    make(map[string]int),
		shapes:  make(map[string]string),
		defined: make(map[string]bool),
	}
}

// SizeSymbol returns the symbol used for the length of arr when no explicit
// size variable has been recorded.
func SizeSymbol(arr string) string {
	return arr + "#len"
}

// HasShape reports whether a size symbol has been recorded for arr.
func (e *EquivSet) HasShape(arr string) bool {
	_, ok := e.shapes[arr]
	return ok
}

// GetShape returns the size symbol of arr, recording an implicit one when
// none exists yet.
func (e *EquivSet) GetShape(arr string) string {
	if s, ok := e.shapes[arr]; ok {
		return s
	}
	s := SizeSymbol(arr)
	e.shapes[arr] = s
	e.add(s)
	return s
}

// SetShape records size as the length of arr. If arr already had a size
// symbol the two symbols are merged.
func (e *EquivSet) SetShape(arr, size string) {
	e.add(size)
	if prev, ok := e.shapes[arr]; ok {
		e.union(prev, size)
		return
	}
	e.shapes[arr] = size
}

// InsertEquiv asserts that all sizes are equal. It reports whether any two
// previously distinct classes were merged.
func (e *EquivSet) InsertEquiv(sizes ...string) bool {
	if len(sizes) == 0 {
		return false
	}
	merged := false
	e.add(sizes[0])
	for _, s := range sizes[1:] {
		e.add(s)
		if e.union(sizes[0], s) {
			merged = true
		}
	}
	return merged
}

// Define marks arr as defined by a statement of the program.
func (e *EquivSet) Define(arr string) {
	e.defined[arr] = true
}

// IsDefined reports whether Define was called for arr.
func (e *EquivSet) IsDefined(arr string) bool {
	return e.defined[arr]
}

// IsEquiv reports whether arrays a and b have provably equal length.
func (e *EquivSet) IsEquiv(a, b string) bool {
	sa, ok := e.shapes[a]
	if !ok {
		return false
	}
	sb, ok := e.shapes[b]
	if !ok {
		return false
	}
	return e.find(sa) == e.find(sb)
}

// Class returns the sorted arrays whose length is equivalent to arr's,
// including arr itself. It returns nil when arr has no recorded shape.
func (e *EquivSet) Class(arr string) []string {
	s, ok := e.shapes[arr]
	if !ok {
		return nil
	}
	root := e.find(s)
	var out []string
	for a, sym := range e.shapes {
		if e.find(sym) == root {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

// Classes returns every equivalence class of arrays, each sorted, ordered by
// their first member.
func (e *EquivSet) Classes() [][]string {
	groups := make(map[string][]string)
	for a, sym := range e.shapes {
		root := e.find(sym)
		groups[root] = append(groups[root], a)
	}
	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		sort.Strings(g)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func (e *EquivSet) String() string {
	parts := make([]string, 0)
	for _, c := range e.Classes() {
		parts = append(parts, fmt.Sprintf("{%s}", strings.Join(c, ", ")))
	}
	return strings.Join(parts, " ")
}

func (e *EquivSet) add(s string) {
	if _, ok := e.parent[s]; !ok {
		e.parent[s] = s
	}
}

func (e *EquivSet) find(s string) string {
	root := s
	for e.parent[root] != root {
		root = e.parent[root]
	}
	for s != root {
		next := e.parent[s]
		e.parent[s] = root
		s = next
	}
	return root
}

func (e *EquivSet) union(a, b string) bool {
	ra, rb := e.find(a), e.find(b)
	if ra == rb {
		return false
	}
	switch {
	case e.rank[ra] < e.rank[rb]:
		e.parent[ra] = rb
	case e.rank[ra] > e.rank[rb]:
		e.parent[rb] = ra
	default:
		e.parent[rb] = ra
		e.rank[ra]++
	}
	return true
}
