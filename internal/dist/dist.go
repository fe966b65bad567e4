// Package dist implements the distribution lattice that classifies how the
// rows of a column are laid out across workers.
//
// The lattice is totally ordered: REP < OneDVar < OneD. Labels held in a Map
// only ever move down the lattice, which is what lets the compiler iterate
// the distribution analysis to a fixpoint.
package dist

import (
	"fmt"
	"sort"
	"strings"
)

// Distribution is a position in the distribution lattice.
type Distribution int

const (
	// REP means every worker holds the full column.
	REP Distribution = iota
	// OneDVar means rows are partitioned across workers in blocks of
	// arbitrary size.
	OneDVar
	// OneD means rows are partitioned across workers in contiguous blocks of
	// (nearly) equal size.
	OneD
)

// String returns the canonical name of the distribution.
func (d Distribution) String() string {
	switch d {
	case REP:
		return "REP"
	case OneDVar:
		return "OneD_Var"
	case OneD:
		return "OneD"
	default:
		return fmt.Sprintf("Distribution(%d)", int(d))
	}
}

// Valid reports whether d is one of the three lattice elements.
func (d Distribution) Valid() bool {
	return d >= REP && d <= OneD
}

// Partitioned reports whether rows are split across workers.
func (d Distribution) Partitioned() bool {
	return d != REP
}

// Parse converts a distribution name into a Distribution. Matching is case
// insensitive and accepts both "OneD_Var" and "1D_Var" spellings.
func Parse(s string) (Distribution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rep", "replicated":
		return REP, nil
	case "oned_var", "1d_var", "onedvar":
		return OneDVar, nil
	case "oned", "1d":
		return OneD, nil
	}
	return REP, fmt.Errorf("unknown distribution %q", s)
}

// Meet returns the greatest lower bound of ds, i.e. the most restrictive
// distribution. The meet of no labels is OneD, the top of the lattice.
func Meet(ds ...Distribution) Distribution {
	out := OneD
	for _, d := range ds {
		if d < out {
			out = d
		}
	}
	return out
}

// Map holds the distribution label of every column variable, keyed by
// variable name. The zero value is not usable; call NewMap.
//
// Map is not safe for concurrent use. Analyses run on a single goroutine.
type Map struct {
	labels map[string]Distribution
}

// NewMap returns an empty distribution map.
func NewMap() *Map {
	return &Map{labels: make(map[string]Distribution)}
}

// Get returns the label of name and whether it has been assigned.
func (m *Map) Get(name string) (Distribution, bool) {
	d, ok := m.labels[name]
	return d, ok
}

// Tighten moves the label of name down to d. An unassigned name takes d
// directly; an assigned name takes Meet(current, d). It reports whether the
// stored label changed.
func (m *Map) Tighten(name string, d Distribution) bool {
	cur, ok := m.labels[name]
	if !ok {
		m.labels[name] = d
		return true
	}
	if d < cur {
		m.labels[name] = d
		return true
	}
	return false
}

// Len returns the number of labelled variables.
func (m *Map) Len() int {
	return len(m.labels)
}

// Snapshot returns a copy of the labels.
func (m *Map) Snapshot() map[string]Distribution {
	out := make(map[string]Distribution, len(m.labels))
	for k, v := range m.labels {
		out[k] = v
	}
	return out
}

// String renders the map sorted by variable name.
func (m *Map) String() string {
	names := make([]string, 0, len(m.labels))
	for k := range m.labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s:%s", k, m.labels[k])
	}
	sb.WriteByte('}')
	return sb.String()
}
