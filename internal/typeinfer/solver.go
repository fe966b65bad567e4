// Package typeinfer is a small unification-based type solver.
//
// Statements register constraints on variable names (Bind, Propagate,
// Equate). Solve unifies them and returns the resolved Arrow type of every
// variable, or a *MismatchError when two constrained variables disagree.
package typeinfer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// TypeMap maps a variable name to its resolved Arrow type.
type TypeMap map[string]arrow.DataType

// IsString reports whether name resolved to a variable-length string type.
func (m TypeMap) IsString(name string) bool {
	t, ok := m[name]
	if !ok {
		return false
	}
	switch t.ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.STRING_VIEW:
		return true
	default:
		return false
	}
}

// ConstraintKind identifies how a constraint was registered.
type ConstraintKind int

const (
	// Bind pins a variable to a concrete type.
	Bind ConstraintKind = iota
	// Propagate flows the type of a source variable into a destination.
	Propagate
	// Equate requires two variables to have the same type.
	Equate
)

func (k ConstraintKind) String() string {
	switch k {
	case Bind:
		return "bind"
	case Propagate:
		return "propagate"
	case Equate:
		return "equate"
	default:
		return fmt.Sprintf("ConstraintKind(%d)", int(k))
	}
}

type constraint struct {
	kind ConstraintKind
	a, b string
	typ  arrow.DataType
}

// MismatchError reports two variables that were constrained to be equal but
// resolved to different types.
type MismatchError struct {
	Kind      ConstraintKind
	Left      string
	Right     string
	LeftType  arrow.DataType
	RightType arrow.DataType
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("type mismatch (%s): %s is %s but %s is %s",
		e.Kind, e.Left, e.LeftType, e.Right, e.RightType)
}

// UnresolvedError lists variables that no constraint ever typed.
type UnresolvedError struct {
	Vars []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved types for %s", strings.Join(e.Vars, ", "))
}

// Solver collects constraints and resolves them on Solve. The zero value is
// not usable; call NewSolver.
type Solver struct {
	constraints []constraint
	parent      map[string]string
	types       map[string]arrow.DataType
}

// NewSolver returns an empty solver.
func NewSolver() *Solver {
	return &Solver{}
}

// Bind pins name to typ.
func (s *Solver) Bind(name string, typ arrow.DataType) {
	s.constraints = append(s.constraints, constraint{kind: Bind, a: name, typ: typ})
}

// Propagate makes dst take the type of src.
func (s *Solver) Propagate(dst, src string) {
	s.constraints = append(s.constraints, constraint{kind: Propagate, a: dst, b: src})
}

// Equate requires a and b to share one type.
func (s *Solver) Equate(a, b string) {
	s.constraints = append(s.constraints, constraint{kind: Equate, a: a, b: b})
}

// Len returns the number of registered constraints.
func (s *Solver) Len() int {
	return len(s.constraints)
}

// Solve unifies the registered constraints in registration order.
func (s *Solver) Solve() (TypeMap, error) {
	s.parent = make(map[string]string)
	s.types = make(map[string]arrow.DataType)

	for _, c := range s.constraints {
		switch c.kind {
		case Bind:
			s.add(c.a)
			root := s.find(c.a)
			if prev, ok := s.types[root]; ok && !arrow.TypeEqual(prev, c.typ) {
				return nil, &MismatchError{Kind: Bind, Left: c.a, Right: c.a, LeftType: prev, RightType: c.typ}
			}
			s.types[root] = c.typ
		case Propagate, Equate:
			s.add(c.a)
			s.add(c.b)
			if err := s.unify(c); err != nil {
				return nil, err
			}
		}
	}

	out := make(TypeMap, len(s.parent))
	var unresolved []string
	for name := range s.parent {
		t, ok := s.types[s.find(name)]
		if !ok {
			unresolved = append(unresolved, name)
			continue
		}
		out[name] = t
	}
	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return nil, &UnresolvedError{Vars: unresolved}
	}
	return out, nil
}

func (s *Solver) unify(c constraint) error {
	ra, rb := s.find(c.a), s.find(c.b)
	if ra == rb {
		return nil
	}
	ta, okA := s.types[ra]
	tb, okB := s.types[rb]
	if okA && okB && !arrow.TypeEqual(ta, tb) {
		return &MismatchError{Kind: c.kind, Left: c.a, Right: c.b, LeftType: ta, RightType: tb}
	}
	s.parent[ra] = rb
	if okA && !okB {
		s.types[rb] = ta
	}
	delete(s.types, ra)
	return nil
}

func (s *Solver) add(name string) {
	if _, ok := s.parent[name]; !ok {
		s.parent[name] = name
	}
}

func (s *Solver) find(name string) string {
	root := name
	for s.parent[root] != root {
		root = s.parent[root]
	}
	for name != root {
		next := s.parent[name]
		s.parent[name] = root
		name = next
	}
	return root
}
