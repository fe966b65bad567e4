// Package ir is the dataflow representation that distributed joins are
// compiled from.
//
// A Program is a straight-line list of statements over column variables.
// The statement set is closed: Source, Assign, Len, Join and Return are the
// only implementations of Stmt, and every analysis is a method on the
// statement rather than a lookup in a registry.
package ir

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"
	"github.com/paveg/distjoin/internal/dist"
	"github.com/paveg/distjoin/internal/shape"
	"github.com/paveg/distjoin/internal/typeinfer"
)

// Stmt is one operator of a Program.
type Stmt interface {
	fmt.Stringer

	// UseDefs returns the variables read and written by the statement.
	UseDefs() (use, def VarSet)
	// VisitVars rewrites every referenced variable through fn.
	VisitVars(fn RenameFunc)
	// Copies returns the copies generated (dst name to src) and the
	// variables killed by the statement.
	Copies() (gen map[string]*Var, kill VarSet)
	// ApplyCopies replaces uses of variables found in repl.
	ApplyCopies(repl map[string]*Var)
	// RemoveDead prunes outputs not in live. A nil result means the whole
	// statement is dead.
	RemoveDead(live VarSet) Stmt
	// InferTypes registers type constraints on s.
	InferTypes(s *typeinfer.Solver)
	// AnalyzeShapes records length equivalences and returns any statements
	// that must be inserted after this one to compute new sizes.
	AnalyzeShapes(eq *shape.EquivSet, types typeinfer.TypeMap) []Stmt
	// AnalyzeDistribution tightens labels in m and reports whether any
	// label changed.
	AnalyzeDistribution(m *dist.Map) bool

	stmt()
}

// Source binds the columns of an input table.
type Source struct {
	Table string
	Cols  *ColumnMap
	Types map[string]arrow.DataType
	Dist  dist.Distribution
}

func (*Source) stmt() {}

func (s *Source) String() string {
	return fmt.Sprintf("source %s [%s]: %s", s.Table, s.Dist, s.Cols)
}

func (s *Source) UseDefs() (use, def VarSet) {
	def = make(VarSet)
	def.Add(s.Cols.Vars()...)
	return make(VarSet), def
}

func (s *Source) VisitVars(fn RenameFunc) {
	s.Cols.Rewrite(fn)
}

func (s *Source) Copies() (map[string]*Var, VarSet) {
	kill := make(VarSet)
	kill.Add(s.Cols.Vars()...)
	return nil, kill
}

func (s *Source) ApplyCopies(map[string]*Var) {}

func (s *Source) RemoveDead(live VarSet) Stmt {
	for _, name := range s.Cols.Names() {
		v, _ := s.Cols.Get(name)
		if !live.Has(v) {
			s.Cols.Delete(name)
		}
	}
	if s.Cols.Len() == 0 {
		return nil
	}
	return s
}

func (s *Source) InferTypes(solver *typeinfer.Solver) {
	s.Cols.Each(func(name string, v *Var) {
		t, ok := s.Types[name]
		if !ok {
			panic(errors.AssertionFailedf("source %s: no type for column %q", s.Table, name))
		}
		solver.Bind(v.Name, t)
	})
}

func (s *Source) AnalyzeShapes(eq *shape.EquivSet, types typeinfer.TypeMap) []Stmt {
	var sizes []string
	s.Cols.Each(func(_ string, v *Var) {
		eq.Define(v.Name)
		if !types.IsString(v.Name) {
			sizes = append(sizes, eq.GetShape(v.Name))
		}
	})
	eq.InsertEquiv(sizes...)
	return nil
}

// AnalyzeDistribution gives every column of the table one label: the meet
// of the declared layout and anything already assigned.
func (s *Source) AnalyzeDistribution(m *dist.Map) bool {
	d := s.Dist
	for _, v := range s.Cols.Vars() {
		if cur, ok := m.Get(v.Name); ok {
			d = dist.Meet(d, cur)
		}
	}
	changed := false
	for _, v := range s.Cols.Vars() {
		if m.Tighten(v.Name, d) {
			changed = true
		}
	}
	return changed
}

// Assign copies Src into Dst.
type Assign struct {
	Dst *Var
	Src *Var
}

func (*Assign) stmt() {}

func (a *Assign) String() string {
	return fmt.Sprintf("%s = %s", a.Dst, a.Src)
}

func (a *Assign) UseDefs() (use, def VarSet) {
	return NewVarSet(a.Src.Name), NewVarSet(a.Dst.Name)
}

func (a *Assign) VisitVars(fn RenameFunc) {
	a.Dst = fn(a.Dst)
	a.Src = fn(a.Src)
}

func (a *Assign) Copies() (map[string]*Var, VarSet) {
	return map[string]*Var{a.Dst.Name: a.Src}, NewVarSet(a.Dst.Name)
}

func (a *Assign) ApplyCopies(repl map[string]*Var) {
	if r, ok := repl[a.Src.Name]; ok {
		a.Src = r
	}
}

func (a *Assign) RemoveDead(live VarSet) Stmt {
	if !live.Has(a.Dst) {
		return nil
	}
	return a
}

func (a *Assign) InferTypes(s *typeinfer.Solver) {
	s.Propagate(a.Dst.Name, a.Src.Name)
}

func (a *Assign) AnalyzeShapes(eq *shape.EquivSet, types typeinfer.TypeMap) []Stmt {
	eq.Define(a.Dst.Name)
	if types.IsString(a.Src.Name) {
		return nil
	}
	eq.SetShape(a.Dst.Name, eq.GetShape(a.Src.Name))
	return nil
}

func (a *Assign) AnalyzeDistribution(m *dist.Map) bool {
	d := dist.OneD
	if cur, ok := m.Get(a.Src.Name); ok {
		d = cur
	}
	if cur, ok := m.Get(a.Dst.Name); ok {
		d = dist.Meet(d, cur)
	}
	c1 := m.Tighten(a.Src.Name, d)
	c2 := m.Tighten(a.Dst.Name, d)
	return c1 || c2
}

// Len computes the row count of Src into the scalar Dst.
type Len struct {
	Dst *Var
	Src *Var
}

func (*Len) stmt() {}

func (l *Len) String() string {
	return fmt.Sprintf("%s = len(%s)", l.Dst, l.Src)
}

func (l *Len) UseDefs() (use, def VarSet) {
	return NewVarSet(l.Src.Name), NewVarSet(l.Dst.Name)
}

func (l *Len) VisitVars(fn RenameFunc) {
	l.Dst = fn(l.Dst)
	l.Src = fn(l.Src)
}

func (l *Len) Copies() (map[string]*Var, VarSet) {
	return nil, NewVarSet(l.Dst.Name)
}

func (l *Len) ApplyCopies(repl map[string]*Var) {
	if r, ok := repl[l.Src.Name]; ok {
		l.Src = r
	}
}

func (l *Len) RemoveDead(live VarSet) Stmt {
	if !live.Has(l.Dst) {
		return nil
	}
	return l
}

func (l *Len) InferTypes(s *typeinfer.Solver) {
	s.Bind(l.Dst.Name, arrow.PrimitiveTypes.Int64)
}

func (l *Len) AnalyzeShapes(*shape.EquivSet, typeinfer.TypeMap) []Stmt { return nil }

func (l *Len) AnalyzeDistribution(*dist.Map) bool { return false }

// Return exposes the columns of a table as a program result. A non-nil
// Require forces the layout of the returned columns.
type Return struct {
	Table   string
	Cols    *ColumnMap
	Require *dist.Distribution
}

func (*Return) stmt() {}

func (r *Return) String() string {
	if r.Require != nil {
		return fmt.Sprintf("return %s [%s]: %s", r.Table, *r.Require, r.Cols)
	}
	return fmt.Sprintf("return %s: %s", r.Table, r.Cols)
}

func (r *Return) UseDefs() (use, def VarSet) {
	use = make(VarSet)
	use.Add(r.Cols.Vars()...)
	return use, make(VarSet)
}

func (r *Return) VisitVars(fn RenameFunc) {
	r.Cols.Rewrite(fn)
}

func (r *Return) Copies() (map[string]*Var, VarSet) { return nil, nil }

func (r *Return) ApplyCopies(repl map[string]*Var) {
	r.Cols.Rewrite(func(v *Var) *Var {
		if n, ok := repl[v.Name]; ok {
			return n
		}
		return v
	})
}

// RemoveDead keeps a Return unconditionally; its uses are the roots of
// liveness.
func (r *Return) RemoveDead(VarSet) Stmt { return r }

func (r *Return) InferTypes(*typeinfer.Solver) {}

func (r *Return) AnalyzeShapes(*shape.EquivSet, typeinfer.TypeMap) []Stmt { return nil }

func (r *Return) AnalyzeDistribution(m *dist.Map) bool {
	if r.Require == nil {
		return false
	}
	changed := false
	for _, v := range r.Cols.Vars() {
		if m.Tighten(v.Name, *r.Require) {
			changed = true
		}
	}
	return changed
}
