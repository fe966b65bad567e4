package ir

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/paveg/distjoin/internal/dist"
	"github.com/paveg/distjoin/internal/shape"
	"github.com/paveg/distjoin/internal/typeinfer"
)

// Join is an inner equi-join of two tables on a single key column per side.
//
// Left and Right hold the input columns still needed from each side, Out the
// columns the join produces. An Out name refers to the Left column of the same
// name when there is one, otherwise to the Right column. When both keys share
// a name the key appears once in Out.
type Join struct {
	OutTable   string
	LeftTable  string
	RightTable string
	LeftKey    string
	RightKey   string

	Out   *ColumnMap
	Left  *ColumnMap
	Right *ColumnMap

	// LeftKeyDead and RightKeyDead record that no consumer reads the key
	// output. The key input is kept because the shuffle needs it.
	LeftKeyDead  bool
	RightKeyDead bool

	Catalog Catalog
}

// NewJoin builds a join node and panics if its invariants do not hold.
func NewJoin(
	outTable, leftTable, rightTable, leftKey, rightKey string,
	out, left, right *ColumnMap,
	catalog Catalog,
) *Join {
	j := &Join{
		OutTable:   outTable,
		LeftTable:  leftTable,
		RightTable: rightTable,
		LeftKey:    leftKey,
		RightKey:   rightKey,
		Out:        out,
		Left:       left,
		Right:      right,
		Catalog:    catalog,
	}
	j.check()
	return j
}

func (j *Join) check() {
	if !j.Left.Has(j.LeftKey) {
		panic(errors.AssertionFailedf("join %s: left key %q missing from left columns", j.OutTable, j.LeftKey))
	}
	if !j.Right.Has(j.RightKey) {
		panic(errors.AssertionFailedf("join %s: right key %q missing from right columns", j.OutTable, j.RightKey))
	}
	for _, name := range j.Out.Names() {
		if !j.Left.Has(name) && !j.Right.Has(name) {
			panic(errors.AssertionFailedf("join %s: output column %q has no input", j.OutTable, name))
		}
	}
}

func (*Join) stmt() {}

func (j *Join) String() string {
	return fmt.Sprintf("join [%s=%s]: out%s, left%s, right%s",
		j.LeftKey, j.RightKey, j.Out, j.Left, j.Right)
}

// Input returns the variable an output column is gathered from and whether it
// comes from the left side.
func (j *Join) Input(name string) (v *Var, left bool) {
	if v, ok := j.Left.Get(name); ok {
		return v, true
	}
	v, _ = j.Right.Get(name)
	return v, false
}

// KeyVars returns the left and right key variables.
func (j *Join) KeyVars() (left, right *Var) {
	left, _ = j.Left.Get(j.LeftKey)
	right, _ = j.Right.Get(j.RightKey)
	return left, right
}

// IsDeadKey reports whether the output column name is a key nobody reads.
func (j *Join) IsDeadKey(name string) bool {
	if name == j.LeftKey && j.LeftKeyDead {
		return true
	}
	return name == j.RightKey && j.RightKeyDead
}

func (j *Join) UseDefs() (use, def VarSet) {
	use, def = make(VarSet), make(VarSet)
	use.Add(j.Left.Vars()...)
	use.Add(j.Right.Vars()...)
	def.Add(j.Out.Vars()...)
	return use, def
}

func (j *Join) VisitVars(fn RenameFunc) {
	j.Left.Rewrite(fn)
	j.Right.Rewrite(fn)
	j.Out.Rewrite(fn)
}

// Copies declares every output as a fresh definition: no output is ever a
// copy of an input.
func (j *Join) Copies() (map[string]*Var, VarSet) {
	kill := make(VarSet)
	kill.Add(j.Out.Vars()...)
	return nil, kill
}

func (j *Join) ApplyCopies(repl map[string]*Var) {
	fn := func(v *Var) *Var {
		if r, ok := repl[v.Name]; ok {
			return r
		}
		return v
	}
	j.Left.Rewrite(fn)
	j.Right.Rewrite(fn)
}

// RemoveDead drops dead non-key outputs together with their inputs. Dead
// keys are only flagged. The node is deleted when nothing observable is left.
func (j *Join) RemoveDead(live VarSet) Stmt {
	var dead []string
	j.Out.Each(func(name string, v *Var) {
		if live.Has(v) {
			return
		}
		isKey := false
		if name == j.LeftKey {
			j.LeftKeyDead = true
			isKey = true
		}
		if name == j.RightKey {
			j.RightKeyDead = true
			isKey = true
		}
		if !isKey {
			dead = append(dead, name)
		}
	})
	for _, name := range dead {
		j.Left.Delete(name)
		j.Right.Delete(name)
		j.Out.Delete(name)
	}

	for _, name := range j.Out.Names() {
		if !j.IsDeadKey(name) {
			return j
		}
	}
	return nil
}

// InferTypes propagates each input type to the output column of the same
// name and requires both keys to share a type.
func (j *Join) InferTypes(s *typeinfer.Solver) {
	prop := func(name string, src *Var) {
		if dst, ok := j.Out.Get(name); ok {
			s.Propagate(dst.Name, src.Name)
		}
	}
	j.Left.Each(prop)
	j.Right.Each(prop)

	lk, rk := j.KeyVars()
	s.Equate(lk.Name, rk.Name)
}

// AnalyzeShapes puts every non-string input in one length class and every
// non-string output in a second one. Outputs with no known size get a Len
// statement, except dead keys, which are never materialized.
func (j *Join) AnalyzeShapes(eq *shape.EquivSet, types typeinfer.TypeMap) []Stmt {
	if j.Out.Len() == 0 {
		panic(errors.AssertionFailedf("join %s: shape analysis on a join with no outputs", j.OutTable))
	}

	var in []string
	collect := func(_ string, v *Var) {
		if !types.IsString(v.Name) {
			in = append(in, eq.GetShape(v.Name))
		}
	}
	j.Left.Each(collect)
	j.Right.Each(collect)
	eq.InsertEquiv(in...)

	var out []string
	var post []Stmt
	j.Out.Each(func(name string, v *Var) {
		eq.Define(v.Name)
		if types.IsString(v.Name) || j.IsDeadKey(name) {
			return
		}
		if !eq.HasShape(v.Name) {
			size := NewVar(v.Name + "#size")
			post = append(post, &Len{Dst: size, Src: v})
			eq.SetShape(v.Name, size.Name)
		}
		out = append(out, eq.GetShape(v.Name))
	})
	eq.InsertEquiv(out...)
	return post
}

// AnalyzeDistribution assigns the join's output label and, when the output
// is forced away from OneDVar, pushes the same label onto every input.
func (j *Join) AnalyzeDistribution(m *dist.Map) bool {
	in := dist.OneD
	inputs := append(j.Left.Vars(), j.Right.Vars()...)
	for _, v := range inputs {
		if d, ok := m.Get(v.Name); ok {
			in = dist.Meet(in, d)
		}
	}

	out := dist.OneDVar
	assigned := false
	for _, v := range j.Out.Vars() {
		if d, ok := m.Get(v.Name); ok {
			if !assigned {
				out, assigned = d, true
				continue
			}
			out = dist.Meet(out, d)
		}
	}

	final := dist.Meet(in, out)
	changed := false
	for _, v := range j.Out.Vars() {
		if m.Tighten(v.Name, final) {
			changed = true
		}
	}
	if final != dist.OneDVar {
		for _, v := range inputs {
			if m.Tighten(v.Name, final) {
				changed = true
			}
		}
	}
	return changed
}
