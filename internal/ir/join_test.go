//nolint:testpackage // requires internal access to join fields
package ir

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/distjoin/internal/dist"
	"github.com/paveg/distjoin/internal/shape"
	"github.com/paveg/distjoin/internal/typeinfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T, leftDist, rightDist dist.Distribution) (*Builder, *Join) {
	t.Helper()
	b := NewBuilder("")
	_, err := b.Source("l", leftDist,
		arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: "name", Type: arrow.BinaryTypes.String},
	)
	require.NoError(t, err)
	_, err = b.Source("r", rightDist,
		arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: "y", Type: arrow.PrimitiveTypes.Int64},
	)
	require.NoError(t, err)
	j, err := b.Join("o", "l", "r", "id", "id")
	require.NoError(t, err)
	return b, j
}

func varNames(vs []*Var) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Name
	}
	return out
}

func TestBuilder_JoinColumnNaming(t *testing.T) {
	_, j := buildSample(t, dist.OneD, dist.OneD)

	assert.Equal(t, []string{"id", "x", "name"}, j.Left.Names())
	assert.Equal(t, []string{"id", "x_right", "y"}, j.Right.Names())
	assert.Equal(t, []string{"id", "x", "name", "x_right", "y"}, j.Out.Names())
	assert.Equal(t, "id", j.RightKey)

	v, left := j.Input("x_right")
	assert.False(t, left)
	assert.Equal(t, "r.x.5", v.Name)

	v, left = j.Input("id")
	assert.True(t, left, "shared key is read from the left")
	assert.Equal(t, "l.id.1", v.Name)

	assert.Equal(t,
		"join [id=id]: out{'id':o.id.7, 'x':o.x.8, 'name':o.name.9, 'x_right':o.x_right.10, 'y':o.y.11, }, "+
			"left{'id':l.id.1, 'x':l.x.2, 'name':l.name.3, }, right{'id':r.id.4, 'x_right':r.x.5, 'y':r.y.6, }",
		j.String())
}

func TestBuilder_JoinDistinctKeys(t *testing.T) {
	b := NewBuilder("_r")
	_, err := b.Source("a", dist.OneD,
		arrow.Field{Name: "k", Type: arrow.PrimitiveTypes.Int32},
		arrow.Field{Name: "v", Type: arrow.PrimitiveTypes.Int32},
	)
	require.NoError(t, err)
	_, err = b.Source("b", dist.OneD,
		arrow.Field{Name: "v", Type: arrow.PrimitiveTypes.Int32},
		arrow.Field{Name: "v_r", Type: arrow.PrimitiveTypes.Int32},
		arrow.Field{Name: "k", Type: arrow.PrimitiveTypes.Int32},
	)
	require.NoError(t, err)

	j, err := b.Join("ab", "a", "b", "v", "k")
	require.NoError(t, err)

	assert.Equal(t, []string{"v_r_r", "v_r", "k_r"}, j.Right.Names())
	assert.Equal(t, "k_r", j.RightKey, "renamed right key follows its column")
	assert.Equal(t, []string{"k", "v", "v_r_r", "v_r", "k_r"}, j.Out.Names())
	assert.True(t, b.Program().Catalog["ab"].Has("k_r"))
}

func TestBuilder_Errors(t *testing.T) {
	b := NewBuilder("")
	_, err := b.Source("l", dist.OneD, arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int64})
	require.NoError(t, err)

	_, err = b.Source("l", dist.OneD, arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int64})
	require.Error(t, err)

	_, err = b.Source("dup", dist.OneD,
		arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	)
	require.Error(t, err)

	_, err = b.Join("o", "l", "missing", "id", "id")
	require.Error(t, err)

	_, err = b.Join("o", "l", "l", "nope", "id")
	require.Error(t, err)

	_, err = b.Return("l", "nope")
	require.Error(t, err)
}

func TestNewJoin_InvariantViolationsPanic(t *testing.T) {
	left := NewColumnMap()
	left.Set("id", NewVar("l.id"))
	right := NewColumnMap()
	right.Set("id", NewVar("r.id"))
	out := NewColumnMap()
	out.Set("id", NewVar("o.id"))

	assert.NotPanics(t, func() { NewJoin("o", "l", "r", "id", "id", out, left, right, nil) })
	assert.Panics(t, func() { NewJoin("o", "l", "r", "missing", "id", out, left, right, nil) })
	assert.Panics(t, func() { NewJoin("o", "l", "r", "id", "missing", out, left, right, nil) })

	bad := out.Clone()
	bad.Set("ghost", NewVar("o.ghost"))
	assert.Panics(t, func() { NewJoin("o", "l", "r", "id", "id", bad, left, right, nil) })
}

func TestJoin_UseDefsAndCopies(t *testing.T) {
	_, j := buildSample(t, dist.OneD, dist.OneD)

	use, def := j.UseDefs()
	assert.Equal(t, []string{"l.id.1", "l.name.3", "l.x.2", "r.id.4", "r.x.5", "r.y.6"}, use.Names())
	assert.Equal(t, []string{"o.id.7", "o.name.9", "o.x.8", "o.x_right.10", "o.y.11"}, def.Names())

	gen, kill := j.Copies()
	assert.Empty(t, gen, "a join never aliases its inputs")
	assert.Equal(t, def, kill)
}

func TestJoin_VisitVars(t *testing.T) {
	_, j := buildSample(t, dist.OneD, dist.OneD)

	j.VisitVars(func(v *Var) *Var { return NewVar(v.Name + "'") })

	assert.Equal(t, []string{"id", "x", "name"}, j.Left.Names(), "names are preserved")
	for _, v := range append(append(j.Left.Vars(), j.Right.Vars()...), j.Out.Vars()...) {
		assert.Equal(t, byte('\''), v.Name[len(v.Name)-1])
	}
}

func TestJoin_ApplyCopiesOnlyTouchesInputs(t *testing.T) {
	_, j := buildSample(t, dist.OneD, dist.OneD)
	src := NewVar("src")

	j.ApplyCopies(map[string]*Var{"l.x.2": src, "o.x.8": src})

	v, _ := j.Left.Get("x")
	assert.Same(t, src, v)
	v, _ = j.Out.Get("x")
	assert.Equal(t, "o.x.8", v.Name)
}

func TestJoin_RemoveDead(t *testing.T) {
	t.Run("dead non-key columns cascade to inputs", func(t *testing.T) {
		_, j := buildSample(t, dist.OneD, dist.OneD)

		s := j.RemoveDead(NewVarSet("o.x.8"))
		require.NotNil(t, s)
		assert.Same(t, j, s)

		assert.Equal(t, []string{"id", "x"}, j.Out.Names())
		assert.Equal(t, []string{"id", "x"}, j.Left.Names())
		assert.Equal(t, []string{"id"}, j.Right.Names(), "dead key storage is kept")
		assert.True(t, j.LeftKeyDead)
		assert.True(t, j.RightKeyDead)
	})

	t.Run("idempotent", func(t *testing.T) {
		_, once := buildSample(t, dist.OneD, dist.OneD)
		_, twice := buildSample(t, dist.OneD, dist.OneD)
		live := NewVarSet("o.x_right.10", "o.name.9")

		once.RemoveDead(live)
		require.NotNil(t, twice.RemoveDead(live))
		require.NotNil(t, twice.RemoveDead(live))

		assert.Equal(t, once.String(), twice.String())
		assert.Equal(t, once.LeftKeyDead, twice.LeftKeyDead)
		assert.Equal(t, once.RightKeyDead, twice.RightKeyDead)
	})

	t.Run("all outputs dead deletes the node", func(t *testing.T) {
		_, j := buildSample(t, dist.OneD, dist.OneD)
		assert.Nil(t, j.RemoveDead(NewVarSet()))
	})

	t.Run("live key keeps the node", func(t *testing.T) {
		_, j := buildSample(t, dist.OneD, dist.OneD)
		require.NotNil(t, j.RemoveDead(NewVarSet("o.id.7")))
		assert.Equal(t, []string{"id"}, j.Out.Names())
		assert.False(t, j.LeftKeyDead)
	})
}

func TestJoin_InferTypes(t *testing.T) {
	b, _ := buildSample(t, dist.OneD, dist.OneD)
	s := typeinfer.NewSolver()
	for _, st := range b.Program().Stmts {
		st.InferTypes(s)
	}

	types, err := s.Solve()
	require.NoError(t, err)
	assert.Equal(t, arrow.PrimitiveTypes.Float64, types["o.x_right.10"])
	assert.Equal(t, arrow.PrimitiveTypes.Int64, types["o.y.11"])
	assert.True(t, types.IsString("o.name.9"))
}

func TestJoin_InferTypesKeyMismatch(t *testing.T) {
	b := NewBuilder("")
	_, err := b.Source("l", dist.OneD, arrow.Field{Name: "lk", Type: arrow.PrimitiveTypes.Int64})
	require.NoError(t, err)
	_, err = b.Source("r", dist.OneD, arrow.Field{Name: "rk", Type: arrow.BinaryTypes.String})
	require.NoError(t, err)
	_, err = b.Join("o", "l", "r", "lk", "rk")
	require.NoError(t, err)

	s := typeinfer.NewSolver()
	for _, st := range b.Program().Stmts {
		st.InferTypes(s)
	}
	_, err = s.Solve()

	var mm *typeinfer.MismatchError
	require.True(t, errors.As(err, &mm))
	assert.Equal(t, typeinfer.Equate, mm.Kind)
}

func TestJoin_AnalyzeShapes(t *testing.T) {
	b, j := buildSample(t, dist.OneD, dist.OneD)
	s := typeinfer.NewSolver()
	for _, st := range b.Program().Stmts {
		st.InferTypes(s)
	}
	types, err := s.Solve()
	require.NoError(t, err)

	eq := shape.New()
	post := j.AnalyzeShapes(eq, types)

	require.Len(t, post, 4, "one size per non-string output")
	ln, ok := post[0].(*Len)
	require.True(t, ok)
	assert.Equal(t, "o.id.7", ln.Src.Name)
	assert.Equal(t, "o.id.7#size", ln.Dst.Name)

	assert.True(t, eq.IsEquiv("l.id.1", "r.y.6"))
	assert.True(t, eq.IsEquiv("o.id.7", "o.x_right.10"))
	assert.False(t, eq.IsEquiv("o.id.7", "l.id.1"), "output length is independent of inputs")
	assert.False(t, eq.HasShape("l.name.3"), "strings are not size-correlated")
	assert.False(t, eq.HasShape("o.name.9"))
	assert.True(t, eq.IsDefined("o.name.9"))

	assert.Empty(t, j.AnalyzeShapes(eq, types), "sizes are synthesized once")
}

func TestJoin_AnalyzeShapesWithoutOutputsPanics(t *testing.T) {
	_, j := buildSample(t, dist.OneD, dist.OneD)
	for _, n := range j.Out.Names() {
		j.Out.Delete(n)
	}
	assert.Panics(t, func() { j.AnalyzeShapes(shape.New(), typeinfer.TypeMap{}) })
}

func label(t *testing.T, m *dist.Map, name string) dist.Distribution {
	t.Helper()
	d, ok := m.Get(name)
	require.True(t, ok, name)
	return d
}

func TestJoin_AnalyzeDistribution(t *testing.T) {
	t.Run("partitioned inputs give a variable-size output", func(t *testing.T) {
		b, j := buildSample(t, dist.OneD, dist.OneD)
		m := dist.NewMap()
		for _, s := range b.Program().Stmts[:2] {
			s.AnalyzeDistribution(m)
		}

		assert.True(t, j.AnalyzeDistribution(m))
		assert.False(t, j.AnalyzeDistribution(m), "stable on the second call")
		for _, n := range varNames(j.Out.Vars()) {
			assert.Equal(t, dist.OneDVar, label(t, m, n))
		}
		assert.Equal(t, dist.OneD, label(t, m, "l.id.1"), "inputs untouched for OneD_Var")
	})

	t.Run("replicated input forces everything replicated", func(t *testing.T) {
		b, j := buildSample(t, dist.REP, dist.OneD)
		m := dist.NewMap()
		for _, s := range b.Program().Stmts[:2] {
			s.AnalyzeDistribution(m)
		}

		j.AnalyzeDistribution(m)
		assert.Equal(t, dist.REP, label(t, m, "o.y.11"))
		assert.Equal(t, dist.REP, label(t, m, "r.y.6"), "pushed back onto the right side")
	})

	t.Run("balanced output requirement reaches the inputs", func(t *testing.T) {
		_, j := buildSample(t, dist.OneD, dist.OneD)
		m := dist.NewMap()
		m.Tighten("o.x.8", dist.OneD)
		m.Tighten("r.x.5", dist.OneDVar)

		j.AnalyzeDistribution(m)
		assert.Equal(t, dist.OneDVar, label(t, m, "o.x.8"), "input constraint wins")

		m2 := dist.NewMap()
		m2.Tighten("o.x.8", dist.OneD)
		j.AnalyzeDistribution(m2)
		assert.Equal(t, dist.OneD, label(t, m2, "o.y.11"))
		assert.Equal(t, dist.OneD, label(t, m2, "l.name.3"))
	})
}

func TestJoin_AnalyzeDistributionMonotone(t *testing.T) {
	layouts := []dist.Distribution{dist.REP, dist.OneDVar, dist.OneD}
	for _, ld := range layouts {
		for _, rd := range layouts {
			b, _ := buildSample(t, ld, rd)
			_, err := b.Return("o")
			require.NoError(t, err)

			m := dist.NewMap()
			prev := map[string]dist.Distribution{}
			for iter := 0; iter < 10; iter++ {
				changed := false
				for _, s := range b.Program().Stmts {
					if s.AnalyzeDistribution(m) {
						changed = true
					}
				}
				for name, d := range m.Snapshot() {
					if p, ok := prev[name]; ok {
						assert.LessOrEqual(t, int(d), int(p), "%s loosened", name)
					}
				}
				prev = m.Snapshot()
				if !changed {
					break
				}
			}
		}
	}
}
