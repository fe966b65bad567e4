//nolint:testpackage // requires internal access to program statements
package ir

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/distjoin/internal/dist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveness_DeletesUnusedJoin(t *testing.T) {
	b, _ := buildSample(t, dist.OneD, dist.OneD)
	p := b.Program()

	removed := Liveness(p, nil)
	assert.Equal(t, 3, removed, "join and both sources are dead")
	assert.Empty(t, p.Stmts)
}

func TestLiveness_PrunesColumns(t *testing.T) {
	b, j := buildSample(t, dist.OneD, dist.OneD)
	_, err := b.Return("o", "x", "y")
	require.NoError(t, err)
	p := b.Program()

	assert.Equal(t, 0, Liveness(p, nil))
	require.Len(t, p.Stmts, 4)

	assert.Equal(t, []string{"id", "x", "y"}, j.Out.Names())
	assert.True(t, j.LeftKeyDead)

	src := p.Stmts[0].(*Source)
	assert.Equal(t, []string{"id", "x"}, src.Cols.Names(), "string column no longer read")
	src = p.Stmts[1].(*Source)
	assert.Equal(t, []string{"id", "y"}, src.Cols.Names())
}

func TestLiveness_ExtraLiveOut(t *testing.T) {
	b, _ := buildSample(t, dist.OneD, dist.OneD)
	p := b.Program()

	Liveness(p, NewVarSet("o.name.9"))
	require.Len(t, p.Stmts, 3)
	assert.Equal(t, []string{"id", "name"}, p.Joins()[0].Out.Names())
}

func TestCopyPropagate(t *testing.T) {
	b := NewBuilder("")
	_, err := b.Source("l", dist.OneD,
		arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "v", Type: arrow.PrimitiveTypes.Int64},
	)
	require.NoError(t, err)
	_, err = b.Source("r", dist.OneD, arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int64})
	require.NoError(t, err)
	require.NoError(t, b.Alias("l2", "l"))
	j, err := b.Join("o", "l2", "r", "id", "id")
	require.NoError(t, err)
	_, err = b.Return("o")
	require.NoError(t, err)
	p := b.Program()

	CopyPropagate(p)
	assert.Equal(t, []string{"l.id.1", "l.v.2"}, varNames(j.Left.Vars()))

	Liveness(p, nil)
	for _, s := range p.Stmts {
		_, isAssign := s.(*Assign)
		assert.False(t, isAssign, "copies are dead after propagation")
	}
	assert.Len(t, p.Stmts, 4)
}

func TestCopyPropagate_KillInvalidates(t *testing.T) {
	a, c, x := NewVar("a"), NewVar("c"), NewVar("x")
	ret := NewColumnMap()
	ret.Set("out", c)
	p := &Program{Stmts: []Stmt{
		&Assign{Dst: c, Src: a},
		&Assign{Dst: a, Src: x},
		&Return{Table: "t", Cols: ret},
	}}

	CopyPropagate(p)
	v, _ := ret.Get("out")
	assert.Equal(t, "c", v.Name, "a was redefined, so c = a is no longer a valid copy")
}

func TestRename(t *testing.T) {
	b, j := buildSample(t, dist.OneD, dist.OneD)
	_, err := b.Return("o", "y")
	require.NoError(t, err)
	p := b.Program()

	Rename(p, func(v *Var) *Var {
		if v.Name == "r.y.6" {
			return NewVar("renamed")
		}
		return v
	})

	v, _ := j.Right.Get("y")
	assert.Equal(t, "renamed", v.Name)
	src := p.Stmts[1].(*Source)
	v, _ = src.Cols.Get("y")
	assert.Equal(t, "renamed", v.Name)
	assert.Contains(t, p.String(), "join [id=id]")
	assert.Len(t, p.Returns(), 1)
}
