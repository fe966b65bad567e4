package ir

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"
	"github.com/paveg/distjoin/internal/dist"
)

// DefaultRightSuffix is appended to right-side columns whose name collides
// with a left-side column.
const DefaultRightSuffix = "_right"

// Builder assembles a Program, allocating unique variables for every column
// it defines.
type Builder struct {
	prog   *Program
	suffix string
	next   int
}

// NewBuilder returns a builder that renames colliding right-side columns
// with suffix. An empty suffix selects DefaultRightSuffix.
func NewBuilder(suffix string) *Builder {
	if suffix == "" {
		suffix = DefaultRightSuffix
	}
	return &Builder{
		prog:   &Program{Catalog: make(Catalog)},
		suffix: suffix,
	}
}

// NewVar allocates a variable whose name starts with hint.
func (b *Builder) NewVar(hint string) *Var {
	b.next++
	return NewVar(fmt.Sprintf("%s.%d", hint, b.next))
}

// Source declares an input table with the given schema and layout.
func (b *Builder) Source(table string, d dist.Distribution, fields ...arrow.Field) (*Source, error) {
	if _, ok := b.prog.Catalog[table]; ok {
		return nil, errors.Newf("table %q already defined", table)
	}
	if len(fields) == 0 {
		return nil, errors.Newf("table %q has no columns", table)
	}
	cols := NewColumnMap()
	types := make(map[string]arrow.DataType, len(fields))
	for _, f := range fields {
		if cols.Has(f.Name) {
			return nil, errors.Newf("table %q: duplicate column %q", table, f.Name)
		}
		cols.Set(f.Name, b.NewVar(table+"."+f.Name))
		types[f.Name] = f.Type
	}
	b.prog.Catalog[table] = cols
	s := &Source{Table: table, Cols: cols.Clone(), Types: types, Dist: d}
	b.prog.Stmts = append(b.prog.Stmts, s)
	return s, nil
}

// Alias defines table dst as a copy of src, one Assign per column.
func (b *Builder) Alias(dst, src string) error {
	cols, ok := b.prog.Catalog[src]
	if !ok {
		return errors.Newf("unknown table %q", src)
	}
	if _, ok := b.prog.Catalog[dst]; ok {
		return errors.Newf("table %q already defined", dst)
	}
	out := NewColumnMap()
	cols.Each(func(name string, v *Var) {
		nv := b.NewVar(dst + "." + name)
		out.Set(name, nv)
		b.prog.Stmts = append(b.prog.Stmts, &Assign{Dst: nv, Src: v})
	})
	b.prog.Catalog[dst] = out
	return nil
}

// Join defines table out as the inner join of left and right on
// leftKey = rightKey.
//
// A right column whose name is already used on the left is renamed by
// appending the suffix until it is unique, except for a key shared by name by
// both sides, which appears once and is read from the left.
func (b *Builder) Join(out, left, right, leftKey, rightKey string) (*Join, error) {
	lcols, ok := b.prog.Catalog[left]
	if !ok {
		return nil, errors.Newf("unknown table %q", left)
	}
	rcols, ok := b.prog.Catalog[right]
	if !ok {
		return nil, errors.Newf("unknown table %q", right)
	}
	if _, ok := b.prog.Catalog[out]; ok {
		return nil, errors.Newf("table %q already defined", out)
	}
	if !lcols.Has(leftKey) {
		return nil, errors.Newf("join %s: left table %q has no column %q", out, left, leftKey)
	}
	if !rcols.Has(rightKey) {
		return nil, errors.Newf("join %s: right table %q has no column %q", out, right, rightKey)
	}

	lmap := lcols.Clone()
	rmap := NewColumnMap()
	sharedKey := leftKey == rightKey
	rk := rightKey
	rcols.Each(func(name string, v *Var) {
		outName := name
		if !(sharedKey && name == rightKey) {
			for lmap.Has(outName) || (outName != name && rcols.Has(outName)) {
				outName += b.suffix
			}
		}
		if name == rightKey {
			rk = outName
		}
		rmap.Set(outName, v)
	})

	omap := NewColumnMap()
	lmap.Each(func(name string, _ *Var) {
		omap.Set(name, b.NewVar(out+"."+name))
	})
	rmap.Each(func(name string, _ *Var) {
		if !omap.Has(name) {
			omap.Set(name, b.NewVar(out+"."+name))
		}
	})

	j := NewJoin(out, left, right, leftKey, rk, omap, lmap, rmap, b.prog.Catalog)
	b.prog.Catalog[out] = omap.Clone()
	b.prog.Stmts = append(b.prog.Stmts, j)
	return j, nil
}

// Return marks columns of table as a program result. No columns means all
// of them.
func (b *Builder) Return(table string, columns ...string) (*Return, error) {
	return b.ret(table, nil, columns)
}

// ReturnAs is Return with a required layout for the returned columns.
func (b *Builder) ReturnAs(table string, d dist.Distribution, columns ...string) (*Return, error) {
	return b.ret(table, &d, columns)
}

func (b *Builder) ret(table string, d *dist.Distribution, columns []string) (*Return, error) {
	cols, ok := b.prog.Catalog[table]
	if !ok {
		return nil, errors.Newf("unknown table %q", table)
	}
	if len(columns) == 0 {
		columns = cols.Names()
	}
	m := NewColumnMap()
	for _, c := range columns {
		v, ok := cols.Get(c)
		if !ok {
			return nil, errors.Newf("table %q has no column %q", table, c)
		}
		m.Set(c, v)
	}
	r := &Return{Table: table, Cols: m, Require: d}
	b.prog.Stmts = append(b.prog.Stmts, r)
	return r, nil
}

// Program returns the program built so far.
func (b *Builder) Program() *Program {
	return b.prog
}
