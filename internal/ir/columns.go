package ir

import (
	"fmt"
	"strings"
)

// ColumnMap is an insertion-ordered mapping from column name to column
// variable. It represents one logical table at one point in the program.
type ColumnMap struct {
	names []string
	vars  map[string]*Var
}

// NewColumnMap returns an empty column map.
func NewColumnMap() *ColumnMap {
	return &ColumnMap{vars: make(map[string]*Var)}
}

// Set binds name to v. A new name is appended; an existing name keeps its
// position.
func (m *ColumnMap) Set(name string, v *Var) {
	if _, ok := m.vars[name]; !ok {
		m.names = append(m.names, name)
	}
	m.vars[name] = v
}

// Get returns the variable bound to name.
func (m *ColumnMap) Get(name string) (*Var, bool) {
	v, ok := m.vars[name]
	return v, ok
}

// Has reports whether name is bound.
func (m *ColumnMap) Has(name string) bool {
	_, ok := m.vars[name]
	return ok
}

// Delete unbinds name and reports whether it was present.
func (m *ColumnMap) Delete(name string) bool {
	if _, ok := m.vars[name]; !ok {
		return false
	}
	delete(m.vars, name)
	for i, n := range m.names {
		if n == name {
			m.names = append(m.names[:i], m.names[i+1:]...)
			break
		}
	}
	return true
}

// Names returns the column names in insertion order.
func (m *ColumnMap) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Vars returns the variables in column order.
func (m *ColumnMap) Vars() []*Var {
	out := make([]*Var, 0, len(m.names))
	for _, n := range m.names {
		out = append(out, m.vars[n])
	}
	return out
}

// Len returns the number of columns.
func (m *ColumnMap) Len() int {
	return len(m.names)
}

// Each calls fn for every column in order.
func (m *ColumnMap) Each(fn func(name string, v *Var)) {
	for _, n := range m.names {
		fn(n, m.vars[n])
	}
}

// Rewrite replaces every variable with fn's result, keeping names.
func (m *ColumnMap) Rewrite(fn RenameFunc) {
	for _, n := range m.names {
		m.vars[n] = fn(m.vars[n])
	}
}

// Clone returns a copy of m sharing the variables.
func (m *ColumnMap) Clone() *ColumnMap {
	out := &ColumnMap{
		names: make([]string, len(m.names)),
		vars:  make(map[string]*Var, len(m.vars)),
	}
	copy(out.names, m.names)
	for k, v := range m.vars {
		out.vars[k] = v
	}
	return out
}

// String renders the map as {'name':var, ...}.
func (m *ColumnMap) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for _, n := range m.names {
		fmt.Fprintf(&sb, "'%s':%s, ", n, m.vars[n])
	}
	sb.WriteByte('}')
	return sb.String()
}

// Catalog maps a table identifier to its full column map. Analyses use it to
// resolve columns that a statement has already pruned.
type Catalog map[string]*ColumnMap
