package ir

import (
	"sort"
)

// Var is a column variable. Its identity is its name, which is unique within
// a Program. Types, shapes, and distributions are tracked externally, keyed
// by Name.
type Var struct {
	Name string
}

// NewVar returns a variable with the given name.
func NewVar(name string) *Var {
	return &Var{Name: name}
}

func (v *Var) String() string {
	if v == nil {
		return "<nil>"
	}
	return v.Name
}

// RenameFunc maps a variable to its replacement during a renaming visit.
// Returning the argument leaves it unchanged.
type RenameFunc func(*Var) *Var

// VarSet is a set of variable names.
type VarSet map[string]struct{}

// NewVarSet returns a set holding names.
func NewVarSet(names ...string) VarSet {
	s := make(VarSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts every var into s.
func (s VarSet) Add(vars ...*Var) {
	for _, v := range vars {
		s[v.Name] = struct{}{}
	}
}

// Has reports whether v is in s.
func (s VarSet) Has(v *Var) bool {
	_, ok := s[v.Name]
	return ok
}

// Contains reports whether name is in s.
func (s VarSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Remove deletes every name of other from s.
func (s VarSet) Remove(other VarSet) {
	for n := range other {
		delete(s, n)
	}
}

// Union inserts every name of other into s.
func (s VarSet) Union(other VarSet) {
	for n := range other {
		s[n] = struct{}{}
	}
}

// Clone returns a copy of s.
func (s VarSet) Clone() VarSet {
	out := make(VarSet, len(s))
	out.Union(s)
	return out
}

// Names returns the sorted names in s.
func (s VarSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
