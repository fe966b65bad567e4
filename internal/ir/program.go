package ir

import (
	"strings"
)

// Program is a straight-line list of statements plus the catalog of every
// table it defines.
type Program struct {
	Stmts   []Stmt
	Catalog Catalog
}

// Joins returns the join statements of p in order.
func (p *Program) Joins() []*Join {
	var out []*Join
	for _, s := range p.Stmts {
		if j, ok := s.(*Join); ok {
			out = append(out, j)
		}
	}
	return out
}

// Returns returns the return statements of p in order.
func (p *Program) Returns() []*Return {
	var out []*Return
	for _, s := range p.Stmts {
		if r, ok := s.(*Return); ok {
			out = append(out, r)
		}
	}
	return out
}

func (p *Program) String() string {
	var sb strings.Builder
	for _, s := range p.Stmts {
		sb.WriteString(s.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
