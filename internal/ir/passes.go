package ir

// Rename rewrites every variable of p through fn.
func Rename(p *Program, fn RenameFunc) {
	for _, s := range p.Stmts {
		s.VisitVars(fn)
	}
}

// Liveness removes dead statements and dead outputs from p in one backward
// sweep. liveOut holds variables needed after the last statement; uses of
// Return statements are always live. It returns the number of statements
// removed.
//
// A sweep is exact for straight-line code: when a statement is visited, the
// live set already reflects every pruned statement after it.
func Liveness(p *Program, liveOut VarSet) int {
	live := make(VarSet)
	if liveOut != nil {
		live = liveOut.Clone()
	}

	kept := make([]Stmt, 0, len(p.Stmts))
	removed := 0
	for i := len(p.Stmts) - 1; i >= 0; i-- {
		s := p.Stmts[i].RemoveDead(live)
		if s == nil {
			removed++
			continue
		}
		use, def := s.UseDefs()
		live.Remove(def)
		live.Union(use)
		kept = append(kept, s)
	}

	for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
		kept[l], kept[r] = kept[r], kept[l]
	}
	p.Stmts = kept
	return removed
}

// CopyPropagate replaces uses of copied variables by their sources in one
// forward sweep. Statements that kill a variable invalidate every copy that
// mentions it.
func CopyPropagate(p *Program) {
	avail := make(map[string]*Var)
	for _, s := range p.Stmts {
		if len(avail) > 0 {
			s.ApplyCopies(avail)
		}
		gen, kill := s.Copies()
		for k := range kill {
			delete(avail, k)
			for dst, src := range avail {
				if src.Name == k {
					delete(avail, dst)
				}
			}
		}
		for dst, src := range gen {
			avail[dst] = src
		}
	}
}
