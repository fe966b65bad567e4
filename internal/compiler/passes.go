package compiler

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/paveg/distjoin/internal/dist"
	"github.com/paveg/distjoin/internal/ir"
	"github.com/paveg/distjoin/internal/shape"
	"github.com/paveg/distjoin/internal/typeinfer"
)

// Pass is one step of compilation. Passes run in order over a shared State.
type Pass interface {
	Name() string
	Run(st *State) error
}

// State is what passes read and write.
type State struct {
	Program *ir.Program
	Types   typeinfer.TypeMap
	Shapes  *shape.EquivSet
	Dists   *dist.Map
	// LiveOut holds variables needed after the program besides returned ones.
	LiveOut ir.VarSet

	maxIterations int
	logger        *zap.Logger
}

// TypePass solves the program's type constraints.
type TypePass struct{}

func (TypePass) Name() string { return "typeinfer" }

func (TypePass) Run(st *State) error {
	s := typeinfer.NewSolver()
	for _, stmt := range st.Program.Stmts {
		stmt.InferTypes(s)
	}
	types, err := s.Solve()
	if err != nil {
		return err
	}
	st.Types = types
	st.logger.Debug("types solved", zap.Int("constraints", s.Len()), zap.Int("vars", len(types)))
	return nil
}

// CopyPropagationPass forwards copies into their uses.
type CopyPropagationPass struct{}

func (CopyPropagationPass) Name() string { return "copyprop" }

func (CopyPropagationPass) Run(st *State) error {
	ir.CopyPropagate(st.Program)
	return nil
}

// LivenessPass removes dead statements and dead join outputs.
type LivenessPass struct{}

func (LivenessPass) Name() string { return "liveness" }

func (LivenessPass) Run(st *State) error {
	removed := ir.Liveness(st.Program, st.LiveOut)
	st.logger.Debug("dead code removed", zap.Int("statements", removed))
	return nil
}

// ShapePass records length equivalences and inserts the Len statements the
// analysis asks for right after the statement that needs them.
type ShapePass struct{}

func (ShapePass) Name() string { return "shapes" }

func (ShapePass) Run(st *State) error {
	if st.Types == nil {
		return errors.AssertionFailedf("shape analysis needs solved types")
	}
	st.Shapes = shape.New()
	stmts := make([]ir.Stmt, 0, len(st.Program.Stmts))
	inserted := 0
	for _, stmt := range st.Program.Stmts {
		stmts = append(stmts, stmt)
		for _, post := range stmt.AnalyzeShapes(st.Shapes, st.Types) {
			if l, ok := post.(*ir.Len); ok {
				st.Types[l.Dst.Name] = lenType
			}
			stmts = append(stmts, post)
			inserted++
		}
	}
	st.Program.Stmts = stmts
	st.logger.Debug("shapes analyzed", zap.Int("inserted", inserted), zap.Int("classes", len(st.Shapes.Classes())))
	return nil
}

// DistributionPass runs every statement's distribution analysis until no
// label changes. Layouts required by returns are applied first so joins see
// them as already-assigned outputs.
type DistributionPass struct{}

func (DistributionPass) Name() string { return "distribution" }

func (DistributionPass) Run(st *State) error {
	st.Dists = dist.NewMap()
	for _, r := range st.Program.Returns() {
		r.AnalyzeDistribution(st.Dists)
	}
	for i := 1; i <= st.maxIterations; i++ {
		changed := false
		for _, stmt := range st.Program.Stmts {
			if stmt.AnalyzeDistribution(st.Dists) {
				changed = true
			}
		}
		if !changed {
			st.logger.Debug("distribution fixpoint", zap.Int("iterations", i), zap.Stringer("labels", st.Dists))
			return nil
		}
	}
	return errors.Newf("distribution analysis did not converge in %d iterations", st.maxIterations)
}
