package compiler

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/paveg/distjoin/internal/dist"
	"github.com/paveg/distjoin/internal/exec"
	"github.com/paveg/distjoin/internal/ir"
	"github.com/paveg/distjoin/internal/logutil"
)

// Lower translates every statement of p into an exec op.
//
// Placement follows where rows physically are, derived forward from the
// layouts sources declare: a join of two replicated inputs stays replicated
// and anything else is partitioned. Labels in m only decide whether a
// partitioned join output is rebalanced into even blocks. A REP label on
// partitioned data cannot be met without a gather and is logged.
func Lower(p *ir.Program, m *dist.Map, logger *zap.Logger) (*exec.Plan, error) {
	if m == nil {
		m = dist.NewMap()
	}
	logger = logutil.Adjust(logger)
	l := &lowering{labels: m, placed: make(map[string]dist.Distribution), logger: logger}

	plan := &exec.Plan{Ops: make([]exec.Op, 0, len(p.Stmts))}
	for _, stmt := range p.Stmts {
		switch s := stmt.(type) {
		case *ir.Source:
			s.Cols.Each(func(_ string, v *ir.Var) { l.placed[v.Name] = s.Dist })
			plan.Ops = append(plan.Ops, &exec.SourceOp{Table: s.Table, Columns: bindings(s.Cols), Types: s.Types})
		case *ir.Assign:
			l.placed[s.Dst.Name] = l.placement(s.Src)
			plan.Ops = append(plan.Ops, &exec.CopyOp{Dst: s.Dst.Name, Src: s.Src.Name})
		case *ir.Len:
			plan.Ops = append(plan.Ops, &exec.LenOp{Dst: s.Dst.Name, Src: s.Src.Name})
		case *ir.Join:
			plan.Ops = append(plan.Ops, l.join(s))
		case *ir.Return:
			plan.Ops = append(plan.Ops, &exec.ReturnOp{Table: s.Table, Columns: bindings(s.Cols)})
		default:
			return nil, errors.AssertionFailedf("cannot lower %T", stmt)
		}
	}
	return plan, nil
}

type lowering struct {
	labels *dist.Map
	placed map[string]dist.Distribution
	logger *zap.Logger
}

func (l *lowering) label(v *ir.Var) dist.Distribution {
	if d, ok := l.labels.Get(v.Name); ok {
		return d
	}
	return dist.OneDVar
}

func (l *lowering) placement(v *ir.Var) dist.Distribution {
	if d, ok := l.placed[v.Name]; ok {
		return d
	}
	return dist.OneDVar
}

func (l *lowering) join(j *ir.Join) *exec.JoinOp {
	lk, rk := j.KeyVars()
	spec := exec.JoinSpec{
		LeftKey:   j.LeftKey,
		RightKey:  j.RightKey,
		LeftDist:  l.placement(lk),
		RightDist: l.placement(rk),
		OutDist:   dist.OneDVar,
	}

	var out []exec.Binding
	want := dist.OneD
	j.Out.Each(func(name string, v *ir.Var) {
		if j.IsDeadKey(name) {
			return
		}
		side := exec.Right
		if j.Left.Has(name) {
			side = exec.Left
		}
		spec.Output = append(spec.Output, exec.OutputColumn{Name: name, Side: side, Column: name})
		out = append(out, exec.Binding{Column: name, Var: v.Name})
		want = dist.Meet(want, l.label(v))
	})

	switch {
	case spec.Local():
		spec.OutDist = dist.REP
	case want == dist.OneD:
		spec.OutDist = dist.OneD
	case want == dist.REP:
		l.logger.Warn("replicated layout requested for a partitioned join output",
			zap.String("table", j.OutTable))
	}
	for _, b := range out {
		l.placed[b.Var] = spec.OutDist
	}

	return &exec.JoinOp{
		Table: j.OutTable,
		Spec:  spec,
		Left:  bindings(j.Left),
		Right: bindings(j.Right),
		Out:   out,
	}
}

func bindings(cols *ir.ColumnMap) []exec.Binding {
	out := make([]exec.Binding, 0, cols.Len())
	cols.Each(func(name string, v *ir.Var) {
		out = append(out, exec.Binding{Column: name, Var: v.Name})
	})
	return out
}
