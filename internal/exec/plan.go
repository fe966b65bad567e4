package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/paveg/distjoin/internal/comm"
	"github.com/paveg/distjoin/internal/dataframe"
	joinerrors "github.com/paveg/distjoin/internal/errors"
	"github.com/paveg/distjoin/internal/series"
)

// Binding ties a column of a table to a program variable.
type Binding struct {
	Column string
	Var    string
}

func formatBindings(bs []Binding) string {
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = b.Column + "=" + b.Var
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Env holds one rank's runtime values: the array bound to every defined
// variable, the row counts computed by LenOps, the input tables, and the
// returned tables.
type Env struct {
	inputs  map[string]*dataframe.DataFrame
	arrays  map[string]arrow.Array
	sizes   map[string]int64
	results map[string]*dataframe.DataFrame
}

// NewEnv creates an environment reading the given input tables. The caller
// keeps ownership of the inputs.
func NewEnv(inputs map[string]*dataframe.DataFrame) *Env {
	return &Env{
		inputs:  inputs,
		arrays:  make(map[string]arrow.Array),
		sizes:   make(map[string]int64),
		results: make(map[string]*dataframe.DataFrame),
	}
}

// bind takes ownership of arr as the value of v.
func (env *Env) bind(v string, arr arrow.Array) {
	if prev, ok := env.arrays[v]; ok {
		prev.Release()
	}
	env.arrays[v] = arr
}

// Array returns the array bound to v. It stays owned by env.
func (env *Env) Array(v string) (arrow.Array, bool) {
	arr, ok := env.arrays[v]
	return arr, ok
}

// Size returns the row count a LenOp stored in v.
func (env *Env) Size(v string) (int64, bool) {
	n, ok := env.sizes[v]
	return n, ok
}

// frame builds a table from bound variables, naming each column by its
// binding. The table holds its own references.
func (env *Env) frame(bs []Binding) (*dataframe.DataFrame, error) {
	cols := make([]dataframe.ISeries, 0, len(bs))
	for _, b := range bs {
		arr, ok := env.arrays[b.Var]
		if !ok {
			for _, c := range cols {
				c.Release()
			}
			return nil, errors.AssertionFailedf("variable %s is not defined", b.Var)
		}
		arr.Retain()
		cols = append(cols, series.FromArray(b.Column, arr))
	}
	return dataframe.New(cols...), nil
}

// Results hands the returned tables to the caller, who must release them.
func (env *Env) Results() map[string]*dataframe.DataFrame {
	out := env.results
	env.results = make(map[string]*dataframe.DataFrame)
	return out
}

// Release releases every value still held by env.
func (env *Env) Release() {
	for _, arr := range env.arrays {
		arr.Release()
	}
	for _, df := range env.results {
		df.Release()
	}
	env.arrays = make(map[string]arrow.Array)
	env.results = make(map[string]*dataframe.DataFrame)
}

// Runtime is what an Op runs against.
type Runtime struct {
	Exec *Executor
	Comm comm.Communicator
	Env  *Env
}

// Op is one lowered statement.
type Op interface {
	Run(ctx context.Context, rt *Runtime) error
	String() string
}

// SourceOp binds columns of an input table to variables.
type SourceOp struct {
	Table   string
	Columns []Binding
	// Types, keyed by column, are checked against the input when set.
	Types map[string]arrow.DataType
}

func (op *SourceOp) String() string {
	return fmt.Sprintf("source %s %s", op.Table, formatBindings(op.Columns))
}

func (op *SourceOp) Run(_ context.Context, rt *Runtime) error {
	df, ok := rt.Env.inputs[op.Table]
	if !ok {
		return joinerrors.NewInvalidInputError("source", fmt.Sprintf("missing input table %q", op.Table))
	}
	for _, b := range op.Columns {
		col, ok := df.Column(b.Column)
		if !ok {
			return joinerrors.NewColumnNotFoundError("source", b.Column)
		}
		if want, ok := op.Types[b.Column]; ok && !arrow.TypeEqual(want, col.DataType()) {
			return joinerrors.NewValidationError("source", b.Column,
				fmt.Sprintf("expected %s, got %s", want, col.DataType()))
		}
		rt.Env.bind(b.Var, col.Array())
	}
	return nil
}

// CopyOp binds Dst to the value of Src.
type CopyOp struct {
	Dst, Src string
}

func (op *CopyOp) String() string { return op.Dst + " = " + op.Src }

func (op *CopyOp) Run(_ context.Context, rt *Runtime) error {
	arr, ok := rt.Env.arrays[op.Src]
	if !ok {
		return errors.AssertionFailedf("variable %s is not defined", op.Src)
	}
	arr.Retain()
	rt.Env.bind(op.Dst, arr)
	return nil
}

// LenOp stores the local row count of Src in Dst.
type LenOp struct {
	Dst, Src string
}

func (op *LenOp) String() string { return op.Dst + " = len(" + op.Src + ")" }

func (op *LenOp) Run(_ context.Context, rt *Runtime) error {
	arr, ok := rt.Env.arrays[op.Src]
	if !ok {
		return errors.AssertionFailedf("variable %s is not defined", op.Src)
	}
	rt.Env.sizes[op.Dst] = int64(arr.Len())
	return nil
}

// JoinOp runs a distributed join over bound variables.
type JoinOp struct {
	Table string
	Spec  JoinSpec
	Left  []Binding
	Right []Binding
	// Out binds output columns, by name, to variables.
	Out []Binding
}

func (op *JoinOp) String() string {
	return fmt.Sprintf("%s = join [%s=%s] left%s right%s out%s (%s, %s -> %s)",
		op.Table, op.Spec.LeftKey, op.Spec.RightKey,
		formatBindings(op.Left), formatBindings(op.Right), formatBindings(op.Out),
		op.Spec.LeftDist, op.Spec.RightDist, op.Spec.OutDist)
}

func (op *JoinOp) Run(ctx context.Context, rt *Runtime) error {
	left, err := rt.Env.frame(op.Left)
	if err != nil {
		return err
	}
	defer left.Release()
	right, err := rt.Env.frame(op.Right)
	if err != nil {
		return err
	}
	defer right.Release()

	out, err := rt.Exec.Join(ctx, rt.Comm, op.Spec, left, right)
	if err != nil {
		return errors.Wrapf(err, "join %s", op.Table)
	}
	defer out.Release()

	for _, b := range op.Out {
		col, ok := out.Column(b.Column)
		if !ok {
			return errors.AssertionFailedf("join %s produced no column %q", op.Table, b.Column)
		}
		rt.Env.bind(b.Var, col.Array())
	}
	return nil
}

// ReturnOp collects bound variables into a result table.
type ReturnOp struct {
	Table   string
	Columns []Binding
}

func (op *ReturnOp) String() string {
	return fmt.Sprintf("return %s %s", op.Table, formatBindings(op.Columns))
}

func (op *ReturnOp) Run(_ context.Context, rt *Runtime) error {
	df, err := rt.Env.frame(op.Columns)
	if err != nil {
		return err
	}
	if prev, ok := rt.Env.results[op.Table]; ok {
		prev.Release()
	}
	rt.Env.results[op.Table] = df
	return nil
}

// Plan is a lowered program: ops run in order on every rank.
type Plan struct {
	Ops []Op
}

func (p *Plan) String() string {
	var sb strings.Builder
	for _, op := range p.Ops {
		sb.WriteString(op.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Joins returns the join ops of the plan.
func (p *Plan) Joins() []*JoinOp {
	var out []*JoinOp
	for _, op := range p.Ops {
		if j, ok := op.(*JoinOp); ok {
			out = append(out, j)
		}
	}
	return out
}

// Execute runs every op against env.
func (p *Plan) Execute(ctx context.Context, e *Executor, c comm.Communicator, env *Env) error {
	rt := &Runtime{Exec: e, Comm: c, Env: env}
	logger := e.logger.With(zap.Int("rank", c.Rank()))
	for _, op := range p.Ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Debug("running op", zap.Stringer("op", op))
		if err := op.Run(ctx, rt); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the plan on this rank's input partitions and returns this
// rank's partitions of the returned tables, which the caller must release.
func (p *Plan) Run(ctx context.Context, e *Executor, c comm.Communicator, inputs map[string]*dataframe.DataFrame) (map[string]*dataframe.DataFrame, error) {
	env := NewEnv(inputs)
	defer env.Release()
	if err := p.Execute(ctx, e, c, env); err != nil {
		return nil, err
	}
	return env.Results(), nil
}
