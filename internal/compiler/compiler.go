// Package compiler turns an ir.Program into an executable plan: it solves
// types, propagates copies, removes dead code, records shapes, labels every
// column with a distribution, and lowers the statements to exec ops.
package compiler

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/paveg/distjoin/internal/config"
	joinerrors "github.com/paveg/distjoin/internal/errors"
	"github.com/paveg/distjoin/internal/exec"
	"github.com/paveg/distjoin/internal/ir"
	"github.com/paveg/distjoin/internal/logutil"
	"github.com/paveg/distjoin/internal/monitoring"
)

var lenType = arrow.PrimitiveTypes.Int64

// DefaultPasses returns the standard pipeline.
func DefaultPasses() []Pass {
	return []Pass{
		TypePass{},
		CopyPropagationPass{},
		LivenessPass{},
		ShapePass{},
		DistributionPass{},
	}
}

// Option configures Compile.
type Option func(*options)

type options struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *monitoring.MetricsCollector
	passes  []Pass
	liveOut ir.VarSet
}

// WithConfig sets the configuration. MaxFixpointIterations bounds the
// distribution analysis.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records the duration of every pass in mc.
func WithMetrics(mc *monitoring.MetricsCollector) Option {
	return func(o *options) { o.metrics = mc }
}

// WithPasses replaces the pass pipeline.
func WithPasses(passes ...Pass) Option {
	return func(o *options) { o.passes = passes }
}

// WithLiveOut keeps vars alive past the end of the program.
func WithLiveOut(vars ir.VarSet) Option {
	return func(o *options) { o.liveOut = vars }
}

// Result is a compiled program.
type Result struct {
	State
	Plan *exec.Plan
}

// Compile runs the pass pipeline over p, which it rewrites in place, and
// lowers the result. A join whose key types differ fails with a
// *typeinfer.MismatchError.
func Compile(p *ir.Program, opts ...Option) (*Result, error) {
	o := options{cfg: config.GetGlobalConfig(), passes: DefaultPasses()}
	for _, opt := range opts {
		opt(&o)
	}
	o.cfg = o.cfg.WithDefaults()
	logger := logutil.Adjust(o.logger).Named("compiler")

	res := &Result{State: State{
		Program:       p,
		LiveOut:       o.liveOut,
		maxIterations: o.cfg.MaxFixpointIterations,
		logger:        logger,
	}}
	for _, pass := range o.passes {
		err := o.metrics.RecordOperation("compile_"+pass.Name(), joinerrors.NoRank, func(m *monitoring.OperationMetrics) error {
			err := pass.Run(&res.State)
			m.RowsProcessed = int64(len(p.Stmts))
			return err
		})
		if err != nil {
			return nil, errors.Wrapf(err, "%s pass", pass.Name())
		}
	}

	plan, err := Lower(p, res.Dists, logger)
	if err != nil {
		return nil, err
	}
	res.Plan = plan
	logger.Debug("compiled", zap.Int("statements", len(p.Stmts)), zap.Int("ops", len(plan.Ops)))
	return res, nil
}
