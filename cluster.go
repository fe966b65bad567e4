package distjoin

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paveg/distjoin/internal/comm"
	"github.com/paveg/distjoin/internal/compiler"
	"github.com/paveg/distjoin/internal/config"
	joinerrors "github.com/paveg/distjoin/internal/errors"
	"github.com/paveg/distjoin/internal/exec"
	"github.com/paveg/distjoin/internal/ir"
	"github.com/paveg/distjoin/internal/logutil"
	"github.com/paveg/distjoin/internal/monitoring"
	"github.com/paveg/distjoin/internal/validation"
)

const (
	leftTable  = "left"
	rightTable = "right"
	outTable   = "out"
)

// JoinOptions specifies parameters for join operations
type JoinOptions struct {
	LeftKey  string
	RightKey string
	// Columns selects output columns by output name. Empty keeps all of
	// them. Right columns whose names collide with left ones carry
	// Config.RightSuffix.
	Columns []string
	// Balanced asks for the output in even blocks. It takes effect only
	// when both inputs are Even; otherwise the output stays Uneven.
	Balanced bool
}

// ClusterOption configures a Cluster.
type ClusterOption func(*Cluster)

// WithConfig sets the configuration. The default is the global one.
func WithConfig(cfg config.Config) ClusterOption {
	return func(c *Cluster) { c.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ClusterOption {
	return func(c *Cluster) { c.logger = logger }
}

// WithAllocator sets the allocator of every array the cluster creates.
func WithAllocator(mem memory.Allocator) ClusterOption {
	return func(c *Cluster) { c.mem = mem }
}

// WithMetrics records compiler passes and join phases in mc.
func WithMetrics(mc *monitoring.MetricsCollector) ClusterOption {
	return func(c *Cluster) { c.metrics = mc }
}

// Cluster is a fixed group of in-process workers. Each call to Join runs
// one goroutine per worker, joined by a fresh communication group.
type Cluster struct {
	workers int
	cfg     config.Config
	logger  *zap.Logger
	mem     memory.Allocator
	metrics *monitoring.MetricsCollector
	tracker *comm.Tracker
	exec    *exec.Executor
}

// NewCluster creates a cluster of workers.
func NewCluster(workers int, opts ...ClusterOption) (*Cluster, error) {
	if err := validation.ValidateWorkers(workers); err != nil {
		return nil, err
	}
	c := &Cluster{workers: workers, cfg: config.GetGlobalConfig(), tracker: &comm.Tracker{}}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg = c.cfg.WithDefaults()
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	if c.mem == nil {
		c.mem = memory.DefaultAllocator
	}
	if c.metrics == nil && c.cfg.MetricsCollection {
		c.metrics = monitoring.NewMetricsCollector(true)
	}
	c.logger = logutil.Adjust(c.logger).Named("cluster")
	c.exec = exec.NewExecutor(
		exec.WithAllocator(c.mem),
		exec.WithConfig(c.cfg),
		exec.WithLogger(c.logger),
		exec.WithMetrics(c.metrics),
		exec.WithTracker(c.tracker),
	)
	return c, nil
}

// Workers returns the number of workers.
func (c *Cluster) Workers() int { return c.workers }

// Metrics returns the collector, nil unless metrics are enabled.
func (c *Cluster) Metrics() *monitoring.MetricsCollector { return c.metrics }

// Tracker returns the counters of communication buffers the cluster
// acquired and released.
func (c *Cluster) Tracker() *comm.Tracker { return c.tracker }

// Join computes the inner join of left and right on LeftKey = RightKey.
// Rows with a null key never match. The inputs stay owned by the caller;
// the result is owned by the caller and its Layout tells how it is spread.
func (c *Cluster) Join(ctx context.Context, left, right *Partitioned, opts JoinOptions) (*Partitioned, error) {
	res, err := c.compile(left, right, opts)
	if err != nil {
		return nil, err
	}

	inputs := make([]map[string]*DataFrame, c.workers)
	for rank := range inputs {
		inputs[rank] = map[string]*DataFrame{leftTable: left.Parts[rank], rightTable: right.Parts[rank]}
	}
	outs, err := c.run(ctx, res.Plan, inputs)
	if err != nil {
		return nil, err
	}

	layout := Uneven
	if joins := res.Plan.Joins(); len(joins) > 0 {
		layout = joins[0].Spec.OutDist
	}
	parts := make([]*DataFrame, c.workers)
	for rank, out := range outs {
		parts[rank] = out[outTable]
	}
	return FromParts(layout, parts...), nil
}

// Explain returns the plan Join would run.
func (c *Cluster) Explain(left, right *Partitioned, opts JoinOptions) (string, error) {
	res, err := c.compile(left, right, opts)
	if err != nil {
		return "", err
	}
	return res.Plan.String(), nil
}

func (c *Cluster) validate(left, right *Partitioned, opts JoinOptions) error {
	v := validation.NewCompoundValidator(
		validation.NewLengthValidator(c.workers, left.Workers(), "Join", "left partitions"),
		validation.NewLengthValidator(c.workers, right.Workers(), "Join", "right partitions"),
		validation.NewPartitionsValidator("Join", leftTable, providers(left)...),
		validation.NewPartitionsValidator("Join", rightTable, providers(right)...),
	)
	if err := v.Validate(); err != nil {
		return err
	}
	return validation.ValidateJoinKeys(left.Parts[0], right.Parts[0], opts.LeftKey, opts.RightKey, "Join")
}

func providers(p *Partitioned) []validation.ColumnProvider {
	out := make([]validation.ColumnProvider, len(p.Parts))
	for i, part := range p.Parts {
		out[i] = part
	}
	return out
}

func (c *Cluster) compile(left, right *Partitioned, opts JoinOptions) (*compiler.Result, error) {
	if err := c.validate(left, right, opts); err != nil {
		return nil, err
	}

	b := ir.NewBuilder(c.cfg.RightSuffix)
	if _, err := b.Source(leftTable, left.Layout, left.Parts[0].Schema().Fields()...); err != nil {
		return nil, joinerrors.NewInternalError("Join", err)
	}
	if _, err := b.Source(rightTable, right.Layout, right.Parts[0].Schema().Fields()...); err != nil {
		return nil, joinerrors.NewInternalError("Join", err)
	}
	if _, err := b.Join(outTable, leftTable, rightTable, opts.LeftKey, opts.RightKey); err != nil {
		return nil, joinerrors.NewInternalError("Join", err)
	}
	var err error
	if opts.Balanced {
		_, err = b.ReturnAs(outTable, Even, opts.Columns...)
	} else {
		_, err = b.Return(outTable, opts.Columns...)
	}
	if err != nil {
		return nil, joinerrors.NewInvalidInputError("Join", err.Error())
	}

	return compiler.Compile(b.Program(),
		compiler.WithConfig(c.cfg),
		compiler.WithLogger(c.logger),
		compiler.WithMetrics(c.metrics),
	)
}

// run executes plan on every worker. A failing worker aborts the group so
// the others return instead of waiting in a collective.
func (c *Cluster) run(
	ctx context.Context,
	plan *exec.Plan,
	inputs []map[string]*DataFrame,
) ([]map[string]*DataFrame, error) {
	group := comm.NewLocalGroup(c.workers,
		comm.WithTimeout(c.cfg.ExchangeTimeout),
		comm.WithLogger(c.logger),
	)
	c.logger.Debug("running plan", zap.Stringer("group", group.ID()), zap.Int("workers", c.workers))

	outs := make([]map[string]*DataFrame, c.workers)
	manager := NewMemoryManager()
	g, gctx := errgroup.WithContext(ctx)
	for rank, cm := range group.Comms() {
		g.Go(func() error {
			out, err := plan.Run(gctx, c.exec, cm, inputs[rank])
			if err != nil {
				group.Abort(err)
				return joinerrors.NewWorkerError("Join", rank, err)
			}
			for _, df := range out {
				manager.Track(df)
			}
			outs[rank] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		manager.ReleaseAll()
		return nil, err
	}
	manager.Forget()
	return outs, nil
}
