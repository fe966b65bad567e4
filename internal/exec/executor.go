// Package exec runs distributed joins on one worker: it routes both inputs
// to the rank owning each key, joins the co-located rows locally, and
// materializes the output columns.
package exec

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/paveg/distjoin/internal/comm"
	"github.com/paveg/distjoin/internal/config"
	"github.com/paveg/distjoin/internal/dataframe"
	"github.com/paveg/distjoin/internal/dist"
	joinerrors "github.com/paveg/distjoin/internal/errors"
	"github.com/paveg/distjoin/internal/logutil"
	"github.com/paveg/distjoin/internal/monitoring"
	"github.com/paveg/distjoin/internal/parallel"
	"github.com/paveg/distjoin/internal/series"
	"github.com/paveg/distjoin/internal/shuffle"
	"github.com/paveg/distjoin/internal/validation"
)

// Side names an input of a join.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// OutputColumn produces output column Name from input column Column of Side.
type OutputColumn struct {
	Name   string
	Side   Side
	Column string
}

// JoinSpec describes one inner equi-join.
type JoinSpec struct {
	LeftKey  string
	RightKey string
	// Output lists the produced columns in order. It may omit the keys.
	Output []OutputColumn
	// LeftDist and RightDist describe how the inputs are laid out. A REP
	// input holds the full table on every rank.
	LeftDist  dist.Distribution
	RightDist dist.Distribution
	// OutDist is the layout the output must have. OneD rebalances the output
	// into even blocks.
	OutDist dist.Distribution
}

// Local reports whether the join needs no exchange.
func (s JoinSpec) Local() bool {
	return s.LeftDist == dist.REP && s.RightDist == dist.REP
}

// Option configures an Executor.
type Option func(*Executor)

// WithAllocator sets the allocator for every array the executor creates.
func WithAllocator(mem memory.Allocator) Option {
	return func(e *Executor) { e.mem = mem }
}

// WithConfig sets the executor configuration.
func WithConfig(cfg config.Config) Option {
	return func(e *Executor) { e.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics records every join phase in mc.
func WithMetrics(mc *monitoring.MetricsCollector) Option {
	return func(e *Executor) { e.metrics = mc }
}

// WithTracker counts buffer handle acquisitions and releases in t.
func WithTracker(t *comm.Tracker) Option {
	return func(e *Executor) { e.tracker = t }
}

// WithMemoryMonitor charges communication buffers to m.
func WithMemoryMonitor(m *parallel.MemoryMonitor) Option {
	return func(e *Executor) { e.monitor = m }
}

// Executor runs joins for one rank. It is safe for concurrent use by
// different ranks when the allocator, collector and monitor are.
type Executor struct {
	mem     memory.Allocator
	cfg     config.Config
	logger  *zap.Logger
	metrics *monitoring.MetricsCollector
	tracker *comm.Tracker
	monitor *parallel.MemoryMonitor
}

// NewExecutor creates an executor. Unset options default to
// memory.DefaultAllocator, config.GetGlobalConfig and a no-op logger.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{cfg: config.GetGlobalConfig()}
	for _, opt := range opts {
		opt(e)
	}
	if e.mem == nil {
		e.mem = memory.DefaultAllocator
	}
	e.logger = logutil.Adjust(e.logger)
	if e.monitor == nil {
		e.monitor = parallel.NewMemoryMonitorFromConfig(e.cfg)
	}
	return e
}

// Allocator returns the executor's allocator.
func (e *Executor) Allocator() memory.Allocator { return e.mem }

// Config returns the executor's configuration.
func (e *Executor) Config() config.Config { return e.cfg }

// Metrics returns the executor's collector, possibly nil.
func (e *Executor) Metrics() *monitoring.MetricsCollector { return e.metrics }

func (e *Executor) shuffleOptions() shuffle.Options {
	return shuffle.Options{
		Seed:     e.cfg.HashSeed,
		Buffers:  comm.BufferOptions{Allocator: e.mem, Monitor: e.monitor, Tracker: e.tracker},
		Exchange: comm.ExchangeOptions{Allocator: e.mem, Compression: e.cfg.Compression},
	}
}

func (e *Executor) probeOptions() ProbeOptions {
	return ProbeOptions{
		Seed:              e.cfg.HashSeed,
		ParallelThreshold: e.cfg.ParallelThreshold,
		Workers:           e.monitor.AdjustParallelism(),
		ChunkSize:         e.cfg.ChunkSize,
	}
}

// Validate checks spec against the input schemas.
func (spec JoinSpec) Validate(left, right *dataframe.DataFrame) error {
	if err := validation.ValidateJoinKeys(left, right, spec.LeftKey, spec.RightKey, "join"); err != nil {
		return err
	}
	if len(spec.Output) == 0 {
		return joinerrors.NewInvalidInputError("join", "no output columns")
	}
	seen := make(map[string]bool, len(spec.Output))
	for _, oc := range spec.Output {
		if seen[oc.Name] {
			return joinerrors.NewValidationError("join", oc.Name, "duplicate output column")
		}
		seen[oc.Name] = true
		in := left
		if oc.Side == Right {
			in = right
		}
		if err := validation.ValidateColumns(in, "join", oc.Column); err != nil {
			return err
		}
	}
	return nil
}

// needed returns the columns of side the join reads: the key first, then
// every output column of that side.
func (spec JoinSpec) needed(side Side) []string {
	key := spec.LeftKey
	if side == Right {
		key = spec.RightKey
	}
	cols := []string{key}
	seen := map[string]bool{key: true}
	for _, oc := range spec.Output {
		if oc.Side == side && !seen[oc.Column] {
			cols = append(cols, oc.Column)
			seen[oc.Column] = true
		}
	}
	return cols
}

// Join runs spec on this rank's partitions of left and right and returns
// this rank's partition of the output. Every rank of the group must call
// Join with the same spec. The caller keeps ownership of the inputs and
// owns the result.
func (e *Executor) Join(
	ctx context.Context,
	c comm.Communicator,
	spec JoinSpec,
	left, right *dataframe.DataFrame,
) (*dataframe.DataFrame, error) {
	if err := spec.Validate(left, right); err != nil {
		return nil, err
	}
	rank := c.Rank()
	logger := logutil.ForRank(e.logger, rank)

	lparts, rparts, err := e.colocate(ctx, c, spec, left, right)
	if err != nil {
		return nil, err
	}
	defer lparts.Release()
	defer rparts.Release()

	var matches Matches
	err = e.metrics.RecordOperation("local_join", rank, func(m *monitoring.OperationMetrics) error {
		lk, _ := lparts.Column(spec.LeftKey)
		rk, _ := rparts.Column(spec.RightKey)
		la, ra := lk.Array(), rk.Array()
		defer la.Release()
		defer ra.Release()

		var err error
		matches, err = joinArrays(ctx, la, ra, e.probeOptions())
		m.RowsProcessed = int64(matches.Len())
		m.Parallel = matches.Parallel
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "rank %d: local join", rank)
	}
	logger.Debug("local join",
		zap.Int("left_rows", lparts.Len()),
		zap.Int("right_rows", rparts.Len()),
		zap.Int("matches", matches.Len()),
		zap.Bool("build_left", matches.BuildLeft),
		zap.Bool("parallel", matches.Parallel))

	var out *dataframe.DataFrame
	err = e.metrics.RecordOperation("materialize", rank, func(m *monitoring.OperationMetrics) error {
		var err error
		out, err = e.materialize(ctx, spec, lparts, rparts, matches)
		m.RowsProcessed = int64(matches.Len())
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "rank %d: materializing output", rank)
	}

	if spec.OutDist != dist.OneD || spec.Local() {
		return out, nil
	}

	var balanced *dataframe.DataFrame
	err = e.metrics.RecordOperation("rebalance", rank, func(m *monitoring.OperationMetrics) error {
		var (
			st  shuffle.Stats
			err error
		)
		balanced, st, err = shuffle.Rebalance(ctx, c, out, e.shuffleOptions())
		m.RowsProcessed = st.RecvRows
		m.BytesExchanged = st.BytesExchanged
		return err
	})
	out.Release()
	if err != nil {
		return nil, errors.Wrapf(err, "rank %d", rank)
	}
	logger.Debug("rebalanced output", zap.Int("rows", balanced.Len()))
	return balanced, nil
}

// colocate returns, for each side, the needed columns of the rows this rank
// owns. A REP side already holds every row, so it is filtered locally; a
// partitioned side is shuffled. Both REP inputs stay as they are.
func (e *Executor) colocate(
	ctx context.Context,
	c comm.Communicator,
	spec JoinSpec,
	left, right *dataframe.DataFrame,
) (lparts, rparts *dataframe.DataFrame, err error) {
	lsel := left.Select(spec.needed(Left)...)
	rsel := right.Select(spec.needed(Right)...)
	if spec.Local() {
		return lsel, rsel, nil
	}
	defer lsel.Release()
	defer rsel.Release()

	lparts, err = e.colocateSide(ctx, c, lsel, spec.LeftKey, spec.LeftDist, Left)
	if err != nil {
		return nil, nil, err
	}
	rparts, err = e.colocateSide(ctx, c, rsel, spec.RightKey, spec.RightDist, Right)
	if err != nil {
		lparts.Release()
		return nil, nil, err
	}
	return lparts, rparts, nil
}

func (e *Executor) colocateSide(
	ctx context.Context,
	c comm.Communicator,
	df *dataframe.DataFrame,
	key string,
	d dist.Distribution,
	side Side,
) (*dataframe.DataFrame, error) {
	rank := c.Rank()
	var out *dataframe.DataFrame
	err := e.metrics.RecordOperation("shuffle_"+side.String(), rank, func(m *monitoring.OperationMetrics) error {
		if d == dist.REP {
			var err error
			out, err = e.ownedRows(ctx, c, df, key)
			if out != nil {
				m.RowsProcessed = int64(out.Len())
			}
			return err
		}
		res, st, err := shuffle.Shuffle(ctx, c, df, key, e.shuffleOptions())
		out = res
		m.RowsProcessed = st.RecvRows
		m.BytesExchanged = st.BytesExchanged
		e.logger.Debug("shuffled",
			zap.Int("rank", rank),
			zap.Stringer("side", side),
			zap.Int64("sent", st.SentRows),
			zap.Int64("received", st.RecvRows),
			zap.Int64("dropped_null_keys", st.DroppedRows),
			zap.Int64("bytes", st.BytesExchanged))
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "rank %d: co-locating %s input", rank, side)
	}
	return out, nil
}

// ownedRows keeps the rows of a replicated table whose key this rank owns.
func (e *Executor) ownedRows(ctx context.Context, c comm.Communicator, df *dataframe.DataFrame, key string) (*dataframe.DataFrame, error) {
	keyCol, _ := df.Column(key)
	keyArr := keyCol.Array()
	owners, err := shuffle.Owners(keyArr, c.Size(), e.cfg.HashSeed)
	keyArr.Release()
	if err != nil {
		return nil, err
	}
	rows := shuffle.NewRouting(owners, c.Size()).Rows(c.Rank()).ToArray()
	indices := make([]int, len(rows))
	for i, r := range rows {
		indices[i] = int(r)
	}
	return e.take(ctx, df, indices)
}

// materialize gathers the output columns at the matched rows.
func (e *Executor) materialize(
	ctx context.Context,
	spec JoinSpec,
	left, right *dataframe.DataFrame,
	m Matches,
) (*dataframe.DataFrame, error) {
	cols := make([]dataframe.ISeries, 0, len(spec.Output))
	release := func() {
		for _, s := range cols {
			s.Release()
		}
	}
	for _, oc := range spec.Output {
		in, idx := left, m.Left
		if oc.Side == Right {
			in, idx = right, m.Right
		}
		col, _ := in.Column(oc.Column)
		arr := col.Array()
		taken, err := series.Take(ctx, arr, idx, e.mem)
		arr.Release()
		if err != nil {
			release()
			return nil, errors.Wrapf(err, "column %q", oc.Name)
		}
		cols = append(cols, series.FromArray(oc.Name, taken))
	}
	return dataframe.New(cols...), nil
}

// take gathers the rows of df at indices.
func (e *Executor) take(ctx context.Context, df *dataframe.DataFrame, indices []int) (*dataframe.DataFrame, error) {
	cols := make([]dataframe.ISeries, 0, df.Width())
	for _, name := range df.Columns() {
		col, _ := df.Column(name)
		arr := col.Array()
		taken, err := series.Take(ctx, arr, indices, e.mem)
		arr.Release()
		if err != nil {
			for _, s := range cols {
				s.Release()
			}
			return nil, errors.Wrapf(err, "column %q", name)
		}
		cols = append(cols, series.FromArray(name, taken))
	}
	return dataframe.New(cols...), nil
}
