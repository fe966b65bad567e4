package comm

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/paveg/distjoin/internal/logutil"
	"go.uber.org/zap"
)

// GroupOption configures a LocalGroup.
type GroupOption func(*LocalGroup)

// WithTimeout bounds how long a rank waits for its peers in one collective.
// A rank that times out aborts the whole group. Zero means no bound.
func WithTimeout(d time.Duration) GroupOption {
	return func(g *LocalGroup) { g.timeout = d }
}

// WithLogger sets the logger used for group lifecycle events.
func WithLogger(logger *zap.Logger) GroupOption {
	return func(g *LocalGroup) { g.logger = logger }
}

// LocalGroup connects Size in-process workers, one goroutine per rank.
// The only state the ranks share is the mailbox of the collective round in
// flight.
type LocalGroup struct {
	id      uuid.UUID
	size    int
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	rounds map[uint64]*round

	abortOnce sync.Once
	done      chan struct{}
	cause     error
}

type round struct {
	parts     [][][]byte // [src][dst]
	arrived   int
	collected int
	ready     chan struct{}
}

// NewLocalGroup creates a group of size workers.
func NewLocalGroup(size int, opts ...GroupOption) *LocalGroup {
	if size <= 0 {
		panic(errors.AssertionFailedf("group size must be positive, got %d", size))
	}
	g := &LocalGroup{
		id:     uuid.New(),
		size:   size,
		rounds: make(map[uint64]*round),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logutil.Adjust(g.logger).With(zap.Stringer("group", g.id))
	return g
}

// ID identifies the group in logs.
func (g *LocalGroup) ID() uuid.UUID {
	return g.id
}

// Size returns the number of workers.
func (g *LocalGroup) Size() int {
	return g.size
}

// Comm returns the endpoint for rank. Each rank's endpoint must be used by
// a single goroutine.
func (g *LocalGroup) Comm(rank int) *LocalComm {
	if rank < 0 || rank >= g.size {
		panic(errors.AssertionFailedf("rank %d out of range [0, %d)", rank, g.size))
	}
	return &LocalComm{group: g, rank: rank}
}

// Comms returns one endpoint per rank.
func (g *LocalGroup) Comms() []*LocalComm {
	out := make([]*LocalComm, g.size)
	for r := range out {
		out[r] = g.Comm(r)
	}
	return out
}

// Abort fails the group. Every blocked and later collective returns an
// error marked with ErrAborted that wraps cause. Only the first cause is
// kept.
func (g *LocalGroup) Abort(cause error) {
	g.abortOnce.Do(func() {
		if cause == nil {
			cause = errors.New("aborted without cause")
		}
		g.cause = cause
		g.logger.Warn("exchange group aborted", zap.Error(cause))
		close(g.done)
	})
}

// Err returns the abort error, or nil while the group is healthy.
func (g *LocalGroup) Err() error {
	select {
	case <-g.done:
		return g.abortErr()
	default:
		return nil
	}
}

func (g *LocalGroup) abortErr() error {
	return errors.Mark(errors.Wrapf(g.cause, "exchange group %s", g.id), ErrAborted)
}

func (g *LocalGroup) post(seq uint64, src int, parts [][]byte) *round {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rounds[seq]
	if !ok {
		r = &round{parts: make([][][]byte, g.size), ready: make(chan struct{})}
		g.rounds[seq] = r
	}
	r.parts[src] = parts
	r.arrived++
	if r.arrived == g.size {
		close(r.ready)
	}
	return r
}

func (g *LocalGroup) collect(seq uint64, r *round, dst int) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([][]byte, g.size)
	for src := range out {
		out[src] = bytes.Clone(r.parts[src][dst])
	}
	r.collected++
	if r.collected == g.size {
		delete(g.rounds, seq)
	}
	return out
}

// LocalComm is one rank's endpoint of a LocalGroup.
type LocalComm struct {
	group *LocalGroup
	rank  int
	seq   uint64
}

var _ Communicator = (*LocalComm)(nil)

// Rank implements Communicator.
func (c *LocalComm) Rank() int { return c.rank }

// Size implements Communicator.
func (c *LocalComm) Size() int { return c.group.size }

// Group returns the group the endpoint belongs to.
func (c *LocalComm) Group() *LocalGroup { return c.group }

// Exchange implements Communicator.
func (c *LocalComm) Exchange(ctx context.Context, parts [][]byte) ([][]byte, error) {
	g := c.group
	if len(parts) != g.size {
		err := errors.Mark(
			errors.Newf("rank %d sent %d parts to a group of %d", c.rank, len(parts), g.size),
			ErrCountMismatch)
		g.Abort(err)
		return nil, g.abortErr()
	}
	if err := g.Err(); err != nil {
		return nil, err
	}

	seq := c.seq
	c.seq++
	r := g.post(seq, c.rank, parts)

	var timeout <-chan time.Time
	if g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-r.ready:
		return g.collect(seq, r, c.rank), nil
	case <-g.done:
		return nil, g.abortErr()
	case <-ctx.Done():
		g.Abort(errors.Wrapf(ctx.Err(), "rank %d", c.rank))
		return nil, g.abortErr()
	case <-timeout:
		g.Abort(errors.Newf("rank %d timed out after %s waiting for round %d", c.rank, g.timeout, seq))
		return nil, g.abortErr()
	}
}
