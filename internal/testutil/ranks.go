package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/paveg/distjoin/internal/comm"
	"github.com/stretchr/testify/require"
)

// RunRanks runs fn once per rank of g, concurrently, and returns the
// per-rank errors. A rank that fails aborts the group so its peers do not
// block forever.
func RunRanks(g *comm.LocalGroup, fn func(c comm.Communicator) error) []error {
	return RunComms(g, toComms(g.Comms()), fn)
}

// RunComms is RunRanks over caller-provided endpoints, such as a FaultyComm
// wrapping one of the group's ranks.
func RunComms(g *comm.LocalGroup, comms []comm.Communicator, fn func(c comm.Communicator) error) []error {
	errs := make([]error, len(comms))
	var wg sync.WaitGroup
	for r, c := range comms {
		wg.Add(1)
		go func(r int, c comm.Communicator) {
			defer wg.Done()
			if err := fn(c); err != nil {
				errs[r] = err
				g.Abort(err)
			}
		}(r, c)
	}
	wg.Wait()
	return errs
}

// RequireNoRankErrors fails the test if any rank failed.
func RequireNoRankErrors(tb testing.TB, errs []error) {
	tb.Helper()
	for r, err := range errs {
		require.NoError(tb, err, "rank %d", r)
	}
}

func toComms(local []*comm.LocalComm) []comm.Communicator {
	out := make([]comm.Communicator, len(local))
	for i, c := range local {
		out[i] = c
	}
	return out
}

// ErrInjected is the failure a FaultyComm injects.
var ErrInjected = errors.New("injected exchange failure")

// FaultyComm wraps a Communicator and fails its FailAt-th Exchange call
// (counting from zero) with ErrInjected.
type FaultyComm struct {
	comm.Communicator
	FailAt int64
	calls  atomic.Int64
}

// Exchange implements comm.Communicator.
func (f *FaultyComm) Exchange(ctx context.Context, parts [][]byte) ([][]byte, error) {
	if f.calls.Add(1)-1 == f.FailAt {
		return nil, ErrInjected
	}
	return f.Communicator.Exchange(ctx, parts)
}

// Calls returns how many exchanges were attempted.
func (f *FaultyComm) Calls() int64 {
	return f.calls.Load()
}
