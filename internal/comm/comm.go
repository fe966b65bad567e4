// Package comm implements the collectives a distributed join is built on:
// a personalized byte exchange between every pair of workers, the count
// exchange that sizes it, and a typed all-to-all-v over Arrow arrays.
//
// Every collective is a barrier. All ranks of a group must call the same
// collectives in the same order, including ranks with nothing to send.
package comm

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrAborted marks every collective failure. Once a group aborts, every
	// blocked and every later collective on it returns an error marked with
	// ErrAborted.
	ErrAborted = errors.New("collective aborted")

	// ErrBufferAllocation marks a failure to allocate communication buffers.
	ErrBufferAllocation = errors.New("communication buffer allocation failed")

	// ErrCountMismatch marks a collective called with counts that disagree
	// with the group size or with the data handed to it.
	ErrCountMismatch = errors.New("collective count mismatch")
)

// Communicator is one worker's endpoint in a group of Size workers.
type Communicator interface {
	// Rank is this worker's index in [0, Size).
	Rank() int
	// Size is the number of workers in the group.
	Size() int
	// Exchange sends parts[d] to rank d and returns, indexed by source rank,
	// the part every rank sent to this one. len(parts) must equal Size.
	Exchange(ctx context.Context, parts [][]byte) ([][]byte, error)
}
