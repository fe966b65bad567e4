// Package shuffle decides which worker owns each row of a key-partitioned
// table and moves rows to their owners.
//
// Ownership is xxhash of the key's canonical bytes modulo the worker count.
// Integer keys of every width hash as their int64 value, so an int32 column
// and an int64 column holding the same values route identically. Null keys
// have no owner.
package shuffle

import (
	"encoding/binary"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"

	joinerrors "github.com/paveg/distjoin/internal/errors"
)

// NoOwner marks a row whose key is null.
const NoOwner = -1

// Key is the set of key types a distributed join accepts.
type Key interface {
	constraints.Integer | constraints.Float | ~string
}

// Values is a typed, read-only view over a key column. The typed Arrow
// arrays (*array.Int64, *array.String, ...) satisfy it directly.
type Values[K Key] interface {
	Len() int
	Value(i int) K
	IsNull(i int) bool
}

// Hasher hashes keys of type K with a fixed seed. It is not safe for
// concurrent use.
type Hasher[K Key] struct {
	seed   uint64
	digest *xxhash.Digest
	buf    [8]byte
}

// NewHasher returns a hasher seeded with seed.
func NewHasher[K Key](seed uint64) *Hasher[K] {
	return &Hasher[K]{seed: seed, digest: xxhash.NewWithSeed(seed)}
}

// Sum64 returns the hash of k's canonical bytes.
func (h *Hasher[K]) Sum64(k K) uint64 {
	h.digest.ResetWithSeed(h.seed)
	switch v := any(k).(type) {
	case string:
		_, _ = h.digest.WriteString(v)
		return h.digest.Sum64()
	case float32:
		h.putFloat(float64(v))
	case float64:
		h.putFloat(v)
	case int:
		h.putInt(int64(v))
	case int8:
		h.putInt(int64(v))
	case int16:
		h.putInt(int64(v))
	case int32:
		h.putInt(int64(v))
	case int64:
		h.putInt(v)
	case uint:
		h.putUint(uint64(v))
	case uint8:
		h.putUint(uint64(v))
	case uint16:
		h.putUint(uint64(v))
	case uint32:
		h.putUint(uint64(v))
	case uint64:
		h.putUint(v)
	case uintptr:
		h.putUint(uint64(v))
	default:
		panic(errors.AssertionFailedf("unsupported key type %T", k))
	}
	_, _ = h.digest.Write(h.buf[:])
	return h.digest.Sum64()
}

func (h *Hasher[K]) putInt(v int64) {
	binary.LittleEndian.PutUint64(h.buf[:], uint64(v))
}

func (h *Hasher[K]) putUint(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
}

// putFloat canonicalizes -0 to 0 and every NaN to one bit pattern.
func (h *Hasher[K]) putFloat(v float64) {
	switch {
	case v == 0:
		v = 0
	case math.IsNaN(v):
		v = math.NaN()
	}
	binary.LittleEndian.PutUint64(h.buf[:], math.Float64bits(v))
}

// Owner returns the rank in [0, workers) that owns k.
func Owner[K Key](k K, workers int, seed uint64) int {
	return owner(NewHasher[K](seed).Sum64(k), workers)
}

func owner(h uint64, workers int) int {
	return int(h % uint64(workers))
}

// OwnersOf returns the owning rank of every row of vals, NoOwner for nulls.
func OwnersOf[K Key](vals Values[K], workers int, seed uint64) []int32 {
	h := NewHasher[K](seed)
	out := make([]int32, vals.Len())
	for i := range out {
		if vals.IsNull(i) {
			out[i] = NoOwner
			continue
		}
		out[i] = int32(owner(h.Sum64(vals.Value(i)), workers))
	}
	return out
}

// Owners dispatches OwnersOf on the Arrow type of arr.
func Owners(arr arrow.Array, workers int, seed uint64) ([]int32, error) {
	if workers <= 0 {
		return nil, joinerrors.ErrNoWorkers
	}
	switch a := arr.(type) {
	case *array.Int8:
		return OwnersOf[int8](a, workers, seed), nil
	case *array.Int16:
		return OwnersOf[int16](a, workers, seed), nil
	case *array.Int32:
		return OwnersOf[int32](a, workers, seed), nil
	case *array.Int64:
		return OwnersOf[int64](a, workers, seed), nil
	case *array.Uint8:
		return OwnersOf[uint8](a, workers, seed), nil
	case *array.Uint16:
		return OwnersOf[uint16](a, workers, seed), nil
	case *array.Uint32:
		return OwnersOf[uint32](a, workers, seed), nil
	case *array.Uint64:
		return OwnersOf[uint64](a, workers, seed), nil
	case *array.Float32:
		return OwnersOf[float32](a, workers, seed), nil
	case *array.Float64:
		return OwnersOf[float64](a, workers, seed), nil
	case *array.String:
		return OwnersOf[string](a, workers, seed), nil
	case *array.LargeString:
		return OwnersOf[string](a, workers, seed), nil
	default:
		return nil, joinerrors.NewUnsupportedTypeError("shuffle", "", arr.DataType().String())
	}
}

// IsKeyType reports whether columns of type dt can be join keys.
func IsKeyType(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT32, arrow.FLOAT64, arrow.STRING, arrow.LARGE_STRING:
		return true
	default:
		return false
	}
}
