package exec

import (
	"github.com/paveg/distjoin/internal/shuffle"
)

const (
	// hashMapLoadFactor is the maximum keys per bucket before growing.
	hashMapLoadFactor = 0.75
	// hashMapCapacityFactor oversizes the initial bucket count.
	hashMapCapacityFactor = 1.3
	// hashMapGrowthFactor multiplies the bucket count on resize.
	hashMapGrowthFactor = 2
	// tableSeedSalt separates the build table's hash from the ownership hash.
	// Every key a rank holds shares its ownership hash modulo the worker
	// count, so reusing that hash would cluster keys into few buckets.
	tableSeedSalt = 0x9e3779b97f4a7c15
)

// multiMap maps a key to the row indices holding it, in insertion order.
type multiMap[K shuffle.Key] struct {
	buckets  [][]hashEntry[K]
	mask     uint64
	size     int
	seed     uint64
	hasher   *shuffle.Hasher[K]
	capacity int
}

type hashEntry[K shuffle.Key] struct {
	hash uint64
	key  K
	rows []int
}

func newMultiMap[K shuffle.Key](estimatedSize int, seed uint64) *multiMap[K] {
	capacity := nextPowerOfTwo(int(float64(estimatedSize) * hashMapCapacityFactor))
	seed ^= tableSeedSalt
	return &multiMap[K]{
		buckets:  make([][]hashEntry[K], capacity),
		mask:     uint64(capacity - 1),
		seed:     seed,
		hasher:   shuffle.NewHasher[K](seed),
		capacity: capacity,
	}
}

// newHasher returns a hasher compatible with the map, for use by a
// concurrent prober.
func (m *multiMap[K]) newHasher() *shuffle.Hasher[K] {
	return shuffle.NewHasher[K](m.seed)
}

// put appends row to the rows of key.
func (m *multiMap[K]) put(key K, row int) {
	hash := m.hasher.Sum64(key)
	b := hash & m.mask

	for i := range m.buckets[b] {
		e := &m.buckets[b][i]
		if e.hash == hash && e.key == key {
			e.rows = append(e.rows, row)
			return
		}
	}

	m.buckets[b] = append(m.buckets[b], hashEntry[K]{hash: hash, key: key, rows: []int{row}})
	m.size++

	if float64(m.size) > float64(m.capacity)*hashMapLoadFactor {
		m.resize()
	}
}

// get returns the rows of key, whose hash under the map's seed is hash.
func (m *multiMap[K]) get(hash uint64, key K) []int {
	for _, e := range m.buckets[hash&m.mask] {
		if e.hash == hash && e.key == key {
			return e.rows
		}
	}
	return nil
}

// len returns the number of distinct keys.
func (m *multiMap[K]) len() int {
	return m.size
}

// resize doubles the capacity and rehashes all entries.
func (m *multiMap[K]) resize() {
	newCapacity := m.capacity * hashMapGrowthFactor
	newMask := uint64(newCapacity - 1)
	newBuckets := make([][]hashEntry[K], newCapacity)

	for _, bucket := range m.buckets {
		for _, e := range bucket {
			newBuckets[e.hash&newMask] = append(newBuckets[e.hash&newMask], e)
		}
	}

	m.buckets = newBuckets
	m.mask = newMask
	m.capacity = newCapacity
}

// nextPowerOfTwo returns the next power of two >= n.
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	power := 1
	for power < n {
		power <<= 1
	}
	return power
}
