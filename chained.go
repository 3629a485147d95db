// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hashtab

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hashtab/internal/pow2"
	"golang.org/x/sys/cpu"
)

// defaultNumBuckets is the number of buckets of a ChainedTable created with
// minBuckets <= 0.
const defaultNumBuckets = 128

// bucket is one chain of a ChainedTable.
type bucket[V any] struct {
	mu     sync.RWMutex
	values []V
	_      cpu.CacheLinePad
}

// ChainedTable is a goroutine-safe separate chaining hash table. The number
// of buckets is fixed when the table is created: there is no rehashing, so
// size the table generously for the expected number of values.
//
// Each bucket has its own reader/writer lock. Operations on keys in
// different buckets proceed in parallel, while aggregate operations visit
// the buckets one at a time and are not atomic with respect to concurrent
// writers.
type ChainedTable[K comparable, V any] struct {
	buckets []bucket[V]
	mask    uint64
	// size is updated while the bucket that changed is write locked.
	size    atomic.Int64
	extract KeyFunc[K, V]
	hash    HashFunc[K]
	equal   EqualFunc[K]
}

// NewChained constructs a ChainedTable with at least minBuckets buckets,
// rounded up to a power of two and to no less than 2. A minBuckets of zero
// or less selects the default of 128. Buckets grow with append:
// WithAllocator is ignored.
func NewChained[K comparable, V any](
	extract KeyFunc[K, V], minBuckets int, options ...Option[K],
) *ChainedTable[K, V] {
	c := makeConfig(options)
	if minBuckets <= 0 {
		minBuckets = defaultNumBuckets
	}
	n, ok := pow2.RoundUp(max(minBuckets, 2))
	if !ok {
		panic(errors.Wrapf(ErrOverflow, "chained table with %d buckets", minBuckets))
	}
	return &ChainedTable[K, V]{
		buckets: make([]bucket[V], n),
		mask:    uint64(n - 1),
		extract: extract,
		hash:    c.hash,
		equal:   c.equal,
	}
}

func (t *ChainedTable[K, V]) bucketFor(key K) *bucket[V] {
	return &t.buckets[t.hash(key)&t.mask]
}

// indexOf returns the position of key within b, or -1. The caller holds
// b.mu.
func (t *ChainedTable[K, V]) indexOf(b *bucket[V], key K) int {
	for i := range b.values {
		if t.equal(t.extract(&b.values[i]), key) {
			return i
		}
	}
	return -1
}

// removeAt removes the i-th value of b by moving the last value into its
// place. Order within a bucket is not meaningful. The caller holds b.mu.
func (b *bucket[V]) removeAt(i int) {
	last := len(b.values) - 1
	b.values[i] = b.values[last]
	var zero V
	b.values[last] = zero
	b.values = b.values[:last]
}

// Insert inserts value unless a value with an equal key is already present.
// It returns false, leaving the existing value unchanged, for a duplicate.
func (t *ChainedTable[K, V]) Insert(value V) bool {
	b := t.bucketFor(t.extract(&value))
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.indexOf(b, t.extract(&value)) >= 0 {
		return false
	}
	b.values = append(b.values, value)
	t.size.Add(1)
	return true
}

// Emplace inserts the value returned by newValue under key unless key is
// already present. newValue is called with the bucket locked and only if the
// value is inserted.
func (t *ChainedTable[K, V]) Emplace(key K, newValue func() V) bool {
	b := t.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.indexOf(b, key) >= 0 {
		return false
	}
	b.values = append(b.values, newValue())
	t.size.Add(1)
	return true
}

// EmplaceOrAssign inserts value, or replaces the value stored under the same
// key. It returns true if value was inserted and false if it was assigned.
func (t *ChainedTable[K, V]) EmplaceOrAssign(value V) bool {
	key := t.extract(&value)
	b := t.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := t.indexOf(b, key); i >= 0 {
		b.values[i] = value
		return false
	}
	b.values = append(b.values, value)
	t.size.Add(1)
	return true
}

// Assign replaces the value stored under the key of value. It returns false,
// without inserting anything, if the key is absent.
func (t *ChainedTable[K, V]) Assign(value V) bool {
	key := t.extract(&value)
	b := t.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	i := t.indexOf(b, key)
	if i < 0 {
		return false
	}
	b.values[i] = value
	return true
}

// GetOrCreate returns the value stored under key, first inserting the value
// returned by newValue if key is absent.
func (t *ChainedTable[K, V]) GetOrCreate(key K, newValue func() V) V {
	b := t.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := t.indexOf(b, key); i >= 0 {
		return b.values[i]
	}
	v := newValue()
	b.values = append(b.values, v)
	t.size.Add(1)
	return v
}

// At returns the value stored under key, or an error wrapping
// ErrKeyNotFound.
func (t *ChainedTable[K, V]) At(key K) (V, error) {
	v, ok := t.TryGet(key)
	if !ok {
		return v, keyNotFound(key)
	}
	return v, nil
}

// TryGet returns the value stored under key, with ok=false if the key is
// not present.
func (t *ChainedTable[K, V]) TryGet(key K) (value V, ok bool) {
	b := t.bucketFor(key)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i := t.indexOf(b, key); i >= 0 {
		return b.values[i], true
	}
	return value, false
}

// Has reports whether key is present.
func (t *ChainedTable[K, V]) Has(key K) bool {
	b := t.bucketFor(key)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return t.indexOf(b, key) >= 0
}

// Erase removes the value stored under key, returning false if the key is
// not present.
func (t *ChainedTable[K, V]) Erase(key K) bool {
	b := t.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	i := t.indexOf(b, key)
	if i < 0 {
		return false
	}
	b.removeAt(i)
	t.size.Add(-1)
	return true
}

// readBucket calls fn with bucket i while holding its read lock.
func (t *ChainedTable[K, V]) readBucket(i int, fn func(b *bucket[V])) {
	b := &t.buckets[i]
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn(b)
}

// writeBucket calls fn with bucket i while holding its write lock.
func (t *ChainedTable[K, V]) writeBucket(i int, fn func(b *bucket[V])) {
	b := &t.buckets[i]
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

// ForAll calls fn for every value, one bucket at a time. Each bucket is read
// locked while it is visited, so fn must not call back into the table.
func (t *ChainedTable[K, V]) ForAll(fn func(v V)) {
	for i := range t.buckets {
		t.readBucket(i, func(b *bucket[V]) {
			for j := range b.values {
				fn(b.values[j])
			}
		})
	}
}

// EraseIf removes every value for which pred returns true and returns the
// number of values removed. Buckets are visited one at a time.
func (t *ChainedTable[K, V]) EraseIf(pred func(v V) bool) int {
	var removed int
	for i := range t.buckets {
		t.writeBucket(i, func(b *bucket[V]) {
			for j := 0; j < len(b.values); {
				if pred(b.values[j]) {
					// removeAt moves an unvisited value into j.
					b.removeAt(j)
					t.size.Add(-1)
					removed++
				} else {
					j++
				}
			}
		})
	}
	return removed
}

// Clear erases every value, one bucket at a time.
func (t *ChainedTable[K, V]) Clear() {
	for i := range t.buckets {
		t.writeBucket(i, func(b *bucket[V]) {
			n := len(b.values)
			clear(b.values)
			b.values = b.values[:0]
			t.size.Add(int64(-n))
		})
	}
}

// CheckAllSatisfy reports whether pred holds for every value.
func (t *ChainedTable[K, V]) CheckAllSatisfy(pred func(v V) bool) bool {
	return !t.CheckAnySatisfy(func(v V) bool {
		return !pred(v)
	})
}

// CheckAnySatisfy reports whether pred holds for at least one value.
func (t *ChainedTable[K, V]) CheckAnySatisfy(pred func(v V) bool) bool {
	var found bool
	for i := 0; i < len(t.buckets) && !found; i++ {
		t.readBucket(i, func(b *bucket[V]) {
			for j := range b.values {
				if pred(b.values[j]) {
					found = true
					return
				}
			}
		})
	}
	return found
}

// CheckNoneSatisfy reports whether pred holds for no value.
func (t *ChainedTable[K, V]) CheckNoneSatisfy(pred func(v V) bool) bool {
	return !t.CheckAnySatisfy(pred)
}

// Len returns the number of values. It is exact with respect to operations
// that have completed.
func (t *ChainedTable[K, V]) Len() int {
	return int(t.size.Load())
}

// Empty reports whether Len() == 0.
func (t *ChainedTable[K, V]) Empty() bool {
	return t.Len() == 0
}

// NumBuckets returns the number of buckets.
func (t *ChainedTable[K, V]) NumBuckets() int {
	return len(t.buckets)
}

// LoadFactor returns the average number of values per bucket.
func (t *ChainedTable[K, V]) LoadFactor() float64 {
	return float64(t.Len()) / float64(len(t.buckets))
}
