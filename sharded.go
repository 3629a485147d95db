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

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hashtab/internal/pow2"
	"golang.org/x/sys/cpu"
)

// defaultShardCount is the number of shards of a ShardedTable when
// WithShardCount is not specified.
const defaultShardCount = 16

// shardEntry is the value stored in a shard's Table: the caller's value and
// the hash bits left over after shard selection. Keeping the bits alongside
// the value lets the shard rehash without calling the user's hash function.
type shardEntry[V any] struct {
	value V
	hash  uint64
}

// shard is one independently locked partition of a ShardedTable. Shards are
// padded to avoid false sharing between the locks of neighboring shards.
type shard[K comparable, V any] struct {
	mu    sync.RWMutex
	table *Table[CachedKey[K], shardEntry[V]]
	_     cpu.CacheLinePad
}

// ShardedTable is a goroutine-safe open addressing hash table made of a
// fixed number of shards, each a Table guarded by its own lock. See the
// package documentation for how keys are routed to shards.
//
// Operations on keys that map to different shards proceed in parallel.
// Aggregate operations visit the shards one at a time and are not atomic
// with respect to concurrent writers.
type ShardedTable[K comparable, V any] struct {
	shards  []shard[K, V]
	shift   uint
	extract KeyFunc[K, V]
	hash    HashFunc[K]
	equal   EqualFunc[K]
	// exclusiveReads makes read operations take the write side of the shard
	// lock.
	exclusiveReads bool
}

// NewSharded constructs a ShardedTable whose shards each start with at least
// minNodesPerShard slots. The number of shards is set with WithShardCount.
// Shards allocate their slots with make: WithAllocator is ignored.
func NewSharded[K comparable, V any](
	extract KeyFunc[K, V], minNodesPerShard int, options ...Option[K],
) *ShardedTable[K, V] {
	c := makeConfig(options)
	n := roundShardCount(c.shardCount)
	t := &ShardedTable[K, V]{
		shards:         make([]shard[K, V], n),
		shift:          pow2.Log2(n),
		extract:        extract,
		hash:           c.hash,
		equal:          c.equal,
		exclusiveReads: c.exclusiveReads,
	}
	for i := range t.shards {
		t.shards[i].table = newShardTable[K, V](extract, c, i, minNodesPerShard)
	}
	return t
}

// roundShardCount rounds a requested shard count up to a power of two no
// smaller than 2.
func roundShardCount(shards int) int {
	n, ok := pow2.RoundUp(max(shards, 2))
	if !ok {
		panic(errors.Wrapf(ErrOverflow, "table with %d shards", shards))
	}
	return n
}

// newShardTable constructs the Table backing shard i. It is keyed by the
// caller's key paired with the hash bits left over after shard selection.
func newShardTable[K comparable, V any](
	extract KeyFunc[K, V], c config[K], i, minNodes int,
) *Table[CachedKey[K], shardEntry[V]] {
	logger := c.logger
	if logger != nil {
		logger = logger.With("shard", i)
	}
	innerExtract := func(e *shardEntry[V]) CachedKey[K] {
		return CachedKey[K]{key: extract(&e.value), hash: e.hash}
	}
	t := newTable[CachedKey[K], shardEntry[V]](innerExtract, CachedKeyHash[K], CachedKeyEqual(c.equal), logger)
	t.init(minNodes)
	return t
}

// locate hashes key once, returning the shard that owns it and the key
// paired with the hash bits that remain for probing within that shard.
func (t *ShardedTable[K, V]) locate(key K) (*shard[K, V], CachedKey[K]) {
	index, rest := splitHash(t.hash(key), t.shift)
	return &t.shards[index], CachedKey[K]{key: key, hash: rest}
}

func (t *ShardedTable[K, V]) rlock(s *shard[K, V]) {
	if t.exclusiveReads {
		s.mu.Lock()
	} else {
		s.mu.RLock()
	}
}

func (t *ShardedTable[K, V]) runlock(s *shard[K, V]) {
	if t.exclusiveReads {
		s.mu.Unlock()
	} else {
		s.mu.RUnlock()
	}
}

// Insert inserts value unless a value with an equal key is already present.
// It returns false, leaving the existing value unchanged, for a duplicate.
func (t *ShardedTable[K, V]) Insert(value V) bool {
	s, hk := t.locate(t.extract(&value))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Insert(shardEntry[V]{value: value, hash: hk.hash})
}

// Emplace inserts the value returned by newValue under key unless key is
// already present. newValue is called with the shard locked and only if the
// value is inserted.
func (t *ShardedTable[K, V]) Emplace(key K, newValue func() V) bool {
	s, hk := t.locate(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Emplace(hk, func() shardEntry[V] {
		return shardEntry[V]{value: newValue(), hash: hk.hash}
	})
}

// EmplaceOrAssign inserts value, or replaces the value stored under the same
// key. It returns true if value was inserted and false if it was assigned.
func (t *ShardedTable[K, V]) EmplaceOrAssign(value V) bool {
	s, hk := t.locate(t.extract(&value))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.EmplaceOrAssign(shardEntry[V]{value: value, hash: hk.hash})
}

// Assign replaces the value stored under the key of value. It returns false,
// without inserting anything, if the key is absent.
func (t *ShardedTable[K, V]) Assign(value V) bool {
	s, hk := t.locate(t.extract(&value))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Assign(shardEntry[V]{value: value, hash: hk.hash})
}

// GetOrCreate returns the value stored under key, first inserting the value
// returned by newValue if key is absent.
func (t *ShardedTable[K, V]) GetOrCreate(key K, newValue func() V) V {
	s, hk := t.locate(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.GetOrCreate(hk, func() shardEntry[V] {
		return shardEntry[V]{value: newValue(), hash: hk.hash}
	}).value
}

// At returns the value stored under key, or an error wrapping
// ErrKeyNotFound.
func (t *ShardedTable[K, V]) At(key K) (V, error) {
	v, ok := t.TryGet(key)
	if !ok {
		return v, keyNotFound(key)
	}
	return v, nil
}

// TryGet returns the value stored under key, with ok=false if the key is
// not present.
func (t *ShardedTable[K, V]) TryGet(key K) (value V, ok bool) {
	s, hk := t.locate(key)
	t.rlock(s)
	defer t.runlock(s)
	e, ok := s.table.TryGet(hk)
	return e.value, ok
}

// Has reports whether key is present.
func (t *ShardedTable[K, V]) Has(key K) bool {
	s, hk := t.locate(key)
	t.rlock(s)
	defer t.runlock(s)
	return s.table.Has(hk)
}

// Erase removes the value stored under key, returning false if the key is
// not present.
func (t *ShardedTable[K, V]) Erase(key K) bool {
	s, hk := t.locate(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Erase(hk)
}

// readShard calls fn with shard i's table while holding its read lock.
func (t *ShardedTable[K, V]) readShard(i int, fn func(tbl *Table[CachedKey[K], shardEntry[V]])) {
	s := &t.shards[i]
	t.rlock(s)
	defer t.runlock(s)
	fn(s.table)
}

// writeShard calls fn with shard i's table while holding its write lock.
func (t *ShardedTable[K, V]) writeShard(i int, fn func(tbl *Table[CachedKey[K], shardEntry[V]])) {
	s := &t.shards[i]
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.table)
}

// ForAll calls fn for every value, one shard at a time. Each shard is read
// locked while it is visited, so fn must not call back into the table.
func (t *ShardedTable[K, V]) ForAll(fn func(v V)) {
	for i := range t.shards {
		t.readShard(i, func(tbl *Table[CachedKey[K], shardEntry[V]]) {
			tbl.ForAll(func(e *shardEntry[V]) {
				fn(e.value)
			})
		})
	}
}

// EraseIf removes every value for which pred returns true and returns the
// number of values removed. Shards are visited one at a time.
func (t *ShardedTable[K, V]) EraseIf(pred func(v V) bool) int {
	var removed int
	for i := range t.shards {
		t.writeShard(i, func(tbl *Table[CachedKey[K], shardEntry[V]]) {
			removed += tbl.EraseIf(func(e shardEntry[V]) bool {
				return pred(e.value)
			})
		})
	}
	return removed
}

// Clear erases every value, one shard at a time.
func (t *ShardedTable[K, V]) Clear() {
	for i := range t.shards {
		t.writeShard(i, func(tbl *Table[CachedKey[K], shardEntry[V]]) {
			tbl.Clear()
		})
	}
}

// CheckAllSatisfy reports whether pred holds for every value.
func (t *ShardedTable[K, V]) CheckAllSatisfy(pred func(v V) bool) bool {
	return !t.anyShard(func(e shardEntry[V]) bool {
		return !pred(e.value)
	})
}

// CheckAnySatisfy reports whether pred holds for at least one value.
func (t *ShardedTable[K, V]) CheckAnySatisfy(pred func(v V) bool) bool {
	return t.anyShard(func(e shardEntry[V]) bool {
		return pred(e.value)
	})
}

// CheckNoneSatisfy reports whether pred holds for no value.
func (t *ShardedTable[K, V]) CheckNoneSatisfy(pred func(v V) bool) bool {
	return !t.CheckAnySatisfy(pred)
}

// anyShard visits the shards in order, stopping at the first value for
// which pred holds.
func (t *ShardedTable[K, V]) anyShard(pred func(e shardEntry[V]) bool) bool {
	var found bool
	for i := 0; i < len(t.shards) && !found; i++ {
		t.readShard(i, func(tbl *Table[CachedKey[K], shardEntry[V]]) {
			found = tbl.CheckAnySatisfy(pred)
		})
	}
	return found
}

// Len returns the number of values, summed over the shards one at a time.
func (t *ShardedTable[K, V]) Len() int {
	var n int
	for i := range t.shards {
		t.readShard(i, func(tbl *Table[CachedKey[K], shardEntry[V]]) {
			n += tbl.Len()
		})
	}
	return n
}

// Empty reports whether Len() == 0.
func (t *ShardedTable[K, V]) Empty() bool {
	return t.Len() == 0
}

// NumNodes returns the total number of slots over all shards.
func (t *ShardedTable[K, V]) NumNodes() int {
	var n int
	for i := range t.shards {
		t.readShard(i, func(tbl *Table[CachedKey[K], shardEntry[V]]) {
			n += tbl.NumNodes()
		})
	}
	return n
}

// ShardCount returns the number of shards, which is fixed for the lifetime
// of the table.
func (t *ShardedTable[K, V]) ShardCount() int {
	return len(t.shards)
}

// Reserve grows every shard so that it alone could hold n values. This
// guarantees that n insertions never rehash regardless of how the keys are
// distributed, at the cost of over-allocating by a factor of ShardCount().
func (t *ShardedTable[K, V]) Reserve(n int) error {
	return t.reserveEach(n)
}

// ReserveApprox grows every shard to hold its expected share of n values,
// n/ShardCount() plus 50%. Shards are grown independently and there is no
// guarantee that a skewed key distribution avoids rehashing.
func (t *ShardedTable[K, V]) ReserveApprox(n int) error {
	perShard := n / len(t.shards)
	perShard += perShard / 2
	return t.reserveEach(perShard)
}

func (t *ShardedTable[K, V]) reserveEach(n int) error {
	for i := range t.shards {
		var err error
		t.writeShard(i, func(tbl *Table[CachedKey[K], shardEntry[V]]) {
			err = tbl.Reserve(n)
		})
		if err != nil {
			return errors.Wrapf(err, "shard %d", i)
		}
	}
	return nil
}

// SetMaxLoadFactor sets the max load factor of every shard. It returns an
// error wrapping ErrInvalidArgument, leaving every shard unchanged, unless
// 0 < v < 1.
func (t *ShardedTable[K, V]) SetMaxLoadFactor(v float64) error {
	if err := validateMaxLoadFactor(v); err != nil {
		return err
	}
	for i := range t.shards {
		t.writeShard(i, func(tbl *Table[CachedKey[K], shardEntry[V]]) {
			_ = tbl.SetMaxLoadFactor(v)
		})
	}
	return nil
}
