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
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hashtab/internal/pow2"
)

// MultiTable is a single-threaded open addressing hash table partitioned
// into a fixed number of Tables in the same way as a ShardedTable, but
// without any locks. Each partition grows on its own, so a growing
// MultiTable rehashes a 1/TableCount() fraction of its values at a time
// rather than all of them at once.
//
// A MultiTable is NOT goroutine-safe.
type MultiTable[K comparable, V any] struct {
	tables  []*Table[CachedKey[K], shardEntry[V]]
	shift   uint
	extract KeyFunc[K, V]
	hash    HashFunc[K]
}

// NewMultiTable constructs a MultiTable whose partitions each start with at
// least minNodesPerTable slots. The number of partitions is set with
// WithShardCount. Partitions allocate their slots with make: WithAllocator
// is ignored.
func NewMultiTable[K comparable, V any](
	extract KeyFunc[K, V], minNodesPerTable int, options ...Option[K],
) *MultiTable[K, V] {
	c := makeConfig(options)
	n := roundShardCount(c.shardCount)
	t := &MultiTable[K, V]{
		tables:  make([]*Table[CachedKey[K], shardEntry[V]], n),
		shift:   pow2.Log2(n),
		extract: extract,
		hash:    c.hash,
	}
	for i := range t.tables {
		t.tables[i] = newShardTable[K, V](extract, c, i, minNodesPerTable)
	}
	return t
}

func (t *MultiTable[K, V]) locate(key K) (*Table[CachedKey[K], shardEntry[V]], CachedKey[K]) {
	index, rest := splitHash(t.hash(key), t.shift)
	return t.tables[index], CachedKey[K]{key: key, hash: rest}
}

// Insert inserts value unless a value with an equal key is already present.
// It returns false, leaving the existing value unchanged, for a duplicate.
func (t *MultiTable[K, V]) Insert(value V) bool {
	tbl, ck := t.locate(t.extract(&value))
	return tbl.Insert(shardEntry[V]{value: value, hash: ck.hash})
}

// Emplace inserts the value returned by newValue under key unless key is
// already present.
func (t *MultiTable[K, V]) Emplace(key K, newValue func() V) bool {
	tbl, ck := t.locate(key)
	return tbl.Emplace(ck, func() shardEntry[V] {
		return shardEntry[V]{value: newValue(), hash: ck.hash}
	})
}

// EmplaceOrAssign inserts value, or replaces the value stored under the same
// key. It returns true if value was inserted.
func (t *MultiTable[K, V]) EmplaceOrAssign(value V) bool {
	tbl, ck := t.locate(t.extract(&value))
	return tbl.EmplaceOrAssign(shardEntry[V]{value: value, hash: ck.hash})
}

// Assign replaces the value stored under the key of value, returning false
// if the key is absent.
func (t *MultiTable[K, V]) Assign(value V) bool {
	tbl, ck := t.locate(t.extract(&value))
	return tbl.Assign(shardEntry[V]{value: value, hash: ck.hash})
}

// GetOrCreate returns the value stored under key, first inserting the value
// returned by newValue if key is absent.
func (t *MultiTable[K, V]) GetOrCreate(key K, newValue func() V) V {
	tbl, ck := t.locate(key)
	return tbl.GetOrCreate(ck, func() shardEntry[V] {
		return shardEntry[V]{value: newValue(), hash: ck.hash}
	}).value
}

// At returns the value stored under key, or an error wrapping
// ErrKeyNotFound.
func (t *MultiTable[K, V]) At(key K) (V, error) {
	v, ok := t.TryGet(key)
	if !ok {
		return v, keyNotFound(key)
	}
	return v, nil
}

// TryGet returns the value stored under key.
func (t *MultiTable[K, V]) TryGet(key K) (value V, ok bool) {
	tbl, ck := t.locate(key)
	e, ok := tbl.TryGet(ck)
	return e.value, ok
}

// Has reports whether key is present.
func (t *MultiTable[K, V]) Has(key K) bool {
	tbl, ck := t.locate(key)
	return tbl.Has(ck)
}

// Erase removes the value stored under key, returning false if the key is
// not present.
func (t *MultiTable[K, V]) Erase(key K) bool {
	tbl, ck := t.locate(key)
	return tbl.Erase(ck)
}

// ForAll calls fn with a pointer to every stored value, partition by
// partition. fn may modify the value but must not change its key.
func (t *MultiTable[K, V]) ForAll(fn func(v *V)) {
	for _, tbl := range t.tables {
		tbl.ForAll(func(e *shardEntry[V]) {
			fn(&e.value)
		})
	}
}

// All calls yield sequentially for each value until it returns false.
func (t *MultiTable[K, V]) All(yield func(v V) bool) {
	for _, tbl := range t.tables {
		more := true
		tbl.All(func(e shardEntry[V]) bool {
			more = yield(e.value)
			return more
		})
		if !more {
			return
		}
	}
}

// EraseIf removes every value for which pred returns true and returns the
// number of values removed.
func (t *MultiTable[K, V]) EraseIf(pred func(v V) bool) int {
	var removed int
	for _, tbl := range t.tables {
		removed += tbl.EraseIf(func(e shardEntry[V]) bool {
			return pred(e.value)
		})
	}
	return removed
}

// Clear erases every value. Capacity is retained.
func (t *MultiTable[K, V]) Clear() {
	for _, tbl := range t.tables {
		tbl.Clear()
	}
}

// CheckAllSatisfy reports whether pred holds for every value.
func (t *MultiTable[K, V]) CheckAllSatisfy(pred func(v V) bool) bool {
	return !t.CheckAnySatisfy(func(v V) bool {
		return !pred(v)
	})
}

// CheckAnySatisfy reports whether pred holds for at least one value.
func (t *MultiTable[K, V]) CheckAnySatisfy(pred func(v V) bool) bool {
	for _, tbl := range t.tables {
		if tbl.CheckAnySatisfy(func(e shardEntry[V]) bool { return pred(e.value) }) {
			return true
		}
	}
	return false
}

// CheckNoneSatisfy reports whether pred holds for no value.
func (t *MultiTable[K, V]) CheckNoneSatisfy(pred func(v V) bool) bool {
	return !t.CheckAnySatisfy(pred)
}

// Len returns the number of values.
func (t *MultiTable[K, V]) Len() int {
	var n int
	for _, tbl := range t.tables {
		n += tbl.Len()
	}
	return n
}

// Empty reports whether the table holds no values.
func (t *MultiTable[K, V]) Empty() bool {
	return t.Len() == 0
}

// NumNodes returns the total number of slots over all partitions.
func (t *MultiTable[K, V]) NumNodes() int {
	var n int
	for _, tbl := range t.tables {
		n += tbl.NumNodes()
	}
	return n
}

// TableCount returns the number of partitions.
func (t *MultiTable[K, V]) TableCount() int {
	return len(t.tables)
}

// Reserve grows every partition so that it alone could hold n values.
func (t *MultiTable[K, V]) Reserve(n int) error {
	for i, tbl := range t.tables {
		if err := tbl.Reserve(n); err != nil {
			return errors.Wrapf(err, "table %d", i)
		}
	}
	return nil
}

// SetMaxLoadFactor sets the max load factor of every partition. It returns
// an error wrapping ErrInvalidArgument, leaving the table unchanged, unless
// 0 < v < 1.
func (t *MultiTable[K, V]) SetMaxLoadFactor(v float64) error {
	if err := validateMaxLoadFactor(v); err != nil {
		return err
	}
	for _, tbl := range t.tables {
		_ = tbl.SetMaxLoadFactor(v)
	}
	return nil
}
