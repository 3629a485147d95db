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

// Pair is a key and its mapped value. It is the stored value type of Map
// and ConcurrentMap.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

func pairKey[K comparable, V any](p *Pair[K, V]) K {
	return p.Key
}

// Map is a key/value map backed by a Table. Like Table it is not
// goroutine-safe.
type Map[K comparable, V any] struct {
	t *Table[K, Pair[K, V]]
}

// NewMap constructs a Map with at least minNodes slots.
func NewMap[K comparable, V any](minNodes int, options ...Option[K]) *Map[K, V] {
	return &Map[K, V]{t: New(pairKey[K, V], minNodes, options...)}
}

// Insert maps key to value unless key is already present.
func (m *Map[K, V]) Insert(key K, value V) bool {
	return m.t.Insert(Pair[K, V]{Key: key, Value: value})
}

// InsertOrAssign maps key to value, replacing any existing mapping. It
// returns true if key was newly inserted.
func (m *Map[K, V]) InsertOrAssign(key K, value V) bool {
	return m.t.EmplaceOrAssign(Pair[K, V]{Key: key, Value: value})
}

// Assign replaces the value mapped to key. It returns false, without
// inserting, if key is absent.
func (m *Map[K, V]) Assign(key K, value V) bool {
	return m.t.Assign(Pair[K, V]{Key: key, Value: value})
}

// Get returns the value mapped to key.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	p, ok := m.t.TryGet(key)
	return p.Value, ok
}

// At returns the value mapped to key, or an error wrapping ErrKeyNotFound.
func (m *Map[K, V]) At(key K) (V, error) {
	p, err := m.t.At(key)
	return p.Value, err
}

// Has reports whether key is present.
func (m *Map[K, V]) Has(key K) bool {
	return m.t.Has(key)
}

// Erase removes key, returning false if it was not present.
func (m *Map[K, V]) Erase(key K) bool {
	return m.t.Erase(key)
}

// Len returns the number of mappings.
func (m *Map[K, V]) Len() int {
	return m.t.Len()
}

// All calls yield for every mapping until it returns false.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	m.t.All(func(p Pair[K, V]) bool {
		return yield(p.Key, p.Value)
	})
}

// Reserve makes room for n mappings without further growth.
func (m *Map[K, V]) Reserve(n int) error {
	return m.t.Reserve(n)
}

// Clear removes every mapping.
func (m *Map[K, V]) Clear() {
	m.t.Clear()
}

// Set is a set of keys backed by a Table.
type Set[K comparable] struct {
	t *Table[K, K]
}

func identity[K any](k *K) K {
	return *k
}

// NewSet constructs a Set with at least minNodes slots.
func NewSet[K comparable](minNodes int, options ...Option[K]) *Set[K] {
	return &Set[K]{t: New(identity[K], minNodes, options...)}
}

// Add adds key, returning false if it was already a member.
func (s *Set[K]) Add(key K) bool {
	return s.t.Insert(key)
}

// Has reports whether key is a member.
func (s *Set[K]) Has(key K) bool {
	return s.t.Has(key)
}

// Remove removes key, returning false if it was not a member.
func (s *Set[K]) Remove(key K) bool {
	return s.t.Erase(key)
}

// Len returns the number of members.
func (s *Set[K]) Len() int {
	return s.t.Len()
}

// All calls yield for every member until it returns false.
func (s *Set[K]) All(yield func(key K) bool) {
	s.t.All(yield)
}

// ConcurrentMap is a goroutine-safe key/value map backed by a ShardedTable.
type ConcurrentMap[K comparable, V any] struct {
	t *ShardedTable[K, Pair[K, V]]
}

// NewConcurrentMap constructs a ConcurrentMap whose shards each start with
// at least minNodesPerShard slots.
func NewConcurrentMap[K comparable, V any](minNodesPerShard int, options ...Option[K]) *ConcurrentMap[K, V] {
	return &ConcurrentMap[K, V]{t: NewSharded(pairKey[K, V], minNodesPerShard, options...)}
}

// Insert maps key to value unless key is already present.
func (m *ConcurrentMap[K, V]) Insert(key K, value V) bool {
	return m.t.Insert(Pair[K, V]{Key: key, Value: value})
}

// InsertOrAssign maps key to value, replacing any existing mapping.
func (m *ConcurrentMap[K, V]) InsertOrAssign(key K, value V) bool {
	return m.t.EmplaceOrAssign(Pair[K, V]{Key: key, Value: value})
}

// GetOrCreate returns the value mapped to key, first mapping key to the
// result of newValue if key is absent. newValue runs with key's shard
// locked.
func (m *ConcurrentMap[K, V]) GetOrCreate(key K, newValue func() V) V {
	return m.t.GetOrCreate(key, func() Pair[K, V] {
		return Pair[K, V]{Key: key, Value: newValue()}
	}).Value
}

// Get returns the value mapped to key.
func (m *ConcurrentMap[K, V]) Get(key K) (value V, ok bool) {
	p, ok := m.t.TryGet(key)
	return p.Value, ok
}

// Has reports whether key is present.
func (m *ConcurrentMap[K, V]) Has(key K) bool {
	return m.t.Has(key)
}

// Erase removes key, returning false if it was not present.
func (m *ConcurrentMap[K, V]) Erase(key K) bool {
	return m.t.Erase(key)
}

// Len returns the number of mappings.
func (m *ConcurrentMap[K, V]) Len() int {
	return m.t.Len()
}

// Range calls fn for every mapping, one shard at a time.
func (m *ConcurrentMap[K, V]) Range(fn func(key K, value V)) {
	m.t.ForAll(func(p Pair[K, V]) {
		fn(p.Key, p.Value)
	})
}
