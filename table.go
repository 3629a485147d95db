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

// Package hashtab implements hash tables built on two storage strategies:
// open addressing with linear probing and lazy tombstones, and separate
// chaining. Each strategy is available in a form suited to its concurrency
// needs:
//
//   - Table is a single-threaded open addressing table.
//   - MultiTable partitions the hash space across N Tables without locking,
//     so that growth rehashes one partition at a time.
//   - ShardedTable partitions the hash space across N independently locked
//     Tables ("shards").
//   - ChainedTable is a fixed array of independently locked buckets, each a
//     growable sequence of values.
//
// Map, Set and ConcurrentMap are thin wrappers that store key/value pairs or
// bare keys in the tables above. CachedKey pairs a key with its precomputed
// hash for keys that are expensive to hash.
//
// # Open addressing
//
// A Table is a power-of-two sized array of slots. Each slot is Empty, Filled
// or a Tombstone. A key's desired index is hash(key)&(capacity-1) and
// probing walks forward from there one slot at a time, wrapping at the end
// of the array. Deleting a value leaves a Tombstone behind so that probe
// sequences passing over the slot are not cut short; tombstones are only
// reclaimed when the table is rebuilt by a rehash.
//
// The table tracks the longest probe distance that any insertion has ever
// used (maxDist). A lookup stops as soon as it reaches an Empty slot, which
// terminates every probe sequence, or once it has scanned maxDist slots past
// the desired index. This bounds the cost of a miss by the worst insertion
// ever made rather than by the size of the table, even when the table is
// full of tombstones.
//
// Insertion first ensures that size+1 stays within the max load factor
// (default 0.8), growing the table if needed. It then probes for the key,
// remembering the first Empty or Tombstone slot it passes. If the key is
// found the insert is rejected, otherwise the value is placed in the
// remembered slot.
//
// Growth is explicit and monotonic: Rehash(n) never shrinks a table. The
// replacement slot array is completely built before it is swapped in, so a
// failure while building (for example a panicking Allocator) leaves the live
// table untouched.
//
// # Sharding
//
// A ShardedTable hashes a key once and splits the hash in two: the low
// log2(N) bits select the shard and the remaining high bits are handed to
// the shard's Table as a precomputed hash. Shard selection and in-shard
// probing therefore consume disjoint bits of the same hash. Had each shard
// rehashed the key from scratch, all of the keys routed to a shard would
// share their low bits and pile up at the same few desired indexes.
//
// Every keyed operation locks exactly one shard. Aggregate operations (Len,
// ForAll, EraseIf, Clear and the Check* family) visit the shards one at a
// time, releasing each lock before taking the next, and therefore do not
// observe a single point-in-time snapshot of the whole table.
//
// # Chaining
//
// A ChainedTable never rehashes: the bucket count is fixed when the table is
// created and each bucket is a slice scanned linearly under the bucket's
// reader/writer lock. The total size is kept in an atomic counter updated
// while the owning bucket is locked.
package hashtab

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hashtab/internal/pow2"
)

const (
	debug = false

	// defaultNumNodes is the minimum (and default) number of slots in a
	// Table, including the Tables used as shards.
	defaultNumNodes = 32

	// defaultMaxLoadFactor bounds size/capacity for every open addressing
	// table.
	defaultMaxLoadFactor = 0.8
)

// slotState is the lifecycle state of a Slot. The transitions are
// Empty->Filled on insert, Filled->Filled on assignment and Filled->Tombstone
// on erase. A Tombstone never becomes Empty again except by a rehash, which
// builds a fresh slot array.
type slotState uint8

const (
	slotEmpty slotState = iota
	slotFilled
	slotTombstone
)

func (s slotState) String() string {
	switch s {
	case slotEmpty:
		return "empty"
	case slotFilled:
		return "filled"
	case slotTombstone:
		return "tombstone"
	default:
		return fmt.Sprintf("slotState(%d)", uint8(s))
	}
}

// Slot holds a single value of a Table. The value is only meaningful while
// the slot is filled; erasing a value resets it to the zero value so that
// anything it references can be collected.
type Slot[V any] struct {
	state slotState
	value V
}

// Table is an open addressing hash table storing values of type V, each
// identified by a key of type K extracted from the value. See the package
// documentation for a description of the probing scheme.
//
// A Table is NOT goroutine-safe.
type Table[K comparable, V any] struct {
	// slots has a power of two length. Slots are Empty when allocated.
	slots []Slot[V]
	// mask is len(slots)-1 and is used to compute hash%len(slots).
	mask uint64
	// The number of filled slots.
	used int
	// maxDist is the largest distance from its desired index at which any
	// value has been placed since the slots were allocated. Lookups never
	// probe further than this.
	maxDist       int
	maxLoadFactor float64
	extract       KeyFunc[K, V]
	hash          HashFunc[K]
	equal         EqualFunc[K]
	allocator     Allocator[V]
	logger        *slog.Logger
}

// New constructs a Table with at least minNodes slots. minNodes is rounded
// up to a power of two and to no less than 32. The extract function maps a
// stored value to its key.
//
// New panics with an error wrapping ErrOverflow if minNodes cannot be
// rounded up to a power of two.
func New[K comparable, V any](extract KeyFunc[K, V], minNodes int, options ...Option[K]) *Table[K, V] {
	c := makeConfig(options)
	t := newTable(extract, c.hash, c.equal, c.logger)
	if c.allocator != nil {
		a, ok := c.allocator.(Allocator[V])
		if !ok {
			panic(errors.AssertionFailedf("allocator %T does not allocate slots of %T", c.allocator, *new(V)))
		}
		t.allocator = a
	}
	t.init(minNodes)
	return t
}

func newTable[K comparable, V any](
	extract KeyFunc[K, V], hash HashFunc[K], equal EqualFunc[K], logger *slog.Logger,
) *Table[K, V] {
	return &Table[K, V]{
		maxLoadFactor: defaultMaxLoadFactor,
		extract:       extract,
		hash:          hash,
		equal:         equal,
		allocator:     defaultAllocator[V]{},
		logger:        logger,
	}
}

func (t *Table[K, V]) init(minNodes int) {
	n, ok := pow2.RoundUp(max(minNodes, defaultNumNodes))
	if !ok {
		panic(errors.Wrapf(ErrOverflow, "table with %d nodes", minNodes))
	}
	t.slots = t.allocSlots(n)
	t.mask = uint64(n - 1)
	t.checkInvariants()
}

func (t *Table[K, V]) allocSlots(n int) []Slot[V] {
	slots := t.allocator.AllocSlots(n)
	if len(slots) != n {
		panic(errors.AssertionFailedf("allocator returned %d slots, expected %d", len(slots), n))
	}
	return slots
}

// Close releases the slot array back to the configured allocator. It is
// unnecessary to close a table using the default allocator. It is invalid to
// use a Table after it has been closed, though Close itself is idempotent.
func (t *Table[K, V]) Close() {
	if t.slots != nil {
		t.allocator.FreeSlots(t.slots)
	}
	t.slots = nil
	t.mask = 0
	t.used = 0
	t.maxDist = 0
}

// Insert inserts value unless a value with an equal key is already present.
// It returns false, leaving the existing value unchanged, for a duplicate.
func (t *Table[K, V]) Insert(value V) bool {
	t.mustReserve(t.used + 1)
	inserted := t.insertWithoutRehash(value)
	t.checkInvariants()
	return inserted
}

// Emplace inserts the value returned by newValue under key unless key is
// already present. newValue is only called if the value is inserted, and
// must return a value whose key equals key.
func (t *Table[K, V]) Emplace(key K, newValue func() V) bool {
	t.mustReserve(t.used + 1)
	i, dist, found := t.prepare(key)
	if found {
		return false
	}
	t.fill(i, dist, newValue())
	t.checkInvariants()
	return true
}

// EmplaceOrAssign inserts value, or replaces the value stored under the same
// key. It returns true if value was inserted and false if it was assigned.
func (t *Table[K, V]) EmplaceOrAssign(value V) bool {
	t.mustReserve(t.used + 1)
	i, dist, found := t.prepare(t.extract(&value))
	if found {
		t.slots[i].value = value
		return false
	}
	t.fill(i, dist, value)
	t.checkInvariants()
	return true
}

// Assign replaces the value stored under the key of value. It returns false,
// without inserting anything, if the key is absent.
func (t *Table[K, V]) Assign(value V) bool {
	i := t.findSlot(t.extract(&value))
	if i < 0 {
		return false
	}
	t.slots[i].value = value
	return true
}

// GetOrCreate returns the value stored under key, first inserting the value
// returned by newValue if key is absent.
func (t *Table[K, V]) GetOrCreate(key K, newValue func() V) V {
	t.mustReserve(t.used + 1)
	i, dist, found := t.prepare(key)
	if !found {
		t.fill(i, dist, newValue())
		t.checkInvariants()
	}
	return t.slots[i].value
}

// At returns the value stored under key, or an error wrapping
// ErrKeyNotFound.
func (t *Table[K, V]) At(key K) (V, error) {
	i := t.findSlot(key)
	if i < 0 {
		var zero V
		return zero, keyNotFound(key)
	}
	return t.slots[i].value, nil
}

// TryGet returns the value stored under key, with ok=false if the key is
// not present.
func (t *Table[K, V]) TryGet(key K) (value V, ok bool) {
	i := t.findSlot(key)
	if i < 0 {
		return value, false
	}
	return t.slots[i].value, true
}

// Has reports whether key is present.
func (t *Table[K, V]) Has(key K) bool {
	return t.findSlot(key) >= 0
}

// ForAll calls fn with a pointer to every stored value, in storage order. fn
// may modify the value but must not change its key, and must not insert
// into or erase from the table.
func (t *Table[K, V]) ForAll(fn func(v *V)) {
	for i := range t.slots {
		if s := &t.slots[i]; s.state == slotFilled {
			fn(&s.value)
		}
	}
}

// All calls yield sequentially for each value present in the table. If
// yield returns false, iteration stops.
func (t *Table[K, V]) All(yield func(v V) bool) {
	for i := range t.slots {
		if s := &t.slots[i]; s.state == slotFilled {
			if !yield(s.value) {
				return
			}
		}
	}
}

// Clear erases every value. The capacity is retained and the erased slots
// become tombstones.
func (t *Table[K, V]) Clear() {
	for i := range t.slots {
		if t.slots[i].state == slotFilled {
			t.tombstone(i)
		}
	}
	t.used = 0
	t.checkInvariants()
}

// Erase removes the value stored under key, returning false if the key is
// not present.
func (t *Table[K, V]) Erase(key K) bool {
	i := t.findSlot(key)
	if i < 0 {
		return false
	}
	t.tombstone(i)
	t.used--
	if debug {
		fmt.Printf("erase(%v): index=%d used=%d\n", key, i, t.used)
	}
	t.checkInvariants()
	return true
}

// EraseIf removes every value for which pred returns true and returns the
// number of values removed.
func (t *Table[K, V]) EraseIf(pred func(v V) bool) int {
	var removed int
	for i := range t.slots {
		if s := &t.slots[i]; s.state == slotFilled && pred(s.value) {
			t.tombstone(i)
			t.used--
			removed++
		}
	}
	t.checkInvariants()
	return removed
}

// CheckAllSatisfy reports whether pred holds for every value. It is true
// for an empty table.
func (t *Table[K, V]) CheckAllSatisfy(pred func(v V) bool) bool {
	for i := range t.slots {
		if s := &t.slots[i]; s.state == slotFilled && !pred(s.value) {
			return false
		}
	}
	return true
}

// CheckAnySatisfy reports whether pred holds for at least one value.
func (t *Table[K, V]) CheckAnySatisfy(pred func(v V) bool) bool {
	for i := range t.slots {
		if s := &t.slots[i]; s.state == slotFilled && pred(s.value) {
			return true
		}
	}
	return false
}

// CheckNoneSatisfy reports whether pred holds for no value.
func (t *Table[K, V]) CheckNoneSatisfy(pred func(v V) bool) bool {
	return !t.CheckAnySatisfy(pred)
}

// Len returns the number of values in the table.
func (t *Table[K, V]) Len() int {
	return t.used
}

// Empty reports whether the table holds no values.
func (t *Table[K, V]) Empty() bool {
	return t.used == 0
}

// NumNodes returns the number of slots (the capacity).
func (t *Table[K, V]) NumNodes() int {
	return len(t.slots)
}

// LoadFactor returns Len()/NumNodes().
func (t *Table[K, V]) LoadFactor() float64 {
	return float64(t.used) / float64(len(t.slots))
}

// MaxLoadFactor returns the load factor above which an insertion grows the
// table.
func (t *Table[K, V]) MaxLoadFactor() float64 {
	return t.maxLoadFactor
}

// SetMaxLoadFactor sets the max load factor. It returns an error wrapping
// ErrInvalidArgument, leaving the table unchanged, unless 0 < v < 1. The new
// bound is applied lazily by the next insertion.
func (t *Table[K, V]) SetMaxLoadFactor(v float64) error {
	if err := validateMaxLoadFactor(v); err != nil {
		return err
	}
	t.maxLoadFactor = v
	return nil
}

// Reserve grows the table, if necessary, so that n values fit without
// exceeding the max load factor.
func (t *Table[K, V]) Reserve(n int) error {
	if n < 0 {
		return errors.Wrapf(ErrInvalidArgument, "reserve %d values", n)
	}
	nodes := math.Ceil(float64(n) / t.maxLoadFactor)
	if nodes > pow2.Max {
		return errors.Wrapf(ErrOverflow, "reserve %d values", n)
	}
	return t.Rehash(int(nodes))
}

// Rehash rebuilds the table with at least minNodes slots. It is a no-op if
// the table already has minNodes or more slots: capacity never decreases.
// Rebuilding discards every tombstone and recomputes probe distances from
// scratch.
func (t *Table[K, V]) Rehash(minNodes int) error {
	if minNodes <= len(t.slots) {
		return nil
	}
	n, ok := pow2.RoundUp(minNodes)
	if !ok {
		return errors.Wrapf(ErrOverflow, "rehash to %d nodes", minNodes)
	}
	t.resize(n)
	return nil
}

func (t *Table[K, V]) mustReserve(n int) {
	if err := t.Reserve(n); err != nil {
		panic(err)
	}
}

// resize builds a new slot array with newCapacity slots and uncheckedPuts
// every live value into it (we know that no insertion here will find an
// already-present key). The old slots are only released after the new array
// is installed.
func (t *Table[K, V]) resize(newCapacity int) {
	nt := Table[K, V]{
		slots: t.allocSlots(newCapacity),
		mask:  uint64(newCapacity - 1),
		hash:  t.hash,
	}
	for i := range t.slots {
		if s := &t.slots[i]; s.state == slotFilled {
			nt.uncheckedPut(t.extract(&s.value), s.value)
		}
	}
	if nt.used != t.used {
		panic(errors.AssertionFailedf("rehash moved %d values, expected %d", nt.used, t.used))
	}

	oldSlots, oldCapacity := t.slots, len(t.slots)
	t.slots, t.mask, t.maxDist = nt.slots, nt.mask, nt.maxDist
	if oldSlots != nil {
		t.allocator.FreeSlots(oldSlots)
	}

	if debug {
		fmt.Printf("resize: capacity=%d->%d used=%d max-dist=%d\n",
			oldCapacity, newCapacity, t.used, t.maxDist)
	}
	if t.logger != nil {
		t.logger.Debug("rehash",
			slog.Int("from", oldCapacity),
			slog.Int("to", newCapacity),
			slog.Int("size", t.used))
	}
	t.checkInvariants()
}

// uncheckedPut places a value whose key is known not to be in the table. It
// is only used while building a fresh slot array, which has no tombstones,
// so the first non-filled slot is always Empty.
func (t *Table[K, V]) uncheckedPut(key K, value V) {
	i := t.desiredIndex(key)
	for dist := 0; ; dist++ {
		if t.slots[i].state != slotFilled {
			t.fill(i, dist, value)
			return
		}
		i = (i + 1) & int(t.mask)
	}
}

func (t *Table[K, V]) insertWithoutRehash(value V) bool {
	i, dist, found := t.prepare(t.extract(&value))
	if found {
		return false
	}
	t.fill(i, dist, value)
	return true
}

// fill stores value in the non-filled slot i which lies dist slots past its
// desired index.
func (t *Table[K, V]) fill(i, dist int, value V) {
	s := &t.slots[i]
	s.value = value
	s.state = slotFilled
	if dist > t.maxDist {
		t.maxDist = dist
	}
	t.used++
	if debug {
		fmt.Printf("fill: index=%d dist=%d used=%d max-dist=%d\n", i, dist, t.used, t.maxDist)
	}
}

// tombstone destroys the value in the filled slot i. The caller adjusts
// used.
func (t *Table[K, V]) tombstone(i int) {
	s := &t.slots[i]
	var zero V
	s.value = zero
	s.state = slotTombstone
}

func (t *Table[K, V]) desiredIndex(key K) int {
	return int(t.hash(key) & t.mask)
}

// prepare locates the slot for key. If a filled slot holding key is found
// it is returned with found=true. Otherwise the first Empty or Tombstone
// slot along the probe sequence is returned along with its distance from
// the desired index, ready to be filled.
//
// Probing stops at the first Empty slot, which terminates every probe
// sequence, or once more than maxDist slots have been scanned and a
// candidate slot has been seen. No value lies further than maxDist from its
// desired index, so nothing beyond that point can match.
func (t *Table[K, V]) prepare(key K) (index, dist int, found bool) {
	i := t.desiredIndex(key)
	if debug {
		fmt.Printf("prepare(%v): desired=%d max-dist=%d\n", key, i, t.maxDist)
	}
	candidate, candidateDist := -1, 0
	for dist := 0; ; dist++ {
		s := &t.slots[i]
		if s.state == slotFilled {
			if t.equal(t.extract(&s.value), key) {
				return i, dist, true
			}
		} else if candidate < 0 {
			candidate, candidateDist = i, dist
		}
		if s.state == slotEmpty {
			return candidate, candidateDist, false
		}
		if dist >= t.maxDist && candidate >= 0 {
			return candidate, candidateDist, false
		}
		if dist >= len(t.slots) {
			// The max load factor is below 1 so there is always a slot
			// which is not filled.
			panic(errors.AssertionFailedf("no free slot for %v\n%s", key, t.debugString()))
		}
		i = (i + 1) & int(t.mask)
	}
}

// findSlot returns the index of the filled slot holding key, or -1. It
// scans at most maxDist slots past the desired index.
func (t *Table[K, V]) findSlot(key K) int {
	i := t.desiredIndex(key)
	for dist := 0; ; dist++ {
		s := &t.slots[i]
		switch s.state {
		case slotFilled:
			if t.equal(t.extract(&s.value), key) {
				return i
			}
		case slotEmpty:
			return -1
		}
		if dist >= t.maxDist {
			return -1
		}
		i = (i + 1) & int(t.mask)
	}
}

func (t *Table[K, V]) checkInvariants() {
	if invariants {
		if !pow2.Is(len(t.slots)) || t.mask != uint64(len(t.slots)-1) {
			panic(fmt.Sprintf("invariant failed: capacity=%d mask=%d", len(t.slots), t.mask))
		}
		var used int
		for i := range t.slots {
			s := &t.slots[i]
			if s.state != slotFilled {
				continue
			}
			used++
			key := t.extract(&s.value)
			if dist := (i - t.desiredIndex(key)) & int(t.mask); dist > t.maxDist {
				panic(fmt.Sprintf("invariant failed: slot(%d): %v at distance %d > max-dist %d\n%s",
					i, key, dist, t.maxDist, t.debugString()))
			}
			if j := t.findSlot(key); j != i {
				panic(fmt.Sprintf("invariant failed: slot(%d): %v found at %d\n%s",
					i, key, j, t.debugString()))
			}
		}
		if used != t.used {
			panic(fmt.Sprintf("invariant failed: found %d filled slots, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}
	}
}

func (t *Table[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  max-dist=%d\n", len(t.slots), t.used, t.maxDist)
	for i := range t.slots {
		switch s := &t.slots[i]; s.state {
		case slotFilled:
			key := t.extract(&s.value)
			fmt.Fprintf(&buf, "  %4d: %v [desired=%d]\n", i, key, t.desiredIndex(key))
		default:
			fmt.Fprintf(&buf, "  %4d: %s\n", i, s.state)
		}
	}
	return buf.String()
}
