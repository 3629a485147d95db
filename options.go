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

import "log/slog"

// Option configures a table while it is being created.
type Option[K comparable] interface {
	apply(c *config[K])
}

// config holds the settings shared by all table kinds. Settings that do not
// apply to a given kind are ignored by it.
type config[K comparable] struct {
	hash           HashFunc[K]
	equal          EqualFunc[K]
	allocator      any
	shardCount     int
	exclusiveReads bool
	logger         *slog.Logger
}

func makeConfig[K comparable](options []Option[K]) config[K] {
	c := config[K]{
		hash:       defaultHash[K](),
		equal:      defaultEqual[K],
		shardCount: defaultShardCount,
	}
	for _, op := range options {
		op.apply(&c)
	}
	return c
}

type hashOption[K comparable] struct {
	hash HashFunc[K]
}

func (op hashOption[K]) apply(c *config[K]) {
	c.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a table.
func WithHash[K comparable](hash HashFunc[K]) Option[K] {
	return hashOption[K]{hash}
}

type equalOption[K comparable] struct {
	equal EqualFunc[K]
}

func (op equalOption[K]) apply(c *config[K]) {
	c.equal = op.equal
}

// WithKeyEqual is an option to specify the key equivalence used by a table.
// The default is ==. The supplied function must be consistent with the hash
// function.
func WithKeyEqual[K comparable](equal EqualFunc[K]) Option[K] {
	return equalOption[K]{equal}
}

// Allocator specifies an interface for allocating and releasing the slot
// arrays used by a Table. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots be
// freed then Table.Close must be called in order to ensure FreeSlots is
// called for the live slot array.
type Allocator[V any] interface {
	// AllocSlots should return a slice equivalent to make([]Slot[V], n).
	AllocSlots(n int) []Slot[V]

	// FreeSlots can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocSlots.
	FreeSlots(v []Slot[V])
}

type defaultAllocator[V any] struct{}

func (defaultAllocator[V]) AllocSlots(n int) []Slot[V] {
	return make([]Slot[V], n)
}

func (defaultAllocator[V]) FreeSlots(v []Slot[V]) {
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[V]
}

func (op allocatorOption[K, V]) apply(c *config[K]) {
	c.allocator = op.allocator
}

// WithAllocator is an option for specifying the Allocator to use for a
// Table[K,V], including a Map or Set. The allocator hands out slots of the
// caller's value type, so it is ignored by ShardedTable, MultiTable and
// ChainedTable, whose partitions store values of their own internal type.
func WithAllocator[K comparable, V any](allocator Allocator[V]) Option[K] {
	return allocatorOption[K, V]{allocator}
}

type shardCountOption[K comparable] struct {
	n int
}

func (op shardCountOption[K]) apply(c *config[K]) {
	c.shardCount = op.n
}

// WithShardCount is an option to specify the number of shards of a
// ShardedTable or partitions of a MultiTable. The count is rounded up to a power of two and is at least 2.
// The default is 16.
func WithShardCount[K comparable](n int) Option[K] {
	return shardCountOption[K]{n}
}

type exclusiveReadsOption[K comparable] struct{}

func (exclusiveReadsOption[K]) apply(c *config[K]) {
	c.exclusiveReads = true
}

// WithExclusiveReads makes a ShardedTable take the exclusive side of a
// shard's lock for read operations as well as writes. This trades read
// parallelism within a shard for cheaper lock acquisition.
func WithExclusiveReads[K comparable]() Option[K] {
	return exclusiveReadsOption[K]{}
}

type loggerOption[K comparable] struct {
	logger *slog.Logger
}

func (op loggerOption[K]) apply(c *config[K]) {
	c.logger = op.logger
}

// WithLogger is an option to have a table report structural events, such as
// growth, at debug level. By default nothing is logged.
func WithLogger[K comparable](logger *slog.Logger) Option[K] {
	return loggerOption[K]{logger}
}
