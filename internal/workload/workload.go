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

// Package workload drives the hash tables with concurrent insert, lookup and
// erase traffic. It backs the hashbench command and is small enough to be
// used from tests.
package workload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hashtab"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/frand"
)

// Kind names a table implementation.
type Kind string

const (
	// Open is a single Table guarded by one mutex.
	Open Kind = "open"
	// Sharded is a ShardedTable.
	Sharded Kind = "sharded"
	// Chained is a ChainedTable.
	Chained Kind = "chained"
	// Multi is a MultiTable guarded by one mutex.
	Multi Kind = "multi"
)

// Kinds lists every table kind, in the order they are reported.
var Kinds = []Kind{Open, Multi, Sharded, Chained}

// ParseKind returns the Kind named by s.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", errors.Newf("unknown table kind %q", s)
}

// Store is the subset of table operations exercised by a workload. Every
// implementation is goroutine-safe.
type Store interface {
	Insert(key, value int) bool
	Find(key int) (int, bool)
	Erase(key int) bool
	Len() int
}

// NewStore constructs an empty Store of the given kind, sized for about size
// values.
func NewStore(kind Kind, size int, logger *slog.Logger) (Store, error) {
	opts := []hashtab.Option[int]{hashtab.WithLogger[int](logger)}
	switch kind {
	case Open:
		s := &lockedStore{m: hashtab.NewMap[int, int](0, opts...)}
		if err := s.m.Reserve(size); err != nil {
			return nil, err
		}
		return s, nil
	case Multi:
		s := &multiStore{t: hashtab.NewMultiTable(pairKey, 0, opts...)}
		if err := s.t.Reserve(size / s.t.TableCount()); err != nil {
			return nil, err
		}
		return s, nil
	case Sharded:
		s := &shardedStore{t: hashtab.NewSharded(pairKey, 0, opts...)}
		if err := s.t.ReserveApprox(size); err != nil {
			return nil, err
		}
		return s, nil
	case Chained:
		// One bucket per value keeps the chains short.
		return &chainedStore{t: hashtab.NewChained(pairKey, size, opts...)}, nil
	default:
		return nil, errors.Newf("unknown table kind %q", kind)
	}
}

func pairKey(p *hashtab.Pair[int, int]) int {
	return p.Key
}

type lockedStore struct {
	mu sync.Mutex
	m  *hashtab.Map[int, int]
}

func (s *lockedStore) Insert(key, value int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Insert(key, value)
}

func (s *lockedStore) Find(key int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Get(key)
}

func (s *lockedStore) Erase(key int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Erase(key)
}

func (s *lockedStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Len()
}

type multiStore struct {
	mu sync.Mutex
	t  *hashtab.MultiTable[int, hashtab.Pair[int, int]]
}

func (s *multiStore) Insert(key, value int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.Insert(hashtab.Pair[int, int]{Key: key, Value: value})
}

func (s *multiStore) Find(key int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.t.TryGet(key)
	return p.Value, ok
}

func (s *multiStore) Erase(key int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.Erase(key)
}

func (s *multiStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.Len()
}

type shardedStore struct {
	t *hashtab.ShardedTable[int, hashtab.Pair[int, int]]
}

func (s *shardedStore) Insert(key, value int) bool {
	return s.t.Insert(hashtab.Pair[int, int]{Key: key, Value: value})
}

func (s *shardedStore) Find(key int) (int, bool) {
	p, ok := s.t.TryGet(key)
	return p.Value, ok
}

func (s *shardedStore) Erase(key int) bool {
	return s.t.Erase(key)
}

func (s *shardedStore) Len() int {
	return s.t.Len()
}

type chainedStore struct {
	t *hashtab.ChainedTable[int, hashtab.Pair[int, int]]
}

func (s *chainedStore) Insert(key, value int) bool {
	return s.t.Insert(hashtab.Pair[int, int]{Key: key, Value: value})
}

func (s *chainedStore) Find(key int) (int, bool) {
	p, ok := s.t.TryGet(key)
	return p.Value, ok
}

func (s *chainedStore) Erase(key int) bool {
	return s.t.Erase(key)
}

func (s *chainedStore) Len() int {
	return s.t.Len()
}

// Config describes a workload run.
type Config struct {
	Kind Kind
	// Size is the total number of keys, split evenly between the threads.
	Size    int
	Threads int
	Reps    int
	Logger  *slog.Logger
}

func (c Config) validate() error {
	if c.Size <= 0 || c.Threads <= 0 || c.Reps <= 0 {
		return errors.Newf("size, threads and reps must be positive: %d, %d, %d",
			c.Size, c.Threads, c.Reps)
	}
	if c.Threads > c.Size {
		return errors.Newf("%d threads for %d keys", c.Threads, c.Size)
	}
	return nil
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

// Result reports the throughput of a workload run.
type Result struct {
	Kind    Kind
	Op      string
	Ops     int
	Elapsed time.Duration
}

// OpsPerSec returns the operation rate over the run.
func (r Result) OpsPerSec() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

// LogValue implements slog.LogValuer.
func (r Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(r.Kind)),
		slog.String("op", r.Op),
		slog.Int("ops", r.Ops),
		slog.Duration("elapsed", r.Elapsed),
		slog.Float64("ops_per_sec", r.OpsPerSec()),
	)
}

// threadKeys returns a random permutation of the keys owned by thread i.
// Threads own disjoint contiguous key ranges.
func threadKeys(i int, c Config) []int {
	per := c.Size / c.Threads
	lo := i * per
	n := per
	if i == c.Threads-1 {
		n = c.Size - lo
	}
	keys := frand.Perm(n)
	for j := range keys {
		keys[j] += lo
	}
	return keys
}

// parallel runs fn on each of c.Threads goroutines, handing every goroutine
// its own key range.
func parallel(ctx context.Context, c Config, fn func(ctx context.Context, keys []int) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.Threads; i++ {
		keys := threadKeys(i, c)
		eg.Go(func() error {
			return fn(ctx, keys)
		})
	}
	return eg.Wait()
}

// ctxCheckInterval is how many operations a worker performs between context
// checks.
const ctxCheckInterval = 1024

func insertAll(ctx context.Context, s Store, keys []int) error {
	for j, k := range keys {
		if j%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if !s.Insert(k, -k) {
			return errors.AssertionFailedf("duplicate insert of key %d", k)
		}
	}
	return nil
}

// CreateDelete repeatedly fills a fresh store from every thread and then
// empties it again, each thread erasing the keys it inserted. Ops counts
// both insertions and erasures.
func CreateDelete(ctx context.Context, c Config) (Result, error) {
	if err := c.validate(); err != nil {
		return Result{}, err
	}
	logger := c.logger().With("kind", c.Kind, "op", "create-delete")
	res := Result{Kind: c.Kind, Op: "create-delete"}
	for rep := 0; rep < c.Reps; rep++ {
		s, err := NewStore(c.Kind, c.Size, logger)
		if err != nil {
			return Result{}, err
		}
		start := time.Now()
		err = parallel(ctx, c, func(ctx context.Context, keys []int) error {
			if err := insertAll(ctx, s, keys); err != nil {
				return err
			}
			for j, k := range keys {
				if j%ctxCheckInterval == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if !s.Erase(k) {
					return errors.AssertionFailedf("key %d missing on erase", k)
				}
			}
			return nil
		})
		res.Elapsed += time.Since(start)
		if err != nil {
			return Result{}, errors.Wrapf(err, "rep %d", rep)
		}
		if n := s.Len(); n != 0 {
			return Result{}, errors.AssertionFailedf("%d values left after rep %d", n, rep)
		}
		res.Ops += 2 * c.Size
		logger.Debug("rep done", slog.Int("rep", rep), slog.Duration("elapsed", res.Elapsed))
	}
	return res, nil
}

// Find fills a store once and then has every thread look up each of its
// keys, c.Reps times over. Only the lookups are timed.
func Find(ctx context.Context, c Config) (Result, error) {
	if err := c.validate(); err != nil {
		return Result{}, err
	}
	logger := c.logger().With("kind", c.Kind, "op", "find")
	s, err := NewStore(c.Kind, c.Size, logger)
	if err != nil {
		return Result{}, err
	}
	if err := parallel(ctx, c, func(ctx context.Context, keys []int) error {
		return insertAll(ctx, s, keys)
	}); err != nil {
		return Result{}, errors.Wrap(err, "populate")
	}

	res := Result{Kind: c.Kind, Op: "find"}
	start := time.Now()
	err = parallel(ctx, c, func(ctx context.Context, keys []int) error {
		for rep := 0; rep < c.Reps; rep++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, k := range keys {
				v, ok := s.Find(k)
				if !ok || v != -k {
					return errors.AssertionFailedf("key %d: found=%t value=%d", k, ok, v)
				}
			}
		}
		return nil
	})
	res.Elapsed = time.Since(start)
	if err != nil {
		return Result{}, err
	}
	res.Ops = c.Reps * c.Size
	logger.Debug("find done", slog.Duration("elapsed", res.Elapsed))
	return res, nil
}

// Run runs the named operation.
func Run(ctx context.Context, op string, c Config) (Result, error) {
	switch op {
	case "create-delete":
		return CreateDelete(ctx, c)
	case "find":
		return Find(ctx, c)
	default:
		return Result{}, errors.Newf("unknown operation %q", op)
	}
}
