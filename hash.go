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
	"hash/maphash"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// HashFunc computes the hash of a key. It must be deterministic for the
// lifetime of a table and consistent with the table's EqualFunc: equal keys
// must hash equally.
type HashFunc[K any] func(key K) uint64

// EqualFunc reports whether two keys are equivalent.
type EqualFunc[K any] func(a, b K) bool

// KeyFunc extracts the key from a stored value. It must be a pure
// projection: repeated calls for the same value return equal keys.
type KeyFunc[K, V any] func(v *V) K

// defaultHash returns the hash function used when WithHash is not
// specified. Integer keys hash to themselves, which keeps sequential keys in
// sequential slots and makes shard selection predictable. Strings use
// xxhash. Every other comparable type falls back to hash/maphash.
func defaultHash[K comparable]() HashFunc[K] {
	switch any(*new(K)).(type) {
	case int, uint, uintptr:
		return func(key K) uint64 {
			return uint64(*(*uintptr)(unsafe.Pointer(&key)))
		}
	case int64, uint64:
		return func(key K) uint64 {
			return *(*uint64)(unsafe.Pointer(&key))
		}
	case int32:
		return func(key K) uint64 {
			return uint64(*(*int32)(unsafe.Pointer(&key)))
		}
	case uint32:
		return func(key K) uint64 {
			return uint64(*(*uint32)(unsafe.Pointer(&key)))
		}
	case int16, uint16:
		return func(key K) uint64 {
			return uint64(*(*uint16)(unsafe.Pointer(&key)))
		}
	case int8, uint8:
		return func(key K) uint64 {
			return uint64(*(*uint8)(unsafe.Pointer(&key)))
		}
	case string:
		return func(key K) uint64 {
			return xxhash.Sum64String(*(*string)(unsafe.Pointer(&key)))
		}
	default:
		seed := maphash.MakeSeed()
		return func(key K) uint64 {
			return maphash.Comparable(seed, key)
		}
	}
}

func defaultEqual[K comparable](a, b K) bool {
	return a == b
}

// StringHash hashes string keys with xxhash. It is the default for string
// keys and is exported for use with WithHash on string-like key types.
func StringHash[K ~string](key K) uint64 {
	return xxhash.Sum64String(string(key))
}

// splitHash divides h into the low shift bits used to select a shard and the
// remaining high bits used to probe inside the shard. The two parts never
// overlap so every shard sees well distributed probe hashes.
func splitHash(h uint64, shift uint) (index, rest uint64) {
	return h & (1<<shift - 1), h >> shift
}

// CachedKey pairs a key with a hash computed for it once, up front. A table
// keyed by CachedKey and configured with WithHash(CachedKeyHash[K]) never
// calls the key's hash function again, which pays off for keys that are
// expensive to hash and are looked up repeatedly.
//
// Two CachedKeys are equal when both their hashes and their keys are equal.
//
// The shards of ShardedTable and MultiTable store the hash bits left over
// after shard selection in a CachedKey, so a key is never rehashed once its
// shard is known.
type CachedKey[K comparable] struct {
	key  K
	hash uint64
}

// NewCachedKey hashes key with hash and caches the result.
func NewCachedKey[K comparable](key K, hash HashFunc[K]) CachedKey[K] {
	return CachedKey[K]{key: key, hash: hash(key)}
}

// Key returns the key.
func (k CachedKey[K]) Key() K {
	return k.key
}

// Hash returns the cached hash.
func (k CachedKey[K]) Hash() uint64 {
	return k.hash
}

// CachedKeyHash is a HashFunc returning the cached hash of a CachedKey.
func CachedKeyHash[K comparable](k CachedKey[K]) uint64 {
	return k.hash
}

// CachedKeyEqual lifts a key equivalence to CachedKeys. Keys with different
// cached hashes are never compared.
func CachedKeyEqual[K comparable](equal EqualFunc[K]) EqualFunc[CachedKey[K]] {
	return func(a, b CachedKey[K]) bool {
		return a.hash == b.hash && equal(a.key, b.key)
	}
}
