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

// Package pow2 provides the power-of-two arithmetic used to size slot,
// shard and bucket arrays.
package pow2

import "math/bits"

// Max is the largest power of two representable as an int.
const Max = 1 << (bits.UintSize - 2)

// RoundUp returns the smallest power of two that is >= n. Values of n below
// 1 round up to 1. The boolean result is false if the rounded value would
// not be representable as an int.
func RoundUp(n int) (int, bool) {
	if n <= 1 {
		return 1, true
	}
	if n > Max {
		return 0, false
	}
	return 1 << bits.Len(uint(n-1)), true
}

// Log2 returns the number of trailing zero bits of n. For a power of two
// this is its base 2 logarithm.
func Log2(n int) uint {
	return uint(bits.TrailingZeros(uint(n)))
}

// Is reports whether n is a positive power of two.
func Is(n int) bool {
	return n > 0 && n&(n-1) == 0
}
