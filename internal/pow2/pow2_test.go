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

package pow2

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundUp(t *testing.T) {
	testCases := []struct {
		n        int
		expected int
	}{
		{-5, 1},
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{31, 32},
		{32, 32},
		{33, 64},
		{1000, 1024},
		{Max - 1, Max},
		{Max, Max},
	}
	for _, c := range testCases {
		v, ok := RoundUp(c.n)
		require.True(t, ok, "n=%d", c.n)
		require.Equal(t, c.expected, v, "n=%d", c.n)
	}
}

func TestRoundUpOverflow(t *testing.T) {
	for _, n := range []int{Max + 1, math.MaxInt} {
		_, ok := RoundUp(n)
		require.False(t, ok, "n=%d", n)
	}
}

func TestLog2(t *testing.T) {
	for i := uint(0); i < 62; i++ {
		require.EqualValues(t, i, Log2(1<<i))
		require.True(t, Is(1<<i))
	}
	require.False(t, Is(0))
	require.False(t, Is(-4))
	require.False(t, Is(12))
}
