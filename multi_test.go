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
	"testing"

	"github.com/stretchr/testify/require"
)

func newIntMulti(minNodesPerTable int, options ...Option[int]) *MultiTable[int, kv] {
	return NewMultiTable(pairKey[int, int], minNodesPerTable, options...)
}

func TestMultiTableSelection(t *testing.T) {
	m := newIntMulti(0)
	require.Equal(t, 16, m.TableCount())
	require.Equal(t, 16*32, m.NumNodes())

	for i := 0; i < 64; i++ {
		require.True(t, m.Insert(kv{i, i * 10}))
	}
	require.Equal(t, 64, m.Len())
	for i := 0; i < 64; i++ {
		v, err := m.At(i)
		require.NoError(t, err)
		require.Equal(t, i*10, v.Value)

		// The low 4 bits of the hash pick the table and the table probes
		// with the remaining bits.
		tbl := m.tables[i&15]
		require.True(t, tbl.Has(CachedKey[int]{key: i, hash: uint64(i) >> 4}))
	}
	for _, tbl := range m.tables {
		require.Equal(t, 4, tbl.Len())
	}
}

func TestMultiTableCount(t *testing.T) {
	for _, c := range []struct{ tables, expected int }{
		{0, 2}, {1, 2}, {3, 4}, {32, 32},
	} {
		require.Equal(t, c.expected, newIntMulti(0, WithShardCount[int](c.tables)).TableCount())
	}
}

func TestMultiTableBasic(t *testing.T) {
	m := newIntMulti(0, WithShardCount[int](4))
	require.True(t, m.Empty())

	for i := 0; i < 1000; i++ {
		require.True(t, m.Insert(kv{i, i}))
		require.False(t, m.Insert(kv{i, -i}))
	}
	require.Equal(t, 1000, m.Len())
	// Each of the 4 tables grew on its own to hold 250 values.
	require.Equal(t, 4*512, m.NumNodes())

	require.False(t, m.Emplace(3, func() kv {
		t.Fatal("constructed a value for a duplicate key")
		return kv{}
	}))
	require.True(t, m.Emplace(1000, func() kv { return kv{1000, 1000} }))
	require.False(t, m.Assign(kv{2000, 1}))
	require.False(t, m.Has(2000))
	require.True(t, m.Assign(kv{3, 30}))
	require.False(t, m.EmplaceOrAssign(kv{4, 40}))
	require.Equal(t, kv{4, 40}, m.GetOrCreate(4, func() kv { return kv{4, 0} }))
	require.Equal(t, kv{2001, 1}, m.GetOrCreate(2001, func() kv { return kv{2001, 1} }))
	v, ok := m.TryGet(3)
	require.True(t, ok)
	require.Equal(t, 30, v.Value)
	_, err := m.At(5000)
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.True(t, m.Erase(2001))
	require.False(t, m.Erase(2001))
	require.Equal(t, 1001, m.Len())

	m.ForAll(func(v *kv) { v.Value = -v.Key })
	require.True(t, m.CheckAllSatisfy(func(v kv) bool { return v.Value == -v.Key }))

	var n int
	m.All(func(kv) bool {
		n++
		return n < 5
	})
	require.Equal(t, 5, n)

	odd := func(v kv) bool { return v.Key%2 == 1 }
	require.Equal(t, 500, m.EraseIf(odd))
	require.True(t, m.CheckNoneSatisfy(odd))
	require.False(t, m.CheckAnySatisfy(odd))

	m.Clear()
	require.True(t, m.Empty())
	require.Equal(t, 4*512, m.NumNodes())
}

func TestMultiTableReserve(t *testing.T) {
	m := newIntMulti(0)
	require.NoError(t, m.Reserve(100))
	require.Equal(t, 16*128, m.NumNodes())
	require.ErrorIs(t, m.Reserve(-1), ErrInvalidArgument)

	require.ErrorIs(t, m.SetMaxLoadFactor(0), ErrInvalidArgument)
	require.NoError(t, m.SetMaxLoadFactor(0.5))
	for _, tbl := range m.tables {
		require.Equal(t, 0.5, tbl.MaxLoadFactor())
	}
}

func TestMultiTableIgnoresAllocator(t *testing.T) {
	a := &countingAllocator[kv]{}
	m := newIntMulti(0, WithAllocator[int, kv](a))
	for i := 0; i < 100; i++ {
		m.Insert(kv{i, i})
	}
	require.Zero(t, a.alloc)
}
