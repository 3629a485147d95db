package hashtab

import (
	"fmt"
	"io"
	"strconv"
	"testing"
	"unsafe"
)

func BenchmarkTableIter(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkRuntimeMapIter[int64], genKeys[int64]))
	})
	b.Run("impl=table", func(b *testing.B) {
		b.Run("t=Int", benchSizes(benchmarkTableIter[int64], genKeys[int64]))
	})
}

func BenchmarkTableGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapGetHit[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRuntimeMapGetHit[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetHit[string], genKeys[string]))
	})
	b.Run("impl=table", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkTableGetHit[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkTableGetHit[int32], genKeys[int32]))
		b.Run("t=String", benchSizes(benchmarkTableGetHit[string], genKeys[string]))
	})
	b.Run("impl=sharded", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkShardedGetHit[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkShardedGetHit[string], genKeys[string]))
	})
	b.Run("impl=chained", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkChainedGetHit[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkChainedGetHit[string], genKeys[string]))
	})
}

func BenchmarkTableGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapGetMiss[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapGetMiss[string], genKeys[string]))
	})
	b.Run("impl=table", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkTableGetMiss[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkTableGetMiss[string], genKeys[string]))
	})
}

func BenchmarkTablePutGrow(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutGrow[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapPutGrow[string], genKeys[string]))
	})
	b.Run("impl=table", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkTablePutGrow[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkTablePutGrow[string], genKeys[string]))
	})
}

func BenchmarkTablePutDelete(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutDelete[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkRuntimeMapPutDelete[string], genKeys[string]))
	})
	b.Run("impl=table", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkTablePutDelete[int64], genKeys[int64]))
		b.Run("t=String", benchSizes(benchmarkTablePutDelete[string], genKeys[string]))
	})
}

func BenchmarkConcurrentGetHit(b *testing.B) {
	b.Run("impl=sharded", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkShardedParallelGetHit[int64], genKeys[int64]))
	})
	b.Run("impl=chained", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkChainedParallelGetHit[int64], genKeys[int64]))
	})
}

type benchTypes interface {
	int32 | int64 | string
}

func benchSizes[T benchTypes](
	f func(b *testing.B, n int, genKeys func(start, end int) []T), genKeys func(start, end int) []T,
) func(*testing.B) {
	var cases = []int{
		6, 12, 18, 24, 30,
		64,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n, genKeys) })
		}
	}
}

func genKeys[T benchTypes](start, end int) []T {
	var t T
	switch any(t).(type) {
	case int32:
		keys := make([]int32, end-start)
		for i := range keys {
			keys[i] = int32(start + i)
		}
		return unsafeConvertSlice[T](keys)
	case int64:
		keys := make([]int64, end-start)
		for i := range keys {
			keys[i] = int64(start + i)
		}
		return unsafeConvertSlice[T](keys)
	case string:
		keys := make([]string, end-start)
		for i := range keys {
			keys[i] = strconv.Itoa(start + i)
		}
		return unsafeConvertSlice[T](keys)
	default:
		panic("not reached")
	}
}

func unsafeConvertSlice[Dest any, Src any](s []Src) []Dest {
	return unsafe.Slice((*Dest)(unsafe.Pointer(unsafe.SliceData(s))), len(s))
}

func benchmarkRuntimeMapIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	var tmp T
	for i := 0; i < b.N; i++ {
		for k, v := range m {
			tmp += k + v
		}
	}
}

func benchmarkTableIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := NewMap[T, T](n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Insert(k, k)
	}
	b.ResetTimer()
	var tmp T
	for i := 0; i < b.N; i++ {
		m.All(func(k, v T) bool {
			tmp += k + v
			return true
		})
	}
}

func benchmarkRuntimeMapGetMiss[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T)
	keys := genKeys(0, n)
	miss := genKeys(-n, 0)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[miss[i%len(miss)]]
	}
}

func benchmarkTableGetMiss[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := NewMap[T, T](0)
	keys := genKeys(0, n)
	miss := genKeys(-n, 0)
	for j := range keys {
		m.Insert(keys[j], keys[j])
	}
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(miss[i%len(miss)])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapGetHit[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}

	// Defeat the builtin map's pointer equality shortcut for string keys.
	keys = genKeys(0, n)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[keys[i%n]]
	}
}

func benchmarkTableGetHit[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := NewMap[T, T](n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Insert(k, k)
	}
	keys = genKeys(0, n)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(keys[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkShardedGetHit[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := NewConcurrentMap[T, T](0)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Insert(k, k)
	}
	keys = genKeys(0, n)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(keys[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkChainedGetHit[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := NewChained(pairKey[T, T], n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Insert(Pair[T, T]{Key: k, Value: k})
	}
	keys = genKeys(0, n)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.TryGet(keys[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkShardedParallelGetHit[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := NewConcurrentMap[T, T](0)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Insert(k, k)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		var i int
		for pb.Next() {
			m.Get(keys[i%n])
			i++
		}
	})
}

func benchmarkChainedParallelGetHit[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := NewChained(pairKey[T, T], n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Insert(Pair[T, T]{Key: k, Value: k})
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		var i int
		for pb.Next() {
			m.Has(keys[i%n])
			i++
		}
	})
}

func benchmarkRuntimeMapPutGrow[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	keys := genKeys(0, n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := make(map[T]T)
		for _, k := range keys {
			m[k] = k
		}
	}
}

func benchmarkTablePutGrow[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	keys := genKeys(0, n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := NewMap[T, T](0)
		for _, k := range keys {
			m.Insert(k, k)
		}
	}
}

func benchmarkRuntimeMapPutDelete[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, keys[j])
		m[keys[j]] = keys[j]
	}
}

func benchmarkTablePutDelete[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := NewMap[T, T](n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m.Insert(k, k)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		m.Erase(keys[j])
		m.Insert(keys[j], keys[j])
	}
}
