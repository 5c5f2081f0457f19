//go:build perf

package perf

import "testing"

var smallConfig = perfConfig{
	Conductors: 500,
	Splits:     100,
}

func BenchmarkLoadSmall(b *testing.B) {
	benchmarkLoad(b, smallConfig)
}

func BenchmarkSplitSmall(b *testing.B) {
	benchmarkSplits(b, smallConfig)
}

func BenchmarkRemoveConnectionSmall(b *testing.B) {
	benchmarkRemoveConnections(b, smallConfig)
}

func BenchmarkProjectionSmall(b *testing.B) {
	benchmarkProjection(b, smallConfig)
}
