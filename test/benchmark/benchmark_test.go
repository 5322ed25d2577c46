// Package benchmark provides performance benchmarks for enterdb.
package benchmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/enterdb/enterdb/internal/backend"
	"github.com/enterdb/enterdb/internal/catalog"
	"github.com/enterdb/enterdb/internal/ring"
	"github.com/enterdb/enterdb/internal/storage"
	"github.com/enterdb/enterdb/internal/table"
	"github.com/enterdb/enterdb/internal/validator"
	"github.com/enterdb/enterdb/pkg/types"
)

func boolPtr(b bool) *bool { return &b }

func newBenchManager(b *testing.B, numShards int) *table.Manager {
	b.Helper()
	dataDir, err := os.MkdirTemp("", "enterdb-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { os.RemoveAll(dataDir) })

	cat, err := catalog.Open(filepath.Join(dataDir, "catalog.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { cat.Close() })

	r := ring.New([]ring.Node{{ID: "bench-node", DC: "dc1"}}, 50)
	pool := backend.NewPool(backend.DefaultPoolConfig())
	b.Cleanup(func() { pool.Close() })

	return table.NewManager(table.Config{
		NodeID:        "bench-node",
		DataCenter:    "dc1",
		DataDir:       dataDir,
		DefaultShards: numShards,
		DefaultRF:     1,
		Catalog:       cat,
		Ring:          r,
		Pool:          pool,
	})
}

// BenchmarkPutThroughput measures row write throughput against a plain
// (non-wrapped) sharded table.
func BenchmarkPutThroughput(b *testing.B) {
	m := newBenchManager(b, 8)
	ctx := context.Background()

	_, err := m.CreateTable(ctx, validator.Args{
		Name:    "bench_put",
		Key:     []string{"id"},
		Columns: []string{"id", "payload"},
		Options: types.Options{Shards: 8, Distributed: boolPtr(false)},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		key := map[string]any{"id": int64(i)}
		val := map[string]any{"payload": "some row payload"}
		if err := m.Put(ctx, "bench_put", key, val); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "rows/sec")
}

// BenchmarkPutThroughputWrapped measures write throughput against a
// wrapper-bucketed shard, where every Put also hashes into a bucket.
func BenchmarkPutThroughputWrapped(b *testing.B) {
	m := newBenchManager(b, 4)
	ctx := context.Background()

	_, err := m.CreateTable(ctx, validator.Args{
		Name:    "bench_put_wrapped",
		Key:     []string{"id"},
		Columns: []string{"id", "payload"},
		Options: types.Options{
			Shards:      4,
			Distributed: boolPtr(false),
			Type:        types.TypeOrderedWrapped,
			Wrapper: &types.WrapperOptions{
				NumOfBuckets: 4,
				SizeMargin:   &types.SizeMargin{Unit: types.SizeMarginMegabytes, Value: 64},
			},
		},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		key := map[string]any{"id": int64(i)}
		val := map[string]any{"payload": "some row payload"}
		if err := m.Put(ctx, "bench_put_wrapped", key, val); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "rows/sec")
}

// BenchmarkReadRangeFanout measures full-table range scan throughput across
// a sharded table, exercising C6's merge fanout.
func BenchmarkReadRangeFanout(b *testing.B) {
	m := newBenchManager(b, 8)
	ctx := context.Background()

	_, err := m.CreateTable(ctx, validator.Args{
		Name:    "bench_range",
		Key:     []string{"id"},
		Columns: []string{"id", "payload"},
		Options: types.Options{Shards: 8, Distributed: boolPtr(false)},
	})
	if err != nil {
		b.Fatal(err)
	}

	const rows = 5000
	for i := 0; i < rows; i++ {
		key := map[string]any{"id": int64(i)}
		val := map[string]any{"payload": "some row payload"}
		if err := m.Put(ctx, "bench_range", key, val); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		kvs, _, err := m.ReadRange(ctx, "bench_range", nil, nil, rows)
		if err != nil {
			b.Fatal(err)
		}
		if len(kvs) != rows {
			b.Fatalf("expected %d rows, got %d", rows, len(kvs))
		}
	}
}

// BenchmarkApproximateSizeCacheHit measures the cost of a cached
// approximate_size call once the estimate has been populated once.
func BenchmarkApproximateSizeCacheHit(b *testing.B) {
	m := newBenchManager(b, 4)
	ctx := context.Background()

	if _, err := m.CreateTable(ctx, validator.Args{
		Name:    "bench_size",
		Key:     []string{"id"},
		Columns: []string{"id", "payload"},
		Options: types.Options{Shards: 4, Distributed: boolPtr(false)},
	}); err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		if err := m.Put(ctx, "bench_size", map[string]any{"id": int64(i)}, map[string]any{"payload": "v"}); err != nil {
			b.Fatal(err)
		}
	}
	if _, err := m.ApproximateSize(ctx, "bench_size"); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := m.ApproximateSize(ctx, "bench_size"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkLocalStorageUploadDownload measures the archiver's local storage
// backend, the same path a bucket archive upload takes.
func BenchmarkLocalStorageUploadDownload(b *testing.B) {
	tmpDir, err := os.MkdirTemp("", "enterdb-bench-storage-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	localStorage, err := storage.NewLocalStorage(tmpDir)
	if err != nil {
		b.Fatal(err)
	}

	testFile := filepath.Join(tmpDir, "test_source.dat")
	testData := make([]byte, 1024*1024) // 1MB
	for i := range testData {
		testData[i] = byte(i % 256)
	}
	if err := os.WriteFile(testFile, testData, 0644); err != nil {
		b.Fatal(err)
	}

	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		objectPath := fmt.Sprintf("test_%d.dat", i)
		if err := localStorage.Upload(ctx, testFile, objectPath); err != nil {
			b.Fatal(err)
		}

		downloadPath := filepath.Join(tmpDir, fmt.Sprintf("download_%d.dat", i))
		if err := localStorage.Download(ctx, objectPath, downloadPath); err != nil {
			b.Fatal(err)
		}
	}
}
