package sweepdb

import (
	"context"
	"path/filepath"
	"testing"
)

// newTestStore creates an empty store backed by a file in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), DBFileName)
	store, err := Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// testColumns shapes the four-run sweep used by most store tests: one
// column per storage class, including a blob column that exercises the
// JSON round trip.
func testColumns() []ParamColumn {
	return []ParamColumn{
		{Name: "lr", SQLType: "real"},
		{Name: "batch_size", SQLType: "integer"},
		{Name: "optimizer", SQLType: "text"},
		{Name: "layers", SQLType: "blob"},
	}
}

func testRows() [][]any {
	return [][]any{
		{0.01, int64(16), "adam", []any{64.0, 32.0}},
		{0.01, int64(32), "sgd", []any{128.0}},
		{0.1, int64(16), "adam", []any{64.0, 32.0}},
		{0.1, int64(32), "sgd", []any{128.0}},
	}
}

// initTestSweep populates store with the standard four-run test sweep.
func initTestSweep(t *testing.T, store *Store) {
	t.Helper()

	meta := Meta{Model: "synthetic", SweepDirectory: filepath.Join(t.TempDir(), "sweep")}
	err := store.Initialize(context.Background(), meta, []byte(`{"n_samples":1000}`), nil, testColumns(), testRows())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
}
