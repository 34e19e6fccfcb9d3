// Package testutil provides assertion helpers and an initialized store
// fixture shared by tests above the storage layer. sweepdb's own tests
// cannot import it (import cycle) and keep private fixtures instead.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/banshee-data/paramsweep/internal/sweepdb"
)

// AssertNoError fails the test immediately if err is non-nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test immediately if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewFourRunStore creates an initialized store under a fresh temp directory
// with four pending runs over an lr x batch_size grid, run ids 0-3. It
// returns the store and the sweep working directory recorded in its
// metadata.
func NewFourRunStore(t *testing.T, model string) (*sweepdb.Store, string) {
	t.Helper()

	dir := t.TempDir()
	sweepDir := filepath.Join(dir, "sweep")
	store, err := sweepdb.Create(filepath.Join(dir, sweepdb.DBFileName))
	AssertNoError(t, err)
	t.Cleanup(func() { store.Close() })

	meta := sweepdb.Meta{Model: model, SweepDirectory: sweepDir}
	cols := []sweepdb.ParamColumn{
		{Name: "lr", SQLType: "real"},
		{Name: "batch_size", SQLType: "integer"},
	}
	rows := [][]any{
		{0.01, 16},
		{0.01, 32},
		{0.1, 16},
		{0.1, 32},
	}
	err = store.Initialize(context.Background(), meta, []byte(`{"n_samples": 10}`), nil, cols, rows)
	AssertNoError(t, err)
	return store, sweepDir
}
