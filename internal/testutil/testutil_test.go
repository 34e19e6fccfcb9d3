package testutil

import (
	"context"
	"errors"
	"testing"
)

func TestAssertNoError(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)
}

func TestAssertError(t *testing.T) {
	t.Parallel()

	AssertError(t, errors.New("boom"))
}

func TestNewFourRunStore(t *testing.T) {
	t.Parallel()

	store, sweepDir := NewFourRunStore(t, "synthetic")

	counts, err := store.StatusCounts(context.Background())
	AssertNoError(t, err)
	if counts.Pending != 4 || counts.Total != 4 {
		t.Errorf("got %d pending of %d total, want 4 of 4", counts.Pending, counts.Total)
	}

	meta, err := store.Meta(context.Background())
	AssertNoError(t, err)
	if meta.Model != "synthetic" {
		t.Errorf("got model %q, want %q", meta.Model, "synthetic")
	}
	if meta.SweepDirectory != sweepDir {
		t.Errorf("got sweep directory %q, want %q", meta.SweepDirectory, sweepDir)
	}
}

func TestNewFourRunStore_ClaimableRuns(t *testing.T) {
	t.Parallel()

	store, _ := NewFourRunStore(t, "synthetic")

	run, err := store.ClaimNext(context.Background(), "testutil-worker")
	AssertNoError(t, err)
	if run == nil {
		t.Fatal("expected a claimable run")
	}
	if _, ok := run.Params["lr"]; !ok {
		t.Errorf("claimed run params %v missing lr", run.Params)
	}
	if _, ok := run.Params["batch_size"]; !ok {
		t.Errorf("claimed run params %v missing batch_size", run.Params)
	}
}
