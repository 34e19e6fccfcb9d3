package sweepdb

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInitialize_PopulatesStatusRows(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)

	counts, err := store.StatusCounts(context.Background())
	if err != nil {
		t.Fatalf("StatusCounts failed: %v", err)
	}
	want := StatusCounts{Pending: 4, Total: 4}
	if counts != want {
		t.Errorf("counts mismatch: got %+v, want %+v", counts, want)
	}
}

func TestInitialize_Twice(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)

	meta := Meta{Model: "synthetic", SweepDirectory: "/tmp/other"}
	err := store.Initialize(context.Background(), meta, []byte(`{}`), nil, testColumns(), testRows())
	if err == nil {
		t.Fatal("expected second Initialize to fail")
	}
}

func TestInitialize_RejectsBadColumnName(t *testing.T) {
	store := newTestStore(t)

	cols := []ParamColumn{{Name: "lr; DROP TABLE run_status", SQLType: "real"}}
	err := store.Initialize(context.Background(), Meta{Model: "synthetic", SweepDirectory: "/tmp/x"},
		[]byte(`{}`), nil, cols, [][]any{{0.1}})
	if err == nil {
		t.Fatal("expected Initialize to reject an invalid column name")
	}
}

func TestClaimNext_OrderAndParams(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)
	ctx := context.Background()

	run, err := store.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if run == nil {
		t.Fatal("expected a claimed run")
	}
	if run.ID != 0 {
		t.Errorf("expected run 0 first, got %d", run.ID)
	}

	want := map[string]any{
		"lr":         0.01,
		"batch_size": int64(16),
		"optimizer":  "adam",
		"layers":     []any{64.0, 32.0},
	}
	if diff := cmp.Diff(want, run.Params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	if _, ok := run.Params["run_id"]; ok {
		t.Error("run_id must not appear in the parameter map")
	}

	next, err := store.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if next == nil || next.ID != 1 {
		t.Errorf("expected run 1 second, got %+v", next)
	}
}

func TestClaimNext_Exhaustion(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		run, err := store.ClaimNext(ctx, "worker-0")
		if err != nil {
			t.Fatalf("ClaimNext %d failed: %v", i, err)
		}
		if run == nil {
			t.Fatalf("expected a run on claim %d", i)
		}
	}

	run, err := store.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext after exhaustion failed: %v", err)
	}
	if run != nil {
		t.Errorf("expected nil after exhaustion, got run %d", run.ID)
	}
}

func TestComplete_Success(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)
	ctx := context.Background()

	run, err := store.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	elapsed := 1.5
	if err := store.Complete(ctx, run.ID, "worker-0", &elapsed, false); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	statuses, err := store.RunStatuses(ctx)
	if err != nil {
		t.Fatalf("RunStatuses failed: %v", err)
	}
	st := statuses[0]
	if !st.Done || st.InProgress || st.Failed {
		t.Errorf("unexpected status for run 0: %+v", st)
	}
	if st.Elapsed == nil || *st.Elapsed != 1.5 {
		t.Errorf("elapsed mismatch: got %v, want 1.5", st.Elapsed)
	}
}

func TestComplete_Failure(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)
	ctx := context.Background()

	run, err := store.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	if err := store.Complete(ctx, run.ID, "worker-0", nil, true); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	statuses, err := store.RunStatuses(ctx)
	if err != nil {
		t.Fatalf("RunStatuses failed: %v", err)
	}
	st := statuses[0]
	if !st.Done || !st.Failed || st.InProgress {
		t.Errorf("unexpected status for failed run: %+v", st)
	}
	if st.Elapsed != nil {
		t.Errorf("expected nil elapsed for failed run, got %v", *st.Elapsed)
	}
}

func TestComplete_NotClaimed(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)

	err := store.Complete(context.Background(), 2, "worker-0", nil, false)
	if !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed, got %v", err)
	}
}

func TestComplete_WrongWorker(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)
	ctx := context.Background()

	run, err := store.ClaimNext(ctx, "worker-a")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	err = store.Complete(ctx, run.ID, "worker-b", nil, false)
	if !errors.Is(err, ErrWrongWorker) {
		t.Fatalf("expected ErrWrongWorker, got %v", err)
	}
}

func TestComplete_Twice(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)
	ctx := context.Background()

	run, err := store.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	elapsed := 0.2
	if err := store.Complete(ctx, run.ID, "worker-0", &elapsed, false); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	err = store.Complete(ctx, run.ID, "worker-0", &elapsed, false)
	if !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed on second Complete, got %v", err)
	}
}

func TestReconcileOrphans(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)
	ctx := context.Background()

	first, err := store.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if _, err := store.ClaimNext(ctx, "worker-1"); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	n, err := store.ReconcileOrphans(ctx)
	if err != nil {
		t.Fatalf("ReconcileOrphans failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 reconciled rows, got %d", n)
	}

	counts, err := store.StatusCounts(ctx)
	if err != nil {
		t.Fatalf("StatusCounts failed: %v", err)
	}
	want := StatusCounts{Pending: 2, Failed: 2, Total: 4}
	if counts != want {
		t.Errorf("counts mismatch: got %+v, want %+v", counts, want)
	}

	// The reconciled claim is gone, so a late Complete must fail loudly.
	err = store.Complete(ctx, first.ID, "worker-0", nil, false)
	if !errors.Is(err, ErrNotClaimed) {
		t.Fatalf("expected ErrNotClaimed after reconcile, got %v", err)
	}
}

func TestReconcileOrphans_NothingToDo(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)

	n, err := store.ReconcileOrphans(context.Background())
	if err != nil {
		t.Fatalf("ReconcileOrphans failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 reconciled rows, got %d", n)
	}
}

func TestResetFailed(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)
	ctx := context.Background()

	// Fail runs 0 and 1, complete run 2 successfully.
	for i := 0; i < 2; i++ {
		run, err := store.ClaimNext(ctx, "worker-0")
		if err != nil {
			t.Fatalf("ClaimNext failed: %v", err)
		}
		if err := store.Complete(ctx, run.ID, "worker-0", nil, true); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
	}
	run, err := store.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	elapsed := 0.7
	if err := store.Complete(ctx, run.ID, "worker-0", &elapsed, false); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	failed, err := store.FailedRuns(ctx)
	if err != nil {
		t.Fatalf("FailedRuns failed: %v", err)
	}
	if diff := cmp.Diff([]int64{0, 1}, failed); diff != "" {
		t.Errorf("failed runs mismatch (-want +got):\n%s", diff)
	}

	n, err := store.ResetFailed(ctx)
	if err != nil {
		t.Fatalf("ResetFailed failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 reset rows, got %d", n)
	}

	counts, err := store.StatusCounts(ctx)
	if err != nil {
		t.Fatalf("StatusCounts failed: %v", err)
	}
	want := StatusCounts{Pending: 3, Done: 1, Total: 4}
	if counts != want {
		t.Errorf("counts mismatch: got %+v, want %+v", counts, want)
	}

	// Reset runs are claimable again, starting from the lowest id.
	reclaimed, err := store.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != 0 {
		t.Errorf("expected run 0 to be claimable after reset, got %+v", reclaimed)
	}
}

func TestStatusCounts_MixedStates(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)
	ctx := context.Background()

	run, err := store.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	elapsed := 2.0
	if err := store.Complete(ctx, run.ID, "worker-0", &elapsed, false); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	run, err = store.ClaimNext(ctx, "worker-0")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := store.Complete(ctx, run.ID, "worker-0", nil, true); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if _, err := store.ClaimNext(ctx, "worker-1"); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	counts, err := store.StatusCounts(ctx)
	if err != nil {
		t.Fatalf("StatusCounts failed: %v", err)
	}
	want := StatusCounts{Pending: 1, InProgress: 1, Done: 1, Failed: 1, Total: 4}
	if counts != want {
		t.Errorf("counts mismatch: got %+v, want %+v", counts, want)
	}
}

func TestRunStatuses_Order(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)

	statuses, err := store.RunStatuses(context.Background())
	if err != nil {
		t.Fatalf("RunStatuses failed: %v", err)
	}
	if len(statuses) != 4 {
		t.Fatalf("expected 4 statuses, got %d", len(statuses))
	}
	for i, st := range statuses {
		if st.RunID != int64(i) {
			t.Errorf("status %d has run id %d", i, st.RunID)
		}
		if st.Done || st.InProgress || st.Failed || st.Elapsed != nil {
			t.Errorf("expected pending status for run %d, got %+v", i, st)
		}
	}
}

func TestClaimNext_ConcurrentWorkersGetDistinctRuns(t *testing.T) {
	store := newTestStore(t)
	initTestSweep(t, store)
	ctx := context.Background()

	const workers = 8
	claimed := make(chan int64, 16)
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerID := string(rune('a' + id))
			for {
				run, err := store.ClaimNext(ctx, workerID)
				if err != nil {
					errs <- err
					return
				}
				if run == nil {
					return
				}
				claimed <- run.ID
			}
		}(w)
	}
	wg.Wait()
	close(claimed)
	close(errs)

	for err := range errs {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	seen := make(map[int64]bool)
	for id := range claimed {
		if seen[id] {
			t.Errorf("run %d claimed twice", id)
		}
		seen[id] = true
	}
	if len(seen) != 4 {
		t.Errorf("expected 4 distinct claims, got %d", len(seen))
	}
}
