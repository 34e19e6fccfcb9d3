package sweep

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/paramsweep/internal/fsutil"
	"github.com/banshee-data/paramsweep/internal/monitoring"
	"github.com/banshee-data/paramsweep/internal/sweepdb"
	"github.com/banshee-data/paramsweep/internal/timeutil"
)

// worker drains the store one claim at a time. Each worker loads the
// dataset once and reuses it for every run it executes.
type worker struct {
	id    string
	store *sweepdb.Store
	model Model
	root  string
	exec  ExecOptions
	clock timeutil.Clock
	fs    fsutil.FileSystem

	dataset Dataset
	stage2  Dataset
}

// run claims and executes pending runs until the store is exhausted or ctx
// is cancelled. Fit failures are recorded in the store and do not stop the
// loop; only store and filesystem protocol violations are returned.
func (w *worker) run(ctx context.Context) error {
	if err := w.loadDatasets(ctx); err != nil {
		return fmt.Errorf("worker %s: %w", w.shortID(), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		claimed, err := w.store.ClaimNext(ctx, w.id)
		if err != nil {
			return fmt.Errorf("worker %s: %w", w.shortID(), err)
		}
		if claimed == nil {
			return nil
		}

		if err := w.execute(ctx, claimed); err != nil {
			return fmt.Errorf("worker %s: %w", w.shortID(), err)
		}
	}
}

// loadDatasets reconstructs the datasets from the configs stored at sweep
// creation. Models without a loader run on parameters alone.
func (w *worker) loadDatasets(ctx context.Context) error {
	if w.model.LoadDataset == nil {
		return nil
	}

	conf, err := w.store.DatasetConfig(ctx)
	if err != nil {
		return err
	}
	w.dataset, err = w.model.LoadDataset(ctx, conf)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}

	stage2Conf, err := w.store.Stage2DatasetConfig(ctx)
	if err != nil {
		return err
	}
	if stage2Conf != nil {
		w.stage2, err = w.model.LoadDataset(ctx, stage2Conf)
		if err != nil {
			return fmt.Errorf("loading stage2 dataset: %w", err)
		}
	}
	return nil
}

func (w *worker) execute(ctx context.Context, claimed *sweepdb.ClaimedRun) error {
	runDir := filepath.Join(w.root, strconv.FormatInt(claimed.ID, 10))
	if err := w.fs.Mkdir(runDir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &InvariantError{RunID: claimed.ID, Reason: "working directory already exists", Err: err}
		}
		return fmt.Errorf("creating working directory for run %d: %w", claimed.ID, err)
	}

	start := w.clock.Now()
	fitErr := w.fit(ctx, claimed, runDir)

	// Outcomes are recorded even when the run context has been cancelled;
	// the claim rows must not outlive the fit result.
	writeCtx := context.WithoutCancel(ctx)

	if fitErr != nil {
		if ctx.Err() != nil && errors.Is(fitErr, ctx.Err()) {
			// Interrupted rather than failed. The claim stays in progress
			// for reconciliation.
			return ctx.Err()
		}
		monitoring.Logf("[worker %s] %v", w.shortID(), &RunError{RunID: claimed.ID, Err: fitErr})
		return w.store.Complete(writeCtx, claimed.ID, w.id, nil, true)
	}

	elapsed := w.clock.Since(start).Seconds()
	if err := w.store.Complete(writeCtx, claimed.ID, w.id, &elapsed, false); err != nil {
		return err
	}
	monitoring.Logf("[worker %s] run %d done in %.2fs", w.shortID(), claimed.ID, elapsed)
	return nil
}

// fit invokes the model, converting a panic into an ordinary run failure.
func (w *worker) fit(ctx context.Context, claimed *sweepdb.ClaimedRun, runDir string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fit panicked: %v", r)
		}
	}()

	return w.model.Fit(ctx, FitRequest{
		Dataset:       w.dataset,
		Stage2Dataset: w.stage2,
		OutputDir:     runDir,
		Params:        claimed.Params,
		Options:       w.exec,
	})
}

func (w *worker) shortID() string {
	if len(w.id) > 8 {
		return w.id[:8]
	}
	return w.id
}
