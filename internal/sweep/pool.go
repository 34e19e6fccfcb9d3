package sweep

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/paramsweep/internal/fsutil"
	"github.com/banshee-data/paramsweep/internal/monitoring"
	"github.com/banshee-data/paramsweep/internal/sweepdb"
	"github.com/banshee-data/paramsweep/internal/timeutil"
)

const (
	defaultGracePeriod      = 30 * time.Second
	defaultProgressInterval = 30 * time.Second
)

// Options configures a sweep execution.
type Options struct {
	// Workers is the number of concurrent workers. Defaults to
	// DefaultWorkers().
	Workers int

	// GracePeriod bounds how long Run waits for workers to finish their
	// current runs after cancellation. Defaults to 30s.
	GracePeriod time.Duration

	// ProgressInterval is how often run counts are logged while the sweep
	// executes. Defaults to 30s.
	ProgressInterval time.Duration

	// Exec is passed through to every fit call. Defaults to
	// DefaultExecOptions().
	Exec ExecOptions

	// Clock and FS exist so tests can control time and the disk. Nil
	// selects the real implementations.
	Clock timeutil.Clock
	FS    fsutil.FileSystem
}

// DefaultWorkers is the default worker count: two less than the CPU count,
// with a floor of one.
func DefaultWorkers() int {
	if n := runtime.NumCPU() - 2; n > 1 {
		return n
	}
	return 1
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers()
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = defaultGracePeriod
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = defaultProgressInterval
	}
	if o.Exec == (ExecOptions{}) {
		o.Exec = DefaultExecOptions()
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.FS == nil {
		o.FS = fsutil.OSFileSystem{}
	}
	return o
}

// Run executes every pending run in the store with a pool of workers and
// blocks until the sweep drains or ctx is cancelled. Abandoned claims are
// always reconciled before Run returns, even on cancellation, so no run is
// left marked in progress. A cancelled sweep returns ErrInterrupted;
// individual run failures are recorded in the store and do not make Run
// fail.
func Run(ctx context.Context, store *sweepdb.Store, opts Options) error {
	opts = opts.withDefaults()

	meta, err := store.Meta(ctx)
	if err != nil {
		return err
	}
	model, err := LookupModel(meta.Model)
	if err != nil {
		return err
	}
	if err := opts.FS.MkdirAll(meta.SweepDirectory, 0o755); err != nil {
		return fmt.Errorf("creating sweep directory: %w", err)
	}

	counts, err := store.StatusCounts(ctx)
	if err != nil {
		return err
	}
	monitoring.Logf("[sweep] model %s: %d of %d runs pending, starting %d workers",
		meta.Model, counts.Pending, counts.Total, opts.Workers)

	var wg sync.WaitGroup
	errCh := make(chan error, opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		w := &worker{
			id:    uuid.NewString(),
			store: store,
			model: model,
			root:  meta.SweepDirectory,
			exec:  opts.Exec,
			clock: opts.Clock,
			fs:    opts.FS,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := opts.Clock.NewTicker(opts.ProgressInterval)
	defer ticker.Stop()

	interrupted := false
wait:
	for {
		select {
		case <-done:
			break wait
		case <-ctx.Done():
			interrupted = true
			monitoring.Logf("[sweep] stop requested, waiting up to %s for workers to finish", opts.GracePeriod)
			timer := opts.Clock.NewTimer(opts.GracePeriod)
			select {
			case <-done:
				timer.Stop()
			case <-timer.C():
				monitoring.Logf("[sweep] grace period expired with workers still running")
			}
			break wait
		case <-ticker.C():
			if c, err := store.StatusCounts(context.WithoutCancel(ctx)); err == nil {
				monitoring.Logf("[sweep] progress: %d done, %d failed, %d in progress, %d pending",
					c.Done, c.Failed, c.InProgress, c.Pending)
			}
		}
	}

	var errs []error

	// Reconciliation must happen no matter how the wait ended.
	cleanupCtx := context.WithoutCancel(ctx)
	orphans, err := store.ReconcileOrphans(cleanupCtx)
	if err != nil {
		errs = append(errs, err)
	} else if orphans > 0 {
		monitoring.Logf("[sweep] marked %d abandoned runs as failed", orphans)
	}

drain:
	for {
		select {
		case err := <-errCh:
			errs = append(errs, err)
		default:
			break drain
		}
	}

	if c, err := store.StatusCounts(cleanupCtx); err == nil {
		monitoring.Logf("[sweep] finished: %d done, %d failed, %d pending", c.Done, c.Failed, c.Pending)
	}

	if interrupted {
		errs = append([]error{ErrInterrupted}, errs...)
	}
	return errors.Join(errs...)
}

// Resume clears failed runs and executes the sweep again. Each failed
// run's working directory is removed before its row returns to pending so
// the rerun starts clean.
func Resume(ctx context.Context, store *sweepdb.Store, opts Options) error {
	opts = opts.withDefaults()

	meta, err := store.Meta(ctx)
	if err != nil {
		return err
	}
	failed, err := store.FailedRuns(ctx)
	if err != nil {
		return err
	}

	for _, id := range failed {
		dir := filepath.Join(meta.SweepDirectory, strconv.FormatInt(id, 10))
		if err := opts.FS.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing stale run directory %s: %w", dir, err)
		}
	}
	if len(failed) > 0 {
		n, err := store.ResetFailed(ctx)
		if err != nil {
			return err
		}
		monitoring.Logf("[sweep] reset %d failed runs", n)
	}

	return Run(ctx, store, opts)
}
