// Command paramsweep enumerates a hyperparameter sweep into a SQLite store
// and executes it with a pool of local workers. The positional argument is
// either a JSON sweep configuration, which creates a fresh sweep, or an
// existing sweep database, which retries its failed runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/paramsweep/internal/report"
	"github.com/banshee-data/paramsweep/internal/sweep"
	"github.com/banshee-data/paramsweep/internal/sweepdb"
	"github.com/banshee-data/paramsweep/internal/version"
)

func main() {
	nWorkers := flag.Int("n-workers", sweep.DefaultWorkers(), "Number of concurrent workers")
	createDBOnly := flag.Bool("create-db-only", false, "Create and populate the sweep database without running anything")
	accelerator := flag.String("accelerator", "cpu", "Accelerator passed to fit operations")
	grace := flag.Duration("grace", 30*time.Second, "How long to wait for in-flight runs after an interrupt")
	progress := flag.Duration("progress", 30*time.Second, "Interval between progress log lines")
	reportFlag := flag.Bool("report", false, "Write a status report for an existing sweep database and exit")
	reportOut := flag.String("report-out", "", "Report HTML path (default <sweep_directory>/report.html)")
	reportPNG := flag.String("report-png", "", "Optional elapsed-time PNG path")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if flag.NArg() != 1 {
		log.Fatalf("usage: paramsweep [flags] <config.json | %s>", sweepdb.DBFileName)
	}
	path := flag.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := sweep.Options{
		Workers:          *nWorkers,
		GracePeriod:      *grace,
		ProgressInterval: *progress,
		Exec:             sweep.ExecOptions{Accelerator: *accelerator, Quiet: true, Offline: true},
	}

	isDB, err := sweepdb.IsSweepDatabase(path)
	if err != nil {
		log.Fatalf("reading %s: %v", path, err)
	}

	if isDB {
		if *createDBOnly {
			log.Fatalf("sweep database %s provided with -create-db-only", path)
		}

		store, err := sweepdb.Open(path)
		if err != nil {
			log.Fatalf("opening sweep database: %v", err)
		}
		defer store.Close()

		if *reportFlag {
			if err := writeReport(ctx, store, *reportOut, *reportPNG); err != nil {
				log.Fatalf("writing report: %v", err)
			}
			return
		}

		log.Printf("[sweep] resuming sweep from %s", path)
		if err := sweep.Resume(ctx, store, opts); err != nil {
			log.Fatalf("resuming sweep: %v", err)
		}
		return
	}

	if *reportFlag {
		log.Fatalf("-report needs an existing sweep database, got %s", path)
	}

	cfg, err := sweep.LoadConfig(path)
	if err != nil {
		log.Fatalf("loading sweep configuration: %v", err)
	}
	cfg.Print()

	dbPath := filepath.Join(cfg.SweepDirectory, sweepdb.DBFileName)
	store, err := sweep.CreateSweep(ctx, dbPath, cfg)
	if err != nil {
		log.Fatalf("creating sweep database: %v", err)
	}
	defer store.Close()
	log.Printf("[sweep] created %s", dbPath)

	if *createDBOnly {
		return
	}

	if err := sweep.Run(ctx, store, opts); err != nil {
		log.Fatalf("running sweep: %v", err)
	}
}

// writeReport renders the status report, defaulting the HTML destination to
// report.html inside the sweep directory recorded in the store.
func writeReport(ctx context.Context, store *sweepdb.Store, htmlPath, pngPath string) error {
	if htmlPath == "" {
		meta, err := store.Meta(ctx)
		if err != nil {
			return err
		}
		htmlPath = filepath.Join(meta.SweepDirectory, "report.html")
	}
	if err := report.Write(ctx, store, report.Options{HTMLPath: htmlPath, PNGPath: pngPath}); err != nil {
		return err
	}
	log.Printf("[sweep] report written to %s", htmlPath)
	if pngPath != "" {
		log.Printf("[sweep] elapsed plot written to %s", pngPath)
	}
	return nil
}
