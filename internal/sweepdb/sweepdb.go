// Package sweepdb persists the state of a hyperparameter sweep in a SQLite
// file: the dataset configurations, the sweep metadata, the enumerated run
// parameter table, and the per-run status rows that workers claim and
// complete. All state transitions go through the Store's atomic operations;
// nothing else writes to the file.
package sweepdb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DBFileName is the store's filename inside the sweep directory.
const DBFileName = "sweep_runs.db"

// sqliteMagic is the first 16 bytes of every SQLite 3 database file.
var sqliteMagic = []byte("SQLite format 3\x00")

var (
	// ErrNotClaimed reports a completion for a run that is not currently in
	// progress.
	ErrNotClaimed = errors.New("run is not claimed")

	// ErrWrongWorker reports a completion from a worker that does not hold
	// the claim for that run.
	ErrWrongWorker = errors.New("run claimed by another worker")

	// ErrNoSweep reports a store file without sweep metadata, usually left
	// behind by a creation that crashed before Initialize committed.
	ErrNoSweep = errors.New("store contains no sweep metadata")
)

// Store is the durable run store for one sweep. A single coarse mutex plus
// SQL transactions make claim and complete mutually exclusive across all
// workers; the claims map records which worker holds each in-progress run
// so a completion from anyone else fails loudly.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	claims map[int64]string // run_id -> worker id
}

// Meta is the singleton sweep description. It is immutable after creation.
type Meta struct {
	Model          string
	SweepDirectory string
	CreatedAt      time.Time
}

// Create builds a new store file at path, creating the containing
// directory if needed, and applies the schema. It fails if the file
// already exists: an existing store is opened with Open, never
// overwritten.
func Create(path string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("store %s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return open(path)
}

// Open opens an existing store file, applying any pending schema
// migrations. A file whose sweep metadata is missing is rejected with
// ErrNoSweep.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	s, err := open(path)
	if err != nil {
		return nil, err
	}
	if _, err := s.Meta(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return s, nil
}

func open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	// Single connection so the pragmas below apply to every query and all
	// writes from this process are serialized.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, path: path, claims: make(map[int64]string)}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// applyPragmas configures the connection for concurrent workers: WAL so
// readers do not block the claim transactions, a busy timeout to ride out
// short lock contention from other processes, and NORMAL synchronous mode
// which is durable enough under WAL.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Path returns the store's file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsSweepDatabase reports whether the file at path starts with the SQLite
// magic header. Short files are simply not databases, not errors.
func IsSweepDatabase(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	return bytes.Equal(header, sqliteMagic), nil
}

// Meta returns the sweep metadata, or ErrNoSweep if the store was never
// initialized.
func (s *Store) Meta(ctx context.Context) (*Meta, error) {
	var meta Meta
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT model, sweep_directory, created_at FROM sweep_meta LIMIT 1`,
	).Scan(&meta.Model, &meta.SweepDirectory, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoSweep
	}
	if err != nil {
		return nil, fmt.Errorf("querying sweep metadata: %w", err)
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	meta.CreatedAt = t
	return &meta, nil
}

// DatasetConfig returns the stored dataset configuration payload.
func (s *Store) DatasetConfig(ctx context.Context) ([]byte, error) {
	var conf string
	err := s.db.QueryRowContext(ctx,
		`SELECT json_conf FROM dataset_config LIMIT 1`,
	).Scan(&conf)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store has no dataset config")
	}
	if err != nil {
		return nil, fmt.Errorf("querying dataset config: %w", err)
	}
	return []byte(conf), nil
}

// Stage2DatasetConfig returns the stored stage2 dataset configuration, or
// nil when the sweep has none.
func (s *Store) Stage2DatasetConfig(ctx context.Context) ([]byte, error) {
	var conf string
	err := s.db.QueryRowContext(ctx,
		`SELECT json_conf FROM stage2_dataset_config LIMIT 1`,
	).Scan(&conf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying stage2 dataset config: %w", err)
	}
	return []byte(conf), nil
}
