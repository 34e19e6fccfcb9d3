package sweep

import (
	"context"
	"fmt"

	"github.com/banshee-data/paramsweep/internal/monitoring"
	"github.com/banshee-data/paramsweep/internal/sweepdb"
)

// CreateSweep enumerates the full parameter table for cfg and initializes
// a new store at path, creating the containing directory if needed. The
// store file itself must not already exist. On success the returned store
// is open and ready to execute.
func CreateSweep(ctx context.Context, path string, cfg *Config) (*sweepdb.Store, error) {
	table, err := cfg.BuildTable()
	if err != nil {
		return nil, err
	}

	store, err := sweepdb.Create(path)
	if err != nil {
		return nil, err
	}

	cols := make([]sweepdb.ParamColumn, len(table.Columns))
	for i, col := range table.Columns {
		cols[i] = sweepdb.ParamColumn{Name: col.Name, SQLType: string(col.Storage)}
	}
	meta := sweepdb.Meta{Model: cfg.Model, SweepDirectory: cfg.SweepDirectory}
	if err := store.Initialize(ctx, meta, cfg.Dataset, cfg.Stage2Dataset, cols, table.Rows); err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing sweep store: %w", err)
	}

	monitoring.Logf("[sweep] created %s with %d runs", path, len(table.Rows))
	return store, nil
}
