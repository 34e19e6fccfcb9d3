package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Dataset is the opaque object a model's fit operation consumes. The engine
// never inspects it; it is reconstructed from the stored dataset config and
// handed through.
type Dataset any

// DatasetFunc reconstructs a model's dataset from its stored JSON
// configuration. It is invoked once per worker, not once per run.
type DatasetFunc func(ctx context.Context, conf json.RawMessage) (Dataset, error)

// ExecOptions carries the execution toggles passed to every fit invocation.
type ExecOptions struct {
	Accelerator string `json:"accelerator"`
	Quiet       bool   `json:"quiet"`
	Offline     bool   `json:"offline"`
}

// DefaultExecOptions returns the options used when the caller sets none.
func DefaultExecOptions() ExecOptions {
	return ExecOptions{Accelerator: "cpu", Quiet: true, Offline: true}
}

// FitRequest is the input to one fit invocation.
type FitRequest struct {
	Dataset       Dataset
	Stage2Dataset Dataset // nil unless the sweep has a stage2 dataset config
	OutputDir     string
	Params        map[string]any
	Options       ExecOptions
}

// FitFunc executes one run, leaving all output under req.OutputDir. A
// returned error marks that run failed without stopping the worker.
type FitFunc func(ctx context.Context, req FitRequest) error

// Model binds a registered model id to its fit operation and dataset
// loader. LoadDataset may be nil for models that need no dataset.
type Model struct {
	Name        string
	LoadDataset DatasetFunc
	Fit         FitFunc
}

var (
	modelsMu sync.RWMutex
	models   = make(map[string]Model)
)

// RegisterModel makes a model available for sweeps under its name. It
// panics on an empty name, a missing fit function, or a duplicate
// registration, following the database/sql driver registration contract.
func RegisterModel(m Model) {
	modelsMu.Lock()
	defer modelsMu.Unlock()
	if m.Name == "" {
		panic("sweep: RegisterModel with empty name")
	}
	if m.Fit == nil {
		panic("sweep: RegisterModel " + m.Name + " has no fit function")
	}
	if _, dup := models[m.Name]; dup {
		panic("sweep: RegisterModel called twice for " + m.Name)
	}
	models[m.Name] = m
}

// LookupModel returns the registered model for name.
func LookupModel(name string) (Model, error) {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	m, ok := models[name]
	if !ok {
		return Model{}, fmt.Errorf("unknown model %q", name)
	}
	return m, nil
}

// ModelNames returns the registered model ids in sorted order.
func ModelNames() []string {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
