package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func init() {
	RegisterModel(Model{
		Name:        "synthetic",
		LoadDataset: loadSyntheticDataset,
		Fit:         syntheticFit,
	})
}

// loadSyntheticDataset decodes the stored dataset config. The synthetic
// model has no real data to load, so the decoded config stands in for it.
func loadSyntheticDataset(_ context.Context, conf json.RawMessage) (Dataset, error) {
	var data map[string]any
	if err := json.Unmarshal(conf, &data); err != nil {
		return nil, fmt.Errorf("decoding synthetic dataset config: %w", err)
	}
	return data, nil
}

// syntheticFit records the run's parameters as params.json in the output
// directory. A positive "sleep_ms" parameter delays completion and a truthy
// "fail" parameter fails the run, which is enough to exercise every path of
// the execution engine end to end without a real estimator.
func syntheticFit(ctx context.Context, req FitRequest) error {
	if v, ok := req.Params["fail"]; ok && isTruthy(v) {
		return fmt.Errorf("synthetic failure requested")
	}

	if v, ok := req.Params["sleep_ms"]; ok {
		if ms, ok := asFloat(v); ok && ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	out := struct {
		Params  map[string]any `json:"params"`
		Options ExecOptions    `json:"options"`
	}{req.Params, req.Options}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	return os.WriteFile(filepath.Join(req.OutputDir, "params.json"), data, 0o644)
}

func isTruthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true" || val == "1"
	default:
		f, ok := asFloat(v)
		return ok && f != 0
	}
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	default:
		return 0, false
	}
}
