package sweep

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/banshee-data/paramsweep/internal/monitoring"
)

const (
	// defaultMaxRuns caps enumeration when the config does not set max_runs.
	defaultMaxRuns = 10_000

	// defaultSweepDirectory is used when the config does not name a sweep
	// directory. It is resolved to an absolute path at parse time.
	defaultSweepDirectory = "paramsweep"
)

// Parameter names become columns of the run parameter table.
var paramNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config is a fully parsed and validated sweep configuration. Samplers are
// constructed and the model id has been checked against the registry, so a
// Config is ready for enumeration.
type Config struct {
	Dataset       json.RawMessage
	Stage2Dataset json.RawMessage

	Model          string
	SweepDirectory string // absolute
	MaxRuns        int
	Seed           *int64

	Parameters []Parameter

	rng *rand.Rand // shared by stochastic samplers and the table shuffle
}

// fileConfig mirrors the JSON layout of a sweep configuration file.
type fileConfig struct {
	Dataset       json.RawMessage   `json:"dataset"`
	Stage2Dataset json.RawMessage   `json:"stage2_dataset,omitempty"`
	Sweep         fileSweepSection  `json:"sweep"`
	Parameters    []json.RawMessage `json:"parameters"`
}

type fileSweepSection struct {
	Model          *string `json:"model"`
	SweepDirectory *string `json:"sweep_directory,omitempty"`
	MaxRuns        *int    `json:"max_runs,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
}

func (s *fileSweepSection) getMaxRuns() int {
	if s.MaxRuns == nil {
		return defaultMaxRuns
	}
	return *s.MaxRuns
}

func (s *fileSweepSection) getSweepDirectory() string {
	if s.SweepDirectory == nil || *s.SweepDirectory == "" {
		return defaultSweepDirectory
	}
	return *s.SweepDirectory
}

// LoadConfig reads, parses and validates a sweep configuration file.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)

	// Check file size for safety (max 1MB)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates a sweep configuration from raw JSON.
func ParseConfig(data []byte) (*Config, error) {
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, configErrorf("failed to parse config JSON: %v", err)
	}

	if fc.Sweep.Model == nil || *fc.Sweep.Model == "" {
		return nil, configErrorf("the 'sweep' section requires a 'model'")
	}
	model := *fc.Sweep.Model
	if _, err := LookupModel(model); err != nil {
		return nil, configErrorf("unknown model %q (accepted values: %s)",
			model, strings.Join(ModelNames(), ", "))
	}

	if len(fc.Dataset) == 0 {
		return nil, configErrorf("configuration requires a 'dataset' section")
	}

	maxRuns := fc.Sweep.getMaxRuns()
	if maxRuns < 1 {
		return nil, configErrorf("max_runs must be positive, got %d", maxRuns)
	}

	dir, err := filepath.Abs(fc.Sweep.getSweepDirectory())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sweep directory: %w", err)
	}

	var src rand.Source
	if fc.Sweep.Seed != nil {
		src = rand.NewPCG(uint64(*fc.Sweep.Seed), uint64(*fc.Sweep.Seed))
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	if len(fc.Parameters) == 0 {
		return nil, configErrorf("configuration needs at least one parameter for the sweep")
	}
	seen := make(map[string]bool, len(fc.Parameters))
	params := make([]Parameter, 0, len(fc.Parameters))
	for i, raw := range fc.Parameters {
		param, err := parseParameter(raw, src)
		if err != nil {
			var ce *ConfigError
			if errors.As(err, &ce) {
				return nil, configErrorf("parameter %d: %s", i, ce.Reason)
			}
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		if seen[param.Name] {
			return nil, configErrorf("duplicate parameter name %q", param.Name)
		}
		seen[param.Name] = true
		params = append(params, param)
	}

	return &Config{
		Dataset:        fc.Dataset,
		Stage2Dataset:  fc.Stage2Dataset,
		Model:          model,
		SweepDirectory: dir,
		MaxRuns:        maxRuns,
		Seed:           fc.Sweep.Seed,
		Parameters:     params,
		rng:            rand.New(src),
	}, nil
}

// parseParameter builds one Parameter from its JSON entry. The entry's name
// and sampler keys select the sampler; every remaining key is passed to the
// sampler factory as its spec.
func parseParameter(raw json.RawMessage, src rand.Source) (Parameter, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Parameter{}, configErrorf("invalid parameter entry: %v", err)
	}

	nameRaw, ok := fields["name"]
	if !ok {
		return Parameter{}, configErrorf("parameter missing a 'name'")
	}
	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil {
		return Parameter{}, configErrorf("parameter 'name' must be a string: %v", err)
	}
	if !paramNamePattern.MatchString(name) {
		return Parameter{}, configErrorf("parameter name %q must match %s", name, paramNamePattern)
	}
	if name == "run_id" {
		return Parameter{}, configErrorf("parameter name 'run_id' is reserved")
	}

	samplerRaw, ok := fields["sampler"]
	if !ok {
		return Parameter{}, configErrorf("parameter %q missing a 'sampler'", name)
	}
	var samplerName string
	if err := json.Unmarshal(samplerRaw, &samplerName); err != nil {
		return Parameter{}, configErrorf("parameter %q 'sampler' must be a string: %v", name, err)
	}

	delete(fields, "name")
	delete(fields, "sampler")
	spec, err := json.Marshal(fields)
	if err != nil {
		return Parameter{}, fmt.Errorf("re-encoding spec for parameter %q: %w", name, err)
	}

	sampler, err := NewSampler(samplerName, spec, src)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			return Parameter{}, configErrorf("parameter %q: %s", name, ce.Reason)
		}
		return Parameter{}, err
	}
	return Parameter{Name: name, SamplerName: samplerName, Sampler: sampler}, nil
}

// BuildTable enumerates the parameter table for this configuration.
func (c *Config) BuildTable() (*Table, error) {
	return BuildTable(c.Parameters, c.MaxRuns, c.rng)
}

// Print logs the parsed configuration so the operator sees exactly what will
// be persisted before the store is created.
func (c *Config) Print() {
	monitoring.Logf("[sweep] model: %s", c.Model)
	monitoring.Logf("[sweep] sweep directory: %s", c.SweepDirectory)
	monitoring.Logf("[sweep] max runs: %d", c.MaxRuns)
	if c.Seed != nil {
		monitoring.Logf("[sweep] seed: %d", *c.Seed)
	}
	monitoring.Logf("[sweep] dataset: %s", compactJSON(c.Dataset))
	if len(c.Stage2Dataset) > 0 {
		monitoring.Logf("[sweep] stage2 dataset: %s", compactJSON(c.Stage2Dataset))
	}
	for _, p := range c.Parameters {
		monitoring.Logf("[sweep] parameter %s: %s (%s storage)",
			p.Name, p.SamplerName, p.Sampler.StorageType())
	}
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
