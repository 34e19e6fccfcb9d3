package sweep

import (
	"bytes"
	"encoding/json"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// StorageType identifies the SQL column affinity used to persist one
// parameter's values in the run parameter table.
type StorageType string

const (
	StorageInteger StorageType = "integer"
	StorageReal    StorageType = "real"
	StorageText    StorageType = "text"
	StorageBlob    StorageType = "blob"
)

// Sampler produces the sequence of values for one sweep parameter.
// Stochastic samplers return a fresh draw on every call. Deterministic
// samplers walk their finite sequence cyclically.
type Sampler interface {
	Next() any
	StorageType() StorageType
}

// DeterministicSampler is a Sampler with a finite sequence that is
// reproduced in the same order on every construction.
type DeterministicSampler interface {
	Sampler
	Len() int
	Values() []any
}

// A samplerFactory builds a sampler from a parameter's JSON spec with the
// name and sampler keys already removed. Stochastic factories draw from src.
type samplerFactory func(spec json.RawMessage, src rand.Source) (Sampler, error)

var samplerFactories = map[string]samplerFactory{
	"list": func(spec json.RawMessage, _ rand.Source) (Sampler, error) {
		return newListSampler(spec)
	},
	"range": func(spec json.RawMessage, _ rand.Source) (Sampler, error) {
		return newRangeSampler(spec)
	},
	"int_range": func(spec json.RawMessage, _ rand.Source) (Sampler, error) {
		return newIntRangeSampler(spec)
	},
	"uniform":     newUniformSampler,
	"log_uniform": newLogUniformSampler,
	"normal":      newNormalSampler,
}

// NewSampler builds the named sampler from its JSON spec. Unknown names and
// malformed specs fail with a ConfigError.
func NewSampler(name string, spec json.RawMessage, src rand.Source) (Sampler, error) {
	factory, ok := samplerFactories[name]
	if !ok {
		return nil, configErrorf("unknown sampler %q (accepted values: %s)",
			name, strings.Join(SamplerNames(), ", "))
	}
	return factory(spec, src)
}

// SamplerNames returns the registered sampler names in sorted order.
func SamplerNames() []string {
	names := make([]string, 0, len(samplerFactories))
	for name := range samplerFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeSamplerSpec decodes a sampler spec strictly: unknown fields are
// rejected so typos in parameter specs fail at parse time instead of being
// silently ignored. Numbers are preserved as json.Number so integer lists
// can be told apart from float lists.
func decodeSamplerSpec(spec json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(spec))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return configErrorf("invalid sampler parameters: %v", err)
	}
	return nil
}

// listSampler yields an explicit, ordered sequence of values.
type listSampler struct {
	values  []any
	storage StorageType
	next    int
}

func newListSampler(spec json.RawMessage) (Sampler, error) {
	var params struct {
		Values []any `json:"values"`
	}
	if err := decodeSamplerSpec(spec, &params); err != nil {
		return nil, err
	}
	if len(params.Values) == 0 {
		return nil, configErrorf("list sampler requires a non-empty 'values' array")
	}
	storage, values, err := inferListStorage(params.Values)
	if err != nil {
		return nil, err
	}
	return &listSampler{values: values, storage: storage}, nil
}

// inferListStorage picks the narrowest storage type that holds every listed
// value: all integers, all numbers, all strings, or JSON blobs for anything
// structured or mixed.
func inferListStorage(raw []any) (StorageType, []any, error) {
	allInt, allNum, allStr := true, true, true
	for _, v := range raw {
		switch val := v.(type) {
		case json.Number:
			allStr = false
			if _, err := val.Int64(); err != nil {
				allInt = false
			}
		case string:
			allInt, allNum = false, false
		default:
			allInt, allNum, allStr = false, false, false
		}
	}

	switch {
	case allInt:
		values := make([]any, len(raw))
		for i, v := range raw {
			n, err := v.(json.Number).Int64()
			if err != nil {
				return "", nil, configErrorf("list value %v is not an integer: %v", v, err)
			}
			values[i] = n
		}
		return StorageInteger, values, nil
	case allNum:
		values := make([]any, len(raw))
		for i, v := range raw {
			f, err := v.(json.Number).Float64()
			if err != nil {
				return "", nil, configErrorf("list value %v is not a number: %v", v, err)
			}
			values[i] = f
		}
		return StorageReal, values, nil
	case allStr:
		return StorageText, append([]any(nil), raw...), nil
	default:
		return StorageBlob, append([]any(nil), raw...), nil
	}
}

func (s *listSampler) Next() any {
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}

func (s *listSampler) StorageType() StorageType { return s.storage }
func (s *listSampler) Len() int                 { return len(s.values) }

func (s *listSampler) Values() []any {
	return append([]any(nil), s.values...)
}

// rangeSampler yields n evenly spaced values from start to stop inclusive.
// Values are computed by index so long ranges do not accumulate float error.
type rangeSampler struct {
	start, stop float64
	n           int
	next        int
}

func newRangeSampler(spec json.RawMessage) (Sampler, error) {
	var params struct {
		Start *float64 `json:"start"`
		Stop  *float64 `json:"stop"`
		N     *int     `json:"n"`
	}
	if err := decodeSamplerSpec(spec, &params); err != nil {
		return nil, err
	}
	if params.Start == nil || params.Stop == nil || params.N == nil {
		return nil, configErrorf("range sampler requires 'start', 'stop' and 'n'")
	}
	if *params.N < 1 {
		return nil, configErrorf("range sampler 'n' must be at least 1, got %d", *params.N)
	}
	return &rangeSampler{start: *params.Start, stop: *params.Stop, n: *params.N}, nil
}

func (s *rangeSampler) at(i int) float64 {
	if s.n == 1 {
		return s.start
	}
	step := (s.stop - s.start) / float64(s.n-1)
	return s.start + float64(i)*step
}

func (s *rangeSampler) Next() any {
	v := s.at(s.next % s.n)
	s.next++
	return v
}

func (s *rangeSampler) StorageType() StorageType { return StorageReal }
func (s *rangeSampler) Len() int                 { return s.n }

func (s *rangeSampler) Values() []any {
	values := make([]any, s.n)
	for i := range values {
		values[i] = s.at(i)
	}
	return values
}

// intRangeSampler yields start, start+step, ... up to and including stop.
type intRangeSampler struct {
	start, stop, step int64
	next              int
}

func newIntRangeSampler(spec json.RawMessage) (Sampler, error) {
	var params struct {
		Start *int64 `json:"start"`
		Stop  *int64 `json:"stop"`
		Step  *int64 `json:"step"`
	}
	if err := decodeSamplerSpec(spec, &params); err != nil {
		return nil, err
	}
	if params.Start == nil || params.Stop == nil {
		return nil, configErrorf("int_range sampler requires 'start' and 'stop'")
	}
	step := int64(1)
	if params.Step != nil {
		step = *params.Step
	}
	if step < 1 {
		return nil, configErrorf("int_range sampler 'step' must be positive, got %d", step)
	}
	if *params.Start > *params.Stop {
		return nil, configErrorf("int_range sampler 'start' (%d) exceeds 'stop' (%d)",
			*params.Start, *params.Stop)
	}
	return &intRangeSampler{start: *params.Start, stop: *params.Stop, step: step}, nil
}

func (s *intRangeSampler) Next() any {
	v := s.start + int64(s.next%s.Len())*s.step
	s.next++
	return v
}

func (s *intRangeSampler) StorageType() StorageType { return StorageInteger }

func (s *intRangeSampler) Len() int {
	return int((s.stop-s.start)/s.step) + 1
}

func (s *intRangeSampler) Values() []any {
	values := make([]any, s.Len())
	for i := range values {
		values[i] = s.start + int64(i)*s.step
	}
	return values
}

// uniformSampler draws independent values from [low, high).
type uniformSampler struct {
	dist distuv.Uniform
}

func newUniformSampler(spec json.RawMessage, src rand.Source) (Sampler, error) {
	var params struct {
		Low  *float64 `json:"low"`
		High *float64 `json:"high"`
	}
	if err := decodeSamplerSpec(spec, &params); err != nil {
		return nil, err
	}
	if params.Low == nil || params.High == nil {
		return nil, configErrorf("uniform sampler requires 'low' and 'high'")
	}
	if *params.Low >= *params.High {
		return nil, configErrorf("uniform sampler requires low < high, got [%g, %g)",
			*params.Low, *params.High)
	}
	return &uniformSampler{dist: distuv.Uniform{Min: *params.Low, Max: *params.High, Src: src}}, nil
}

func (s *uniformSampler) Next() any                { return s.dist.Rand() }
func (s *uniformSampler) StorageType() StorageType { return StorageReal }

// logUniformSampler draws values whose logarithm is uniform on
// [ln low, ln high). Useful for scale parameters like learning rates.
type logUniformSampler struct {
	dist distuv.Uniform
}

func newLogUniformSampler(spec json.RawMessage, src rand.Source) (Sampler, error) {
	var params struct {
		Low  *float64 `json:"low"`
		High *float64 `json:"high"`
	}
	if err := decodeSamplerSpec(spec, &params); err != nil {
		return nil, err
	}
	if params.Low == nil || params.High == nil {
		return nil, configErrorf("log_uniform sampler requires 'low' and 'high'")
	}
	if *params.Low <= 0 {
		return nil, configErrorf("log_uniform sampler requires low > 0, got %g", *params.Low)
	}
	if *params.Low >= *params.High {
		return nil, configErrorf("log_uniform sampler requires low < high, got [%g, %g)",
			*params.Low, *params.High)
	}
	dist := distuv.Uniform{
		Min: math.Log(*params.Low),
		Max: math.Log(*params.High),
		Src: src,
	}
	return &logUniformSampler{dist: dist}, nil
}

func (s *logUniformSampler) Next() any                { return math.Exp(s.dist.Rand()) }
func (s *logUniformSampler) StorageType() StorageType { return StorageReal }

// normalSampler draws independent values from a normal distribution.
type normalSampler struct {
	dist distuv.Normal
}

func newNormalSampler(spec json.RawMessage, src rand.Source) (Sampler, error) {
	var params struct {
		Mu    *float64 `json:"mu"`
		Sigma *float64 `json:"sigma"`
	}
	if err := decodeSamplerSpec(spec, &params); err != nil {
		return nil, err
	}
	if params.Mu == nil || params.Sigma == nil {
		return nil, configErrorf("normal sampler requires 'mu' and 'sigma'")
	}
	if *params.Sigma <= 0 {
		return nil, configErrorf("normal sampler requires sigma > 0, got %g", *params.Sigma)
	}
	return &normalSampler{dist: distuv.Normal{Mu: *params.Mu, Sigma: *params.Sigma, Src: src}}, nil
}

func (s *normalSampler) Next() any                { return s.dist.Rand() }
func (s *normalSampler) StorageType() StorageType { return StorageReal }
