package sweep

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

func mustSampler(t *testing.T, name, spec string) Sampler {
	t.Helper()
	s, err := NewSampler(name, json.RawMessage(spec), rand.NewPCG(1, 2))
	require.NoError(t, err)
	return s
}

func TestListSampler_Integers(t *testing.T) {
	t.Parallel()
	s := mustSampler(t, "list", `{"values": [16, 32, 64]}`)

	assert.Equal(t, StorageInteger, s.StorageType())
	det, ok := s.(DeterministicSampler)
	require.True(t, ok)
	assert.Equal(t, 3, det.Len())
	assert.Equal(t, []any{int64(16), int64(32), int64(64)}, det.Values())

	// Next walks the sequence cyclically.
	assert.Equal(t, int64(16), s.Next())
	assert.Equal(t, int64(32), s.Next())
	assert.Equal(t, int64(64), s.Next())
	assert.Equal(t, int64(16), s.Next())
}

func TestListSampler_Floats(t *testing.T) {
	t.Parallel()
	s := mustSampler(t, "list", `{"values": [0.01, 2]}`)

	assert.Equal(t, StorageReal, s.StorageType())
	det := s.(DeterministicSampler)
	assert.Equal(t, []any{0.01, 2.0}, det.Values())
}

func TestListSampler_Strings(t *testing.T) {
	t.Parallel()
	s := mustSampler(t, "list", `{"values": ["adam", "sgd"]}`)

	assert.Equal(t, StorageText, s.StorageType())
	det := s.(DeterministicSampler)
	assert.Equal(t, []any{"adam", "sgd"}, det.Values())
}

func TestListSampler_Structured(t *testing.T) {
	t.Parallel()
	s := mustSampler(t, "list", `{"values": [[64, 32], [128]]}`)

	assert.Equal(t, StorageBlob, s.StorageType())
	det := s.(DeterministicSampler)
	assert.Equal(t, 2, det.Len())
}

func TestListSampler_Mixed(t *testing.T) {
	t.Parallel()
	s := mustSampler(t, "list", `{"values": ["adam", 3]}`)
	assert.Equal(t, StorageBlob, s.StorageType())
}

func TestListSampler_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewSampler("list", json.RawMessage(`{"values": []}`), nil)
	assert.Error(t, err)

	_, err = NewSampler("list", json.RawMessage(`{"values": [1], "vlaues": [2]}`), nil)
	assert.Error(t, err, "unknown spec fields must be rejected")
}

func TestRangeSampler(t *testing.T) {
	t.Parallel()
	s := mustSampler(t, "range", `{"start": 0, "stop": 1, "n": 5}`)

	assert.Equal(t, StorageReal, s.StorageType())
	det := s.(DeterministicSampler)
	require.Equal(t, 5, det.Len())

	want := []float64{0, 0.25, 0.5, 0.75, 1}
	for i, v := range det.Values() {
		assert.InDelta(t, want[i], v.(float64), 1e-12)
	}
}

func TestRangeSampler_SingleValue(t *testing.T) {
	t.Parallel()
	s := mustSampler(t, "range", `{"start": 0.3, "stop": 0.9, "n": 1}`)

	det := s.(DeterministicSampler)
	assert.Equal(t, []any{0.3}, det.Values())
}

func TestRangeSampler_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewSampler("range", json.RawMessage(`{"start": 0, "stop": 1}`), nil)
	assert.Error(t, err)

	_, err = NewSampler("range", json.RawMessage(`{"start": 0, "stop": 1, "n": 0}`), nil)
	assert.Error(t, err)
}

func TestIntRangeSampler(t *testing.T) {
	t.Parallel()
	s := mustSampler(t, "int_range", `{"start": 2, "stop": 10, "step": 2}`)

	assert.Equal(t, StorageInteger, s.StorageType())
	det := s.(DeterministicSampler)
	assert.Equal(t, []any{int64(2), int64(4), int64(6), int64(8), int64(10)}, det.Values())
}

func TestIntRangeSampler_DefaultStep(t *testing.T) {
	t.Parallel()
	s := mustSampler(t, "int_range", `{"start": 0, "stop": 3}`)

	det := s.(DeterministicSampler)
	assert.Equal(t, []any{int64(0), int64(1), int64(2), int64(3)}, det.Values())
}

func TestIntRangeSampler_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewSampler("int_range", json.RawMessage(`{"start": 5, "stop": 1}`), nil)
	assert.Error(t, err)

	_, err = NewSampler("int_range", json.RawMessage(`{"start": 0, "stop": 4, "step": 0}`), nil)
	assert.Error(t, err)
}

func TestUniformSampler(t *testing.T) {
	t.Parallel()
	src := rand.NewPCG(42, 42)
	s, err := NewSampler("uniform", json.RawMessage(`{"low": 1, "high": 2}`), src)
	require.NoError(t, err)

	assert.Equal(t, StorageReal, s.StorageType())
	_, det := s.(DeterministicSampler)
	assert.False(t, det, "uniform must not report as deterministic")

	// Draws follow the distribution seeded with the same source exactly.
	ref := distuv.Uniform{Min: 1, Max: 2, Src: rand.NewPCG(42, 42)}
	for i := 0; i < 10; i++ {
		v := s.Next().(float64)
		assert.Equal(t, ref.Rand(), v)
		assert.GreaterOrEqual(t, v, 1.0)
		assert.Less(t, v, 2.0)
	}
}

func TestUniformSampler_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewSampler("uniform", json.RawMessage(`{"low": 2, "high": 1}`), rand.NewPCG(1, 1))
	assert.Error(t, err)

	_, err = NewSampler("uniform", json.RawMessage(`{"low": 1}`), rand.NewPCG(1, 1))
	assert.Error(t, err)
}

func TestLogUniformSampler(t *testing.T) {
	t.Parallel()
	s, err := NewSampler("log_uniform", json.RawMessage(`{"low": 1e-4, "high": 1e-1}`), rand.NewPCG(7, 7))
	require.NoError(t, err)

	assert.Equal(t, StorageReal, s.StorageType())
	for i := 0; i < 50; i++ {
		v := s.Next().(float64)
		assert.GreaterOrEqual(t, v, 9.9e-5)
		assert.Less(t, v, 0.11)
		assert.False(t, math.IsNaN(v))
	}
}

func TestLogUniformSampler_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewSampler("log_uniform", json.RawMessage(`{"low": 0, "high": 1}`), rand.NewPCG(1, 1))
	assert.Error(t, err, "low must be strictly positive")

	_, err = NewSampler("log_uniform", json.RawMessage(`{"low": 0.1, "high": 0.1}`), rand.NewPCG(1, 1))
	assert.Error(t, err)
}

func TestNormalSampler(t *testing.T) {
	t.Parallel()
	s, err := NewSampler("normal", json.RawMessage(`{"mu": 5, "sigma": 0.1}`), rand.NewPCG(11, 11))
	require.NoError(t, err)

	assert.Equal(t, StorageReal, s.StorageType())
	sum := 0.0
	const n = 500
	for i := 0; i < n; i++ {
		sum += s.Next().(float64)
	}
	assert.InDelta(t, 5.0, sum/n, 0.1)
}

func TestNormalSampler_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewSampler("normal", json.RawMessage(`{"mu": 0, "sigma": 0}`), rand.NewPCG(1, 1))
	assert.Error(t, err)

	_, err = NewSampler("normal", json.RawMessage(`{"mu": 0}`), rand.NewPCG(1, 1))
	assert.Error(t, err)
}

func TestNewSampler_Unknown(t *testing.T) {
	t.Parallel()

	_, err := NewSampler("gaussian", json.RawMessage(`{}`), nil)
	require.Error(t, err)

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "unknown sampler")
	assert.Contains(t, err.Error(), "normal", "the error should list the accepted samplers")
}

func TestSamplerNames(t *testing.T) {
	t.Parallel()

	names := SamplerNames()
	assert.Equal(t, []string{"int_range", "list", "log_uniform", "normal", "range", "uniform"}, names)
	assert.True(t, sort.StringsAreSorted(names))
}
