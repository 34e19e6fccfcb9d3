package sweep

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFit(context.Context, FitRequest) error { return nil }

func TestRegisterModel_Duplicate(t *testing.T) {
	RegisterModel(Model{Name: "registry-dup-test", Fit: noopFit})

	assert.Panics(t, func() {
		RegisterModel(Model{Name: "registry-dup-test", Fit: noopFit})
	})
}

func TestRegisterModel_Invalid(t *testing.T) {
	assert.Panics(t, func() {
		RegisterModel(Model{Name: "", Fit: noopFit})
	})
	assert.Panics(t, func() {
		RegisterModel(Model{Name: "registry-no-fit-test"})
	})
}

func TestLookupModel(t *testing.T) {
	m, err := LookupModel("synthetic")
	require.NoError(t, err)
	assert.Equal(t, "synthetic", m.Name)
	assert.NotNil(t, m.Fit)
	assert.NotNil(t, m.LoadDataset)

	_, err = LookupModel("no-such-model")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
}

func TestModelNames(t *testing.T) {
	names := ModelNames()
	assert.Contains(t, names, "synthetic")
	assert.True(t, sort.StringsAreSorted(names))
}

func TestDefaultExecOptions(t *testing.T) {
	opts := DefaultExecOptions()
	assert.Equal(t, ExecOptions{Accelerator: "cpu", Quiet: true, Offline: true}, opts)
}
