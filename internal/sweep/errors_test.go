package sweep

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError(t *testing.T) {
	t.Parallel()

	err := configErrorf("max_runs must be positive, got %d", -1)
	assert.Equal(t, "invalid sweep configuration: max_runs must be positive, got -1", err.Error())

	var ce *ConfigError
	assert.ErrorAs(t, fmt.Errorf("parsing: %w", err), &ce)
}

func TestInvariantError(t *testing.T) {
	t.Parallel()

	cause := errors.New("mkdir /sweep/3: file exists")
	err := &InvariantError{RunID: 3, Reason: "working directory already exists", Err: cause}
	assert.Equal(t, "invariant violated for run 3: working directory already exists: mkdir /sweep/3: file exists", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := &InvariantError{RunID: 7, Reason: "completed without a claim"}
	assert.Equal(t, "invariant violated for run 7: completed without a claim", bare.Error())
}

func TestRunError(t *testing.T) {
	t.Parallel()

	cause := errors.New("loss became NaN")
	err := &RunError{RunID: 12, Err: cause}
	assert.Equal(t, "run 12 failed: loss became NaN", err.Error())
	assert.ErrorIs(t, err, cause)
}
