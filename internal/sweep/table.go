package sweep

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/paramsweep/internal/monitoring"
)

// Parameter pairs a name with the sampler that generates its values.
// SamplerName is the registry name the sampler was built from; it is kept
// for logging and may be empty for hand-constructed parameters.
type Parameter struct {
	Name        string
	SamplerName string
	Sampler     Sampler
}

// Column describes one column of the run parameter table.
type Column struct {
	Name    string
	Storage StorageType
}

// Table is the enumerated parameter table for a sweep. Rows[i] holds the
// values for run id i, one per column in declared parameter order.
type Table struct {
	Columns   []Column
	Rows      [][]any
	Total     int // full combination count before any truncation
	Truncated bool
}

// Stochastic reports whether any parameter uses a stochastic sampler.
func Stochastic(params []Parameter) bool {
	for _, p := range params {
		if _, ok := p.Sampler.(DeterministicSampler); !ok {
			return true
		}
	}
	return false
}

// BuildTable enumerates the run configurations for the given parameters.
//
// When any sampler is stochastic, every parameter contributes maxRuns values
// (deterministic samplers cycle their finite sequence and the result is
// shuffled so repeats are not aligned to the declared order) and the columns
// are zipped positionally into maxRuns rows.
//
// When all samplers are deterministic, the table is the full cartesian
// product in declared parameter order with the last parameter varying
// fastest. If the product exceeds maxRuns the table is truncated to the
// first maxRuns combinations and a warning is logged: such a sweep is
// deliberately incomplete.
//
// rng is only consulted when a stochastic sampler is present.
func BuildTable(params []Parameter, maxRuns int, rng *rand.Rand) (*Table, error) {
	if len(params) == 0 {
		return nil, configErrorf("sweep requires at least one parameter")
	}
	if maxRuns < 1 {
		return nil, configErrorf("max_runs must be positive, got %d", maxRuns)
	}

	columns := make([]Column, len(params))
	for i, p := range params {
		columns[i] = Column{Name: p.Name, Storage: p.Sampler.StorageType()}
	}

	if Stochastic(params) {
		return buildStochastic(params, columns, maxRuns, rng), nil
	}
	return buildDeterministic(params, columns, maxRuns), nil
}

func buildStochastic(params []Parameter, columns []Column, maxRuns int, rng *rand.Rand) *Table {
	samples := make([][]any, len(params))
	for i, p := range params {
		column := make([]any, maxRuns)
		for j := range column {
			column[j] = p.Sampler.Next()
		}
		if _, ok := p.Sampler.(DeterministicSampler); ok {
			rng.Shuffle(len(column), func(a, b int) {
				column[a], column[b] = column[b], column[a]
			})
		}
		samples[i] = column
	}

	rows := make([][]any, maxRuns)
	for i := range rows {
		row := make([]any, len(params))
		for j := range params {
			row[j] = samples[j][i]
		}
		rows[i] = row
	}
	return &Table{Columns: columns, Rows: rows, Total: maxRuns}
}

func buildDeterministic(params []Parameter, columns []Column, maxRuns int) *Table {
	values := make([][]any, len(params))
	total := 1
	for i, p := range params {
		det := p.Sampler.(DeterministicSampler)
		values[i] = det.Values()
		if total > math.MaxInt/det.Len() {
			total = math.MaxInt
		} else {
			total *= det.Len()
		}
	}

	n := total
	truncated := false
	if n > maxRuns {
		monitoring.Logf("WARNING: sweep has %d parameter combinations but max_runs is %d; "+
			"some combinations will not be run (raise max_runs to include them)",
			total, maxRuns)
		n = maxRuns
		truncated = true
	}

	rows := make([][]any, n)
	for i := 0; i < n; i++ {
		row := make([]any, len(params))
		idx := i
		for j := len(params) - 1; j >= 0; j-- {
			row[j] = values[j][idx%len(values[j])]
			idx /= len(values[j])
		}
		rows[i] = row
	}
	return &Table{Columns: columns, Rows: rows, Total: total, Truncated: truncated}
}
