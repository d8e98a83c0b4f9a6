// Package stats computes per-field summary statistics over a dataset
// snapshot. Summaries are deterministic for identical input and have no side
// effects.
package stats

import (
	"math"
	"sort"

	"github.com/benmccoy/go-nem-collector/internal/models"
)

// FieldStatistics summarizes one field across a dataset.
type FieldStatistics struct {
	// Count is the number of samples included in the statistics.
	Count int `json:"count"`
	// Mean is the arithmetic mean of included samples.
	Mean float64 `json:"mean"`
	// Std is the sample standard deviation (n-1 denominator) of included
	// samples; zero when fewer than two samples exist.
	Std float64 `json:"std"`
	// Median is the middle included sample, averaging the central pair for
	// even counts.
	Median float64 `json:"median"`
	// Sum is the total of included samples.
	Sum float64 `json:"sum"`
	// Min and Max bound the included samples.
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	// MissingCount is the number of grid points contributing no sample:
	// gaps, records lacking the field, and excluded suspect values.
	MissingCount int `json:"missing_count"`
}

// Options control what a summary includes.
type Options struct {
	// IncludeSuspect includes values flagged implausible. Off by default so a
	// single corrupt reading cannot distort the summary.
	IncludeSuspect bool
	// ExcludeImputed drops synthesized records from the summary. Imputed
	// values count by default since they are the pipeline's best estimate.
	ExcludeImputed bool
}

// Summarize computes statistics for the requested fields (all known fields
// when fields is nil) over the dataset's grid.
func Summarize(ds *models.Dataset, fields []models.FieldName, opts Options) map[models.FieldName]FieldStatistics {
	if fields == nil {
		fields = models.AllFields()
	}

	out := make(map[models.FieldName]FieldStatistics, len(fields))
	for _, field := range fields {
		out[field] = summarizeField(ds, field, opts)
	}
	return out
}

func summarizeField(ds *models.Dataset, field models.FieldName, opts Options) FieldStatistics {
	var values []float64
	missing := 0

	for _, entry := range ds.Entries() {
		rec := entry.Record
		if rec == nil {
			missing++
			continue
		}
		if opts.ExcludeImputed && rec.Imputed {
			missing++
			continue
		}
		value, present := rec.Value(field)
		if !present {
			missing++
			continue
		}
		if rec.IsSuspect(field) && !opts.IncludeSuspect {
			missing++
			continue
		}
		values = append(values, value)
	}

	fs := FieldStatistics{Count: len(values), MissingCount: missing}
	if len(values) == 0 {
		return fs
	}

	fs.Min = values[0]
	fs.Max = values[0]
	for _, v := range values {
		fs.Sum += v
		if v < fs.Min {
			fs.Min = v
		}
		if v > fs.Max {
			fs.Max = v
		}
	}
	fs.Mean = fs.Sum / float64(len(values))
	fs.Median = median(values)

	if len(values) > 1 {
		ss := 0.0
		for _, v := range values {
			d := v - fs.Mean
			ss += d * d
		}
		fs.Std = math.Sqrt(ss / float64(len(values)-1))
	}
	return fs
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
