// Package imputer fills dataset gaps with synthesized records using a
// selectable strategy. Every substituted record is tagged with the strategy
// that produced it, so synthesized data is always distinguishable from
// genuine observations.
//
// Strategies are pure functions of the surrounding data. Gaps a strategy
// cannot resolve are left in place and reported per gap; the caller decides
// whether unresolved gaps are fatal.
package imputer

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
)

// Unresolved describes a gap an imputation pass could not fill.
type Unresolved struct {
	Timestamp time.Time
	Reason    error
}

// Result summarizes one imputation pass.
type Result struct {
	Strategy   models.ImputeStrategy
	Filled     int
	Unresolved []Unresolved
}

// Imputer fills gaps in validated datasets.
type Imputer struct {
	logger *slog.Logger
	// seasonalMinPeriods is the minimum number of comparable weekday and
	// time-of-day samples seasonal_mean requires per field.
	seasonalMinPeriods int
}

// New creates an imputer.
func New(seasonalMinPeriods int, logger *slog.Logger) *Imputer {
	if logger == nil {
		logger = slog.Default()
	}
	if seasonalMinPeriods < 1 {
		seasonalMinPeriods = 4
	}
	return &Imputer{
		logger:             logger.With("component", "imputer"),
		seasonalMinPeriods: seasonalMinPeriods,
	}
}

// Impute replaces gaps in the dataset according to the strategy. The dataset
// is mutated in place. Imputing a dataset with no remaining gaps is a no-op,
// which makes every strategy idempotent.
func (im *Imputer) Impute(ds *models.Dataset, strategy models.ImputeStrategy) (*Result, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown imputation strategy %q", strategy)
	}
	if ds.Frozen() {
		return nil, models.ErrFrozen
	}

	result := &Result{Strategy: strategy}
	if strategy == models.StrategyNone {
		for _, gap := range ds.Gaps() {
			result.Unresolved = append(result.Unresolved, Unresolved{
				Timestamp: gap.Timestamp,
				Reason:    fmt.Errorf("strategy none leaves gaps for the caller"),
			})
		}
		return result, nil
	}

	var err error
	switch strategy {
	case models.StrategyForwardFill:
		err = im.forwardFill(ds, result)
	case models.StrategyLinearInterpolate:
		err = im.linearInterpolate(ds, result)
	case models.StrategySeasonalMean:
		err = im.seasonalMean(ds, result)
	case models.StrategyDailyMean:
		err = im.dailyMean(ds, result)
	case models.StrategyMedian:
		err = im.median(ds, result)
	}
	if err != nil {
		return nil, err
	}

	im.logger.Debug("imputation complete",
		"strategy", strategy,
		"filled", result.Filled,
		"unresolved", len(result.Unresolved))
	return result, nil
}

// forwardFill carries the last known record forward over each gap. A gap with
// no preceding record in the dataset cannot be filled and is reported with
// InsufficientHistory.
func (im *Imputer) forwardFill(ds *models.Dataset, result *Result) error {
	var last *models.Record
	for _, entry := range ds.Entries() {
		if entry.HasRecord() {
			last = entry.Record
			continue
		}
		if !entry.IsGap() {
			continue
		}
		if last == nil {
			result.Unresolved = append(result.Unresolved, Unresolved{
				Timestamp: entry.Timestamp,
				Reason: fmt.Errorf("%w: no value precedes gap at %s",
					nemerrors.ErrInsufficientHistory, entry.Timestamp.Format(time.RFC3339)),
			})
			continue
		}

		rec := last.Clone()
		rec.Timestamp = entry.Timestamp
		rec.Imputed = true
		rec.Strategy = models.StrategyForwardFill
		rec.Suspect = nil
		if err := ds.SetRecord(rec); err != nil {
			return err
		}
		result.Filled++
		last = rec
	}
	return nil
}

// linearInterpolate fills runs of consecutive gaps by distance-weighted
// interpolation between the bracketing records. Runs at the start or end of
// the dataset have only one bracket and are left unresolved.
func (im *Imputer) linearInterpolate(ds *models.Dataset, result *Result) error {
	entries := ds.Entries()
	i := 0
	for i < len(entries) {
		if !entries[i].IsGap() {
			i++
			continue
		}

		// Locate the run of consecutive gaps [i, j).
		j := i
		for j < len(entries) && entries[j].IsGap() {
			j++
		}

		var prev, next *models.Record
		if i > 0 && entries[i-1].HasRecord() {
			prev = entries[i-1].Record
		}
		if j < len(entries) && entries[j].HasRecord() {
			next = entries[j].Record
		}

		if prev == nil || next == nil {
			for k := i; k < j; k++ {
				result.Unresolved = append(result.Unresolved, Unresolved{
					Timestamp: entries[k].Timestamp,
					Reason: fmt.Errorf("%w: gap at %s lacks a value on both sides",
						nemerrors.ErrInsufficientHistory, entries[k].Timestamp.Format(time.RFC3339)),
				})
			}
			i = j
			continue
		}

		fields := sharedFields(prev, next)
		run := j - i
		for k := i; k < j; k++ {
			frac := float64(k-i+1) / float64(run+1)
			rec := &models.Record{
				Region:    ds.Region,
				Timestamp: entries[k].Timestamp,
				Imputed:   true,
				Strategy:  models.StrategyLinearInterpolate,
			}
			for _, field := range fields {
				a, _ := prev.Value(field)
				b, _ := next.Value(field)
				rec.SetValue(field, a+(b-a)*frac)
			}
			if err := ds.SetRecord(rec); err != nil {
				return err
			}
			result.Filled++
		}
		i = j
	}
	return nil
}

// slotKey groups samples that are comparable for mean-based imputation.
type slotKey struct {
	weekday time.Weekday
	hour    int
	minute  int
}

// seasonalMean fills each gap field with the mean of genuine, non-suspect
// samples sharing the gap's weekday and time-of-day across the rest of the
// dataset. Fields with fewer than the minimum comparable periods are not
// synthesized; a gap whose required fields cannot be synthesized is reported
// with InsufficientHistory.
func (im *Imputer) seasonalMean(ds *models.Dataset, result *Result) error {
	return im.slotMean(ds, result, models.StrategySeasonalMean, im.seasonalMinPeriods,
		func(ts time.Time) slotKey {
			return slotKey{ts.Weekday(), ts.Hour(), ts.Minute()}
		})
}

// dailyMean fills each gap field with the mean of genuine, non-suspect samples
// sharing the gap's time of day across every collected day, weekday-agnostic.
// A single comparable sample is enough.
func (im *Imputer) dailyMean(ds *models.Dataset, result *Result) error {
	return im.slotMean(ds, result, models.StrategyDailyMean, 1,
		func(ts time.Time) slotKey {
			return slotKey{hour: ts.Hour(), minute: ts.Minute()}
		})
}

func (im *Imputer) slotMean(ds *models.Dataset, result *Result, strategy models.ImputeStrategy, minPeriods int, key func(time.Time) slotKey) error {
	// Index genuine samples by slot and field.
	samples := make(map[slotKey]map[models.FieldName][]float64)
	for _, rec := range ds.Records() {
		if rec.Imputed {
			continue
		}
		k := key(rec.Timestamp)
		if samples[k] == nil {
			samples[k] = make(map[models.FieldName][]float64)
		}
		for _, field := range rec.Fields() {
			if rec.IsSuspect(field) {
				continue
			}
			v, _ := rec.Value(field)
			samples[k][field] = append(samples[k][field], v)
		}
	}

	for _, gap := range ds.Gaps() {
		slot := samples[key(gap.Timestamp)]

		rec := &models.Record{
			Region:    ds.Region,
			Timestamp: gap.Timestamp,
			Imputed:   true,
			Strategy:  strategy,
		}
		resolved := true
		for _, field := range []models.FieldName{models.FieldDemand, models.FieldSpotPrice} {
			values := slot[field]
			if len(values) < minPeriods {
				result.Unresolved = append(result.Unresolved, Unresolved{
					Timestamp: gap.Timestamp,
					Reason: fmt.Errorf("%w: %d comparable periods for %s at %s, need %d",
						nemerrors.ErrInsufficientHistory, len(values), field,
						gap.Timestamp.Format(time.RFC3339), minPeriods),
				})
				resolved = false
				break
			}
			rec.SetValue(field, mean(values))
		}
		if !resolved {
			continue
		}

		// Optional fields fill opportunistically when enough samples exist.
		for field, values := range slot {
			if field == models.FieldDemand || field == models.FieldSpotPrice {
				continue
			}
			if len(values) >= minPeriods {
				rec.SetValue(field, mean(values))
			}
		}

		if err := ds.SetRecord(rec); err != nil {
			return err
		}
		result.Filled++
	}
	return nil
}

// median fills each gap field with the dataset-wide median of genuine,
// non-suspect samples for that field.
func (im *Imputer) median(ds *models.Dataset, result *Result) error {
	medians := make(map[models.FieldName]float64)
	for _, field := range models.AllFields() {
		values := genuineValues(ds, field)
		if len(values) == 0 {
			continue
		}
		medians[field] = medianOf(values)
	}

	for _, gap := range ds.Gaps() {
		if _, ok := medians[models.FieldDemand]; !ok {
			result.Unresolved = append(result.Unresolved, Unresolved{
				Timestamp: gap.Timestamp,
				Reason: fmt.Errorf("%w: no genuine values to take a median from",
					nemerrors.ErrInsufficientHistory),
			})
			continue
		}

		rec := &models.Record{
			Region:    ds.Region,
			Timestamp: gap.Timestamp,
			Imputed:   true,
			Strategy:  models.StrategyMedian,
		}
		for field, m := range medians {
			rec.SetValue(field, m)
		}
		if err := ds.SetRecord(rec); err != nil {
			return err
		}
		result.Filled++
	}
	return nil
}

// sharedFields returns the fields present on both records, in stable order.
func sharedFields(a, b *models.Record) []models.FieldName {
	var fields []models.FieldName
	for _, field := range a.Fields() {
		if _, ok := b.Value(field); ok {
			fields = append(fields, field)
		}
	}
	return fields
}

// genuineValues collects non-imputed, non-suspect samples for a field.
func genuineValues(ds *models.Dataset, field models.FieldName) []float64 {
	var values []float64
	for _, rec := range ds.Records() {
		if rec.Imputed || rec.IsSuspect(field) {
			continue
		}
		if v, ok := rec.Value(field); ok {
			values = append(values, v)
		}
	}
	return values
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
