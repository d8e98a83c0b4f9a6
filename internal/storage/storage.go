// Package storage persists validated datasets to a local tabular store keyed
// by (region, resolution). Three backends implement the same contract: csv
// (the canonical on-disk layout), duckdb (analytical backend for the
// downstream analysis stage), and memory (tests).
package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
)

// DatasetStore is the persistence contract for validated datasets.
//
// Save is idempotent: saving the same (region, range) twice overwrites the
// covered rows rather than duplicating them. Rows outside the saved range are
// preserved, so a store accumulates coverage across saves.
//
// Load rebuilds an immutable dataset for the requested range. It fails with
// nemerrors.ErrNotFound when nothing covers any of the range. When coverage
// is partial it returns the dataset holding what is available together with a
// *nemerrors.PartialCoverageError naming the covered envelope and the missing
// sub-ranges, so callers can decide whether to re-fetch.
type DatasetStore interface {
	Save(ctx context.Context, ds *models.Dataset) error
	Load(ctx context.Context, region models.Region, res models.Resolution, requested models.Range) (*models.Dataset, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// storeKey identifies one stored series.
func storeKey(region models.Region, res models.Resolution) string {
	return fmt.Sprintf("%s_%s", region, res)
}

// Row column layout shared by the csv and duckdb backends: timestamp, demand,
// one column per known fuel type, spot price, temperature, then annotations.
const (
	colTimestamp = "timestamp"
	colIsImputed = "is_imputed"
	colStrategy  = "imputation_strategy"
	colIsSuspect = "is_suspect"
	colGapReason = "gap_reason"
	colSuspects  = "suspect_fields"
)

// suspectSep joins suspect field names inside one cell.
const suspectSep = ";"

// columnNames returns the full column list in order.
func columnNames() []string {
	cols := []string{colTimestamp, string(models.FieldDemand)}
	for _, fuel := range models.AllFuelTypes {
		cols = append(cols, string(fuel))
	}
	cols = append(cols, string(models.FieldSpotPrice), string(models.FieldTemperature),
		colIsImputed, colStrategy, colIsSuspect, colGapReason, colSuspects)
	return cols
}

// encodeEntry renders a grid entry as one row of string cells in column
// order. Gap rows carry only the timestamp and gap_reason.
func encodeEntry(e models.Entry) []string {
	cols := columnNames()
	row := make([]string, len(cols))
	row[0] = e.Timestamp.Format(time.RFC3339)

	if e.Gap != nil {
		for i, col := range cols {
			if col == colGapReason {
				row[i] = string(e.Gap.Reason)
			}
		}
		// Booleans are explicit even on gap rows.
		setCell(row, cols, colIsImputed, "false")
		setCell(row, cols, colIsSuspect, "false")
		return row
	}

	rec := e.Record
	setCell(row, cols, string(models.FieldDemand), formatFloat(rec.Demand))
	for _, fuel := range models.AllFuelTypes {
		if v, ok := rec.Generation[fuel]; ok {
			setCell(row, cols, string(fuel), formatFloat(v))
		}
	}
	setCell(row, cols, string(models.FieldSpotPrice), formatFloat(rec.SpotPrice))
	if rec.Temperature != nil {
		setCell(row, cols, string(models.FieldTemperature), formatFloat(*rec.Temperature))
	}
	setCell(row, cols, colIsImputed, strconv.FormatBool(rec.Imputed))
	if rec.Imputed {
		setCell(row, cols, colStrategy, string(rec.Strategy))
	}
	setCell(row, cols, colIsSuspect, strconv.FormatBool(len(rec.Suspect) > 0))
	if len(rec.Suspect) > 0 {
		names := make([]string, len(rec.Suspect))
		for i, f := range rec.Suspect {
			names[i] = string(f)
		}
		setCell(row, cols, colSuspects, strings.Join(names, suspectSep))
	}
	return row
}

// decodeRow parses one row of string cells back into a grid entry.
func decodeRow(region models.Region, header []string, row []string) (models.Entry, error) {
	if len(row) != len(header) {
		return models.Entry{}, fmt.Errorf("row has %d cells, header has %d", len(row), len(header))
	}
	cell := func(name string) string {
		for i, col := range header {
			if col == name {
				return row[i]
			}
		}
		return ""
	}

	ts, err := time.Parse(time.RFC3339, cell(colTimestamp))
	if err != nil {
		return models.Entry{}, fmt.Errorf("bad timestamp %q: %w", cell(colTimestamp), err)
	}
	ts = ts.In(models.MarketTime)

	if reason := cell(colGapReason); reason != "" {
		return models.Entry{
			Timestamp: ts,
			Gap:       &models.Gap{Region: region, Timestamp: ts, Reason: models.GapReason(reason)},
		}, nil
	}

	rec := &models.Record{Region: region, Timestamp: ts}
	if rec.Demand, err = parseFloat(cell(string(models.FieldDemand))); err != nil {
		return models.Entry{}, fmt.Errorf("bad demand at %s: %w", ts.Format(time.RFC3339), err)
	}
	if rec.SpotPrice, err = parseFloat(cell(string(models.FieldSpotPrice))); err != nil {
		return models.Entry{}, fmt.Errorf("bad spot price at %s: %w", ts.Format(time.RFC3339), err)
	}
	if s := cell(string(models.FieldTemperature)); s != "" {
		v, err := parseFloat(s)
		if err != nil {
			return models.Entry{}, fmt.Errorf("bad temperature at %s: %w", ts.Format(time.RFC3339), err)
		}
		rec.Temperature = &v
	}
	for _, fuel := range models.AllFuelTypes {
		if s := cell(string(fuel)); s != "" {
			v, err := parseFloat(s)
			if err != nil {
				return models.Entry{}, fmt.Errorf("bad %s at %s: %w", fuel, ts.Format(time.RFC3339), err)
			}
			if rec.Generation == nil {
				rec.Generation = make(map[models.FuelType]float64)
			}
			rec.Generation[fuel] = v
		}
	}

	rec.Imputed = cell(colIsImputed) == "true"
	if rec.Imputed {
		rec.Strategy = models.ImputeStrategy(cell(colStrategy))
	}
	if suspects := cell(colSuspects); suspects != "" {
		for _, name := range strings.Split(suspects, suspectSep) {
			rec.Suspect = append(rec.Suspect, models.FieldName(name))
		}
	}

	return models.Entry{Timestamp: ts, Record: rec}, nil
}

// assemble builds a load result from stored entries. Every requested grid
// point covered by a stored row (record or explicit gap) is filled in; the
// presence of holes decides between a clean dataset, NotFound, and
// PartialCoverage.
func assemble(region models.Region, res models.Resolution, requested models.Range, stored map[time.Time]models.Entry, source string) (*models.Dataset, error) {
	ds, err := models.NewDataset(region, res, requested, source)
	if err != nil {
		return nil, err
	}

	// Key by instant, not time.Time, so rows parsed in a different location
	// still land on their grid slot.
	byInstant := make(map[int64]models.Entry, len(stored))
	for ts, entry := range stored {
		byInstant[ts.UnixNano()] = entry
	}

	covered := 0
	for _, slot := range ds.Entries() {
		entry, ok := byInstant[slot.Timestamp.UnixNano()]
		if !ok {
			continue
		}
		if entry.Record != nil {
			if err := ds.SetRecord(entry.Record); err != nil {
				return nil, err
			}
		} else if entry.Gap != nil {
			if err := ds.SetGap(entry.Timestamp, entry.Gap.Reason); err != nil {
				return nil, err
			}
		}
		covered++
	}

	if covered == 0 {
		return nil, fmt.Errorf("%w: no stored data for %s %s in %s",
			nemerrors.ErrNotFound, region, res, requested)
	}

	missing := missingRanges(ds)
	ds.Freeze()
	if len(missing) == 0 {
		return ds, nil
	}

	return ds, &nemerrors.PartialCoverageError{
		Covered: coveredEnvelope(ds),
		Missing: missing,
	}
}

// missingRanges groups unaccounted grid points into contiguous sub-ranges.
func missingRanges(ds *models.Dataset) []models.Range {
	step := ds.Resolution.Duration()
	var ranges []models.Range
	var open *models.Range
	for _, e := range ds.Entries() {
		if e.Empty() {
			if open == nil {
				open = &models.Range{Start: e.Timestamp, End: e.Timestamp.Add(step)}
			} else {
				open.End = e.Timestamp.Add(step)
			}
			continue
		}
		if open != nil {
			ranges = append(ranges, *open)
			open = nil
		}
	}
	if open != nil {
		ranges = append(ranges, *open)
	}
	return ranges
}

// coveredEnvelope returns the range from the first to the last covered point.
func coveredEnvelope(ds *models.Dataset) models.Range {
	step := ds.Resolution.Duration()
	var env models.Range
	for _, e := range ds.Entries() {
		if e.Empty() {
			continue
		}
		if env.Start.IsZero() {
			env.Start = e.Timestamp
		}
		env.End = e.Timestamp.Add(step)
	}
	return env
}

func setCell(row []string, cols []string, name, value string) {
	for i, col := range cols {
		if col == name {
			row[i] = value
			return
		}
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric cell")
	}
	return strconv.ParseFloat(s, 64)
}
