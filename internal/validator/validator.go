// Package validator implements schema validation of raw provider records.
//
// Validation is record-level and never dataset-fatal: a record with a missing
// required field or an unrecoverable type mismatch is dropped and its grid
// point logged as a source_error gap, so partial corruption cannot fail an
// entire range.
package validator

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
	"github.com/benmccoy/go-nem-collector/internal/provider"
)

// requiredFields must be present and numeric on every record.
var requiredFields = []models.FieldName{models.FieldDemand, models.FieldSpotPrice}

// Validator converts raw provider records into a Dataset, enforcing the
// schema: required keys present, values coercible to numerics, timestamps
// unique and aligned to the resolution grid.
type Validator struct {
	logger *slog.Logger
}

// New creates a schema validator.
func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger.With("component", "validator")}
}

// Validate builds a dataset for the requested range from raw records.
// Records outside the range or off the grid are dropped; records failing type
// coercion are dropped and their grid points marked as source_error gaps.
// Duplicate timestamps keep the first occurrence. The returned dataset is
// mutable; detection and imputation run next.
func (v *Validator) Validate(raws []provider.RawRecord, region models.Region, res models.Resolution, requested models.Range, source string) (*models.Dataset, error) {
	ds, err := models.NewDataset(region, res, requested, source)
	if err != nil {
		return nil, fmt.Errorf("cannot construct dataset: %w", err)
	}

	// Sort by timestamp so "strictly increasing" reduces to "no duplicates"
	// against the slot grid.
	sorted := append([]provider.RawRecord(nil), raws...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	dropped := 0
	for _, raw := range sorted {
		if !requested.Contains(raw.Timestamp) {
			v.logger.Debug("dropping record outside requested range",
				"timestamp", raw.Timestamp, "range", requested.String())
			continue
		}

		if entry, ok := ds.EntryAt(raw.Timestamp); !ok {
			// Off-grid timestamp. The point it should have occupied will be
			// gapped by the detector.
			v.logger.Warn("dropping record off the resolution grid",
				"timestamp", raw.Timestamp, "resolution", res)
			dropped++
			continue
		} else if entry.HasRecord() {
			v.logger.Warn("dropping duplicate timestamp", "timestamp", raw.Timestamp)
			dropped++
			continue
		}

		rec, verr := v.coerce(raw, region)
		if verr != nil {
			v.logger.Warn("dropping malformed record, marking gap",
				"timestamp", raw.Timestamp,
				"error", verr.Error())
			if err := ds.SetGap(raw.Timestamp, models.GapSourceError); err != nil {
				return nil, err
			}
			dropped++
			continue
		}

		if err := ds.SetRecord(rec); err != nil {
			return nil, err
		}
	}

	v.logger.Debug("validation complete",
		"region", region,
		"records", len(ds.Records()),
		"dropped", dropped)
	return ds, nil
}

// coerce converts one raw record's string payload into typed values using
// decimal parsing. A failure on a required field rejects the whole record;
// a failure on an optional field drops just that field.
func (v *Validator) coerce(raw provider.RawRecord, region models.Region) (*models.Record, *nemerrors.ValidationError) {
	rec := &models.Record{
		Region:    region,
		Timestamp: raw.Timestamp,
	}

	for _, field := range requiredFields {
		s, ok := raw.Fields[string(field)]
		if !ok {
			return nil, &nemerrors.ValidationError{
				Field:     string(field),
				Timestamp: raw.Timestamp,
				Message:   "required field missing",
			}
		}
		value, err := parseNumeric(s)
		if err != nil {
			return nil, &nemerrors.ValidationError{
				Field:     string(field),
				Timestamp: raw.Timestamp,
				Message:   fmt.Sprintf("not a number: %v", err),
			}
		}
		rec.SetValue(field, value)
	}

	if s, ok := raw.Fields[string(models.FieldTemperature)]; ok {
		if value, err := parseNumeric(s); err != nil {
			v.logger.Warn("dropping unparseable temperature", "timestamp", raw.Timestamp, "value", s)
		} else {
			rec.SetValue(models.FieldTemperature, value)
		}
	}

	for key, s := range raw.Fields {
		field := models.FieldName(key)
		if field == models.FieldDemand || field == models.FieldSpotPrice || field == models.FieldTemperature {
			continue
		}
		fuel := models.FuelType(key)
		if !fuel.Valid() {
			v.logger.Debug("ignoring unknown field", "field", key, "timestamp", raw.Timestamp)
			continue
		}
		value, err := parseNumeric(s)
		if err != nil {
			v.logger.Warn("dropping unparseable generation value",
				"fuel", key, "timestamp", raw.Timestamp, "value", s)
			continue
		}
		rec.SetValue(field, value)
	}

	if err := rec.Validate(); err != nil {
		return nil, &nemerrors.ValidationError{
			Field:     "record",
			Timestamp: raw.Timestamp,
			Message:   err.Error(),
		}
	}
	return rec, nil
}

// parseNumeric coerces a provider string payload to float64 via decimal
// parsing, rejecting anything a lenient float parse would let through (inf,
// hex floats, underscores).
func parseNumeric(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}
