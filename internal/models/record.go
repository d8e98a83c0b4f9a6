package models

import (
	"fmt"
	"sort"
	"time"
)

// FuelType identifies a generation fuel in the NEM dispatch data.
type FuelType string

const (
	FuelBlackCoal          FuelType = "black_coal"
	FuelBrownCoal          FuelType = "brown_coal"
	FuelGasCCGT            FuelType = "gas_ccgt"
	FuelGasOCGT            FuelType = "gas_ocgt"
	FuelGasSteam           FuelType = "gas_steam"
	FuelDistillate         FuelType = "distillate"
	FuelHydro              FuelType = "hydro"
	FuelWind               FuelType = "wind"
	FuelSolarUtility       FuelType = "solar_utility"
	FuelSolarRooftop       FuelType = "solar_rooftop"
	FuelBatteryDischarging FuelType = "battery_discharging"
)

// AllFuelTypes lists the known fuel types in stable column order.
var AllFuelTypes = []FuelType{
	FuelBlackCoal,
	FuelBrownCoal,
	FuelGasCCGT,
	FuelGasOCGT,
	FuelGasSteam,
	FuelDistillate,
	FuelHydro,
	FuelWind,
	FuelSolarUtility,
	FuelSolarRooftop,
	FuelBatteryDischarging,
}

// Valid reports whether the fuel type is part of the known enumeration.
func (f FuelType) Valid() bool {
	for _, known := range AllFuelTypes {
		if f == known {
			return true
		}
	}
	return false
}

// FieldName identifies one observed field of a record. Generation fields use
// the fuel type name as the field name.
type FieldName string

const (
	FieldDemand      FieldName = "demand_mw"
	FieldSpotPrice   FieldName = "spot_price"
	FieldTemperature FieldName = "temperature_c"
)

// FuelField returns the field name for a generation fuel column.
func FuelField(f FuelType) FieldName {
	return FieldName(f)
}

// AllFields lists every known field in stable column order: demand, one field
// per fuel type, spot price, temperature.
func AllFields() []FieldName {
	fields := make([]FieldName, 0, len(AllFuelTypes)+3)
	fields = append(fields, FieldDemand)
	for _, f := range AllFuelTypes {
		fields = append(fields, FuelField(f))
	}
	fields = append(fields, FieldSpotPrice, FieldTemperature)
	return fields
}

// ImputeStrategy selects how the imputer synthesizes values for gaps.
type ImputeStrategy string

const (
	// StrategyNone leaves gaps in place for callers to handle downstream.
	StrategyNone ImputeStrategy = "none"
	// StrategyForwardFill carries the last known value forward.
	StrategyForwardFill ImputeStrategy = "forward_fill"
	// StrategyLinearInterpolate requires a genuine value on both sides of a gap.
	StrategyLinearInterpolate ImputeStrategy = "linear_interpolate"
	// StrategySeasonalMean fills with the mean of the same weekday and
	// time-of-day across the rest of the dataset.
	StrategySeasonalMean ImputeStrategy = "seasonal_mean"
	// StrategyDailyMean fills with the mean of the same time-of-day across
	// every collected day, regardless of weekday.
	StrategyDailyMean ImputeStrategy = "daily_mean"
	// StrategyMedian fills with the per-field dataset median.
	StrategyMedian ImputeStrategy = "median"
)

// Valid reports whether the strategy is supported.
func (s ImputeStrategy) Valid() bool {
	switch s {
	case StrategyNone, StrategyForwardFill, StrategyLinearInterpolate,
		StrategySeasonalMean, StrategyDailyMean, StrategyMedian:
		return true
	}
	return false
}

// ParseImputeStrategy converts a string to an ImputeStrategy.
func ParseImputeStrategy(s string) (ImputeStrategy, error) {
	strategy := ImputeStrategy(s)
	if !strategy.Valid() {
		return "", fmt.Errorf("unknown imputation strategy %q", s)
	}
	return strategy, nil
}

// Record is one observation at a (Region, Timestamp) grid point. Generation
// carries MW per fuel type; fuels not reported by the provider are absent keys
// rather than zeroes. Temperature may be absent entirely.
//
// A record produced by the imputer has Imputed set and Strategy naming the
// originating strategy so synthesized data is never conflated with genuine
// observations. Suspect lists fields whose values fell outside the configured
// plausible range; suspect values are retained, not removed.
type Record struct {
	Region      Region               `json:"region"`
	Timestamp   time.Time            `json:"timestamp"`
	Demand      float64              `json:"demand_mw"`
	Generation  map[FuelType]float64 `json:"generation_by_fuel"`
	SpotPrice   float64              `json:"spot_price"`
	Temperature *float64             `json:"temperature_c,omitempty"`
	Suspect     []FieldName          `json:"suspect,omitempty"`
	Imputed     bool                 `json:"imputed,omitempty"`
	Strategy    ImputeStrategy       `json:"imputation_strategy,omitempty"`
}

// Validate checks the record's internal consistency.
func (r *Record) Validate() error {
	if !r.Region.Valid() {
		return fmt.Errorf("invalid region %q", r.Region)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp cannot be zero")
	}
	for fuel := range r.Generation {
		if !fuel.Valid() {
			return fmt.Errorf("unknown fuel type %q", fuel)
		}
	}
	if r.Imputed && !r.Strategy.Valid() {
		return fmt.Errorf("imputed record must carry a valid strategy, got %q", r.Strategy)
	}
	return nil
}

// Value returns the value of the named field and whether it is present.
// Generation fields are absent when the fuel is not reported; temperature is
// absent when the provider did not supply it.
func (r *Record) Value(field FieldName) (float64, bool) {
	switch field {
	case FieldDemand:
		return r.Demand, true
	case FieldSpotPrice:
		return r.SpotPrice, true
	case FieldTemperature:
		if r.Temperature == nil {
			return 0, false
		}
		return *r.Temperature, true
	default:
		v, ok := r.Generation[FuelType(field)]
		return v, ok
	}
}

// SetValue sets the named field. Used by the imputer when synthesizing records.
func (r *Record) SetValue(field FieldName, value float64) {
	switch field {
	case FieldDemand:
		r.Demand = value
	case FieldSpotPrice:
		r.SpotPrice = value
	case FieldTemperature:
		v := value
		r.Temperature = &v
	default:
		if r.Generation == nil {
			r.Generation = make(map[FuelType]float64)
		}
		r.Generation[FuelType(field)] = value
	}
}

// IsSuspect reports whether the named field has been flagged implausible.
func (r *Record) IsSuspect(field FieldName) bool {
	for _, f := range r.Suspect {
		if f == field {
			return true
		}
	}
	return false
}

// MarkSuspect flags the named field as implausible. Idempotent.
func (r *Record) MarkSuspect(field FieldName) {
	if r.IsSuspect(field) {
		return
	}
	r.Suspect = append(r.Suspect, field)
	sort.Slice(r.Suspect, func(i, j int) bool { return r.Suspect[i] < r.Suspect[j] })
}

// Fields returns the fields present on this record in stable column order.
func (r *Record) Fields() []FieldName {
	present := make([]FieldName, 0, len(r.Generation)+3)
	for _, f := range AllFields() {
		if _, ok := r.Value(f); ok {
			present = append(present, f)
		}
	}
	return present
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Generation != nil {
		cp.Generation = make(map[FuelType]float64, len(r.Generation))
		for k, v := range r.Generation {
			cp.Generation[k] = v
		}
	}
	if r.Temperature != nil {
		t := *r.Temperature
		cp.Temperature = &t
	}
	if r.Suspect != nil {
		cp.Suspect = append([]FieldName(nil), r.Suspect...)
	}
	return &cp
}

// String implements fmt.Stringer.
func (r *Record) String() string {
	return fmt.Sprintf("Record{%s %s demand=%.1f price=%.2f fuels=%d imputed=%v}",
		r.Region, r.Timestamp.Format(time.RFC3339), r.Demand, r.SpotPrice, len(r.Generation), r.Imputed)
}
