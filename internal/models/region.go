// Package models provides the core data structures for NEM market telemetry:
// regions, resolutions, fuel types, records, gaps, and datasets. A Dataset is
// mutable while the pipeline assembles it and becomes immutable once frozen
// for persistence and reporting.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Region identifies one of the five NEM wholesale market regions.
type Region string

const (
	RegionTAS Region = "TAS"
	RegionSA  Region = "SA"
	RegionVIC Region = "VIC"
	RegionNSW Region = "NSW"
	RegionQLD Region = "QLD"
)

// AllRegions lists every valid region in stable order.
var AllRegions = []Region{RegionTAS, RegionSA, RegionVIC, RegionNSW, RegionQLD}

// Valid reports whether the region is one of the five NEM regions.
func (r Region) Valid() bool {
	switch r {
	case RegionTAS, RegionSA, RegionVIC, RegionNSW, RegionQLD:
		return true
	}
	return false
}

// ProviderCode returns the region identifier used by the telemetry provider
// (e.g. "sa1" for South Australia).
func (r Region) ProviderCode() string {
	return strings.ToLower(string(r)) + "1"
}

// FullName returns the human readable region name.
func (r Region) FullName() string {
	switch r {
	case RegionTAS:
		return "Tasmania"
	case RegionSA:
		return "South Australia"
	case RegionVIC:
		return "Victoria"
	case RegionNSW:
		return "New South Wales"
	case RegionQLD:
		return "Queensland"
	default:
		return "Unknown"
	}
}

// ParseRegion converts a string to a Region. It accepts both the canonical
// form ("SA") and the provider code form ("sa1"), case-insensitively.
func ParseRegion(s string) (Region, error) {
	norm := strings.ToUpper(strings.TrimSuffix(strings.ToLower(s), "1"))
	r := Region(norm)
	if !r.Valid() {
		return "", fmt.Errorf("unknown region %q: must be one of TAS, SA, VIC, NSW, QLD", s)
	}
	return r, nil
}

// Resolution is the fixed time-grid spacing of observations.
type Resolution string

const (
	Resolution5m  Resolution = "5m"
	Resolution30m Resolution = "30m"
)

// Valid reports whether the resolution is supported.
func (res Resolution) Valid() bool {
	return res == Resolution5m || res == Resolution30m
}

// Duration returns the grid spacing as a time.Duration.
func (res Resolution) Duration() time.Duration {
	switch res {
	case Resolution5m:
		return 5 * time.Minute
	case Resolution30m:
		return 30 * time.Minute
	default:
		return 0
	}
}

// ParseResolution converts a string such as "5m", "5min" or "30" to a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "5m", "5min", "5":
		return Resolution5m, nil
	case "30m", "30min", "30":
		return Resolution30m, nil
	default:
		return "", fmt.Errorf("unsupported resolution %q: must be 5m or 30m", s)
	}
}

// MarketTime is the NEM market-local timezone. The NEM runs on Australian
// Eastern Standard Time year round and does not observe daylight saving.
var MarketTime = time.FixedZone("AEST", 10*60*60)
