// Package provider implements the telemetry source adapter. It wraps the
// external provider's query contract behind a narrow Fetch interface; all
// retry, backoff, rate limiting, and range splitting live here so the rest of
// the pipeline only sees "fetch succeeded for this sub-range or failed".
package provider

import (
	"context"
	"time"

	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
)

// RawRecord is one observation as returned by the provider, before schema
// validation. Values arrive as strings keyed by field name; generation values
// use the fuel type name as the key. Absent fields are absent keys.
type RawRecord struct {
	Timestamp time.Time
	Fields    map[string]string
}

// FetchRequest describes one query against the provider.
type FetchRequest struct {
	Region     models.Region
	Start      time.Time
	End        time.Time
	Resolution models.Resolution
}

// Validate checks the request against the provider contract. Violations are
// InvalidRange errors.
func (r FetchRequest) Validate() error {
	if !r.Region.Valid() {
		return nemerrors.InvalidRange("unknown region %q", r.Region)
	}
	if !r.Resolution.Valid() {
		return nemerrors.InvalidRange("unsupported resolution %q", r.Resolution)
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return nemerrors.InvalidRange("start and end must be set")
	}
	if r.Start.After(r.End) {
		return nemerrors.InvalidRange("start %s is after end %s",
			r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

// Provider is the source adapter contract. Fetch returns raw records for a
// region and range in timestamp order, splitting oversized ranges internally.
// It fails with SourceUnavailable after bounded retries, or InvalidRange for
// contract violations.
type Provider interface {
	Fetch(ctx context.Context, req FetchRequest) ([]RawRecord, error)
	Name() string
}
