package models

import (
	"fmt"
	"time"
)

// GapReason classifies why a grid timestamp has no genuine observation.
type GapReason string

const (
	// GapNotYetPublished marks points newer than the provider's typical
	// publication delay; the data may simply not exist yet.
	GapNotYetPublished GapReason = "not_yet_published"
	// GapSourceError marks points the provider should have published but did
	// not, or records dropped during validation.
	GapSourceError GapReason = "source_error"
	// GapUnknown marks points missing for an undetermined reason.
	GapUnknown GapReason = "unknown"
)

// Valid reports whether the reason is part of the known enumeration.
func (g GapReason) Valid() bool {
	switch g {
	case GapNotYetPublished, GapSourceError, GapUnknown:
		return true
	}
	return false
}

// Gap is a grid timestamp known to be missing from the source, tagged with
// the reason it is missing.
type Gap struct {
	Region    Region    `json:"region"`
	Timestamp time.Time `json:"timestamp"`
	Reason    GapReason `json:"reason"`
}

// Validate checks the gap's internal consistency.
func (g *Gap) Validate() error {
	if !g.Region.Valid() {
		return fmt.Errorf("invalid region %q", g.Region)
	}
	if g.Timestamp.IsZero() {
		return fmt.Errorf("timestamp cannot be zero")
	}
	if !g.Reason.Valid() {
		return fmt.Errorf("invalid gap reason %q", g.Reason)
	}
	return nil
}

// String implements fmt.Stringer.
func (g *Gap) String() string {
	return fmt.Sprintf("Gap{%s %s %s}", g.Region, g.Timestamp.Format(time.RFC3339), g.Reason)
}
