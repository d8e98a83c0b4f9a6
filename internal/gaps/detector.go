// Package gaps implements gap detection and anomaly flagging over a validated
// dataset: every expected grid point missing an observation becomes an
// explicit Gap with a reason, and present values outside the configured
// plausible range per field are flagged suspect but never removed.
package gaps

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/benmccoy/go-nem-collector/internal/config"
	"github.com/benmccoy/go-nem-collector/internal/models"
)

// Detector walks the expected timestamp grid of a dataset and accounts for
// every point.
type Detector struct {
	cfg    *config.Config
	logger *slog.Logger

	// now is replaceable in tests to pin the publication-delay cutoff.
	now func() time.Time
}

// NewDetector creates a detector using the pipeline's publication delay and
// plausible ranges.
func NewDetector(cfg *config.Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:    cfg,
		logger: logger.With("component", "gap_detector"),
		now:    time.Now,
	}
}

// Detect inserts explicit gaps for unaccounted grid points and flags
// implausible values as suspect. After Detect returns, every grid point in
// the requested range holds either a record or a gap.
//
// A missing point more recent than the provider's typical publication delay
// is tagged not_yet_published: the provider may simply not have published it
// yet. Older missing points are tagged source_error.
func (d *Detector) Detect(ds *models.Dataset) error {
	cutoff := d.now().Add(-d.cfg.PublicationDelay())

	gapped := 0
	for _, ts := range ds.Missing() {
		reason := models.GapSourceError
		if ts.After(cutoff) {
			reason = models.GapNotYetPublished
		}
		if err := ds.SetGap(ts, reason); err != nil {
			return fmt.Errorf("failed to mark gap at %s: %w", ts.Format(time.RFC3339), err)
		}
		gapped++
	}

	suspects := d.flagAnomalies(ds)

	d.logger.Debug("gap detection complete",
		"region", ds.Region,
		"gaps", gapped,
		"suspect_values", suspects)
	return nil
}

// flagAnomalies marks out-of-range values suspect. Suspect values stay in the
// dataset; the statistics reporter excludes them by default.
func (d *Detector) flagAnomalies(ds *models.Dataset) int {
	flagged := 0
	for _, rec := range ds.Records() {
		for _, field := range rec.Fields() {
			bounds, ok := d.cfg.PlausibleRange(field)
			if !ok {
				continue
			}
			value, present := rec.Value(field)
			if !present {
				continue
			}
			if value < bounds.Min || value > bounds.Max {
				rec.MarkSuspect(field)
				flagged++
				d.logger.Warn("implausible value flagged suspect",
					"timestamp", rec.Timestamp,
					"field", field,
					"value", value,
					"min", bounds.Min,
					"max", bounds.Max)
			}
		}
	}
	return flagged
}
