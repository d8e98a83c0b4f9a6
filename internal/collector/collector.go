// Package collector orchestrates the pipeline: fetch raw telemetry, validate
// it onto the grid, classify gaps and anomalies, impute, and persist. One
// Collect call covers one (region, resolution, range) request. Fetches fan
// out per day with bounded concurrency, but validation, gap classification,
// and imputation run once over the whole requested range, so strategies that
// look across days (seasonal mean, fills over midnight) see every collected
// sample. Each fetched day is then persisted independently.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/benmccoy/go-nem-collector/internal/config"
	"github.com/benmccoy/go-nem-collector/internal/gaps"
	"github.com/benmccoy/go-nem-collector/internal/imputer"
	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
	"github.com/benmccoy/go-nem-collector/internal/provider"
	"github.com/benmccoy/go-nem-collector/internal/stats"
	"github.com/benmccoy/go-nem-collector/internal/storage"
	"github.com/benmccoy/go-nem-collector/internal/validator"
)

// CollectRequest describes one acquisition run.
type CollectRequest struct {
	Region     models.Region
	Resolution models.Resolution
	Range      models.Range
	// Strategy selects the imputation pass; empty means the configured
	// default.
	Strategy models.ImputeStrategy
}

// SubRangeOutcome is the result of collecting one sub-range of a request.
// Exactly one of Err or Dataset is meaningful: a failed sub-range persists
// nothing.
type SubRangeOutcome struct {
	Range      models.Range
	Dataset    *models.Dataset
	Imputation *imputer.Result
	Err        error
}

// CollectResult aggregates the per-sub-range outcomes of a Collect call.
// Succeeded sub-ranges are persisted with a complete grid; Partial sub-ranges
// are persisted but still carry unresolved gaps; Failed sub-ranges persisted
// nothing.
type CollectResult struct {
	Request   CollectRequest
	Succeeded []SubRangeOutcome
	Partial   []SubRangeOutcome
	Failed    []SubRangeOutcome
}

// Records returns the total number of persisted records across all
// successful and partial sub-ranges.
func (r *CollectResult) Records() int {
	n := 0
	for _, o := range append(r.Succeeded, r.Partial...) {
		if o.Dataset != nil {
			n += len(o.Dataset.Records())
		}
	}
	return n
}

// Collector wires the pipeline stages together.
type Collector struct {
	cfg       *config.Config
	provider  provider.Provider
	validator *validator.Validator
	detector  *gaps.Detector
	imputer   *imputer.Imputer
	store     storage.DatasetStore
	logger    *slog.Logger
}

// New creates a collector from already-constructed stages. The provider and
// store are injected so callers can swap the HTTP adapter for the mock and
// the CSV store for memory or DuckDB.
func New(cfg *config.Config, prov provider.Provider, store storage.DatasetStore, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:       cfg,
		provider:  prov,
		validator: validator.New(logger),
		detector:  gaps.NewDetector(cfg, logger),
		imputer:   imputer.New(cfg.Pipeline.SeasonalMinPeriods, logger),
		store:     store,
		logger:    logger.With("component", "collector"),
	}
}

// Collect runs the full pipeline for the request. Sub-ranges are fetched
// concurrently and succeed or fail independently; imputation then runs over
// everything that was fetched, and each fetched sub-range is persisted on its
// own. The returned error is non-nil only when the request itself is unusable
// or the run deadline expired; per-sub-range failures live in the result.
func (c *Collector) Collect(ctx context.Context, req CollectRequest) (*CollectResult, error) {
	if err := c.normalize(&req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PipelineTimeout())
	defer cancel()

	subRanges := splitDaily(req.Range)
	fetched := make([][]provider.RawRecord, len(subRanges))
	fetchErrs := make([]error, len(subRanges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Pipeline.MaxConcurrentFetches)
	for i, sub := range subRanges {
		i, sub := i, sub
		g.Go(func() error {
			fetched[i], fetchErrs[i] = c.provider.Fetch(gctx, provider.FetchRequest{
				Region:     req.Region,
				Start:      sub.Start,
				End:        sub.End,
				Resolution: req.Resolution,
			})
			return nil
		})
	}
	_ = g.Wait()

	result := &CollectResult{Request: req}
	var raws []provider.RawRecord
	for i, fetchErr := range fetchErrs {
		if fetchErr != nil {
			c.logger.Error("fetch failed",
				"region", req.Region, "range", subRanges[i].String(), "error", fetchErr)
			result.Failed = append(result.Failed, SubRangeOutcome{Range: subRanges[i], Err: fetchErr})
			continue
		}
		raws = append(raws, fetched[i]...)
	}

	if len(result.Failed) < len(subRanges) {
		if err := c.process(ctx, req, subRanges, fetchErrs, raws, result); err != nil {
			return result, err
		}
	}

	c.logger.Info("collect finished",
		"region", req.Region,
		"resolution", req.Resolution,
		"range", req.Range.String(),
		"succeeded", len(result.Succeeded),
		"partial", len(result.Partial),
		"failed", len(result.Failed))

	if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return result, fmt.Errorf("%w: collect run exceeded %s; persisted sub-ranges are kept",
			nemerrors.ErrTimeout, c.cfg.PipelineTimeout())
	}
	return result, nil
}

func (c *Collector) normalize(req *CollectRequest) error {
	if !req.Region.Valid() {
		return nemerrors.InvalidRange("unknown region %q", req.Region)
	}
	if !req.Resolution.Valid() {
		return nemerrors.InvalidRange("unsupported resolution %q", req.Resolution)
	}
	if err := req.Range.Validate(); err != nil {
		return err
	}
	if req.Strategy == "" {
		strategy, err := models.ParseImputeStrategy(c.cfg.Pipeline.DefaultImputeStrategy)
		if err != nil {
			return err
		}
		req.Strategy = strategy
	}
	if !req.Strategy.Valid() {
		return fmt.Errorf("unknown imputation strategy %q", req.Strategy)
	}
	return nil
}

// process validates all fetched records onto the grid of the whole requested
// range, classifies gaps and anomalies, and imputes once across the full
// dataset. It then persists each successfully fetched sub-range on its own, so
// a save failure in one day never discards its siblings. Grid points of failed
// sub-ranges appear as gaps during imputation but are never persisted.
func (c *Collector) process(ctx context.Context, req CollectRequest, subRanges []models.Range, fetchErrs []error, raws []provider.RawRecord, result *CollectResult) error {
	ds, err := c.validator.Validate(raws, req.Region, req.Resolution, req.Range, c.provider.Name())
	if err != nil {
		return err
	}
	if err := c.detector.Detect(ds); err != nil {
		return err
	}
	impRes, err := c.imputer.Impute(ds, req.Strategy)
	if err != nil {
		return err
	}

	for i, sub := range subRanges {
		if fetchErrs[i] != nil {
			continue
		}
		outcome := SubRangeOutcome{Range: sub}

		slice, err := ds.Slice(sub)
		if err != nil {
			outcome.Err = err
			result.Failed = append(result.Failed, outcome)
			continue
		}
		slice.Freeze()

		if err := c.store.Save(ctx, slice); err != nil {
			outcome.Err = fmt.Errorf("failed to persist %s: %w", sub, err)
			result.Failed = append(result.Failed, outcome)
			continue
		}

		outcome.Dataset = slice
		outcome.Imputation = subResult(impRes, slice)
		c.logger.Debug("sub-range persisted",
			"region", req.Region,
			"range", sub.String(),
			"records", len(slice.Records()),
			"imputed", outcome.Imputation.Filled,
			"unresolved", len(outcome.Imputation.Unresolved))
		if len(slice.Gaps()) == 0 {
			result.Succeeded = append(result.Succeeded, outcome)
		} else {
			result.Partial = append(result.Partial, outcome)
		}
	}
	return nil
}

// subResult narrows a whole-range imputation result to one persisted slice.
func subResult(whole *imputer.Result, slice *models.Dataset) *imputer.Result {
	sub := &imputer.Result{Strategy: whole.Strategy, Filled: slice.ImputedCount()}
	for _, u := range whole.Unresolved {
		if slice.Requested.Contains(u.Timestamp) {
			sub.Unresolved = append(sub.Unresolved, u)
		}
	}
	return sub
}

// Load reads a previously persisted dataset. A partially covered range
// returns the assembled dataset together with a PartialCoverageError so the
// caller can decide whether partial data is acceptable.
func (c *Collector) Load(ctx context.Context, region models.Region, res models.Resolution, requested models.Range) (*models.Dataset, error) {
	return c.store.Load(ctx, region, res, requested)
}

// Summarize loads stored data for the range and computes per-field summary
// statistics. Partial coverage is tolerated: the summary covers what is
// stored and the partial error is returned alongside it.
func (c *Collector) Summarize(ctx context.Context, region models.Region, res models.Resolution, requested models.Range, fields []models.FieldName, opts stats.Options) (map[models.FieldName]stats.FieldStatistics, error) {
	ds, err := c.store.Load(ctx, region, res, requested)
	if err != nil {
		var partial *nemerrors.PartialCoverageError
		if !errors.As(err, &partial) {
			return nil, err
		}
	}
	return stats.Summarize(ds, fields, opts), err
}

// Plot hands the dataset's tabular view to a sink. Columns never observed in
// the data are dropped from the view and logged.
func (c *Collector) Plot(ctx context.Context, ds *models.Dataset, fields []models.FieldName, sink PlotSink) error {
	table, removed := ds.Table(fields, true)
	if len(removed) > 0 {
		c.logger.Debug("dropped empty columns from plot", "columns", removed)
	}
	return sink.Render(ctx, table)
}

// splitDaily cuts a range into day-sized sub-ranges. Boundaries fall on whole
// days from the range start, so a 36h request becomes 24h + 12h.
func splitDaily(r models.Range) []models.Range {
	const day = 24 * time.Hour
	var subs []models.Range
	for start := r.Start; start.Before(r.End); start = start.Add(day) {
		end := start.Add(day)
		if end.After(r.End) {
			end = r.End
		}
		subs = append(subs, models.Range{Start: start, End: end})
	}
	return subs
}
