package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/benmccoy/go-nem-collector/internal/config"
	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
)

const (
	telemetryEndpoint = "/v3/telemetry/%s"

	initialRetryDelay = 1 * time.Second
	maxRetryDelay     = 30 * time.Second
	retryMultiplier   = 2.0
)

// HTTPProvider fetches telemetry from an OpenNEM-style HTTP API. It applies
// the shared outbound rate limiter before every request, retries transient
// failures with bounded exponential backoff, and splits requests exceeding
// the provider's maximum queryable span into ordered sub-queries.
type HTTPProvider struct {
	httpClient  *http.Client
	baseURL     string
	limiter     *rate.Limiter
	maxRange    time.Duration
	maxAttempts int
	logger      *slog.Logger

	// retryInterval seeds the backoff policy; tests shrink it.
	retryInterval time.Duration
}

// NewHTTPProvider creates an HTTP provider adapter. The limiter is the
// process-wide gate shared by all outbound fetches; it is injected rather
// than owned so concurrent collections share one budget.
func NewHTTPProvider(cfg config.ProviderConfig, limiter *rate.Limiter, logger *slog.Logger) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	timeout, err := time.ParseDuration(cfg.RequestTimeout)
	if err != nil || timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:       cfg.BaseURL,
		limiter:       limiter,
		maxRange:      time.Duration(cfg.MaxRangeDays) * 24 * time.Hour,
		maxAttempts:   cfg.RetryMaxAttempts,
		logger:        logger.With("component", "provider"),
		retryInterval: initialRetryDelay,
	}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return "opennem" }

// Fetch implements Provider.
func (p *HTTPProvider) Fetch(ctx context.Context, req FetchRequest) ([]RawRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p.logger.Debug("fetching telemetry",
		"region", req.Region,
		"start", req.Start,
		"end", req.End,
		"resolution", req.Resolution)

	chunks := p.splitRange(req.Start, req.End)
	records := make([]RawRecord, 0)

	for i, chunk := range chunks {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}

		chunkRecords, err := p.fetchChunk(ctx, req.Region, chunk.start, chunk.end, req.Resolution)
		if err != nil {
			return nil, fmt.Errorf("sub-range %d/%d %s to %s: %w",
				i+1, len(chunks), chunk.start.Format(time.RFC3339), chunk.end.Format(time.RFC3339), err)
		}
		records = append(records, chunkRecords...)
	}

	p.logger.Debug("fetch complete", "region", req.Region, "records", len(records), "sub_ranges", len(chunks))
	return records, nil
}

type timeChunk struct {
	start time.Time
	end   time.Time
}

// splitRange cuts [start, end) into sub-ranges no longer than the provider's
// maximum queryable span, preserving order.
func (p *HTTPProvider) splitRange(start, end time.Time) []timeChunk {
	if end.Sub(start) <= p.maxRange {
		return []timeChunk{{start: start, end: end}}
	}
	var chunks []timeChunk
	current := start
	for current.Before(end) {
		chunkEnd := current.Add(p.maxRange)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, timeChunk{start: current, end: chunkEnd})
		current = chunkEnd
	}
	return chunks
}

func (p *HTTPProvider) fetchChunk(ctx context.Context, region models.Region, start, end time.Time, res models.Resolution) ([]RawRecord, error) {
	requestURL := fmt.Sprintf(p.baseURL+telemetryEndpoint, region.ProviderCode())

	params := url.Values{}
	params.Add("start", start.Format(time.RFC3339))
	params.Add("end", end.Format(time.RFC3339))
	params.Add("resolution", string(res))
	fullURL := requestURL + "?" + params.Encode()

	body, err := p.getWithRetry(ctx, fullURL)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Series []seriesPoint `json:"series"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse telemetry response: %w", err)
	}

	records := make([]RawRecord, 0, len(payload.Series))
	for _, point := range payload.Series {
		ts, err := time.Parse(time.RFC3339, point.Timestamp)
		if err != nil {
			p.logger.Warn("skipping point with unparseable timestamp",
				"timestamp", point.Timestamp, "error", err)
			continue
		}
		records = append(records, rawFromSeries(ts.In(models.MarketTime), point))
	}
	return records, nil
}

// getWithRetry performs a GET with bounded exponential backoff. HTTP 4xx
// responses other than 429 are permanent; network faults, 429, and 5xx are
// retried. After the attempt budget is spent the failure surfaces as
// SourceUnavailable.
func (p *HTTPProvider) getWithRetry(ctx context.Context, fullURL string) ([]byte, error) {
	var body []byte
	attempts := 0

	operation := func() error {
		attempts++

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "go-nem-collector/1.0")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		responseBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			p.logger.Warn("provider rate limited the request", "url", fullURL)
			return fmt.Errorf("provider rate limited")
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error %d: %s", resp.StatusCode, string(responseBody))
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, string(responseBody)))
		}

		body = responseBody
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.retryInterval
	policy.MaxInterval = maxRetryDelay
	policy.Multiplier = retryMultiplier
	policy.MaxElapsedTime = 0 // bounded by attempt count and ctx

	retries := uint64(0)
	if p.maxAttempts > 1 {
		retries = uint64(p.maxAttempts - 1)
	}
	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)

	if err := backoff.Retry(operation, bounded); err != nil {
		// The provider contract models every provider-side failure, transient
		// or permanent, as SourceUnavailable once the retry budget is spent.
		return nil, nemerrors.SourceUnavailable(attempts, err)
	}
	return body, nil
}

// seriesPoint mirrors the provider's JSON wire format. Values are decimal
// strings; the validator performs numeric coercion.
type seriesPoint struct {
	Timestamp   string            `json:"timestamp"`
	Demand      string            `json:"demand_mw"`
	Generation  map[string]string `json:"generation_by_fuel"`
	SpotPrice   string            `json:"spot_price"`
	Temperature string            `json:"temperature_c"`
}

func rawFromSeries(ts time.Time, point seriesPoint) RawRecord {
	fields := make(map[string]string, len(point.Generation)+3)
	if point.Demand != "" {
		fields[string(models.FieldDemand)] = point.Demand
	}
	if point.SpotPrice != "" {
		fields[string(models.FieldSpotPrice)] = point.SpotPrice
	}
	if point.Temperature != "" {
		fields[string(models.FieldTemperature)] = point.Temperature
	}
	for fuel, value := range point.Generation {
		if value != "" {
			fields[fuel] = value
		}
	}
	return RawRecord{Timestamp: ts, Fields: fields}
}
