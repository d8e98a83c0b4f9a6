package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/benmccoy/go-nem-collector/internal/config"
	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
)

var testStart = time.Date(2020, time.January, 1, 0, 0, 0, 0, models.MarketTime)

func testProvider(t *testing.T, baseURL string, maxRangeDays int) *HTTPProvider {
	t.Helper()
	cfg := config.ProviderConfig{
		BaseURL:          baseURL,
		MaxRangeDays:     maxRangeDays,
		RetryMaxAttempts: 3,
		RequestTimeout:   "5s",
	}
	p := NewHTTPProvider(cfg, rate.NewLimiter(rate.Inf, 1), nil)
	p.retryInterval = time.Millisecond
	return p
}

func testFetchRequest(hours int) FetchRequest {
	return FetchRequest{
		Region:     models.RegionSA,
		Start:      testStart,
		End:        testStart.Add(time.Duration(hours) * time.Hour),
		Resolution: models.Resolution30m,
	}
}

func seriesResponse(start time.Time, n int) map[string]interface{} {
	series := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		series = append(series, map[string]interface{}{
			"timestamp":  start.Add(time.Duration(i) * 30 * time.Minute).Format(time.RFC3339),
			"demand_mw":  "1500.0",
			"spot_price": "42.50",
			"generation_by_fuel": map[string]string{
				"wind": "300.0",
			},
		})
	}
	return map[string]interface{}{"series": series}
}

func TestHTTPProvider_Fetch(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(seriesResponse(testStart, 4))
	}))
	defer server.Close()

	p := testProvider(t, server.URL, 7)
	records, err := p.Fetch(context.Background(), testFetchRequest(2))
	require.NoError(t, err)

	assert.Equal(t, "/v3/telemetry/sa1", gotPath, "region uses the provider code")
	assert.Contains(t, gotQuery, "resolution=30m")

	require.Len(t, records, 4)
	assert.Equal(t, "1500.0", records[0].Fields["demand_mw"])
	assert.Equal(t, "42.50", records[0].Fields["spot_price"])
	assert.Equal(t, "300.0", records[0].Fields["wind"])
	assert.True(t, records[0].Timestamp.Equal(testStart))
}

func TestHTTPProvider_Fetch_SplitsLongRanges(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
		require.NoError(t, err)
		json.NewEncoder(w).Encode(seriesResponse(start, 1))
	}))
	defer server.Close()

	// 3 days at a 1 day maximum span: three sub-queries.
	p := testProvider(t, server.URL, 1)
	records, err := p.Fetch(context.Background(), testFetchRequest(72))
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
	require.Len(t, records, 3)
	assert.True(t, records[0].Timestamp.Before(records[1].Timestamp), "sub-range order preserved")
}

func TestHTTPProvider_Fetch_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(seriesResponse(testStart, 1))
	}))
	defer server.Close()

	p := testProvider(t, server.URL, 7)
	records, err := p.Fetch(context.Background(), testFetchRequest(1))
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Len(t, records, 1)
}

func TestHTTPProvider_Fetch_ExhaustedRetriesSurfaceSourceUnavailable(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := testProvider(t, server.URL, 7)
	_, err := p.Fetch(context.Background(), testFetchRequest(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, nemerrors.ErrSourceUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "attempt budget respected")
}

func TestHTTPProvider_Fetch_ClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unknown region", http.StatusNotFound)
	}))
	defer server.Close()

	p := testProvider(t, server.URL, 7)
	_, err := p.Fetch(context.Background(), testFetchRequest(1))
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx is permanent")
}

func TestHTTPProvider_Fetch_RejectsBadRequests(t *testing.T) {
	p := testProvider(t, "http://unused.invalid", 7)

	tests := []struct {
		name string
		req  FetchRequest
	}{
		{
			name: "bad region",
			req: FetchRequest{
				Region: "EU", Resolution: models.Resolution30m,
				Start: testStart, End: testStart.Add(time.Hour),
			},
		},
		{
			name: "bad resolution",
			req: FetchRequest{
				Region: models.RegionSA, Resolution: "1h",
				Start: testStart, End: testStart.Add(time.Hour),
			},
		},
		{
			name: "start after end",
			req: FetchRequest{
				Region: models.RegionSA, Resolution: models.Resolution30m,
				Start: testStart.Add(time.Hour), End: testStart,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Fetch(context.Background(), tt.req)
			assert.ErrorIs(t, err, nemerrors.ErrInvalidRange)
		})
	}
}

func TestHTTPProvider_SplitRange(t *testing.T) {
	p := testProvider(t, "http://unused.invalid", 1)

	tests := []struct {
		name  string
		hours int
		want  int
	}{
		{name: "within max span", hours: 12, want: 1},
		{name: "exactly max span", hours: 24, want: 1},
		{name: "one over", hours: 36, want: 2},
		{name: "many", hours: 120, want: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := p.splitRange(testStart, testStart.Add(time.Duration(tt.hours)*time.Hour))
			require.Len(t, chunks, tt.want)
			assert.True(t, chunks[0].start.Equal(testStart))
			assert.True(t, chunks[len(chunks)-1].end.Equal(testStart.Add(time.Duration(tt.hours)*time.Hour)))
			for i := 1; i < len(chunks); i++ {
				assert.True(t, chunks[i].start.Equal(chunks[i-1].end), "chunks are contiguous")
			}
		})
	}
}

func TestMockProvider_Deterministic(t *testing.T) {
	m := NewMockProvider()
	req := testFetchRequest(24)

	first, err := m.Fetch(context.Background(), req)
	require.NoError(t, err)
	second, err := m.Fetch(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, first, 48)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, m.FetchCalls)
}

func TestMockProvider_DropAndOverride(t *testing.T) {
	m := NewMockProvider()
	dropTS := testStart.Add(12 * time.Hour)
	m.Drop[dropTS] = true
	m.Overrides[testStart] = map[string]string{"demand_mw": "not-a-number"}

	records, err := m.Fetch(context.Background(), testFetchRequest(24))
	require.NoError(t, err)
	assert.Len(t, records, 47)

	assert.Equal(t, "not-a-number", records[0].Fields["demand_mw"])
	for _, rec := range records {
		assert.False(t, rec.Timestamp.Equal(dropTS))
	}
}

func TestMockProvider_FailFetches(t *testing.T) {
	m := NewMockProvider()
	m.FailFetches = 2
	req := testFetchRequest(1)

	_, err := m.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, nemerrors.ErrSourceUnavailable)
	_, err = m.Fetch(context.Background(), req)
	assert.ErrorIs(t, err, nemerrors.ErrSourceUnavailable)

	records, err := m.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRawFromSeries_SkipsEmptyFields(t *testing.T) {
	point := seriesPoint{
		Timestamp: testStart.Format(time.RFC3339),
		Demand:    "1500",
		SpotPrice: "40",
		Generation: map[string]string{
			"wind":  "300",
			"hydro": "",
		},
	}
	raw := rawFromSeries(testStart, point)
	assert.Equal(t, "1500", raw.Fields["demand_mw"])
	_, hasTemp := raw.Fields["temperature_c"]
	assert.False(t, hasTemp)
	_, hasHydro := raw.Fields["hydro"]
	assert.False(t, hasHydro)
}
