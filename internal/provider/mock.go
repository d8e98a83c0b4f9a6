package provider

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
)

// MockProvider generates a deterministic synthetic telemetry series for tests
// and offline runs. Demand follows a daily sine profile, generation splits
// demand across a few fuels, and spot price tracks demand. Individual grid
// points can be dropped to simulate source gaps, and fetches can be forced to
// fail to exercise the retry path.
type MockProvider struct {
	mu sync.Mutex

	// Drop holds timestamps the provider pretends not to have.
	Drop map[time.Time]bool
	// FailFetches makes the next n Fetch calls return SourceUnavailable.
	FailFetches int
	// Overrides replaces generated field values at specific timestamps.
	Overrides map[time.Time]map[string]string

	// FetchCalls counts Fetch invocations, including failed ones.
	FetchCalls int
}

// NewMockProvider creates a mock provider with no drops or failures.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Drop:      make(map[time.Time]bool),
		Overrides: make(map[time.Time]map[string]string),
	}
}

// Name implements Provider.
func (m *MockProvider) Name() string { return "mock" }

// Fetch implements Provider.
func (m *MockProvider) Fetch(ctx context.Context, req FetchRequest) ([]RawRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.FetchCalls++
	if m.FailFetches > 0 {
		m.FailFetches--
		m.mu.Unlock()
		return nil, nemerrors.SourceUnavailable(1, fmt.Errorf("mock provider failure injected"))
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	step := req.Resolution.Duration()
	var records []RawRecord
	for ts := req.Start; ts.Before(req.End); ts = ts.Add(step) {
		m.mu.Lock()
		dropped := m.Drop[ts]
		override := m.Overrides[ts]
		m.mu.Unlock()
		if dropped {
			continue
		}

		rec := m.generate(ts)
		for field, value := range override {
			rec.Fields[field] = value
		}
		records = append(records, rec)
	}
	return records, nil
}

// generate builds one synthetic observation. The profile is a pure function
// of the timestamp so repeated fetches agree.
func (m *MockProvider) generate(ts time.Time) RawRecord {
	hourOfDay := float64(ts.Hour()) + float64(ts.Minute())/60
	// Daily demand curve: trough near 4am, peak near 6pm.
	demand := 1400 + 400*math.Sin((hourOfDay-10)*math.Pi/12)
	price := 40 + demand/50
	temp := 18 + 8*math.Sin((hourOfDay-8)*math.Pi/12)

	wind := 200 + 100*math.Sin(float64(ts.Unix()%7200)/7200*2*math.Pi)
	gas := demand * 0.35
	coal := demand * 0.45

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	return RawRecord{
		Timestamp: ts,
		Fields: map[string]string{
			string(models.FieldDemand):      f(demand),
			string(models.FieldSpotPrice):   f(price),
			string(models.FieldTemperature): f(temp),
			string(models.FuelWind):         f(wind),
			string(models.FuelGasCCGT):      f(gas),
			string(models.FuelBlackCoal):    f(coal),
			string(models.FuelSolarRooftop): f(math.Max(0, 300*math.Sin((hourOfDay-6)*math.Pi/12))),
		},
	}
}
