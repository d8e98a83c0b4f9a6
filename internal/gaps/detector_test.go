package gaps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmccoy/go-nem-collector/internal/config"
	"github.com/benmccoy/go-nem-collector/internal/models"
)

var testStart = time.Date(2020, time.January, 1, 0, 0, 0, 0, models.MarketTime)

func newTestDetector(t *testing.T, now time.Time) *Detector {
	t.Helper()
	d := NewDetector(config.Default(), nil)
	d.now = func() time.Time { return now }
	return d
}

func datasetWithRecords(t *testing.T, rng models.Range, present map[time.Time]*models.Record) *models.Dataset {
	t.Helper()
	ds, err := models.NewDataset(models.RegionSA, models.Resolution30m, rng, "test")
	require.NoError(t, err)
	for ts, rec := range present {
		rec.Region = models.RegionSA
		rec.Timestamp = ts
		require.NoError(t, ds.SetRecord(rec))
	}
	return ds
}

func TestDetector_Detect_ClassifiesMissingPoints(t *testing.T) {
	rng := models.Range{Start: testStart, End: testStart.Add(2 * time.Hour)}
	ds := datasetWithRecords(t, rng, map[time.Time]*models.Record{
		testStart: {Demand: 1500, SpotPrice: 40},
	})

	// Retrieval happens 90 minutes after range start with a 60 minute
	// publication delay: points newer than 00:30 are not yet due.
	now := testStart.Add(90 * time.Minute)
	d := newTestDetector(t, now)
	require.NoError(t, d.Detect(ds))

	assert.True(t, ds.Complete())
	require.Len(t, ds.Gaps(), 3)

	byTS := make(map[time.Time]models.GapReason)
	for _, g := range ds.Gaps() {
		byTS[g.Timestamp] = g.Reason
	}
	assert.Equal(t, models.GapSourceError, byTS[testStart.Add(30*time.Minute)], "older than the delay window")
	assert.Equal(t, models.GapNotYetPublished, byTS[testStart.Add(60*time.Minute)])
	assert.Equal(t, models.GapNotYetPublished, byTS[testStart.Add(90*time.Minute)])
}

func TestDetector_Detect_AllPublishedLongAgo(t *testing.T) {
	rng := models.Range{Start: testStart, End: testStart.Add(time.Hour)}
	ds := datasetWithRecords(t, rng, nil)

	d := newTestDetector(t, testStart.Add(30*24*time.Hour))
	require.NoError(t, d.Detect(ds))

	for _, g := range ds.Gaps() {
		assert.Equal(t, models.GapSourceError, g.Reason)
	}
}

func TestDetector_Detect_Idempotent(t *testing.T) {
	rng := models.Range{Start: testStart, End: testStart.Add(time.Hour)}
	ds := datasetWithRecords(t, rng, nil)

	d := newTestDetector(t, testStart.Add(24*time.Hour))
	require.NoError(t, d.Detect(ds))
	gaps := ds.Gaps()

	require.NoError(t, d.Detect(ds))
	assert.Equal(t, gaps, ds.Gaps(), "second pass changes nothing")
}

func TestDetector_FlagAnomalies(t *testing.T) {
	rng := models.Range{Start: testStart, End: testStart.Add(2 * time.Hour)}
	temp := 60.0
	ds := datasetWithRecords(t, rng, map[time.Time]*models.Record{
		testStart: {Demand: 1500, SpotPrice: 40},
		testStart.Add(30 * time.Minute): {
			Demand:    -50, // below plausible minimum
			SpotPrice: 16000,
		},
		testStart.Add(60 * time.Minute): {
			Demand:      1500,
			SpotPrice:   40,
			Temperature: &temp, // above plausible maximum
			Generation:  map[models.FuelType]float64{models.FuelWind: 25000},
		},
	})

	d := newTestDetector(t, testStart.Add(24*time.Hour))
	require.NoError(t, d.Detect(ds))

	recs := ds.Records()
	require.Len(t, recs, 3)

	assert.Empty(t, recs[0].Suspect)

	assert.True(t, recs[1].IsSuspect(models.FieldDemand))
	assert.True(t, recs[1].IsSuspect(models.FieldSpotPrice))
	assert.Equal(t, -50.0, recs[1].Demand, "suspect values are retained")

	assert.True(t, recs[2].IsSuspect(models.FieldTemperature))
	assert.True(t, recs[2].IsSuspect(models.FuelField(models.FuelWind)), "fuel fields use the generation bounds")
	assert.False(t, recs[2].IsSuspect(models.FieldDemand))
}

func TestDetector_Detect_BoundaryValuesNotSuspect(t *testing.T) {
	rng := models.Range{Start: testStart, End: testStart.Add(time.Hour)}
	ds := datasetWithRecords(t, rng, map[time.Time]*models.Record{
		testStart: {Demand: 0, SpotPrice: -1000}, // exactly on the bounds
	})

	d := newTestDetector(t, testStart.Add(24*time.Hour))
	require.NoError(t, d.Detect(ds))
	assert.Empty(t, ds.Records()[0].Suspect)
}
