package imputer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
)

var testStart = time.Date(2020, time.January, 1, 0, 0, 0, 0, models.MarketTime)

// gappedDataset builds a complete 30m dataset over the range where every grid
// point holds a record with the given demand, except the listed offsets which
// become source_error gaps.
func gappedDataset(t *testing.T, hours int, demandAt func(i int) float64, gapOffsets ...int) *models.Dataset {
	t.Helper()
	rng := models.Range{Start: testStart, End: testStart.Add(time.Duration(hours) * time.Hour)}
	ds, err := models.NewDataset(models.RegionSA, models.Resolution30m, rng, "test")
	require.NoError(t, err)

	gapped := make(map[int]bool)
	for _, off := range gapOffsets {
		gapped[off] = true
	}
	for i, entry := range ds.Entries() {
		if gapped[i] {
			require.NoError(t, ds.SetGap(entry.Timestamp, models.GapSourceError))
			continue
		}
		require.NoError(t, ds.SetRecord(&models.Record{
			Region:    models.RegionSA,
			Timestamp: entry.Timestamp,
			Demand:    demandAt(i),
			SpotPrice: 40,
			Generation: map[models.FuelType]float64{
				models.FuelWind: 100 + float64(i),
			},
		}))
	}
	return ds
}

func constDemand(v float64) func(int) float64 {
	return func(int) float64 { return v }
}

func TestImputer_Impute_RejectsBadInput(t *testing.T) {
	ds := gappedDataset(t, 1, constDemand(1500))
	im := New(4, nil)

	_, err := im.Impute(ds, models.ImputeStrategy("nearest"))
	assert.Error(t, err)

	ds.Freeze()
	_, err = im.Impute(ds, models.StrategyForwardFill)
	assert.ErrorIs(t, err, models.ErrFrozen)
}

func TestImputer_StrategyNone(t *testing.T) {
	ds := gappedDataset(t, 2, constDemand(1500), 1, 2)
	im := New(4, nil)

	res, err := im.Impute(ds, models.StrategyNone)
	require.NoError(t, err)
	assert.Zero(t, res.Filled)
	assert.Len(t, res.Unresolved, 2)
	assert.Len(t, ds.Gaps(), 2, "gaps stay in place")
}

func TestImputer_ForwardFill(t *testing.T) {
	ds := gappedDataset(t, 2, func(i int) float64 { return 1000 + float64(i)*100 }, 2)
	im := New(4, nil)

	res, err := im.Impute(ds, models.StrategyForwardFill)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filled)
	assert.Empty(t, res.Unresolved)
	assert.Empty(t, ds.Gaps())

	entry, _ := ds.EntryAt(testStart.Add(60 * time.Minute))
	require.True(t, entry.HasRecord())
	assert.Equal(t, 1100.0, entry.Record.Demand, "carries the preceding value")
	assert.True(t, entry.Record.Imputed)
	assert.Equal(t, models.StrategyForwardFill, entry.Record.Strategy)
	assert.Equal(t, 101.0, entry.Record.Generation[models.FuelWind])
}

func TestImputer_ForwardFill_ConsecutiveGaps(t *testing.T) {
	ds := gappedDataset(t, 2, constDemand(1500), 1, 2)
	im := New(4, nil)

	res, err := im.Impute(ds, models.StrategyForwardFill)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Filled)

	// The second gap copies the imputed fill of the first.
	entry, _ := ds.EntryAt(testStart.Add(60 * time.Minute))
	assert.Equal(t, 1500.0, entry.Record.Demand)
	assert.True(t, entry.Record.Imputed)
}

func TestImputer_ForwardFill_LeadingGapUnresolved(t *testing.T) {
	ds := gappedDataset(t, 1, constDemand(1500), 0)
	im := New(4, nil)

	res, err := im.Impute(ds, models.StrategyForwardFill)
	require.NoError(t, err)
	assert.Zero(t, res.Filled)
	require.Len(t, res.Unresolved, 1)
	assert.ErrorIs(t, res.Unresolved[0].Reason, nemerrors.ErrInsufficientHistory)
	assert.Len(t, ds.Gaps(), 1, "unresolved gap stays explicit")
}

func TestImputer_ForwardFill_Idempotent(t *testing.T) {
	ds := gappedDataset(t, 2, constDemand(1500), 2)
	im := New(4, nil)

	res, err := im.Impute(ds, models.StrategyForwardFill)
	require.NoError(t, err)
	require.Equal(t, 1, res.Filled)

	res, err = im.Impute(ds, models.StrategyForwardFill)
	require.NoError(t, err)
	assert.Zero(t, res.Filled, "no gaps remain, so a second pass is a no-op")
	assert.Equal(t, 1, ds.ImputedCount())
}

func TestImputer_LinearInterpolate_SingleGap(t *testing.T) {
	// Demand 10 at the slot before the gap, 20 after: the midpoint is 15.
	ds := gappedDataset(t, 2, func(i int) float64 { return float64(10 + 5*(i-1)) }, 2)
	im := New(4, nil)

	res, err := im.Impute(ds, models.StrategyLinearInterpolate)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filled)

	entry, _ := ds.EntryAt(testStart.Add(60 * time.Minute))
	require.True(t, entry.HasRecord())
	assert.InDelta(t, 15.0, entry.Record.Demand, 1e-9)
	assert.True(t, entry.Record.Imputed)
	assert.Equal(t, models.StrategyLinearInterpolate, entry.Record.Strategy)
}

func TestImputer_LinearInterpolate_GapRun(t *testing.T) {
	// Records at offsets 0 and 3 with demand 100 and 400; offsets 1 and 2 are
	// gaps, interpolating to 200 and 300.
	ds := gappedDataset(t, 2, func(i int) float64 { return float64((i + 1) * 100) }, 1, 2)
	im := New(4, nil)

	res, err := im.Impute(ds, models.StrategyLinearInterpolate)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Filled)

	first, _ := ds.EntryAt(testStart.Add(30 * time.Minute))
	second, _ := ds.EntryAt(testStart.Add(60 * time.Minute))
	assert.InDelta(t, 200.0, first.Record.Demand, 1e-9)
	assert.InDelta(t, 300.0, second.Record.Demand, 1e-9)
}

func TestImputer_LinearInterpolate_EdgeGapsUnresolved(t *testing.T) {
	ds := gappedDataset(t, 2, constDemand(1500), 0, 3)
	im := New(4, nil)

	res, err := im.Impute(ds, models.StrategyLinearInterpolate)
	require.NoError(t, err)
	assert.Zero(t, res.Filled)
	require.Len(t, res.Unresolved, 2)
	for _, u := range res.Unresolved {
		assert.ErrorIs(t, u.Reason, nemerrors.ErrInsufficientHistory)
	}
	assert.Len(t, ds.Gaps(), 2)
}

func TestImputer_SeasonalMean(t *testing.T) {
	// Two weeks of 30m data; the slot at day 5 12:00 is a gap. The same
	// weekday and time of day recurs once in the other week, giving one
	// comparable genuine sample.
	rng := models.Range{Start: testStart, End: testStart.Add(14 * 24 * time.Hour)}
	ds, err := models.NewDataset(models.RegionSA, models.Resolution30m, rng, "test")
	require.NoError(t, err)

	gapTS := testStart.Add(5*24*time.Hour + 12*time.Hour)
	for _, entry := range ds.Entries() {
		if entry.Timestamp.Equal(gapTS) {
			require.NoError(t, ds.SetGap(gapTS, models.GapSourceError))
			continue
		}
		require.NoError(t, ds.SetRecord(&models.Record{
			Region:    models.RegionSA,
			Timestamp: entry.Timestamp,
			Demand:    1500,
			SpotPrice: 40,
		}))
	}

	im := New(1, nil)
	res, err := im.Impute(ds, models.StrategySeasonalMean)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filled)
	assert.Empty(t, res.Unresolved)

	entry, _ := ds.EntryAt(gapTS)
	require.True(t, entry.HasRecord())
	assert.Equal(t, 1500.0, entry.Record.Demand)
	assert.Equal(t, models.StrategySeasonalMean, entry.Record.Strategy)
}

func TestImputer_SeasonalMean_ExcludesSuspectSamples(t *testing.T) {
	// Four weeks of the same weekday slot; one sample is implausible and
	// flagged suspect, so the mean uses only the clean three.
	rng := models.Range{Start: testStart, End: testStart.Add(4 * 7 * 24 * time.Hour)}
	ds, err := models.NewDataset(models.RegionSA, models.Resolution30m, rng, "test")
	require.NoError(t, err)

	gapTS := testStart.Add(3*7*24*time.Hour + 12*time.Hour)
	week := 0
	for _, entry := range ds.Entries() {
		if entry.Timestamp.Equal(gapTS) {
			require.NoError(t, ds.SetGap(gapTS, models.GapSourceError))
			continue
		}
		rec := &models.Record{
			Region:    models.RegionSA,
			Timestamp: entry.Timestamp,
			Demand:    1000,
			SpotPrice: 40,
		}
		if entry.Timestamp.Hour() == 12 && entry.Timestamp.Minute() == 0 &&
			entry.Timestamp.Weekday() == gapTS.Weekday() {
			if week == 0 {
				rec.Demand = 999999
				rec.MarkSuspect(models.FieldDemand)
			}
			week++
		}
		require.NoError(t, ds.SetRecord(rec))
	}

	im := New(2, nil)
	res, err := im.Impute(ds, models.StrategySeasonalMean)
	require.NoError(t, err)
	require.Equal(t, 1, res.Filled)

	entry, _ := ds.EntryAt(gapTS)
	assert.Equal(t, 1000.0, entry.Record.Demand, "suspect sample excluded from the mean")
}

func TestImputer_SeasonalMean_InsufficientPeriods(t *testing.T) {
	// A single day cannot supply multiple samples for any (weekday, time)
	// slot, so nothing can be synthesized with min periods 4.
	ds := gappedDataset(t, 24, constDemand(1500), 10)
	im := New(4, nil)

	res, err := im.Impute(ds, models.StrategySeasonalMean)
	require.NoError(t, err)
	assert.Zero(t, res.Filled)
	require.Len(t, res.Unresolved, 1)
	assert.ErrorIs(t, res.Unresolved[0].Reason, nemerrors.ErrInsufficientHistory)
}

func TestImputer_DailyMean(t *testing.T) {
	// Two days of 30m data where demand depends only on the time of day; the
	// 06:00 slot on day two is a gap. daily_mean averages the same time of day
	// across days regardless of weekday, so day one's 06:00 sample fills it.
	ds := gappedDataset(t, 48, func(i int) float64 { return 1000 + 10*float64(i%48) }, 60)
	im := New(4, nil)

	res, err := im.Impute(ds, models.StrategyDailyMean)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filled)
	assert.Empty(t, res.Unresolved)

	entry, _ := ds.EntryAt(testStart.Add(24*time.Hour + 6*time.Hour))
	require.True(t, entry.HasRecord())
	assert.Equal(t, 1120.0, entry.Record.Demand)
	assert.Equal(t, models.StrategyDailyMean, entry.Record.Strategy)
}

func TestImputer_DailyMean_NoComparableSamples(t *testing.T) {
	// In a single day each time of day occurs exactly once, and that one
	// occurrence is the gap itself.
	ds := gappedDataset(t, 24, constDemand(1500), 10)
	im := New(4, nil)

	res, err := im.Impute(ds, models.StrategyDailyMean)
	require.NoError(t, err)
	assert.Zero(t, res.Filled)
	require.Len(t, res.Unresolved, 1)
	assert.ErrorIs(t, res.Unresolved[0].Reason, nemerrors.ErrInsufficientHistory)
}

func TestImputer_Median(t *testing.T) {
	// Demands 100, 200, 300 with a trailing gap: median 200.
	ds := gappedDataset(t, 2, func(i int) float64 { return float64((i + 1) * 100) }, 3)
	im := New(4, nil)

	res, err := im.Impute(ds, models.StrategyMedian)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filled)

	entry, _ := ds.EntryAt(testStart.Add(90 * time.Minute))
	require.True(t, entry.HasRecord())
	assert.Equal(t, 200.0, entry.Record.Demand)
	assert.Equal(t, models.StrategyMedian, entry.Record.Strategy)
}

func TestImputer_Median_NoGenuineValues(t *testing.T) {
	rng := models.Range{Start: testStart, End: testStart.Add(time.Hour)}
	ds, err := models.NewDataset(models.RegionSA, models.Resolution30m, rng, "test")
	require.NoError(t, err)
	for _, entry := range ds.Entries() {
		require.NoError(t, ds.SetGap(entry.Timestamp, models.GapSourceError))
	}

	im := New(4, nil)
	res, err := im.Impute(ds, models.StrategyMedian)
	require.NoError(t, err)
	assert.Zero(t, res.Filled)
	assert.Len(t, res.Unresolved, 2)
}

func TestMedianOf(t *testing.T) {
	assert.Equal(t, 2.0, medianOf([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, medianOf([]float64{4, 1, 2, 3}))
	assert.Equal(t, 7.0, medianOf([]float64{7}))
}
