package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wattson/config"
	"wattson/internal/diagnostics"
	"wattson/internal/fetcher"
	"wattson/internal/processor"
	"wattson/internal/store"
	"wattson/models"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	body  []byte
	err   error
}

func (f *stubFetcher) FetchDay(_ context.Context, day models.Date) (fetcher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return fetcher.Result{URL: "stub://" + day.String()}, f.err
	}
	return fetcher.Result{Body: f.body, URL: "stub://" + day.String(), StatusCode: 200}, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Metering.UsagePoint = "12345678901234"
	cfg.Tariff.OffPeakPrice = 0.10
	cfg.Tariff.PeakPrice = 0.20
	cfg.Tariff.MonthlySubscription = 30.0
	cfg.Tariff.BillingStartDay = 24
	cfg.Tariff.OffPeakEndHour = 8
	cfg.Tariff.OffPeakResumeHour = 22
	cfg.Feed.Topics.SubscriptionPrice = "home/tariff/subscription"
	cfg.Feed.Topics.OffPeakPrice = "home/tariff/offpeak"
	cfg.Feed.Topics.PeakPrice = "home/tariff/peak"
	cfg.Feed.Topics.BillingDay = "home/tariff/billing-day"
	cfg.Store.Dir = t.TempDir()
	cfg.Store.GuardTimeout = time.Second
	cfg.Store.WriteTimeout = 2 * time.Second
	return cfg
}

func newTestLedger(t *testing.T, now time.Time, fetch *stubFetcher) (*Ledger, *store.Store) {
	t.Helper()
	cfg := testConfig(t)
	st := store.New(cfg.Store.Dir)
	require.NoError(t, st.Init())
	proc := processor.New(st, cfg.Store.GuardTimeout, cfg.Tariff.OffPeakEndHour, cfg.Tariff.OffPeakResumeHour)
	diag := diagnostics.NewRecorder(st, cfg.Store.GuardTimeout)
	l := New(cfg, st, proc, fetch, diag)
	l.now = func() time.Time { return now }
	return l, st
}

func seedProcessed(t *testing.T, st *store.Store, day models.Date, rec models.ProcessedDayRecord) {
	t.Helper()
	require.NoError(t, st.With(time.Second, func(v *store.Volume) error {
		return v.WriteJSON(store.ProcessedDayPath(day), rec)
	}))
}

func seedRaw(t *testing.T, st *store.Store, day models.Date, samples []models.IntervalSample) {
	t.Helper()
	raw := models.RawDayReading{
		UsagePointID:    "12345678901234",
		Start:           day.String(),
		End:             day.AddDays(1).String(),
		ReadingType:     models.ReadingType{Unit: "W", MeasurementKind: "power", Aggregate: "average"},
		IntervalReading: samples,
	}
	require.NoError(t, st.With(time.Second, func(v *store.Volume) error {
		return v.WriteJSON(store.RawDayPath(day), raw)
	}))
}

func TestRebuildTotalsSumsOnlyCurrentPeriod(t *testing.T) {
	now := at(2024, time.March, 10) // period [2024-02-24, 2024-03-24)
	l, st := newTestLedger(t, now, &stubFetcher{})

	seedProcessed(t, st, models.Date{Year: 2024, Month: time.February, Day: 25},
		models.ProcessedDayRecord{CostEUR: 1.5, OffPeakKwh: 4, PeakKwh: 6})
	seedProcessed(t, st, models.Date{Year: 2024, Month: time.March, Day: 5},
		models.ProcessedDayRecord{CostEUR: 2.5, OffPeakKwh: 1, PeakKwh: 2})
	// Previous period, must not count.
	seedProcessed(t, st, models.Date{Year: 2024, Month: time.February, Day: 20},
		models.ProcessedDayRecord{CostEUR: 99, OffPeakKwh: 99, PeakKwh: 99})

	l.RebuildTotals()

	totals := l.CurrentTotals()
	assert.InDelta(t, 4.0, totals.TotalEUR, 1e-9)
	assert.InDelta(t, 5.0, totals.OffPeakKwh, 1e-9)
	assert.InDelta(t, 8.0, totals.PeakKwh, 1e-9)
	assert.InDelta(t, 13.0, totals.Kwh(), 1e-9)
}

func TestTriggerDailyUpdateFetchesProcessesOnce(t *testing.T) {
	now := at(2024, time.March, 10)
	fetch := &stubFetcher{body: []byte(`{"data":{"2024-03-09T07:30:00":"1000","2024-03-09T09:00:00":"2000"}}`)}
	l, st := newTestLedger(t, now, fetch)

	require.NoError(t, l.TriggerDailyUpdate(context.Background()))

	yesterday := models.Date{Year: 2024, Month: time.March, Day: 9}
	var rec models.ProcessedDayRecord
	require.NoError(t, st.With(time.Second, func(v *store.Volume) error {
		require.True(t, v.Exists(store.RawDayPath(yesterday)))
		return v.ReadJSON(store.ProcessedDayPath(yesterday), &rec)
	}))
	assert.InDelta(t, 0.5, rec.OffPeakKwh, 1e-9) // 07:30 sample
	assert.InDelta(t, 1.0, rec.PeakKwh, 1e-9)    // 09:00 sample
	assert.Greater(t, rec.CostEUR, 0.0)
	assert.InDelta(t, rec.CostEUR, l.CurrentTotals().TotalEUR, 1e-9)

	// Re-running must neither refetch nor reprocess.
	require.NoError(t, l.TriggerDailyUpdate(context.Background()))
	assert.Equal(t, 1, fetch.callCount())
}

func TestTriggerDailyUpdateFetchErrorRecorded(t *testing.T) {
	now := at(2024, time.March, 10)
	fetch := &stubFetcher{err: assert.AnError}
	l, st := newTestLedger(t, now, fetch)

	err := l.TriggerDailyUpdate(context.Background())
	require.Error(t, err)

	yesterday := models.Date{Year: 2024, Month: time.March, Day: 9}
	require.NoError(t, st.With(time.Second, func(v *store.Volume) error {
		assert.False(t, v.Exists(store.RawDayPath(yesterday)))
		return nil
	}))

	diag := diagnostics.NewRecorder(st, time.Second)
	status, loadErr := diag.Load()
	require.NoError(t, loadErr)
	assert.NotEmpty(t, status.LastError)
	assert.NotEqual(t, "OK", status.LastError)
}

func TestArchiveWriteOnceThenFallback(t *testing.T) {
	now := at(2024, time.March, 25) // previous period [2024-02-24, 2024-03-24)
	l, st := newTestLedger(t, now, &stubFetcher{})

	dayA := models.Date{Year: 2024, Month: time.February, Day: 24}
	dayB := models.Date{Year: 2024, Month: time.March, Day: 23}
	seedProcessed(t, st, dayA, models.ProcessedDayRecord{CostEUR: 1, OffPeakKwh: 2, PeakKwh: 3})
	seedProcessed(t, st, dayB, models.ProcessedDayRecord{CostEUR: 4, OffPeakKwh: 5, PeakKwh: 6})

	l.ArchivePreviousPeriod(now)

	start := dayA
	end := models.Date{Year: 2024, Month: time.March, Day: 23}
	var summary models.ArchiveSummary
	require.NoError(t, st.With(time.Second, func(v *store.Volume) error {
		return v.ReadJSON(store.ArchivePath(start, end), &summary)
	}))
	assert.Equal(t, "2024-02-24", summary.PeriodStart)
	assert.Equal(t, "2024-03-23", summary.PeriodEnd)
	assert.InDelta(t, 5.0, summary.TotalEUR, 1e-9)

	// A second close must not rewrite the archive even when the per-day
	// records changed underneath.
	seedProcessed(t, st, dayA, models.ProcessedDayRecord{CostEUR: 100, OffPeakKwh: 2, PeakKwh: 3})
	l.ArchivePreviousPeriod(now)
	require.NoError(t, st.With(time.Second, func(v *store.Volume) error {
		return v.ReadJSON(store.ArchivePath(start, end), &summary)
	}))
	assert.InDelta(t, 5.0, summary.TotalEUR, 1e-9)

	// Archive present: served as is.
	totals, period, found := l.TotalsForOffset(-1)
	require.True(t, found)
	assert.Equal(t, start, period.Start)
	assert.InDelta(t, 5.0, totals.TotalEUR, 1e-9)

	// Archive gone: totals come from re-summing the per-day records.
	require.NoError(t, st.With(time.Second, func(v *store.Volume) error {
		return v.Remove(store.ArchivePath(start, end))
	}))
	totals, _, found = l.TotalsForOffset(-1)
	require.True(t, found)
	assert.InDelta(t, 104.0, totals.TotalEUR, 1e-9)
}

func TestTotalsForOffsetNoData(t *testing.T) {
	now := at(2024, time.March, 10)
	l, _ := newTestLedger(t, now, &stubFetcher{})

	_, _, found := l.TotalsForOffset(0)
	assert.False(t, found)

	_, _, found = l.TotalsForOffset(-3)
	assert.False(t, found)
}

func TestHandleTariffUpdate(t *testing.T) {
	now := at(2024, time.March, 10)
	l, st := newTestLedger(t, now, &stubFetcher{})

	day := models.Date{Year: 2024, Month: time.March, Day: 5}
	seedProcessed(t, st, day, models.ProcessedDayRecord{CostEUR: 2, OffPeakKwh: 1, PeakKwh: 2})
	l.RebuildTotals()

	_, _, ok := l.HandleTariffUpdate("home/tariff/peak", "not-a-number")
	assert.False(t, ok)
	_, _, ok = l.HandleTariffUpdate("home/tariff/peak", "-0.5")
	assert.False(t, ok)
	_, _, ok = l.HandleTariffUpdate("home/tariff/billing-day", "31")
	assert.False(t, ok)
	_, _, ok = l.HandleTariffUpdate("home/tariff/unknown", "1.0")
	assert.False(t, ok)
	assert.InDelta(t, 0.20, l.Tariff().PeakPrice, 1e-9)

	prev, next, ok := l.HandleTariffUpdate("home/tariff/peak", "0.25")
	require.True(t, ok)
	assert.InDelta(t, 0.20, prev.PeakPrice, 1e-9)
	assert.InDelta(t, 0.25, next.PeakPrice, 1e-9)
	assert.InDelta(t, 0.25, l.Tariff().PeakPrice, 1e-9)

	// Already processed days keep their old pricing; the rebuild sums the
	// persisted records, so the snapshot is unchanged by the new tariff.
	assert.InDelta(t, 2.0, l.CurrentTotals().TotalEUR, 1e-9)

	_, next, ok = l.HandleTariffUpdate("home/tariff/billing-day", "15")
	require.True(t, ok)
	assert.Equal(t, 15, next.BillingStartDay)
	assert.Equal(t, models.Date{Year: 2024, Month: time.February, Day: 15}, l.CurrentPeriod().Start)
}

func TestBackfillProcessesMissingDays(t *testing.T) {
	now := at(2024, time.March, 10)
	l, st := newTestLedger(t, now, &stubFetcher{})

	dayA := models.Date{Year: 2024, Month: time.March, Day: 3}
	dayB := models.Date{Year: 2024, Month: time.March, Day: 4}
	seedRaw(t, st, dayA, []models.IntervalSample{{
		Value: "1000", Date: dayA.String() + " 02:00:00", IntervalLength: models.IntervalLength30M,
	}})
	seedRaw(t, st, dayB, []models.IntervalSample{{
		Value: "1000", Date: dayB.String() + " 12:00:00", IntervalLength: models.IntervalLength30M,
	}})

	require.NoError(t, l.Backfill(context.Background()))

	require.NoError(t, st.With(time.Second, func(v *store.Volume) error {
		assert.True(t, v.Exists(store.ProcessedDayPath(dayA)))
		assert.True(t, v.Exists(store.ProcessedDayPath(dayB)))
		return nil
	}))
	totals := l.CurrentTotals()
	assert.InDelta(t, 0.5, totals.OffPeakKwh, 1e-9)
	assert.InDelta(t, 0.5, totals.PeakKwh, 1e-9)
	assert.Greater(t, totals.TotalEUR, 0.0)
}
