// Package ledger owns the billing period state machine: it drives the
// fetch → normalize → process pipeline for missing days, rebuilds the
// running totals from the persisted per-day records and archives completed
// periods. All storage access goes through the store guard.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"wattson/config"
	"wattson/internal/diagnostics"
	"wattson/internal/fetcher"
	"wattson/internal/metrics"
	"wattson/internal/normalizer"
	"wattson/internal/processor"
	"wattson/internal/store"
	"wattson/logger"
	"wattson/models"
)

type Ledger struct {
	cfg   *config.Config
	store *store.Store
	proc  *processor.Processor
	fetch fetcher.Fetcher
	diag  *diagnostics.Recorder
	log   *logger.Log

	// Injectable clock, tests pin it.
	now func() time.Time

	mu     sync.RWMutex
	tariff models.TariffParams
	totals models.PeriodTotals
}

func New(cfg *config.Config, st *store.Store, proc *processor.Processor, fetch fetcher.Fetcher, diag *diagnostics.Recorder) *Ledger {
	return &Ledger{
		cfg:   cfg,
		store: st,
		proc:  proc,
		fetch: fetch,
		diag:  diag,
		log:   logger.GetLogger(),
		now:   time.Now,
		tariff: models.TariffParams{
			OffPeakPrice:        cfg.Tariff.OffPeakPrice,
			PeakPrice:           cfg.Tariff.PeakPrice,
			MonthlySubscription: cfg.Tariff.MonthlySubscription,
			BillingStartDay:     cfg.Tariff.BillingStartDay,
		},
	}
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////// READ ACCESSORS ////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Tariff returns a copy of the tariff currently in effect.
func (l *Ledger) Tariff() models.TariffParams {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tariff
}

// CurrentTotals returns the latest totals snapshot for the open period.
func (l *Ledger) CurrentTotals() models.PeriodTotals {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totals
}

// CurrentPeriod returns the open billing period boundaries.
func (l *Ledger) CurrentPeriod() models.BillingPeriod {
	return Period(l.now(), l.Tariff().BillingStartDay, 0)
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// TARIFF /////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// HandleTariffUpdate applies one feed notification. Values failing the
// sanity bounds (prices > 0, billing day within [1, 28]) are logged and
// dropped, nothing is surfaced upstream. Accepted updates mutate the tariff
// in place and trigger a totals rebuild; previous and new params are
// returned so listeners can diff without polling.
func (l *Ledger) HandleTariffUpdate(topic, raw string) (prev, next models.TariffParams, accepted bool) {
	log := l.log.WithComponent("ledger").WithFields(logger.Fields{"topic": topic, "value": raw})

	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		metrics.TariffUpdates.WithLabelValues("invalid").Inc()
		log.Warn("tariff update ignored: not a number")
		return l.Tariff(), l.Tariff(), false
	}

	topics := l.cfg.Feed.Topics

	l.mu.Lock()
	prev = l.tariff
	next = l.tariff
	switch {
	case topic != "" && topic == topics.SubscriptionPrice && val > 0:
		next.MonthlySubscription = val
	case topic != "" && topic == topics.OffPeakPrice && val > 0:
		next.OffPeakPrice = val
	case topic != "" && topic == topics.PeakPrice && val > 0:
		next.PeakPrice = val
	case topic != "" && topic == topics.BillingDay && val >= 1 && val <= 28:
		next.BillingStartDay = int(val)
	default:
		l.mu.Unlock()
		metrics.TariffUpdates.WithLabelValues("rejected").Inc()
		log.Warn("tariff update ignored: unknown topic or out-of-bounds value")
		return prev, prev, false
	}
	l.tariff = next
	l.mu.Unlock()

	metrics.TariffUpdates.WithLabelValues("accepted").Inc()
	log.Info("tariff updated")
	l.RebuildTotals()
	return prev, next, true
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// TOTALS /////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// RebuildTotals re-sums every processed day of the current period and swaps
// the in-memory snapshot wholesale. Totals therefore can never drift from
// the persisted per-day ledger, at the cost of an O(days-in-period) scan.
func (l *Ledger) RebuildTotals() {
	now := l.now()
	period := Period(now, l.Tariff().BillingStartDay, 0)

	fresh, days, err := l.sumRange(period.Start, models.DateOf(now))
	if err != nil {
		l.log.WithComponent("ledger").WithError(err).Warn("totals rebuild skipped")
		return
	}

	l.mu.Lock()
	l.totals = fresh
	l.mu.Unlock()

	metrics.PeriodTotalEUR.Set(fresh.TotalEUR)
	metrics.PeriodOffPeakKwh.Set(fresh.OffPeakKwh)
	metrics.PeriodPeakKwh.Set(fresh.PeakKwh)

	l.log.WithComponent("ledger").WithFields(logger.Fields{
		"period_start": period.Start.String(),
		"days":         days,
		"total_eur":    fresh.TotalEUR,
	}).Info("totals rebuilt from processed days")

	l.diag.RecordProcessed(fresh)
}

// sumRange adds up the processed records of the half-open day range
// [start, end). Days without a record are gaps and contribute nothing; no
// synthetic value is ever invented for them.
func (l *Ledger) sumRange(start, end models.Date) (models.PeriodTotals, int, error) {
	var totals models.PeriodTotals
	days := 0
	err := l.store.With(l.cfg.Store.GuardTimeout, func(v *store.Volume) error {
		for d := start; d.Before(end); d = d.AddDays(1) {
			if !v.Exists(store.ProcessedDayPath(d)) {
				continue
			}
			var rec models.ProcessedDayRecord
			if err := v.ReadJSON(store.ProcessedDayPath(d), &rec); err != nil {
				l.log.WithComponent("ledger").WithError(err).WithFields(logger.Fields{"day": d.String()}).Warn("unreadable processed day skipped")
				continue
			}
			totals.TotalEUR += rec.CostEUR
			totals.OffPeakKwh += rec.OffPeakKwh
			totals.PeakKwh += rec.PeakKwh
			days++
		}
		return nil
	})
	if err != nil {
		return models.PeriodTotals{}, 0, err
	}
	return totals, days, nil
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// PIPELINE ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Backfill is the continuity check: every day of the current period before
// today that has raw data but no processed record gets processed. It runs
// at startup and may be re-invoked at any time; it is the self-healing path
// for missed or interrupted daily jobs.
func (l *Ledger) Backfill(ctx context.Context) error {
	now := l.now()
	tariff := l.Tariff()
	start := PeriodStart(now, tariff.BillingStartDay, 0)
	today := models.DateOf(now)

	log := l.log.WithComponent("ledger").WithFields(logger.Fields{"period_start": start.String()})
	log.Info("continuity check for unprocessed raw days")

	processed := 0
	for d := start; d.Before(today); d = d.AddDays(1) {
		if err := ctx.Err(); err != nil {
			return err
		}

		pending := false
		err := l.store.With(l.cfg.Store.GuardTimeout, func(v *store.Volume) error {
			pending = v.Exists(store.RawDayPath(d)) && !v.Exists(store.ProcessedDayPath(d))
			return nil
		})
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"day": d.String()}).Warn("continuity check skipped day")
			continue
		}
		if !pending {
			continue
		}

		if _, err := l.proc.ProcessDay(d, tariff, false); err != nil && !errors.Is(err, processor.ErrAlreadyProcessed) {
			log.WithError(err).WithFields(logger.Fields{"day": d.String()}).Warn("backfill processing failed")
			continue
		}
		processed++
	}

	if processed > 0 {
		log.WithFields(logger.Fields{"days": processed}).Info("backfill processed missing days")
	}
	l.RebuildTotals()
	return nil
}

// TriggerDailyUpdate runs the daily pipeline for yesterday: close and
// archive the previous period when yesterday was the billing start day,
// fetch raw data when absent, process, rebuild totals. The network call
// happens before any guard is taken; only local I/O runs inside the
// critical section.
func (l *Ledger) TriggerDailyUpdate(ctx context.Context) error {
	now := l.now()
	yesterday := models.DateOf(now).AddDays(-1)
	tariff := l.Tariff()

	log := l.log.WithComponent("ledger").WithFields(logger.Fields{"day": yesterday.String()})
	log.Info("daily update start")

	if yesterday.Day == tariff.BillingStartDay {
		l.ArchivePreviousPeriod(now)
	}

	if err := l.ensureRawDay(ctx, yesterday); err != nil {
		return fmt.Errorf("daily update for %s: %w", yesterday, err)
	}

	if _, err := l.proc.ProcessDay(yesterday, tariff, false); err != nil && !errors.Is(err, processor.ErrAlreadyProcessed) {
		return fmt.Errorf("daily update for %s: %w", yesterday, err)
	}

	l.RebuildTotals()
	log.Info("daily update done")
	return nil
}

// ensureRawDay fetches and normalizes the given day unless its raw document
// already exists. Every fetch attempt, failed or not, overwrites the
// diagnostics snapshot.
func (l *Ledger) ensureRawDay(ctx context.Context, day models.Date) error {
	exists := false
	err := l.store.With(l.cfg.Store.GuardTimeout, func(v *store.Volume) error {
		exists = v.Exists(store.RawDayPath(day))
		return nil
	})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	res, err := l.fetch.FetchDay(ctx, day)
	status := models.FetchStatus{
		LastUpdate:   l.now(),
		LastHTTPCode: res.StatusCode,
		LastURL:      res.URL,
	}
	if err != nil {
		status.LastError = err.Error()
		l.diag.RecordFetch(status)
		return fmt.Errorf("fetch: %w", err)
	}

	doc, err := normalizer.Normalize(res.Body, l.cfg.Metering.UsagePoint, day.String(), day.AddDays(1).String())
	if err != nil {
		status.LastError = "normalize_failed"
		status.LastMessage = err.Error()
		l.diag.RecordFetch(status)
		return fmt.Errorf("normalize: %w", err)
	}

	err = l.store.With(l.cfg.Store.WriteTimeout, func(v *store.Volume) error {
		return v.WriteJSON(store.RawDayPath(day), doc)
	})
	if err != nil {
		status.LastError = "store_failed"
		status.LastMessage = err.Error()
		l.diag.RecordFetch(status)
		return err
	}

	status.LastError = "OK"
	status.LastMessage = "OK"
	l.diag.RecordFetch(status)
	return nil
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// ARCHIVES ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// ArchivePreviousPeriod sums the just-closed period and writes its summary
// exactly once. Fire and forget: a failed write is logged without retry,
// the per-day records remain the audit trail and the next read falls back
// to re-summing them. An existing archive is never rewritten.
func (l *Ledger) ArchivePreviousPeriod(now time.Time) {
	tariff := l.Tariff()
	prev := Period(now, tariff.BillingStartDay, -1)
	lastDay := prev.LastDay()

	log := l.log.WithComponent("ledger").WithFields(logger.Fields{
		"period_start": prev.Start.String(),
		"period_end":   lastDay.String(),
	})

	totals, days, err := l.sumRange(prev.Start, prev.End)
	if err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		log.WithError(err).Error("archive aborted: period sum failed")
		return
	}

	summary := models.ArchiveSummary{
		PeriodStart: prev.Start.String(),
		PeriodEnd:   lastDay.String(),
		TotalEUR:    totals.TotalEUR,
		OffPeakKwh:  totals.OffPeakKwh,
		PeakKwh:     totals.PeakKwh,
	}

	err = l.store.With(l.cfg.Store.WriteTimeout, func(v *store.Volume) error {
		if v.Exists(store.ArchivePath(prev.Start, lastDay)) {
			log.Info("archive already present, left untouched")
			return nil
		}
		return v.WriteJSON(store.ArchivePath(prev.Start, lastDay), summary)
	})
	if err != nil {
		metrics.ArchiveWrites.WithLabelValues("error").Inc()
		log.WithError(err).Error("failed to create archive")
		return
	}

	metrics.ArchiveWrites.WithLabelValues("ok").Inc()
	log.WithFields(logger.Fields{"days": days, "total_eur": summary.TotalEUR}).Info("archive created")
}

// TotalsForOffset resolves the totals of the period at the given offset.
// Offset 0 serves the in-memory snapshot. Past periods come from their
// archive summary when present, otherwise from re-summing the per-day
// records. found is false when neither source has data; callers display an
// explicit no-data state instead of zeros.
func (l *Ledger) TotalsForOffset(offset int) (models.PeriodTotals, models.BillingPeriod, bool) {
	now := l.now()
	tariff := l.Tariff()
	period := Period(now, tariff.BillingStartDay, offset)

	if offset == 0 {
		totals := l.CurrentTotals()
		return totals, period, totals.TotalEUR > 0 || totals.Kwh() > 0
	}

	var summary models.ArchiveSummary
	foundArchive := false
	err := l.store.With(l.cfg.Store.GuardTimeout, func(v *store.Volume) error {
		path := store.ArchivePath(period.Start, period.LastDay())
		if !v.Exists(path) {
			return nil
		}
		if err := v.ReadJSON(path, &summary); err != nil {
			return err
		}
		foundArchive = true
		return nil
	})
	if err != nil {
		l.log.WithComponent("ledger").WithError(err).Warn("archive read failed, falling back to daily records")
	}
	if foundArchive {
		return models.PeriodTotals{
			TotalEUR:   summary.TotalEUR,
			OffPeakKwh: summary.OffPeakKwh,
			PeakKwh:    summary.PeakKwh,
		}, period, true
	}

	totals, days, err := l.sumRange(period.Start, period.End)
	if err != nil {
		l.log.WithComponent("ledger").WithError(err).Warn("period fallback sum failed")
		return models.PeriodTotals{}, period, false
	}
	return totals, period, days > 0
}
