// Package diagnostics persists the advisory last-fetch record and renders
// the plain-text support report. Purely observational: nothing in the
// pipeline depends on what is written here.
package diagnostics

import (
	"fmt"
	"strings"
	"time"

	"wattson/internal/store"
	"wattson/logger"
	"wattson/models"
)

type Recorder struct {
	store   *store.Store
	timeout time.Duration
	log     *logger.Log
}

func NewRecorder(st *store.Store, guardTimeout time.Duration) *Recorder {
	return &Recorder{
		store:   st,
		timeout: guardTimeout,
		log:     logger.GetLogger(),
	}
}

// RecordFetch overwrites the debug snapshot with the latest fetch status.
// Best effort: a failed write is logged and dropped, last write wins.
func (r *Recorder) RecordFetch(status models.FetchStatus) {
	err := r.store.With(r.timeout, func(v *store.Volume) error {
		return v.WriteJSON(store.DebugPath(), status)
	})
	if err != nil {
		r.log.WithComponent("diagnostics").WithError(err).Warn("failed to persist fetch status")
	}
}

// RecordProcessed augments the snapshot with the freshly rebuilt totals,
// keeping the rest of the record intact.
func (r *Recorder) RecordProcessed(totals models.PeriodTotals) {
	err := r.store.With(r.timeout, func(v *store.Volume) error {
		var status models.FetchStatus
		if v.Exists(store.DebugPath()) {
			if err := v.ReadJSON(store.DebugPath(), &status); err != nil {
				// Corrupt snapshot: start over rather than fail.
				status = models.FetchStatus{}
			}
		}
		status.CurrentTotalEUR = totals.TotalEUR
		return v.WriteJSON(store.DebugPath(), status)
	})
	if err != nil {
		r.log.WithComponent("diagnostics").WithError(err).Warn("failed to persist processed totals")
	}
}

// Load returns the last persisted snapshot, zero-valued when none exists.
func (r *Recorder) Load() (models.FetchStatus, error) {
	var status models.FetchStatus
	err := r.store.With(r.timeout, func(v *store.Volume) error {
		if !v.Exists(store.DebugPath()) {
			return nil
		}
		return v.ReadJSON(store.DebugPath(), &status)
	})
	return status, err
}

// Report renders the support view: fetch health, tariff in effect and
// yesterday's cost when available. Missing data is reported as such, never
// substituted.
func (r *Recorder) Report(tariff models.TariffParams, now time.Time) string {
	var b strings.Builder
	b.WriteString("--- METERING API ---\n\n")

	status, err := r.Load()
	if err != nil {
		fmt.Fprintf(&b, "Debug snapshot unavailable: %v\n", err)
		return b.String()
	}

	if !status.LastUpdate.IsZero() {
		fmt.Fprintf(&b, "Last update: %s\n", status.LastUpdate.Format("02/01/2006 15:04:05"))
	} else {
		b.WriteString("Last update: never\n")
	}
	fmt.Fprintf(&b, "API status: %s\n", orNA(status.LastError))
	fmt.Fprintf(&b, "Last HTTP code: %d\n", status.LastHTTPCode)
	if status.LastURL != "" {
		fmt.Fprintf(&b, "Last URL: %s\n", status.LastURL)
	}
	if status.LastMessage != "" {
		fmt.Fprintf(&b, "Cause: %s\n", status.LastMessage)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Prices: HC=%.4f HP=%.4f\n", tariff.OffPeakPrice, tariff.PeakPrice)
	fmt.Fprintf(&b, "Subscription: %.2f EUR | Billing day: %d\n\n", tariff.MonthlySubscription, tariff.BillingStartDay)

	yesterday := models.DateOf(now).AddDays(-1)
	if cost, ok := r.yesterdayCost(yesterday); ok {
		fmt.Fprintf(&b, "Cost yesterday (%02d/%02d/%04d): %.2f EUR\n", yesterday.Day, int(yesterday.Month), yesterday.Year, cost)
	} else {
		b.WriteString("Cost yesterday: unavailable\n")
	}

	return b.String()
}

func (r *Recorder) yesterdayCost(day models.Date) (float64, bool) {
	var rec models.ProcessedDayRecord
	found := false
	err := r.store.With(r.timeout, func(v *store.Volume) error {
		if !v.Exists(store.ProcessedDayPath(day)) {
			return nil
		}
		if err := v.ReadJSON(store.ProcessedDayPath(day), &rec); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		r.log.WithComponent("diagnostics").WithError(err).Warn("failed to read yesterday's record")
		return 0, false
	}
	return rec.CostEUR, found
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
