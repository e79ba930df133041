// Package processor turns a canonical raw day into a priced daily record.
package processor

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"wattson/internal/metrics"
	"wattson/internal/store"
	"wattson/logger"
	"wattson/models"
)

var (
	// ErrNoRawData marks a day whose raw document has not been fetched yet.
	ErrNoRawData = errors.New("no raw data for day")

	// ErrAlreadyProcessed marks a day whose priced record already exists.
	// Callers treat it as a no-op success, the at-most-once contract.
	ErrAlreadyProcessed = errors.New("day already processed")
)

type Processor struct {
	store        *store.Store
	guardTimeout time.Duration

	// Off-peak windows: [0, offPeakEndHour) and [offPeakResumeHour, 24).
	// The comparison is a strict test on the hour component only.
	offPeakEndHour    int
	offPeakResumeHour int

	log *logger.Log
}

func New(st *store.Store, guardTimeout time.Duration, offPeakEndHour, offPeakResumeHour int) *Processor {
	return &Processor{
		store:             st,
		guardTimeout:      guardTimeout,
		offPeakEndHour:    offPeakEndHour,
		offPeakResumeHour: offPeakResumeHour,
		log:               logger.GetLogger(),
	}
}

// ProcessDay prices one calendar day from its raw document and persists the
// result keyed by date. The existence check, the raw read and the record
// write all happen under one store guard, so two concurrent attempts for
// the same date cannot both write.
//
// Reprocessing with identical raw data and tariff is byte-stable; without
// force, an existing record short-circuits with ErrAlreadyProcessed.
func (p *Processor) ProcessDay(day models.Date, tariff models.TariffParams, force bool) (models.ProcessedDayRecord, error) {
	var record models.ProcessedDayRecord

	err := p.store.With(p.guardTimeout, func(v *store.Volume) error {
		if !force && v.Exists(store.ProcessedDayPath(day)) {
			return ErrAlreadyProcessed
		}
		if !v.Exists(store.RawDayPath(day)) {
			return ErrNoRawData
		}

		var raw models.RawDayReading
		if err := v.ReadJSON(store.RawDayPath(day), &raw); err != nil {
			return fmt.Errorf("load raw day %s: %w", day, err)
		}

		record = p.price(day, raw, tariff)
		return v.WriteJSON(store.ProcessedDayPath(day), record)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			metrics.DaysSkipped.Inc()
		}
		return models.ProcessedDayRecord{}, err
	}

	metrics.DaysProcessed.Inc()
	p.log.WithComponent("processor").WithFields(logger.Fields{
		"day":      day.String(),
		"cost_eur": record.CostEUR,
		"hc_kwh":   record.OffPeakKwh,
		"hp_kwh":   record.PeakKwh,
	}).Info("day processed")
	return record, nil
}

func (p *Processor) price(day models.Date, raw models.RawDayReading, tariff models.TariffParams) models.ProcessedDayRecord {
	var hcKwh, hpKwh float64
	for _, sample := range raw.IntervalReading {
		watts, err := strconv.ParseFloat(sample.Value, 64)
		if err != nil {
			watts = 0
		}
		// Half-hour average power to energy.
		kwh := watts * 0.5 / 1000.0
		if p.isOffPeak(sampleHour(sample.Date)) {
			hcKwh += kwh
		} else {
			hpKwh += kwh
		}
	}

	dailyShare := tariff.MonthlySubscription / float64(day.DaysInMonth())
	return models.ProcessedDayRecord{
		CostEUR:              hcKwh*tariff.OffPeakPrice + hpKwh*tariff.PeakPrice + dailyShare,
		OffPeakKwh:           hcKwh,
		PeakKwh:              hpKwh,
		SubscriptionDailyEUR: dailyShare,
	}
}

func (p *Processor) isOffPeak(hour int) bool {
	return hour < p.offPeakEndHour || hour >= p.offPeakResumeHour
}

// sampleHour extracts the hour component of "YYYY-MM-DD HH:MM:SS".
// Malformed timestamps count as hour 0.
func sampleHour(date string) int {
	if len(date) < 13 {
		return 0
	}
	hour, err := strconv.Atoi(date[11:13])
	if err != nil || hour < 0 || hour > 23 {
		return 0
	}
	return hour
}
