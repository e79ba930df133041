// Package metrics holds the Prometheus collectors shared across the
// pipeline. Everything is registered on a dedicated registry exposed by the
// dashboard, keeping the default registry free of collector collisions in
// tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wattson"

var registry = prometheus.NewRegistry()

var (
	FetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_attempts_total",
		Help:      "Metering API fetch attempts by outcome.",
	}, []string{"outcome"})

	FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Duration of metering API calls.",
		Buckets:   prometheus.DefBuckets,
	})

	DaysProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "days_processed_total",
		Help:      "Daily records priced and persisted.",
	})

	DaysSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "days_skipped_total",
		Help:      "Daily processing runs skipped because the record already existed.",
	})

	ArchiveWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_writes_total",
		Help:      "Period archive writes by outcome.",
	}, []string{"outcome"})

	TariffUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tariff_updates_total",
		Help:      "Tariff feed updates by outcome.",
	}, []string{"outcome"})

	StoreBusyTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_busy_timeouts_total",
		Help:      "Guard acquisitions abandoned after their timeout.",
	})

	StoreGuardWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_guard_wait_seconds",
		Help:      "Time spent waiting for the store guard.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5},
	})

	PeriodTotalEUR = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "period_total_eur",
		Help:      "Running cost of the current billing period.",
	})

	PeriodOffPeakKwh = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "period_hc_kwh",
		Help:      "Off-peak energy accumulated in the current billing period.",
	})

	PeriodPeakKwh = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "period_hp_kwh",
		Help:      "Peak energy accumulated in the current billing period.",
	})
)

func init() {
	registry.MustRegister(
		FetchAttempts,
		FetchDuration,
		DaysProcessed,
		DaysSkipped,
		ArchiveWrites,
		TariffUpdates,
		StoreBusyTimeouts,
		StoreGuardWait,
		PeriodTotalEUR,
		PeriodOffPeakKwh,
		PeriodPeakKwh,
	)
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
