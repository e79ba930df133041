package models

import "time"

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// RAW DAY ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// IntervalSample is one half-hour average-power sample inside a raw day
// document. Value is the string-encoded instantaneous wattage, exactly as
// the provider sends it.
type IntervalSample struct {
	Value          string `json:"value"`
	Date           string `json:"date"` // "YYYY-MM-DD HH:MM:SS"
	IntervalLength string `json:"interval_length"`
}

// ReadingType describes the unit and aggregation of a raw day document.
type ReadingType struct {
	Unit            string `json:"unit"`
	MeasurementKind string `json:"measurement_kind"`
	Aggregate       string `json:"aggregate"`
}

// RawDayReading is the canonical interval-reading document for one calendar
// day, written once after a successful fetch and immutable afterwards.
type RawDayReading struct {
	UsagePointID    string           `json:"usage_point_id"`
	Start           string           `json:"start"`
	End             string           `json:"end"`
	ReadingType     ReadingType      `json:"reading_type"`
	IntervalReading []IntervalSample `json:"interval_reading"`
}

// IntervalLength30M tags every normalized sample; the meter reports
// half-hourly averages only.
const IntervalLength30M = "PT30M"

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////// PROCESSED DAY ///////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// ProcessedDayRecord is the priced result for one calendar day, derived
// deterministically from a RawDayReading and the tariff in effect at
// processing time.
type ProcessedDayRecord struct {
	CostEUR              float64 `json:"cost_eur"`
	OffPeakKwh           float64 `json:"hc_kwh"`
	PeakKwh              float64 `json:"hp_kwh"`
	SubscriptionDailyEUR float64 `json:"subscription_daily_eur"`
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// TARIFF /////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// TariffParams holds the two-rate tariff in effect. Updated in place by the
// tariff feed; no historical versioning, a change applies to newly processed
// days only.
type TariffParams struct {
	OffPeakPrice        float64 `json:"hc_price"` // EUR/kWh
	PeakPrice           float64 `json:"hp_price"` // EUR/kWh
	MonthlySubscription float64 `json:"monthly_subscription_eur"`
	BillingStartDay     int     `json:"billing_start_day"` // 1..28
}

// DefaultTariff returns the built-in fallback tariff used until the first
// feed update arrives.
func DefaultTariff() TariffParams {
	return TariffParams{
		OffPeakPrice:        0.1382,
		PeakPrice:           0.1733,
		MonthlySubscription: 21.69,
		BillingStartDay:     24,
	}
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// PERIODS ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// BillingPeriod is a half-open day range [Start, End) anchored on the
// billing start day. Never persisted, only its boundaries are used to select
// processed-day records.
type BillingPeriod struct {
	Start Date
	End   Date
}

// Contains reports whether d falls inside the period.
func (p BillingPeriod) Contains(d Date) bool {
	return !d.Before(p.Start) && d.Before(p.End)
}

// LastDay returns the final (inclusive) day of the period.
func (p BillingPeriod) LastDay() Date {
	return p.End.AddDays(-1)
}

// PeriodTotals aggregates the processed days of one billing period.
type PeriodTotals struct {
	TotalEUR   float64 `json:"total_eur"`
	OffPeakKwh float64 `json:"hc_kwh"`
	PeakKwh    float64 `json:"hp_kwh"`
}

// Kwh is the combined off-peak plus peak energy.
func (t PeriodTotals) Kwh() float64 {
	return t.OffPeakKwh + t.PeakKwh
}

// ArchiveSummary is the immutable snapshot written when a period closes.
type ArchiveSummary struct {
	PeriodStart string  `json:"period_start"`
	PeriodEnd   string  `json:"period_end"`
	TotalEUR    float64 `json:"total_eur"`
	OffPeakKwh  float64 `json:"hc_kwh"`
	PeakKwh     float64 `json:"hp_kwh"`
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////// DIAGNOSTICS //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// FetchStatus is the advisory last-fetch record, overwritten after every
// fetch attempt. Last write wins; nothing in the ledger reads it back.
type FetchStatus struct {
	LastUpdate      time.Time `json:"last_update_ts"`
	LastHTTPCode    int       `json:"last_http_code"`
	LastError       string    `json:"last_error"`
	LastURL         string    `json:"last_url,omitempty"`
	LastMessage     string    `json:"last_msg,omitempty"`
	CurrentTotalEUR float64   `json:"current_total_eur"`
}
