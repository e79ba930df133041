package ledger

import (
	"time"

	"wattson/models"
)

// PeriodStart computes the first day of the billing period containing now,
// shifted by offset whole periods. When today's day-of-month is before the
// billing start day the period began in the previous calendar month; the
// resulting day-of-month is always the billing start day. Month and year
// rollover follow plain calendar arithmetic (billing start day is capped at
// 28, so normalisation never skips a month).
func PeriodStart(now time.Time, billingStartDay, offset int) models.Date {
	year, month, day := now.Date()
	if day < billingStartDay {
		month--
	}
	t := time.Date(year, month+time.Month(offset), billingStartDay, 12, 0, 0, 0, time.UTC)
	return models.DateOf(t)
}

// Period returns the half-open day range [start, start+1 month) for the
// period at the given offset from the one containing now.
func Period(now time.Time, billingStartDay, offset int) models.BillingPeriod {
	start := PeriodStart(now, billingStartDay, offset)
	end := PeriodStart(now, billingStartDay, offset+1)
	return models.BillingPeriod{Start: start, End: end}
}
