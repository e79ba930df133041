// Package normalizer converts the metering provider's envelope into the
// ledger's canonical raw day document. Pure transformation, no I/O.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"wattson/models"
)

// ErrMalformedInput marks a provider body whose expected top-level data map
// is missing or unparsable.
var ErrMalformedInput = errors.New("malformed provider body")

// envelope is the provider-specific shape: a map of ISO-ish timestamp to
// string-encoded watt value.
type envelope struct {
	Data map[string]string `json:"data"`
}

// Normalize parses the provider envelope for one fetched day and emits the
// canonical interval-reading document, one sample per key, timestamps
// rewritten to "YYYY-MM-DD HH:MM:SS" and tagged with the fixed 30-minute
// interval length.
func Normalize(body []byte, usagePointID, start, end string) (*models.RawDayReading, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: missing data map", ErrMalformedInput)
	}

	timestamps := make([]string, 0, len(env.Data))
	for ts := range env.Data {
		timestamps = append(timestamps, ts)
	}
	sort.Strings(timestamps)

	samples := make([]models.IntervalSample, 0, len(timestamps))
	for _, ts := range timestamps {
		samples = append(samples, models.IntervalSample{
			Value:          env.Data[ts],
			Date:           strings.Replace(ts, "T", " ", 1),
			IntervalLength: models.IntervalLength30M,
		})
	}

	return &models.RawDayReading{
		UsagePointID: usagePointID,
		Start:        start,
		End:          end,
		ReadingType: models.ReadingType{
			Unit:            "W",
			MeasurementKind: "power",
			Aggregate:       "average",
		},
		IntervalReading: samples,
	}, nil
}
