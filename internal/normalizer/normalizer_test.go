package normalizer

import (
	"errors"
	"testing"

	"wattson/models"
)

func TestNormalize(t *testing.T) {
	body := []byte(`{
		"data": {
			"2024-03-09T00:30:00": "523",
			"2024-03-09T00:00:00": "480",
			"2024-03-09T08:00:00": "1210"
		}
	}`)

	doc, err := Normalize(body, "12345678901234", "2024-03-09", "2024-03-10")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if doc.UsagePointID != "12345678901234" {
		t.Errorf("usage point = %q", doc.UsagePointID)
	}
	if doc.Start != "2024-03-09" || doc.End != "2024-03-10" {
		t.Errorf("range = %q..%q", doc.Start, doc.End)
	}
	if doc.ReadingType.Unit != "W" || doc.ReadingType.Aggregate != "average" {
		t.Errorf("reading type = %+v", doc.ReadingType)
	}
	if len(doc.IntervalReading) != 3 {
		t.Fatalf("samples = %d, want 3", len(doc.IntervalReading))
	}

	// Samples ordered by timestamp, "T" replaced, interval tagged.
	first := doc.IntervalReading[0]
	if first.Date != "2024-03-09 00:00:00" {
		t.Errorf("first sample date = %q", first.Date)
	}
	if first.Value != "480" {
		t.Errorf("first sample value = %q", first.Value)
	}
	for _, s := range doc.IntervalReading {
		if s.IntervalLength != models.IntervalLength30M {
			t.Errorf("interval length = %q, want %q", s.IntervalLength, models.IntervalLength30M)
		}
	}
}

func TestNormalizeMalformed(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"missing data map", `{"meta": {}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Normalize([]byte(tc.body), "pt", "a", "b"); !errors.Is(err, ErrMalformedInput) {
				t.Fatalf("err = %v, want ErrMalformedInput", err)
			}
		})
	}
}

func TestNormalizeEmptyDataMap(t *testing.T) {
	doc, err := Normalize([]byte(`{"data": {}}`), "pt", "a", "b")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(doc.IntervalReading) != 0 {
		t.Fatalf("samples = %d, want 0", len(doc.IntervalReading))
	}
}
