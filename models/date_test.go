package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateRoundTrip(t *testing.T) {
	d, err := ParseDate("2024-03-09")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2024, Month: time.March, Day: 9}, d)
	assert.Equal(t, "2024-03-09", d.String())

	_, err = ParseDate("09/03/2024")
	assert.Error(t, err)
}

func TestAddDaysNormalizes(t *testing.T) {
	assert.Equal(t, Date{Year: 2024, Month: time.March, Day: 1},
		Date{Year: 2024, Month: time.February, Day: 29}.AddDays(1))
	assert.Equal(t, Date{Year: 2024, Month: time.February, Day: 29},
		Date{Year: 2024, Month: time.March, Day: 1}.AddDays(-1))
	assert.Equal(t, Date{Year: 2025, Month: time.January, Day: 1},
		Date{Year: 2024, Month: time.December, Day: 31}.AddDays(1))
}

func TestDaysInMonth(t *testing.T) {
	assert.Equal(t, 29, Date{Year: 2024, Month: time.February, Day: 1}.DaysInMonth())
	assert.Equal(t, 28, Date{Year: 2023, Month: time.February, Day: 1}.DaysInMonth())
	assert.Equal(t, 31, Date{Year: 2024, Month: time.January, Day: 15}.DaysInMonth())
	assert.Equal(t, 30, Date{Year: 2024, Month: time.April, Day: 30}.DaysInMonth())
}

func TestBefore(t *testing.T) {
	a := Date{Year: 2024, Month: time.February, Day: 29}
	b := Date{Year: 2024, Month: time.March, Day: 1}
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.False(t, a.Before(a))
}
