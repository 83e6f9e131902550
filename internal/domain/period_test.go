package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodRange(t *testing.T) {
	// Saturday
	now := time.Date(2026, 10, 17, 15, 30, 0, 0, time.UTC)
	day := func(m time.Month, d int) time.Time { return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		p    Period
		want Range
	}{
		{Today, Range{day(10, 17), day(10, 18)}},
		{Tomorrow, Range{day(10, 18), day(10, 19)}},
		{ThisWeek, Range{day(10, 12), day(10, 19)}},
		{ThisMonth, Range{day(10, 1), day(11, 1)}},
	}
	for _, tt := range tests {
		got := tt.p.Range(now)
		assert.True(t, tt.want.From.Equal(got.From), "%s from = %v", tt.p, got.From)
		assert.True(t, tt.want.To.Equal(got.To), "%s to = %v", tt.p, got.To)
	}
}

func TestPeriodWeekStartsMonday(t *testing.T) {
	sunday := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	r := ThisWeek.Range(sunday)
	assert.Equal(t, time.Monday, r.From.Weekday())
	assert.True(t, r.Contains(sunday))

	monday := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday, ThisWeek.Range(monday).From)
}

func TestParsePeriod(t *testing.T) {
	assert.Equal(t, Today, ParsePeriod("today"))
	assert.Equal(t, ThisMonth, ParsePeriod(""))
	assert.Equal(t, ThisMonth, ParsePeriod("all"))
}

func TestParseTxType(t *testing.T) {
	assert.Equal(t, Income, ParseTxType("income"))
	assert.Equal(t, Income, ParseTxType("pemasukan"))
	assert.Equal(t, Expense, ParseTxType("expense"))
	assert.Equal(t, Expense, ParseTxType(""))
}

func TestSummaryNet(t *testing.T) {
	assert.Equal(t, int64(-5000), Summary{Income: 10000, Expense: 15000}.Net())
}
