package domain

import "time"

type Period string

const (
	Today     Period = "today"
	Tomorrow  Period = "tomorrow"
	ThisWeek  Period = "this_week"
	ThisMonth Period = "this_month"
)

// ParsePeriod returns the named period, or ThisMonth for anything unknown.
func ParsePeriod(s string) Period {
	switch p := Period(s); p {
	case Today, Tomorrow, ThisWeek, ThisMonth:
		return p
	}
	return ThisMonth
}

// Range is the half-open interval [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Range resolves the period around now in now's location. Weeks start on
// Monday.
func (p Period) Range(now time.Time) Range {
	y, m, d := now.Date()
	loc := now.Location()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	switch p {
	case Today:
		return Range{From: day, To: day.AddDate(0, 0, 1)}
	case Tomorrow:
		return Range{From: day.AddDate(0, 0, 1), To: day.AddDate(0, 0, 2)}
	case ThisWeek:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return Range{From: start, To: start.AddDate(0, 0, 7)}
	default:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return Range{From: start, To: start.AddDate(0, 1, 0)}
	}
}
