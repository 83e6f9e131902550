package executor

import (
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var multipliers = []struct {
	suffix string
	factor float64
}{
	{"juta", 1e6},
	{"jt", 1e6},
	{"ribu", 1e3},
	{"rb", 1e3},
	{"k", 1e3},
}

// ParseAmount reads a rupiah amount from a model-supplied value. Accepted
// forms include 50000, "50.000", "50,000", "Rp 20.000", "15rb", "15k",
// "1.5jt" and "2 juta". The result is rounded to whole rupiah.
func ParseAmount(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(math.Round(x)), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case string:
		return parseAmountText(x)
	}
	return 0, false
}

func parseAmountText(s string) (int64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "rp.")
	s = strings.TrimPrefix(s, "rp")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, false
	}
	factor := 1.0
	for _, m := range multipliers {
		if strings.HasSuffix(s, m.suffix) {
			s = strings.TrimSuffix(s, m.suffix)
			factor = m.factor
			break
		}
	}
	f, ok := parseLocaleNumber(s)
	if !ok {
		return 0, false
	}
	return int64(math.Round(f * factor)), true
}

// parseLocaleNumber accepts either '.' or ',' as the thousands separator.
// When both appear the last one is the decimal mark; when only one kind
// appears it is a thousands separator only if every group after the first
// has exactly three digits.
func parseLocaleNumber(s string) (float64, bool) {
	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if dot > comma {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case dot >= 0:
		s = normalizeSeparator(s, ".")
	case comma >= 0:
		s = normalizeSeparator(s, ",")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func normalizeSeparator(s, sep string) string {
	parts := strings.Split(s, sep)
	grouped := len(parts) > 1 && parts[0] != ""
	for _, p := range parts[1:] {
		if len(p) != 3 {
			grouped = false
			break
		}
	}
	if grouped {
		return strings.Join(parts, "")
	}
	if len(parts) == 2 {
		return parts[0] + "." + parts[1]
	}
	return s
}

var rupiah = message.NewPrinter(language.Indonesian)

// FormatRupiah renders n as Rp50.000.
func FormatRupiah(n int64) string {
	if n < 0 {
		return "-Rp" + rupiah.Sprintf("%d", -n)
	}
	return "Rp" + rupiah.Sprintf("%d", n)
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// ParseTime reads a date or date-time in loc. Besides the fixed layouts it
// understands today/tomorrow/yesterday and their Indonesian forms, which
// resolve to midnight of that day.
func ParseTime(s string, now time.Time, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	now = now.In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	switch strings.ToLower(s) {
	case "now", "sekarang":
		return now, true
	case "today", "hari ini":
		return midnight, true
	case "tomorrow", "besok":
		return midnight.AddDate(0, 0, 1), true
	case "yesterday", "kemarin":
		return midnight.AddDate(0, 0, -1), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

const (
	dateLayout     = "02 Jan 2006"
	dateTimeLayout = "02 Jan 2006 15:04"
)

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
