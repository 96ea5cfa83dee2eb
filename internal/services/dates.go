package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Date resolution confidence levels: a matched strategy is trusted, the
// current-date fallback is not.
const (
	DateConfidenceMatched  = 0.9
	DateConfidenceFallback = 0.5
)

// Plausibility bounds for extracted invoice years. Anything outside is a
// mis-read (OCR noise, phone numbers, order IDs) and is rejected.
const (
	minPlausibleYear = 1990
	maxPlausibleYear = 2030
)

var (
	dmySlashRe = regexp.MustCompile(`\b(\d{1,2})[/\-](\d{1,2})[/\-](\d{4})\b`)
	ymdRe      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	dMonYRe    = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?\s+(\d{4})\b`)
)

var monthsByAbbr = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// dateStrategy attempts one parse of the candidate text. Returns the zero
// time when the strategy does not apply.
type dateStrategy func(string) time.Time

var dateStrategies = []dateStrategy{
	parseNative,
	parseDayFirst,
	parseYearFirst,
	parseMonthName,
}

// ResolveDate resolves a free-text date candidate from model output. Attempts
// each strategy in order (native formats, day-first DD/MM/YYYY per Irish
// convention, ISO YYYY-MM-DD, "DD Mon YYYY") and rejects implausible years.
// Falls back to now with low confidence; never fails.
func ResolveDate(candidate string, now time.Time) (time.Time, float64) {
	candidate = strings.TrimSpace(candidate)
	if candidate != "" {
		for _, strategy := range dateStrategies {
			if t := strategy(candidate); !t.IsZero() && plausibleYear(t) {
				return t, DateConfidenceMatched
			}
		}
	}
	return now, DateConfidenceFallback
}

func plausibleYear(t time.Time) bool {
	return t.Year() >= minPlausibleYear && t.Year() <= maxPlausibleYear
}

func parseNative(s string) time.Time {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
		"2006/01/02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseDayFirst handles DD/MM/YYYY and DD-MM-YYYY. Day-first is the Irish
// convention; "15/01/2025" is the 15th of January, never the 1st of month 15.
func parseDayFirst(s string) time.Time {
	m := dmySlashRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	return makeDate(year, month, day)
}

func parseYearFirst(s string) time.Time {
	m := ymdRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	return makeDate(year, month, day)
}

func parseMonthName(s string) time.Time {
	m := dMonYRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}
	}
	day, _ := strconv.Atoi(m[1])
	month, ok := monthsByAbbr[strings.ToLower(m[2])]
	if !ok {
		return time.Time{}
	}
	year, _ := strconv.Atoi(m[3])
	return makeDate(year, int(month), day)
}

func makeDate(year, month, day int) time.Time {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// Reject normalized overflow like 31/02.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}
	}
	return t
}
