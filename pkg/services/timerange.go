package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/ekaya-inc/prompt-forge/pkg/models"
)

// Relative expressions handled by the time-range extractor, checked in
// order. Longer phrases come first so "last week" wins over "week".
var relativePatterns = []struct {
	phrase      string
	granularity models.Granularity
	resolve     func(now time.Time) (time.Time, time.Time)
}{
	{"last quarter", models.GranularityQuarter, lastQuarter},
	{"this quarter", models.GranularityQuarter, thisQuarter},
	{"last month", models.GranularityMonth, func(now time.Time) (time.Time, time.Time) {
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
		return start, start.AddDate(0, 1, 0)
	}},
	{"this month", models.GranularityMonth, func(now time.Time) (time.Time, time.Time) {
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0)
	}},
	{"last week", models.GranularityWeek, func(now time.Time) (time.Time, time.Time) {
		start := startOfWeek(now).AddDate(0, 0, -7)
		return start, start.AddDate(0, 0, 7)
	}},
	{"this week", models.GranularityWeek, func(now time.Time) (time.Time, time.Time) {
		start := startOfWeek(now)
		return start, start.AddDate(0, 0, 7)
	}},
	{"last year", models.GranularityYear, func(now time.Time) (time.Time, time.Time) {
		start := time.Date(now.Year()-1, 1, 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(1, 0, 0)
	}},
	{"this year", models.GranularityYear, func(now time.Time) (time.Time, time.Time) {
		start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(1, 0, 0)
	}},
	{"yesterday", models.GranularityDay, func(now time.Time) (time.Time, time.Time) {
		start := startOfDay(now).AddDate(0, 0, -1)
		return start, start.AddDate(0, 0, 1)
	}},
	{"today", models.GranularityDay, func(now time.Time) (time.Time, time.Time) {
		start := startOfDay(now)
		return start, start.AddDate(0, 0, 1)
	}},
	{"last hour", models.GranularityHour, func(now time.Time) (time.Time, time.Time) {
		end := now.Truncate(time.Hour)
		return end.Add(-time.Hour), end
	}},
}

// lastNPattern matches "last 30 days", "past 6 months" and similar.
var lastNPattern = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+(hour|day|week|month|quarter|year)s?\b`)

// isoDatePattern matches absolute dates the extractor hands to dateparse.
var isoDatePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)

// ExtractTimeRange parses the question's time expression into a normalized
// range. Returns (nil, false) when the question carries no time expression.
// now anchors relative phrases so extraction stays deterministic in tests.
func ExtractTimeRange(question string, now time.Time) (*models.TimeRange, bool) {
	lower := strings.ToLower(question)

	// Absolute ISO dates take precedence: one date means that day, two or
	// more mean the span between the earliest and latest.
	if dates := isoDatePattern.FindAllString(question, -1); len(dates) > 0 {
		parsed := make([]time.Time, 0, len(dates))
		for _, d := range dates {
			t, err := dateparse.ParseIn(d, now.Location())
			if err != nil {
				continue
			}
			parsed = append(parsed, t)
		}
		if len(parsed) > 0 {
			start, end := parsed[0], parsed[0]
			for _, t := range parsed[1:] {
				if t.Before(start) {
					start = t
				}
				if t.After(end) {
					end = t
				}
			}
			return &models.TimeRange{
				Start:       startOfDay(start),
				End:         startOfDay(end).AddDate(0, 0, 1),
				Granularity: models.GranularityDay,
			}, true
		}
	}

	if m := lastNPattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			gran, start, end := resolveLastN(now, n, m[2])
			return &models.TimeRange{
				Start:       start,
				End:         end,
				Relative:    strings.ToLower(m[0]),
				Granularity: gran,
			}, true
		}
	}

	for _, p := range relativePatterns {
		if strings.Contains(lower, p.phrase) {
			start, end := p.resolve(now)
			return &models.TimeRange{
				Start:       start,
				End:         end,
				Relative:    p.phrase,
				Granularity: p.granularity,
			}, true
		}
	}

	return nil, false
}

func resolveLastN(now time.Time, n int, unit string) (models.Granularity, time.Time, time.Time) {
	end := startOfDay(now).AddDate(0, 0, 1)
	switch unit {
	case "hour":
		e := now.Truncate(time.Hour)
		return models.GranularityHour, e.Add(-time.Duration(n) * time.Hour), e
	case "day":
		return models.GranularityDay, end.AddDate(0, 0, -n), end
	case "week":
		return models.GranularityWeek, end.AddDate(0, 0, -7*n), end
	case "month":
		return models.GranularityMonth, end.AddDate(0, -n, 0), end
	case "quarter":
		return models.GranularityQuarter, end.AddDate(0, -3*n, 0), end
	case "year":
		return models.GranularityYear, end.AddDate(-n, 0, 0), end
	}
	return models.GranularityDay, end.AddDate(0, 0, -n), end
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the preceding Monday at midnight.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func lastQuarter(now time.Time) (time.Time, time.Time) {
	start := startOfQuarter(now).AddDate(0, -3, 0)
	return start, start.AddDate(0, 3, 0)
}

func thisQuarter(now time.Time) (time.Time, time.Time) {
	start := startOfQuarter(now)
	return start, start.AddDate(0, 3, 0)
}

func startOfQuarter(t time.Time) time.Time {
	quarterMonth := time.Month(((int(t.Month())-1)/3)*3 + 1)
	return time.Date(t.Year(), quarterMonth, 1, 0, 0, 0, 0, t.Location())
}
