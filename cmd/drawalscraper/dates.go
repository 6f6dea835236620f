package main

import (
	"fmt"
	"time"

	"github.com/jgoulah/drawalscraper/pkg/models"
)

// parseDate parses a date string in either YYYY-MM-DD format or relative format (e.g., "7d")
func parseDate(dateStr string) (time.Time, error) {
	return parseDateFrom(dateStr, time.Now())
}

func parseDateFrom(dateStr string, now time.Time) (time.Time, error) {
	// Try absolute date format first
	t, err := time.Parse(time.DateOnly, dateStr)
	if err == nil {
		return t, nil
	}

	// Try relative format (e.g., "7d" for 7 days ago)
	if len(dateStr) > 1 && dateStr[len(dateStr)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(dateStr[:len(dateStr)-1], "%d", &days); err == nil && days >= 0 {
			return models.Day(now.AddDate(0, 0, -days)), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date format: %s (use YYYY-MM-DD or Nd for N days ago)", dateStr)
}

// dateRange resolves --from/--to flags, falling back to the given defaults
func dateRange(fromFlag, toFlag string, defFrom, defTo time.Time) (time.Time, time.Time, error) {
	from, to := defFrom, defTo
	var err error
	if fromFlag != "" {
		if from, err = parseDate(fromFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing --from date: %w", err)
		}
	}
	if toFlag != "" {
		if to, err = parseDate(toFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing --to date: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is after --to %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	return from, to, nil
}
