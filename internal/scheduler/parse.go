package scheduler

import (
	"strings"
	"time"

	"pushd/internal/push"
)

// Layouts accepted by ParseTime, besides RFC3339 and bare "15:04".
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTime parses a schedule time. RFC3339 values keep their offset; the
// zone-less forms are read in the scheduler timezone, and "15:04" means today.
func (s *Service) ParseTime(raw string) (time.Time, error) {
	return parseTime(raw, s.location(), s.now())
}

func parseTime(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return time.Time{}, push.InvalidInput("time is required")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	if hm, err := time.Parse("15:04", v); err == nil {
		n := now.In(loc)
		return time.Date(n.Year(), n.Month(), n.Day(), hm.Hour(), hm.Minute(), 0, 0, loc), nil
	}
	return time.Time{}, push.InvalidInput("invalid time %q (use RFC3339, 2006-01-02 15:04 or 15:04)", raw)
}
