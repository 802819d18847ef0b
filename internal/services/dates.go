package services

import (
	"strings"
	"time"
)

// isoDate is the storage format for context dates
const isoDate = "2006-01-02"

// accepted guest input layouts; "2/1/2006" also accepts zero-padded input
var dateLayouts = []string{isoDate, "2/1/2006", "2-1-2006"}

// parseDate reads an ISO or DD/MM/YYYY date as a calendar day in loc.
func parseDate(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// startOfDay returns midnight of now's calendar day in loc.
func startOfDay(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// displayDate renders a stored ISO date as DD/MM/YYYY; unparsable input is
// returned unchanged.
func displayDate(iso string) string {
	t, err := time.Parse(isoDate, iso)
	if err != nil {
		return iso
	}
	return t.Format("02/01/2006")
}
