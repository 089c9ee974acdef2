package sanitize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reISO       = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	reDMYSlash  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	reDMYDot    = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)
	reMonthYear = regexp.MustCompile(`^(\d{1,2})/(\d{4})$`)
	// "DD/MM/YYYY-DD/MM/YYYY" or with " - "; billing periods resolve to the
	// end date.
	reRange = regexp.MustCompile(`^(.+?)\s*-\s*(\d{1,2}[./]\d{1,2}[./]\d{4})$`)
)

// NormalizeDate maps the date formats invoices actually carry to ISO-8601
// (YYYY-MM-DD). Ranges resolve to their end date; month-year to the first
// of the month. Anything unrecognized returns empty rather than a guess.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if m := reRange.FindStringSubmatch(s); m != nil {
		if end := NormalizeDate(m[2]); end != "" {
			return end
		}
	}
	if m := reISO.FindStringSubmatch(s); m != nil {
		return isoDate(m[1], m[2], m[3])
	}
	if m := reDMYSlash.FindStringSubmatch(s); m != nil {
		return isoDate(m[3], m[2], m[1])
	}
	if m := reDMYDot.FindStringSubmatch(s); m != nil {
		return isoDate(m[3], m[2], m[1])
	}
	if m := reMonthYear.FindStringSubmatch(s); m != nil {
		return isoDate(m[2], m[1], "1")
	}
	return ""
}

// isoDate validates the components as a real calendar date and formats
// them; "31/02/2026" comes back empty, not normalized.
func isoDate(year, month, day string) string {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if y < 1900 || y > 2200 || m < 1 || m > 12 || d < 1 || d > 31 {
		return ""
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}
