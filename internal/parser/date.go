package parser

import (
	"strings"
	"time"
)

// timestampLayouts are tried in order by ParseTimestamp. Day-first numeric
// dates are left out; 03/04/2025 is read month-first.
var timestampLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	time.RFC1123,
	time.RFC1123Z,
	time.RFC822,
	time.RFC822Z,
	time.RFC850,
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 02 Jan 2006 15:04 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01-02-2006",
	"January 2, 2006",
	"January 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Mon, 02 Jan 2006",
	"Monday, January 2, 2006",
	"02-Jan-2006",
	"Mon Jan 2 15:04:05 2006",
}

var timestampPrefixes = []string{"published:", "published", "updated:", "updated", "posted:", "posted on", "posted"}

// ParseTimestamp makes a best-effort attempt to read a date written in any of
// the common feed and page formats. It reports false when nothing matched.
func ParseTimestamp(s string) (time.Time, bool) {
	s = CollapseSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	lower := strings.ToLower(s)
	for _, p := range timestampPrefixes {
		if strings.HasPrefix(lower, p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
