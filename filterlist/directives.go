package filterlist

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reExpires = regexp.MustCompile(`(?i)(?:expires:|expires after)\s*(\d+)\s*(hour|h)?`)

	reLastModified = regexp.MustCompile(
		`(?i)!\s*(?:Last modified|Updated):\s*(\d{1,2})\s*` +
			`(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s*` +
			`(\d{2,4})\s*(?:(\d{1,2}):(\d{2}))?`,
	)
)

// months maps lowercased month abbreviations to months.
var months = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

// maxUpdatePeriod is the longest update period.  Longer periods from the
// lists are reduced to it.
const maxUpdatePeriod = time.Duration(math.MaxInt64)

// parseExpires parses an "Expires: <n> [hours]" directive.  Without the unit
// the number is in days.
func parseExpires(line string) (period time.Duration, ok bool) {
	m := reExpires.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}

	unit := time.Hour
	if m[2] == "" {
		unit = 24 * time.Hour
	}

	if n > int64(maxUpdatePeriod/unit) {
		return maxUpdatePeriod, true
	}

	return time.Duration(n) * unit, true
}

// parseLastModified parses a "Last modified: DD Mon YYYY [HH:MM]" directive.
// The time is in UTC, two-digit years are in the 21st century.
func parseLastModified(line string) (t time.Time, ok bool) {
	m := reLastModified.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}

	day, _ := strconv.Atoi(m[1])
	month := months[strings.ToLower(m[2])]

	year, _ := strconv.Atoi(m[3])
	if year < 100 {
		year += 2000
	}

	var hour, minute int
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
	}

	if day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC), true
}
