package access

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const day = 24 * time.Hour

var durationPattern = regexp.MustCompile(`^(\d+)([mhdwMy])$`)

// durationUnits maps a suffix to its length and English name. Months are
// 30 days and years 365 days.
var durationUnits = map[string]struct {
	length time.Duration
	name   string
}{
	"m": {time.Minute, "minute"},
	"h": {time.Hour, "hour"},
	"d": {day, "day"},
	"w": {7 * day, "week"},
	"M": {30 * day, "month"},
	"y": {365 * day, "year"},
}

// ParseDuration reads a subscription period such as 1m, 1d, 1M, 6M or 1y.
// The suffix is case sensitive: m is minutes, M is months.
func ParseDuration(s string) (time.Duration, error) {
	n, unit, err := splitDuration(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * durationUnits[unit].length, nil
}

// FormatDuration spells a period accepted by ParseDuration, e.g. "6 months".
func FormatDuration(s string) string {
	n, unit, err := splitDuration(s)
	if err != nil {
		return s
	}
	name := durationUnits[unit].name
	if n != 1 {
		name += "s"
	}
	return fmt.Sprintf("%d %s", n, name)
}

func splitDuration(s string) (int, string, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, "", fmt.Errorf("invalid period %q (use e.g. 1m, 1d, 1M, 6M, 1y)", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 || n > 100 {
		return 0, "", fmt.Errorf("invalid period %q: count must be between 1 and 100", s)
	}
	return n, m[2], nil
}
