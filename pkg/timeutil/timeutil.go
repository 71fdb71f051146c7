// chatguard/pkg/timeutil/timeutil.go

// Package timeutil parses the human time expressions used by rule files and
// settings documents: "<amount> <unit>" spans and begins/expires dates.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tick is one host scheduler tick.
const Tick = 50 * time.Millisecond

var units = map[string]time.Duration{
	"tick":    Tick,
	"ticks":   Tick,
	"ms":      time.Millisecond,
	"s":       time.Second,
	"sec":     time.Second,
	"secs":    time.Second,
	"second":  time.Second,
	"seconds": time.Second,
	"m":       time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"h":       time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"d":       24 * time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"w":       7 * 24 * time.Hour,
	"week":    7 * 24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
	"month":   30 * 24 * time.Hour,
	"months":  30 * 24 * time.Hour,
	"year":    365 * 24 * time.Hour,
	"years":   365 * 24 * time.Hour,
}

// ParseDuration reads "<amount> <unit>" ("5 seconds", "2 minutes") as well as
// the compact "5s" form. A bare "0" is a zero duration.
func ParseDuration(text string) (time.Duration, error) {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if text == "0" {
		return 0, nil
	}

	fields := strings.Fields(text)
	var amountText, unit string
	switch len(fields) {
	case 1:
		i := strings.IndexFunc(fields[0], func(r rune) bool { return (r < '0' || r > '9') && r != '.' })
		if i <= 0 {
			return 0, fmt.Errorf("invalid duration %q, expected <amount> <unit>", text)
		}
		amountText, unit = fields[0][:i], fields[0][i:]
	case 2:
		amountText, unit = fields[0], fields[1]
	default:
		return 0, fmt.Errorf("invalid duration %q, expected <amount> <unit>", text)
	}

	amount, err := strconv.ParseFloat(amountText, 64)
	if err != nil || amount < 0 {
		return 0, fmt.Errorf("invalid duration amount %q", amountText)
	}
	base, ok := units[unit]
	if !ok {
		return 0, fmt.Errorf("invalid duration unit %q", unit)
	}
	return time.Duration(amount * float64(base)), nil
}

// Seconds returns d in whole seconds, the granularity cooldowns compare at.
func Seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// ElapsedSeconds rounds now-since to the nearest second so scheduler jitter
// does not leave a cooldown one second short.
func ElapsedSeconds(now, since time.Time) int64 {
	if since.IsZero() {
		return 1<<62 - 1
	}
	return int64(now.Sub(since).Round(time.Second) / time.Second)
}

var dateLayouts = []string{
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
}

// ParseDate accepts the date layouts rule files use for begins/expires,
// interpreted in loc when the layout carries no zone.
func ParseDate(text string, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(text)
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected dd.MM.yyyy HH:mm", text)
}

// InWindow reports whether now falls in [begins, expires). Zero bounds are open.
func InWindow(now, begins, expires time.Time) bool {
	if !begins.IsZero() && now.Before(begins) {
		return false
	}
	if !expires.IsZero() && !now.Before(expires) {
		return false
	}
	return true
}
