package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Mode controls whether the cache may be read and written.
type Mode string

const (
	ModeOff       Mode = "off"
	ModeRead      Mode = "read"
	ModeWrite     Mode = "write"
	ModeReadWrite Mode = "read-write"
)

// ParseMode validates a configured cache mode. An empty string means read-write.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeReadWrite:
		return ModeReadWrite, nil
	case ModeRead:
		return ModeRead, nil
	case ModeWrite:
		return ModeWrite, nil
	case ModeOff:
		return ModeOff, nil
	default:
		return "", fmt.Errorf("invalid cache mode %q: must be 'off', 'read', 'write' or 'read-write'", s)
	}
}

// IsReadable reports whether cached results may be used.
func (m Mode) IsReadable() bool {
	return m == ModeRead || m == ModeReadWrite
}

// IsWritable reports whether results may be persisted.
func (m Mode) IsWritable() bool {
	return m == ModeWrite || m == ModeReadWrite
}

var lifetimeUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
}

// ParseLifetime parses human durations such as "7 days", "12h" or "30 mins".
// Go duration syntax is accepted too. An empty string yields zero.
func ParseLifetime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var total time.Duration
	fields := strings.Fields(s)
	for i := 0; i < len(fields); i++ {
		field := fields[i]
		split := strings.IndexFunc(field, func(r rune) bool { return !unicode.IsDigit(r) })

		var number, unit string
		switch {
		case split == -1 && i+1 < len(fields):
			number, unit = field, fields[i+1]
			i++
		case split > 0:
			number, unit = field[:split], field[split:]
		default:
			return 0, fmt.Errorf("invalid lifetime %q", s)
		}

		n, err := strconv.Atoi(number)
		if err != nil {
			return 0, fmt.Errorf("invalid lifetime %q: %w", s, err)
		}
		factor, ok := lifetimeUnits[strings.ToLower(unit)]
		if !ok {
			return 0, fmt.Errorf("invalid lifetime %q: unknown unit %q", s, unit)
		}
		total += time.Duration(n) * factor
	}
	return total, nil
}

// IsStale reports whether a result produced at t has outlived lifetime.
// A zero lifetime never expires; an unknown time is always fresh.
func IsStale(t time.Time, lifetime time.Duration, now time.Time) bool {
	if lifetime <= 0 || t.IsZero() {
		return false
	}
	return now.Sub(t) > lifetime
}
