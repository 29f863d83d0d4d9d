package auth

import (
	"net/netip"
	"strings"
	"time"
)

// IPAllowed reports whether clientIP matches the allowlist. Entries are
// exact addresses or CIDR blocks. An unparseable client address or
// entry never matches, and an empty allowlist matches nothing.
func IPAllowed(clientIP string, allowed []string) bool {
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false
	}

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				continue
			}
			if prefix.Contains(addr) {
				return true
			}
			continue
		}

		entryAddr, err := netip.ParseAddr(entry)
		if err != nil {
			continue
		}
		if entryAddr == addr {
			return true
		}
	}

	return false
}

// WithinTimeWindow reports whether t falls inside the [start, end]
// window on the 24h clock, minute precision. start == end means no
// restriction. start > end wraps midnight: the window covers
// [start, 24:00) plus [00:00, end].
func WithinTimeWindow(t time.Time, start, end string) bool {
	startMin, okStart := parseClock(start)
	endMin, okEnd := parseClock(end)
	if !okStart || !okEnd {
		// Malformed window, treat as unrestricted.
		return true
	}

	if startMin == endMin {
		return true
	}

	cur := t.Hour()*60 + t.Minute()

	if startMin < endMin {
		return cur >= startMin && cur <= endMin
	}
	return cur >= startMin || cur <= endMin
}

// parseClock parses "HH:MM" into minutes since midnight
func parseClock(s string) (int, bool) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return parsed.Hour()*60 + parsed.Minute(), true
}
