package rules

import (
	"fmt"
	"time"
)

// Window is a minute-of-day interval [StartMinute, EndMinute). Asia wraps
// midnight, so membership must be tested with Window.Contains rather than a
// naive start<=m<end comparison.
type Window struct {
	StartMinute int
	EndMinute   int
	Wraps       bool // true when EndMinute "wraps" past midnight (Asia)
}

// ResolveSession returns the minute-of-day window for a configured session,
// per fixed table. Timezone conversion itself is the caller's
// responsibility (the fixed sessions are all quoted in ET); this function
// only resolves the HH:MM bounds.
func ResolveSession(t TimeSpec) Window {
	switch t.Session {
	case SessionNY:
		return Window{StartMinute: hm(9, 30), EndMinute: hm(16, 0)}
	case SessionLondon:
		return Window{StartMinute: hm(3, 0), EndMinute: hm(12, 0)}
	case SessionAsia:
		// [20:00, 24:00) ∪ [00:00, 04:00) — spans midnight.
		return Window{StartMinute: hm(20, 0), EndMinute: hm(4, 0), Wraps: true}
	case SessionAll:
		return Window{StartMinute: 0, EndMinute: hm(24, 0)}
	case SessionCustom:
		start := parseHHMM(t.CustomStart)
		end := parseHHMM(t.CustomEnd)
		return Window{StartMinute: start, EndMinute: end, Wraps: end <= start}
	default:
		return Window{StartMinute: 0, EndMinute: hm(24, 0)}
	}
}

// Contains reports whether the minute-of-day m lies within the window, using
// the `currentMinutes >= openMinutes && currentMinutes < closeMinutes`
// technique, generalized to handle the Asia-session wraparound explicitly.
func (w Window) Contains(m int) bool {
	if !w.Wraps {
		return m >= w.StartMinute && m < w.EndMinute
	}
	return m >= w.StartMinute || m < w.EndMinute
}

// IsTimeValid reports whether now's minute-of-day lies within the session
// window resolved from t. now is assumed already converted to the relevant
// timezone by the caller.
func IsTimeValid(t TimeSpec, now time.Time) bool {
	w := ResolveSession(t)
	m := now.Hour()*60 + now.Minute()
	return w.Contains(m)
}

func hm(h, m int) int { return h*60 + m }

// OpeningRangeWindow resolves the narrower [sessionStart, sessionStart+periodMinutes)
// window an opening_range_breakout pattern accumulates its high/low over,
// wrap-aware the same way ResolveSession itself is.
func OpeningRangeWindow(t TimeSpec, periodMinutes int) Window {
	session := ResolveSession(t)
	end := session.StartMinute + periodMinutes
	return Window{StartMinute: session.StartMinute, EndMinute: end % (24 * 60), Wraps: end >= 24*60}
}

// FormatHHMM renders a minute-of-day value as "HH:MM", wrapping into
// [0, 24h) first so an opening-range window that crosses midnight still
// produces a stable cache key.
func FormatHHMM(minute int) string {
	minute = ((minute % (24 * 60)) + 24*60) % (24 * 60)
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// parseHHMM parses a validated "HH:MM" string. Callers must have already run
// Validate, which guarantees this format; malformed input here returns 0
// rather than panicking, since compilation must never
// throw on a validated record.
func parseHHMM(s string) int {
	if len(s) != 5 || s[2] != ':' {
		return 0
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	return h*60 + m
}
