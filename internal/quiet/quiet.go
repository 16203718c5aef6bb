// Package quiet decides whether a recipient is inside its do-not-disturb window.
//
// Windows are wall-clock HH:MM pairs in one of a few fixed-offset zones. A
// window whose start is later than its end wraps midnight.
package quiet

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fixed offsets in hours. Daylight saving is deliberately absent.
var zoneOffsets = map[string]int{
	"UTC": 0,
	"BRT": -3,
	"AMT": -4,
	"ACT": -5,
	"FNT": -2,
}

var zoneOrder = []string{"UTC", "BRT", "AMT", "ACT", "FNT"}

const DefaultZone = "UTC"

// Zones lists the supported zone names in display order.
func Zones() []string { return append([]string(nil), zoneOrder...) }

// KnownZone reports whether name is a supported zone (case-insensitive).
func KnownZone(name string) bool {
	_, ok := zoneOffsets[strings.ToUpper(strings.TrimSpace(name))]
	return ok
}

// NormalizeZone upper-cases name and maps unknown or empty names to UTC.
func NormalizeZone(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	if _, ok := zoneOffsets[n]; ok {
		return n
	}
	return DefaultZone
}

// Offset returns the zone's UTC offset in hours. Unknown zones are UTC.
func Offset(name string) int {
	return zoneOffsets[strings.ToUpper(strings.TrimSpace(name))]
}

// ZoneLabel renders "BRT (UTC-3)".
func ZoneLabel(name string) string {
	n := NormalizeZone(name)
	return fmt.Sprintf("%s (UTC%+d)", n, Offset(n))
}

// Clock is a wall-clock time of day with minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock accepts "H:MM" and "HH:MM".
func ParseClock(s string) (Clock, error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hs) == 0 || len(hs) > 2 || len(ms) != 2 {
		return Clock{}, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) seconds() int { return c.Hour*3600 + c.Minute*60 }

// Window is a recipient's do-not-disturb setting. Empty Start or End means none.
type Window struct {
	Start string
	End   string
	Zone  string
}

func (w Window) Configured() bool {
	return strings.TrimSpace(w.Start) != "" && strings.TrimSpace(w.End) != ""
}

// Active reports whether now falls inside the window.
func (w Window) Active(now time.Time) bool { return IsQuiet(w.Start, w.End, w.Zone, now) }

// Or returns w when configured, else fallback.
func (w Window) Or(fallback Window) Window {
	if w.Configured() {
		return w
	}
	return fallback
}

// IsQuiet evaluates a window against now. Missing or malformed bounds are never quiet.
// Both bounds are inclusive.
func IsQuiet(start, end, zone string, now time.Time) bool {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return false
	}
	s, err := ParseClock(start)
	if err != nil {
		return false
	}
	e, err := ParseClock(end)
	if err != nil {
		return false
	}

	local := now.UTC().Add(time.Duration(Offset(zone)) * time.Hour)
	cur := local.Hour()*3600 + local.Minute()*60 + local.Second()

	if s.seconds() > e.seconds() {
		return cur >= s.seconds() || cur <= e.seconds()
	}
	return cur >= s.seconds() && cur <= e.seconds()
}
