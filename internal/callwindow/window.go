package callwindow

import (
	"errors"
	"fmt"
	"time"
)

// Window is a campaign's recurring calling window: the weekday/time-of-day
// interval during which dialing is permitted, evaluated in the campaign's
// own timezone.
//
// Known limitation: windows that wrap midnight (e.g. 22:00-02:00) are not
// supported. Start must be strictly before End within one calendar day;
// Validate rejects anything else rather than guessing.
//
// All functions here are pure: no I/O, no stored state, deterministic for
// identical inputs, and safe to call from any goroutine without locking.
type Window struct {
	Timezone string         `json:"timezone"`
	Days     []time.Weekday `json:"days"`
	Start    TimeOfDay      `json:"start"`
	End      TimeOfDay      `json:"end"`
}

// TimeOfDay is a wall-clock time without a date, minute resolution.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

var (
	ErrNoEligibleWindow = errors.New("callwindow: no active days configured")
	ErrInvalidWindow    = errors.New("callwindow: invalid window")
)

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: bad time-of-day %q", ErrInvalidWindow, s)
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.valid() {
		return TimeOfDay{}, fmt.Errorf("%w: bad time-of-day %q", ErrInvalidWindow, s)
	}
	return t, nil
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

func (w Window) Validate() error {
	if !w.Start.valid() || !w.End.valid() {
		return fmt.Errorf("%w: time-of-day out of range", ErrInvalidWindow)
	}
	if w.Start.minutes() >= w.End.minutes() {
		return fmt.Errorf("%w: start %s must be before end %s on the same day", ErrInvalidWindow, w.Start, w.End)
	}
	if _, err := time.LoadLocation(w.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidWindow, w.Timezone)
	}
	return nil
}

// IsOpen reports whether now falls inside the window: the weekday (in the
// window's timezone) is active and the time-of-day is in [Start, End).
func (w Window) IsOpen(now time.Time) (bool, error) {
	if err := w.Validate(); err != nil {
		return false, err
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return false, fmt.Errorf("%w: unknown timezone %q", ErrInvalidWindow, w.Timezone)
	}
	local := now.In(loc)
	if !w.dayActive(local.Weekday()) {
		return false, nil
	}
	tod := local.Hour()*60 + local.Minute()
	return tod >= w.Start.minutes() && tod < w.End.minutes(), nil
}

// NextOpen returns the next instant at which the window opens, at or after
// now. If today is active and now is before today's Start, that is today's
// Start; otherwise it scans forward day by day, bounded to one week.
// Returns ErrNoEligibleWindow when no days are configured.
func (w Window) NextOpen(now time.Time) (time.Time, error) {
	if err := w.Validate(); err != nil {
		return time.Time{}, err
	}
	if len(w.Days) == 0 {
		return time.Time{}, ErrNoEligibleWindow
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unknown timezone %q", ErrInvalidWindow, w.Timezone)
	}
	local := now.In(loc)

	// Day 0 is today (start may still be ahead of now); the scan is bounded
	// to a full week so a single active weekday always resolves.
	for i := 0; i <= 7; i++ {
		day := local.AddDate(0, 0, i)
		if !w.dayActive(day.Weekday()) {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), w.Start.Hour, w.Start.Minute, 0, 0, loc)
		if open.After(now) {
			return open, nil
		}
	}
	// Unreachable with a non-empty day set.
	return time.Time{}, ErrNoEligibleWindow
}

func (w Window) dayActive(d time.Weekday) bool {
	for _, wd := range w.Days {
		if wd == d {
			return true
		}
	}
	return false
}
