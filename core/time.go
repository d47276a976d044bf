package core

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// WINDOW - Calendar bucket used to cap repeat events
// =============================================================================

type Window string

const (
	WindowNone  Window = ""
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

// ParseWindow accepts "", "none", "day", "week", "month" (case-insensitive).
func ParseWindow(s string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return WindowNone, nil
	case "day", "daily":
		return WindowDay, nil
	case "week", "weekly":
		return WindowWeek, nil
	case "month", "monthly":
		return WindowMonth, nil
	default:
		return WindowNone, fmt.Errorf("unknown window %q", s)
	}
}

// Start returns the beginning of the window containing t, in UTC.
// Weeks start on Monday. WindowNone returns the zero time (all history).
func (w Window) Start(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch w {
	case WindowDay:
		return day
	case WindowWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case WindowMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}

// End returns the exclusive end of the window containing t.
func (w Window) End(t time.Time) time.Time {
	start := w.Start(t)
	switch w {
	case WindowDay:
		return start.AddDate(0, 0, 1)
	case WindowWeek:
		return start.AddDate(0, 0, 7)
	case WindowMonth:
		return start.AddDate(0, 1, 0)
	default:
		return time.Time{}
	}
}

func (w Window) String() string {
	if w == WindowNone {
		return "none"
	}
	return string(w)
}

// Clock lets tests pin "now".
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }
