package skills

import (
	"fmt"
	"time"

	"github.com/warp/skill-engine/core"
)

// =============================================================================
// REPEAT POLICY - Optional cap on events per (skill, user) per window
// =============================================================================

// RepeatPolicy caps how many events one user may record for one skill inside
// a calendar window. The zero value is unlimited: every submission is a new
// occurrence.
type RepeatPolicy struct {
	MaxPerWindow int // 0 = unlimited
	Window       core.Window
}

func Unlimited() RepeatPolicy { return RepeatPolicy{} }

// PerWindow builds a capped policy, e.g. PerWindow(1, core.WindowDay).
func PerWindow(n int, window core.Window) RepeatPolicy {
	return RepeatPolicy{MaxPerWindow: n, Window: window}
}

func (p RepeatPolicy) Limited() bool { return p.MaxPerWindow > 0 }

// Bounds returns the [from, to) range counted against the cap at now.
// With no window the whole history counts.
func (p RepeatPolicy) Bounds(now time.Time) (from, to time.Time) {
	return p.Window.Start(now), p.Window.End(now)
}

// Allows reports whether one more event fits given 'recorded' events
// already inside the window.
func (p RepeatPolicy) Allows(recorded int) bool {
	return !p.Limited() || recorded < p.MaxPerWindow
}

func (p RepeatPolicy) String() string {
	if !p.Limited() {
		return "unlimited"
	}
	if p.Window == core.WindowNone {
		return fmt.Sprintf("%d total", p.MaxPerWindow)
	}
	return fmt.Sprintf("%d per %s", p.MaxPerWindow, p.Window)
}
