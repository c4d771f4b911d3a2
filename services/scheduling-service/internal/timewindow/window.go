// Package timewindow holds the half-open interval arithmetic shared by the
// availability, conflict and waitlist packages.
package timewindow

import (
	"fmt"
	"iter"
	"time"
)

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func New(start, end time.Time) Window {
	return Window{Start: start, End: end}
}

func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports whether a and b share any instant. Windows that only touch
// (a.End == b.Start) do not overlap.
func Overlaps(a, b Window) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func Contains(w Window, t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ContainsWindow reports whether inner lies entirely inside outer.
func ContainsWindow(outer, inner Window) bool {
	return !inner.Start.Before(outer.Start) && !inner.End.After(outer.End)
}

// Grow extends w by before and after on each side.
func (w Window) Grow(before, after time.Duration) Window {
	return Window{Start: w.Start.Add(-before), End: w.End.Add(after)}
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Ticks yields consecutive step-wide windows from start to end on day, in
// day's location. A trailing remainder shorter than step is not emitted.
// The sequence can be ranged over any number of times.
func Ticks(day time.Time, start, end Clock, stepMinutes int) iter.Seq[Window] {
	return func(yield func(Window) bool) {
		if stepMinutes <= 0 {
			return
		}
		step := time.Duration(stepMinutes) * time.Minute
		from, to := start.On(day), end.On(day)
		for t := from; !t.Add(step).After(to); t = t.Add(step) {
			if !yield(Window{Start: t, End: t.Add(step)}) {
				return
			}
		}
	}
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Day returns the calendar day containing t as a window.
func Day(t time.Time) Window {
	start := StartOfDay(t)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// DayOfWeek numbers weekdays from Monday=0 to Sunday=6.
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
