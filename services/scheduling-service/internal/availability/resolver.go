// Package availability expands weekly availability rules into concrete slots.
package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
)

const DefaultStepMinutes = 30

type dayRule struct {
	start, end timewindow.Clock
	buffer     time.Duration
	bookable   bool
}

// Resolve returns every tick of the rule grid inside rng, ascending by start.
// Calendar days are taken in rng.Start's location. A tick is unavailable when
// it overlaps an active appointment or falls inside the buffer of one; each
// appointment carries its own buffer, taken from the rule of the day being
// resolved. A stepMinutes <= 0 uses DefaultStepMinutes.
func Resolve(rules []model.AvailabilityRule, appointments []model.Appointment, rng timewindow.Window, stepMinutes int) ([]model.Slot, error) {
	if !rng.Valid() {
		return nil, fmt.Errorf("%w: end %s is not after start %s", model.ErrInvalidRange,
			rng.End.Format(time.RFC3339), rng.Start.Format(time.RFC3339))
	}
	byDay, err := indexRules(rules)
	if err != nil {
		return nil, err
	}
	if stepMinutes <= 0 {
		stepMinutes = DefaultStepMinutes
	}
	busy := activeWindows(appointments)

	var slots []model.Slot
	for day := timewindow.StartOfDay(rng.Start); day.Before(rng.End); day = day.AddDate(0, 0, 1) {
		rule, ok := byDay[timewindow.DayOfWeek(day)]
		if !ok || !rule.bookable {
			continue
		}
		for tick := range timewindow.Ticks(day, rule.start, rule.end, stepMinutes) {
			if !timewindow.ContainsWindow(rng, tick) {
				continue
			}
			slots = append(slots, model.Slot{
				Start:     tick.Start,
				End:       tick.End,
				Available: !blocked(tick, busy, rule.buffer),
			})
		}
	}
	return slots, nil
}

// ValidateRules checks a rule set before it is stored.
func ValidateRules(rules []model.AvailabilityRule) error {
	_, err := indexRules(rules)
	return err
}

// indexRules keys rules by weekday. When a weekday repeats, the later rule wins.
func indexRules(rules []model.AvailabilityRule) (map[int]dayRule, error) {
	out := make(map[int]dayRule, len(rules))
	for _, r := range rules {
		start, end, err := r.Clocks()
		if err != nil {
			return nil, err
		}
		out[r.DayOfWeek] = dayRule{
			start:    start,
			end:      end,
			buffer:   time.Duration(r.BufferMinutes) * time.Minute,
			bookable: r.IsBookable,
		}
	}
	return out, nil
}

func activeWindows(appointments []model.Appointment) []timewindow.Window {
	busy := make([]timewindow.Window, 0, len(appointments))
	for _, a := range appointments {
		if !a.Active() || !a.Window().Valid() {
			continue
		}
		busy = append(busy, a.Window())
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy
}

func blocked(tick timewindow.Window, busy []timewindow.Window, buffer time.Duration) bool {
	for _, b := range busy {
		if !b.Start.Before(tick.End.Add(buffer)) {
			// Sorted by start: nothing later can reach back into this tick.
			return false
		}
		if timewindow.Overlaps(tick, b.Grow(buffer, buffer)) {
			return true
		}
	}
	return false
}

// FirstFit returns the first available slot at least d long.
func FirstFit(slots []model.Slot, d time.Duration) (model.Slot, bool) {
	for _, s := range slots {
		if s.Available && s.End.Sub(s.Start) >= d {
			return s, true
		}
	}
	return model.Slot{}, false
}

// OnlyAvailable filters slots to the available ones starting at or after from.
func OnlyAvailable(slots []model.Slot, from time.Time) []model.Slot {
	out := make([]model.Slot, 0, len(slots))
	for _, s := range slots {
		if s.Available && !s.Start.Before(from) {
			out = append(out, s)
		}
	}
	return out
}
