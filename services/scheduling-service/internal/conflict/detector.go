// Package conflict decides whether a candidate appointment may be placed on
// a host's calendar.
package conflict

import (
	"math"
	"sort"
	"time"

	"github.com/schedai/schedai/services/scheduling-service/internal/availability"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
)

type Kind string

const (
	KindDoubleBooking      Kind = "double_booking"
	KindFocusClash         Kind = "focus_clash"
	KindBackToBackOverload Kind = "back_to_back"
)

// Blocking kinds must stop the mutation. Back-to-back overload is a warning.
func (k Kind) Blocking() bool {
	return k == KindDoubleBooking || k == KindFocusClash
}

// OverloadRun is the number of consecutive zero-gap appointments on one day
// that counts as an overload.
const OverloadRun = 3

type Verdict struct {
	Conflict       bool        `json:"conflict"`
	Kind           Kind        `json:"type,omitempty"`
	Suggestion     *model.Slot `json:"suggestion,omitempty"`
	ConflictingIDs []string    `json:"conflicting_ids,omitempty"`
}

func (v Verdict) Blocking() bool {
	return v.Conflict && v.Kind.Blocking()
}

// SuggestionSource lets Check look for an alternative slot when it finds a
// conflict. Without one, verdicts carry no suggestion.
type SuggestionSource struct {
	Rules       []model.AvailabilityRule
	StepMinutes int
}

// Check evaluates the candidate against the host's existing appointments.
// Rules are tried in order and the first match wins: double booking, focus
// clash, back-to-back overload. Existing entries that are cancelled, belong to
// another host or share the candidate's id are ignored, which lets callers pass
// the stored version of an appointment being rescheduled.
//
// Calendar days (overload chains, suggestions) are taken in the location of
// candidate.StartTime. Pass the candidate in the host's time zone; a UTC
// instant gets UTC days.
func Check(candidate model.Appointment, existing []model.Appointment, src *SuggestionSource) Verdict {
	if !candidate.Active() || !candidate.Window().Valid() {
		return Verdict{}
	}
	others := peers(candidate, existing)

	v := detect(candidate, others)
	if v.Conflict && src != nil {
		v.Suggestion = suggest(candidate, others, *src)
	}
	return v
}

func detect(candidate model.Appointment, others []model.Appointment) Verdict {
	var doubles, focus []string
	for _, o := range others {
		if !timewindow.Overlaps(candidate.Window(), o.Window()) {
			continue
		}
		if o.IsFocus() {
			focus = append(focus, o.ID)
		} else {
			doubles = append(doubles, o.ID)
		}
	}
	switch {
	case len(doubles) > 0:
		return Verdict{Conflict: true, Kind: KindDoubleBooking, ConflictingIDs: doubles}
	case len(focus) > 0:
		return Verdict{Conflict: true, Kind: KindFocusClash, ConflictingIDs: focus}
	}
	if run := overloadRun(candidate, others); run != nil {
		return Verdict{Conflict: true, Kind: KindBackToBackOverload, ConflictingIDs: run}
	}
	return Verdict{}
}

// peers returns the active appointments of the candidate's host, minus the
// candidate itself, ordered by start then id.
func peers(candidate model.Appointment, existing []model.Appointment) []model.Appointment {
	out := make([]model.Appointment, 0, len(existing))
	for _, e := range existing {
		if !e.Active() || !e.Window().Valid() {
			continue
		}
		if e.HostUserID != candidate.HostUserID {
			continue
		}
		if candidate.ID != "" && e.ID == candidate.ID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// overloadRun returns the ids of the zero-gap chain on the candidate's day
// that the candidate belongs to, the candidate excluded, or nil when the chain
// including the candidate is shorter than OverloadRun. Chains that do not
// include the candidate are pre-existing and not the candidate's doing.
func overloadRun(candidate model.Appointment, others []model.Appointment) []string {
	day := timewindow.Day(candidate.StartTime)

	// Walk backwards from the candidate through appointments ending exactly
	// where the chain starts, then forwards the same way.
	var before, after []string
	for cursor := candidate.StartTime; ; {
		prev, ok := endingAt(others, cursor, day)
		if !ok {
			break
		}
		before = append(before, prev.ID)
		cursor = prev.StartTime
	}
	for cursor := candidate.EndTime; ; {
		next, ok := startingAt(others, cursor, day)
		if !ok {
			break
		}
		after = append(after, next.ID)
		cursor = next.EndTime
	}
	if len(before)+len(after)+1 < OverloadRun {
		return nil
	}

	ids := make([]string, 0, len(before)+len(after))
	for i := len(before) - 1; i >= 0; i-- {
		ids = append(ids, before[i])
	}
	return append(ids, after...)
}

func endingAt(others []model.Appointment, t time.Time, day timewindow.Window) (model.Appointment, bool) {
	for _, o := range others {
		if o.EndTime.Equal(t) && timewindow.Contains(day, o.StartTime) {
			return o, true
		}
	}
	return model.Appointment{}, false
}

func startingAt(others []model.Appointment, t time.Time, day timewindow.Window) (model.Appointment, bool) {
	for _, o := range others {
		if o.StartTime.Equal(t) && timewindow.Contains(day, o.StartTime) {
			return o, true
		}
	}
	return model.Appointment{}, false
}

// suggest looks for the first free slot at least as long as the candidate on
// the candidate's day, then on the following day.
func suggest(candidate model.Appointment, others []model.Appointment, src SuggestionSource) *model.Slot {
	d := candidate.Window().Duration()
	step := src.StepMinutes
	if step <= 0 {
		step = availability.DefaultStepMinutes
	}
	if need := int(math.Ceil(d.Minutes())); need > step {
		step = need
	}

	day := timewindow.Day(candidate.StartTime)
	for i := 0; i < 2; i++ {
		rng := timewindow.New(day.Start.AddDate(0, 0, i), day.Start.AddDate(0, 0, i+1))
		slots, err := availability.Resolve(src.Rules, others, rng, step)
		if err != nil {
			return nil
		}
		if s, ok := availability.FirstFit(slots, d); ok {
			return &s
		}
	}
	return nil
}
