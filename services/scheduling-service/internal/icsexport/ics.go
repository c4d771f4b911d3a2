// Package icsexport renders appointments and weekly availability as
// iCalendar documents.
package icsexport

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
	"github.com/teambition/rrule-go"
)

const (
	productID = "-//SchedAI//scheduling-service//EN"
	icalUTC   = "20060102T150405Z"
	icalLocal = "20060102T150405"
)

var weekdays = [7]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

func newCalendar(name string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	return cal
}

// Appointment renders a single appointment. Cancelled appointments are
// exported with STATUS:CANCELLED so calendar clients drop them.
func Appointment(a model.Appointment, stamp time.Time) string {
	cal := newCalendar("")
	ev := cal.AddEvent(a.ID + "@schedai")
	ev.SetDtStampTime(stamp.UTC())
	ev.SetCreatedTime(a.CreatedAt.UTC())
	ev.SetStartAt(a.StartTime.UTC())
	ev.SetEndAt(a.EndTime.UTC())
	ev.SetSummary(a.Title)
	if a.Reason != "" {
		ev.SetDescription(a.Reason)
	}
	if a.GuestEmail != "" {
		ev.AddAttendee("mailto:"+a.GuestEmail,
			ical.CalendarUserTypeIndividual,
			ical.ParticipationStatusAccepted,
			ical.WithCN(a.GuestName),
		)
	}
	switch a.Status {
	case model.StatusCancelled:
		ev.SetStatus(ical.ObjectStatusCancelled)
	default:
		ev.SetStatus(ical.ObjectStatusConfirmed)
	}
	return cal.Serialize()
}

type FeedOptions struct {
	HostUserID string
	// From anchors each weekly series on its first occurrence at or after From.
	From     time.Time
	Location *time.Location
	// Weeks bounds the series with UNTIL. Zero repeats forever.
	Weeks int
}

// Availability renders every bookable rule as a weekly recurring event.
func Availability(rules []model.AvailabilityRule, opts FeedOptions, stamp time.Time) (string, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	from := opts.From.In(loc)
	cal := newCalendar("Availability " + opts.HostUserID)
	if !isUTC(loc) {
		cal.SetXWRTimezone(loc.String())
	}

	for i, rule := range rules {
		if !rule.IsBookable {
			continue
		}
		startClock, endClock, err := rule.Clocks()
		if err != nil {
			return "", err
		}
		day := timewindow.StartOfDay(from)
		dtstart := startClock.On(day)

		ropt := rrule.ROption{
			Freq:      rrule.WEEKLY,
			Byweekday: []rrule.Weekday{weekdays[rule.DayOfWeek]},
			Dtstart:   dtstart,
		}
		if opts.Weeks > 0 {
			ropt.Until = day.AddDate(0, 0, 7*opts.Weeks)
		}
		r, err := rrule.NewRRule(ropt)
		if err != nil {
			return "", fmt.Errorf("rule %d: %w", i, err)
		}
		first := r.After(from, true)
		if first.IsZero() {
			continue
		}
		end := endClock.On(timewindow.StartOfDay(first))

		ev := cal.AddEvent(fmt.Sprintf("availability-%s-%d-%d@schedai", opts.HostUserID, rule.DayOfWeek, i))
		ev.SetDtStampTime(stamp.UTC())
		setWallClock(ev, ical.ComponentPropertyDtStart, first, loc)
		setWallClock(ev, ical.ComponentPropertyDtEnd, end, loc)
		ev.SetSummary("Available")
		if rule.BufferMinutes > 0 {
			ev.SetDescription(fmt.Sprintf("%d minute buffer around bookings", rule.BufferMinutes))
		}
		ev.AddRrule(rruleLine(rrule.ROption{
			Freq:      rrule.WEEKLY,
			Byweekday: []rrule.Weekday{weekdays[rule.DayOfWeek]},
			Until:     ropt.Until,
		}))
	}
	return cal.Serialize(), nil
}

// setWallClock writes t as local time with a TZID so weekly occurrences keep
// their hours across DST changes. UTC stays in the Z form.
func setWallClock(ev *ical.VEvent, prop ical.ComponentProperty, t time.Time, loc *time.Location) {
	if isUTC(loc) {
		ev.SetProperty(prop, t.UTC().Format(icalUTC))
		return
	}
	ev.SetProperty(prop, t.In(loc).Format(icalLocal), ical.WithTZID(loc.String()))
}

func isUTC(loc *time.Location) bool {
	return loc == time.UTC || loc.String() == "UTC"
}

// rruleLine renders ropt as an RRULE value. DTSTART lives on the event.
func rruleLine(ropt rrule.ROption) string {
	if !ropt.Until.IsZero() {
		ropt.Until = ropt.Until.UTC()
	}
	return strings.TrimPrefix(ropt.RRuleString(), "RRULE:")
}
