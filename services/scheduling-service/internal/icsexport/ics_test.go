package icsexport

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	ical "github.com/arran4/golang-ical"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
)

var stamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAppointment(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	out := Appointment(model.Appointment{
		ID:         "appt-1",
		Title:      "Meeting with Grace",
		Reason:     "Quarterly review",
		GuestName:  "Grace",
		GuestEmail: "grace@example.com",
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Status:     model.StatusConfirmed,
		CreatedAt:  stamp,
	}, stamp)

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	events := cal.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if got := ev.GetProperty(ical.ComponentPropertySummary).Value; got != "Meeting with Grace" {
		t.Fatalf("unexpected summary %q", got)
	}
	if got, err := ev.GetStartAt(); err != nil || !got.Equal(start) {
		t.Fatalf("unexpected start %s (%v)", got, err)
	}
	if got := ev.GetProperty(ical.ComponentPropertyStatus).Value; got != string(ical.ObjectStatusConfirmed) {
		t.Fatalf("unexpected status %q", got)
	}
	attendees := ev.Attendees()
	if len(attendees) != 1 || attendees[0].Email() != "grace@example.com" {
		t.Fatalf("unexpected attendees %+v", attendees)
	}
}

func TestAvailability(t *testing.T) {
	rules := []model.AvailabilityRule{
		{DayOfWeek: 0, StartTime: "09:00", EndTime: "17:00", IsBookable: true},
		{DayOfWeek: 2, StartTime: "13:00", EndTime: "15:30", BufferMinutes: 10, IsBookable: true},
		{DayOfWeek: 4, StartTime: "09:00", EndTime: "12:00", IsBookable: false},
	}
	// Sunday 2026-03-01.
	out, err := Availability(rules, FeedOptions{HostUserID: "host-1", From: stamp, Weeks: 4}, stamp)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	cal, err := ical.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	events := cal.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 bookable series, got %d", len(events))
	}

	monday, err := events[0].GetStartAt()
	if err != nil || !monday.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first monday %s (%v)", monday, err)
	}
	end, err := events[0].GetEndAt()
	if err != nil || end.Sub(monday) != 8*time.Hour {
		t.Fatalf("unexpected monday length %s (%v)", end.Sub(monday), err)
	}
	rr := events[0].GetProperty(ical.ComponentPropertyRrule).Value
	if !strings.Contains(rr, "FREQ=WEEKLY") || !strings.Contains(rr, "BYDAY=MO") || !strings.Contains(rr, "UNTIL=") {
		t.Fatalf("unexpected rrule %q", rr)
	}

	wed, _ := events[1].GetStartAt()
	if !wed.Equal(time.Date(2026, 3, 4, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first wednesday %s", wed)
	}
	if rr := events[1].GetProperty(ical.ComponentPropertyRrule).Value; !strings.Contains(rr, "BYDAY=WE") {
		t.Fatalf("unexpected rrule %q", rr)
	}
}

func TestAvailability_InvalidRule(t *testing.T) {
	_, err := Availability([]model.AvailabilityRule{{DayOfWeek: 0, StartTime: "9", EndTime: "17:00", IsBookable: true}}, FeedOptions{From: stamp}, stamp)
	if err == nil {
		t.Fatalf("expected invalid rule error")
	}
}

func TestAvailability_HostTimezoneKeepsWallClock(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	rules := []model.AvailabilityRule{{DayOfWeek: 0, StartTime: "09:00", EndTime: "17:00", IsBookable: true}}
	// Berlin switches to summer time on 2026-03-29, inside the series.
	out, err := Availability(rules, FeedOptions{HostUserID: "host-1", From: stamp, Location: berlin, Weeks: 6}, stamp)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	cal, err := ical.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	events := cal.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 series, got %d", len(events))
	}
	ev := events[0]

	prop := ev.GetProperty(ical.ComponentPropertyDtStart)
	if tz := prop.ICalParameters["TZID"]; len(tz) != 1 || tz[0] != "Europe/Berlin" {
		t.Fatalf("expected TZID Europe/Berlin, got %v", prop.ICalParameters)
	}
	if strings.HasSuffix(prop.Value, "Z") {
		t.Fatalf("expected local DTSTART, got %q", prop.Value)
	}

	start, err := ev.GetStartAt()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !start.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, berlin)) {
		t.Fatalf("unexpected start %s", start)
	}
	end, err := ev.GetEndAt()
	if err != nil || end.Sub(start) != 8*time.Hour {
		t.Fatalf("unexpected end %s (%v)", end, err)
	}
	if rr := ev.GetProperty(ical.ComponentPropertyRrule).Value; !strings.Contains(rr, "BYDAY=MO") {
		t.Fatalf("unexpected rrule %q", rr)
	}
}
