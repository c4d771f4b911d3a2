package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
)

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func clock(day time.Time, h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func mondayRule(buffer int) model.AvailabilityRule {
	return model.AvailabilityRule{DayOfWeek: 0, StartTime: "09:00", EndTime: "17:00", BufferMinutes: buffer, IsBookable: true}
}

func appt(id string, start, end time.Time, status model.AppointmentStatus) model.Appointment {
	return model.Appointment{ID: id, HostUserID: "h1", StartTime: start, EndTime: end, Status: status}
}

func TestResolve_MondayNineToFive(t *testing.T) {
	slots, err := Resolve([]model.AvailabilityRule{mondayRule(0)}, nil, timewindow.Day(monday), 30)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}
	for i, s := range slots {
		want := clock(monday, 9, 0).Add(time.Duration(i) * 30 * time.Minute)
		if !s.Start.Equal(want) || !s.End.Equal(want.Add(30*time.Minute)) {
			t.Fatalf("slot %d: expected %s, got %s", i, want.Format(time.RFC3339), s.Start.Format(time.RFC3339))
		}
		if !s.Available {
			t.Fatalf("slot %d should be available", i)
		}
	}
}

func TestResolve_NonBookableAndMissingDays(t *testing.T) {
	rules := []model.AvailabilityRule{
		{DayOfWeek: 0, StartTime: "09:00", EndTime: "17:00", IsBookable: false},
	}
	week := timewindow.New(monday, monday.AddDate(0, 0, 7))
	slots, err := Resolve(rules, nil, week, 30)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}
}

func TestResolve_LastRuleForWeekdayWins(t *testing.T) {
	rules := []model.AvailabilityRule{
		mondayRule(0),
		{DayOfWeek: 0, StartTime: "13:00", EndTime: "14:00", IsBookable: true},
	}
	slots, err := Resolve(rules, nil, timewindow.Day(monday), 30)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(slots) != 2 || !slots[0].Start.Equal(clock(monday, 13, 0)) {
		t.Fatalf("expected the later rule's two slots, got %d", len(slots))
	}
}

func TestResolve_OverlapsAndBuffers(t *testing.T) {
	existing := []model.Appointment{
		appt("a", clock(monday, 10, 0), clock(monday, 10, 30), model.StatusConfirmed),
		appt("cancelled", clock(monday, 13, 0), clock(monday, 14, 0), model.StatusCancelled),
	}
	slots, err := Resolve([]model.AvailabilityRule{mondayRule(15)}, existing, timewindow.Day(monday), 30)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	unavailable := map[string]bool{}
	for _, s := range slots {
		if !s.Available {
			unavailable[s.Start.Format("15:04")] = true
		}
	}
	// 09:30 runs into the leading buffer, 10:30 starts inside the trailing one.
	for _, hhmm := range []string{"09:30", "10:00", "10:30"} {
		if !unavailable[hhmm] {
			t.Fatalf("expected %s to be unavailable, got %v", hhmm, unavailable)
		}
	}
	if len(unavailable) != 3 {
		t.Fatalf("expected exactly 3 unavailable slots, got %v", unavailable)
	}
}

func TestResolve_NoAvailableSlotTouchesBufferOrAppointment(t *testing.T) {
	const buffer = 20
	existing := []model.Appointment{
		appt("a", clock(monday, 9, 45), clock(monday, 10, 15), model.StatusConfirmed),
		appt("b", clock(monday, 12, 0), clock(monday, 13, 0), model.StatusFocus),
		appt("c", clock(monday, 16, 10), clock(monday, 16, 20), model.StatusConfirmed),
	}
	slots, err := Resolve([]model.AvailabilityRule{mondayRule(buffer)}, existing, timewindow.Day(monday), 15)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for _, s := range slots {
		if !s.Available {
			continue
		}
		for _, a := range existing {
			if timewindow.Overlaps(s.Window(), a.Window().Grow(buffer*time.Minute, buffer*time.Minute)) {
				t.Fatalf("available slot %s intrudes on %s with its buffer", s.Window(), a.Window())
			}
		}
	}
}

func TestResolve_DropsTicksOutsideRange(t *testing.T) {
	rng := timewindow.New(clock(monday, 10, 0), clock(monday, 11, 0))
	slots, err := Resolve([]model.AvailabilityRule{mondayRule(0)}, nil, rng, 30)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(slots) != 2 || !slots[0].Start.Equal(clock(monday, 10, 0)) {
		t.Fatalf("expected 10:00 and 10:30, got %d slots", len(slots))
	}
}

func TestResolve_DefaultStepAndLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	slots, err := Resolve([]model.AvailabilityRule{mondayRule(0)}, nil, timewindow.Day(day), 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(slots) != 16 {
		t.Fatalf("expected default 30 minute step, got %d slots", len(slots))
	}
	if slots[0].Start.Location() != loc || slots[0].Start.Hour() != 9 {
		t.Fatalf("slots should be anchored in the range location, got %s", slots[0].Start)
	}
}

func TestResolve_Errors(t *testing.T) {
	_, err := Resolve(nil, nil, timewindow.New(monday, monday), 30)
	if !errors.Is(err, model.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}

	bad := []model.AvailabilityRule{{DayOfWeek: 3, StartTime: "12:00", EndTime: "11:00", IsBookable: true}}
	_, err = Resolve(bad, nil, timewindow.Day(monday), 30)
	if !errors.Is(err, model.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule even for a weekday outside the range, got %v", err)
	}
}

func TestFirstFitAndOnlyAvailable(t *testing.T) {
	slots := []model.Slot{
		{Start: clock(monday, 9, 0), End: clock(monday, 9, 30), Available: false},
		{Start: clock(monday, 9, 30), End: clock(monday, 10, 0), Available: true},
		{Start: clock(monday, 10, 0), End: clock(monday, 11, 0), Available: true},
	}
	s, ok := FirstFit(slots, time.Hour)
	if !ok || !s.Start.Equal(clock(monday, 10, 0)) {
		t.Fatalf("expected the hour-long slot, got %+v %v", s, ok)
	}
	if _, ok := FirstFit(slots, 2*time.Hour); ok {
		t.Fatalf("nothing fits two hours")
	}
	if got := OnlyAvailable(slots, clock(monday, 9, 45)); len(got) != 1 {
		t.Fatalf("expected one future available slot, got %d", len(got))
	}
}
