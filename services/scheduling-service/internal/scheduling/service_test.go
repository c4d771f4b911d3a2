package scheduling_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/schedai/schedai/services/scheduling-service/internal/conflict"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/outbox"
	"github.com/schedai/schedai/services/scheduling-service/internal/scheduling"
	"github.com/schedai/schedai/services/scheduling-service/internal/storage"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
)

const host = "host-1"

// monday is 2026-03-02; the clock is pinned to the Sunday before.
var (
	monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	sunday = monday.Add(-16 * time.Hour)
)

func at(hour, minute int) time.Time {
	return monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func newService(t *testing.T, now time.Time) (*scheduling.Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	facade := scheduling.NewFacade(store, scheduling.FacadeConfig{Now: func() time.Time { return now }})
	svc := scheduling.NewService(store, facade, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rules := []model.AvailabilityRule{{DayOfWeek: 0, StartTime: "09:00", EndTime: "17:00", IsBookable: true}}
	if _, err := svc.ReplaceRules(context.Background(), host, rules); err != nil {
		t.Fatalf("replace rules: %v", err)
	}
	return svc, store
}

func book(t *testing.T, svc *scheduling.Service, start, end time.Time, status model.AppointmentStatus) scheduling.Booking {
	t.Helper()
	b, err := svc.CreateAppointment(context.Background(), scheduling.AppointmentInput{
		HostUserID: host,
		GuestName:  "Ada",
		GuestEmail: "ada@example.com",
		StartTime:  start,
		EndTime:    end,
		Status:     status,
	})
	if err != nil {
		t.Fatalf("book %s-%s: %v", start.Format("15:04"), end.Format("15:04"), err)
	}
	return b
}

func eventTypes(store *storage.MemoryStore) []string {
	var out []string
	for _, e := range store.Events() {
		out = append(out, e.EventType)
	}
	return out
}

func TestFacade_GetPublicSlots(t *testing.T) {
	svc, _ := newService(t, sunday)
	slots, err := svc.Facade().GetPublicSlots(context.Background(), host, 2)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(at(9, 0)) || !slots[15].Start.Equal(at(16, 30)) {
		t.Fatalf("unexpected bounds %s..%s", slots[0].Start, slots[15].Start)
	}

	book(t, svc, at(10, 0), at(11, 0), model.StatusConfirmed)
	slots, _ = svc.Facade().GetPublicSlots(context.Background(), host, 2)
	if len(slots) != 14 {
		t.Fatalf("expected 14 slots after booking, got %d", len(slots))
	}
	for _, s := range slots {
		if timewindow.Overlaps(s.Window(), timewindow.New(at(10, 0), at(11, 0))) {
			t.Fatalf("slot %s overlaps the booking", s.Start)
		}
	}
}

func TestFacade_GetPublicSlots_DropsPast(t *testing.T) {
	svc, _ := newService(t, at(12, 10))
	slots, err := svc.Facade().GetPublicSlots(context.Background(), host, 1)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 9 || !slots[0].Start.Equal(at(12, 30)) {
		t.Fatalf("expected 9 slots from 12:30, got %d", len(slots))
	}
}

func TestCreateAppointment_DoubleBooking(t *testing.T) {
	svc, store := newService(t, sunday)
	first := book(t, svc, at(10, 0), at(10, 30), model.StatusConfirmed)

	_, err := svc.CreateAppointment(context.Background(), scheduling.AppointmentInput{
		HostUserID: host,
		StartTime:  at(10, 15),
		EndTime:    at(10, 45),
	})
	ce, ok := scheduling.AsConflict(err)
	if !ok {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if ce.Verdict.Kind != conflict.KindDoubleBooking {
		t.Fatalf("expected double_booking, got %s", ce.Verdict.Kind)
	}
	if len(ce.Verdict.ConflictingIDs) != 1 || ce.Verdict.ConflictingIDs[0] != first.Appointment.ID {
		t.Fatalf("unexpected conflicting ids %v", ce.Verdict.ConflictingIDs)
	}
	if ce.Verdict.Suggestion == nil || !ce.Verdict.Suggestion.Start.Equal(at(9, 0)) {
		t.Fatalf("expected a 09:00 suggestion, got %+v", ce.Verdict.Suggestion)
	}
	if got := eventTypes(store); len(got) != 1 {
		t.Fatalf("rejected booking must not emit events, got %v", got)
	}
}

func TestCreateAppointment_FocusClash(t *testing.T) {
	svc, _ := newService(t, sunday)
	focus := book(t, svc, at(13, 0), at(14, 0), model.StatusFocus)
	if focus.Appointment.Title != "Focus time" {
		t.Fatalf("unexpected focus title %q", focus.Appointment.Title)
	}

	_, err := svc.CreateAppointment(context.Background(), scheduling.AppointmentInput{
		HostUserID: host,
		StartTime:  at(13, 30),
		EndTime:    at(14, 0),
	})
	ce, ok := scheduling.AsConflict(err)
	if !ok || ce.Verdict.Kind != conflict.KindFocusClash {
		t.Fatalf("expected focus_clash, got %v", err)
	}
}

func TestCreateAppointment_BackToBackWarning(t *testing.T) {
	svc, store := newService(t, sunday)
	book(t, svc, at(9, 0), at(9, 30), model.StatusConfirmed)
	book(t, svc, at(9, 30), at(10, 0), model.StatusConfirmed)
	third := book(t, svc, at(10, 0), at(10, 30), model.StatusConfirmed)

	if third.Warning == nil || third.Warning.Kind != conflict.KindBackToBackOverload {
		t.Fatalf("expected back_to_back warning, got %+v", third.Warning)
	}
	if third.Warning.Blocking() {
		t.Fatalf("back_to_back must not block")
	}
	if _, err := svc.GetAppointment(context.Background(), host, third.Appointment.ID); err != nil {
		t.Fatalf("warned booking should be stored: %v", err)
	}
	if n := len(store.Events()); n != 3 {
		t.Fatalf("expected 3 booked events, got %d", n)
	}
}

func TestCreateAppointment_InvalidInput(t *testing.T) {
	svc, _ := newService(t, sunday)
	cases := []scheduling.AppointmentInput{
		{HostUserID: "", StartTime: at(9, 0), EndTime: at(9, 30)},
		{HostUserID: host, StartTime: at(9, 30), EndTime: at(9, 0)},
		{HostUserID: host, StartTime: at(9, 0), EndTime: at(9, 30), Status: model.StatusCancelled},
		{HostUserID: host, StartTime: at(9, 0), EndTime: at(9, 30), Status: "pending"},
	}
	for i, in := range cases {
		if _, err := svc.CreateAppointment(context.Background(), in); !errors.Is(err, model.ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestCancelAppointment_RebooksWaitlist(t *testing.T) {
	svc, store := newService(t, sunday)
	ctx := context.Background()
	appt := book(t, svc, at(10, 0), at(10, 30), model.StatusConfirmed)

	entry, err := svc.JoinWaitlist(ctx, scheduling.WaitlistInput{
		HostUserID:     host,
		GuestName:      "Grace",
		GuestEmail:     "grace@example.com",
		PreferredStart: at(9, 0),
		PreferredEnd:   at(12, 0),
	})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	res, err := svc.CancelAppointment(ctx, host, appt.Appointment.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Appointment.Status != model.StatusCancelled || res.Appointment.CancelledAt == nil {
		t.Fatalf("appointment not cancelled: %+v", res.Appointment)
	}
	if res.Rebooked == nil || !res.Rebooked.StartTime.Equal(at(10, 0)) || !res.Rebooked.EndTime.Equal(at(10, 30)) {
		t.Fatalf("expected rebooking at 10:00, got %+v", res.Rebooked)
	}
	if res.Rebooked.GuestEmail != "grace@example.com" || res.Rebooked.Title != "Meeting with Grace" {
		t.Fatalf("unexpected rebooked appointment %+v", res.Rebooked)
	}
	if res.WaitlistEntry == nil || res.WaitlistEntry.ID != entry.ID || res.WaitlistEntry.Status != model.WaitlistBooked {
		t.Fatalf("unexpected waitlist entry %+v", res.WaitlistEntry)
	}

	want := []string{
		outbox.TopicAppointmentBooked,
		outbox.TopicAppointmentCancelled,
		outbox.TopicAppointmentBooked,
		outbox.TopicWaitlistBooked,
	}
	got := eventTypes(store)
	if len(got) != len(want) {
		t.Fatalf("events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events %v, want %v", got, want)
		}
	}

	// Cancelling again is a no-op.
	again, err := svc.CancelAppointment(ctx, host, appt.Appointment.ID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.Rebooked != nil || again.Appointment.Status != model.StatusCancelled {
		t.Fatalf("second cancel should change nothing: %+v", again)
	}
	if n := len(store.Events()); n != len(want) {
		t.Fatalf("second cancel emitted events: %d", n)
	}
}

func TestCancelAppointment_NotFound(t *testing.T) {
	svc, _ := newService(t, sunday)
	if _, err := svc.CancelAppointment(context.Background(), host, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHandleSlotFreed(t *testing.T) {
	svc, _ := newService(t, sunday)
	ctx := context.Background()
	if _, err := svc.JoinWaitlist(ctx, scheduling.WaitlistInput{
		HostUserID:     host,
		GuestName:      "Grace",
		GuestEmail:     "grace@example.com",
		PreferredStart: at(9, 0),
		PreferredEnd:   at(12, 0),
	}); err != nil {
		t.Fatalf("join: %v", err)
	}

	freed := timewindow.New(at(10, 0), at(10, 30))
	res, err := svc.HandleSlotFreed(ctx, host, freed)
	if err != nil || res == nil {
		t.Fatalf("expected a match, got %v (%v)", res, err)
	}
	res, err = svc.HandleSlotFreed(ctx, host, freed)
	if err != nil || res != nil {
		t.Fatalf("second call should match nothing, got %v (%v)", res, err)
	}
}

func TestHandleSlotFreed_SkipsTakenWindow(t *testing.T) {
	svc, _ := newService(t, sunday)
	ctx := context.Background()
	book(t, svc, at(10, 0), at(10, 30), model.StatusConfirmed)
	if _, err := svc.JoinWaitlist(ctx, scheduling.WaitlistInput{
		HostUserID:     host,
		GuestName:      "Grace",
		GuestEmail:     "grace@example.com",
		PreferredStart: at(9, 0),
		PreferredEnd:   at(12, 0),
	}); err != nil {
		t.Fatalf("join: %v", err)
	}

	res, err := svc.HandleSlotFreed(ctx, host, timewindow.New(at(10, 0), at(10, 30)))
	if err != nil || res != nil {
		t.Fatalf("window is still booked, got %v (%v)", res, err)
	}
	waiting, _ := svc.ListWaitlist(ctx, host)
	if len(waiting) != 1 || waiting[0].Status != model.WaitlistWaiting {
		t.Fatalf("entry should still be waiting: %+v", waiting)
	}
}

func TestRescheduleAppointment(t *testing.T) {
	svc, store := newService(t, sunday)
	ctx := context.Background()
	moved := book(t, svc, at(10, 0), at(10, 30), model.StatusConfirmed)
	book(t, svc, at(14, 0), at(14, 30), model.StatusConfirmed)

	if _, err := svc.RescheduleAppointment(ctx, host, moved.Appointment.ID, at(14, 15), at(14, 45)); err == nil {
		t.Fatalf("expected conflict moving onto 14:00")
	} else if ce, ok := scheduling.AsConflict(err); !ok || ce.Verdict.Kind != conflict.KindDoubleBooking {
		t.Fatalf("expected double_booking, got %v", err)
	}

	// Moving over its own old window is fine.
	b, err := svc.RescheduleAppointment(ctx, host, moved.Appointment.ID, at(10, 15), at(10, 45))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !b.Appointment.StartTime.Equal(at(10, 15)) {
		t.Fatalf("unexpected start %s", b.Appointment.StartTime)
	}

	if _, err := svc.JoinWaitlist(ctx, scheduling.WaitlistInput{
		HostUserID:     host,
		GuestName:      "Grace",
		GuestEmail:     "grace@example.com",
		PreferredStart: at(10, 0),
		PreferredEnd:   at(11, 0),
	}); err != nil {
		t.Fatalf("join: %v", err)
	}
	b, err = svc.RescheduleAppointment(ctx, host, moved.Appointment.ID, at(16, 0), at(16, 30))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if b.Rebooked == nil || !b.Rebooked.StartTime.Equal(at(10, 15)) {
		t.Fatalf("expected old window rebooked, got %+v", b.Rebooked)
	}

	var rescheduled int
	for _, typ := range eventTypes(store) {
		if typ == outbox.TopicAppointmentRescheduled {
			rescheduled++
		}
	}
	if rescheduled != 2 {
		t.Fatalf("expected 2 rescheduled events, got %d", rescheduled)
	}
}

func TestPublicBook(t *testing.T) {
	svc, _ := newService(t, sunday)
	ctx := context.Background()
	in := scheduling.AppointmentInput{
		HostUserID: host,
		GuestName:  "Linus",
		GuestEmail: "linus@example.com",
		StartTime:  at(9, 0),
		EndTime:    at(9, 30),
	}
	b, err := svc.PublicBook(ctx, in)
	if err != nil {
		t.Fatalf("public book: %v", err)
	}
	if b.Appointment.Title != "Meeting with Linus" || b.Appointment.Status != model.StatusConfirmed {
		t.Fatalf("unexpected appointment %+v", b.Appointment)
	}

	_, err = svc.PublicBook(ctx, in)
	ce, ok := scheduling.AsConflict(err)
	if !ok {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(ce.Alternatives) != scheduling.PublicAlternatives {
		t.Fatalf("expected %d alternatives, got %d", scheduling.PublicAlternatives, len(ce.Alternatives))
	}
	for i, want := range []time.Time{at(9, 30), at(10, 0), at(10, 30)} {
		if !ce.Alternatives[i].Start.Equal(want) {
			t.Fatalf("alternative %d: got %s want %s", i, ce.Alternatives[i].Start, want)
		}
	}

	// Off-grid and out-of-hours requests are not public slots.
	for _, w := range [][2]time.Time{{at(9, 40), at(10, 10)}, {at(18, 0), at(18, 30)}} {
		in.StartTime, in.EndTime = w[0], w[1]
		if _, err := svc.PublicBook(ctx, in); err == nil {
			t.Fatalf("expected %s to be rejected", w[0].Format("15:04"))
		}
	}

	// A full hour spanning two open slots is accepted.
	in.StartTime, in.EndTime = at(11, 0), at(12, 0)
	if _, err := svc.PublicBook(ctx, in); err != nil {
		t.Fatalf("hour booking: %v", err)
	}

	in.GuestEmail = "not-an-email"
	in.StartTime, in.EndTime = at(15, 0), at(15, 30)
	if _, err := svc.PublicBook(ctx, in); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestJoinWaitlist_Validation(t *testing.T) {
	svc, _ := newService(t, at(12, 0))
	ctx := context.Background()
	past := scheduling.WaitlistInput{
		HostUserID:     host,
		GuestName:      "Grace",
		GuestEmail:     "grace@example.com",
		PreferredStart: at(9, 0),
		PreferredEnd:   at(11, 0),
	}
	if _, err := svc.JoinWaitlist(ctx, past); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected past window rejected, got %v", err)
	}
	past.PreferredEnd = at(9, 0)
	if _, err := svc.JoinWaitlist(ctx, past); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected empty window rejected, got %v", err)
	}
}

func TestRemoveWaitlistEntry(t *testing.T) {
	svc, _ := newService(t, sunday)
	ctx := context.Background()
	e, err := svc.JoinWaitlist(ctx, scheduling.WaitlistInput{
		HostUserID:     host,
		GuestName:      "Grace",
		GuestEmail:     "grace@example.com",
		PreferredStart: at(9, 0),
		PreferredEnd:   at(10, 0),
	})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := svc.RemoveWaitlistEntry(ctx, host, e.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := svc.RemoveWaitlistEntry(ctx, host, e.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceRules_Invalid(t *testing.T) {
	svc, _ := newService(t, sunday)
	_, err := svc.ReplaceRules(context.Background(), host, []model.AvailabilityRule{
		{DayOfWeek: 1, StartTime: "17:00", EndTime: "09:00", IsBookable: true},
	})
	if !errors.Is(err, model.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	rules, _ := svc.ListRules(context.Background(), host)
	if len(rules) != 1 || rules[0].DayOfWeek != 0 {
		t.Fatalf("invalid set must not replace stored rules: %+v", rules)
	}
}

func TestListAppointments_InvalidRange(t *testing.T) {
	svc, _ := newService(t, sunday)
	if _, err := svc.ListAppointments(context.Background(), host, at(10, 0), at(9, 0)); !errors.Is(err, model.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestValidateCandidate(t *testing.T) {
	svc, store := newService(t, sunday)
	existing := book(t, svc, at(10, 0), at(10, 30), model.StatusConfirmed)

	v, err := svc.ValidateCandidate(context.Background(), scheduling.AppointmentInput{
		HostUserID: host,
		StartTime:  at(10, 0),
		EndTime:    at(10, 30),
	}, "")
	if err != nil || v.Kind != conflict.KindDoubleBooking {
		t.Fatalf("expected double_booking, got %+v (%v)", v, err)
	}

	v, err = svc.ValidateCandidate(context.Background(), scheduling.AppointmentInput{
		HostUserID: host,
		StartTime:  at(10, 0),
		EndTime:    at(10, 30),
	}, existing.Appointment.ID)
	if err != nil || v.Conflict {
		t.Fatalf("appointment must not conflict with itself, got %+v (%v)", v, err)
	}
	if n := len(store.Events()); n != 1 {
		t.Fatalf("validation must not write, got %d events", n)
	}
}
