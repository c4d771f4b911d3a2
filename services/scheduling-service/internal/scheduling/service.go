package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schedai/schedai/services/scheduling-service/internal/availability"
	"github.com/schedai/schedai/services/scheduling-service/internal/conflict"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/outbox"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
	"github.com/schedai/schedai/services/scheduling-service/internal/waitlist"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PublicAlternatives is how many open slots a rejected public booking offers.
const PublicAlternatives = 3

// Service runs the read-decide-write flows. Every mutation happens inside
// Repository.InHostTx, together with the outbox events it produces.
type Service struct {
	repo   Repository
	facade *Facade
	logger *slog.Logger
}

func NewService(repo Repository, facade *Facade, logger *slog.Logger) *Service {
	return &Service{repo: repo, facade: facade, logger: logger}
}

func (s *Service) Facade() *Facade {
	return s.facade
}

type AppointmentInput struct {
	HostUserID string
	GuestName  string
	GuestEmail string
	Title      string
	Reason     string
	StartTime  time.Time
	EndTime    time.Time
	Status     model.AppointmentStatus
}

type WaitlistInput struct {
	HostUserID     string
	GuestName      string
	GuestEmail     string
	GuestReason    string
	PreferredStart time.Time
	PreferredEnd   time.Time
}

// Booking is a stored appointment plus the non-blocking verdict, if any.
// Rebooked is set when a move freed a window that a waiting guest took.
type Booking struct {
	Appointment model.Appointment  `json:"appointment"`
	Warning     *conflict.Verdict  `json:"warning,omitempty"`
	Rebooked    *model.Appointment `json:"rebooked,omitempty"`
}

type CancelResult struct {
	Appointment   model.Appointment    `json:"appointment"`
	Rebooked      *model.Appointment   `json:"rebooked,omitempty"`
	WaitlistEntry *model.WaitlistEntry `json:"waitlist_entry,omitempty"`
}

func (s *Service) CreateAppointment(ctx context.Context, in AppointmentInput) (Booking, error) {
	ctx, span := s.start(ctx, "scheduling.CreateAppointment", in.HostUserID)
	defer span.End()

	appt, err := s.newAppointment(in, false)
	if err != nil {
		return Booking{}, err
	}
	var out Booking
	err = s.repo.InHostTx(ctx, appt.HostUserID, func(ctx context.Context, tx Tx) error {
		rules, existing, err := s.loadDay(ctx, tx, appt)
		if err != nil {
			return err
		}
		v := s.facade.ValidateMutation(appt, existing, rules)
		if v.Blocking() {
			return &ConflictError{Verdict: v}
		}
		if err := s.insertAppointment(ctx, tx, appt); err != nil {
			return err
		}
		out = Booking{Appointment: appt, Warning: warning(v)}
		return nil
	})
	if err != nil {
		recordErr(span, err)
		return Booking{}, err
	}
	s.logger.Info("appointment booked", "appointment_id", appt.ID, "host_user_id", appt.HostUserID, "status", appt.Status)
	return out, nil
}

// PublicBook books a guest into an open public slot. Requests that do not
// line up with available slots fail with a ConflictError listing the next
// open slots of that day.
func (s *Service) PublicBook(ctx context.Context, in AppointmentInput) (Booking, error) {
	ctx, span := s.start(ctx, "scheduling.PublicBook", in.HostUserID)
	defer span.End()

	in.Status = model.StatusConfirmed
	appt, err := s.newAppointment(in, true)
	if err != nil {
		return Booking{}, err
	}
	var out Booking
	err = s.repo.InHostTx(ctx, appt.HostUserID, func(ctx context.Context, tx Tx) error {
		rules, existing, err := s.loadDay(ctx, tx, appt)
		if err != nil {
			return err
		}
		slots, err := availability.Resolve(rules, existing, timewindow.Day(appt.StartTime), s.facade.StepMinutes())
		if err != nil {
			return err
		}
		now := s.facade.now()
		v := s.facade.ValidateMutation(appt, existing, rules)
		if appt.StartTime.Before(now) || !coveredByAvailable(slots, appt.Window()) || v.Blocking() {
			return &ConflictError{
				Verdict:      v,
				Alternatives: nextAvailable(slots, later(appt.StartTime, now), PublicAlternatives),
				Reason:       "requested time is not available",
			}
		}
		if err := s.insertAppointment(ctx, tx, appt); err != nil {
			return err
		}
		out = Booking{Appointment: appt, Warning: warning(v)}
		return nil
	})
	if err != nil {
		recordErr(span, err)
		return Booking{}, err
	}
	s.logger.Info("public booking", "appointment_id", appt.ID, "host_user_id", appt.HostUserID)
	return out, nil
}

// RescheduleAppointment moves an active appointment and offers the window it
// left to the waitlist.
func (s *Service) RescheduleAppointment(ctx context.Context, hostID, id string, start, end time.Time) (Booking, error) {
	ctx, span := s.start(ctx, "scheduling.RescheduleAppointment", hostID)
	defer span.End()

	if err := validWindow(start, end); err != nil {
		return Booking{}, err
	}
	var out Booking
	err := s.repo.InHostTx(ctx, hostID, func(ctx context.Context, tx Tx) error {
		cur, err := tx.GetAppointment(ctx, hostID, id)
		if err != nil {
			return err
		}
		if !cur.Active() {
			return fmt.Errorf("%w: appointment %s is cancelled", model.ErrInvalidInput, id)
		}
		old := cur
		cur.StartTime = start.In(s.facade.Location())
		cur.EndTime = end.In(s.facade.Location())

		rules, existing, err := s.loadDay(ctx, tx, cur)
		if err != nil {
			return err
		}
		v := s.facade.ValidateMutation(cur, existing, rules)
		if v.Blocking() {
			return &ConflictError{Verdict: v}
		}
		if err := tx.UpdateAppointment(ctx, cur); err != nil {
			return overlapAsConflict(err)
		}
		if err := s.appendAppointmentEvent(ctx, tx, outbox.TopicAppointmentRescheduled, cur); err != nil {
			return err
		}
		res, err := s.rebookFreed(ctx, tx, old)
		if err != nil {
			return err
		}
		out = Booking{Appointment: cur, Warning: warning(v)}
		if res != nil {
			out.Rebooked = &res.Appointment
		}
		return nil
	})
	if err != nil {
		recordErr(span, err)
		return Booking{}, err
	}
	s.logger.Info("appointment rescheduled", "appointment_id", id, "host_user_id", hostID)
	return out, nil
}

// CancelAppointment cancels an appointment and, in the same unit, hands the
// freed window to the oldest matching waitlist entry. Cancelling twice is a
// no-op that returns the stored appointment.
func (s *Service) CancelAppointment(ctx context.Context, hostID, id string) (CancelResult, error) {
	ctx, span := s.start(ctx, "scheduling.CancelAppointment", hostID)
	defer span.End()

	var out CancelResult
	err := s.repo.InHostTx(ctx, hostID, func(ctx context.Context, tx Tx) error {
		cur, err := tx.GetAppointment(ctx, hostID, id)
		if err != nil {
			return err
		}
		out.Appointment = cur
		if !cur.Active() {
			return nil
		}
		now := s.facade.now()
		cur.Status = model.StatusCancelled
		cur.CancelledAt = &now
		if err := tx.UpdateAppointment(ctx, cur); err != nil {
			return err
		}
		if err := s.appendAppointmentEvent(ctx, tx, outbox.TopicAppointmentCancelled, cur); err != nil {
			return err
		}
		out.Appointment = cur

		res, err := s.rebookFreed(ctx, tx, cur)
		if err != nil {
			return err
		}
		if res != nil {
			out.Rebooked = &res.Appointment
			out.WaitlistEntry = &res.Entry
		}
		return nil
	})
	if err != nil {
		recordErr(span, err)
		return CancelResult{}, err
	}
	s.logger.Info("appointment cancelled", "appointment_id", id, "host_user_id", hostID, "rebooked", out.Rebooked != nil)
	return out, nil
}

// HandleSlotFreed offers a window freed outside this service to the waitlist.
func (s *Service) HandleSlotFreed(ctx context.Context, hostID string, w timewindow.Window) (*waitlist.Result, error) {
	ctx, span := s.start(ctx, "scheduling.HandleSlotFreed", hostID)
	defer span.End()

	if strings.TrimSpace(hostID) == "" {
		return nil, fmt.Errorf("%w: host_user_id is required", model.ErrInvalidInput)
	}
	if err := validWindow(w.Start, w.End); err != nil {
		return nil, err
	}
	var out *waitlist.Result
	err := s.repo.InHostTx(ctx, hostID, func(ctx context.Context, tx Tx) error {
		freed := model.Appointment{HostUserID: hostID, StartTime: w.Start, EndTime: w.End, Status: model.StatusCancelled}
		res, err := s.rebookFreed(ctx, tx, freed)
		out = res
		return err
	})
	if err != nil {
		recordErr(span, err)
		return nil, err
	}
	return out, nil
}

// rebookFreed runs the waitlist matcher for freed and persists the match.
// A match whose window is no longer free is skipped, not an error.
func (s *Service) rebookFreed(ctx context.Context, tx Tx, freed model.Appointment) (*waitlist.Result, error) {
	entries, err := tx.ListWaitlist(ctx, freed.HostUserID, model.WaitlistWaiting)
	if err != nil {
		return nil, err
	}
	res, ok := s.facade.OnFreed(freed, entries)
	if !ok {
		return nil, nil
	}
	res.Appointment.ID = uuid.NewString()
	res.Appointment.CreatedAt = s.facade.now()
	res.Appointment.StartTime = res.Appointment.StartTime.In(s.facade.Location())
	res.Appointment.EndTime = res.Appointment.EndTime.In(s.facade.Location())

	rules, existing, err := s.loadDay(ctx, tx, res.Appointment)
	if err != nil {
		return nil, err
	}
	if v := s.facade.ValidateMutation(res.Appointment, existing, rules); v.Blocking() {
		s.logger.Warn("waitlist match skipped, window still taken",
			"host_user_id", freed.HostUserID, "waitlist_entry_id", res.Entry.ID, "conflict", v.Kind)
		return nil, nil
	}

	if err := tx.UpdateWaitlistStatus(ctx, freed.HostUserID, res.Entry.ID, model.WaitlistBooked); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// Expired by the sweep since it was listed.
			return nil, nil
		}
		return nil, err
	}
	if err := s.insertAppointment(ctx, tx, res.Appointment); err != nil {
		return nil, err
	}
	evt, err := outbox.WaitlistBookedEvent(res.Entry, res.Appointment, s.facade.now())
	if err != nil {
		return nil, err
	}
	if err := tx.AppendEvent(ctx, evt); err != nil {
		return nil, err
	}
	s.logger.Info("waitlist entry booked",
		"waitlist_entry_id", res.Entry.ID, "appointment_id", res.Appointment.ID, "host_user_id", freed.HostUserID)
	return &res, nil
}

// ValidateCandidate previews the verdict for a new or moved appointment
// without writing anything. excludeID names the stored version of an
// appointment being moved.
func (s *Service) ValidateCandidate(ctx context.Context, in AppointmentInput, excludeID string) (conflict.Verdict, error) {
	appt, err := s.newAppointment(in, false)
	if err != nil {
		return conflict.Verdict{}, err
	}
	appt.ID = excludeID
	rules, existing, err := s.loadDay(ctx, s.repo, appt)
	if err != nil {
		return conflict.Verdict{}, err
	}
	return s.facade.ValidateMutation(appt, existing, rules), nil
}

func (s *Service) JoinWaitlist(ctx context.Context, in WaitlistInput) (model.WaitlistEntry, error) {
	if err := validateGuest(in.HostUserID, in.GuestName, in.GuestEmail); err != nil {
		return model.WaitlistEntry{}, err
	}
	if err := validWindow(in.PreferredStart, in.PreferredEnd); err != nil {
		return model.WaitlistEntry{}, err
	}
	now := s.facade.now()
	if !in.PreferredEnd.After(now) {
		return model.WaitlistEntry{}, fmt.Errorf("%w: preferred window is in the past", model.ErrInvalidInput)
	}
	entry := model.WaitlistEntry{
		ID:             uuid.NewString(),
		HostUserID:     in.HostUserID,
		GuestName:      strings.TrimSpace(in.GuestName),
		GuestEmail:     strings.TrimSpace(in.GuestEmail),
		GuestReason:    strings.TrimSpace(in.GuestReason),
		PreferredStart: in.PreferredStart.In(s.facade.Location()),
		PreferredEnd:   in.PreferredEnd.In(s.facade.Location()),
		Status:         model.WaitlistWaiting,
		CreatedAt:      now,
	}
	err := s.repo.InHostTx(ctx, entry.HostUserID, func(ctx context.Context, tx Tx) error {
		return tx.InsertWaitlistEntry(ctx, entry)
	})
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	s.logger.Info("waitlist joined", "waitlist_entry_id", entry.ID, "host_user_id", entry.HostUserID)
	return entry, nil
}

func (s *Service) ListWaitlist(ctx context.Context, hostID string) ([]model.WaitlistEntry, error) {
	return s.repo.ListWaitlist(ctx, hostID, "")
}

func (s *Service) RemoveWaitlistEntry(ctx context.Context, hostID, id string) error {
	return s.repo.InHostTx(ctx, hostID, func(ctx context.Context, tx Tx) error {
		return tx.DeleteWaitlistEntry(ctx, hostID, id)
	})
}

// ReplaceRules overwrites the host's whole weekly rule set.
func (s *Service) ReplaceRules(ctx context.Context, hostID string, rules []model.AvailabilityRule) ([]model.AvailabilityRule, error) {
	if err := availability.ValidateRules(rules); err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []model.AvailabilityRule{}
	}
	err := s.repo.InHostTx(ctx, hostID, func(ctx context.Context, tx Tx) error {
		return tx.ReplaceRules(ctx, hostID, rules)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("availability replaced", "host_user_id", hostID, "rules", len(rules))
	return rules, nil
}

func (s *Service) ListRules(ctx context.Context, hostID string) ([]model.AvailabilityRule, error) {
	return s.repo.ListRules(ctx, hostID)
}

func (s *Service) ListAppointments(ctx context.Context, hostID string, from, to time.Time) ([]model.Appointment, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: to must be after from", model.ErrInvalidRange)
	}
	return s.repo.ListAppointments(ctx, hostID, from, to)
}

func (s *Service) ListActiveAppointments(ctx context.Context, hostID string, from, to time.Time) ([]model.Appointment, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: to must be after from", model.ErrInvalidRange)
	}
	return s.repo.ListActiveAppointments(ctx, hostID, from, to)
}

func (s *Service) GetAppointment(ctx context.Context, hostID, id string) (model.Appointment, error) {
	return s.repo.GetAppointment(ctx, hostID, id)
}

// loadDay reads the host's rules and the active appointments around the
// candidate's day: the day before for overlaps across midnight, the day
// after for suggestions.
func (s *Service) loadDay(ctx context.Context, r Reader, candidate model.Appointment) ([]model.AvailabilityRule, []model.Appointment, error) {
	rules, err := r.ListRules(ctx, candidate.HostUserID)
	if err != nil {
		return nil, nil, err
	}
	day := timewindow.Day(candidate.StartTime)
	existing, err := r.ListActiveAppointments(ctx, candidate.HostUserID, day.Start.AddDate(0, 0, -1), day.End.AddDate(0, 0, 1))
	if err != nil {
		return nil, nil, err
	}
	return rules, existing, nil
}

func (s *Service) insertAppointment(ctx context.Context, tx Tx, a model.Appointment) error {
	if err := tx.InsertAppointment(ctx, a); err != nil {
		return overlapAsConflict(err)
	}
	return s.appendAppointmentEvent(ctx, tx, outbox.TopicAppointmentBooked, a)
}

func (s *Service) appendAppointmentEvent(ctx context.Context, tx Tx, topic string, a model.Appointment) error {
	evt, err := outbox.AppointmentEvent(topic, a, s.facade.now())
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, evt)
}

func (s *Service) newAppointment(in AppointmentInput, public bool) (model.Appointment, error) {
	if strings.TrimSpace(in.HostUserID) == "" {
		return model.Appointment{}, fmt.Errorf("%w: host_user_id is required", model.ErrInvalidInput)
	}
	if public {
		if err := validateGuest(in.HostUserID, in.GuestName, in.GuestEmail); err != nil {
			return model.Appointment{}, err
		}
	}
	if err := validWindow(in.StartTime, in.EndTime); err != nil {
		return model.Appointment{}, err
	}
	status := in.Status
	if status == "" {
		status = model.StatusConfirmed
	}
	if status != model.StatusConfirmed && status != model.StatusFocus {
		return model.Appointment{}, fmt.Errorf("%w: status must be confirmed or focus", model.ErrInvalidInput)
	}
	title := strings.TrimSpace(in.Title)
	switch {
	case title != "":
	case status == model.StatusFocus:
		title = "Focus time"
	case strings.TrimSpace(in.GuestName) != "":
		title = waitlist.Title(strings.TrimSpace(in.GuestName))
	default:
		title = "Appointment"
	}
	loc := s.facade.Location()
	return model.Appointment{
		ID:         uuid.NewString(),
		HostUserID: in.HostUserID,
		GuestName:  strings.TrimSpace(in.GuestName),
		GuestEmail: strings.TrimSpace(in.GuestEmail),
		Title:      title,
		Reason:     strings.TrimSpace(in.Reason),
		StartTime:  in.StartTime.In(loc),
		EndTime:    in.EndTime.In(loc),
		Status:     status,
		CreatedAt:  s.facade.now(),
	}, nil
}

func (s *Service) start(ctx context.Context, name, hostID string) (context.Context, trace.Span) {
	return s.facade.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("host_user_id", hostID)))
}

func recordErr(span trace.Span, err error) {
	if _, ok := AsConflict(err); ok {
		span.SetAttributes(attribute.Bool("conflict", true))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func validateGuest(hostID, name, email string) error {
	if strings.TrimSpace(hostID) == "" {
		return fmt.Errorf("%w: host_user_id is required", model.ErrInvalidInput)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: guest_name is required", model.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
		return fmt.Errorf("%w: guest_email is not a valid address", model.ErrInvalidInput)
	}
	return nil
}

func validWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start_time and end_time are required", model.ErrInvalidInput)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end_time must be after start_time", model.ErrInvalidInput)
	}
	return nil
}

func overlapAsConflict(err error) error {
	if errors.Is(err, model.ErrOverlap) {
		return &ConflictError{Verdict: conflict.Verdict{Conflict: true, Kind: conflict.KindDoubleBooking}}
	}
	return err
}

func warning(v conflict.Verdict) *conflict.Verdict {
	if !v.Conflict {
		return nil
	}
	return &v
}

// coveredByAvailable reports whether consecutive available slots, starting
// exactly at w.Start, reach w.End.
func coveredByAvailable(slots []model.Slot, w timewindow.Window) bool {
	cursor := w.Start
	for _, s := range slots {
		if !s.Available || !s.Start.Equal(cursor) {
			continue
		}
		cursor = s.End
		if !cursor.Before(w.End) {
			return true
		}
	}
	return false
}

func nextAvailable(slots []model.Slot, from time.Time, n int) []model.Slot {
	out := availability.OnlyAvailable(slots, from)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
