package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
)

// Topics. The Kafka topic name equals EventType.
const (
	TopicAppointmentBooked      = "scheduling.appointment.booked.v1"
	TopicAppointmentRescheduled = "scheduling.appointment.rescheduled.v1"
	TopicAppointmentCancelled   = "scheduling.appointment.cancelled.v1"
	TopicWaitlistBooked         = "scheduling.waitlist.booked.v1"
	TopicDigestTomorrow         = "scheduling.digest.tomorrow.v1"
	TopicSlotFreed              = "scheduling.slot.freed.v1"
	TopicDebriefCreated         = "scheduling.debrief.created.v1"
)

const (
	AggregateAppointment = "appointment"
	AggregateWaitlist    = "waitlist_entry"
	AggregateHost        = "host"
	AggregateDigest      = "digest"
)

// Event is the domain event envelope written to the outbox table.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Record is an Event as stored, with the trace context of the writer.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

type AppointmentPayload struct {
	AppointmentID string                  `json:"appointment_id"`
	HostUserID    string                  `json:"host_user_id"`
	GuestName     string                  `json:"guest_name"`
	GuestEmail    string                  `json:"guest_email"`
	Title         string                  `json:"title"`
	StartTime     time.Time               `json:"start_time"`
	EndTime       time.Time               `json:"end_time"`
	Status        model.AppointmentStatus `json:"status"`
	OccurredAt    time.Time               `json:"occurred_at"`
}

type WaitlistBookedPayload struct {
	EntryID       string    `json:"waitlist_entry_id"`
	AppointmentID string    `json:"appointment_id"`
	HostUserID    string    `json:"host_user_id"`
	GuestName     string    `json:"guest_name"`
	GuestEmail    string    `json:"guest_email"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// DigestPayload lists the next day's active appointments, one event per run.
type DigestPayload struct {
	Date         string               `json:"date"`
	Appointments []AppointmentPayload `json:"appointments"`
	OccurredAt   time.Time            `json:"occurred_at"`
}

// DebriefPayload lets a follow-up tool schedule the suggested meeting.
type DebriefPayload struct {
	DebriefID             string    `json:"debrief_id"`
	AppointmentID         string    `json:"appointment_id"`
	HostUserID            string    `json:"host_user_id"`
	ActionItems           []string  `json:"action_items"`
	SuggestedFollowupDate string    `json:"suggested_followup_date,omitempty"`
	OccurredAt            time.Time `json:"occurred_at"`
}

// SlotFreedPayload is consumed from other services (calendar sync, admin
// tools) when a host's window opens up outside this service.
type SlotFreedPayload struct {
	HostUserID string    `json:"host_user_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

func appointmentPayload(a model.Appointment, at time.Time) AppointmentPayload {
	return AppointmentPayload{
		AppointmentID: a.ID,
		HostUserID:    a.HostUserID,
		GuestName:     a.GuestName,
		GuestEmail:    a.GuestEmail,
		Title:         a.Title,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        a.Status,
		OccurredAt:    at,
	}
}

func AppointmentEvent(eventType string, a model.Appointment, at time.Time) (Event, error) {
	return newEvent(AggregateAppointment, a.ID, eventType, appointmentPayload(a, at))
}

func WaitlistBookedEvent(e model.WaitlistEntry, a model.Appointment, at time.Time) (Event, error) {
	return newEvent(AggregateWaitlist, e.ID, TopicWaitlistBooked, WaitlistBookedPayload{
		EntryID:       e.ID,
		AppointmentID: a.ID,
		HostUserID:    a.HostUserID,
		GuestName:     e.GuestName,
		GuestEmail:    e.GuestEmail,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		OccurredAt:    at,
	})
}

func DigestEvent(day time.Time, appts []model.Appointment, at time.Time) (Event, error) {
	items := make([]AppointmentPayload, 0, len(appts))
	for _, a := range appts {
		items = append(items, appointmentPayload(a, at))
	}
	date := day.Format(time.DateOnly)
	return newEvent(AggregateDigest, date, TopicDigestTomorrow, DigestPayload{
		Date:         date,
		Appointments: items,
		OccurredAt:   at,
	})
}

func DebriefEvent(d model.Debrief, at time.Time) (Event, error) {
	p := DebriefPayload{
		DebriefID:     d.ID,
		AppointmentID: d.AppointmentID,
		HostUserID:    d.HostUserID,
		ActionItems:   d.ActionItems,
		OccurredAt:    at,
	}
	if d.SuggestedFollowupDate != nil {
		p.SuggestedFollowupDate = d.SuggestedFollowupDate.Format(time.DateOnly)
	}
	return newEvent(AggregateAppointment, d.AppointmentID, TopicDebriefCreated, p)
}

func newEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:       uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
