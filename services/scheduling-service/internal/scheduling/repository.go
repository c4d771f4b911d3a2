package scheduling

import (
	"context"
	"time"

	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/outbox"
)

// Reader is the read side of the storage collaborator. Appointment queries
// return appointments overlapping [from, to), ordered by start time.
type Reader interface {
	ListRules(ctx context.Context, hostID string) ([]model.AvailabilityRule, error)
	ListActiveAppointments(ctx context.Context, hostID string, from, to time.Time) ([]model.Appointment, error)
	ListAppointments(ctx context.Context, hostID string, from, to time.Time) ([]model.Appointment, error)
	// GetAppointment returns an error wrapping model.ErrNotFound when absent.
	GetAppointment(ctx context.Context, hostID, id string) (model.Appointment, error)
	// ListWaitlist returns entries oldest first. An empty status lists all.
	ListWaitlist(ctx context.Context, hostID string, status model.WaitlistStatus) ([]model.WaitlistEntry, error)
	// LatestTranscript and LatestDebrief return the newest row for the
	// appointment, or an error wrapping model.ErrNotFound.
	LatestTranscript(ctx context.Context, hostID, appointmentID string) (model.Transcript, error)
	LatestDebrief(ctx context.Context, hostID, appointmentID string) (model.Debrief, error)
}

// Tx is one atomic unit of work scoped to a single host.
type Tx interface {
	Reader
	ReplaceRules(ctx context.Context, hostID string, rules []model.AvailabilityRule) error
	InsertAppointment(ctx context.Context, a model.Appointment) error
	UpdateAppointment(ctx context.Context, a model.Appointment) error
	InsertWaitlistEntry(ctx context.Context, e model.WaitlistEntry) error
	// UpdateWaitlistStatus moves a waiting entry to status. It returns
	// model.ErrNotFound when no waiting entry with that id exists.
	UpdateWaitlistStatus(ctx context.Context, hostID, id string, status model.WaitlistStatus) error
	DeleteWaitlistEntry(ctx context.Context, hostID, id string) error
	InsertTranscript(ctx context.Context, t model.Transcript) error
	InsertDebrief(ctx context.Context, d model.Debrief) error
	AppendEvent(ctx context.Context, evt outbox.Event) error
}

// Repository serializes read-decide-write sequences per host. fn runs with
// every other unit for the same host excluded; its writes are committed only
// if it returns nil.
type Repository interface {
	Reader
	InHostTx(ctx context.Context, hostID string, fn func(ctx context.Context, tx Tx) error) error
}
