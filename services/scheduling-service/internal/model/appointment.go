package model

import (
	"time"

	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
)

type AppointmentStatus string

// StatusFocus marks a block the host reserved for focused work. It is active
// like a confirmed appointment.
const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusFocus     AppointmentStatus = "focus"
	StatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusConfirmed, StatusFocus, StatusCancelled:
		return true
	}
	return false
}

type Appointment struct {
	ID          string            `json:"id"`
	HostUserID  string            `json:"host_user_id"`
	GuestName   string            `json:"guest_name"`
	GuestEmail  string            `json:"guest_email"`
	Title       string            `json:"title"`
	Reason      string            `json:"reason,omitempty"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Status      AppointmentStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
}

func (a Appointment) Window() timewindow.Window {
	return timewindow.New(a.StartTime, a.EndTime)
}

// Active reports whether the appointment still occupies its window.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

func (a Appointment) IsFocus() bool {
	return a.Status == StatusFocus
}
