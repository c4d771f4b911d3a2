package model

import (
	"time"

	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
)

type WaitlistStatus string

const (
	WaitlistWaiting WaitlistStatus = "waiting"
	WaitlistBooked  WaitlistStatus = "booked"
	WaitlistExpired WaitlistStatus = "expired"
)

type WaitlistEntry struct {
	ID             string         `json:"id"`
	HostUserID     string         `json:"host_user_id"`
	GuestName      string         `json:"guest_name"`
	GuestEmail     string         `json:"guest_email"`
	GuestReason    string         `json:"guest_reason,omitempty"`
	PreferredStart time.Time      `json:"preferred_start"`
	PreferredEnd   time.Time      `json:"preferred_end"`
	Status         WaitlistStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (e WaitlistEntry) Window() timewindow.Window {
	return timewindow.New(e.PreferredStart, e.PreferredEnd)
}
