// Package waitlist picks which waiting guest gets a freed slot.
package waitlist

import (
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
)

// Result is the outcome of a successful match. Entry is a copy of the chosen
// entry with Status already set to booked; Appointment has no ID or
// CreatedAt yet, the caller assigns both when persisting.
type Result struct {
	Entry       model.WaitlistEntry
	Appointment model.Appointment
}

// Match offers the freed window to the oldest waiting entry of the same host
// whose preferred window fully contains it. Ties on CreatedAt go to the lowest
// id. At most one entry is booked per call and entries is never modified.
func Match(freed model.Appointment, entries []model.WaitlistEntry) (Result, bool) {
	window := freed.Window()
	if !window.Valid() {
		return Result{}, false
	}

	var best *model.WaitlistEntry
	for i := range entries {
		e := &entries[i]
		if e.Status != model.WaitlistWaiting || e.HostUserID != freed.HostUserID {
			continue
		}
		if !e.Window().Valid() || !timewindow.ContainsWindow(e.Window(), window) {
			continue
		}
		if best == nil || earlier(*e, *best) {
			best = e
		}
	}
	if best == nil {
		return Result{}, false
	}

	entry := *best
	entry.Status = model.WaitlistBooked
	return Result{
		Entry: entry,
		Appointment: model.Appointment{
			HostUserID: freed.HostUserID,
			GuestName:  entry.GuestName,
			GuestEmail: entry.GuestEmail,
			Title:      Title(entry.GuestName),
			Reason:     entry.GuestReason,
			StartTime:  window.Start,
			EndTime:    window.End,
			Status:     model.StatusConfirmed,
		},
	}, true
}

func earlier(a, b model.WaitlistEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func Title(guestName string) string {
	return "Meeting with " + guestName
}
