package model

import (
	"time"

	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
)

// Slot is a derived, never stored, candidate booking window. Score and
// Reason are only ever set by the AI collaborator.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
	Score     *float64  `json:"score,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

func (s Slot) Window() timewindow.Window {
	return timewindow.New(s.Start, s.End)
}
