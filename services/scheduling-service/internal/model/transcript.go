package model

import "time"

// Transcript is the text of a meeting, attached to an appointment. A host may
// upload several; the latest one is used for debriefs.
type Transcript struct {
	ID            string    `json:"id"`
	AppointmentID string    `json:"appointment_id"`
	HostUserID    string    `json:"host_user_id"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// Debrief is the AI summary of a transcript.
type Debrief struct {
	ID                    string     `json:"id"`
	AppointmentID         string     `json:"appointment_id"`
	HostUserID            string     `json:"host_user_id"`
	TranscriptID          string     `json:"transcript_id"`
	Summary               string     `json:"summary"`
	ActionItems           []string   `json:"action_items"`
	SuggestedFollowupDate *time.Time `json:"suggested_followup_date,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}
