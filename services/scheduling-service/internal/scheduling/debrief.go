package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/schedai/schedai/services/scheduling-service/internal/aiclient"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/outbox"
)

// ErrDebriefFailed wraps an AI service error so callers can tell it from a
// storage failure. aiclient.ErrDisabled is passed through as is.
var ErrDebriefFailed = errors.New("debrief failed")

// SaveTranscript attaches a transcript to one of the host's appointments.
// Earlier transcripts are kept; the newest one wins.
func (s *Service) SaveTranscript(ctx context.Context, hostID, appointmentID, content string) (model.Transcript, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Transcript{}, fmt.Errorf("%w: content is required", model.ErrInvalidInput)
	}
	tr := model.Transcript{
		ID:            uuid.NewString(),
		AppointmentID: appointmentID,
		HostUserID:    hostID,
		Content:       content,
		CreatedAt:     s.facade.now(),
	}
	err := s.repo.InHostTx(ctx, hostID, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetAppointment(ctx, hostID, appointmentID); err != nil {
			return err
		}
		return tx.InsertTranscript(ctx, tr)
	})
	if err != nil {
		return model.Transcript{}, err
	}
	s.logger.Info("transcript saved", "appointment_id", appointmentID, "host_user_id", hostID, "bytes", len(content))
	return tr, nil
}

func (s *Service) LatestTranscript(ctx context.Context, hostID, appointmentID string) (model.Transcript, error) {
	return s.repo.LatestTranscript(ctx, hostID, appointmentID)
}

func (s *Service) LatestDebrief(ctx context.Context, hostID, appointmentID string) (model.Debrief, error) {
	return s.repo.LatestDebrief(ctx, hostID, appointmentID)
}

// Debrief summarizes the newest transcript of the appointment and stores the
// result. The AI call runs outside the host lock.
func (s *Service) Debrief(ctx context.Context, hostID, appointmentID string, ai aiclient.Client) (model.Debrief, error) {
	ctx, span := s.start(ctx, "scheduling.Debrief", hostID)
	defer span.End()

	appt, err := s.repo.GetAppointment(ctx, hostID, appointmentID)
	if err != nil {
		return model.Debrief{}, err
	}
	tr, err := s.repo.LatestTranscript(ctx, hostID, appointmentID)
	if err != nil {
		return model.Debrief{}, err
	}

	res, err := ai.Debrief(ctx, appt, tr.Content)
	switch {
	case errors.Is(err, aiclient.ErrDisabled):
		return model.Debrief{}, err
	case err != nil:
		recordErr(span, err)
		return model.Debrief{}, fmt.Errorf("%w: %w", ErrDebriefFailed, err)
	}

	d := model.Debrief{
		ID:                    uuid.NewString(),
		AppointmentID:         appointmentID,
		HostUserID:            hostID,
		TranscriptID:          tr.ID,
		Summary:               res.Summary,
		ActionItems:           res.ActionItems,
		SuggestedFollowupDate: res.SuggestedFollowup,
		CreatedAt:             s.facade.now(),
	}
	if d.ActionItems == nil {
		d.ActionItems = []string{}
	}
	err = s.repo.InHostTx(ctx, hostID, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertDebrief(ctx, d); err != nil {
			return err
		}
		evt, err := outbox.DebriefEvent(d, d.CreatedAt)
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, evt)
	})
	if err != nil {
		recordErr(span, err)
		return model.Debrief{}, err
	}
	s.logger.Info("debrief stored",
		"debrief_id", d.ID,
		"appointment_id", appointmentID,
		"host_user_id", hostID,
		"action_items", len(d.ActionItems),
	)
	return d, nil
}
