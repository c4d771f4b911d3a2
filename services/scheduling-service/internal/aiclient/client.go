// Package aiclient talks to the external AI service that scores slots,
// proposes an optimized week and summarizes meeting transcripts. Every
// caller must cope with it being down.
package aiclient

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/schedai/schedai/services/scheduling-service/internal/model"
)

var ErrDisabled = errors.New("ai service not configured")

type Client interface {
	// ScoreSlots returns slots with Score and Reason filled in where the AI
	// service rated them. Slots it skipped come back unscored.
	ScoreSlots(ctx context.Context, slots []model.Slot, hints map[string]string) ([]model.Slot, error)
	OptimizeWeek(ctx context.Context, appts []model.Appointment) (OptimizeResult, error)
	Debrief(ctx context.Context, appt model.Appointment, transcript string) (DebriefResult, error)
}

type OptimizeResult struct {
	Optimized   []model.Appointment `json:"optimized"`
	BeforeScore int                 `json:"before_score"`
	AfterScore  int                 `json:"after_score"`
}

type DebriefResult struct {
	Summary     string
	ActionItems []string
	// SuggestedFollowup is a calendar date, nil when the AI proposed none or
	// sent something that is not YYYY-MM-DD.
	SuggestedFollowup *time.Time
}

type Config struct {
	// HTTPURL is the base URL of the JSON API, e.g. http://ai:8090.
	HTTPURL string
	// GRPCAddr is used when HTTPURL is empty.
	GRPCAddr string
	Timeout  time.Duration
}

// New picks a transport from cfg. With neither address set it returns
// Disabled.
func New(cfg Config) (Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	switch {
	case cfg.HTTPURL != "":
		return NewHTTP(cfg.HTTPURL, cfg.Timeout), nil
	case cfg.GRPCAddr != "":
		return NewGRPC(cfg.GRPCAddr, cfg.Timeout)
	}
	return Disabled{}, nil
}

type Disabled struct{}

func (Disabled) ScoreSlots(context.Context, []model.Slot, map[string]string) ([]model.Slot, error) {
	return nil, ErrDisabled
}

func (Disabled) OptimizeWeek(context.Context, []model.Appointment) (OptimizeResult, error) {
	return OptimizeResult{}, ErrDisabled
}

func (Disabled) Debrief(context.Context, model.Appointment, string) (DebriefResult, error) {
	return DebriefResult{}, ErrDisabled
}

// ScoreOrFallback scores slots and returns them unscored when the AI
// service fails. The error is returned for logging only.
func ScoreOrFallback(ctx context.Context, c Client, slots []model.Slot, hints map[string]string) ([]model.Slot, error) {
	if len(slots) == 0 {
		return slots, nil
	}
	scored, err := c.ScoreSlots(ctx, slots, hints)
	if err != nil {
		return slots, err
	}
	return scored, nil
}

type wireSlot struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Score  *float64  `json:"score,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

type scoreRequest struct {
	Slots   []wireSlot        `json:"slots"`
	Context map[string]string `json:"context,omitempty"`
}

type scoreResponse struct {
	Slots []wireSlot `json:"slots"`
}

type wireAppointment struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"`
}

type optimizeRequest struct {
	Appointments []wireAppointment `json:"appointments"`
}

type optimizeResponse struct {
	BeforeScore int               `json:"before_score"`
	AfterScore  int               `json:"after_score"`
	Optimized   []wireAppointment `json:"optimized"`
}

type debriefRequest struct {
	AppointmentID string `json:"appointment_id"`
	Title         string `json:"title,omitempty"`
	Transcript    string `json:"transcript"`
}

type debriefResponse struct {
	Summary               string   `json:"summary"`
	ActionItems           []string `json:"action_items"`
	SuggestedFollowupDate string   `json:"suggested_followup_date"`
}

func toDebriefRequest(appt model.Appointment, transcript string) debriefRequest {
	return debriefRequest{AppointmentID: appt.ID, Title: appt.Title, Transcript: transcript}
}

func fromDebrief(resp debriefResponse) DebriefResult {
	res := DebriefResult{
		Summary:     strings.TrimSpace(resp.Summary),
		ActionItems: make([]string, 0, len(resp.ActionItems)),
	}
	for _, item := range resp.ActionItems {
		if item = strings.TrimSpace(item); item != "" {
			res.ActionItems = append(res.ActionItems, item)
		}
	}
	if d, err := time.Parse(time.DateOnly, strings.TrimSpace(resp.SuggestedFollowupDate)); err == nil {
		res.SuggestedFollowup = &d
	}
	return res
}

func toWireSlots(slots []model.Slot) []wireSlot {
	out := make([]wireSlot, 0, len(slots))
	for _, s := range slots {
		out = append(out, wireSlot{Start: s.Start, End: s.End})
	}
	return out
}

// mergeScores copies scores onto slots by exact start and end. Out of range
// scores are clamped to 0..100.
func mergeScores(slots []model.Slot, scored []wireSlot) []model.Slot {
	type key struct{ start, end int64 }
	byWindow := make(map[key]wireSlot, len(scored))
	for _, s := range scored {
		byWindow[key{s.Start.UnixNano(), s.End.UnixNano()}] = s
	}
	out := make([]model.Slot, len(slots))
	for i, s := range slots {
		out[i] = s
		w, ok := byWindow[key{s.Start.UnixNano(), s.End.UnixNano()}]
		if !ok || w.Score == nil {
			continue
		}
		score := min(max(*w.Score, 0), 100)
		out[i].Score = &score
		out[i].Reason = w.Reason
	}
	return out
}

func toWireAppointments(appts []model.Appointment) []wireAppointment {
	out := make([]wireAppointment, 0, len(appts))
	for _, a := range appts {
		out = append(out, wireAppointment{
			ID:    a.ID,
			Title: a.Title,
			Start: a.StartTime,
			End:   a.EndTime,
			Type:  string(a.Status),
		})
	}
	return out
}

// fromOptimize applies proposed times to the known appointments. Unknown ids
// and proposals with an empty window are dropped.
func fromOptimize(appts []model.Appointment, resp optimizeResponse) OptimizeResult {
	byID := make(map[string]model.Appointment, len(appts))
	for _, a := range appts {
		byID[a.ID] = a
	}
	res := OptimizeResult{
		BeforeScore: resp.BeforeScore,
		AfterScore:  resp.AfterScore,
		Optimized:   make([]model.Appointment, 0, len(resp.Optimized)),
	}
	for _, w := range resp.Optimized {
		a, ok := byID[w.ID]
		if !ok || !w.End.After(w.Start) {
			continue
		}
		loc := a.StartTime.Location()
		a.StartTime = w.Start.In(loc)
		a.EndTime = w.End.In(loc)
		res.Optimized = append(res.Optimized, a)
	}
	return res
}
