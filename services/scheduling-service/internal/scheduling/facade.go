// Package scheduling wires the pure availability, conflict and waitlist
// engines to storage.
package scheduling

import (
	"context"
	"time"

	"github.com/schedai/schedai/services/scheduling-service/internal/availability"
	"github.com/schedai/schedai/services/scheduling-service/internal/conflict"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
	"github.com/schedai/schedai/services/scheduling-service/internal/waitlist"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultRangeDays = 7

// MaxRangeDays caps public slot queries.
const MaxRangeDays = 60

type FacadeConfig struct {
	StepMinutes int
	RangeDays   int
	// Location decides where "today" starts for public slot listings.
	Location *time.Location
	Now      func() time.Time
}

type Facade struct {
	repo   Reader
	step   int
	days   int
	loc    *time.Location
	now    func() time.Time
	tracer trace.Tracer
}

func NewFacade(repo Reader, cfg FacadeConfig) *Facade {
	if cfg.StepMinutes <= 0 {
		cfg.StepMinutes = availability.DefaultStepMinutes
	}
	if cfg.RangeDays <= 0 {
		cfg.RangeDays = DefaultRangeDays
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Facade{
		repo:   repo,
		step:   cfg.StepMinutes,
		days:   cfg.RangeDays,
		loc:    cfg.Location,
		now:    cfg.Now,
		tracer: otel.Tracer("scheduling"),
	}
}

// GetPublicSlots lists the host's open slots from the start of today for
// rangeDays days, skipping slots that have already started.
func (f *Facade) GetPublicSlots(ctx context.Context, hostID string, rangeDays int) ([]model.Slot, error) {
	ctx, span := f.tracer.Start(ctx, "scheduling.GetPublicSlots", trace.WithAttributes(
		attribute.String("host_user_id", hostID),
		attribute.Int("range_days", rangeDays),
	))
	defer span.End()

	now := f.now().In(f.loc)
	rng := f.publicRange(now, rangeDays)

	rules, err := f.repo.ListRules(ctx, hostID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	// Pull a day either side so buffers around midnight are honoured.
	appts, err := f.repo.ListActiveAppointments(ctx, hostID, rng.Start.AddDate(0, 0, -1), rng.End.AddDate(0, 0, 1))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	slots, err := availability.Resolve(rules, appts, rng, f.step)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := availability.OnlyAvailable(slots, now)
	span.SetAttributes(attribute.Int("slots", len(out)))
	return out, nil
}

func (f *Facade) publicRange(now time.Time, rangeDays int) timewindow.Window {
	if rangeDays <= 0 {
		rangeDays = f.days
	}
	rangeDays = min(rangeDays, MaxRangeDays)
	start := timewindow.StartOfDay(now)
	return timewindow.New(start, start.AddDate(0, 0, rangeDays))
}

// ValidateMutation runs the conflict detector with suggestions drawn from rules.
func (f *Facade) ValidateMutation(candidate model.Appointment, existing []model.Appointment, rules []model.AvailabilityRule) conflict.Verdict {
	return conflict.Check(candidate, existing, &conflict.SuggestionSource{Rules: rules, StepMinutes: f.step})
}

func (f *Facade) OnFreed(freed model.Appointment, entries []model.WaitlistEntry) (waitlist.Result, bool) {
	return waitlist.Match(freed, entries)
}

func (f *Facade) Location() *time.Location {
	return f.loc
}

func (f *Facade) StepMinutes() int {
	return f.step
}
