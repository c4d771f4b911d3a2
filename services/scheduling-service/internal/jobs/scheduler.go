// Package jobs runs the periodic waitlist sweep and the daily digest.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/outbox"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
)

const (
	DefaultExpirySpec = "*/5 * * * *"
	DefaultDigestSpec = "0 18 * * *"
)

type Store interface {
	ExpireWaitlist(ctx context.Context, now time.Time) (int, error)
	ListUpcoming(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	PublishEvent(ctx context.Context, evt outbox.Event) error
}

type Config struct {
	ExpirySpec string
	DigestSpec string
	Location   *time.Location
	Now        func() time.Time
}

type Scheduler struct {
	store  Store
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
	expiry cron.Schedule
	digest cron.Schedule
}

func New(store Store, logger *slog.Logger, cfg Config) (*Scheduler, error) {
	if cfg.ExpirySpec == "" {
		cfg.ExpirySpec = DefaultExpirySpec
	}
	if cfg.DigestSpec == "" {
		cfg.DigestSpec = DefaultDigestSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	expiry, err := cron.ParseStandard(cfg.ExpirySpec)
	if err != nil {
		return nil, fmt.Errorf("expiry schedule %q: %w", cfg.ExpirySpec, err)
	}
	digest, err := cron.ParseStandard(cfg.DigestSpec)
	if err != nil {
		return nil, fmt.Errorf("digest schedule %q: %w", cfg.DigestSpec, err)
	}
	return &Scheduler{
		store:  store,
		logger: logger,
		loc:    cfg.Location,
		now:    cfg.Now,
		expiry: expiry,
		digest: digest,
	}, nil
}

// Run starts both jobs and blocks until ctx is done, then waits for running
// jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	clog := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	c.Schedule(s.expiry, cron.FuncJob(func() {
		if _, err := s.ExpireWaitlist(ctx); err != nil {
			s.logger.Error("waitlist expiry failed", "err", err)
		}
	}))
	c.Schedule(s.digest, cron.FuncJob(func() {
		if _, err := s.PublishDigest(ctx); err != nil {
			s.logger.Error("tomorrow digest failed", "err", err)
		}
	}))

	c.Start()
	s.logger.Info("jobs started", "location", s.loc.String())
	<-ctx.Done()
	<-c.Stop().Done()
}

// ExpireWaitlist expires waiting entries whose preferred window has passed.
func (s *Scheduler) ExpireWaitlist(ctx context.Context) (int, error) {
	n, err := s.store.ExpireWaitlist(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("waitlist entries expired", "count", n)
	}
	return n, nil
}

// PublishDigest emits one digest event listing tomorrow's active
// appointments across all hosts. Days without appointments emit nothing.
func (s *Scheduler) PublishDigest(ctx context.Context) (int, error) {
	now := s.now().In(s.loc)
	tomorrow := timewindow.Day(now.AddDate(0, 0, 1))

	appts, err := s.store.ListUpcoming(ctx, tomorrow.Start, tomorrow.End)
	if err != nil {
		return 0, err
	}
	if len(appts) == 0 {
		return 0, nil
	}
	evt, err := outbox.DigestEvent(tomorrow.Start, appts, now)
	if err != nil {
		return 0, err
	}
	if err := s.store.PublishEvent(ctx, evt); err != nil {
		return 0, err
	}
	s.logger.Info("tomorrow digest queued", "date", tomorrow.Start.Format(time.DateOnly), "appointments", len(appts))
	return len(appts), nil
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
