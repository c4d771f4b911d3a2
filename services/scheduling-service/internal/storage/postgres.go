package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/schedai/schedai/libs/db"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/outbox"
	"github.com/schedai/schedai/services/scheduling-service/internal/scheduling"
)

// querier is the part of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the PostgreSQL repository. A host's units of work are
// serialized with a transaction-scoped advisory lock on the host id.
type PGStore struct {
	reads
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPGStore(pool *db.Pool, outboxRepo *outbox.Repository) *PGStore {
	return &PGStore{reads: reads{q: pool}, pool: pool, outbox: outboxRepo}
}

var _ scheduling.Repository = (*PGStore)(nil)

func (s *PGStore) InHostTx(ctx context.Context, hostID string, fn func(ctx context.Context, tx scheduling.Tx) error) error {
	return s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, hostID); err != nil {
			return fmt.Errorf("lock host: %w", err)
		}
		return fn(ctx, &pgTx{reads: reads{q: tx}, tx: tx, outbox: s.outbox})
	})
}

func (s *PGStore) Relay(ctx context.Context, limit int, send func(context.Context, []outbox.Record) error) (int, error) {
	return s.outbox.Relay(ctx, limit, send)
}

// ExpireWaitlist marks waiting entries whose preferred window has ended.
func (s *PGStore) ExpireWaitlist(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'expired'
		WHERE status = 'waiting' AND preferred_end <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListUpcoming returns active appointments of every host starting in [from, to).
func (s *PGStore) ListUpcoming(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status <> 'cancelled' AND start_time >= $1 AND start_time < $2
		ORDER BY start_time, id
	`, from, to)
}

func (s *PGStore) PublishEvent(ctx context.Context, evt outbox.Event) error {
	return s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		return s.outbox.Insert(ctx, tx, evt)
	})
}

type pgTx struct {
	reads
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) ReplaceRules(ctx context.Context, hostID string, rules []model.AvailabilityRule) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM availability_rules WHERE host_user_id = $1`, hostID); err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"availability_rules"},
		[]string{"host_user_id", "day_of_week", "start_time", "end_time", "buffer_minutes", "is_bookable"},
		pgx.CopyFromSlice(len(rules), func(i int) ([]any, error) {
			r := rules[i]
			return []any{hostID, int16(r.DayOfWeek), r.StartTime, r.EndTime, int32(r.BufferMinutes), r.IsBookable}, nil
		}),
	)
	return err
}

func (t *pgTx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, host_user_id, guest_name, guest_email, title, reason, start_time, end_time, status, created_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.HostUserID, a.GuestName, a.GuestEmail, a.Title, a.Reason,
		a.StartTime, a.EndTime, string(a.Status), a.CreatedAt, a.CancelledAt)
	return mapWriteErr(err)
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET title = $3,
			reason = $4,
			start_time = $5,
			end_time = $6,
			status = $7,
			cancelled_at = $8
		WHERE id = $1 AND host_user_id = $2
	`, a.ID, a.HostUserID, a.Title, a.Reason, a.StartTime, a.EndTime, string(a.Status), a.CancelledAt)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment %s: %w", a.ID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertWaitlistEntry(ctx context.Context, e model.WaitlistEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO waitlist_entries
			(id, host_user_id, guest_name, guest_email, guest_reason, preferred_start, preferred_end, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.HostUserID, e.GuestName, e.GuestEmail, e.GuestReason,
		e.PreferredStart, e.PreferredEnd, string(e.Status), e.CreatedAt)
	return err
}

func (t *pgTx) UpdateWaitlistStatus(ctx context.Context, hostID, id string, status model.WaitlistStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = $3
		WHERE id = $1 AND host_user_id = $2 AND status = 'waiting'
	`, id, hostID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("waiting entry %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) DeleteWaitlistEntry(ctx context.Context, hostID, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM waitlist_entries WHERE id = $1 AND host_user_id = $2`, id, hostID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("waitlist entry %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertTranscript(ctx context.Context, tr model.Transcript) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transcripts (id, appointment_id, host_user_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tr.ID, tr.AppointmentID, tr.HostUserID, tr.Content, tr.CreatedAt)
	return mapWriteErr(err)
}

func (t *pgTx) InsertDebrief(ctx context.Context, d model.Debrief) error {
	items := d.ActionItems
	if items == nil {
		items = []string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ai_debriefs
			(id, appointment_id, host_user_id, transcript_id, summary, action_items, suggested_followup_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.AppointmentID, d.HostUserID, d.TranscriptID, d.Summary, items, d.SuggestedFollowupDate, d.CreatedAt)
	return mapWriteErr(err)
}

func (t *pgTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

// reads implements scheduling.Reader on either the pool or a transaction.
type reads struct {
	q querier
}

const appointmentColumns = `id, host_user_id, guest_name, guest_email, title, reason,
			start_time, end_time, status, created_at, cancelled_at`

func (r reads) ListRules(ctx context.Context, hostID string) ([]model.AvailabilityRule, error) {
	rows, err := r.q.Query(ctx, `
		SELECT day_of_week, start_time, end_time, buffer_minutes, is_bookable
		FROM availability_rules
		WHERE host_user_id = $1
		ORDER BY id
	`, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []model.AvailabilityRule{}
	for rows.Next() {
		var (
			rule   model.AvailabilityRule
			day    int16
			buffer int32
		)
		if err := rows.Scan(&day, &rule.StartTime, &rule.EndTime, &buffer, &rule.IsBookable); err != nil {
			return nil, err
		}
		rule.DayOfWeek = int(day)
		rule.BufferMinutes = int(buffer)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r reads) ListActiveAppointments(ctx context.Context, hostID string, from, to time.Time) ([]model.Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE host_user_id = $1
			AND status <> 'cancelled'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time, id
	`, hostID, from, to)
}

func (r reads) ListAppointments(ctx context.Context, hostID string, from, to time.Time) ([]model.Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE host_user_id = $1
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time, id
	`, hostID, from, to)
}

func (r reads) GetAppointment(ctx context.Context, hostID, id string) (model.Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND host_user_id = $2
	`, id, hostID)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	return a, err
}

func (r reads) ListWaitlist(ctx context.Context, hostID string, status model.WaitlistStatus) ([]model.WaitlistEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, host_user_id, guest_name, guest_email, guest_reason,
			preferred_start, preferred_end, status, created_at
		FROM waitlist_entries
		WHERE host_user_id = $1 AND ($2::text = '' OR status = $2)
		ORDER BY created_at, id
	`, hostID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.WaitlistEntry{}
	for rows.Next() {
		var (
			e  model.WaitlistEntry
			st string
		)
		if err := rows.Scan(&e.ID, &e.HostUserID, &e.GuestName, &e.GuestEmail, &e.GuestReason,
			&e.PreferredStart, &e.PreferredEnd, &st, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = model.WaitlistStatus(st)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r reads) LatestTranscript(ctx context.Context, hostID, appointmentID string) (model.Transcript, error) {
	var tr model.Transcript
	err := r.q.QueryRow(ctx, `
		SELECT id, appointment_id, host_user_id, content, created_at
		FROM transcripts
		WHERE host_user_id = $1 AND appointment_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, hostID, appointmentID).Scan(&tr.ID, &tr.AppointmentID, &tr.HostUserID, &tr.Content, &tr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Transcript{}, fmt.Errorf("transcript for %s: %w", appointmentID, model.ErrNotFound)
	}
	return tr, err
}

func (r reads) LatestDebrief(ctx context.Context, hostID, appointmentID string) (model.Debrief, error) {
	var d model.Debrief
	err := r.q.QueryRow(ctx, `
		SELECT id, appointment_id, host_user_id, transcript_id, summary, action_items,
			suggested_followup_date, created_at
		FROM ai_debriefs
		WHERE host_user_id = $1 AND appointment_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, hostID, appointmentID).Scan(&d.ID, &d.AppointmentID, &d.HostUserID, &d.TranscriptID, &d.Summary,
		&d.ActionItems, &d.SuggestedFollowupDate, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Debrief{}, fmt.Errorf("debrief for %s: %w", appointmentID, model.ErrNotFound)
	}
	return d, err
}

func (r reads) queryAppointments(ctx context.Context, sql string, args ...any) ([]model.Appointment, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appts := []model.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a      model.Appointment
		status string
	)
	err := row.Scan(
		&a.ID,
		&a.HostUserID,
		&a.GuestName,
		&a.GuestEmail,
		&a.Title,
		&a.Reason,
		&a.StartTime,
		&a.EndTime,
		&status,
		&a.CreatedAt,
		&a.CancelledAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.AppointmentStatus(status)
	return a, nil
}

// mapWriteErr turns the overlap exclusion constraint into model.ErrOverlap
// and a missing parent row into model.ErrNotFound.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23P01":
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, model.ErrOverlap)
	case "23503":
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, model.ErrNotFound)
	}
	return err
}
