package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	otelx "github.com/schedai/schedai/libs/otel"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/outbox"
	"github.com/schedai/schedai/services/scheduling-service/internal/scheduling"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
)

// MemoryStore keeps everything in process. It serves local runs without
// DATABASE_URL and the service tests. Units of work for one host are
// serialized by a per-host mutex and applied only when they succeed.
type MemoryStore struct {
	mu          sync.Mutex
	hosts       map[string]*hostState
	locks       map[string]*sync.Mutex
	events      []memEvent
	nextEventID int64

	relayMu sync.Mutex
}

type hostState struct {
	rules    []model.AvailabilityRule
	appts    map[string]model.Appointment
	waitlist map[string]model.WaitlistEntry
	// Append-only, oldest first.
	transcripts []model.Transcript
	debriefs    []model.Debrief
}

type memEvent struct {
	record    outbox.Record
	published bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hosts: map[string]*hostState{},
		locks: map[string]*sync.Mutex{},
	}
}

var (
	_ scheduling.Repository = (*MemoryStore)(nil)
	_ outbox.Source         = (*MemoryStore)(nil)
)

func newHostState() *hostState {
	return &hostState{
		appts:    map[string]model.Appointment{},
		waitlist: map[string]model.WaitlistEntry{},
	}
}

func (h *hostState) clone() *hostState {
	c := &hostState{
		rules:    slices.Clone(h.rules),
		appts:    make(map[string]model.Appointment, len(h.appts)),
		waitlist: make(map[string]model.WaitlistEntry, len(h.waitlist)),

		transcripts: slices.Clone(h.transcripts),
		debriefs:    slices.Clone(h.debriefs),
	}
	for id, a := range h.appts {
		c.appts[id] = a
	}
	for id, e := range h.waitlist {
		c.waitlist[id] = e
	}
	return c
}

func (s *MemoryStore) hostLock(hostID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[hostID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[hostID] = l
	}
	return l
}

// snapshot returns a private copy of the host state.
func (s *MemoryStore) snapshot(hostID string) *hostState {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosts[hostID]
	if !ok {
		return newHostState()
	}
	return h.clone()
}

func (s *MemoryStore) InHostTx(ctx context.Context, hostID string, fn func(ctx context.Context, tx scheduling.Tx) error) error {
	l := s.hostLock(hostID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: s, states: map[string]*hostState{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range tx.states {
		if tx.dirty[id] {
			s.hosts[id] = st
		}
	}
	for _, rec := range tx.events {
		s.nextEventID++
		rec.ID = s.nextEventID
		s.events = append(s.events, memEvent{record: rec})
	}
	return nil
}

func (s *MemoryStore) ListRules(_ context.Context, hostID string) ([]model.AvailabilityRule, error) {
	return listRules(s.snapshot(hostID)), nil
}

func (s *MemoryStore) ListActiveAppointments(_ context.Context, hostID string, from, to time.Time) ([]model.Appointment, error) {
	return listAppointments(s.snapshot(hostID), from, to, true), nil
}

func (s *MemoryStore) ListAppointments(_ context.Context, hostID string, from, to time.Time) ([]model.Appointment, error) {
	return listAppointments(s.snapshot(hostID), from, to, false), nil
}

func (s *MemoryStore) GetAppointment(_ context.Context, hostID, id string) (model.Appointment, error) {
	return getAppointment(s.snapshot(hostID), id)
}

func (s *MemoryStore) ListWaitlist(_ context.Context, hostID string, status model.WaitlistStatus) ([]model.WaitlistEntry, error) {
	return listWaitlist(s.snapshot(hostID), status), nil
}

// ExpireWaitlist marks waiting entries whose preferred window has ended.
func (s *MemoryStore) LatestTranscript(_ context.Context, hostID, appointmentID string) (model.Transcript, error) {
	return latestTranscript(s.snapshot(hostID), appointmentID)
}

func (s *MemoryStore) LatestDebrief(_ context.Context, hostID, appointmentID string) (model.Debrief, error) {
	return latestDebrief(s.snapshot(hostID), appointmentID)
}

func (s *MemoryStore) ExpireWaitlist(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	hosts := make([]string, 0, len(s.hosts))
	for id := range s.hosts {
		hosts = append(hosts, id)
	}
	s.mu.Unlock()

	expired := 0
	for _, hostID := range hosts {
		err := s.InHostTx(ctx, hostID, func(ctx context.Context, tx scheduling.Tx) error {
			entries, err := tx.ListWaitlist(ctx, hostID, model.WaitlistWaiting)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.PreferredEnd.After(now) {
					continue
				}
				if err := tx.UpdateWaitlistStatus(ctx, hostID, e.ID, model.WaitlistExpired); err != nil {
					return err
				}
				expired++
			}
			return nil
		})
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

// ListUpcoming returns active appointments of every host starting in [from, to).
func (s *MemoryStore) ListUpcoming(_ context.Context, from, to time.Time) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, h := range s.hosts {
		for _, a := range h.appts {
			if a.Active() && !a.StartTime.Before(from) && a.StartTime.Before(to) {
				out = append(out, a)
			}
		}
	}
	sortAppointments(out)
	return out, nil
}

func (s *MemoryStore) PublishEvent(ctx context.Context, evt outbox.Event) error {
	rec := newRecord(ctx, evt)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	rec.ID = s.nextEventID
	s.events = append(s.events, memEvent{record: rec})
	return nil
}

// Relay hands up to limit unpublished events to send and marks them
// published when send succeeds.
func (s *MemoryStore) Relay(ctx context.Context, limit int, send func(context.Context, []outbox.Record) error) (int, error) {
	s.relayMu.Lock()
	defer s.relayMu.Unlock()

	s.mu.Lock()
	var batch []outbox.Record
	for _, e := range s.events {
		if len(batch) == limit {
			break
		}
		if !e.published {
			batch = append(batch, e.record)
		}
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}
	if err := send(ctx, batch); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sent := map[int64]bool{}
	for _, rec := range batch {
		sent[rec.ID] = true
	}
	for i := range s.events {
		if sent[s.events[i].record.ID] {
			s.events[i].published = true
		}
	}
	return len(batch), nil
}

// Events returns every committed event in write order.
func (s *MemoryStore) Events() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Record, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.record)
	}
	return out
}

type memTx struct {
	store  *MemoryStore
	states map[string]*hostState
	dirty  map[string]bool
	events []outbox.Record
}

var _ scheduling.Tx = (*memTx)(nil)

func (t *memTx) state(hostID string) *hostState {
	st, ok := t.states[hostID]
	if !ok {
		st = t.store.snapshot(hostID)
		t.states[hostID] = st
	}
	return st
}

func (t *memTx) write(hostID string) *hostState {
	if t.dirty == nil {
		t.dirty = map[string]bool{}
	}
	t.dirty[hostID] = true
	return t.state(hostID)
}

func (t *memTx) ListRules(_ context.Context, hostID string) ([]model.AvailabilityRule, error) {
	return listRules(t.state(hostID)), nil
}

func (t *memTx) ListActiveAppointments(_ context.Context, hostID string, from, to time.Time) ([]model.Appointment, error) {
	return listAppointments(t.state(hostID), from, to, true), nil
}

func (t *memTx) ListAppointments(_ context.Context, hostID string, from, to time.Time) ([]model.Appointment, error) {
	return listAppointments(t.state(hostID), from, to, false), nil
}

func (t *memTx) GetAppointment(_ context.Context, hostID, id string) (model.Appointment, error) {
	return getAppointment(t.state(hostID), id)
}

func (t *memTx) ListWaitlist(_ context.Context, hostID string, status model.WaitlistStatus) ([]model.WaitlistEntry, error) {
	return listWaitlist(t.state(hostID), status), nil
}

func (t *memTx) LatestTranscript(_ context.Context, hostID, appointmentID string) (model.Transcript, error) {
	return latestTranscript(t.state(hostID), appointmentID)
}

func (t *memTx) LatestDebrief(_ context.Context, hostID, appointmentID string) (model.Debrief, error) {
	return latestDebrief(t.state(hostID), appointmentID)
}

func (t *memTx) ReplaceRules(_ context.Context, hostID string, rules []model.AvailabilityRule) error {
	t.write(hostID).rules = slices.Clone(rules)
	return nil
}

func (t *memTx) InsertAppointment(_ context.Context, a model.Appointment) error {
	st := t.write(a.HostUserID)
	if _, ok := st.appts[a.ID]; ok {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}
	if err := checkOverlap(st, a); err != nil {
		return err
	}
	st.appts[a.ID] = a
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, a model.Appointment) error {
	st := t.write(a.HostUserID)
	if _, ok := st.appts[a.ID]; !ok {
		return fmt.Errorf("appointment %s: %w", a.ID, model.ErrNotFound)
	}
	if err := checkOverlap(st, a); err != nil {
		return err
	}
	st.appts[a.ID] = a
	return nil
}

func (t *memTx) InsertWaitlistEntry(_ context.Context, e model.WaitlistEntry) error {
	st := t.write(e.HostUserID)
	if _, ok := st.waitlist[e.ID]; ok {
		return fmt.Errorf("waitlist entry %s already exists", e.ID)
	}
	st.waitlist[e.ID] = e
	return nil
}

func (t *memTx) UpdateWaitlistStatus(_ context.Context, hostID, id string, status model.WaitlistStatus) error {
	st := t.write(hostID)
	e, ok := st.waitlist[id]
	if !ok || e.Status != model.WaitlistWaiting {
		return fmt.Errorf("waiting entry %s: %w", id, model.ErrNotFound)
	}
	e.Status = status
	st.waitlist[id] = e
	return nil
}

func (t *memTx) DeleteWaitlistEntry(_ context.Context, hostID, id string) error {
	st := t.write(hostID)
	if _, ok := st.waitlist[id]; !ok {
		return fmt.Errorf("waitlist entry %s: %w", id, model.ErrNotFound)
	}
	delete(st.waitlist, id)
	return nil
}

func (t *memTx) InsertTranscript(_ context.Context, tr model.Transcript) error {
	st := t.write(tr.HostUserID)
	if _, ok := st.appts[tr.AppointmentID]; !ok {
		return fmt.Errorf("appointment %s: %w", tr.AppointmentID, model.ErrNotFound)
	}
	st.transcripts = append(st.transcripts, tr)
	return nil
}

func (t *memTx) InsertDebrief(_ context.Context, d model.Debrief) error {
	st := t.write(d.HostUserID)
	if _, ok := st.appts[d.AppointmentID]; !ok {
		return fmt.Errorf("appointment %s: %w", d.AppointmentID, model.ErrNotFound)
	}
	d.ActionItems = slices.Clone(d.ActionItems)
	st.debriefs = append(st.debriefs, d)
	return nil
}

func (t *memTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	t.events = append(t.events, newRecord(ctx, evt))
	return nil
}

func newRecord(ctx context.Context, evt outbox.Event) outbox.Record {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	return outbox.Record{
		EventID:       evt.EventID,
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Payload:       evt.Payload,
		Traceparent:   traceparent,
		Tracestate:    tracestate,
		CreatedAt:     time.Now().UTC(),
	}
}

// checkOverlap mirrors the appointments_no_overlap exclusion constraint.
func checkOverlap(st *hostState, a model.Appointment) error {
	if !a.Active() {
		return nil
	}
	for _, other := range st.appts {
		if other.ID == a.ID || !other.Active() {
			continue
		}
		if timewindow.Overlaps(other.Window(), a.Window()) {
			return fmt.Errorf("appointment %s overlaps %s: %w", a.ID, other.ID, model.ErrOverlap)
		}
	}
	return nil
}

func listRules(st *hostState) []model.AvailabilityRule {
	out := slices.Clone(st.rules)
	if out == nil {
		out = []model.AvailabilityRule{}
	}
	return out
}

func listAppointments(st *hostState, from, to time.Time, activeOnly bool) []model.Appointment {
	out := []model.Appointment{}
	for _, a := range st.appts {
		if activeOnly && !a.Active() {
			continue
		}
		if a.StartTime.Before(to) && a.EndTime.After(from) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out
}

func getAppointment(st *hostState, id string) (model.Appointment, error) {
	a, ok := st.appts[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

func listWaitlist(st *hostState, status model.WaitlistStatus) []model.WaitlistEntry {
	out := []model.WaitlistEntry{}
	for _, e := range st.waitlist {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b model.WaitlistEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// latestTranscript scans from the end so equal timestamps resolve to the
// last insert.
func latestTranscript(st *hostState, appointmentID string) (model.Transcript, error) {
	for i := len(st.transcripts) - 1; i >= 0; i-- {
		if st.transcripts[i].AppointmentID == appointmentID {
			return st.transcripts[i], nil
		}
	}
	return model.Transcript{}, fmt.Errorf("transcript for %s: %w", appointmentID, model.ErrNotFound)
}

func latestDebrief(st *hostState, appointmentID string) (model.Debrief, error) {
	for i := len(st.debriefs) - 1; i >= 0; i-- {
		if d := st.debriefs[i]; d.AppointmentID == appointmentID {
			d.ActionItems = slices.Clone(d.ActionItems)
			return d, nil
		}
	}
	return model.Debrief{}, fmt.Errorf("debrief for %s: %w", appointmentID, model.ErrNotFound)
}

func sortAppointments(appts []model.Appointment) {
	slices.SortFunc(appts, func(a, b model.Appointment) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
