package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/schedai/schedai/libs/kafkax"
	"github.com/schedai/schedai/services/scheduling-service/internal/inbox"
	"github.com/schedai/schedai/services/scheduling-service/internal/outbox"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
	"github.com/schedai/schedai/services/scheduling-service/internal/waitlist"
	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	msgs   []kafka.Message
	closed bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeFreer struct {
	calls  []timewindow.Window
	hosts  []string
	cancel context.CancelFunc
	want   int
}

func (f *fakeFreer) HandleSlotFreed(_ context.Context, hostID string, w timewindow.Window) (*waitlist.Result, error) {
	f.calls = append(f.calls, w)
	f.hosts = append(f.hosts, hostID)
	if len(f.calls) == f.want {
		f.cancel()
	}
	return nil, nil
}

func slotFreedMessage(t *testing.T, eventID string, p outbox.SlotFreedPayload) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	meta := kafkax.EventMeta{EventID: eventID, EventType: outbox.TopicSlotFreed}
	return kafka.Message{Topic: outbox.TopicSlotFreed, Value: raw, Headers: meta.Headers()}
}

func TestConsumer_DedupesAndDispatches(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	p := outbox.SlotFreedPayload{HostUserID: "host-1", StartTime: start, EndTime: start.Add(30 * time.Minute)}
	p2 := p
	p2.StartTime, p2.EndTime = start.Add(time.Hour), start.Add(90*time.Minute)

	reader := &fakeReader{msgs: []kafka.Message{
		slotFreedMessage(t, "evt-1", p),
		slotFreedMessage(t, "evt-1", p),
		{Topic: outbox.TopicSlotFreed, Key: []byte("evt-bad"), Value: []byte("{")},
		slotFreedMessage(t, "evt-2", p2),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	freer := &fakeFreer{cancel: cancel, want: 2}

	c := NewWithReader(logger, inbox.NewMemory(), reader, SlotFreedHandler(freer, logger))
	c.Run(ctx)

	if len(freer.calls) != 2 {
		t.Fatalf("expected 2 dispatched windows, got %d", len(freer.calls))
	}
	if !freer.calls[0].Start.Equal(start) || freer.hosts[0] != "host-1" {
		t.Fatalf("unexpected first call %v %s", freer.calls[0], freer.hosts[0])
	}
	if !freer.calls[1].Start.Equal(p2.StartTime) {
		t.Fatalf("unexpected second call %v", freer.calls[1])
	}
	if !reader.closed {
		t.Fatalf("reader should be closed when Run returns")
	}
}

type failingInbox struct{}

func (failingInbox) Record(context.Context, string, string) (bool, error) {
	return false, errors.New("db down")
}

func TestConsumer_InboxFailureSkipsHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	called := false
	c := NewWithReader(logger, failingInbox{}, &fakeReader{}, func(context.Context, kafka.Message) error {
		called = true
		return nil
	})
	c.process(context.Background(), kafka.Message{Key: []byte("evt-1")})
	if called {
		t.Fatalf("handler must not run when the inbox fails")
	}
}
