package kafkax

import (
	"context"
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka:9092, ,kafka-2:9092,")
	want := []string{"kafka:9092", "kafka-2:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestExtractEventMeta_FallsBackToKeyAndTopic(t *testing.T) {
	msg := kafka.Message{Topic: "scheduling.slot.freed.v1", Key: []byte("evt-1")}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != "scheduling.slot.freed.v1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	msg.Headers = EventMeta{EventID: "evt-2", EventType: "custom"}.Headers()
	meta = ExtractEventMeta(msg)
	if meta.EventID != "evt-2" || meta.EventType != "custom" {
		t.Fatalf("headers should win: %+v", meta)
	}
}

func TestTraceHeaders_RoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := EventMeta{EventID: "e", EventType: "t"}.MessageHeaders(ctx)
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("traceparent header not appended: %v", headers)
	}
	if HeaderValue(headers, HeaderEventID) != "e" {
		t.Fatalf("event headers lost: %v", headers)
	}

	out, meta := ReadMeta(context.Background(), kafka.Message{Headers: headers})
	if got := trace.SpanContextFromContext(out).TraceID(); got != traceID {
		t.Fatalf("expected trace id %s, got %s", traceID, got)
	}
	if meta.EventID != "e" || meta.EventType != "t" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestHeaders_SetReplaces(t *testing.T) {
	h := Headers{{Key: "traceparent", Value: []byte("old")}}
	h.Set("traceparent", "new")
	h.Set("tracestate", "k=v")
	if len(h) != 2 || h.Get("traceparent") != "new" || h.Get("tracestate") != "k=v" {
		t.Fatalf("unexpected headers %v", h)
	}
	if !reflect.DeepEqual(h.Keys(), []string{"traceparent", "tracestate"}) {
		t.Fatalf("unexpected keys %v", h.Keys())
	}
}

func TestReadyCheck_NoBrokers(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatalf("expected error without brokers")
	}
}
