package kafkax

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// Headers is a message's header list. A *Headers is an otel TextMapCarrier,
// so trace context rides next to the event metadata.
type Headers []kafka.Header

// Get returns the first value stored under key.
func (h Headers) Get(key string) string {
	for _, kv := range h {
		if kv.Key == key {
			return string(kv.Value)
		}
	}
	return ""
}

// Set replaces the value under key, or appends it.
func (h *Headers) Set(key, value string) {
	for i := range *h {
		if (*h)[i].Key == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}

func (h Headers) Keys() []string {
	keys := make([]string, 0, len(h))
	for _, kv := range h {
		keys = append(keys, kv.Key)
	}
	return keys
}

// EventMeta identifies an event for consumers' inbox dedupe.
type EventMeta struct {
	EventID   string
	EventType string
}

func (m EventMeta) Headers() []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventID, Value: []byte(m.EventID)},
		{Key: HeaderEventType, Value: []byte(m.EventType)},
	}
}

// MessageHeaders returns the event headers followed by the W3C trace context
// of ctx.
func (m EventMeta) MessageHeaders(ctx context.Context) []kafka.Header {
	h := Headers(m.Headers())
	otel.GetTextMapPropagator().Inject(ctx, &h)
	return h
}

// ExtractEventMeta falls back to the message key and topic when the headers
// are missing, so events from producers that only set a key still dedupe.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	h := Headers(msg.Headers)
	meta := EventMeta{EventID: h.Get(HeaderEventID), EventType: h.Get(HeaderEventType)}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

// ReadMeta returns ctx joined to the producer's trace, plus the event meta.
func ReadMeta(ctx context.Context, msg kafka.Message) (context.Context, EventMeta) {
	h := Headers(msg.Headers)
	return otel.GetTextMapPropagator().Extract(ctx, &h), ExtractEventMeta(msg)
}

func HeaderValue(headers []kafka.Header, key string) string {
	return Headers(headers).Get(key)
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
