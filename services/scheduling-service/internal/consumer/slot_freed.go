package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/schedai/schedai/services/scheduling-service/internal/outbox"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
	"github.com/schedai/schedai/services/scheduling-service/internal/waitlist"
	"github.com/segmentio/kafka-go"
)

type SlotFreer interface {
	HandleSlotFreed(ctx context.Context, hostID string, w timewindow.Window) (*waitlist.Result, error)
}

// SlotFreedHandler hands windows announced on scheduling.slot.freed.v1 to
// the waitlist.
func SlotFreedHandler(svc SlotFreer, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload outbox.SlotFreedPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			return fmt.Errorf("decode slot freed: %w", err)
		}
		res, err := svc.HandleSlotFreed(ctx, payload.HostUserID, timewindow.New(payload.StartTime, payload.EndTime))
		if err != nil {
			return err
		}
		if res == nil {
			logger.Debug("freed slot had no waitlist match", "host_user_id", payload.HostUserID)
		}
		return nil
	}
}
