package aiclient

import (
	"context"
	"time"

	"github.com/schedai/schedai/libs/grpcx"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"google.golang.org/grpc"
)

const (
	methodScoreSlots   = "/schedai.ai.v1.AIService/ScoreSlots"
	methodOptimizeWeek = "/schedai.ai.v1.AIService/OptimizeWeek"
	methodDebrief      = "/schedai.ai.v1.AIService/Debrief"
)

// GRPCClient calls the AI service over gRPC with JSON-encoded messages.
type GRPCClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

func NewGRPC(addr string, timeout time.Duration) (*GRPCClient, error) {
	conn, err := grpcx.NewClient(addr, grpcx.DialOptions{JSON: true})
	if err != nil {
		return nil, err
	}
	return &GRPCClient{conn: conn, timeout: timeout}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) ScoreSlots(ctx context.Context, slots []model.Slot, hints map[string]string) ([]model.Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp scoreResponse
	if err := c.conn.Invoke(ctx, methodScoreSlots, &scoreRequest{Slots: toWireSlots(slots), Context: hints}, &resp); err != nil {
		return nil, err
	}
	return mergeScores(slots, resp.Slots), nil
}

func (c *GRPCClient) OptimizeWeek(ctx context.Context, appts []model.Appointment) (OptimizeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp optimizeResponse
	if err := c.conn.Invoke(ctx, methodOptimizeWeek, &optimizeRequest{Appointments: toWireAppointments(appts)}, &resp); err != nil {
		return OptimizeResult{}, err
	}
	return fromOptimize(appts, resp), nil
}

func (c *GRPCClient) Debrief(ctx context.Context, appt model.Appointment, transcript string) (DebriefResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := toDebriefRequest(appt, transcript)
	var resp debriefResponse
	if err := c.conn.Invoke(ctx, methodDebrief, &req, &resp); err != nil {
		return DebriefResult{}, err
	}
	return fromDebrief(resp), nil
}
