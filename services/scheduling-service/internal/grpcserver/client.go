package grpcserver

import (
	"context"

	"github.com/schedai/schedai/services/scheduling-service/internal/conflict"
	"google.golang.org/grpc"
)

// Client calls SchedulingService on a connection dialed with the grpcx
// JSON codec.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) GetPublicSlots(ctx context.Context, req *GetPublicSlotsRequest) (*GetPublicSlotsResponse, error) {
	out := new(GetPublicSlotsResponse)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/GetPublicSlots", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ValidateMutation(ctx context.Context, req *ValidateMutationRequest) (*conflict.Verdict, error) {
	out := new(conflict.Verdict)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/ValidateMutation", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) OnFreed(ctx context.Context, req *OnFreedRequest) (*OnFreedResponse, error) {
	out := new(OnFreedResponse)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/OnFreed", req, out); err != nil {
		return nil, err
	}
	return out, nil
}
