// Package grpcserver exposes the scheduling engine over gRPC. Messages are
// plain Go structs carried by the grpcx JSON codec, so there is no generated
// code and the service descriptor is written by hand.
package grpcserver

import (
	"context"
	"errors"
	"time"

	"github.com/schedai/schedai/services/scheduling-service/internal/conflict"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/scheduling"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "schedai.scheduling.v1.SchedulingService"

type GetPublicSlotsRequest struct {
	HostUserID string `json:"host_user_id"`
	RangeDays  int    `json:"range_days,omitempty"`
}

type GetPublicSlotsResponse struct {
	Slots []model.Slot `json:"slots"`
}

// ValidateMutationRequest previews a new or moved appointment. ExcludeID
// names the stored appointment being moved.
type ValidateMutationRequest struct {
	HostUserID string                  `json:"host_user_id"`
	StartTime  time.Time               `json:"start_time"`
	EndTime    time.Time               `json:"end_time"`
	Status     model.AppointmentStatus `json:"status,omitempty"`
	ExcludeID  string                  `json:"exclude_id,omitempty"`
}

type OnFreedRequest struct {
	HostUserID string    `json:"host_user_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

type OnFreedResponse struct {
	Matched     bool                 `json:"matched"`
	Entry       *model.WaitlistEntry `json:"entry,omitempty"`
	Appointment *model.Appointment   `json:"appointment,omitempty"`
}

type SchedulingServer interface {
	GetPublicSlots(context.Context, *GetPublicSlotsRequest) (*GetPublicSlotsResponse, error)
	ValidateMutation(context.Context, *ValidateMutationRequest) (*conflict.Verdict, error)
	OnFreed(context.Context, *OnFreedRequest) (*OnFreedResponse, error)
}

type server struct {
	svc *scheduling.Service
}

func Register(grpcServer *grpc.Server, svc *scheduling.Service) {
	grpcServer.RegisterService(&serviceDesc, &server{svc: svc})
}

func (s *server) GetPublicSlots(ctx context.Context, req *GetPublicSlotsRequest) (*GetPublicSlotsResponse, error) {
	if req.HostUserID == "" {
		return nil, status.Error(codes.InvalidArgument, "host_user_id is required")
	}
	slots, err := s.svc.Facade().GetPublicSlots(ctx, req.HostUserID, req.RangeDays)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetPublicSlotsResponse{Slots: slots}, nil
}

func (s *server) ValidateMutation(ctx context.Context, req *ValidateMutationRequest) (*conflict.Verdict, error) {
	v, err := s.svc.ValidateCandidate(ctx, scheduling.AppointmentInput{
		HostUserID: req.HostUserID,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Status:     req.Status,
	}, req.ExcludeID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &v, nil
}

func (s *server) OnFreed(ctx context.Context, req *OnFreedRequest) (*OnFreedResponse, error) {
	res, err := s.svc.HandleSlotFreed(ctx, req.HostUserID, timewindow.New(req.StartTime, req.EndTime))
	if err != nil {
		return nil, toStatus(err)
	}
	if res == nil {
		return &OnFreedResponse{}, nil
	}
	return &OnFreedResponse{Matched: true, Entry: &res.Entry, Appointment: &res.Appointment}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrInvalidRange), errors.Is(err, model.ErrInvalidRule):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, model.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	}
	if _, ok := scheduling.AsConflict(err); ok {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func unary[Req, Resp any](call func(SchedulingServer, context.Context, *Req) (*Resp, error), method string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SchedulingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SchedulingServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SchedulingServer.GetPublicSlots, "GetPublicSlots"),
		unary(SchedulingServer.ValidateMutation, "ValidateMutation"),
		unary(SchedulingServer.OnFreed, "OnFreed"),
	},
}
