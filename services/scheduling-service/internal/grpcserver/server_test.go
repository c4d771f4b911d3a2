package grpcserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/schedai/schedai/libs/grpcx"
	"github.com/schedai/schedai/services/scheduling-service/internal/conflict"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/scheduling"
	"github.com/schedai/schedai/services/scheduling-service/internal/storage"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func startServer(t *testing.T) (*Client, *scheduling.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	facade := scheduling.NewFacade(store, scheduling.FacadeConfig{Now: func() time.Time { return monday.Add(-time.Hour) }})
	svc := scheduling.NewService(store, facade, logger)
	if _, err := svc.ReplaceRules(context.Background(), "host-1", []model.AvailabilityRule{
		{DayOfWeek: 0, StartTime: "09:00", EndTime: "17:00", IsBookable: true},
	}); err != nil {
		t.Fatalf("rules: %v", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpcx.NewServer(nil)
	Register(srv, svc)
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpcx.NewClient(lis.Addr().String(), grpcx.DialOptions{JSON: true})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn), svc
}

func TestGetPublicSlots(t *testing.T) {
	client, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.GetPublicSlots(ctx, &GetPublicSlotsRequest{HostUserID: "host-1", RangeDays: 2})
	if err != nil {
		t.Fatalf("get slots: %v", err)
	}
	if len(resp.Slots) != 16 || !resp.Slots[0].Start.Equal(monday.Add(9*time.Hour)) {
		t.Fatalf("expected 16 slots from 09:00, got %d", len(resp.Slots))
	}

	_, err = client.GetPublicSlots(ctx, &GetPublicSlotsRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestValidateMutation(t *testing.T) {
	client, svc := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := svc.CreateAppointment(ctx, scheduling.AppointmentInput{
		HostUserID: "host-1",
		StartTime:  monday.Add(10 * time.Hour),
		EndTime:    monday.Add(10*time.Hour + 30*time.Minute),
	}); err != nil {
		t.Fatalf("book: %v", err)
	}

	v, err := client.ValidateMutation(ctx, &ValidateMutationRequest{
		HostUserID: "host-1",
		StartTime:  monday.Add(10*time.Hour + 15*time.Minute),
		EndTime:    monday.Add(10*time.Hour + 45*time.Minute),
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !v.Conflict || v.Kind != conflict.KindDoubleBooking || v.Suggestion == nil {
		t.Fatalf("unexpected verdict %+v", v)
	}

	_, err = client.ValidateMutation(ctx, &ValidateMutationRequest{HostUserID: "host-1"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestOnFreed(t *testing.T) {
	client, svc := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := svc.JoinWaitlist(ctx, scheduling.WaitlistInput{
		HostUserID:     "host-1",
		GuestName:      "Grace",
		GuestEmail:     "grace@example.com",
		PreferredStart: monday.Add(9 * time.Hour),
		PreferredEnd:   monday.Add(12 * time.Hour),
	}); err != nil {
		t.Fatalf("join: %v", err)
	}

	req := &OnFreedRequest{HostUserID: "host-1", StartTime: monday.Add(10 * time.Hour), EndTime: monday.Add(10*time.Hour + 30*time.Minute)}
	resp, err := client.OnFreed(ctx, req)
	if err != nil {
		t.Fatalf("on freed: %v", err)
	}
	if !resp.Matched || resp.Appointment == nil || resp.Appointment.GuestName != "Grace" {
		t.Fatalf("unexpected response %+v", resp)
	}
	resp, err = client.OnFreed(ctx, req)
	if err != nil || resp.Matched {
		t.Fatalf("second call should not match, got %+v (%v)", resp, err)
	}
}
