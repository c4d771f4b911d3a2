package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/schedai/schedai/libs/config"
	"github.com/schedai/schedai/libs/grpcx"
	"github.com/schedai/schedai/services/scheduling-service/internal/grpcserver"
	"github.com/schedai/schedai/services/scheduling-service/internal/scheduling"
	"google.golang.org/grpc"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, svc *scheduling.Service) error {
	port, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpcx.NewServer([]grpc.UnaryServerInterceptor{grpcx.UnaryServerLoggingInterceptor(logger)})
	grpcserver.Register(srv, svc)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return nil
}
