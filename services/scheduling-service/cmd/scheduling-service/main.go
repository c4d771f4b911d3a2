package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/schedai/schedai/libs/config"
	"github.com/schedai/schedai/libs/db"
	"github.com/schedai/schedai/libs/httpx"
	"github.com/schedai/schedai/libs/kafkax"
	otelx "github.com/schedai/schedai/libs/otel"
	"github.com/schedai/schedai/libs/runtime"
	"github.com/schedai/schedai/services/scheduling-service/internal/aiclient"
	"github.com/schedai/schedai/services/scheduling-service/internal/consumer"
	"github.com/schedai/schedai/services/scheduling-service/internal/handlers"
	"github.com/schedai/schedai/services/scheduling-service/internal/inbox"
	"github.com/schedai/schedai/services/scheduling-service/internal/jobs"
	"github.com/schedai/schedai/services/scheduling-service/internal/outbox"
	"github.com/schedai/schedai/services/scheduling-service/internal/scheduling"
	"github.com/schedai/schedai/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// store is what both storage backends provide to the service, the outbox
// relay and the cron jobs.
type store interface {
	scheduling.Repository
	outbox.Source
	jobs.Store
}

func main() {
	if err := config.LoadDotenv(".env"); err != nil {
		panic(err)
	}
	if path := config.String("CONFIG_FILE", ""); path != "" {
		if _, err := config.LoadFile(path); err != nil {
			panic(err)
		}
	}

	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	if err := run(service, port, logger); err != nil {
		logger.Error("service stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(service, port string, logger *slog.Logger) error {
	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	loc, err := config.Location("HOST_TIMEZONE", "UTC")
	if err != nil {
		return err
	}
	step, err := config.Int("SLOT_STEP_MINUTES", 30)
	if err != nil {
		return err
	}
	rangeDays, err := config.Int("RANGE_DAYS", scheduling.DefaultRangeDays)
	if err != nil {
		return err
	}

	var (
		st      store
		dedupe  consumer.Inbox
		checks  []runtime.ReadyCheck
		brokers = kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		maxConns, err := config.Int("DB_MAX_CONNS", 10)
		if err != nil {
			return err
		}
		pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(maxConns)})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			return err
		}
		defer pool.Close()
		if err := storage.Migrate(ctx, pool, logger); err != nil {
			return err
		}
		st = storage.NewPGStore(pool, outbox.NewRepository(pool))
		dedupe = inbox.NewRepository(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		st = storage.NewMemoryStore()
		dedupe = inbox.NewMemory()
	}

	facade := scheduling.NewFacade(st, scheduling.FacadeConfig{
		StepMinutes: step,
		RangeDays:   rangeDays,
		Location:    loc,
	})
	svc := scheduling.NewService(st, facade, logger)

	if len(brokers) > 0 {
		writer := kafkax.NewWriter(brokers)
		defer func() { _ = writer.Close() }()
		publisher := outbox.NewPublisher(st, writer, logger, outbox.PublisherConfig{
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go publisher.Run(ctx)

		slotFreed := consumer.New(logger, dedupe, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   config.String("KAFKA_SLOT_FREED_TOPIC", outbox.TopicSlotFreed),
		}, consumer.SlotFreedHandler(svc, logger))
		go slotFreed.Run(ctx)

		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	} else {
		logger.Warn("KAFKA_BROKERS not set; outbox events stay pending")
	}

	scheduler, err := jobs.New(st, logger, jobs.Config{
		ExpirySpec: config.String("EXPIRY_CRON", jobs.DefaultExpirySpec),
		DigestSpec: config.String("DIGEST_CRON", jobs.DefaultDigestSpec),
		Location:   loc,
	})
	if err != nil {
		return err
	}
	go scheduler.Run(ctx)

	aiTimeout, err := config.Duration("AI_TIMEOUT", 10*time.Second)
	if err != nil {
		return err
	}
	ai, err := aiclient.New(aiclient.Config{
		HTTPURL:  config.String("AI_SERVICE_URL", ""),
		GRPCAddr: config.String("AI_GRPC_ADDR", ""),
		Timeout:  aiTimeout,
	})
	if err != nil {
		logger.Error("ai client init failed; scoring disabled", "err", err)
		ai = aiclient.Disabled{}
	}

	limiter, limiterCheck, err := newLimiter()
	if err != nil {
		return err
	}
	if limiterCheck != nil {
		checks = append(checks, *limiterCheck)
	}
	failOpen, err := config.Bool("RATE_LIMIT_FAIL_OPEN", true)
	if err != nil {
		return err
	}
	bodyLimit, err := config.Int("MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return err
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/api/", handlers.New(svc, ai, logger).Router())

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ORIGINS", nil),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", "X-Request-Id", handlers.HeaderUserID},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(int64(bodyLimit)),
		httpx.WithRateLimit(limiter, httpx.RateLimitOptions{
			PathPrefixes: []string{"/api/v1/public/"},
			FailOpen:     failOpen,
			Logger:       logger,
		}),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")

	if err := startGrpcServer(ctx, logger, svc); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return runtime.ServeHTTP(ctx, logger, srv, 10*time.Second)
}

// newLimiter uses Redis when REDIS_ADDR is set so replicas share one budget.
func newLimiter() (httpx.Limiter, *runtime.ReadyCheck, error) {
	limit, err := config.Int("RATE_LIMIT_PER_WINDOW", 60)
	if err != nil {
		return nil, nil, err
	}
	window, err := config.Duration("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, nil, err
	}

	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return httpx.NewMemoryLimiter(limit, window), nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
	})
	check := runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)}
	return httpx.NewRedisLimiter(rdb, limit, window, "schedai:ratelimit:"), &check, nil
}
