package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/config"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/libs/grpcx"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/libs/kafkax"
	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/reminders"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health server, outbox publisher and optional reminder ticker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() { _ = runtime.Shutdown(5*time.Second, otelShutdown) }()
	}

	pool, err := openPool(ctx)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		return err
	}
	defer pool.Close()

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	}
	rdb := newRedis()
	if rdb != nil {
		defer rdb.Close()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	events := outbox.NewRepository()
	publisher := outbox.NewPublisher(pool, events, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	scheduler := newScheduler(pool, events, logger)
	dispatcher := newDispatcher(pool, events, rdb, logger)
	if tick := config.Duration("REMINDER_TICK_INTERVAL", 0); tick > 0 {
		go reminders.NewWorker(dispatcher, logger, reminders.WorkerConfig{Interval: tick}).Run(ctx)
	}

	cronSecret := httpx.NewSharedSecret(config.String("CRON_SECRET", ""))
	if !cronSecret.Configured() {
		logger.Warn("CRON_SECRET not set; the reminder trigger rejects every call")
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	appointments := handlers.NewAppointmentHandler(scheduler, logger)
	appointments.Register(mux)
	appointments.RegisterAvailability(mux)
	handlers.NewReminderHandler(dispatcher, cronSecret, logger).Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(int64(config.Int("HTTP_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("HTTP_TIMEOUT", 30*time.Second)),
	}
	if limit := config.Int("RATE_LIMIT_PER_MINUTE", 0); limit > 0 {
		if rdb != nil {
			middlewares = append(middlewares, httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "clinicsched:rl").
				Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)))
		} else {
			middlewares = append(middlewares, httpx.NewRateLimiter(limit, time.Minute).Middleware())
		}
	}
	httpHandler := otelhttp.NewHandler(httpx.Chain(mux, middlewares...), "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, health := grpcx.NewHealthServer(logger, service)
	if grpcPort := config.String("GRPC_PORT", ""); grpcPort != "" {
		lis, err := net.Listen("tcp", ":"+grpcPort)
		if err != nil {
			logger.Error("grpc listen failed", "err", err)
			return err
		}
		go func() {
			logger.Info("grpc health server starting", "addr", lis.Addr().String())
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("grpc server error", "err", err)
			}
		}()
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	health.Shutdown()
	grpcSrv.GracefulStop()
	if err := runtime.Shutdown(10*time.Second, srv.Shutdown); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	return nil
}
