package main

import (
	"context"
	"net/http"
	"time"

	"github.com/marcodenti/gymbook/libs/config"
	"github.com/marcodenti/gymbook/libs/db"
	"github.com/marcodenti/gymbook/libs/httpx"
	"github.com/marcodenti/gymbook/libs/kafkax"
	otelx "github.com/marcodenti/gymbook/libs/otel"
	"github.com/marcodenti/gymbook/libs/runtime"
	"github.com/marcodenti/gymbook/services/booking-service/internal/guard"
	"github.com/marcodenti/gymbook/services/booking-service/internal/handlers"
	"github.com/marcodenti/gymbook/services/booking-service/internal/outbox"
	"github.com/marcodenti/gymbook/services/booking-service/internal/reservation"
	"github.com/marcodenti/gymbook/services/booking-service/internal/storage"
	"github.com/marcodenti/gymbook/services/booking-service/internal/transition"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
		MinConns: int32(config.Int("DB_MIN_CONNS", 1)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository()
	store := storage.NewPgStore(pool, outboxRepo)

	guardProvider, err := guard.NewIdentityProvider(logger, config.String("IDENTITY_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("identity provider init failed; using static rules", "err", err)
		guardProvider = guard.NewStaticProvider()
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	coordinator := reservation.NewCoordinator(store, guardProvider, logger)
	transitions := transition.NewService(store, guardProvider, logger)
	handler := handlers.New(store, coordinator, transitions, guardProvider, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
