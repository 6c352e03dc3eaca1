package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcodenti/gymbook/libs/config"
	"github.com/marcodenti/gymbook/libs/db"
	"github.com/marcodenti/gymbook/libs/httpx"
	"github.com/marcodenti/gymbook/libs/kafkax"
	otelx "github.com/marcodenti/gymbook/libs/otel"
	"github.com/marcodenti/gymbook/libs/runtime"
	"github.com/marcodenti/gymbook/services/scheduler-service/internal/consumer"
	"github.com/marcodenti/gymbook/services/scheduler-service/internal/inbox"
	"github.com/marcodenti/gymbook/services/scheduler-service/internal/jobs"
	"github.com/marcodenti/gymbook/services/scheduler-service/internal/outbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	topicConfirmed = "booking.appointment.confirmed.v1"
	topicRejected  = "booking.appointment.rejected.v1"
	topicCancelled = "booking.appointment.cancelled.v1"
)

// appointmentEvent mirrors the payload published by the booking service.
type appointmentEvent struct {
	AppointmentID string    `json:"appointment_id"`
	ClientID      string    `json:"client_id"`
	SlotID        string    `json:"slot_id"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	TypeTag       string    `json:"type_tag"`
	Status        string    `json:"status"`
}

type scheduler struct {
	pool   *db.Pool
	repo   *jobs.Repository
	logger *slog.Logger
	offset time.Duration
}

// schedule books one reminder per confirmed appointment. The idempotency key
// is derived from the appointment id, so re-consuming a confirmation event
// after an inbox wipe still cannot double-book the reminder.
func (s *scheduler) schedule(ctx context.Context, evt appointmentEvent) error {
	remindAt := evt.ScheduledAt.Add(-s.offset)
	if remindAt.Before(time.Now().UTC()) {
		s.logger.Info("reminder window already passed, skipping",
			"appointment_id", evt.AppointmentID, "scheduled_at", evt.ScheduledAt)
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.repo.Insert(ctx, tx, jobs.Job{
		IdempotencyKey: "reminder:" + evt.AppointmentID,
		AppointmentID:  evt.AppointmentID,
		ClientID:       evt.ClientID,
		TypeTag:        evt.TypeTag,
		ScheduledAt:    evt.ScheduledAt,
		RemindAt:       remindAt,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *scheduler) cancel(ctx context.Context, appointmentID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.repo.CancelForAppointment(ctx, tx, appointmentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func main() {
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8084")
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

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	jobRepo := jobs.NewRepository()
	outboxRepo := outbox.NewRepository()

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "scheduler-service")

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	worker := jobs.NewWorker(pool, jobRepo, outboxRepo, logger, jobs.WorkerConfig{
		Interval:  time.Duration(config.Int("WORKER_INTERVAL_SECONDS", 2)) * time.Second,
		BatchSize: config.Int("WORKER_BATCH_SIZE", 50),
		Backoff:   time.Duration(config.Int("WORKER_BACKOFF_SECONDS", 60)) * time.Second,
	})
	go worker.Run(ctx)

	sched := &scheduler{
		pool:   pool,
		repo:   jobRepo,
		logger: logger,
		offset: time.Duration(config.Int("REMINDER_OFFSET_HOURS", 24)) * time.Hour,
	}

	parse := func(msg kafka.Message) (appointmentEvent, bool) {
		var evt appointmentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("invalid appointment event", "topic", msg.Topic, "err", err)
			return appointmentEvent{}, false
		}
		if evt.AppointmentID == "" {
			logger.Error("appointment event missing id", "topic", msg.Topic)
			return appointmentEvent{}, false
		}
		return evt, true
	}

	confirmedConsumer := consumer.New(logger, inboxRepo,
		consumer.Config{Brokers: brokers, GroupID: groupID, Topic: topicConfirmed},
		func(ctx context.Context, msg kafka.Message) error {
			evt, ok := parse(msg)
			if !ok {
				return nil
			}
			return sched.schedule(ctx, evt)
		})
	go confirmedConsumer.Run(ctx)

	for _, topic := range []string{topicRejected, topicCancelled} {
		c := consumer.New(logger, inboxRepo,
			consumer.Config{Brokers: brokers, GroupID: groupID, Topic: topic},
			func(ctx context.Context, msg kafka.Message) error {
				evt, ok := parse(msg)
				if !ok {
					return nil
				}
				return sched.cancel(ctx, evt.AppointmentID)
			})
		go c.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "scheduler")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
