package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/marcodenti/gymbook/libs/config"
	"github.com/marcodenti/gymbook/libs/db"
	"github.com/marcodenti/gymbook/libs/httpx"
	"github.com/marcodenti/gymbook/libs/kafkax"
	otelx "github.com/marcodenti/gymbook/libs/otel"
	"github.com/marcodenti/gymbook/libs/runtime"
	"github.com/marcodenti/gymbook/services/notification-service/internal/consumer"
	"github.com/marcodenti/gymbook/services/notification-service/internal/email"
	"github.com/marcodenti/gymbook/services/notification-service/internal/inbox"
	"github.com/marcodenti/gymbook/services/notification-service/internal/outbox"
	"github.com/marcodenti/gymbook/services/notification-service/internal/sms"
	"github.com/marcodenti/gymbook/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Topics this service reacts to. Requested and cancelled go to staff,
// confirmed, rejected and reminders go to the client.
const (
	topicRequested = "booking.appointment.requested.v1"
	topicConfirmed = "booking.appointment.confirmed.v1"
	topicRejected  = "booking.appointment.rejected.v1"
	topicCancelled = "booking.appointment.cancelled.v1"
	topicReminder  = "booking.reminder.due.v1"
)

type appointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	ClientID      string `json:"client_id"`
	SlotID        string `json:"slot_id"`
	ScheduledAt   string `json:"scheduled_at"`
	TypeTag       string `json:"type_tag"`
	Status        string `json:"status"`
}

type dispatcher struct {
	repo       *storage.Repository
	pool       *db.Pool
	outboxRepo *outbox.Repository
	emails     email.Sender
	texts      sms.Sender
	logger     *slog.Logger
	admins     []string
}

func (d *dispatcher) handle(ctx context.Context, msg kafka.Message) error {
	var evt appointmentEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		d.logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if evt.AppointmentID == "" || evt.ClientID == "" {
		d.logger.Error("missing required event fields", "topic", msg.Topic)
		return nil
	}
	scheduledAt, err := time.Parse(time.RFC3339, evt.ScheduledAt)
	if err != nil {
		d.logger.Error("invalid scheduled_at in event", "value", evt.ScheduledAt, "topic", msg.Topic)
		return nil
	}

	clientName, clientEmail, clientPhone, err := d.repo.Client(ctx, evt.ClientID)
	if errors.Is(err, storage.ErrClientNotFound) {
		d.logger.Error("event references unknown client", "client_id", evt.ClientID)
		return nil
	}
	if err != nil {
		// DB hiccup: let the consumer log and move on; the row was already
		// deduped so there is no retry. Better to drop one mail than to
		// wedge the partition.
		return err
	}

	appt := email.Appointment{ClientName: clientName, TypeTag: evt.TypeTag, ScheduledAt: scheduledAt}

	switch msg.Topic {
	case topicRequested:
		subject, body := email.RequestReceived(appt)
		for _, admin := range d.admins {
			d.deliverEmail(ctx, evt, admin, subject, body)
		}
	case topicConfirmed:
		subject, body := email.Confirmed(appt)
		d.deliverEmail(ctx, evt, clientEmail, subject, body)
		if clientPhone != "" {
			d.deliverSMS(ctx, evt, clientPhone, subject)
		}
	case topicRejected:
		subject, body := email.Rejected(appt)
		d.deliverEmail(ctx, evt, clientEmail, subject, body)
	case topicCancelled:
		subject, body := email.Cancelled(appt)
		for _, admin := range d.admins {
			d.deliverEmail(ctx, evt, admin, subject, body)
		}
	case topicReminder:
		subject, body := email.Reminder(appt)
		d.deliverEmail(ctx, evt, clientEmail, subject, body)
		if clientPhone != "" {
			d.deliverSMS(ctx, evt, clientPhone, subject)
		}
	default:
		d.logger.Warn("unhandled topic", "topic", msg.Topic)
	}
	return nil
}

// deliverEmail sends and records one message. Delivery failures are recorded
// and reported via the outbox; they never bubble up to the consumer.
func (d *dispatcher) deliverEmail(ctx context.Context, evt appointmentEvent, to, subject, body string) {
	status := "sent"
	failReason := ""
	if err := d.emails.Send(to, subject, body); err != nil {
		d.logger.Error("email delivery failed", "err", err, "appointment_id", evt.AppointmentID)
		status = "failed"
		failReason = err.Error()
	}
	d.writeOutcome(ctx, evt, "email", failReason)
	d.record(ctx, evt, "email", to, subject, status)
}

func (d *dispatcher) deliverSMS(ctx context.Context, evt appointmentEvent, to, body string) {
	status := "sent"
	failReason := ""
	if err := d.texts.Send(ctx, to, body); err != nil {
		d.logger.Error("sms delivery failed", "err", err, "appointment_id", evt.AppointmentID, "provider", d.texts.ProviderID())
		status = "failed"
		failReason = err.Error()
	}
	d.writeOutcome(ctx, evt, "sms", failReason)
	d.record(ctx, evt, "sms", to, body, status)
}

func (d *dispatcher) record(ctx context.Context, evt appointmentEvent, channel, recipient, subject, status string) {
	err := d.repo.Insert(ctx, storage.Notification{
		AppointmentID: evt.AppointmentID,
		ClientID:      evt.ClientID,
		Channel:       channel,
		Recipient:     recipient,
		Payload:       map[string]any{"subject": subject, "event_status": evt.Status},
		Status:        status,
	})
	if err != nil {
		d.logger.Error("notification record failed", "err", err, "appointment_id", evt.AppointmentID)
	}
}

func (d *dispatcher) writeOutcome(ctx context.Context, evt appointmentEvent, channel, failReason string) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		d.logger.Error("outcome tx begin failed", "err", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	eventType := outbox.EventNotificationSent
	fields := map[string]any{
		"appointment_id": evt.AppointmentID,
		"client_id":      evt.ClientID,
		"channel":        channel,
		"at":             time.Now().UTC().Format(time.RFC3339),
	}
	if failReason != "" {
		eventType = outbox.EventNotificationFailed
		fields["error_reason"] = failReason
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		d.logger.Error("outcome payload marshal failed", "err", err)
		return
	}

	if err := d.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   evt.AppointmentID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		d.logger.Error("outcome outbox insert failed", "err", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		d.logger.Error("outcome tx commit failed", "err", err)
	}
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	var texts sms.Sender = sms.NewNoopSender()
	if url := config.String("SMS_WEBHOOK_URL", ""); url != "" {
		texts = sms.NewWebhookSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
	}

	admins := config.List("ADMIN_EMAILS", "")
	if len(admins) == 0 {
		logger.Warn("no admin emails configured; staff notifications disabled")
	}

	outboxRepo := outbox.NewRepository()
	d := &dispatcher{
		repo:       storage.NewRepository(pool),
		pool:       pool,
		outboxRepo: outboxRepo,
		emails: email.NewSMTPSender(
			config.String("SMTP_HOST", "localhost"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", ""),
		),
		texts:  texts,
		logger: logger,
		admins: admins,
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")
	if strings.TrimSpace(brokers) == "" {
		logger.Warn("kafka not configured; consumers disabled")
	} else {
		for _, topic := range []string{topicRequested, topicConfirmed, topicRejected, topicCancelled, topicReminder} {
			c := consumer.New(logger, inboxRepo, consumer.Config{
				Brokers: brokers,
				GroupID: groupID,
				Topic:   topic,
			}, d.handle)
			go c.Run(ctx)
		}
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "notification")
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
