package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fitflowhq/fitflow/libs/kafkax"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/inbox"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/readmodel"
)

// Consumer keeps the trainer billing view in sync by reading
// billing.subscription.changed.v1 from Kafka.
type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
	inbox  *inbox.Repository
	views  *readmodel.Repository
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, inboxRepo *inbox.Repository, views *readmodel.Repository, cfg Config) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader: reader,
		logger: logger,
		inbox:  inboxRepo,
		views:  views,
	}
}

type billingChangedPayload struct {
	TrainerID          string `json:"trainer_id"`
	Plan               string `json:"plan"`
	SubscriptionStatus string `json:"subscription_status"`
	MaxStudents        int    `json:"max_students"`
	MaxWorkouts        int    `json:"max_workouts"`
	ChangedAt          string `json:"changed_at"`
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEventMeta(msg)

		ok, err := c.inbox.Record(ctxSpan, meta.EventID, meta.EventType)
		if err != nil {
			c.logger.Error("inbox record failed", "err", err)
			span.RecordError(err)
			span.End()
			continue
		}
		if !ok {
			c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
			span.End()
			continue
		}

		if err := c.apply(ctxSpan, msg); err != nil {
			c.logger.Error("billing view update failed", "err", err, "event_id", meta.EventID)
			span.RecordError(err)
			span.End()
			continue
		}
		span.End()
	}
}

func (c *Consumer) apply(ctx context.Context, msg kafka.Message) error {
	var payload billingChangedPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return err
	}

	changedAt, err := time.Parse(time.RFC3339, payload.ChangedAt)
	if err != nil {
		changedAt = time.Now().UTC()
	}

	if err := c.views.Upsert(ctx, readmodel.BillingView{
		TrainerID:          payload.TrainerID,
		Plan:               payload.Plan,
		SubscriptionStatus: payload.SubscriptionStatus,
		MaxStudents:        payload.MaxStudents,
		MaxWorkouts:        payload.MaxWorkouts,
		ChangedAt:          changedAt,
	}); err != nil {
		return err
	}

	c.logger.Info("trainer billing view updated",
		"trainer_id", payload.TrainerID,
		"plan", payload.Plan,
		"subscription_status", payload.SubscriptionStatus,
	)
	return nil
}
