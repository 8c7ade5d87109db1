package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fitflowhq/fitflow/libs/outbox"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/plans"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/reconcile"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/storage"
)

// ErrUnresolvableTrainer means the event carried neither a usable trainer_id
// metadata value nor a customer id linked to any trainer. Callers acknowledge
// the delivery without mutating anything.
var ErrUnresolvableTrainer = errors.New("event does not resolve to a trainer")

// Service applies mapped billing mutations to trainer rows and emits the
// change event through the outbox. Keeping this out of HTTP handlers makes it
// reusable for webhook + reconciliation flows.
type Service struct {
	repo       *storage.Repository
	outboxRepo *outbox.Repository
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository) *Service {
	return &Service{repo: repo, outboxRepo: outboxRepo}
}

// Resolve locks and returns the trainer row the event targets. Metadata
// trainer_id wins when present; otherwise the Stripe customer id links the
// event back to a trainer.
func (s *Service) Resolve(ctx context.Context, tx pgx.Tx, evt reconcile.Event) (storage.Trainer, error) {
	if evt.TrainerID != "" {
		t, err := s.repo.GetTrainerForUpdate(ctx, tx, evt.TrainerID)
		if storage.IsNotFound(err) {
			return storage.Trainer{}, ErrUnresolvableTrainer
		}
		return t, err
	}
	if evt.CustomerID != "" {
		t, err := s.repo.GetTrainerByCustomerForUpdate(ctx, tx, evt.CustomerID)
		if storage.IsNotFound(err) {
			return storage.Trainer{}, ErrUnresolvableTrainer
		}
		return t, err
	}
	return storage.Trainer{}, ErrUnresolvableTrainer
}

// Apply writes the mutation to the locked trainer row in a single statement
// and emits billing.subscription.changed.v1 when the effective entitlement
// (plan or status) actually changed. Provider linkage updates alone don't fan
// out.
func (s *Service) Apply(ctx context.Context, tx pgx.Tx, trainer storage.Trainer, mut reconcile.Mutation, evt reconcile.Event) error {
	if err := s.repo.UpdateBillingState(ctx, tx, trainer.ID, mut.Status, mut.Plan, mut.CycleEnd, evt.CustomerID, evt.SubscriptionID); err != nil {
		return err
	}

	effectivePlan := trainer.Plan
	if mut.Plan != "" {
		effectivePlan = mut.Plan
	}
	if trainer.SubscriptionStatus == mut.Status && trainer.Plan == effectivePlan {
		return nil
	}

	limits := plans.LimitsForTier(effectivePlan)
	payload, err := json.Marshal(map[string]any{
		"trainer_id":          trainer.ID,
		"plan":                effectivePlan,
		"subscription_status": mut.Status,
		"max_students":        limits.MaxStudents,
		"max_workouts":        limits.MaxWorkouts,
		"changed_at":          time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	return s.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "trainer",
		AggregateID:   trainer.ID,
		EventType:     "billing.subscription.changed.v1",
		Payload:       payload,
	})
}
