package subscriptions

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	stripesubscription "github.com/stripe/stripe-go/v79/subscription"

	"github.com/fitflowhq/fitflow/libs/db"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/plans"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/reconcile"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/storage"
)

// StripeReconciler periodically re-reads live subscription state from Stripe
// for every Stripe-linked trainer and applies it through the same mapping
// path the webhook uses. This self-heals accounts after missed deliveries or
// downtime.
type StripeReconciler struct {
	pool        *db.Pool
	repo        *storage.Repository
	subSvc      *Service
	mapper      *reconcile.Mapper
	logger      *slog.Logger
	stripeKey   string
	batchSize   int
	advisoryKey int64
}

type StripeReconcilerConfig struct {
	StripeSecretKey string
	Prices          plans.PriceTable
	BatchSize       int
	AdvisoryLockKey int64
}

func NewStripeReconciler(pool *db.Pool, repo *storage.Repository, subSvc *Service, logger *slog.Logger, cfg StripeReconcilerConfig) *StripeReconciler {
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 50
	}
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		// Stable-ish default; override via env if another periodic job shares the database.
		lockKey = 7301001
	}
	return &StripeReconciler{
		pool:        pool,
		repo:        repo,
		subSvc:      subSvc,
		mapper:      &reconcile.Mapper{Prices: cfg.Prices},
		logger:      logger,
		stripeKey:   strings.TrimSpace(cfg.StripeSecretKey),
		batchSize:   bs,
		advisoryKey: lockKey,
	}
}

func (r *StripeReconciler) Run(ctx context.Context, interval time.Duration) {
	if r.stripeKey == "" {
		r.logger.Warn("stripe reconcile disabled: STRIPE_SECRET_KEY missing")
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// Best-effort leader election for multi-instance deployments.
	// Only the instance holding the advisory lock will reconcile.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked); err != nil {
			r.logger.Error("stripe reconcile: failed to acquire advisory lock", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if !locked {
			r.logger.Info("stripe reconcile: advisory lock held by another instance", "lock_key", r.advisoryKey)
			time.Sleep(30 * time.Second)
			continue
		}
		r.logger.Info("stripe reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
		defer func() {
			_, _ = r.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
		}()
		break
	}

	stripe.Key = r.stripeKey
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.reconcileOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func (r *StripeReconciler) reconcileOnce(ctx context.Context) {
	trainers, err := r.repo.ListStripeLinkedTrainers(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("stripe reconcile: failed to list trainers", "err", err)
		return
	}

	for _, trainer := range trainers {
		if ctx.Err() != nil {
			return
		}
		if err := r.reconcileTrainer(ctx, trainer); err != nil {
			r.logger.Warn("stripe reconcile: trainer not reconciled",
				"err", err, "trainer_id", trainer.ID, "stripe_subscription_id", trainer.StripeSubscriptionID)
		}
	}
}

func (r *StripeReconciler) reconcileTrainer(ctx context.Context, trainer storage.Trainer) error {
	stripeSub, err := stripesubscription.Get(trainer.StripeSubscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return err
	}

	// Build the same event shape a customer.subscription.updated delivery
	// carries, so the webhook and the reconciler can never disagree.
	evt := reconcile.Event{
		ID:               "reconcile:" + trainer.ID + ":" + stripeSub.ID,
		Type:             reconcile.EventSubscriptionUpdated,
		TrainerID:        trainer.ID,
		SubscriptionID:   stripeSub.ID,
		ProviderStatus:   string(stripeSub.Status),
		CurrentPeriodEnd: stripeSub.CurrentPeriodEnd,
	}
	if stripeSub.Customer != nil {
		evt.CustomerID = stripeSub.Customer.ID
	}
	if stripeSub.Items != nil && len(stripeSub.Items.Data) > 0 && stripeSub.Items.Data[0].Price != nil {
		evt.PriceID = stripeSub.Items.Data[0].Price.ID
	}

	mut, err := r.mapper.Map(ctx, evt)
	if err != nil {
		return err
	}

	// Skip the write entirely when nothing would change.
	if trainer.SubscriptionStatus == mut.Status &&
		(mut.Plan == "" || trainer.Plan == mut.Plan) &&
		(mut.CycleEnd == nil || (trainer.BillingCycleEnd != nil && trainer.BillingCycleEnd.Equal(*mut.CycleEnd))) {
		return nil
	}

	tx, err := r.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	locked, err := r.subSvc.Resolve(ctx, tx, evt)
	if err != nil {
		if errors.Is(err, ErrUnresolvableTrainer) {
			return nil
		}
		return err
	}
	if err := r.subSvc.Apply(ctx, tx, locked, mut, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
