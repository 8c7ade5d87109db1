package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fitflowhq/fitflow/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Trainer is the billing-facing projection of a trainer account row.
type Trainer struct {
	ID                   string
	Email                string
	Plan                 string
	SubscriptionStatus   string
	BillingCycleEnd      *time.Time
	TrialEndsAt          *time.Time
	StripeCustomerID     string
	StripeSubscriptionID string
	UpdatedAt            time.Time
}

const trainerColumns = `
	id::text, email, plan, subscription_status, billing_cycle_end, trial_ends_at,
	COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''), updated_at
`

func scanTrainer(row pgx.Row) (Trainer, error) {
	var t Trainer
	err := row.Scan(
		&t.ID, &t.Email, &t.Plan, &t.SubscriptionStatus, &t.BillingCycleEnd, &t.TrialEndsAt,
		&t.StripeCustomerID, &t.StripeSubscriptionID, &t.UpdatedAt,
	)
	if err != nil {
		return Trainer{}, err
	}
	return t, nil
}

func (r *Repository) GetTrainer(ctx context.Context, trainerID string) (Trainer, error) {
	return scanTrainer(r.pool.QueryRow(ctx, `
		SELECT `+trainerColumns+`
		FROM trainers
		WHERE id = $1
	`, trainerID))
}

// GetTrainerForUpdate locks the trainer row for the duration of tx so the
// billing mutation is applied against a stable prior state.
func (r *Repository) GetTrainerForUpdate(ctx context.Context, tx pgx.Tx, trainerID string) (Trainer, error) {
	return scanTrainer(tx.QueryRow(ctx, `
		SELECT `+trainerColumns+`
		FROM trainers
		WHERE id = $1
		FOR UPDATE
	`, trainerID))
}

func (r *Repository) GetTrainerByCustomerForUpdate(ctx context.Context, tx pgx.Tx, stripeCustomerID string) (Trainer, error) {
	return scanTrainer(tx.QueryRow(ctx, `
		SELECT `+trainerColumns+`
		FROM trainers
		WHERE stripe_customer_id = $1
		FOR UPDATE
	`, stripeCustomerID))
}

// UpdateBillingState writes status, plan and billing_cycle_end in one
// statement. Empty plan keeps the current plan; nil cycleEnd keeps the
// current cycle end. Provider linkage ids are only overwritten when set.
func (r *Repository) UpdateBillingState(ctx context.Context, tx pgx.Tx, trainerID string, status string, plan string, cycleEnd *time.Time, stripeCustomerID, stripeSubscriptionID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE trainers
		SET subscription_status = $2,
		    plan = COALESCE(NULLIF($3, ''), plan),
		    billing_cycle_end = COALESCE($4, billing_cycle_end),
		    stripe_customer_id = COALESCE(NULLIF($5, ''), stripe_customer_id),
		    stripe_subscription_id = COALESCE(NULLIF($6, ''), stripe_subscription_id),
		    updated_at = now()
		WHERE id = $1
	`, trainerID, status, plan, cycleEnd, stripeCustomerID, stripeSubscriptionID)
	return err
}

// ListStripeLinkedTrainers returns trainers carrying a Stripe subscription id,
// most recently touched first. Used by the periodic reconciler.
func (r *Repository) ListStripeLinkedTrainers(ctx context.Context, limit int) ([]Trainer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+trainerColumns+`
		FROM trainers
		WHERE stripe_subscription_id IS NOT NULL AND stripe_subscription_id <> ''
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trainer
	for rows.Next() {
		var t Trainer
		if err := rows.Scan(
			&t.ID, &t.Email, &t.Plan, &t.SubscriptionStatus, &t.BillingCycleEnd, &t.TrialEndsAt,
			&t.StripeCustomerID, &t.StripeSubscriptionID, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

// InsertProviderEvent records a received provider event. A second delivery of
// the same (provider, event id) pair returns ErrDuplicateProviderEvent.
func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		// Keep raw JSON errors as hard failures: webhook bodies should be well-formed.
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
