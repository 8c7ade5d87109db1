package readmodel

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fitflowhq/fitflow/libs/db"
)

// BillingView is the portal's local copy of a trainer's billing state, kept
// current by consuming billing.subscription.changed.v1. It backs the trainer
// dashboard only; the access gate never consults it.
type BillingView struct {
	TrainerID          string
	Plan               string
	SubscriptionStatus string
	MaxStudents        int
	MaxWorkouts        int
	ChangedAt          time.Time
	UpdatedAt          time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert applies a billing change, keeping the newest one when events arrive
// out of order.
func (r *Repository) Upsert(ctx context.Context, v BillingView) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO trainer_billing_view (trainer_id, plan, subscription_status, max_students, max_workouts, changed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (trainer_id) DO UPDATE
		SET plan = EXCLUDED.plan,
		    subscription_status = EXCLUDED.subscription_status,
		    max_students = EXCLUDED.max_students,
		    max_workouts = EXCLUDED.max_workouts,
		    changed_at = EXCLUDED.changed_at,
		    updated_at = now()
		WHERE trainer_billing_view.changed_at <= EXCLUDED.changed_at
	`, v.TrainerID, v.Plan, v.SubscriptionStatus, v.MaxStudents, v.MaxWorkouts, v.ChangedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, trainerID string) (BillingView, error) {
	var v BillingView
	err := r.pool.QueryRow(ctx, `
		SELECT trainer_id::text, plan, subscription_status, max_students, max_workouts, changed_at, updated_at
		FROM trainer_billing_view
		WHERE trainer_id = $1
	`, trainerID).Scan(&v.TrainerID, &v.Plan, &v.SubscriptionStatus, &v.MaxStudents, &v.MaxWorkouts, &v.ChangedAt, &v.UpdatedAt)
	if err != nil {
		return BillingView{}, err
	}
	return v, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
