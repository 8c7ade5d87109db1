package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fitflowhq/fitflow/libs/db"
)

type Trainer struct {
	ID                 string
	Email              string
	Name               string
	PasswordHash       string
	Plan               string
	SubscriptionStatus string
	TrialEndsAt        *time.Time
	CreatedAt          time.Time
}

type TrainerRepository struct {
	pool *db.Pool
}

func NewTrainerRepository(pool *db.Pool) *TrainerRepository {
	return &TrainerRepository{pool: pool}
}

func (r *TrainerRepository) CreateTx(ctx context.Context, tx pgx.Tx, t Trainer) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO trainers (id, email, name, password_hash, plan, subscription_status, trial_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.Email, t.Name, t.PasswordHash, t.Plan, t.SubscriptionStatus, t.TrialEndsAt)
	return err
}

func (r *TrainerRepository) GetByEmail(ctx context.Context, email string) (Trainer, error) {
	return r.get(ctx, `WHERE email = $1`, email)
}

func (r *TrainerRepository) GetByID(ctx context.Context, id string) (Trainer, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *TrainerRepository) get(ctx context.Context, where string, arg any) (Trainer, error) {
	var t Trainer
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, email, COALESCE(name, ''), password_hash, plan, subscription_status, trial_ends_at, created_at
		FROM trainers
		`+where, arg).Scan(&t.ID, &t.Email, &t.Name, &t.PasswordHash, &t.Plan, &t.SubscriptionStatus, &t.TrialEndsAt, &t.CreatedAt)
	if err != nil {
		return Trainer{}, err
	}
	return t, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
