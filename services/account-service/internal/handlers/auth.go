package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/fitflowhq/fitflow/libs/auth"
	"github.com/fitflowhq/fitflow/libs/db"
	"github.com/fitflowhq/fitflow/libs/outbox"
	"github.com/fitflowhq/fitflow/services/account-service/internal/sessions"
	"github.com/fitflowhq/fitflow/services/account-service/internal/storage"
)

// New trainer accounts start on the Pro plan with a 7 day trial.
const (
	signupPlan     = "pro"
	signupStatus   = "active"
	signupTrial    = 7 * 24 * time.Hour
	trainerRole    = "trainer"
	accessTokenTTL = 15 * time.Minute
)

type AuthHandler struct {
	pool        *db.Pool
	trainers    *storage.TrainerRepository
	outbox      *outbox.Repository
	refreshRepo *sessions.RefreshRepository
	jwtSecret   string
	refreshTTL  time.Duration
}

func NewAuthHandler(
	pool *db.Pool,
	trainers *storage.TrainerRepository,
	outboxRepo *outbox.Repository,
	refreshRepo *sessions.RefreshRepository,
	jwtSecret string,
	refreshTTL time.Duration,
) *AuthHandler {
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &AuthHandler{
		pool:        pool,
		trainers:    trainers,
		outbox:      outboxRepo,
		refreshRepo: refreshRepo,
		jwtSecret:   jwtSecret,
		refreshTTL:  refreshTTL,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	TrainerID string `json:"trainer_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Password = strings.TrimSpace(req.Password)
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		http.Error(w, "failed to hash password", http.StatusInternalServerError)
		return
	}

	trialEnds := time.Now().UTC().Add(signupTrial)
	trainer := storage.Trainer{
		ID:                 uuid.NewString(),
		Email:              req.Email,
		Name:               req.Name,
		PasswordHash:       hash,
		Plan:               signupPlan,
		SubscriptionStatus: signupStatus,
		TrialEndsAt:        &trialEnds,
	}

	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.trainers.CreateTx(ctx, tx, trainer); err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create trainer", http.StatusInternalServerError)
		return
	}

	createdPayload, err := json.Marshal(map[string]any{
		"trainer_id":    trainer.ID,
		"email":         trainer.Email,
		"plan":          trainer.Plan,
		"trial_ends_at": trialEnds.Format(time.RFC3339),
		"created_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to marshal trainer event", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "trainer",
		AggregateID:   trainer.ID,
		EventType:     "account.trainer.created.v1",
		Payload:       createdPayload,
	}); err != nil {
		http.Error(w, "failed to enqueue trainer event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.writeTokens(w, r.Context(), trainer, http.StatusCreated)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Password = strings.TrimSpace(req.Password)
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	trainer, err := h.trainers.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "failed to lookup trainer", http.StatusInternalServerError)
		return
	}

	if err := verifyPassword(trainer.PasswordHash, req.Password); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	h.writeTokens(w, r.Context(), trainer, http.StatusOK)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token required", http.StatusBadRequest)
		return
	}

	record, err := h.refreshRepo.GetByHash(r.Context(), sessions.HashToken(req.RefreshToken))
	if err != nil {
		if sessions.IsNotFound(err) {
			http.Error(w, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		http.Error(w, "failed to lookup refresh token", http.StatusInternalServerError)
		return
	}
	if record.RevokedAt != nil || record.ExpiresAt.Before(time.Now()) {
		http.Error(w, "refresh token expired", http.StatusUnauthorized)
		return
	}

	trainer, err := h.trainers.GetByID(r.Context(), record.TrainerID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		http.Error(w, "failed to lookup trainer", http.StatusInternalServerError)
		return
	}

	// Rotation: the presented token dies with this request.
	if err := h.refreshRepo.Revoke(r.Context(), record.ID); err != nil {
		http.Error(w, "failed to rotate refresh token", http.StatusInternalServerError)
		return
	}

	h.writeTokens(w, r.Context(), trainer, http.StatusOK)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token required", http.StatusBadRequest)
		return
	}

	record, err := h.refreshRepo.GetByHash(r.Context(), sessions.HashToken(req.RefreshToken))
	if err != nil {
		// A token we don't know is as logged-out as it gets.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.refreshRepo.Revoke(r.Context(), record.ID); err != nil {
		http.Error(w, "failed to revoke refresh token", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.TrainerFromRequest(r, h.jwtSecret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		TrainerID: claims.TrainerID,
		Email:     claims.Email,
		Role:      claims.Role,
	})
}

func (h *AuthHandler) writeTokens(w http.ResponseWriter, ctx context.Context, trainer storage.Trainer, code int) {
	accessToken, err := auth.SignTrainerToken(trainer.ID, trainer.Email, trainerRole, h.jwtSecret, accessTokenTTL)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	rawRefresh, err := newRefreshToken()
	if err != nil {
		http.Error(w, "failed to issue refresh token", http.StatusInternalServerError)
		return
	}
	if _, err := h.refreshRepo.Create(ctx, trainer.ID, rawRefresh, time.Now().Add(h.refreshTTL)); err != nil {
		http.Error(w, "failed to store refresh token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, code, tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		TokenType:    "Bearer",
	})
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func newRefreshToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
