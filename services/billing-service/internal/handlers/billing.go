package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	stripesubscription "github.com/stripe/stripe-go/v79/subscription"

	"github.com/fitflowhq/fitflow/libs/auth"
	"github.com/fitflowhq/fitflow/libs/outbox"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/plans"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/reconcile"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/storage"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/subscriptions"
)

type Handler struct {
	repo                   *storage.Repository
	subSvc                 *subscriptions.Service
	mapper                 *reconcile.Mapper
	logger                 *slog.Logger
	jwtSecret              string
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	stripeSecretKey        string
	prices                 plans.PriceTable
	checkoutSuccessURL     string
	checkoutCancelURL      string
}

type Config struct {
	JWTSecret                     string
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	StripeSecretKey               string
	Prices                        plans.PriceTable
	CheckoutSuccessURL            string
	CheckoutCancelURL             string
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	var lookup reconcile.SubscriptionLookup
	if strings.TrimSpace(cfg.StripeSecretKey) != "" {
		lookup = reconcile.NewStripeLookup(cfg.StripeSecretKey)
	}
	return &Handler{
		repo:                   repo,
		subSvc:                 subscriptions.New(repo, outboxRepo),
		mapper:                 &reconcile.Mapper{Provider: lookup, Prices: cfg.Prices},
		logger:                 logger,
		jwtSecret:              strings.TrimSpace(cfg.JWTSecret),
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
		stripeSecretKey:        strings.TrimSpace(cfg.StripeSecretKey),
		prices:                 cfg.Prices,
		checkoutSuccessURL:     strings.TrimSpace(cfg.CheckoutSuccessURL),
		checkoutCancelURL:      strings.TrimSpace(cfg.CheckoutCancelURL),
	}
}

func (h *Handler) trainerFromRequest(w http.ResponseWriter, r *http.Request) (*auth.TrainerClaims, bool) {
	claims, err := auth.TrainerFromRequest(r, h.jwtSecret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

// GetSubscription returns the caller's current plan, status and limits.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.trainerFromRequest(w, r)
	if !ok {
		return
	}

	trainer, err := h.repo.GetTrainer(r.Context(), claims.TrainerID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "trainer not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load subscription", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"trainer_id":          trainer.ID,
		"plan":                trainer.Plan,
		"subscription_status": trainer.SubscriptionStatus,
		"limits":              plans.LimitsForTier(trainer.Plan),
		"updated_at":          trainer.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if trainer.BillingCycleEnd != nil {
		resp["billing_cycle_end"] = trainer.BillingCycleEnd.UTC().Format(time.RFC3339)
	}
	if trainer.TrialEndsAt != nil {
		resp["trial_ends_at"] = trainer.TrialEndsAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

type checkoutRequest struct {
	Plan       string `json:"plan"`
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

// CreateCheckout starts a Stripe checkout session for a paid plan. The
// trainer id and plan ride along as metadata so the webhook can resolve the
// account without a prior customer link.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.trainerFromRequest(w, r)
	if !ok {
		return
	}
	if h.stripeSecretKey == "" {
		http.Error(w, "stripe checkout not configured (STRIPE_SECRET_KEY missing)", http.StatusNotImplemented)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	plan := plans.Normalize(req.Plan)
	if plan == "" || plan == plans.TierFree {
		http.Error(w, "plan must be one of start, pro, elite", http.StatusBadRequest)
		return
	}
	priceID := h.prices.PriceForTier(plan)
	if priceID == "" {
		http.Error(w, "stripe price id not configured for plan", http.StatusNotImplemented)
		return
	}

	successURL := strings.TrimSpace(req.SuccessURL)
	if successURL == "" {
		successURL = h.checkoutSuccessURL
	}
	cancelURL := strings.TrimSpace(req.CancelURL)
	if cancelURL == "" {
		cancelURL = h.checkoutCancelURL
	}
	if successURL == "" || cancelURL == "" {
		http.Error(w, "success_url and cancel_url are required (or configure default URLs)", http.StatusBadRequest)
		return
	}

	stripe.Key = h.stripeSecretKey

	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: r.Context()},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(claims.TrainerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"trainer_id": claims.TrainerID,
			"plan":       plan,
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"trainer_id": claims.TrainerID,
				"plan":       plan,
			},
		},
	}
	if idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key")); idemKey != "" {
		params.IdempotencyKey = stripe.String(idemKey)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		h.logger.Error("stripe checkout session create failed", "err", err, "trainer_id", claims.TrainerID)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"url":        sess.URL,
	})
}

// CancelSubscription cancels the caller's Stripe subscription at the provider
// and applies the canceled state locally in the same request. The webhook for
// customer.subscription.deleted arrives later and dedups on its event id.
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.trainerFromRequest(w, r)
	if !ok {
		return
	}
	if h.stripeSecretKey == "" {
		http.Error(w, "stripe billing not configured (STRIPE_SECRET_KEY missing)", http.StatusNotImplemented)
		return
	}

	trainer, err := h.repo.GetTrainer(r.Context(), claims.TrainerID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "trainer not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load trainer", http.StatusInternalServerError)
		return
	}
	stripeSubID := strings.TrimSpace(trainer.StripeSubscriptionID)
	if stripeSubID == "" {
		http.Error(w, "no stripe subscription on record", http.StatusConflict)
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey == "" {
		// Deterministic fallback prevents accidental duplicates when clients don't send Idempotency-Key.
		idemKey = "cancel:" + trainer.ID + ":" + stripeSubID
	}

	stripe.Key = h.stripeSecretKey
	cancelParams := &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: r.Context()},
	}
	cancelParams.IdempotencyKey = stripe.String(idemKey)

	if _, err := stripesubscription.Cancel(stripeSubID, cancelParams); err != nil {
		h.logger.Error("stripe subscription cancel failed", "err", err, "stripe_subscription_id", stripeSubID)
		http.Error(w, "failed to cancel subscription", http.StatusBadGateway)
		return
	}

	now := time.Now().UTC()
	evt := reconcile.Event{
		ID:             idemKey,
		Type:           reconcile.EventSubscriptionDeleted,
		TrainerID:      trainer.ID,
		SubscriptionID: stripeSubID,
	}
	mut, err := h.mapper.Map(r.Context(), evt)
	if err != nil {
		http.Error(w, "failed to apply cancellation", http.StatusInternalServerError)
		return
	}
	mut.CycleEnd = &now

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	locked, err := h.subSvc.Resolve(r.Context(), tx, evt)
	if err != nil {
		http.Error(w, "failed to apply cancellation", http.StatusInternalServerError)
		return
	}
	if err := h.subSvc.Apply(r.Context(), tx, locked, mut, evt); err != nil {
		http.Error(w, "failed to apply cancellation", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "canceled",
		"canceled_at": now.Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
