package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/fitflowhq/fitflow/services/billing-service/internal/reconcile"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/storage"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/subscriptions"
)

// StripeWebhook handles Stripe webhooks (no JWT auth; signature verification
// is the auth). Gateway should expose this path publicly.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.stripeWebhookSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	stripeEvt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(stripeEvt.Type)
	h.logger.Info("billing provider event received",
		"provider", "stripe",
		"provider_event_id", stripeEvt.ID,
		"event_type", evtType,
	)

	evt, err := extractEvent(stripeEvt)
	if err != nil {
		if errors.Is(err, reconcile.ErrUnsupportedEvent) {
			// Unknown event types are acknowledged and skipped, never applied.
			writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}
		h.logger.Error("stripe: invalid event payload", "err", err, "event_type", evtType)
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}

	// Provider lookups run before the transaction so the trainer row is never
	// locked across a network call. A failed lookup acks the delivery without
	// recording the event id, so Stripe's redelivery gets a clean retry.
	mut, err := h.mapper.Map(r.Context(), evt)
	if err != nil {
		h.logger.Warn("stripe: mapping failed, acknowledging without mutation",
			"err", err, "provider_event_id", evt.ID, "event_type", evtType)
		writeJSON(w, http.StatusOK, map[string]any{"status": "deferred"})
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	// Idempotency: ignore replayed Stripe events.
	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("billing provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	trainer, err := h.subSvc.Resolve(r.Context(), tx, evt)
	if err != nil {
		if errors.Is(err, subscriptions.ErrUnresolvableTrainer) {
			// Rolling back discards the provider_events insert too, so a
			// later redelivery retries resolution from scratch.
			h.logger.Warn("stripe: event does not resolve to a trainer, acknowledging without mutation",
				"provider_event_id", evt.ID, "event_type", evtType, "customer_id", evt.CustomerID)
			writeJSON(w, http.StatusOK, map[string]any{"status": "unresolved"})
			return
		}
		http.Error(w, "failed to resolve trainer", http.StatusInternalServerError)
		return
	}

	if err := h.subSvc.Apply(r.Context(), tx, trainer, mut, evt); err != nil {
		http.Error(w, "failed to apply event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	h.logger.Info("billing event applied",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"trainer_id", trainer.ID,
		"status", mut.Status,
		"plan", mut.Plan,
	)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// extractEvent pulls the mapping inputs out of the raw Stripe payload.
func extractEvent(stripeEvt stripe.Event) (reconcile.Event, error) {
	evt := reconcile.Event{ID: stripeEvt.ID, Type: string(stripeEvt.Type)}

	switch evt.Type {
	case reconcile.EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvt.Data.Raw, &session); err != nil {
			return reconcile.Event{}, err
		}
		evt.PaymentStatus = string(session.PaymentStatus)
		evt.TrainerID = strings.TrimSpace(session.Metadata["trainer_id"])
		evt.PlanMetadata = session.Metadata["plan"]
		if session.Customer != nil {
			evt.CustomerID = session.Customer.ID
		}
		if session.Subscription != nil {
			evt.SubscriptionID = session.Subscription.ID
		}

	case reconcile.EventSubscriptionUpdated, reconcile.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(stripeEvt.Data.Raw, &sub); err != nil {
			return reconcile.Event{}, err
		}
		evt.SubscriptionID = sub.ID
		evt.TrainerID = strings.TrimSpace(sub.Metadata["trainer_id"])
		evt.ProviderStatus = string(sub.Status)
		evt.CurrentPeriodEnd = sub.CurrentPeriodEnd
		if sub.Customer != nil {
			evt.CustomerID = sub.Customer.ID
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			evt.PriceID = sub.Items.Data[0].Price.ID
		}

	case reconcile.EventInvoicePaid, reconcile.EventInvoiceFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(stripeEvt.Data.Raw, &inv); err != nil {
			return reconcile.Event{}, err
		}
		if inv.Customer != nil {
			evt.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			evt.SubscriptionID = inv.Subscription.ID
		}

	default:
		return reconcile.Event{}, reconcile.ErrUnsupportedEvent
	}

	return evt, nil
}
