package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/fitflowhq/fitflow/services/billing-service/internal/reconcile"
)

const testWebhookSecret = "whsec_test_secret"

func testHandler() *Handler {
	return &Handler{
		logger:                 slog.New(slog.NewTextHandler(discard{}, nil)),
		stripeWebhookSecret:    testWebhookSecret,
		stripeWebhookTolerance: 300 * time.Second,
		mapper:                 &reconcile.Mapper{},
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func signedRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	payload := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(string(payload.Payload)))
	req.Header.Set("Stripe-Signature", payload.Header)
	return req
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	h := testHandler()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	h := testHandler()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStripeWebhook_NotConfigured(t *testing.T) {
	h := testHandler()
	h.stripeWebhookSecret = ""
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestStripeWebhook_UnknownEventIgnored(t *testing.T) {
	h := testHandler()
	body := []byte(`{"id":"evt_x","api_version":"2024-06-20","type":"charge.refunded","data":{"object":{}}}`)
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, signedRequest(t, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ignored" {
		t.Fatalf("status field = %v, want ignored", resp["status"])
	}
}

func TestExtractEvent_CheckoutCompleted(t *testing.T) {
	raw := `{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"payment_status": "paid",
			"metadata": {"trainer_id": "T1", "plan": "pro"},
			"customer": {"id": "cus_1"},
			"subscription": {"id": "sub_1"}
		}}
	}`
	evt := decodeStripeEvent(t, raw)
	out, err := extractEvent(evt)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out.PaymentStatus != "paid" || out.TrainerID != "T1" || out.PlanMetadata != "pro" {
		t.Fatalf("unexpected event: %+v", out)
	}
	if out.CustomerID != "cus_1" || out.SubscriptionID != "sub_1" {
		t.Fatalf("unexpected ids: %+v", out)
	}
}

func TestExtractEvent_SubscriptionUpdated(t *testing.T) {
	raw := `{
		"id": "evt_2",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"status": "past_due",
			"current_period_end": 1790000000,
			"customer": {"id": "cus_1"},
			"items": {"data": [{"price": {"id": "price_pro"}}]}
		}}
	}`
	evt := decodeStripeEvent(t, raw)
	out, err := extractEvent(evt)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out.ProviderStatus != "past_due" || out.PriceID != "price_pro" || out.CurrentPeriodEnd != 1790000000 {
		t.Fatalf("unexpected event: %+v", out)
	}
}

func TestExtractEvent_InvoiceFailed(t *testing.T) {
	raw := `{
		"id": "evt_3",
		"type": "invoice.payment_failed",
		"data": {"object": {
			"customer": {"id": "cus_1"},
			"subscription": {"id": "sub_1"}
		}}
	}`
	evt := decodeStripeEvent(t, raw)
	out, err := extractEvent(evt)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out.CustomerID != "cus_1" || out.SubscriptionID != "sub_1" {
		t.Fatalf("unexpected event: %+v", out)
	}
}

func decodeStripeEvent(t *testing.T, raw string) (evt stripe.Event) {
	t.Helper()
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return evt
}
