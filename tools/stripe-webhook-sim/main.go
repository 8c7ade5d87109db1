package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL   = flag.String("base-url", getenv("BASE_URL", "http://localhost:8084"), "billing service base url")
		evtType   = flag.String("type", getenv("STRIPE_EVENT_TYPE", "checkout.session.completed"), "stripe event type")
		trainerID = flag.String("trainer-id", getenv("TRAINER_ID", ""), "trainer_id metadata")
		plan      = flag.String("plan", getenv("PLAN", "pro"), "plan metadata")
		payStatus = flag.String("payment-status", getenv("PAYMENT_STATUS", "paid"), "checkout payment_status")
		subStatus = flag.String("sub-status", getenv("SUB_STATUS", "active"), "subscription status")
		customer  = flag.String("customer-id", getenv("CUSTOMER_ID", "cus_test_123"), "stripe customer id")
		priceID   = flag.String("price-id", getenv("PRICE_ID", ""), "subscription price id")
		secret    = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}

	now := time.Now().UTC()
	eventID := fmt.Sprintf("evt_test_%d", now.UnixNano())

	payload, err := buildEventJSON(eventJSONParams{
		EventID:       eventID,
		EventType:     *evtType,
		Created:       now,
		TrainerID:     *trainerID,
		Plan:          *plan,
		PaymentStatus: *payStatus,
		SubStatus:     *subStatus,
		CustomerID:    *customer,
		PriceID:       *priceID,
	})
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/billing/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	fmt.Printf("status=%d\n", resp.StatusCode)
}

type eventJSONParams struct {
	EventID       string
	EventType     string
	Created       time.Time
	TrainerID     string
	Plan          string
	PaymentStatus string
	SubStatus     string
	CustomerID    string
	PriceID       string
}

func buildEventJSON(p eventJSONParams) ([]byte, error) {
	created := p.Created.Unix()
	envelope := func(object map[string]any) ([]byte, error) {
		return json.Marshal(map[string]any{
			"id":          p.EventID,
			"object":      "event",
			"created":     created,
			"type":        p.EventType,
			"api_version": "2024-06-20",
			"data":        map[string]any{"object": object},
		})
	}

	switch p.EventType {
	case "checkout.session.completed":
		if p.TrainerID == "" {
			return nil, fmt.Errorf("TRAINER_ID is required for %s", p.EventType)
		}
		return envelope(map[string]any{
			"id":             "cs_test_123",
			"object":         "checkout.session",
			"payment_status": p.PaymentStatus,
			"customer":       p.CustomerID,
			"subscription":   "sub_test_123",
			"metadata": map[string]any{
				"trainer_id": p.TrainerID,
				"plan":       p.Plan,
			},
		})
	case "customer.subscription.updated", "customer.subscription.deleted":
		object := map[string]any{
			"id":                 "sub_test_123",
			"object":             "subscription",
			"status":             p.SubStatus,
			"customer":           p.CustomerID,
			"current_period_end": p.Created.Add(30 * 24 * time.Hour).Unix(),
			"metadata": map[string]any{
				"trainer_id": p.TrainerID,
				"plan":       p.Plan,
			},
		}
		if p.PriceID != "" {
			object["items"] = map[string]any{
				"object": "list",
				"data": []map[string]any{
					{"price": map[string]any{"id": p.PriceID}},
				},
			}
		}
		return envelope(object)
	case "invoice.payment_succeeded", "invoice.payment_failed":
		return envelope(map[string]any{
			"id":           "in_test_123",
			"object":       "invoice",
			"customer":     p.CustomerID,
			"subscription": "sub_test_123",
		})
	default:
		return nil, fmt.Errorf("unsupported event type: %s", p.EventType)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
