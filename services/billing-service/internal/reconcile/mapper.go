package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitflowhq/fitflow/services/billing-service/internal/plans"
)

// Provider event types the reconciler understands. Anything else is ignored
// at the webhook boundary before mapping.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// Internal subscription statuses a trainer row can hold.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusUnpaid   = "unpaid"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported event type")

	// ErrUpstreamLookup wraps provider API failures during mapping. The
	// webhook acknowledges the delivery but applies no mutation, so the
	// provider's redelivery retries the lookup.
	ErrUpstreamLookup = errors.New("provider lookup failed")
)

// Event is the provider-agnostic view of one billing lifecycle event,
// extracted from the raw webhook payload before mapping.
type Event struct {
	ID   string
	Type string

	// checkout.session.completed
	PaymentStatus  string
	TrainerID      string // metadata trainer_id
	PlanMetadata   string // metadata plan
	SubscriptionID string

	// customer.subscription.* / invoice.*
	CustomerID       string
	ProviderStatus   string
	PriceID          string
	CurrentPeriodEnd int64 // unix seconds, 0 when absent
}

// Mutation is the resulting trainer record change. Status is always written;
// an empty Plan keeps the current plan and a nil CycleEnd keeps the current
// billing cycle end. All three fields are applied in a single row update.
type Mutation struct {
	Status   string
	Plan     string
	CycleEnd *time.Time
}

// SubscriptionLookup fetches live subscription state from the payment
// provider. Implementations retry transient failures with backoff.
type SubscriptionLookup interface {
	SubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error)
}

// Mapper turns billing events into trainer mutations. The mapping is a pure
// function of the event content (plus provider lookups for checkout events),
// never of prior trainer state, which is what makes redelivery safe.
type Mapper struct {
	Provider SubscriptionLookup
	Prices   plans.PriceTable
	Now      func() time.Time
}

func (m *Mapper) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func (m *Mapper) Map(ctx context.Context, evt Event) (Mutation, error) {
	var mut Mutation

	switch evt.Type {
	case EventCheckoutCompleted:
		if evt.PaymentStatus == "paid" {
			mut.Status = StatusActive
			mut.Plan = plans.Normalize(evt.PlanMetadata)
			if evt.SubscriptionID != "" && m.Provider != nil {
				end, err := m.Provider.SubscriptionPeriodEnd(ctx, evt.SubscriptionID)
				if err != nil {
					return Mutation{}, fmt.Errorf("%w: subscription %s: %w", ErrUpstreamLookup, evt.SubscriptionID, err)
				}
				end = end.UTC()
				mut.CycleEnd = &end
			}
		} else {
			mut.Status = StatusUnpaid
			mut.Plan = plans.TierFree
		}

	case EventSubscriptionUpdated:
		mut.Status = MapProviderStatus(evt.ProviderStatus)
		mut.Plan = m.Prices.TierForPrice(evt.PriceID)
		if evt.CurrentPeriodEnd > 0 {
			end := time.Unix(evt.CurrentPeriodEnd, 0).UTC()
			mut.CycleEnd = &end
		}

	case EventSubscriptionDeleted:
		mut.Status = StatusCanceled
		now := m.now()
		mut.CycleEnd = &now

	case EventInvoicePaid:
		mut.Status = StatusActive

	case EventInvoiceFailed:
		// Keep current entitlements during payment retries: past_due never
		// downgrades the plan.
		mut.Status = StatusPastDue

	default:
		return Mutation{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, evt.Type)
	}

	// A non-active terminal status must never leave a paid tier attached.
	if mut.Status == StatusCanceled || mut.Status == StatusUnpaid {
		mut.Plan = plans.TierFree
	}

	return mut, nil
}

// MapProviderStatus translates the payment provider's subscription status
// into the internal one. Unrecognized statuses map to inactive, never active.
func MapProviderStatus(providerStatus string) string {
	switch providerStatus {
	case "active", "trialing":
		return StatusActive
	case "past_due":
		return StatusPastDue
	case "canceled":
		return StatusCanceled
	case "unpaid":
		return StatusUnpaid
	case "incomplete", "incomplete_expired", "paused":
		return StatusInactive
	default:
		return StatusInactive
	}
}
