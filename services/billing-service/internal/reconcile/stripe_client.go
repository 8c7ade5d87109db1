package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	stripesubscription "github.com/stripe/stripe-go/v79/subscription"
)

// StripeLookup fetches subscription state from the Stripe API. Lookups run
// before any database transaction is opened, so a slow or failing fetch never
// holds row locks.
type StripeLookup struct {
	MaxAttempts int
	Backoff     time.Duration
}

func NewStripeLookup(secretKey string) *StripeLookup {
	stripe.Key = secretKey
	return &StripeLookup{MaxAttempts: 3, Backoff: 200 * time.Millisecond}
}

func (l *StripeLookup) SubscriptionPeriodEnd(ctx context.Context, subscriptionID string) (time.Time, error) {
	attempts := l.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return time.Time{}, ctx.Err()
			case <-time.After(l.Backoff * time.Duration(i)):
			}
		}

		sub, err := stripesubscription.Get(subscriptionID, &stripe.SubscriptionParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			lastErr = err
			// Client-side errors (bad ID, revoked key) won't heal on retry.
			if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != 429 {
				break
			}
			continue
		}
		if sub.CurrentPeriodEnd <= 0 {
			return time.Time{}, fmt.Errorf("subscription %s has no current period end", subscriptionID)
		}
		return time.Unix(sub.CurrentPeriodEnd, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("fetch subscription %s: %w", subscriptionID, lastErr)
}
