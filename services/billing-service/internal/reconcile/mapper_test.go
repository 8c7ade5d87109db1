package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fitflowhq/fitflow/services/billing-service/internal/plans"
)

type fakeLookup struct {
	periodEnd time.Time
	err       error
	calls     int
}

func (f *fakeLookup) SubscriptionPeriodEnd(_ context.Context, _ string) (time.Time, error) {
	f.calls++
	if f.err != nil {
		return time.Time{}, f.err
	}
	return f.periodEnd, nil
}

func testMapper(lookup SubscriptionLookup, now time.Time) *Mapper {
	return &Mapper{
		Provider: lookup,
		Prices:   plans.PriceTable{Start: "price_start", Pro: "price_pro", Elite: "price_elite"},
		Now:      func() time.Time { return now },
	}
}

func TestMap_CheckoutPaid(t *testing.T) {
	periodEnd := time.Date(2026, 9, 28, 12, 0, 0, 0, time.UTC)
	lookup := &fakeLookup{periodEnd: periodEnd}
	m := testMapper(lookup, time.Now())

	mut, err := m.Map(context.Background(), Event{
		ID:             "evt_1",
		Type:           EventCheckoutCompleted,
		PaymentStatus:  "paid",
		TrainerID:      "T1",
		PlanMetadata:   "Elite",
		SubscriptionID: "sub_1",
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if mut.Status != StatusActive {
		t.Fatalf("status = %q, want active", mut.Status)
	}
	if mut.Plan != plans.TierElite {
		t.Fatalf("plan = %q, want elite", mut.Plan)
	}
	if mut.CycleEnd == nil || !mut.CycleEnd.Equal(periodEnd) {
		t.Fatalf("cycle end = %v, want %v", mut.CycleEnd, periodEnd)
	}
	if lookup.calls != 1 {
		t.Fatalf("expected one provider lookup, got %d", lookup.calls)
	}
}

func TestMap_CheckoutUnpaid(t *testing.T) {
	m := testMapper(nil, time.Now())

	mut, err := m.Map(context.Background(), Event{
		Type:          EventCheckoutCompleted,
		PaymentStatus: "unpaid",
		PlanMetadata:  "elite",
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if mut.Status != StatusUnpaid {
		t.Fatalf("status = %q, want unpaid", mut.Status)
	}
	if mut.Plan != plans.TierFree {
		t.Fatalf("plan = %q, want free (unpaid status forces free)", mut.Plan)
	}
	if mut.CycleEnd != nil {
		t.Fatalf("cycle end should stay unchanged, got %v", mut.CycleEnd)
	}
}

func TestMap_CheckoutPaid_LookupFailure(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("network down")}
	m := testMapper(lookup, time.Now())

	_, err := m.Map(context.Background(), Event{
		Type:           EventCheckoutCompleted,
		PaymentStatus:  "paid",
		PlanMetadata:   "pro",
		SubscriptionID: "sub_1",
	})
	if !errors.Is(err, ErrUpstreamLookup) {
		t.Fatalf("expected ErrUpstreamLookup, got %v", err)
	}
}

func TestMap_SubscriptionUpdated(t *testing.T) {
	periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	m := testMapper(nil, time.Now())

	mut, err := m.Map(context.Background(), Event{
		Type:             EventSubscriptionUpdated,
		CustomerID:       "cus_1",
		ProviderStatus:   "trialing",
		PriceID:          "price_pro",
		CurrentPeriodEnd: periodEnd.Unix(),
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if mut.Status != StatusActive {
		t.Fatalf("trialing should map to active, got %q", mut.Status)
	}
	if mut.Plan != plans.TierPro {
		t.Fatalf("plan = %q, want pro", mut.Plan)
	}
	if mut.CycleEnd == nil || !mut.CycleEnd.Equal(periodEnd) {
		t.Fatalf("cycle end = %v, want %v", mut.CycleEnd, periodEnd)
	}
}

func TestMap_SubscriptionUpdated_UnresolvablePriceKeepsPlan(t *testing.T) {
	m := testMapper(nil, time.Now())

	mut, err := m.Map(context.Background(), Event{
		Type:           EventSubscriptionUpdated,
		ProviderStatus: "active",
		PriceID:        "price_unknown",
	})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if mut.Plan != "" {
		t.Fatalf("unresolvable price should keep current plan, got %q", mut.Plan)
	}
}

func TestMap_SubscriptionDeleted(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	m := testMapper(nil, now)

	evt := Event{Type: EventSubscriptionDeleted, CustomerID: "cus_1"}
	mut, err := m.Map(context.Background(), evt)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if mut.Status != StatusCanceled {
		t.Fatalf("status = %q, want canceled", mut.Status)
	}
	if mut.Plan != plans.TierFree {
		t.Fatalf("plan = %q, want free (canceled forces free)", mut.Plan)
	}
	if mut.CycleEnd == nil || !mut.CycleEnd.Equal(now) {
		t.Fatalf("cycle end = %v, want now (%v)", mut.CycleEnd, now)
	}

	// Re-applying the identical event yields the identical mutation: the
	// mapping depends only on event content.
	again, err := m.Map(context.Background(), evt)
	if err != nil {
		t.Fatalf("map again: %v", err)
	}
	if again != mut && (again.CycleEnd == nil || !again.CycleEnd.Equal(*mut.CycleEnd) || again.Status != mut.Status || again.Plan != mut.Plan) {
		t.Fatalf("redelivered event mapped differently: %+v vs %+v", again, mut)
	}
}

func TestMap_InvoiceFailed_NeverTouchesPlan(t *testing.T) {
	m := testMapper(nil, time.Now())

	mut, err := m.Map(context.Background(), Event{Type: EventInvoiceFailed, CustomerID: "cus_1"})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if mut.Status != StatusPastDue {
		t.Fatalf("status = %q, want past_due", mut.Status)
	}
	if mut.Plan != "" {
		t.Fatalf("invoice.payment_failed must not change plan, got %q", mut.Plan)
	}
	if mut.CycleEnd != nil {
		t.Fatalf("invoice.payment_failed must not change cycle end, got %v", mut.CycleEnd)
	}
}

func TestMap_InvoicePaid(t *testing.T) {
	m := testMapper(nil, time.Now())

	mut, err := m.Map(context.Background(), Event{Type: EventInvoicePaid, CustomerID: "cus_1"})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if mut.Status != StatusActive || mut.Plan != "" || mut.CycleEnd != nil {
		t.Fatalf("unexpected mutation: %+v", mut)
	}
}

func TestMap_UnsupportedEvent(t *testing.T) {
	m := testMapper(nil, time.Now())
	if _, err := m.Map(context.Background(), Event{Type: "charge.refunded"}); !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("expected ErrUnsupportedEvent, got %v", err)
	}
}

func TestMapProviderStatus(t *testing.T) {
	cases := []struct {
		provider string
		want     string
	}{
		{"active", StatusActive},
		{"trialing", StatusActive},
		{"past_due", StatusPastDue},
		{"canceled", StatusCanceled},
		{"unpaid", StatusUnpaid},
		{"incomplete", StatusInactive},
		{"incomplete_expired", StatusInactive},
		{"paused", StatusInactive},
		{"some_future_status", StatusInactive},
		{"", StatusInactive},
	}
	for _, tc := range cases {
		if got := MapProviderStatus(tc.provider); got != tc.want {
			t.Errorf("MapProviderStatus(%q) = %q, want %q", tc.provider, got, tc.want)
		}
	}
	// The fail-safe default must never be active.
	if MapProviderStatus("paused") == StatusActive {
		t.Fatal("paused must not map to active")
	}
}
