package plans

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"pro", "pro"},
		{" Elite ", "elite"},
		{"START", "start"},
		{"free", "free"},
		{"gold", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPriceTable(t *testing.T) {
	table := PriceTable{Start: "price_start", Pro: "price_pro", Elite: "price_elite"}

	if got := table.TierForPrice("price_pro"); got != TierPro {
		t.Fatalf("TierForPrice(price_pro) = %q", got)
	}
	if got := table.TierForPrice("price_unknown"); got != "" {
		t.Fatalf("unknown price resolved to %q", got)
	}
	if got := table.TierForPrice(""); got != "" {
		t.Fatalf("empty price resolved to %q", got)
	}
	if got := table.PriceForTier(TierElite); got != "price_elite" {
		t.Fatalf("PriceForTier(elite) = %q", got)
	}
	if got := table.PriceForTier(TierFree); got != "" {
		t.Fatalf("PriceForTier(free) = %q", got)
	}
}

func TestLimitsForTier_UnknownFallsBackToFree(t *testing.T) {
	limits := LimitsForTier("whatever")
	if limits.Tier != TierFree {
		t.Fatalf("expected free limits, got %q", limits.Tier)
	}
}
