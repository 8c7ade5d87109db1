package plans

import "strings"

// Plan tiers a trainer account can hold. TierFree is the floor every
// non-paying account lands on.
const (
	TierFree  = "free"
	TierStart = "start"
	TierPro   = "pro"
	TierElite = "elite"
)

func ValidTier(tier string) bool {
	switch tier {
	case TierFree, TierStart, TierPro, TierElite:
		return true
	default:
		return false
	}
}

// Normalize lowercases and trims a tier name, returning "" when the result
// is not a known tier. Callers treat "" as "keep the current plan".
func Normalize(tier string) string {
	t := strings.TrimSpace(strings.ToLower(tier))
	if !ValidTier(t) {
		return ""
	}
	return t
}

// Limits represents the entitlements derived from a plan tier.
// Keep this small and stable: other services rely on these to enforce behavior.
type Limits struct {
	Tier        string `json:"tier"`
	MaxStudents int32  `json:"max_students"`
	MaxWorkouts int32  `json:"max_workouts"`
}

func LimitsForTier(tier string) Limits {
	switch tier {
	case TierStart:
		return Limits{Tier: TierStart, MaxStudents: 10, MaxWorkouts: 40}
	case TierPro:
		return Limits{Tier: TierPro, MaxStudents: 50, MaxWorkouts: 400}
	case TierElite:
		return Limits{Tier: TierElite, MaxStudents: 500, MaxWorkouts: 5000}
	default:
		return Limits{Tier: TierFree, MaxStudents: 3, MaxWorkouts: 10}
	}
}

// PriceTable maps the payment provider's price ids onto plan tiers.
// Populated from environment configuration at startup.
type PriceTable struct {
	Start string
	Pro   string
	Elite string
}

// TierForPrice resolves a provider price id to a tier.
// Returns "" when the price id is unknown or empty.
func (p PriceTable) TierForPrice(priceID string) string {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return ""
	}
	switch priceID {
	case p.Start:
		return TierStart
	case p.Pro:
		return TierPro
	case p.Elite:
		return TierElite
	default:
		return ""
	}
}

// PriceForTier is the inverse lookup, used when creating checkout sessions.
func (p PriceTable) PriceForTier(tier string) string {
	switch tier {
	case TierStart:
		return p.Start
	case TierPro:
		return p.Pro
	case TierElite:
		return p.Elite
	default:
		return ""
	}
}
