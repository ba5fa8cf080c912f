package governor

// Tier is an affordability and capability bucket for models.
type Tier string

const (
	TierPremium Tier = "premium"
	TierStrong  Tier = "strong"
	TierFast    Tier = "fast"
	TierCheap   Tier = "cheap"
)

// Input-price thresholds (USD per million tokens) separating tiers.
const (
	premiumPriceFloor = 10.0
	strongPriceFloor  = 2.0
	fastPriceFloor    = 0.1
)

// tierOrder runs from most to least expensive. Fallback walks it downward.
var tierOrder = []Tier{TierPremium, TierStrong, TierFast, TierCheap}

// ClassifyTier maps a model's input price to its tier. A missing price
// classifies as cheap: failing toward the cheapest option is always safe,
// failing toward premium never is.
func ClassifyTier(m ModelDescriptor) Tier {
	if m.InputPrice == nil {
		return TierCheap
	}
	switch p := *m.InputPrice; {
	case p >= premiumPriceFloor:
		return TierPremium
	case p >= strongPriceFloor:
		return TierStrong
	case p >= fastPriceFloor:
		return TierFast
	default:
		return TierCheap
	}
}

// Below returns the next cheaper tier, or false from cheap.
func (t Tier) Below() (Tier, bool) {
	for i, tier := range tierOrder {
		if tier == t && i < len(tierOrder)-1 {
			return tierOrder[i+1], true
		}
	}
	return "", false
}

// Valid reports whether t names a known tier.
func (t Tier) Valid() bool {
	for _, tier := range tierOrder {
		if tier == t {
			return true
		}
	}
	return false
}
