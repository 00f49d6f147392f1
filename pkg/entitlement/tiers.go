package entitlement

// UnlimitedAIInteractions marks a tier with no monthly AI quota.
const UnlimitedAIInteractions = -1

// TierSpec defines what a tier grants: accessible commandment numbers, the
// monthly AI interaction quota (UnlimitedAIInteractions for none), and
// feature flags. Weight orders tiers so multi-item purchases resolve to the
// highest entitlement.
type TierSpec struct {
	Name                  Tier
	Commandments          []int
	MonthlyAIInteractions int
	TeamFeatures          bool
	PrioritySupport       bool
	Weight                int
}

// builtinTiers is the closed entitlement table. The product ships ten
// commandments; paid tiers unlock them progressively.
var builtinTiers = map[Tier]TierSpec{
	TierFree: {
		Name:                  TierFree,
		Commandments:          commandmentRange(1, 2),
		MonthlyAIInteractions: 10,
		Weight:                0,
	},
	TierStarter: {
		Name:                  TierStarter,
		Commandments:          commandmentRange(1, 5),
		MonthlyAIInteractions: 50,
		Weight:                10,
	},
	TierPro: {
		Name:                  TierPro,
		Commandments:          commandmentRange(1, 8),
		MonthlyAIInteractions: 250,
		PrioritySupport:       true,
		Weight:                20,
	},
	TierExpert: {
		Name:                  TierExpert,
		Commandments:          commandmentRange(1, 10),
		MonthlyAIInteractions: UnlimitedAIInteractions,
		TeamFeatures:          true,
		PrioritySupport:       true,
		Weight:                30,
	},
	TierLifetime: {
		Name:                  TierLifetime,
		Commandments:          commandmentRange(1, 10),
		MonthlyAIInteractions: UnlimitedAIInteractions,
		TeamFeatures:          true,
		PrioritySupport:       true,
		Weight:                40,
	},
}

// SpecFor returns the entitlement spec for a tier, falling back to the free
// tier for unknown values.
func SpecFor(tier Tier) TierSpec {
	if spec, ok := builtinTiers[tier]; ok {
		return spec
	}
	return builtinTiers[TierFree]
}

// Weight returns the priority weight for a tier (higher = better).
func Weight(tier Tier) int {
	return SpecFor(tier).Weight
}

// GrantsCommandment reports whether the spec allows the given commandment
// number.
func (s TierSpec) GrantsCommandment(n int) bool {
	for _, c := range s.Commandments {
		if c == n {
			return true
		}
	}
	return false
}

// Unlimited reports whether the spec has no monthly AI quota.
func (s TierSpec) Unlimited() bool {
	return s.MonthlyAIInteractions == UnlimitedAIInteractions
}

func commandmentRange(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for n := from; n <= to; n++ {
		out = append(out, n)
	}
	return out
}
