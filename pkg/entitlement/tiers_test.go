package entitlement

import "testing"

func TestSpecFor_KnownTiers(t *testing.T) {
	tests := []struct {
		tier            Tier
		maxCommandment  int
		aiInteractions  int
		teamFeatures    bool
		prioritySupport bool
	}{
		{TierFree, 2, 10, false, false},
		{TierStarter, 5, 50, false, false},
		{TierPro, 8, 250, false, true},
		{TierExpert, 10, UnlimitedAIInteractions, true, true},
		{TierLifetime, 10, UnlimitedAIInteractions, true, true},
	}
	for _, tt := range tests {
		spec := SpecFor(tt.tier)
		if spec.Name != tt.tier {
			t.Errorf("SpecFor(%s).Name = %s", tt.tier, spec.Name)
		}
		if !spec.GrantsCommandment(tt.maxCommandment) {
			t.Errorf("%s should grant commandment %d", tt.tier, tt.maxCommandment)
		}
		if tt.maxCommandment < 10 && spec.GrantsCommandment(tt.maxCommandment+1) {
			t.Errorf("%s should not grant commandment %d", tt.tier, tt.maxCommandment+1)
		}
		if spec.MonthlyAIInteractions != tt.aiInteractions {
			t.Errorf("%s AI quota = %d, want %d", tt.tier, spec.MonthlyAIInteractions, tt.aiInteractions)
		}
		if spec.TeamFeatures != tt.teamFeatures {
			t.Errorf("%s TeamFeatures = %v", tt.tier, spec.TeamFeatures)
		}
		if spec.PrioritySupport != tt.prioritySupport {
			t.Errorf("%s PrioritySupport = %v", tt.tier, spec.PrioritySupport)
		}
	}
}

func TestSpecFor_UnknownFallsBackToFree(t *testing.T) {
	spec := SpecFor(Tier("enterprise"))
	if spec.Name != TierFree {
		t.Errorf("Unknown tier resolved to %s, want free", spec.Name)
	}
}

func TestWeight_Ordering(t *testing.T) {
	ordered := []Tier{TierFree, TierStarter, TierPro, TierExpert, TierLifetime}
	for i := 1; i < len(ordered); i++ {
		if Weight(ordered[i]) <= Weight(ordered[i-1]) {
			t.Errorf("Weight(%s) = %d not above Weight(%s) = %d",
				ordered[i], Weight(ordered[i]), ordered[i-1], Weight(ordered[i-1]))
		}
	}
}

func TestUnlimited(t *testing.T) {
	if SpecFor(TierPro).Unlimited() {
		t.Error("pro should have a bounded AI quota")
	}
	if !SpecFor(TierExpert).Unlimited() {
		t.Error("expert should be unlimited")
	}
}

func TestParseTier(t *testing.T) {
	if tier, ok := ParseTier("pro"); !ok || tier != TierPro {
		t.Errorf("ParseTier(pro) = %s, %v", tier, ok)
	}
	if tier, ok := ParseTier("platinum"); ok || tier != TierFree {
		t.Errorf("ParseTier(platinum) = %s, %v", tier, ok)
	}
}

func TestParseSubscriptionStatus(t *testing.T) {
	if status, ok := ParseSubscriptionStatus("active"); !ok || status != StatusActive {
		t.Errorf("ParseSubscriptionStatus(active) = %s, %v", status, ok)
	}
	if _, ok := ParseSubscriptionStatus("paused"); ok {
		t.Error("paused should be unknown")
	}
	if !StatusTrialing.Entitled() {
		t.Error("trialing should be entitled")
	}
	if StatusPastDue.Entitled() {
		t.Error("past_due should not be entitled")
	}
	if !StatusCanceled.Terminal() {
		t.Error("canceled should be terminal")
	}
	if StatusPastDue.Terminal() {
		t.Error("past_due should not be terminal")
	}
}

func TestMonthKey(t *testing.T) {
	at := timeDate(2026, 9, 1)
	if got := MonthKey(at); got != "2026-09" {
		t.Errorf("MonthKey = %q, want 2026-09", got)
	}
}
