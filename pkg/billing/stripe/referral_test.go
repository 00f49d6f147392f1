package stripe

import (
	"context"
	"testing"
	"time"

	"github.com/vibecodingbible/billingsync/pkg/entitlement"
	"github.com/vibecodingbible/billingsync/storage/memory"
)

const (
	testReferrerID   = "user_referrer"
	testReferralCode = "VIBE-FRIEND"
)

func seedReferrer(store *memory.Storage) {
	store.PutReferrer(&entitlement.Referrer{
		UserID:       testReferrerID,
		ReferralCode: testReferralCode,
	})
}

func TestApplyReferral_CreditsFifteenPercent(t *testing.T) {
	store := memory.New()
	provider := newTestProvider(t, store)
	seedReferrer(store)
	ctx := context.Background()

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := provider.applyReferral(ctx, testReferralCode, testUserID, 4900, "eur", at); err != nil {
		t.Fatalf("applyReferral failed: %v", err)
	}

	referrer, err := store.GetReferrerByCode(ctx, testReferralCode)
	if err != nil {
		t.Fatalf("Referrer missing: %v", err)
	}
	// 15% of 4900 floors to 735
	if referrer.CommissionCents != 735 {
		t.Errorf("CommissionCents = %d, want 735", referrer.CommissionCents)
	}

	conversions := store.Conversions()
	if len(conversions) != 1 {
		t.Fatalf("Conversions = %d, want 1", len(conversions))
	}
	if conversions[0].CommissionCents != 735 {
		t.Errorf("Conversion commission = %d, want 735", conversions[0].CommissionCents)
	}
	if conversions[0].ReferrerID != testReferrerID {
		t.Errorf("ReferrerID = %s, want %s", conversions[0].ReferrerID, testReferrerID)
	}

	notifications := store.Notifications(testReferrerID)
	if len(notifications) != 1 {
		t.Fatalf("Notifications = %d, want 1", len(notifications))
	}
	if notifications[0].Kind != entitlement.NotificationCommissionEarned {
		t.Errorf("Kind = %s, want commission_earned", notifications[0].Kind)
	}
}

func TestApplyReferral_DuplicateDeliveryCreditsOnce(t *testing.T) {
	store := memory.New()
	provider := newTestProvider(t, store)
	seedReferrer(store)
	ctx := context.Background()

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := provider.applyReferral(ctx, testReferralCode, testUserID, 4900, "eur", at); err != nil {
			t.Fatalf("Delivery %d failed: %v", i+1, err)
		}
	}

	referrer, err := store.GetReferrerByCode(ctx, testReferralCode)
	if err != nil {
		t.Fatalf("Referrer missing: %v", err)
	}
	if referrer.CommissionCents != 735 {
		t.Errorf("CommissionCents = %d, want 735 after redeliveries", referrer.CommissionCents)
	}
	if got := len(store.Conversions()); got != 1 {
		t.Errorf("Conversions = %d, want 1", got)
	}
}

func TestApplyReferral_DistinctRefereesEachConvert(t *testing.T) {
	store := memory.New()
	provider := newTestProvider(t, store)
	seedReferrer(store)
	ctx := context.Background()

	at := time.Now().UTC()
	if err := provider.applyReferral(ctx, testReferralCode, "user_a", 4900, "eur", at); err != nil {
		t.Fatalf("First conversion failed: %v", err)
	}
	if err := provider.applyReferral(ctx, testReferralCode, "user_b", 9900, "eur", at); err != nil {
		t.Fatalf("Second conversion failed: %v", err)
	}

	referrer, err := store.GetReferrerByCode(ctx, testReferralCode)
	if err != nil {
		t.Fatalf("Referrer missing: %v", err)
	}
	// 735 + 1485
	if referrer.CommissionCents != 2220 {
		t.Errorf("CommissionCents = %d, want 2220", referrer.CommissionCents)
	}
	if got := len(store.Conversions()); got != 2 {
		t.Errorf("Conversions = %d, want 2", got)
	}
}

func TestApplyReferral_UnknownCodeIsNoop(t *testing.T) {
	store := memory.New()
	provider := newTestProvider(t, store)
	ctx := context.Background()

	if err := provider.applyReferral(ctx, "NO-SUCH-CODE", testUserID, 4900, "eur", time.Now()); err != nil {
		t.Fatalf("Unknown code must not fail the purchase: %v", err)
	}
	if got := len(store.Conversions()); got != 0 {
		t.Errorf("Conversions = %d, want 0", got)
	}
}

func TestApplyReferral_SelfReferralIgnored(t *testing.T) {
	store := memory.New()
	provider := newTestProvider(t, store)
	seedReferrer(store)
	ctx := context.Background()

	if err := provider.applyReferral(ctx, testReferralCode, testReferrerID, 4900, "eur", time.Now()); err != nil {
		t.Fatalf("Self-referral must not fail the purchase: %v", err)
	}

	referrer, err := store.GetReferrerByCode(ctx, testReferralCode)
	if err != nil {
		t.Fatalf("Referrer missing: %v", err)
	}
	if referrer.CommissionCents != 0 {
		t.Errorf("CommissionCents = %d, want 0 for self-referral", referrer.CommissionCents)
	}
}

func TestCheckoutWithReferral_EndToEnd(t *testing.T) {
	store := memory.New()
	provider := newTestProvider(t, store)
	seedReferrer(store)
	ctx := context.Background()

	eventAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	event := makeEvent(t, "evt_checkout_ref", "checkout.session.completed", eventAt, map[string]any{
		"id":           "cs_ref",
		"mode":         "subscription",
		"amount_total": 4900,
		"currency":     "eur",
		"metadata": map[string]string{
			"user_id":       testUserID,
			"price_id":      testPricePro,
			"referral_code": testReferralCode,
		},
	})
	if err := dispatchEvent(t, provider, event); err != nil {
		t.Fatalf("Checkout with referral failed: %v", err)
	}

	referrer, err := store.GetReferrerByCode(ctx, testReferralCode)
	if err != nil {
		t.Fatalf("Referrer missing: %v", err)
	}
	if referrer.CommissionCents != 735 {
		t.Errorf("CommissionCents = %d, want 735", referrer.CommissionCents)
	}
	profile, err := store.GetProfile(ctx, testUserID)
	if err != nil {
		t.Fatalf("Profile missing: %v", err)
	}
	if profile.Tier != entitlement.TierPro {
		t.Errorf("Tier = %s, want pro", profile.Tier)
	}
}
