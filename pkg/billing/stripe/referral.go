package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vibecodingbible/billingsync/pkg/billing"
	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

// applyReferral settles the referral attached to a completed checkout:
// resolve the code, record the conversion, credit the commission, notify
// the referrer.
//
// An unknown code is a no-op, not an error; the purchase must still land.
// The conversion insert is the idempotency gate: at most one conversion
// exists per (code, referee), so a redelivered checkout event credits the
// commission exactly once. Self-referrals are rejected before any write.
func (p *Provider) applyReferral(ctx context.Context, code, refereeID string, amountCents int64, currency string, at time.Time) error {
	referrer, err := p.store.GetReferrerByCode(ctx, code)
	if err != nil {
		if errors.Is(err, entitlement.ErrReferralCodeNotFound) {
			p.log.Warn("referral code not found, skipping conversion",
				entitlement.Field{Key: "referral_code", Value: code},
				entitlement.Field{Key: "referee_id", Value: refereeID})
			return nil
		}
		return fmt.Errorf("get referrer: %w", err)
	}

	if referrer.UserID == refereeID {
		p.log.Warn("self-referral ignored",
			entitlement.Field{Key: "referral_code", Value: code},
			entitlement.Field{Key: "user_id", Value: refereeID})
		return nil
	}

	commission := billing.CommissionMinorUnits(amountCents, p.commissionBPS)

	inserted, err := p.store.InsertReferralConversion(ctx, &entitlement.ReferralConversion{
		ReferralCode:    code,
		RefereeID:       refereeID,
		ReferrerID:      referrer.UserID,
		AmountCents:     amountCents,
		CommissionCents: commission,
		Currency:        currency,
		CreatedAt:       at,
	})
	if err != nil {
		return fmt.Errorf("insert referral conversion: %w", err)
	}
	if !inserted {
		p.log.Info("referral conversion already recorded",
			entitlement.Field{Key: "referral_code", Value: code},
			entitlement.Field{Key: "referee_id", Value: refereeID})
		return nil
	}

	if err := p.store.MarkReferralAttemptConverted(ctx, code, refereeID, at); err != nil {
		return fmt.Errorf("mark referral attempt: %w", err)
	}

	if commission > 0 {
		if err := p.store.AddReferralCommission(ctx, referrer.UserID, commission); err != nil {
			return fmt.Errorf("add referral commission: %w", err)
		}
	}

	if err := p.store.InsertNotification(ctx, &entitlement.Notification{
		ID:     fmt.Sprintf("ref:%s:%s", code, refereeID),
		UserID: referrer.UserID,
		Kind:   entitlement.NotificationCommissionEarned,
		Title:  "Referral commission earned",
		Body: fmt.Sprintf("Someone you referred made a purchase. You earned %s %s.",
			billing.FormatMinorUnits(commission), currency),
		CreatedAt: at,
	}); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	p.metrics.RecordReferralConversion(providerName, commission)
	p.log.Info("referral conversion recorded",
		entitlement.Field{Key: "referral_code", Value: code},
		entitlement.Field{Key: "referrer_id", Value: referrer.UserID},
		entitlement.Field{Key: "commission", Value: billing.FormatMinorUnits(commission)})
	return nil
}
