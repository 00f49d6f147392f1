package stripe

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/vibecodingbible/billingsync/pkg/billing"
	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

// SyncUser reconciles a user's profile with the Stripe API. Webhooks are
// the normal write path; sync is the escape hatch for missed deliveries or
// an operator-triggered audit. Returns the user's effective tier.
func (p *Provider) SyncUser(ctx context.Context, userID string) (entitlement.Tier, error) {
	startTime := p.now()

	customerID, err := p.customerIDForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			// No Stripe customer means no purchases; free is authoritative.
			if err := p.store.SetProfileTier(ctx, userID, entitlement.TierFree, "", nil, startTime); err != nil {
				return entitlement.TierFree, fmt.Errorf("set profile tier: %w", err)
			}
			return entitlement.TierFree, nil
		}
		return entitlement.TierFree, err
	}

	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String(string(entitlement.StatusActive))

	tier := entitlement.TierFree
	subscriptionID := ""
	for sub, err := range p.stripeClient.V1Subscriptions.List(ctx, params) {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "subscriptions_list", "error")
			return entitlement.TierFree, fmt.Errorf("%w: list subscriptions: %v", billing.ErrProviderAPIError, err)
		}
		_, itemTier := p.tierFromItems(sub)
		if subscriptionID == "" || entitlement.Weight(itemTier) > entitlement.Weight(tier) {
			tier = itemTier
			subscriptionID = sub.ID
		}
	}
	p.metrics.RecordAPICall(providerName, "subscriptions_list", "success")
	p.metrics.RecordAPICallDuration(providerName, "subscriptions_list", p.now().Sub(startTime))

	// A lifetime profile has no subscription to find; never downgrade it
	// from a sync that only looks at subscriptions.
	if tier == entitlement.TierFree {
		if profile, err := p.store.GetProfile(ctx, userID); err == nil && profile.Tier == entitlement.TierLifetime {
			return entitlement.TierLifetime, nil
		}
	}

	if err := p.store.SetProfileTier(ctx, userID, tier, subscriptionID, nil, startTime); err != nil {
		return tier, fmt.Errorf("set profile tier: %w", err)
	}

	p.log.Info("user synced from provider",
		entitlement.Field{Key: "user_id", Value: userID},
		entitlement.Field{Key: "tier", Value: string(tier)})
	return tier, nil
}

// customerIDForUser resolves the user's Stripe customer id: the stored
// profile first, then the Search API on customer metadata. Search is slow
// and eventually consistent, so the profile link is preferred.
func (p *Provider) customerIDForUser(ctx context.Context, userID string) (string, error) {
	profile, err := p.store.GetProfile(ctx, userID)
	if err == nil && profile.CustomerID != "" {
		return profile.CustomerID, nil
	}
	if err != nil && !errors.Is(err, entitlement.ErrProfileNotFound) {
		return "", fmt.Errorf("get profile: %w", err)
	}

	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['user_id']:'%s'", userID)

	start := p.now()
	for cust, err := range p.stripeClient.V1Customers.Search(ctx, params) {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "customers_search", "error")
			return "", fmt.Errorf("%w: customer search: %v", billing.ErrProviderAPIError, err)
		}
		// Search can return partial matches; require the exact key.
		if cust.Metadata["user_id"] == userID {
			p.metrics.RecordAPICall(providerName, "customers_search", "success")
			p.metrics.RecordAPICallDuration(providerName, "customers_search", p.now().Sub(start))
			return cust.ID, nil
		}
	}
	p.metrics.RecordAPICall(providerName, "customers_search", "not_found")
	return "", billing.ErrUserNotFound
}
