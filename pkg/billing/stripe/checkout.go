package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/vibecodingbible/billingsync/pkg/billing"
	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

// CheckoutParams describes a checkout session to create. UserID and PriceID
// are required; the user id travels in the session metadata and comes back
// on the checkout.session.completed webhook.
type CheckoutParams struct {
	UserID        string
	PriceID       string
	ReferralCode  string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// CreateCheckout creates a Stripe Checkout session and returns its hosted
// URL. The mode follows the price table: the lifetime tier is a one-time
// payment, every other mapped price is a subscription.
func (p *Provider) CreateCheckout(ctx context.Context, params CheckoutParams) (string, error) {
	if params.UserID == "" || params.PriceID == "" {
		return "", fmt.Errorf("%w: checkout requires user id and price id", billing.ErrProviderNotConfigured)
	}

	mode := stripe.CheckoutSessionModeSubscription
	tier, mapped := p.TierForPrice(params.PriceID)
	if !mapped {
		return "", fmt.Errorf("%w: %s", billing.ErrPriceNotMapped, params.PriceID)
	}
	if tier == entitlement.TierLifetime {
		mode = stripe.CheckoutSessionModePayment
	}

	metadata := map[string]string{
		"user_id":  params.UserID,
		"price_id": params.PriceID,
	}
	if code := strings.TrimSpace(params.ReferralCode); code != "" {
		metadata["referral_code"] = code
	}

	createParams := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Price:    stripe.String(params.PriceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		ClientReferenceID: stripe.String(params.UserID),
		Metadata:          metadata,
	}
	if params.CustomerEmail != "" {
		createParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	if mode == stripe.CheckoutSessionModeSubscription {
		createParams.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: map[string]string{"user_id": params.UserID},
		}
	}

	start := p.now()
	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, createParams)
	p.metrics.RecordAPICallDuration(providerName, "checkout_create", p.now().Sub(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "checkout_create", "error")
		return "", fmt.Errorf("%w: create checkout session: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, "checkout_create", "success")

	p.log.Info("checkout session created",
		entitlement.Field{Key: "user_id", Value: params.UserID},
		entitlement.Field{Key: "price_id", Value: params.PriceID},
		entitlement.Field{Key: "mode", Value: string(mode)})
	return session.URL, nil
}

// CreatePortalSession creates a Stripe customer-portal session for the
// user's stored customer id and returns its URL. The portal handles plan
// changes and cancellation; the resulting webhooks flow back through the
// receiver.
func (p *Provider) CreatePortalSession(ctx context.Context, userID, returnURL string) (string, error) {
	profile, err := p.store.GetProfile(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	if profile.CustomerID == "" {
		return "", fmt.Errorf("%w: user %s has no billing customer", billing.ErrUserNotFound, userID)
	}

	start := p.now()
	session, err := p.stripeClient.V1BillingPortalSessions.Create(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(profile.CustomerID),
		ReturnURL: stripe.String(returnURL),
	})
	p.metrics.RecordAPICallDuration(providerName, "portal_create", p.now().Sub(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "portal_create", "error")
		return "", fmt.Errorf("%w: create portal session: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, "portal_create", "success")
	return session.URL, nil
}
