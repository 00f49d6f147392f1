package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/vibecodingbible/billingsync/pkg/billing"
	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

// handleCheckoutCompleted processes checkout.session.completed. This is the
// entitlement-granting event for both one-time purchases (lifetime) and the
// first charge of a subscription; it also settles the referral, if any.
func (p *Provider) handleCheckoutCompleted(ctx context.Context, event *stripe.Event, eventAt time.Time) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}

	userID := metadataValue(session.Metadata, "user_id", "userId")
	if userID == "" {
		userID = session.ClientReferenceID
	}
	if userID == "" {
		return fmt.Errorf("%w: no user id on checkout session %s", billing.ErrUserNotFound, session.ID)
	}

	priceID := metadataValue(session.Metadata, "price_id", "priceId")
	tier := p.resolveTier(priceID)

	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}

	// One-time purchases carry their expiry on the profile. Lifetime never
	// expires; other payment-mode purchases run for a year. Subscriptions
	// expire through subscription events, not a profile timestamp.
	var expiresAt *time.Time
	if session.Mode == stripe.CheckoutSessionModePayment && tier != entitlement.TierLifetime {
		t := eventAt.AddDate(1, 0, 0)
		expiresAt = &t
	}

	previousTier := p.currentTier(ctx, userID)

	if err := p.store.SetProfileTier(ctx, userID, tier, subscriptionID, expiresAt, eventAt); err != nil {
		return fmt.Errorf("set profile tier: %w", err)
	}

	if session.AmountTotal > 0 {
		payment := &entitlement.Payment{
			ID:          event.ID,
			UserID:      userID,
			AmountCents: session.AmountTotal,
			Currency:    string(session.Currency),
			Status:      entitlement.PaymentSucceeded,
			Description: fmt.Sprintf("Purchase of the %s tier", tier),
			CreatedAt:   eventAt,
		}
		if err := p.store.AppendPayment(ctx, payment); err != nil {
			return fmt.Errorf("append payment: %w", err)
		}
	}

	if code := metadataValue(session.Metadata, "referral_code", "referralCode"); code != "" {
		if err := p.applyReferral(ctx, code, userID, session.AmountTotal, string(session.Currency), eventAt); err != nil {
			return fmt.Errorf("apply referral: %w", err)
		}
	}

	if err := p.store.InsertNotification(ctx, &entitlement.Notification{
		ID:        notificationID(event, "purchase"),
		UserID:    userID,
		Kind:      entitlement.NotificationPurchase,
		Title:     "Purchase complete",
		Body:      fmt.Sprintf("Welcome to the %s tier.", tier),
		CreatedAt: eventAt,
	}); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if previousTier != tier {
		p.metrics.RecordTierChange(providerName, string(previousTier), string(tier))
	}
	p.log.Info("checkout completed",
		entitlement.Field{Key: "user_id", Value: userID},
		entitlement.Field{Key: "tier", Value: string(tier)},
		entitlement.Field{Key: "amount", Value: billing.FormatMinorUnits(session.AmountTotal)})
	return nil
}

// subscriptionPeriods grabs lifecycle fields straight from the event JSON.
// Newer Stripe API versions move the period onto subscription items; accept
// both shapes.
type subscriptionPeriods struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	CancelAtPeriodEnd  bool  `json:"cancel_at_period_end"`
	CanceledAt         int64 `json:"canceled_at"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (sp *subscriptionPeriods) period() (start, end time.Time) {
	s, e := sp.CurrentPeriodStart, sp.CurrentPeriodEnd
	if s == 0 && len(sp.Items.Data) > 0 {
		s, e = sp.Items.Data[0].CurrentPeriodStart, sp.Items.Data[0].CurrentPeriodEnd
	}
	if s > 0 {
		start = time.Unix(s, 0).UTC()
	}
	if e > 0 {
		end = time.Unix(e, 0).UTC()
	}
	return start, end
}

// handleSubscriptionChanged processes customer.subscription.created and
// customer.subscription.updated. Both carry the full subscription object,
// so they share one code path: mirror the row, then project the profile.
func (p *Provider) handleSubscriptionChanged(ctx context.Context, event *stripe.Event, eventAt time.Time) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}
	var periods subscriptionPeriods
	if err := json.Unmarshal(event.Data.Raw, &periods); err != nil {
		return fmt.Errorf("%w: subscription periods: %v", billing.ErrInvalidWebhookPayload, err)
	}

	userID, err := p.userIDForSubscription(ctx, &sub)
	if err != nil {
		return err
	}

	priceID, tier := p.tierFromItems(&sub)

	status, known := entitlement.ParseSubscriptionStatus(string(sub.Status))
	if !known {
		p.log.Warn("unknown subscription status",
			entitlement.Field{Key: "subscription_id", Value: sub.ID},
			entitlement.Field{Key: "status", Value: string(sub.Status)})
	}

	start, end := periods.period()
	var canceledAt *time.Time
	if periods.CanceledAt > 0 {
		t := time.Unix(periods.CanceledAt, 0).UTC()
		canceledAt = &t
	}

	applied, err := p.store.UpsertSubscription(ctx, &entitlement.Subscription{
		SubscriptionID:     sub.ID,
		UserID:             userID,
		PriceID:            priceID,
		Tier:               tier,
		Status:             status,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		CancelAtPeriodEnd:  periods.CancelAtPeriodEnd,
		CanceledAt:         canceledAt,
		EventAt:            eventAt,
	})
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	if !applied {
		// A newer event already wrote this subscription; this delivery is
		// late and must not touch the profile either.
		p.log.Debug("stale subscription event skipped",
			entitlement.Field{Key: "subscription_id", Value: sub.ID},
			entitlement.Field{Key: "event_id", Value: event.ID})
		return nil
	}

	previousTier := p.currentTier(ctx, userID)

	switch {
	case status.Entitled():
		if err := p.store.SetProfileTier(ctx, userID, tier, sub.ID, nil, eventAt); err != nil {
			return fmt.Errorf("set profile tier: %w", err)
		}
	case status.Terminal():
		if err := p.store.SetProfileTier(ctx, userID, entitlement.TierFree, "", nil, eventAt); err != nil {
			return fmt.Errorf("set profile tier: %w", err)
		}
		tier = entitlement.TierFree
	default:
		// past_due / unpaid / incomplete: keep current access; Stripe either
		// recovers the payment or cancels the subscription, and that
		// follow-up event settles the profile.
	}

	if status.Entitled() || status.Terminal() {
		if previousTier != tier {
			p.metrics.RecordTierChange(providerName, string(previousTier), string(tier))
		}
	}
	p.log.Info("subscription state applied",
		entitlement.Field{Key: "subscription_id", Value: sub.ID},
		entitlement.Field{Key: "user_id", Value: userID},
		entitlement.Field{Key: "status", Value: string(status)},
		entitlement.Field{Key: "tier", Value: string(tier)})
	return nil
}

// handleSubscriptionDeleted processes customer.subscription.deleted: the
// subscription row goes to canceled and the profile drops to free.
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event, eventAt time.Time) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}
	var periods subscriptionPeriods
	if err := json.Unmarshal(event.Data.Raw, &periods); err != nil {
		return fmt.Errorf("%w: subscription periods: %v", billing.ErrInvalidWebhookPayload, err)
	}

	userID, err := p.userIDForSubscription(ctx, &sub)
	if err != nil {
		return err
	}

	priceID, tier := p.tierFromItems(&sub)
	start, end := periods.period()
	canceledAt := eventAt
	if periods.CanceledAt > 0 {
		canceledAt = time.Unix(periods.CanceledAt, 0).UTC()
	}

	applied, err := p.store.UpsertSubscription(ctx, &entitlement.Subscription{
		SubscriptionID:     sub.ID,
		UserID:             userID,
		PriceID:            priceID,
		Tier:               tier,
		Status:             entitlement.StatusCanceled,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		CancelAtPeriodEnd:  periods.CancelAtPeriodEnd,
		CanceledAt:         &canceledAt,
		EventAt:            eventAt,
	})
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	if !applied {
		p.log.Debug("stale subscription deletion skipped",
			entitlement.Field{Key: "subscription_id", Value: sub.ID},
			entitlement.Field{Key: "event_id", Value: event.ID})
		return nil
	}

	previousTier := p.currentTier(ctx, userID)
	if err := p.store.SetProfileTier(ctx, userID, entitlement.TierFree, "", nil, eventAt); err != nil {
		return fmt.Errorf("set profile tier: %w", err)
	}
	if previousTier != entitlement.TierFree {
		p.metrics.RecordTierChange(providerName, string(previousTier), string(entitlement.TierFree))
	}
	p.log.Info("subscription deleted, profile downgraded",
		entitlement.Field{Key: "subscription_id", Value: sub.ID},
		entitlement.Field{Key: "user_id", Value: userID})
	return nil
}

// handleInvoicePayment processes invoice.payment_succeeded and
// invoice.payment_failed. Invoices without a subscription are one-off
// charges handled by payment_intent.succeeded; skipping them here keeps the
// payment history free of doubles.
func (p *Provider) handleInvoicePayment(ctx context.Context, event *stripe.Event, eventAt time.Time, succeeded bool) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("%w: invoice: %v", billing.ErrInvalidWebhookPayload, err)
	}

	subscriptionID := invoiceSubscriptionID(event.Data.Raw)
	if subscriptionID == "" {
		p.log.Debug("invoice without subscription ignored",
			entitlement.Field{Key: "invoice_id", Value: invoice.ID})
		return nil
	}

	userID := ""
	if sub, err := p.store.GetSubscription(ctx, subscriptionID); err == nil {
		userID = sub.UserID
	} else if !errors.Is(err, entitlement.ErrSubscriptionNotFound) {
		return fmt.Errorf("get subscription: %w", err)
	}
	if userID == "" && invoice.Customer != nil {
		if profile, err := p.store.GetProfileByCustomerID(ctx, invoice.Customer.ID); err == nil {
			userID = profile.UserID
		} else if !errors.Is(err, entitlement.ErrProfileNotFound) {
			return fmt.Errorf("get profile by customer: %w", err)
		}
	}
	if userID == "" {
		// The subscription.created event may still be in flight; failing
		// here makes Stripe redeliver once it has landed.
		return fmt.Errorf("%w: invoice %s for unknown subscription %s",
			billing.ErrUserNotFound, invoice.ID, subscriptionID)
	}

	payment := &entitlement.Payment{
		ID:          event.ID,
		UserID:      userID,
		AmountCents: invoice.AmountPaid,
		Currency:    string(invoice.Currency),
		Status:      entitlement.PaymentSucceeded,
		Description: "Subscription renewal",
		InvoiceURL:  invoice.HostedInvoiceURL,
		CreatedAt:   eventAt,
	}
	if !succeeded {
		payment.AmountCents = invoice.AmountDue
		payment.Status = entitlement.PaymentFailed
		payment.FailureReason = invoiceFailureReason(event.Data.Raw)
	}
	if err := p.store.AppendPayment(ctx, payment); err != nil {
		return fmt.Errorf("append payment: %w", err)
	}

	if !succeeded {
		if err := p.store.InsertNotification(ctx, &entitlement.Notification{
			ID:     notificationID(event, "payment_failed"),
			UserID: userID,
			Kind:   entitlement.NotificationPaymentFailed,
			Title:  "Payment failed",
			Body: fmt.Sprintf("Your payment of %s %s could not be processed. Please update your payment method.",
				billing.FormatMinorUnits(invoice.AmountDue), string(invoice.Currency)),
			Urgent:    true,
			CreatedAt: eventAt,
		}); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}

	p.log.Info("invoice payment recorded",
		entitlement.Field{Key: "invoice_id", Value: invoice.ID},
		entitlement.Field{Key: "user_id", Value: userID},
		entitlement.Field{Key: "status", Value: string(payment.Status)},
		entitlement.Field{Key: "amount", Value: billing.FormatMinorUnits(payment.AmountCents)})
	return nil
}

// handleCustomerCreated processes customer.created, emitted by the checkout
// bootstrap before any purchase. It only seeds a free profile linked to the
// Stripe customer id.
func (p *Provider) handleCustomerCreated(ctx context.Context, event *stripe.Event) error {
	var customer stripe.Customer
	if err := json.Unmarshal(event.Data.Raw, &customer); err != nil {
		return fmt.Errorf("%w: customer: %v", billing.ErrInvalidWebhookPayload, err)
	}

	userID := metadataValue(customer.Metadata, "user_id", "userId")
	if userID == "" {
		// Customers created outside the app (dashboard, imports) have no
		// user to attach; nothing to do.
		p.log.Info("customer without user metadata ignored",
			entitlement.Field{Key: "customer_id", Value: customer.ID})
		return nil
	}
	if err := p.store.EnsureProfile(ctx, userID, customer.ID); err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}

// handlePaymentIntentSucceeded processes payment_intent.succeeded for
// one-off charges. Intents backed by an invoice are already recorded by the
// invoice handler.
func (p *Provider) handlePaymentIntentSucceeded(ctx context.Context, event *stripe.Event, eventAt time.Time) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return fmt.Errorf("%w: payment intent: %v", billing.ErrInvalidWebhookPayload, err)
	}

	if hasInvoiceRef(event.Data.Raw) {
		return nil
	}

	userID := metadataValue(intent.Metadata, "user_id", "userId")
	if userID == "" {
		p.log.Debug("payment intent without user metadata ignored",
			entitlement.Field{Key: "payment_intent_id", Value: intent.ID})
		return nil
	}

	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}
	if err := p.store.AppendPayment(ctx, &entitlement.Payment{
		ID:          event.ID,
		UserID:      userID,
		AmountCents: amount,
		Currency:    string(intent.Currency),
		Status:      entitlement.PaymentSucceeded,
		Description: "One-time payment",
		CreatedAt:   eventAt,
	}); err != nil {
		return fmt.Errorf("append payment: %w", err)
	}
	return nil
}

// handleDisputeCreated processes charge.dispute.created. Disputes need an
// operator, not a retry: the handler always logs at warn, notifies the user
// when the charge can be attributed, and never fails the delivery.
func (p *Provider) handleDisputeCreated(ctx context.Context, event *stripe.Event, eventAt time.Time) error {
	var dispute stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
		return fmt.Errorf("%w: dispute: %v", billing.ErrInvalidWebhookPayload, err)
	}

	p.log.Warn("payment dispute opened",
		entitlement.Field{Key: "dispute_id", Value: dispute.ID},
		entitlement.Field{Key: "reason", Value: string(dispute.Reason)},
		entitlement.Field{Key: "amount", Value: billing.FormatMinorUnits(dispute.Amount)})

	userID := p.userIDForDispute(ctx, &dispute)
	if userID == "" {
		return nil
	}

	if err := p.store.InsertNotification(ctx, &entitlement.Notification{
		ID:     notificationID(event, "dispute"),
		UserID: userID,
		Kind:   entitlement.NotificationDispute,
		Title:  "Payment dispute opened",
		Body: fmt.Sprintf("A dispute was opened for a payment of %s %s. Our team will reach out.",
			billing.FormatMinorUnits(dispute.Amount), string(dispute.Currency)),
		Urgent:    true,
		CreatedAt: eventAt,
	}); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// userIDForSubscription resolves the owning user of a subscription event:
// metadata first, then the profile linked to the Stripe customer, then the
// previously mirrored subscription row.
func (p *Provider) userIDForSubscription(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if userID := metadataValue(sub.Metadata, "user_id", "userId"); userID != "" {
		return userID, nil
	}
	if sub.Customer != nil && sub.Customer.ID != "" {
		profile, err := p.store.GetProfileByCustomerID(ctx, sub.Customer.ID)
		if err == nil {
			return profile.UserID, nil
		}
		if !errors.Is(err, entitlement.ErrProfileNotFound) {
			return "", fmt.Errorf("get profile by customer: %w", err)
		}
	}
	if stored, err := p.store.GetSubscription(ctx, sub.ID); err == nil {
		return stored.UserID, nil
	} else if !errors.Is(err, entitlement.ErrSubscriptionNotFound) {
		return "", fmt.Errorf("get subscription: %w", err)
	}
	return "", fmt.Errorf("%w: subscription %s has no resolvable user", billing.ErrUserNotFound, sub.ID)
}

// userIDForDispute makes a best-effort attribution via the disputed
// charge's customer. Lookup failures (including a missing API key in test
// environments) leave the dispute log-only.
func (p *Provider) userIDForDispute(ctx context.Context, dispute *stripe.Dispute) string {
	if dispute.Charge == nil || dispute.Charge.ID == "" {
		return ""
	}
	start := p.now()
	charge, err := p.stripeClient.V1Charges.Retrieve(ctx, dispute.Charge.ID, &stripe.ChargeRetrieveParams{})
	p.metrics.RecordAPICallDuration(providerName, "charge_retrieve", p.now().Sub(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "charge_retrieve", "error")
		p.log.Warn("could not resolve disputed charge",
			entitlement.Field{Key: "charge_id", Value: dispute.Charge.ID},
			entitlement.Field{Key: "error", Value: err.Error()})
		return ""
	}
	p.metrics.RecordAPICall(providerName, "charge_retrieve", "success")
	if charge.Customer == nil || charge.Customer.ID == "" {
		return ""
	}
	profile, err := p.store.GetProfileByCustomerID(ctx, charge.Customer.ID)
	if err != nil {
		return ""
	}
	return profile.UserID
}

// tierFromItems resolves a subscription's tier from its line items. A
// subscription with several mapped prices resolves to the highest tier.
func (p *Provider) tierFromItems(sub *stripe.Subscription) (string, entitlement.Tier) {
	priceID := ""
	tier := entitlement.TierFree
	if sub.Items == nil {
		return priceID, tier
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		itemTier := p.resolveTier(item.Price.ID)
		if priceID == "" || entitlement.Weight(itemTier) > entitlement.Weight(tier) {
			priceID = item.Price.ID
			tier = itemTier
		}
	}
	return priceID, tier
}

// currentTier reads the user's tier for change metrics; missing profiles
// read as free.
func (p *Provider) currentTier(ctx context.Context, userID string) entitlement.Tier {
	profile, err := p.store.GetProfile(ctx, userID)
	if err != nil {
		return entitlement.TierFree
	}
	return profile.Tier
}

// metadataValue returns the first non-empty value among the given keys.
// Checkout sessions created by older app versions used camelCase keys.
func metadataValue(metadata map[string]string, keys ...string) string {
	for _, key := range keys {
		if v, ok := metadata[key]; ok && v != "" {
			return v
		}
	}
	return ""
}

func notificationID(event *stripe.Event, suffix string) string {
	return event.ID + ":" + suffix
}

// invoiceSubscriptionID digs the subscription reference out of the raw
// invoice JSON. Older API versions carry a top-level "subscription" (string
// or expanded object); newer ones nest it under parent.subscription_details.
func invoiceSubscriptionID(raw json.RawMessage) string {
	var ref struct {
		Subscription json.RawMessage `json:"subscription"`
		Parent       struct {
			SubscriptionDetails struct {
				Subscription json.RawMessage `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil {
		return ""
	}
	if id := stringOrObjectID(ref.Subscription); id != "" {
		return id
	}
	return stringOrObjectID(ref.Parent.SubscriptionDetails.Subscription)
}

func invoiceFailureReason(raw json.RawMessage) string {
	var ref struct {
		LastFinalizationError struct {
			Message string `json:"message"`
		} `json:"last_finalization_error"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil {
		return ""
	}
	return ref.LastFinalizationError.Message
}

func hasInvoiceRef(raw json.RawMessage) bool {
	var ref struct {
		Invoice json.RawMessage `json:"invoice"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil {
		return false
	}
	return stringOrObjectID(ref.Invoice) != ""
}

// stringOrObjectID reads an expandable Stripe reference: either a bare id
// string or an expanded object with an "id" field.
func stringOrObjectID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
