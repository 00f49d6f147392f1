package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/vibecodingbible/billingsync/pkg/billing"
	"github.com/vibecodingbible/billingsync/pkg/billing/internal"
	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

type webhookAck struct {
	Received bool `json:"received"`
}

// handleWebhook processes incoming Stripe webhook events.
//
// Response contract: 200 on success and on unhandled event kinds (the
// provider must not retry those), 400 on missing/invalid signature, 500
// when the secret is missing (fail closed, never skip verification) or
// when a handler fails (the provider redelivers on its own schedule;
// handlers are idempotent, so redelivery is the only retry path).
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		p.log.Error("webhook received with no secret configured")
		p.metrics.RecordWebhookError(providerName, "secret_missing")
		http.Error(w, "webhook not configured", http.StatusInternalServerError)
		return
	}

	// Read and validate body (with size limit protection). ConstructEvent
	// must see the exact bytes that were signed.
	body, err := internal.ReadBodyStrict(w, r, webhookBodyLimit)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")

	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	eventType := string(event.Type)
	kind := billing.ClassifyEventType(eventType)

	if kind == billing.EventKindUnhandled {
		// Acknowledged, not an error; retrying would never help.
		p.log.Info("unhandled webhook event type",
			entitlement.Field{Key: "event_type", Value: eventType},
			entitlement.Field{Key: "event_id", Value: event.ID})
		p.metrics.RecordWebhookEvent(providerName, eventType, "unhandled")
		_ = internal.WriteJSON(w, http.StatusOK, webhookAck{Received: true})
		return
	}

	if err := p.dispatch(r.Context(), kind, &event); err != nil {
		p.log.Error("webhook handler failed",
			entitlement.Field{Key: "event_type", Value: eventType},
			entitlement.Field{Key: "event_id", Value: event.ID},
			entitlement.Field{Key: "error", Value: err.Error()})
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, webhookAck{Received: true})

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// dispatch routes a verified event to its handler. The switch is total
// over the closed EventKind set; EventKindUnhandled never reaches here.
func (p *Provider) dispatch(ctx context.Context, kind billing.EventKind, event *stripe.Event) error {
	eventAt := time.Unix(event.Created, 0).UTC()

	switch kind {
	case billing.EventKindCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, event, eventAt)
	case billing.EventKindSubscriptionCreated, billing.EventKindSubscriptionUpdated:
		return p.handleSubscriptionChanged(ctx, event, eventAt)
	case billing.EventKindSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, event, eventAt)
	case billing.EventKindInvoicePaymentSucceeded:
		return p.handleInvoicePayment(ctx, event, eventAt, true)
	case billing.EventKindInvoicePaymentFailed:
		return p.handleInvoicePayment(ctx, event, eventAt, false)
	case billing.EventKindCustomerCreated:
		return p.handleCustomerCreated(ctx, event)
	case billing.EventKindPaymentIntentSucceeded:
		return p.handlePaymentIntentSucceeded(ctx, event, eventAt)
	case billing.EventKindDisputeCreated:
		return p.handleDisputeCreated(ctx, event, eventAt)
	default:
		return fmt.Errorf("no handler for event kind %s", kind)
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
