package billing

import "testing"

func TestClassifyEventType(t *testing.T) {
	tests := []struct {
		eventType string
		want      EventKind
	}{
		{"checkout.session.completed", EventKindCheckoutCompleted},
		{"customer.subscription.created", EventKindSubscriptionCreated},
		{"customer.subscription.updated", EventKindSubscriptionUpdated},
		{"customer.subscription.deleted", EventKindSubscriptionDeleted},
		{"invoice.payment_succeeded", EventKindInvoicePaymentSucceeded},
		{"invoice.payment_failed", EventKindInvoicePaymentFailed},
		{"customer.created", EventKindCustomerCreated},
		{"payment_intent.succeeded", EventKindPaymentIntentSucceeded},
		{"charge.dispute.created", EventKindDisputeCreated},
		{"customer.updated", EventKindUnhandled},
		{"invoice.finalized", EventKindUnhandled},
		{"", EventKindUnhandled},
	}
	for _, tt := range tests {
		if got := ClassifyEventType(tt.eventType); got != tt.want {
			t.Errorf("ClassifyEventType(%q) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

func TestEventKindString_RoundTrips(t *testing.T) {
	kinds := []EventKind{
		EventKindCheckoutCompleted,
		EventKindSubscriptionCreated,
		EventKindSubscriptionUpdated,
		EventKindSubscriptionDeleted,
		EventKindInvoicePaymentSucceeded,
		EventKindInvoicePaymentFailed,
		EventKindCustomerCreated,
		EventKindPaymentIntentSucceeded,
		EventKindDisputeCreated,
	}
	for _, kind := range kinds {
		if got := ClassifyEventType(kind.String()); got != kind {
			t.Errorf("ClassifyEventType(%q) = %v, want %v", kind.String(), got, kind)
		}
	}
	if EventKindUnhandled.String() != "unhandled" {
		t.Errorf("Unhandled String() = %q", EventKindUnhandled.String())
	}
	if EventKind(99).String() != "unhandled" {
		t.Errorf("Unknown kind String() = %q", EventKind(99).String())
	}
}
