package billing

// EventKind is a closed enumeration over the provider event types this
// module consumes. Dispatch happens on the kind, not the raw type string;
// anything outside the set classifies as EventKindUnhandled and is
// acknowledged without processing so the provider does not retry it.
type EventKind int

const (
	// EventKindUnhandled is the explicit variant for event types this
	// module does not process.
	EventKindUnhandled EventKind = iota
	EventKindCheckoutCompleted
	EventKindSubscriptionCreated
	EventKindSubscriptionUpdated
	EventKindSubscriptionDeleted
	EventKindInvoicePaymentSucceeded
	EventKindInvoicePaymentFailed
	EventKindCustomerCreated
	EventKindPaymentIntentSucceeded
	EventKindDisputeCreated
)

var eventKindNames = map[EventKind]string{
	EventKindUnhandled:               "unhandled",
	EventKindCheckoutCompleted:       "checkout.session.completed",
	EventKindSubscriptionCreated:     "customer.subscription.created",
	EventKindSubscriptionUpdated:     "customer.subscription.updated",
	EventKindSubscriptionDeleted:     "customer.subscription.deleted",
	EventKindInvoicePaymentSucceeded: "invoice.payment_succeeded",
	EventKindInvoicePaymentFailed:    "invoice.payment_failed",
	EventKindCustomerCreated:         "customer.created",
	EventKindPaymentIntentSucceeded:  "payment_intent.succeeded",
	EventKindDisputeCreated:          "charge.dispute.created",
}

var eventKindsByType = func() map[string]EventKind {
	m := make(map[string]EventKind, len(eventKindNames))
	for kind, name := range eventKindNames {
		if kind != EventKindUnhandled {
			m[name] = kind
		}
	}
	return m
}()

// ClassifyEventType maps a provider event-type string to its kind.
func ClassifyEventType(eventType string) EventKind {
	if kind, ok := eventKindsByType[eventType]; ok {
		return kind
	}
	return EventKindUnhandled
}

// String returns the provider event-type string for the kind, or
// "unhandled".
func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unhandled"
}
