package billing

import (
	"net/http"

	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

// Config defines the standard configuration all providers accept.
type Config struct {
	// Store is the billing state store that handlers write to (required).
	Store entitlement.Store

	// PriceTable maps provider price ids to entitlement tiers. The mapping
	// is explicit and total over the prices the product sells; a price id
	// missing from the table resolves to the free tier with a warning.
	PriceTable map[string]entitlement.Tier

	// WebhookSecret verifies incoming webhook requests. When empty the
	// receiver fails closed: every delivery is answered with HTTP 500 and
	// nothing is processed.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider
	// (checkout session creation, reconciliation).
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// CommissionBasisPoints is the referral commission rate. Defaults to
	// 1500 (15%).
	CommissionBasisPoints int64

	// Metrics is an optional metrics collector. If nil, metrics are
	// silently ignored (no-op).
	Metrics Metrics

	// Logger is an optional structured logger. If nil, logs are discarded.
	Logger entitlement.Logger
}
