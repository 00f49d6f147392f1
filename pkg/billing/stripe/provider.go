// Package stripe implements the Stripe billing provider: webhook receipt
// and verification, event dispatch, and the handlers that translate
// provider events into persisted billing state.
package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/vibecodingbible/billingsync/pkg/billing"
	"github.com/vibecodingbible/billingsync/pkg/billing/internal"
	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	defaultCommissionBPS     = 1500
	webhookBodyLimit         = 256 * 1024
)

// Provider implements Stripe billing synchronization. It is an explicit
// object constructed once at process start; there is no package-level
// client or secret.
type Provider struct {
	store         entitlement.Store
	config        Config
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	priceTable    map[string]entitlement.Tier
	webhookSecret []byte
	apiKey        string
	stripeClient  *stripe.Client
	commissionBPS int64
	metrics       billing.Metrics
	log           entitlement.Logger
	now           func() time.Time
}

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Store, PriceTable, etc.)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	// Lowercase price table keys for case-insensitive exact matching
	priceTable := make(map[string]entitlement.Tier, len(config.PriceTable))
	for priceID, tier := range config.PriceTable {
		priceTable[strings.ToLower(strings.TrimSpace(priceID))] = tier
	}

	commissionBPS := config.CommissionBasisPoints
	if commissionBPS <= 0 {
		commissionBPS = defaultCommissionBPS
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	log := config.Logger
	if log == nil {
		log = &entitlement.NoopLogger{}
	}

	p := &Provider{
		store:         config.Store,
		config:        config,
		httpClient:    httpClient,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		priceTable:    priceTable,
		webhookSecret: []byte(strings.TrimSpace(config.StripeWebhookSecret)),
		apiKey:        apiKey,
		stripeClient:  stripe.NewClient(apiKey),
		commissionBPS: commissionBPS,
		metrics:       metrics,
		log:           log,
		now:           time.Now,
	}

	if len(p.webhookSecret) == 0 {
		// The receiver fails closed without a secret; a provider in this
		// state can create checkouts but will reject every webhook.
		log.Warn("stripe webhook secret not configured, webhook deliveries will be rejected")
	}

	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	// Wrap with rate limiting
	return p.rateLimiter.Middleware(handler)
}

// TierForPrice maps a Stripe price id to a tier via the explicit price
// table. Unmapped price ids resolve to the free tier; the second return
// distinguishes a genuine free price from a missing mapping.
func (p *Provider) TierForPrice(priceID string) (entitlement.Tier, bool) {
	if priceID == "" {
		return entitlement.TierFree, false
	}
	key := strings.ToLower(strings.TrimSpace(priceID))
	if tier, ok := p.priceTable[key]; ok {
		return tier, true
	}
	return entitlement.TierFree, false
}

// resolveTier is TierForPrice plus the warning log for unmapped prices.
func (p *Provider) resolveTier(priceID string) entitlement.Tier {
	tier, mapped := p.TierForPrice(priceID)
	if !mapped && priceID != "" {
		p.log.Warn("price id not in price table, resolving to free tier",
			entitlement.Field{Key: "price_id", Value: priceID})
	}
	return tier
}
