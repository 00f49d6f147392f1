// Package postgres provides a PostgreSQL implementation of the
// entitlement.Store interface on pgx. Event-ordering is enforced in SQL:
// profile and subscription upserts carry the provider event timestamp and
// the UPDATE arm refuses rows that are not newer than what is stored.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

// Storage implements entitlement.Store using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies database connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// schema is applied with IF NOT EXISTS guards so EnsureSchema is safe to
// run on every start.
const schema = `
CREATE TABLE IF NOT EXISTS billing_profiles (
	user_id         TEXT PRIMARY KEY,
	customer_id     TEXT NOT NULL DEFAULT '',
	tier            TEXT NOT NULL DEFAULT 'free',
	subscription_id TEXT NOT NULL DEFAULT '',
	expires_at      TIMESTAMPTZ,
	event_at        TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS billing_profiles_customer_idx
	ON billing_profiles (customer_id) WHERE customer_id <> '';

CREATE TABLE IF NOT EXISTS billing_subscriptions (
	subscription_id      TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	price_id             TEXT NOT NULL DEFAULT '',
	tier                 TEXT NOT NULL DEFAULT 'free',
	status               TEXT NOT NULL,
	current_period_start TIMESTAMPTZ,
	current_period_end   TIMESTAMPTZ,
	cancel_at_period_end BOOLEAN NOT NULL DEFAULT false,
	canceled_at          TIMESTAMPTZ,
	event_at             TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS billing_subscriptions_user_idx
	ON billing_subscriptions (user_id);

CREATE TABLE IF NOT EXISTS payment_history (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	amount_cents   BIGINT NOT NULL,
	currency       TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	invoice_url    TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS payment_history_user_idx
	ON payment_history (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	title      TEXT NOT NULL,
	body       TEXT NOT NULL DEFAULT '',
	urgent     BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS notifications_user_idx
	ON notifications (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS referrers (
	user_id          TEXT PRIMARY KEY,
	referral_code    TEXT NOT NULL UNIQUE,
	commission_cents BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS referral_conversions (
	referral_code    TEXT NOT NULL,
	referee_id       TEXT NOT NULL,
	referrer_id      TEXT NOT NULL,
	amount_cents     BIGINT NOT NULL,
	commission_cents BIGINT NOT NULL,
	currency         TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (referral_code, referee_id)
);

CREATE TABLE IF NOT EXISTS referral_attempts (
	referral_code TEXT NOT NULL,
	referee_id    TEXT NOT NULL,
	converted     BOOLEAN NOT NULL DEFAULT false,
	converted_at  TIMESTAMPTZ,
	PRIMARY KEY (referral_code, referee_id)
);
`

// EnsureSchema creates the billing tables if they do not exist.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// GetProfile implements entitlement.Store
func (s *Storage) GetProfile(ctx context.Context, userID string) (*entitlement.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, customer_id, tier, subscription_id, expires_at, updated_at
			FROM billing_profiles WHERE user_id = $1`, userID)
	return scanProfile(row)
}

// GetProfileByCustomerID implements entitlement.Store
func (s *Storage) GetProfileByCustomerID(ctx context.Context, customerID string) (*entitlement.Profile, error) {
	if customerID == "" {
		return nil, entitlement.ErrProfileNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, customer_id, tier, subscription_id, expires_at, updated_at
			FROM billing_profiles WHERE customer_id = $1`, customerID)
	return scanProfile(row)
}

func scanProfile(row pgx.Row) (*entitlement.Profile, error) {
	var p entitlement.Profile
	var tier string
	err := row.Scan(&p.UserID, &p.CustomerID, &tier, &p.SubscriptionID, &p.ExpiresAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, entitlement.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get profile: %v", entitlement.ErrStoreUnavailable, err)
	}
	p.Tier, _ = entitlement.ParseTier(tier)
	return &p, nil
}

// EnsureProfile implements entitlement.Store
func (s *Storage) EnsureProfile(ctx context.Context, userID, customerID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_profiles (user_id, customer_id, tier)
			VALUES ($1, $2, 'free')
			ON CONFLICT (user_id) DO UPDATE SET
				customer_id = EXCLUDED.customer_id,
				updated_at = now()
			WHERE billing_profiles.customer_id = ''`,
		userID, customerID)
	if err != nil {
		return fmt.Errorf("%w: ensure profile: %v", entitlement.ErrStoreUnavailable, err)
	}
	return nil
}

// SetProfileTier implements entitlement.Store. The WHERE clause on the
// UPDATE arm is the out-of-order gate: a delivery older than the stored
// event timestamp leaves the row untouched.
func (s *Storage) SetProfileTier(ctx context.Context, userID string, tier entitlement.Tier, subscriptionID string, expiresAt *time.Time, eventAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_profiles (user_id, tier, subscription_id, expires_at, event_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (user_id) DO UPDATE SET
				tier = EXCLUDED.tier,
				subscription_id = EXCLUDED.subscription_id,
				expires_at = EXCLUDED.expires_at,
				event_at = EXCLUDED.event_at,
				updated_at = now()
			WHERE billing_profiles.event_at < EXCLUDED.event_at`,
		userID, string(tier), subscriptionID, expiresAt, eventAt)
	if err != nil {
		return fmt.Errorf("%w: set profile tier: %v", entitlement.ErrStoreUnavailable, err)
	}
	return nil
}

// GetSubscription implements entitlement.Store
func (s *Storage) GetSubscription(ctx context.Context, subscriptionID string) (*entitlement.Subscription, error) {
	var sub entitlement.Subscription
	var tier, status string
	var start, end *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT subscription_id, user_id, price_id, tier, status,
				current_period_start, current_period_end,
				cancel_at_period_end, canceled_at, event_at
			FROM billing_subscriptions WHERE subscription_id = $1`,
		subscriptionID).Scan(
		&sub.SubscriptionID, &sub.UserID, &sub.PriceID, &tier, &status,
		&start, &end, &sub.CancelAtPeriodEnd, &sub.CanceledAt, &sub.EventAt)
	if err == pgx.ErrNoRows {
		return nil, entitlement.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get subscription: %v", entitlement.ErrStoreUnavailable, err)
	}
	sub.Tier, _ = entitlement.ParseTier(tier)
	sub.Status, _ = entitlement.ParseSubscriptionStatus(status)
	if start != nil {
		sub.CurrentPeriodStart = *start
	}
	if end != nil {
		sub.CurrentPeriodEnd = *end
	}
	return &sub, nil
}

// UpsertSubscription implements entitlement.Store
func (s *Storage) UpsertSubscription(ctx context.Context, sub *entitlement.Subscription) (bool, error) {
	if sub == nil || sub.SubscriptionID == "" {
		return false, fmt.Errorf("invalid subscription")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO billing_subscriptions
				(subscription_id, user_id, price_id, tier, status,
				 current_period_start, current_period_end,
				 cancel_at_period_end, canceled_at, event_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (subscription_id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				price_id = EXCLUDED.price_id,
				tier = EXCLUDED.tier,
				status = EXCLUDED.status,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end = EXCLUDED.current_period_end,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				canceled_at = EXCLUDED.canceled_at,
				event_at = EXCLUDED.event_at
			WHERE billing_subscriptions.event_at < EXCLUDED.event_at`,
		sub.SubscriptionID, sub.UserID, sub.PriceID, string(sub.Tier), string(sub.Status),
		nullableTime(sub.CurrentPeriodStart), nullableTime(sub.CurrentPeriodEnd),
		sub.CancelAtPeriodEnd, sub.CanceledAt, sub.EventAt)
	if err != nil {
		return false, fmt.Errorf("%w: upsert subscription: %v", entitlement.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected() > 0, nil
}

// AppendPayment implements entitlement.Store
func (s *Storage) AppendPayment(ctx context.Context, p *entitlement.Payment) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid payment")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payment_history
				(id, user_id, amount_cents, currency, status, description,
				 invoice_url, failure_reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
		p.ID, p.UserID, p.AmountCents, p.Currency, string(p.Status),
		p.Description, p.InvoiceURL, p.FailureReason, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: append payment: %v", entitlement.ErrStoreUnavailable, err)
	}
	return nil
}

// InsertNotification implements entitlement.Store
func (s *Storage) InsertNotification(ctx context.Context, n *entitlement.Notification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("invalid notification")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, kind, title, body, urgent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
		n.ID, n.UserID, string(n.Kind), n.Title, n.Body, n.Urgent, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert notification: %v", entitlement.ErrStoreUnavailable, err)
	}
	return nil
}

// GetReferrerByCode implements entitlement.Store
func (s *Storage) GetReferrerByCode(ctx context.Context, code string) (*entitlement.Referrer, error) {
	var r entitlement.Referrer
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, referral_code, commission_cents
			FROM referrers WHERE referral_code = $1`, code).
		Scan(&r.UserID, &r.ReferralCode, &r.CommissionCents)
	if err == pgx.ErrNoRows {
		return nil, entitlement.ErrReferralCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get referrer: %v", entitlement.ErrStoreUnavailable, err)
	}
	return &r, nil
}

// PutReferrer registers a referral code, for setup flows and tests.
func (s *Storage) PutReferrer(ctx context.Context, r *entitlement.Referrer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO referrers (user_id, referral_code, commission_cents)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE SET referral_code = EXCLUDED.referral_code`,
		r.UserID, r.ReferralCode, r.CommissionCents)
	if err != nil {
		return fmt.Errorf("%w: put referrer: %v", entitlement.ErrStoreUnavailable, err)
	}
	return nil
}

// InsertReferralConversion implements entitlement.Store. The primary key on
// (referral_code, referee_id) is the at-most-once guarantee; DO NOTHING
// plus RowsAffected reports whether this call won the insert.
func (s *Storage) InsertReferralConversion(ctx context.Context, conv *entitlement.ReferralConversion) (bool, error) {
	if conv == nil || conv.ReferralCode == "" || conv.RefereeID == "" {
		return false, fmt.Errorf("invalid referral conversion")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO referral_conversions
				(referral_code, referee_id, referrer_id, amount_cents,
				 commission_cents, currency, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (referral_code, referee_id) DO NOTHING`,
		conv.ReferralCode, conv.RefereeID, conv.ReferrerID, conv.AmountCents,
		conv.CommissionCents, conv.Currency, conv.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("%w: insert referral conversion: %v", entitlement.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkReferralAttemptConverted implements entitlement.Store
func (s *Storage) MarkReferralAttemptConverted(ctx context.Context, code, refereeID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO referral_attempts (referral_code, referee_id, converted, converted_at)
			VALUES ($1, $2, true, $3)
			ON CONFLICT (referral_code, referee_id) DO UPDATE SET
				converted = true,
				converted_at = EXCLUDED.converted_at`,
		code, refereeID, at)
	if err != nil {
		return fmt.Errorf("%w: mark referral attempt: %v", entitlement.ErrStoreUnavailable, err)
	}
	return nil
}

// AddReferralCommission implements entitlement.Store. The increment happens
// in SQL so concurrent conversions never lose an update.
func (s *Storage) AddReferralCommission(ctx context.Context, userID string, amountCents int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE referrers SET commission_cents = commission_cents + $2
			WHERE user_id = $1`,
		userID, amountCents)
	if err != nil {
		return fmt.Errorf("%w: add referral commission: %v", entitlement.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrReferralCodeNotFound
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
