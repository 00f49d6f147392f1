package entitlement

import (
	"time"
)

// Tier is a named entitlement level controlling which commandments and
// quotas a user may access.
type Tier string

const (
	// TierFree is the default tier for users without a purchase.
	TierFree Tier = "free"
	// TierStarter is the entry paid tier.
	TierStarter Tier = "starter"
	// TierPro is the mid paid tier.
	TierPro Tier = "pro"
	// TierExpert is the top recurring tier.
	TierExpert Tier = "expert"
	// TierLifetime is the one-time-purchase tier with no expiry.
	TierLifetime Tier = "lifetime"
)

// ParseTier maps a raw string to a known tier.
// Returns (TierFree, false) for unknown values.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierFree, TierStarter, TierPro, TierExpert, TierLifetime:
		return Tier(s), true
	}
	return TierFree, false
}

// SubscriptionStatus mirrors the payment provider's subscription lifecycle.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
)

// ParseSubscriptionStatus maps a raw provider status string to a known
// status. Returns (StatusIncomplete, false) for unknown values so callers
// never persist an unconstrained string.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, bool) {
	switch SubscriptionStatus(s) {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled,
		StatusIncomplete, StatusIncompleteExpired, StatusUnpaid:
		return SubscriptionStatus(s), true
	}
	return StatusIncomplete, false
}

// Entitled reports whether the status grants access to paid content.
func (s SubscriptionStatus) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

// Terminal reports whether the subscription can no longer become active.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusCanceled || s == StatusIncompleteExpired
}

// Profile is a user's billing identity and effective entitlement.
// Mutated only by webhook handlers through the Store.
type Profile struct {
	UserID         string
	CustomerID     string
	Tier           Tier
	SubscriptionID string
	// ExpiresAt bounds one-time purchases; nil means no expiry
	// (recurring tiers expire via subscription events instead).
	ExpiresAt *time.Time
	UpdatedAt time.Time
}

// Subscription mirrors the provider's subscription object, one row per
// provider subscription id. EventAt carries the provider-side timestamp of
// the event that last wrote the row and gates out-of-order updates.
type Subscription struct {
	SubscriptionID     string
	UserID             string
	PriceID            string
	Tier               Tier
	Status             SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	EventAt            time.Time
}

// PaymentStatus is the outcome of a charge.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is an immutable append-only record of a charge attempt.
// Amounts are minor units (cents) end to end; decimal rendering happens
// only at the formatting edge.
type Payment struct {
	ID            string
	UserID        string
	AmountCents   int64
	Currency      string
	Status        PaymentStatus
	Description   string
	InvoiceURL    string
	FailureReason string
	CreatedAt     time.Time
}

// Referrer links a referral code to its owner and accumulated commission.
type Referrer struct {
	UserID          string
	ReferralCode    string
	CommissionCents int64
}

// ReferralConversion records a referred user completing a paid purchase.
// At most one conversion exists per (referral code, referee) pair.
type ReferralConversion struct {
	ReferralCode    string
	RefereeID       string
	ReferrerID      string
	AmountCents     int64
	CommissionCents int64
	Currency        string
	CreatedAt       time.Time
}

// NotificationKind categorizes user-facing notifications.
type NotificationKind string

const (
	NotificationPurchase         NotificationKind = "purchase"
	NotificationPaymentFailed    NotificationKind = "payment_failed"
	NotificationCommissionEarned NotificationKind = "commission_earned"
	NotificationDispute          NotificationKind = "dispute"
)

// Notification is an insert-only row consumed by the dashboard UI.
// It is a side effect, not part of the billing truth.
type Notification struct {
	ID        string
	UserID    string
	Kind      NotificationKind
	Title     string
	Body      string
	Urgent    bool
	CreatedAt time.Time
}

// MonthKey returns the stable usage-counter key for the month containing t,
// e.g. "2026-09". Counters are calendar-month based, in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
