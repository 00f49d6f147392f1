package entitlement

import (
	"context"
	"time"
)

// Store defines the persistence interface for billing state.
// All methods use concrete types from this package to avoid import cycles.
//
// Writes that reflect provider events carry the provider-side event
// timestamp (eventAt); implementations must skip writes that are older than
// the persisted state so out-of-order webhook deliveries cannot clobber
// newer state.
type Store interface {
	// GetProfile retrieves a user's profile.
	// Returns ErrProfileNotFound when the user has no row.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// GetProfileByCustomerID retrieves a profile by provider customer id.
	// Returns ErrProfileNotFound when no profile matches.
	GetProfileByCustomerID(ctx context.Context, customerID string) (*Profile, error)

	// EnsureProfile creates a free-tier profile for the user if none exists
	// and records the provider customer id. Existing profiles keep their
	// tier; only a missing customer id is filled in.
	EnsureProfile(ctx context.Context, userID, customerID string) error

	// SetProfileTier writes the user's effective entitlement.
	// subscriptionID may be empty (one-time purchases, downgrades to free);
	// expiresAt bounds one-time purchases and is nil otherwise.
	// The write is skipped when eventAt is not newer than the stored state.
	SetProfileTier(ctx context.Context, userID string, tier Tier, subscriptionID string, expiresAt *time.Time, eventAt time.Time) error

	// GetSubscription retrieves a subscription row by provider id.
	// Returns ErrSubscriptionNotFound when no row exists.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// UpsertSubscription inserts or updates the row keyed by
	// sub.SubscriptionID. Returns false when the write was skipped because
	// sub.EventAt is not newer than the stored row's EventAt.
	UpsertSubscription(ctx context.Context, sub *Subscription) (bool, error)

	// AppendPayment appends an immutable payment-history row. Rows are
	// keyed by Payment.ID; appending an existing id is a no-op, so a
	// redelivered event cannot duplicate history.
	AppendPayment(ctx context.Context, p *Payment) error

	// InsertNotification inserts a user-facing notification row. Keyed by
	// Notification.ID with the same no-op-on-duplicate rule as payments.
	InsertNotification(ctx context.Context, n *Notification) error

	// GetReferrerByCode resolves a referral code to its owner.
	// Returns ErrReferralCodeNotFound for unknown codes.
	GetReferrerByCode(ctx context.Context, code string) (*Referrer, error)

	// InsertReferralConversion records a conversion. Returns false when a
	// conversion for the same (referral code, referee) pair already exists;
	// redelivered checkout events must not double-pay.
	InsertReferralConversion(ctx context.Context, conv *ReferralConversion) (bool, error)

	// MarkReferralAttemptConverted flags the originating referral attempt.
	// A missing attempt row is not an error.
	MarkReferralAttemptConverted(ctx context.Context, code, refereeID string, at time.Time) error

	// AddReferralCommission atomically increments the referrer's commission
	// balance. This must not be a read-modify-write: concurrent conversions
	// for the same referrer may land at the same instant.
	AddReferralCommission(ctx context.Context, userID string, amountCents int64) error
}

// UsageCounter tracks monthly AI-interaction usage per user.
// month is a MonthKey value ("2006-01").
type UsageCounter interface {
	// IncrAIInteractions increments the user's counter for the month and
	// returns the new total.
	IncrAIInteractions(ctx context.Context, userID, month string) (int, error)

	// CountAIInteractions returns the user's usage for the month.
	// A missing counter reads as zero.
	CountAIInteractions(ctx context.Context, userID, month string) (int, error)
}
