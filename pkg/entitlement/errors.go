package entitlement

import "errors"

var (
	// ErrProfileNotFound is returned when a user has no profile row
	ErrProfileNotFound = errors.New("profile not found")

	// ErrSubscriptionNotFound is returned when no subscription row exists
	// for the given provider subscription id
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrReferralCodeNotFound is returned when a referral code resolves to
	// no referrer
	ErrReferralCodeNotFound = errors.New("referral code not found")

	// ErrStoreUnavailable is returned when the backing store is unavailable
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidCommandment is returned for commandment numbers outside 1..10
	ErrInvalidCommandment = errors.New("invalid commandment number")
)
