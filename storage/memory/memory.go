// Package memory provides an in-memory implementation of the
// entitlement.Store and entitlement.UsageCounter interfaces.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

// Storage implements entitlement.Store and entitlement.UsageCounter using
// in-memory maps. Write gating matches the durable adapters: profile and
// subscription writes carry an event timestamp and stale writes are
// silently skipped.
type Storage struct {
	mu            sync.RWMutex
	profiles      map[string]*entitlement.Profile
	profileEvents map[string]time.Time
	subscriptions map[string]*entitlement.Subscription
	payments      map[string]*entitlement.Payment
	notifications map[string]*entitlement.Notification
	referrers     map[string]*entitlement.Referrer // keyed by referral code
	conversions   map[string]*entitlement.ReferralConversion
	attempts      map[string]time.Time
	usage         map[string]int
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		profiles:      make(map[string]*entitlement.Profile),
		profileEvents: make(map[string]time.Time),
		subscriptions: make(map[string]*entitlement.Subscription),
		payments:      make(map[string]*entitlement.Payment),
		notifications: make(map[string]*entitlement.Notification),
		referrers:     make(map[string]*entitlement.Referrer),
		conversions:   make(map[string]*entitlement.ReferralConversion),
		attempts:      make(map[string]time.Time),
		usage:         make(map[string]int),
	}
}

// GetProfile implements entitlement.Store
func (s *Storage) GetProfile(ctx context.Context, userID string) (*entitlement.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, entitlement.ErrProfileNotFound
	}

	// Return a copy to prevent external mutations
	pCopy := *p
	return &pCopy, nil
}

// GetProfileByCustomerID implements entitlement.Store
func (s *Storage) GetProfileByCustomerID(ctx context.Context, customerID string) (*entitlement.Profile, error) {
	if customerID == "" {
		return nil, entitlement.ErrProfileNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.profiles {
		if p.CustomerID == customerID {
			pCopy := *p
			return &pCopy, nil
		}
	}
	return nil, entitlement.ErrProfileNotFound
}

// EnsureProfile implements entitlement.Store
func (s *Storage) EnsureProfile(ctx context.Context, userID, customerID string) error {
	if userID == "" {
		return fmt.Errorf("invalid profile: empty user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.profiles[userID]; ok {
		if p.CustomerID == "" {
			p.CustomerID = customerID
		}
		return nil
	}
	s.profiles[userID] = &entitlement.Profile{
		UserID:     userID,
		CustomerID: customerID,
		Tier:       entitlement.TierFree,
		UpdatedAt:  time.Now().UTC(),
	}
	return nil
}

// SetProfileTier implements entitlement.Store
func (s *Storage) SetProfileTier(ctx context.Context, userID string, tier entitlement.Tier, subscriptionID string, expiresAt *time.Time, eventAt time.Time) error {
	if userID == "" {
		return fmt.Errorf("invalid profile: empty user id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.profileEvents[userID]; ok && !eventAt.After(last) {
		return nil
	}
	s.profileEvents[userID] = eventAt

	p, ok := s.profiles[userID]
	if !ok {
		p = &entitlement.Profile{UserID: userID}
		s.profiles[userID] = p
	}
	p.Tier = tier
	p.SubscriptionID = subscriptionID
	p.ExpiresAt = copyTime(expiresAt)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// GetSubscription implements entitlement.Store
func (s *Storage) GetSubscription(ctx context.Context, subscriptionID string) (*entitlement.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil, entitlement.ErrSubscriptionNotFound
	}
	subCopy := *sub
	subCopy.CanceledAt = copyTime(sub.CanceledAt)
	return &subCopy, nil
}

// UpsertSubscription implements entitlement.Store
func (s *Storage) UpsertSubscription(ctx context.Context, sub *entitlement.Subscription) (bool, error) {
	if sub == nil || sub.SubscriptionID == "" {
		return false, fmt.Errorf("invalid subscription")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subscriptions[sub.SubscriptionID]; ok && !sub.EventAt.After(existing.EventAt) {
		return false, nil
	}
	subCopy := *sub
	subCopy.CanceledAt = copyTime(sub.CanceledAt)
	s.subscriptions[sub.SubscriptionID] = &subCopy
	return true, nil
}

// AppendPayment implements entitlement.Store
func (s *Storage) AppendPayment(ctx context.Context, p *entitlement.Payment) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid payment")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[p.ID]; ok {
		return nil
	}
	pCopy := *p
	s.payments[p.ID] = &pCopy
	return nil
}

// InsertNotification implements entitlement.Store
func (s *Storage) InsertNotification(ctx context.Context, n *entitlement.Notification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("invalid notification")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[n.ID]; ok {
		return nil
	}
	nCopy := *n
	s.notifications[n.ID] = &nCopy
	return nil
}

// GetReferrerByCode implements entitlement.Store
func (s *Storage) GetReferrerByCode(ctx context.Context, code string) (*entitlement.Referrer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.referrers[code]
	if !ok {
		return nil, entitlement.ErrReferralCodeNotFound
	}
	rCopy := *r
	return &rCopy, nil
}

// PutReferrer registers a referral code for tests and local setups.
func (s *Storage) PutReferrer(r *entitlement.Referrer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rCopy := *r
	s.referrers[r.ReferralCode] = &rCopy
}

// InsertReferralConversion implements entitlement.Store
func (s *Storage) InsertReferralConversion(ctx context.Context, conv *entitlement.ReferralConversion) (bool, error) {
	if conv == nil || conv.ReferralCode == "" || conv.RefereeID == "" {
		return false, fmt.Errorf("invalid referral conversion")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := conversionKey(conv.ReferralCode, conv.RefereeID)
	if _, ok := s.conversions[key]; ok {
		return false, nil
	}
	convCopy := *conv
	s.conversions[key] = &convCopy
	return true, nil
}

// MarkReferralAttemptConverted implements entitlement.Store
func (s *Storage) MarkReferralAttemptConverted(ctx context.Context, code, refereeID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[conversionKey(code, refereeID)] = at
	return nil
}

// AddReferralCommission implements entitlement.Store
func (s *Storage) AddReferralCommission(ctx context.Context, userID string, amountCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.referrers {
		if r.UserID == userID {
			r.CommissionCents += amountCents
			return nil
		}
	}
	return entitlement.ErrReferralCodeNotFound
}

// IncrAIInteractions implements entitlement.UsageCounter
func (s *Storage) IncrAIInteractions(ctx context.Context, userID, month string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(userID, month)
	s.usage[key]++
	return s.usage[key], nil
}

// CountAIInteractions implements entitlement.UsageCounter
func (s *Storage) CountAIInteractions(ctx context.Context, userID, month string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.usage[usageKey(userID, month)], nil
}

// Payments returns the stored payments for a user, newest last. Test and
// example helper.
func (s *Storage) Payments(userID string) []*entitlement.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entitlement.Payment
	for _, p := range s.payments {
		if p.UserID == userID {
			pCopy := *p
			out = append(out, &pCopy)
		}
	}
	return out
}

// Notifications returns the stored notifications for a user. Test and
// example helper.
func (s *Storage) Notifications(userID string) []*entitlement.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entitlement.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			nCopy := *n
			out = append(out, &nCopy)
		}
	}
	return out
}

// Conversions returns all stored referral conversions. Test helper.
func (s *Storage) Conversions() []*entitlement.ReferralConversion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entitlement.ReferralConversion
	for _, c := range s.conversions {
		cCopy := *c
		out = append(out, &cCopy)
	}
	return out
}

func conversionKey(code, refereeID string) string {
	return code + "\x00" + refereeID
}

func usageKey(userID, month string) string {
	return userID + "\x00" + month
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	tCopy := *t
	return &tCopy
}
