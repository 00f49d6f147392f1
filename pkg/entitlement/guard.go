package entitlement

import (
	"context"
	"fmt"
	"time"
)

// Guard resolves a user's effective entitlement and answers access
// questions for commandment content and the monthly AI-interaction quota.
// It is read/derive logic over the rows written by the webhook handlers;
// its only writes are usage-counter increments.
type Guard struct {
	store Store
	usage UsageCounter
	cache *profileCache
	log   Logger
	now   func() time.Time
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	// Store is the billing state store (required).
	Store Store

	// Usage tracks monthly AI-interaction counts (required for the AI
	// quota methods; commandment checks work without it).
	Usage UsageCounter

	// Logger receives access-decision logs. Defaults to NoopLogger.
	Logger Logger

	// CacheTTL enables a TTL cache over profile lookups when > 0.
	CacheTTL time.Duration

	// CacheSize caps the profile cache (default 1000).
	CacheSize int

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// AIAllowance is the result of an AI-quota check.
type AIAllowance struct {
	Allowed   bool
	Unlimited bool
	Used      int
	Limit     int
	Remaining int
}

// NewGuard creates a Guard from the given configuration.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Store == nil {
		return nil, ErrStoreUnavailable
	}
	log := cfg.Logger
	if log == nil {
		log = &NoopLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	g := &Guard{
		store: cfg.Store,
		usage: cfg.Usage,
		log:   log,
		now:   now,
	}
	if cfg.CacheTTL > 0 {
		g.cache = newProfileCache(cfg.CacheTTL, cfg.CacheSize)
	}
	return g, nil
}

// TierFor resolves the user's effective tier. Users without a profile read
// as free. An expired one-time purchase silently downgrades the read to
// free without writing the profile row; the row stays as-is for audit.
func (g *Guard) TierFor(ctx context.Context, userID string) (Tier, error) {
	profile, err := g.profile(ctx, userID)
	if err == ErrProfileNotFound {
		return TierFree, nil
	}
	if err != nil {
		return TierFree, err
	}

	if profile.ExpiresAt != nil && profile.ExpiresAt.Before(g.now().UTC()) {
		g.log.Debug("entitlement expired, reading as free",
			Field{Key: "user_id", Value: userID},
			Field{Key: "tier", Value: string(profile.Tier)},
			Field{Key: "expired_at", Value: profile.ExpiresAt})
		return TierFree, nil
	}

	return profile.Tier, nil
}

// TierSpecFor resolves the user's effective tier spec.
func (g *Guard) TierSpecFor(ctx context.Context, userID string) (TierSpec, error) {
	tier, err := g.TierFor(ctx, userID)
	if err != nil {
		return SpecFor(TierFree), err
	}
	return SpecFor(tier), nil
}

// HasCommandmentAccess reports whether the user's tier grants the given
// commandment number (1..10).
func (g *Guard) HasCommandmentAccess(ctx context.Context, userID string, commandment int) (bool, error) {
	if commandment < 1 || commandment > 10 {
		return false, fmt.Errorf("%w: %d", ErrInvalidCommandment, commandment)
	}

	spec, err := g.TierSpecFor(ctx, userID)
	if err != nil {
		return false, err
	}

	granted := spec.GrantsCommandment(commandment)
	g.log.Debug("commandment access decision",
		Field{Key: "user_id", Value: userID},
		Field{Key: "commandment", Value: commandment},
		Field{Key: "tier", Value: string(spec.Name)},
		Field{Key: "granted", Value: granted})
	return granted, nil
}

// CheckAIInteractionLimit aggregates the user's current-month usage against
// their tier quota and returns the remaining allowance.
func (g *Guard) CheckAIInteractionLimit(ctx context.Context, userID string) (*AIAllowance, error) {
	if g.usage == nil {
		return nil, fmt.Errorf("usage counter not configured")
	}

	spec, err := g.TierSpecFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	if spec.Unlimited() {
		return &AIAllowance{Allowed: true, Unlimited: true, Limit: UnlimitedAIInteractions}, nil
	}

	used, err := g.usage.CountAIInteractions(ctx, userID, MonthKey(g.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to count AI interactions: %w", err)
	}

	remaining := spec.MonthlyAIInteractions - used
	if remaining < 0 {
		remaining = 0
	}

	allowance := &AIAllowance{
		Allowed:   used < spec.MonthlyAIInteractions,
		Used:      used,
		Limit:     spec.MonthlyAIInteractions,
		Remaining: remaining,
	}
	if !allowance.Allowed {
		g.log.Info("AI interaction quota exhausted",
			Field{Key: "user_id", Value: userID},
			Field{Key: "tier", Value: string(spec.Name)},
			Field{Key: "used", Value: used},
			Field{Key: "limit", Value: spec.MonthlyAIInteractions})
	}
	return allowance, nil
}

// RecordAIInteraction increments the user's current-month usage counter.
func (g *Guard) RecordAIInteraction(ctx context.Context, userID string) error {
	if g.usage == nil {
		return fmt.Errorf("usage counter not configured")
	}
	_, err := g.usage.IncrAIInteractions(ctx, userID, MonthKey(g.now()))
	if err != nil {
		return fmt.Errorf("failed to record AI interaction: %w", err)
	}
	return nil
}

// InvalidateProfile drops the user's cached profile. Call after a write
// that must be visible immediately (e.g. a checkout landing page).
func (g *Guard) InvalidateProfile(userID string) {
	if g.cache != nil {
		g.cache.invalidate(userID)
	}
}

func (g *Guard) profile(ctx context.Context, userID string) (*Profile, error) {
	if g.cache != nil {
		if p, ok := g.cache.get(userID); ok {
			return p, nil
		}
	}
	profile, err := g.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if g.cache != nil {
		g.cache.set(userID, profile)
	}
	return profile, nil
}
