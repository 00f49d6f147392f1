// Package http provides HTTP middleware for entitlement enforcement
package http

import (
	"fmt"
	"net/http"

	"github.com/vibecodingbible/billingsync/pkg/entitlement"
)

// UserIDExtractor extracts the user ID from an HTTP request.
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// CommandmentExtractor extracts the requested commandment number from an
// HTTP request, typically from a path parameter.
type CommandmentExtractor func(r *http.Request) (int, error)

// Config holds middleware configuration
type Config struct {
	// Guard is the entitlement guard instance (required)
	Guard *entitlement.Guard

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// GetCommandment extracts the commandment number (required for
	// RequireCommandment)
	GetCommandment CommandmentExtractor

	// OnForbidden is called when the user's tier does not grant access.
	// If nil, returns 403 Forbidden
	OnForbidden func(w http.ResponseWriter, r *http.Request, tier entitlement.Tier)

	// OnLimitExceeded is called when the monthly AI quota is spent.
	// If nil, returns 429 Too Many Requests
	OnLimitExceeded func(w http.ResponseWriter, r *http.Request, allowance *entitlement.AIAllowance)

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// RequireCommandment creates middleware that admits only users whose tier
// grants the commandment extracted from the request.
func RequireCommandment(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				unauthorized(config, w, r)
				return
			}

			commandment, err := config.GetCommandment(r)
			if err != nil {
				fail(config, w, r, err)
				return
			}

			ctx := r.Context()
			allowed, err := config.Guard.HasCommandmentAccess(ctx, userID, commandment)
			if err != nil {
				fail(config, w, r, err)
				return
			}
			if !allowed {
				tier, _ := config.Guard.TierFor(ctx, userID)
				if config.OnForbidden != nil {
					config.OnForbidden(w, r, tier)
				} else {
					msg := fmt.Sprintf("Commandment %d requires an upgrade from the %s tier", commandment, tier)
					http.Error(w, msg, http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAIAllowance creates middleware that enforces the monthly AI
// interaction quota and records one interaction per admitted request.
func RequireAIAllowance(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				unauthorized(config, w, r)
				return
			}

			ctx := r.Context()
			allowance, err := config.Guard.CheckAIInteractionLimit(ctx, userID)
			if err != nil {
				fail(config, w, r, err)
				return
			}
			if !allowance.Allowed {
				if config.OnLimitExceeded != nil {
					config.OnLimitExceeded(w, r, allowance)
				} else {
					msg := fmt.Sprintf("AI interaction limit reached: %d/%d used this month", allowance.Used, allowance.Limit)
					http.Error(w, msg, http.StatusTooManyRequests)
				}
				return
			}

			if err := config.Guard.RecordAIInteraction(ctx, userID); err != nil {
				fail(config, w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(config Config, w http.ResponseWriter, r *http.Request) {
	if config.OnUnauthorized != nil {
		config.OnUnauthorized(w, r)
		return
	}
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func fail(config Config, w http.ResponseWriter, r *http.Request, err error) {
	if config.OnError != nil {
		config.OnError(w, r, err)
		return
	}
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
