package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skylog-io/skylog/internal/models"
	"github.com/skylog-io/skylog/internal/store"
	"github.com/skylog-io/skylog/internal/token"
)

type contextKey string

const accountContextKey contextKey = "account"

// AccountFromContext returns the account the gate resolved for this request.
func AccountFromContext(ctx context.Context) *models.Account {
	account, _ := ctx.Value(accountContextKey).(*models.Account)
	return account
}

// RateLimiter stores rate limiters per caller identity.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter; each caller identity gets its
// own token bucket with the given refill rate and burst.
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    b,
	}
}

// GetLimiter returns the rate limiter for the given identifier.
func (rl *RateLimiter) GetLimiter(identifier string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[identifier]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[identifier] = limiter
	}
	return limiter
}

// CleanupOldLimiters bounds the limiter map; without last-used tracking a
// periodic reset is enough to keep memory flat.
func (rl *RateLimiter) CleanupOldLimiters() {
	ticker := time.NewTicker(10 * time.Minute)
	go func() {
		for range ticker.C {
			rl.mu.Lock()
			if len(rl.limiters) > 10000 {
				rl.limiters = make(map[string]*rate.Limiter)
			}
			rl.mu.Unlock()
		}
	}()
}

// callerKey identifies the caller by client IP. The rate stage runs before
// authentication in every route group, so the IP is all there is to key on.
func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// RateLimitMiddleware is stage one of the gate: exceeding the budget fails
// the request before any credential work happens.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.GetLimiter(callerKey(r)).Allow() {
				writeError(w, http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SharedSecretMiddleware is stage two: the X-API-Key header must match the
// configured application secret. The comparison is constant time.
func SharedSecretMiddleware(appSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				writeError(w, http.StatusUnauthorized, CodeMissingAPIKey, "API key required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(appSecret)) != 1 {
				writeError(w, http.StatusForbidden, CodeInvalidAPIKey, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerAuthMiddleware is stage three: verify the access token (signature
// and expiry, no token-store lookup) and re-check that the account is still
// active.
func BearerAuthMiddleware(tokens *token.Service, st store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, CodeMissingToken, "Missing authorization header")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || tokenString == "" {
				writeError(w, http.StatusUnauthorized, CodeInvalidToken, "Invalid authorization header format")
				return
			}

			accountID, err := tokens.VerifyAccess(tokenString)
			switch {
			case errors.Is(err, token.ErrExpired):
				writeError(w, http.StatusUnauthorized, CodeTokenExpired, "Access token expired")
				return
			case err != nil:
				writeError(w, http.StatusUnauthorized, CodeInvalidToken, "Invalid access token")
				return
			}

			account, err := st.AccountByID(r.Context(), accountID)
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, CodeInvalidToken, "Invalid access token")
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, CodeInternalError, "Internal server error")
				return
			}
			if !account.IsActive() {
				writeError(w, http.StatusForbidden, CodeAccountInactive, "Account is not active")
				return
			}

			ctx := context.WithValue(r.Context(), accountContextKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
