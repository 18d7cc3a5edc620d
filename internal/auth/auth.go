// Package auth resolves the API key of a request into the content account
// searches run for, and guards the administrative endpoints.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
)

type contextKey string

const keyInfoKey contextKey = "api_key_info"

// Options controls Authenticate.
type Options struct {
	// Required rejects requests without a key. Otherwise they run as the
	// anonymous account.
	Required bool
	// Exempt lists path prefixes that are never authenticated.
	Exempt []string
}

// Authenticate validates the request's API key, if any, and stores its
// KeyInfo in the request context. Keys are read from
// "Authorization: Bearer <key>", the X-API-Key header or the api_key query
// parameter, in that order.
func Authenticate(v apikey.Validator, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range opts.Exempt {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}

			key := extractAPIKey(r)
			if key == "" {
				if opts.Required {
					writeError(w, http.StatusUnauthorized, "missing api key")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			info, err := v.Validate(r.Context(), key)
			switch {
			case errors.Is(err, apikey.ErrInvalidKey):
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			case errors.Is(err, apikey.ErrExpiredKey):
				writeError(w, http.StatusUnauthorized, "expired api key")
				return
			case err != nil:
				logger.FromContext(r.Context()).Error("api key validation failed", "error", err)
				writeError(w, http.StatusInternalServerError, "authentication error")
				return
			}

			ctx := context.WithValue(r.Context(), keyInfoKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests whose key is missing or not an admin key.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := KeyInfo(r.Context())
		if info == nil {
			writeError(w, http.StatusUnauthorized, "missing api key")
			return
		}
		if !info.Admin {
			writeError(w, http.StatusForbidden, "admin key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit enforces the per-key limit. Requests without a key share the
// "anonymous" bucket at the limiter's default limit.
func RateLimit(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bucket, limit := "anonymous", 0
			if info := KeyInfo(r.Context()); info != nil {
				bucket, limit = "key:"+info.ID, info.RateLimit
			}
			if !l.Allow(bucket, limit) {
				retry := int(l.RetryAfter(limit).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// KeyInfo returns the validated key of the request, or nil.
func KeyInfo(ctx context.Context) *apikey.KeyInfo {
	info, _ := ctx.Value(keyInfoKey).(*apikey.KeyInfo)
	return info
}

// Account returns the account a request's searches run for. The empty
// string is the anonymous account.
func Account(ctx context.Context) string {
	info := KeyInfo(ctx)
	if info == nil || info.AccountID == 0 {
		return ""
	}
	return strconv.FormatInt(info.AccountID, 10)
}

func extractAPIKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
