package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/agenttrust/backend/internal/store"
)

type contextKey string

const apiKeyContextKey contextKey = "api-key"

// authMiddleware authenticates X-API-Key headers of the form
// "<key_id>.<secret>" and enforces the key's daily quota. Redis, when
// wired, short-circuits over-quota keys before touching Postgres;
// Postgres stays authoritative.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-API-Key")
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}

		keyID, secret, ok := strings.Cut(raw, ".")
		if !ok {
			writeError(w, http.StatusUnauthorized, "malformed API key")
			return
		}

		key, err := s.backend.GetAPIKey(r.Context(), keyID)
		if err != nil {
			s.logger.Printf("❌ key lookup failed: %v", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if key == nil || bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(secret)) != nil {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		allowed, err := s.consumeQuota(r.Context(), key)
		if err != nil {
			s.logger.Printf("❌ quota accounting for %s failed: %v", key.KeyID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !allowed {
			writeError(w, http.StatusTooManyRequests, "daily quota exceeded")
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) consumeQuota(ctx context.Context, key *store.APIKey) (bool, error) {
	now := time.Now().UTC()

	if s.redis != nil {
		rkey := fmt.Sprintf("quota:%s:%s", key.KeyID, now.Format("2006-01-02"))
		count, err := s.redis.Incr(ctx, rkey).Result()
		if err == nil {
			if count == 1 {
				s.redis.Expire(ctx, rkey, 48*time.Hour)
			}
			if count > int64(key.DailyQuota) {
				return false, nil
			}
		} else {
			// Degraded cache falls through to the database path.
			s.logger.Printf("⚠️ redis quota path unavailable: %v", err)
		}
	}

	count, err := s.backend.IncrementUsage(ctx, key.KeyID, now)
	if err != nil {
		return false, err
	}
	return count <= key.DailyQuota, nil
}

func keyFromContext(ctx context.Context) *store.APIKey {
	key, _ := ctx.Value(apiKeyContextKey).(*store.APIKey)
	return key
}
