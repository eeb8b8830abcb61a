package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

const cooldownKeyPrefix = "intake:retrigger"

// RetriggerCooldown rejects a repeat manual trigger for the same appointment
// and action within ttl. The first caller claims the window with SET NX.
// Redis failures fail open so recovery is never blocked by the cache.
func RetriggerCooldown(client *redis.Client, action string, ttl time.Duration, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		if client == nil || ttl <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			appointmentID := strings.TrimSpace(chi.URLParam(r, "appointmentID"))
			if appointmentID == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := CooldownKey(action, appointmentID)
			claimed, err := client.SetNX(r.Context(), key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
			if err != nil {
				logger.Warn("retrigger cooldown unavailable", "error", err, "appointment_id", appointmentID, "action", action)
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				retry := ttl
				if remaining, err := client.TTL(r.Context(), key).Result(); err == nil && remaining > 0 {
					retry = remaining
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retry.Round(time.Second)/time.Second)))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success":        false,
					"error":          fmt.Sprintf("%s recently triggered for this appointment", action),
					"appointment_id": appointmentID,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CooldownKey is the Redis key guarding one action on one appointment.
func CooldownKey(action, appointmentID string) string {
	return cooldownKeyPrefix + ":" + action + ":" + appointmentID
}
