// Package session persists the per-user identities the runtime acts on
// behalf of, and derives the immutable per-agent configuration each
// monitor/booker pair runs with.
package session

import "time"

// Record is a persisted user identity: stable credentials, browser
// profile, and preferences for one subscriber of the booking runtime.
// Mutated only through Store.Upsert; destroyed only through
// Store.Delete. Agents never hold a Record directly — they receive an
// AgentConfig snapshot derived from one at bootstrap.
type Record struct {
	SessionID   string         `json:"session_id"`
	UserID      string         `json:"user_id"`
	Email       string         `json:"email"`
	Credentials map[string]any `json:"credentials"`
	Profile     map[string]any `json:"profile"`
	Preferences map[string]any `json:"preferences"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AgentConfig is derived once from a Record at runtime bootstrap and is
// immutable for the lifetime of the agents built from it.
type AgentConfig struct {
	SessionID           string
	UserID              string
	PollIntervalSeconds int
	Timezone            string
	Metadata            map[string]any
}

// minPollIntervalSeconds is the floor enforced on every agent's poll
// cadence, per the runtime's resource model.
const minPollIntervalSeconds = 5

// DeriveAgentConfig builds the immutable AgentConfig for a session.
// defaultPollIntervalSeconds is the runtime-wide fallback used when the
// record has no poll_interval_seconds preference of its own. Either
// value is floored to minPollIntervalSeconds.
func DeriveAgentConfig(r Record, defaultPollIntervalSeconds int) AgentConfig {
	interval := defaultPollIntervalSeconds
	if v, ok := r.Preferences["poll_interval_seconds"]; ok {
		if n, ok := asInt(v); ok {
			interval = n
		}
	}
	if interval < minPollIntervalSeconds {
		interval = minPollIntervalSeconds
	}

	timezone := "UTC"
	if tz, ok := r.Preferences["timezone"].(string); ok && tz != "" {
		timezone = tz
	}

	return AgentConfig{
		SessionID:           r.SessionID,
		UserID:              r.UserID,
		PollIntervalSeconds: interval,
		Timezone:            timezone,
		Metadata:            r.Metadata,
	}
}

// asInt coerces the handful of numeric shapes that survive a YAML or
// JSON round-trip (int, int64, float64) into an int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
