package sink

import (
	"encoding/json"
	"time"
)

// Entry is one stored dataset item.
type Entry struct {
	// RunID identifies the run that produced the entry
	RunID string `json:"run_id"`

	// UpdatedAt is the run timestamp
	UpdatedAt time.Time `json:"updated_at"`

	// Data is the normalized payload
	Data json.RawMessage `json:"data"`

	// Expires is when the entry becomes stale. Zero means never.
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the entry has an expiry in the past.
func (e *Entry) IsExpired() bool {
	return !e.Expires.IsZero() && time.Now().After(e.Expires)
}

// TTL returns the time until expiration, or 0 when the entry never expires
// or already has.
func (e *Entry) TTL() time.Duration {
	if e.Expires.IsZero() {
		return 0
	}
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
