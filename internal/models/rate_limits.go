package models

import "time"

// RateLimitWindow is the counter state of one (client, policy) key.
type RateLimitWindow struct {
	Count   int
	ResetAt time.Time
}

// Expired reports whether the window no longer applies at now.
func (w RateLimitWindow) Expired(now time.Time) bool {
	return !now.Before(w.ResetAt)
}
