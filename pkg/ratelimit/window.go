// Package ratelimit implements fixed-window request counting per client
// identifier. It backs request admission and ad hoc throttling.
package ratelimit

import (
	"time"
)

// Identifier used when a request carries neither user id nor IP.
const AnonymousIdentifier = "anonymous"

// Window is the request counter for one identifier.
type Window struct {
	// Count is the number of requests observed in the current window.
	Count int `json:"count"`

	// ResetAt is when the window rolls over.
	ResetAt time.Time `json:"reset_at"`
}

// Expired returns true once now has reached ResetAt.
func (w *Window) Expired(now time.Time) bool {
	return !now.Before(w.ResetAt)
}

// Remaining returns how many more requests fit in the window under max.
func (w *Window) Remaining(max int) int {
	if r := max - w.Count; r > 0 {
		return r
	}
	return 0
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (w *Window) TimeUntilReset(now time.Time) time.Duration {
	d := w.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// reset starts a new window that already counts the current request.
func (w *Window) reset(now time.Time, window time.Duration) {
	w.Count = 1
	w.ResetAt = now.Add(window)
}
