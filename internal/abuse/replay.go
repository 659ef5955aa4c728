// Copyright 2025 James Ross
package abuse

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// AntiReplay accepts (nonce, ts, session) at most once within a sliding
// window (§4.7), evicting hashes once they fall outside it. The
// check-and-reserve shape mirrors the teacher's Redis-backed idempotency
// manager (internal/exactly_once), re-expressed as an in-process map since
// replay state, like all window state, is per-process (§1 Non-goals).
type AntiReplay struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	windowS  time.Duration
}

// NewAntiReplay configures the acceptance window.
func NewAntiReplay(window time.Duration) *AntiReplay {
	return &AntiReplay{seen: map[string]time.Time{}, windowS: window}
}

func hashNonce(nonce string, ts int64, session string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s", nonce, ts, session)
	return hex.EncodeToString(h.Sum(nil))
}

// Check accepts (nonce, ts, session) iff |now-ts| ≤ window and the hash has
// not been seen before within the window; returns true if accepted.
func (r *AntiReplay) Check(nonce string, ts int64, session string, now time.Time) bool {
	if d := now.Unix() - ts; d > int64(r.windowS.Seconds()) || d < -int64(r.windowS.Seconds()) {
		return false
	}

	key := hashNonce(nonce, ts, session)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(now)
	if _, ok := r.seen[key]; ok {
		return false
	}
	r.seen[key] = now
	return true
}

// evictLocked must be called with r.mu held; it is O(n) over tracked
// entries, acceptable since n is bounded by request volume within one
// replay window.
func (r *AntiReplay) evictLocked(now time.Time) {
	cutoff := now.Add(-r.windowS)
	for k, t := range r.seen {
		if t.Before(cutoff) {
			delete(r.seen, k)
		}
	}
}

// Len reports the number of tracked hashes, for diagnostics/tests.
func (r *AntiReplay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
