package attestation

import (
	"sync"
	"time"
)

// ReplayGuard is a process-local nonce replay store: each nonce may be
// accepted at most once within its caller-supplied validity window.
// Expired entries are pruned opportunistically on every access, so the
// map never needs a background sweeper.
type ReplayGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time // nonce -> expiresAt
}

// NewReplayGuard constructs an empty ReplayGuard.
func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{entries: make(map[string]time.Time)}
}

// VerifyAndRecord reports whether nonce is fresh (not previously
// recorded while still within its validity window). A fresh nonce is
// recorded against expiresAt so a subsequent call with the same nonce,
// before it expires, is rejected.
func (g *ReplayGuard) VerifyAndRecord(nonce string, expiresAt, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneLocked(now)

	if existingExpiry, seen := g.entries[nonce]; seen && existingExpiry.After(now) {
		return false
	}

	g.entries[nonce] = expiresAt
	return true
}

func (g *ReplayGuard) pruneLocked(now time.Time) {
	for nonce, expiresAt := range g.entries {
		if !expiresAt.After(now) {
			delete(g.entries, nonce)
		}
	}
}
