package auth

import (
	"context"
	"sync"
	"time"

	"github.com/compass/compass/internal/platform/cache"
)

const revocationKeyPrefix = "revoked-staff:"

// RevocationStore records, per staff member, the moment their earlier tokens
// stopped being valid. Account changes that must end sessions write a cutoff,
// and any token issued at or before it is rejected.
//
// Cutoffs are kept in memory and, when a shared cache is configured, written
// through to it so every replica sees them.
type RevocationStore struct {
	mu      sync.RWMutex
	cutoffs map[string]time.Time
	shared  cache.Cache
	ttl     time.Duration
	now     func() time.Time
	done    chan struct{}
}

// NewRevocationStore keeps each cutoff for ttl, which must be at least the
// lifetime of the longest token in circulation. shared may be nil.
func NewRevocationStore(shared cache.Cache, ttl time.Duration) *RevocationStore {
	if shared == nil {
		shared = cache.Nop{}
	}
	s := &RevocationStore{
		cutoffs: make(map[string]time.Time),
		shared:  shared,
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// RevokeUser invalidates every token issued to staffID so far.
func (s *RevocationStore) RevokeUser(ctx context.Context, staffID string) error {
	if s == nil || staffID == "" {
		return nil
	}
	cutoff := s.now().UTC()
	s.mu.Lock()
	s.cutoffs[staffID] = cutoff
	s.mu.Unlock()
	return s.shared.Set(ctx, revocationKeyPrefix+staffID, cutoff.Unix(), s.ttl)
}

// IsRevoked reports whether a token issued to staffID at issuedAt has been
// revoked. Token times have second precision, so a token issued in the same
// second as the cutoff counts as revoked.
func (s *RevocationStore) IsRevoked(ctx context.Context, staffID string, issuedAt time.Time) bool {
	if s == nil || staffID == "" {
		return false
	}
	cutoff, ok := s.cutoff(ctx, staffID)
	if !ok {
		return false
	}
	return issuedAt.Unix() <= cutoff.Unix()
}

func (s *RevocationStore) cutoff(ctx context.Context, staffID string) (time.Time, bool) {
	s.mu.RLock()
	local, ok := s.cutoffs[staffID]
	s.mu.RUnlock()

	var unix int64
	err := s.shared.Get(ctx, revocationKeyPrefix+staffID, &unix)
	if err != nil {
		// A miss or an unreachable cache falls back to this process's cutoffs.
		return local, ok
	}
	shared := time.Unix(unix, 0).UTC()
	if ok && local.After(shared) {
		return local, true
	}
	return shared, true
}

// revokes reports whether claims belong to a revoked session. Tokens without
// a staff id are keyed by their subject.
func (s *RevocationStore) revokes(ctx context.Context, claims *Claims) bool {
	if s == nil {
		return false
	}
	id := claims.StaffID
	if id == "" {
		id = claims.Subject
	}
	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	return s.IsRevoked(ctx, id, issuedAt)
}

// Count returns the number of cutoffs held in memory.
func (s *RevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cutoffs)
}

// Close stops the cleanup goroutine. Calling it twice is safe.
func (s *RevocationStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *RevocationStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup drops cutoffs older than ttl; every token they guarded has expired.
func (s *RevocationStore) cleanup() {
	horizon := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cutoff := range s.cutoffs {
		if cutoff.Before(horizon) {
			delete(s.cutoffs, id)
		}
	}
}
