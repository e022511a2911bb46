package auth

import (
	"context"
	"sync"
	"time"
)

// RevocationList tracks token IDs invalidated before their natural expiry.
type RevocationList interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
}

// MemoryRevocationList is a single-process revocation list. Suitable for
// development and tests; multi-replica deployments use Redis.
type MemoryRevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationList builds an empty list.
func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// IsRevoked reports whether tokenID was revoked and has not aged out.
func (l *MemoryRevocationList) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if l.now().After(until) {
		delete(l.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

// Revoke marks tokenID revoked for ttl.
func (l *MemoryRevocationList) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[tokenID] = l.now().Add(ttl)
	return nil
}
