package busycache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Store is the backing key/value store of the cache. Values are opaque to
// the store; every key belongs to exactly one tenant so a tenant's keys can
// be dropped together.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error
	InvalidateTenant(ctx context.Context, tenantID string) error
}

type memoryEntry struct {
	tenantID  string
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps entries in a process-local concurrent map.
type MemoryStore struct {
	entries *xsync.MapOf[string, memoryEntry]
	now     func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: xsync.NewMapOf[string, memoryEntry](),
		now:     now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, ok := s.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		s.entries.Delete(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	s.entries.Store(key, memoryEntry{
		tenantID:  tenantID,
		value:     value,
		expiresAt: s.now().Add(ttl),
	})
	return nil
}

func (s *MemoryStore) InvalidateTenant(ctx context.Context, tenantID string) error {
	s.entries.Range(func(key string, e memoryEntry) bool {
		if e.tenantID == tenantID {
			s.entries.Delete(key)
		}
		return true
	})
	return nil
}

// Len counts the entries held, expired or not.
func (s *MemoryStore) Len() int {
	return s.entries.Size()
}
