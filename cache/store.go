package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Entry is one cached answer. A negative entry records that the backend
// affirmatively denied the key.
type Entry struct {
	Login    string         `json:"login,omitempty"`
	ID       string         `json:"id,omitempty"`
	Profile  map[string]any `json:"profile,omitempty"`
	Specs    []string       `json:"specs,omitempty"`
	Negative bool           `json:"negative,omitempty"`
}

func (e Entry) clone() Entry {
	out := e
	if e.Profile != nil {
		out.Profile = make(map[string]any, len(e.Profile))
		for k, v := range e.Profile {
			out.Profile[k] = v
		}
	}
	if e.Specs != nil {
		out.Specs = append([]string(nil), e.Specs...)
	}
	return out
}

// Store holds cache entries. Implementations must be safe for concurrent use
// and make deletions visible to every subsequent Get.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set stores e for ttl. A ttl of zero keeps the entry until deleted.
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

type memoryItem struct {
	entry   Entry
	expires time.Time
}

// MemoryStore is a process-local Store. Expired entries are dropped on read.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	if !item.expires.IsZero() && !s.now().Before(item.expires) {
		s.mu.Lock()
		if cur, ok := s.items[key]; ok && cur.expires.Equal(item.expires) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return Entry{}, false, nil
	}
	return item.entry.clone(), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, e Entry, ttl time.Duration) error {
	item := memoryItem{entry: e.clone()}
	if ttl > 0 {
		item.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = item
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.items, k)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			delete(s.items, k)
		}
	}
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
