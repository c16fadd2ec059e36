package settlement

import (
	"sync"
	"time"
)

// latch remembers transaction ids this process has claimed. Entries expire
// after ttl; a claim released on failure can be taken again immediately.
type latch struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func newLatch(ttl time.Duration) *latch {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &latch{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// claim returns false when key is already held and unexpired.
func (l *latch) claim(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, expires := range l.entries {
		if !now.Before(expires) {
			delete(l.entries, k)
		}
	}
	if _, held := l.entries[key]; held {
		return false
	}
	l.entries[key] = now.Add(l.ttl)
	return true
}

func (l *latch) release(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}
