package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLocked is returned when the key is held by another owner.
	ErrLocked = errors.New("lock: already held")
	// ErrLeaseLost is returned by Refresh once the lease expired or changed owner.
	ErrLeaseLost = errors.New("lock: lease lost")
)

// Lease is one acquired lock. Release is safe to call more than once.
type Lease interface {
	// Refresh pushes the expiry back by the ttl given to TryLock.
	Refresh(ctx context.Context) error
	Release()
}

// Locker acquires exclusive leases on keys. TryLock never blocks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// MemoryLocker is an in-process Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]entry
	now  func() time.Time
}

type entry struct {
	token   string
	expires time.Time
}

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]entry), now: time.Now}
}

func (m *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.held[key]; ok && e.live(now) {
		return nil, ErrLocked
	}
	e := entry{token: uuid.NewString()}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	m.held[key] = e
	return &memoryLease{m: m, key: key, token: e.token, ttl: ttl}, nil
}

func (e entry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

type memoryLease struct {
	m     *MemoryLocker
	key   string
	token string
	ttl   time.Duration
	once  sync.Once
}

func (l *memoryLease) Refresh(context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	now := l.m.now()
	cur, ok := l.m.held[l.key]
	if !ok || cur.token != l.token || !cur.live(now) {
		return ErrLeaseLost
	}
	if l.ttl > 0 {
		cur.expires = now.Add(l.ttl)
		l.m.held[l.key] = cur
	}
	return nil
}

func (l *memoryLease) Release() {
	l.once.Do(func() {
		l.m.mu.Lock()
		defer l.m.mu.Unlock()
		if cur, ok := l.m.held[l.key]; ok && cur.token == l.token {
			delete(l.m.held, l.key)
		}
	})
}
