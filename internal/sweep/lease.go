package sweep

import (
	"context"
	"sync"
	"time"
)

// Release gives a lease back before it expires.
type Release func(ctx context.Context) error

// Lease grants exclusive, expiring ownership of a named sweep. A lease only
// reduces duplicate work; every sweep stays correct without it.
type Lease interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release Release, acquired bool, err error)
}

// LocalLease is an in-process Lease.
type LocalLease struct {
	mu      sync.Mutex
	holders map[string]localHold
	seq     uint64
	now     func() time.Time
}

type localHold struct {
	id        uint64
	expiresAt time.Time
}

// NewLocalLease returns an empty in-process lease.
func NewLocalLease(now func() time.Time) *LocalLease {
	if now == nil {
		now = time.Now
	}
	return &LocalLease{holders: make(map[string]localHold), now: now}
}

// Acquire takes name unless an unexpired holder exists.
func (l *LocalLease) Acquire(ctx context.Context, name string, ttl time.Duration) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if hold, ok := l.holders[name]; ok && now.Before(hold.expiresAt) {
		return nil, false, nil
	}
	l.seq++
	id := l.seq
	l.holders[name] = localHold{id: id, expiresAt: now.Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if hold, ok := l.holders[name]; ok && hold.id == id {
			delete(l.holders, name)
		}
		return nil
	}
	return release, true, nil
}
