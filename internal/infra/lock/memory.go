package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bryanwahyu/skinroutine/internal/domain/locking"
)

// MemoryLocker is a keyed mutex for single-instance deployments and tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait time.Duration
}

// NewMemoryLocker returns a locker that waits up to wait for a busy key;
// zero waits until the context ends.
func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{held: make(map[string]chan struct{}), wait: wait}
}

func (l *MemoryLocker) Obtain(ctx context.Context, key string) (locking.Lock, error) {
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	for {
		l.mu.Lock()
		busy, ok := l.held[key]
		if !ok {
			released := make(chan struct{})
			l.held[key] = released
			l.mu.Unlock()
			return &memoryLock{owner: l, key: key, released: released}, nil
		}
		l.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", locking.ErrNotObtained, key, ctx.Err())
		}
	}
}

type memoryLock struct {
	owner    *MemoryLocker
	key      string
	released chan struct{}
	once     sync.Once
}

func (l *memoryLock) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		if l.owner.held[l.key] == l.released {
			delete(l.owner.held, l.key)
		}
		l.owner.mu.Unlock()
		close(l.released)
	})
	return nil
}
