package locking

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotObtained is returned when another holder keeps the lock past the wait window.
var ErrNotObtained = errors.New("lock not obtained")

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker serializes work per key across callers.
type Locker interface {
	Obtain(ctx context.Context, key string) (Lock, error)
}

// UserKey is the lock key guarding one user's routine assignments.
func UserKey(userID int64) string {
	return fmt.Sprintf("routine-reconcile:%d", userID)
}
