// Package locker serializes read-modify-write sequences on a single key,
// such as a user's cart, across goroutines or across service instances.
package locker

import "context"

// Locker acquires an exclusive lock on key. The returned function releases
// it and must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// CartKey is the lock key guarding a user's cart.
func CartKey(userID string) string {
	return "cart:" + userID
}
