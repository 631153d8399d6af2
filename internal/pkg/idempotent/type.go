package idempotent

import "context"

// IdempotencyService answers "has this key been seen before" with a single
// atomic check-and-mark, so two racing attempts can never both get false.
type IdempotencyService interface {
	Exists(ctx context.Context, key string) (bool, error)
	MExists(ctx context.Context, keys ...string) ([]bool, error)
	// Remove releases a key marked by Exists, making the next check return
	// false again. Callers use it to roll back a mark whose operation failed.
	Remove(ctx context.Context, key string) error
}
