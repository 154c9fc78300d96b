// Package tx provides transaction management abstractions.
// The persistence pipeline depends only on this interface; the concrete
// implementations live in infrastructure/storage/{postgres,sqlite}.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
//
// Isolation: implementations default to READ COMMITTED. Two restores of the same
// row serialise on the row lock taken by the UPDATE; no advisory lock is used.
type Manager interface {
	// RunInTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context, so an inner
	// call joins the outer unit of work instead of creating a commit point.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
