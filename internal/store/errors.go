package store

import (
	"context"
	"database/sql"
	"errors"
)

// Lookup and authorization errors.
var (
	ErrNotFound  = errors.New("not found")   // 404
	ErrForbidden = errors.New("not allowed") // 403
)

// Lifecycle errors.
var (
	ErrInvalidTransition = errors.New("invalid status transition")   // 409
	ErrItemUnavailable   = errors.New("item is not available")       // 409
	ErrOwnItem           = errors.New("cannot borrow your own item") // 400
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
