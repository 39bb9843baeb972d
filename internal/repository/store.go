package repository

import "context"

// Store groups repositories over one backend and runs units of work atomically.
type Store interface {
	Accounts() AccountRepository
	Tokens() TokenRepository
	// WithTx runs fn against repositories bound to one transaction. It commits when fn
	// returns nil and rolls back otherwise (including context cancellation).
	WithTx(ctx context.Context, fn func(tx Store) error) error
	// Ping checks backend reachability.
	Ping(ctx context.Context) error
}
