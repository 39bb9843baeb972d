package postgres

import (
	"context"

	"github.com/and161185/goph-auth/internal/repository"
	"github.com/jackc/pgx/v5"
)

// Store implements repository.Store on a pool or, inside WithTx, on one transaction.
type Store struct {
	db   *DB
	q    querier
	inTx bool
}

// NewStore constructs a pool-backed store.
func NewStore(db *DB) *Store { return &Store{db: db, q: db.Pool} }

// Accounts returns the account repository bound to this store's connection.
func (s *Store) Accounts() repository.AccountRepository { return &AccountRepo{q: s.q} }

// Tokens returns the token repository bound to this store's connection.
func (s *Store) Tokens() repository.TokenRepository { return &TokenRepo{q: s.q} }

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error { return s.db.Pool.Ping(ctx) }

// WithTx runs fn in a READ COMMITTED transaction. Nested calls reuse the outer one.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	return fn(&Store{db: s.db, q: tx, inTx: true})
}
