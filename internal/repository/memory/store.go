// Package memory is an in-process repository.Store used by tests and by the
// server when no database DSN is configured.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/and161185/goph-auth/internal/errs"
	"github.com/and161185/goph-auth/internal/model"
	"github.com/and161185/goph-auth/internal/repository"
	"github.com/gofrs/uuid/v5"
)

type data struct {
	accounts map[uuid.UUID]model.Account
	emails   map[string]uuid.UUID
	tokens   map[uuid.UUID]model.TokenRecord
	hashes   map[string]uuid.UUID
	seq      map[uuid.UUID]uint64
	next     uint64
}

func (d *data) clone() *data {
	return &data{
		accounts: maps.Clone(d.accounts),
		emails:   maps.Clone(d.emails),
		tokens:   maps.Clone(d.tokens),
		hashes:   maps.Clone(d.hashes),
		seq:      maps.Clone(d.seq),
		next:     d.next,
	}
}

// Store keeps everything in maps guarded by one mutex. A transaction holds the
// mutex for its whole duration, so transactions are serializable.
type Store struct {
	mu   *sync.Mutex
	d    **data
	inTx bool
	now  func() time.Time
}

// New returns an empty store.
func New() *Store {
	d := &data{
		accounts: make(map[uuid.UUID]model.Account),
		emails:   make(map[string]uuid.UUID),
		tokens:   make(map[uuid.UUID]model.TokenRecord),
		hashes:   make(map[string]uuid.UUID),
		seq:      make(map[uuid.UUID]uint64),
	}
	return &Store{mu: &sync.Mutex{}, d: &d, now: time.Now}
}

// SetClock overrides the clock used for updated_at stamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Accounts() repository.AccountRepository { return accountRepo{s} }
func (s *Store) Tokens() repository.TokenRepository     { return tokenRepo{s} }
func (s *Store) Ping(ctx context.Context) error         { return ctx.Err() }

// WithTx runs fn under the store lock against a snapshot and restores the
// snapshot if fn fails or panics.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := (*s.d).clone()
	defer func() {
		if p := recover(); p != nil {
			*s.d = snapshot
			panic(p)
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			*s.d = snapshot
		}
	}()
	return fn(&Store{mu: s.mu, d: s.d, inTx: true, now: s.now})
}

type accountRepo struct{ s *Store }

func (r accountRepo) Create(_ context.Context, a *model.Account) error {
	defer r.s.lock()()
	d := *r.s.d
	key := strings.ToLower(a.Email)
	if _, ok := d.emails[key]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := d.accounts[a.ID]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *a
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	d.accounts[a.ID] = cp
	d.emails[key] = a.ID
	return nil
}

func (r accountRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	defer r.s.lock()()
	a, ok := (*r.s.d).accounts[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

// GetByIDForUpdate needs no row lock: transactions already hold the store mutex.
func (r accountRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return r.GetByID(ctx, id)
}

func (r accountRepo) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	defer r.s.lock()()
	d := *r.s.d
	id, ok := d.emails[strings.ToLower(email)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	a := d.accounts[id]
	return &a, nil
}

func (r accountRepo) Update(_ context.Context, id uuid.UUID, upd model.AccountUpdate) error {
	defer r.s.lock()()
	d := *r.s.d
	a, ok := d.accounts[id]
	if !ok {
		return errs.ErrNotFound
	}
	if upd.PasswordHash != nil {
		a.PasswordHash = *upd.PasswordHash
	}
	if upd.VerifiedAt != nil {
		t := *upd.VerifiedAt
		a.VerifiedAt = &t
	}
	if upd.LastLogin != nil {
		t := *upd.LastLogin
		a.LastLogin = &t
	}
	if upd.IsActive != nil {
		a.IsActive = *upd.IsActive
	}
	if upd.DisplayName != nil {
		a.DisplayName = *upd.DisplayName
	}
	a.UpdatedAt = r.s.now()
	d.accounts[id] = a
	return nil
}

func (r accountRepo) SetVerifiedIfUnset(_ context.Context, id uuid.UUID, at time.Time) error {
	defer r.s.lock()()
	d := *r.s.d
	a, ok := d.accounts[id]
	if !ok || a.VerifiedAt != nil {
		return nil
	}
	a.VerifiedAt = &at
	a.UpdatedAt = r.s.now()
	d.accounts[id] = a
	return nil
}

func (r accountRepo) IncrementTokenVersion(_ context.Context, id uuid.UUID) (int64, error) {
	defer r.s.lock()()
	d := *r.s.d
	a, ok := d.accounts[id]
	if !ok {
		return 0, errs.ErrNotFound
	}
	a.TokenVersion++
	a.UpdatedAt = r.s.now()
	d.accounts[id] = a
	return a.TokenVersion, nil
}

type tokenRepo struct{ s *Store }

func (r tokenRepo) Create(_ context.Context, rec *model.TokenRecord) error {
	if !rec.Type.Stored() {
		return fmt.Errorf("token type %q is not stored", rec.Type)
	}
	defer r.s.lock()()
	d := *r.s.d
	if _, ok := d.hashes[rec.TokenHash]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := d.tokens[rec.ID]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *rec
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	d.next++
	d.tokens[rec.ID] = cp
	d.hashes[rec.TokenHash] = rec.ID
	d.seq[rec.ID] = d.next
	return nil
}

func (r tokenRepo) FindByHash(_ context.Context, hash string) (*model.TokenRecord, error) {
	defer r.s.lock()()
	d := *r.s.d
	id, ok := d.hashes[hash]
	if !ok {
		return nil, errs.ErrNotFound
	}
	rec := d.tokens[id]
	return &rec, nil
}

func (r tokenRepo) FindByAccountAndType(_ context.Context, accountID uuid.UUID, typ model.TokenType) ([]model.TokenRecord, error) {
	defer r.s.lock()()
	return (*r.s.d).byAccountAndType(accountID, typ, false), nil
}

// byAccountAndType returns matching records newest first; insertion order breaks ties.
func (d *data) byAccountAndType(accountID uuid.UUID, typ model.TokenType, activeOnly bool) []model.TokenRecord {
	var out []model.TokenRecord
	for _, rec := range d.tokens {
		if rec.AccountID != accountID || rec.Type != typ {
			continue
		}
		if activeOnly && rec.Blacklisted {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return d.seq[out[i].ID] > d.seq[out[j].ID]
	})
	return out
}

func (r tokenRepo) MarkBlacklisted(_ context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	d := *r.s.d
	rec, ok := d.tokens[id]
	if !ok {
		return errs.ErrNotFound
	}
	rec.Blacklisted = true
	rec.UpdatedAt = r.s.now()
	d.tokens[id] = rec
	return nil
}

func (r tokenRepo) ConsumeIfActive(_ context.Context, id uuid.UUID) (bool, error) {
	defer r.s.lock()()
	d := *r.s.d
	rec, ok := d.tokens[id]
	if !ok || rec.Blacklisted {
		return false, nil
	}
	rec.Blacklisted = true
	rec.UpdatedAt = r.s.now()
	d.tokens[id] = rec
	return true, nil
}

func (r tokenRepo) BlacklistAll(_ context.Context, accountID uuid.UUID, typ model.TokenType) (int64, error) {
	defer r.s.lock()()
	d := *r.s.d
	return d.blacklist(d.byAccountAndType(accountID, typ, true), r.s.now()), nil
}

func (r tokenRepo) BlacklistExcess(_ context.Context, accountID uuid.UUID, typ model.TokenType, keep int) (int64, error) {
	defer r.s.lock()()
	d := *r.s.d
	active := d.byAccountAndType(accountID, typ, true)
	if keep < 0 {
		keep = 0
	}
	if len(active) <= keep {
		return 0, nil
	}
	return d.blacklist(active[keep:], r.s.now()), nil
}

func (d *data) blacklist(recs []model.TokenRecord, now time.Time) int64 {
	for _, rec := range recs {
		rec.Blacklisted = true
		rec.UpdatedAt = now
		d.tokens[rec.ID] = rec
	}
	return int64(len(recs))
}

func (r tokenRepo) Update(_ context.Context, id uuid.UUID, upd model.TokenUpdate) error {
	defer r.s.lock()()
	d := *r.s.d
	rec, ok := d.tokens[id]
	if !ok {
		return errs.ErrNotFound
	}
	if upd.ExpiresAt != nil {
		rec.ExpiresAt = *upd.ExpiresAt
	}
	if upd.Blacklisted != nil && *upd.Blacklisted {
		rec.Blacklisted = true
	}
	rec.UpdatedAt = r.s.now()
	d.tokens[id] = rec
	return nil
}
