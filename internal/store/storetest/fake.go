// Package storetest provides an in-memory store.Store for tests. It
// enforces the same uniqueness constraints as the postgres schema and
// exposes error-injection fields for failure paths.
package storetest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skylog-io/skylog/internal/models"
	"github.com/skylog-io/skylog/internal/store"
)

// Fake is a mutex-guarded map-backed store.Store.
type Fake struct {
	mu sync.RWMutex

	accounts    map[uuid.UUID]models.Account
	links       map[uuid.UUID]models.IdentityLink
	tokens      map[uuid.UUID]models.RefreshToken
	states      map[string]models.LoginState
	records     map[uuid.UUID]models.Record

	// Error injection. When set, the matching method fails with the value.
	CreateAccountErr      error
	CreateIdentityLinkErr error
	CreateRefreshTokenErr error
}

// New returns an empty fake store.
func New() *Fake {
	return &Fake{
		accounts: make(map[uuid.UUID]models.Account),
		links:    make(map[uuid.UUID]models.IdentityLink),
		tokens:   make(map[uuid.UUID]models.RefreshToken),
		states:   make(map[string]models.LoginState),
		records:  make(map[uuid.UUID]models.Record),
	}
}

// Transaction runs fn against the same fake. Rollback is not simulated;
// tests that need failure atomicity assert on the gorm store instead.
func (f *Fake) Transaction(ctx context.Context, fn func(store.Store) error) error {
	return fn(f)
}

func (f *Fake) AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if a, ok := f.accounts[id]; ok {
		cp := a
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *Fake) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range f.accounts {
		if a.Email == email {
			cp := a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *Fake) CreateAccount(ctx context.Context, account *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateAccountErr != nil {
		return f.CreateAccountErr
	}
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	for _, a := range f.accounts {
		if a.Email == account.Email {
			return store.ErrDuplicate
		}
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	f.accounts[account.ID] = *account
	return nil
}

func (f *Fake) UpdateAccount(ctx context.Context, account *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[account.ID]; !ok {
		return store.ErrNotFound
	}
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	f.accounts[account.ID] = *account
	return nil
}

func (f *Fake) TouchAccount(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.LastActiveAt = at
	f.accounts[id] = a
	return nil
}

func (f *Fake) IncrementRecordStats(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.RecordCount++
	a.LastRecordAt = &at
	f.accounts[id] = a
	return nil
}

func (f *Fake) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.accounts, id)
	for lid, l := range f.links {
		if l.AccountID == id {
			delete(f.links, lid)
		}
	}
	for tid, t := range f.tokens {
		if t.AccountID == id {
			delete(f.tokens, tid)
		}
	}
	for rid, r := range f.records {
		if r.AccountID == id {
			delete(f.records, rid)
		}
	}
	return nil
}

func (f *Fake) IdentityLinkBySubject(ctx context.Context, provider, subject string) (*models.IdentityLink, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, l := range f.links {
		if l.Provider == provider && l.Subject == subject {
			cp := l
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *Fake) CreateIdentityLink(ctx context.Context, link *models.IdentityLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateIdentityLinkErr != nil {
		return f.CreateIdentityLinkErr
	}
	for _, l := range f.links {
		if l.Provider == link.Provider && l.Subject == link.Subject {
			return store.ErrDuplicate
		}
		if l.Provider == link.Provider && l.AccountID == link.AccountID {
			return store.ErrDuplicate
		}
	}
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	f.links[link.ID] = *link
	return nil
}

func (f *Fake) TouchIdentityLink(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.links[id]
	if !ok {
		return store.ErrNotFound
	}
	l.LastLoginAt = at
	f.links[id] = l
	return nil
}

func (f *Fake) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateRefreshTokenErr != nil {
		return f.CreateRefreshTokenErr
	}
	if _, ok := f.tokens[token.ID]; ok {
		return store.ErrDuplicate
	}
	f.tokens[token.ID] = *token
	return nil
}

func (f *Fake) RefreshTokenByID(ctx context.Context, id uuid.UUID) (*models.RefreshToken, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if t, ok := f.tokens[id]; ok {
		cp := t
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *Fake) DeleteRefreshToken(ctx context.Context, accountID, id uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[id]
	if !ok || t.AccountID != accountID {
		return 0, nil
	}
	delete(f.tokens, id)
	return 1, nil
}

func (f *Fake) DeleteAccountRefreshTokens(ctx context.Context, accountID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, t := range f.tokens {
		if t.AccountID == accountID {
			delete(f.tokens, id)
			n++
		}
	}
	return n, nil
}

func (f *Fake) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, t := range f.tokens {
		if t.ExpiresAt.Before(now) {
			delete(f.tokens, id)
			n++
		}
	}
	return n, nil
}

func (f *Fake) CreateLoginState(ctx context.Context, state *models.LoginState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.states[state.State]; ok {
		return store.ErrDuplicate
	}
	if state.ID == uuid.Nil {
		state.ID = uuid.New()
	}
	f.states[state.State] = *state
	return nil
}

func (f *Fake) ConsumeLoginState(ctx context.Context, state string, now time.Time) (*models.LoginState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.states[state]
	if !ok || row.ExpiresAt.Before(now) {
		return nil, store.ErrNotFound
	}
	delete(f.states, state)
	cp := row
	return &cp, nil
}

func (f *Fake) DeleteExpiredLoginStates(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for s, row := range f.states {
		if row.ExpiresAt.Before(now) {
			delete(f.states, s)
			n++
		}
	}
	return n, nil
}

func (f *Fake) CreateRecord(ctx context.Context, record *models.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	f.records[record.ID] = *record
	return nil
}

func (f *Fake) RecordByID(ctx context.Context, accountID, id uuid.UUID) (*models.Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.records[id]; ok && r.AccountID == accountID {
		cp := r
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *Fake) ListRecords(ctx context.Context, accountID uuid.UUID) ([]models.Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []models.Record
	for _, r := range f.records {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *Fake) DeleteRecord(ctx context.Context, accountID, id uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.AccountID != accountID {
		return 0, nil
	}
	delete(f.records, id)
	return 1, nil
}

// RefreshTokenCount reports how many refresh tokens are stored for an
// account; handy for assertions.
func (f *Fake) RefreshTokenCount(accountID uuid.UUID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, t := range f.tokens {
		if t.AccountID == accountID {
			n++
		}
	}
	return n
}
