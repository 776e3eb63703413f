// Package identity maps verified external identity assertions to local
// accounts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skylog-io/skylog/internal/models"
	"github.com/skylog-io/skylog/internal/store"
)

// Assertion is what an external provider vouched for after its consent
// flow: a stable subject id plus denormalized profile claims.
type Assertion struct {
	Provider string
	Subject  string
	Email    string
	Name     string
	Picture  string
	Verified bool
}

func (a Assertion) validate() error {
	if a.Provider == "" || a.Subject == "" {
		return errors.New("identity: assertion missing provider or subject")
	}
	if a.Email == "" {
		return errors.New("identity: assertion missing email")
	}
	return nil
}

// Resolver finds or creates the local account for an assertion. It holds no
// locks; correctness under concurrent logins comes from the store's
// uniqueness constraints and the duplicate-key retry below.
type Resolver struct {
	store store.Store
	log   *zap.Logger
}

// NewResolver returns a resolver bound to the given store.
func NewResolver(s store.Store, log *zap.Logger) *Resolver {
	return &Resolver{store: s, log: log}
}

// Resolve returns the account for an assertion, creating or linking as
// needed. The boolean is true when a new account was created.
//
// Lookup order is deliberate: a provider-subject match wins over an email
// match, so an email change at the provider does not sever an existing
// binding.
func (r *Resolver) Resolve(ctx context.Context, a Assertion) (*models.Account, bool, error) {
	if err := a.validate(); err != nil {
		return nil, false, err
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	now := time.Now().UTC()

	// Returning user: the provider already vouched for this subject.
	link, err := r.store.IdentityLinkBySubject(ctx, a.Provider, a.Subject)
	if err == nil {
		account, err := r.store.AccountByID(ctx, link.AccountID)
		if err != nil {
			return nil, false, fmt.Errorf("identity: link %s points at missing account: %w", link.ID, err)
		}
		if err := r.store.TouchIdentityLink(ctx, link.ID, now); err != nil {
			return nil, false, err
		}
		r.log.Info("login resolved",
			zap.String("provider", a.Provider),
			zap.String("account_id", account.ID.String()))
		return account, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	// Known email, new provider: attach a link to the existing account.
	account, err := r.store.AccountByEmail(ctx, a.Email)
	if err == nil {
		if err := r.link(ctx, account, a, now); err != nil {
			return nil, false, err
		}
		return account, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	// First login anywhere: create the account. A duplicate-key failure
	// means another resolver won the race for this email; retry as lookup.
	account, err = r.create(ctx, a, now)
	if err == nil {
		return account, true, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return nil, false, err
	}

	account, err = r.store.AccountByEmail(ctx, a.Email)
	if err != nil {
		return nil, false, fmt.Errorf("identity: lost creation race but email lookup failed: %w", err)
	}
	if err := r.link(ctx, account, a, now); err != nil {
		return nil, false, err
	}
	return account, false, nil
}

func (r *Resolver) create(ctx context.Context, a Assertion, now time.Time) (*models.Account, error) {
	account := &models.Account{
		Email:        a.Email,
		DisplayName:  a.Name,
		Picture:      a.Picture,
		Status:       models.StatusActive,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	// The inserts run in their own nested transaction: inside an already
	// open postgres transaction that is a savepoint, so a duplicate-key
	// failure aborts only the inserts and the retry lookup in Resolve can
	// still run.
	err := r.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.CreateAccount(ctx, account); err != nil {
			return err
		}
		return tx.CreateIdentityLink(ctx, newLink(account.ID, a, now))
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("account created",
		zap.String("account_id", account.ID.String()),
		zap.String("provider", a.Provider))
	return account, nil
}

// link attaches a's provider identity to an existing account. If the link
// itself loses a race it falls back to touching the winner's row. The
// insert gets its own savepoint for the same reason create does.
func (r *Resolver) link(ctx context.Context, account *models.Account, a Assertion, now time.Time) error {
	l := newLink(account.ID, a, now)
	err := r.store.Transaction(ctx, func(tx store.Store) error {
		return tx.CreateIdentityLink(ctx, l)
	})
	if err == nil {
		r.log.Info("identity linked",
			zap.String("account_id", account.ID.String()),
			zap.String("provider", a.Provider))
		return nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return err
	}
	existing, lookupErr := r.store.IdentityLinkBySubject(ctx, a.Provider, a.Subject)
	if lookupErr != nil {
		return err
	}
	return r.store.TouchIdentityLink(ctx, existing.ID, now)
}

func newLink(accountID uuid.UUID, a Assertion, now time.Time) *models.IdentityLink {
	return &models.IdentityLink{
		AccountID:   accountID,
		Provider:    a.Provider,
		Subject:     a.Subject,
		Email:       a.Email,
		Name:        a.Name,
		Picture:     a.Picture,
		Verified:    a.Verified,
		LastLoginAt: now,
		CreatedAt:   now,
	}
}
