package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skylog-io/skylog/internal/models"
	"github.com/skylog-io/skylog/internal/store"
	"github.com/skylog-io/skylog/internal/store/storetest"
)

func googleAssertion() Assertion {
	return Assertion{
		Provider: models.ProviderGoogle,
		Subject:  "g1",
		Email:    "a@x.com",
		Name:     "Ada",
		Picture:  "https://img.example/ada.png",
		Verified: true,
	}
}

func TestResolveCreatesAccountOnFirstLogin(t *testing.T) {
	fake := storetest.New()
	r := NewResolver(fake, zap.NewNop())

	account, isNew, err := r.Resolve(context.Background(), googleAssertion())
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "a@x.com", account.Email)
	assert.Equal(t, models.StatusActive, account.Status)
	assert.EqualValues(t, 0, account.RecordCount)

	link, err := fake.IdentityLinkBySubject(context.Background(), models.ProviderGoogle, "g1")
	require.NoError(t, err)
	assert.Equal(t, account.ID, link.AccountID)
	assert.True(t, link.Verified)
}

func TestResolveReturnsSameAccountForSameSubject(t *testing.T) {
	fake := storetest.New()
	r := NewResolver(fake, zap.NewNop())
	ctx := context.Background()

	first, isNew, err := r.Resolve(ctx, googleAssertion())
	require.NoError(t, err)
	require.True(t, isNew)

	second, isNew, err := r.Resolve(ctx, googleAssertion())
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveSubjectMatchWinsOverEmailChange(t *testing.T) {
	fake := storetest.New()
	r := NewResolver(fake, zap.NewNop())
	ctx := context.Background()

	first, _, err := r.Resolve(ctx, googleAssertion())
	require.NoError(t, err)

	// Same subject comes back with a different email; the binding holds.
	changed := googleAssertion()
	changed.Email = "renamed@x.com"
	second, isNew, err := r.Resolve(ctx, changed)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveLinksKnownEmailFromNewProvider(t *testing.T) {
	fake := storetest.New()
	r := NewResolver(fake, zap.NewNop())
	ctx := context.Background()

	first, _, err := r.Resolve(ctx, googleAssertion())
	require.NoError(t, err)

	github := Assertion{
		Provider: models.ProviderGitHub,
		Subject:  "h1",
		Email:    "A@X.com", // case must not matter
		Name:     "ada",
	}
	second, isNew, err := r.Resolve(ctx, github)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)

	link, err := fake.IdentityLinkBySubject(ctx, models.ProviderGitHub, "h1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, link.AccountID)
}

func TestResolveRetriesCreationRaceAsLinking(t *testing.T) {
	fake := storetest.New()
	ctx := context.Background()

	// The "other" resolver instance already created the account.
	winner := &models.Account{Email: "a@x.com", Status: models.StatusActive}
	require.NoError(t, fake.CreateAccount(ctx, winner))

	// This instance saw neither the link nor the email, then hit the
	// uniqueness constraint on create.
	fake.CreateAccountErr = store.ErrDuplicate
	r := NewResolver(&raceStore{Fake: fake, hideEmailOnce: true}, zap.NewNop())

	account, isNew, err := r.Resolve(ctx, googleAssertion())
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, winner.ID, account.ID)

	link, err := fake.IdentityLinkBySubject(ctx, models.ProviderGoogle, "g1")
	require.NoError(t, err)
	assert.Equal(t, winner.ID, link.AccountID)
}

func TestResolveRejectsIncompleteAssertion(t *testing.T) {
	r := NewResolver(storetest.New(), zap.NewNop())

	_, _, err := r.Resolve(context.Background(), Assertion{Provider: "google"})
	assert.Error(t, err)

	_, _, err = r.Resolve(context.Background(), Assertion{Provider: "google", Subject: "g1"})
	assert.Error(t, err)
}

func TestResolveRetrySurvivesTransactionAbort(t *testing.T) {
	fake := storetest.New()
	ctx := context.Background()

	winner := &models.Account{Email: "a@x.com", Status: models.StatusActive}
	require.NoError(t, fake.CreateAccount(ctx, winner))

	st := &abortStore{Fake: fake, hideEmailOnce: true}

	// The losing login runs inside one enclosing transaction, exactly like
	// the session bridge. The duplicate-key failure must not poison the
	// statements the retry needs.
	var account *models.Account
	err := st.Transaction(ctx, func(tx store.Store) error {
		var isNew bool
		var err error
		account, isNew, err = NewResolver(tx, zap.NewNop()).Resolve(ctx, googleAssertion())
		if err != nil {
			return err
		}
		assert.False(t, isNew)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, winner.ID, account.ID)

	link, err := fake.IdentityLinkBySubject(ctx, models.ProviderGoogle, "g1")
	require.NoError(t, err)
	assert.Equal(t, winner.ID, link.AccountID)
}

// raceStore hides the winner's account from the first email lookup so the
// resolver takes the create path and collides, exactly like two concurrent
// first logins.
type raceStore struct {
	*storetest.Fake
	hideEmailOnce bool
}

func (r *raceStore) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	if r.hideEmailOnce {
		r.hideEmailOnce = false
		return nil, store.ErrNotFound
	}
	return r.Fake.AccountByEmail(ctx, email)
}

var errTxAborted = errors.New("current transaction is aborted, commands ignored until end of transaction block")

// abortStore mimics postgres transaction semantics over the fake: once any
// statement fails, every later statement errors until a rollback. A nested
// Transaction acts as a savepoint, clearing the abort when its fn fails.
type abortStore struct {
	*storetest.Fake
	aborted       bool
	hideEmailOnce bool
}

func (s *abortStore) Transaction(ctx context.Context, fn func(store.Store) error) error {
	if s.aborted {
		return errTxAborted
	}
	err := fn(s)
	if err != nil {
		s.aborted = false
	}
	return err
}

func (s *abortStore) guard(err error) error {
	if err != nil {
		s.aborted = true
	}
	return err
}

func (s *abortStore) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	if s.aborted {
		return nil, errTxAborted
	}
	if s.hideEmailOnce {
		s.hideEmailOnce = false
		return nil, store.ErrNotFound
	}
	return s.Fake.AccountByEmail(ctx, email)
}

func (s *abortStore) AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if s.aborted {
		return nil, errTxAborted
	}
	return s.Fake.AccountByID(ctx, id)
}

func (s *abortStore) CreateAccount(ctx context.Context, account *models.Account) error {
	if s.aborted {
		return errTxAborted
	}
	return s.guard(s.Fake.CreateAccount(ctx, account))
}

func (s *abortStore) CreateIdentityLink(ctx context.Context, link *models.IdentityLink) error {
	if s.aborted {
		return errTxAborted
	}
	return s.guard(s.Fake.CreateIdentityLink(ctx, link))
}

func (s *abortStore) IdentityLinkBySubject(ctx context.Context, provider, subject string) (*models.IdentityLink, error) {
	if s.aborted {
		return nil, errTxAborted
	}
	return s.Fake.IdentityLinkBySubject(ctx, provider, subject)
}

func (s *abortStore) TouchIdentityLink(ctx context.Context, id uuid.UUID, at time.Time) error {
	if s.aborted {
		return errTxAborted
	}
	return s.Fake.TouchIdentityLink(ctx, id, at)
}
