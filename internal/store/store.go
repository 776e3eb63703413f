package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/skylog-io/skylog/internal/models"
)

// Sentinel errors shared by every Store implementation.
var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint. Callers treat it as "another writer won the race".
	ErrDuplicate = errors.New("store: duplicate key")
)

// Store is the credential store: the only shared mutable state in the
// system. All account, link, token and record mutation goes through it.
// Implementations must be safe for concurrent use.
type Store interface {
	// Transaction runs fn against a store bound to a single transaction.
	// A non-nil error from fn rolls everything back.
	Transaction(ctx context.Context, fn func(Store) error) error

	AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	AccountByEmail(ctx context.Context, email string) (*models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	UpdateAccount(ctx context.Context, account *models.Account) error
	// TouchAccount stamps the account's last-active time.
	TouchAccount(ctx context.Context, id uuid.UUID, at time.Time) error
	// IncrementRecordStats bumps the denormalized usage counters.
	IncrementRecordStats(ctx context.Context, id uuid.UUID, at time.Time) error
	// DeleteAccount removes the account and everything it owns.
	DeleteAccount(ctx context.Context, id uuid.UUID) error

	IdentityLinkBySubject(ctx context.Context, provider, subject string) (*models.IdentityLink, error)
	CreateIdentityLink(ctx context.Context, link *models.IdentityLink) error
	// TouchIdentityLink stamps the link's last-login time.
	TouchIdentityLink(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	RefreshTokenByID(ctx context.Context, id uuid.UUID) (*models.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, accountID, id uuid.UUID) (int64, error)
	DeleteAccountRefreshTokens(ctx context.Context, accountID uuid.UUID) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)

	CreateLoginState(ctx context.Context, state *models.LoginState) error
	// ConsumeLoginState returns and deletes an unexpired state row; states
	// are strictly one-time use.
	ConsumeLoginState(ctx context.Context, state string, now time.Time) (*models.LoginState, error)
	DeleteExpiredLoginStates(ctx context.Context, now time.Time) (int64, error)

	CreateRecord(ctx context.Context, record *models.Record) error
	RecordByID(ctx context.Context, accountID, id uuid.UUID) (*models.Record, error)
	ListRecords(ctx context.Context, accountID uuid.UUID) ([]models.Record, error)
	DeleteRecord(ctx context.Context, accountID, id uuid.UUID) (int64, error)
}
