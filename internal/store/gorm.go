package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/skylog-io/skylog/internal/models"
)

// Gorm is the postgres-backed Store. It relies on gorm's TranslateError
// option so uniqueness violations surface as ErrDuplicate.
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps a connected gorm handle.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

// Transaction runs fn against a transaction-bound store.
func (s *Gorm) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx})
	})
}

func (s *Gorm) AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

func (s *Gorm) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).First(&account, "email = ?", normalizeEmail(email)).Error
	if err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

func (s *Gorm) CreateAccount(ctx context.Context, account *models.Account) error {
	account.Email = normalizeEmail(account.Email)
	return translate(s.db.WithContext(ctx).Create(account).Error)
}

func (s *Gorm) UpdateAccount(ctx context.Context, account *models.Account) error {
	account.Email = normalizeEmail(account.Email)
	return translate(s.db.WithContext(ctx).Save(account).Error)
}

func (s *Gorm) TouchAccount(ctx context.Context, id uuid.UUID, at time.Time) error {
	return translate(s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Update("last_active_at", at).Error)
}

func (s *Gorm) IncrementRecordStats(ctx context.Context, id uuid.UUID, at time.Time) error {
	return translate(s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"record_count":   gorm.Expr("record_count + 1"),
			"last_record_at": at,
		}).Error)
}

func (s *Gorm) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	// Child rows cascade at the schema level; delete them here as well so
	// the behavior does not depend on the constraint being present.
	return s.Transaction(ctx, func(tx Store) error {
		g := tx.(*Gorm)
		if err := g.db.WithContext(ctx).Where("account_id = ?", id).Delete(&models.RefreshToken{}).Error; err != nil {
			return translate(err)
		}
		if err := g.db.WithContext(ctx).Where("account_id = ?", id).Delete(&models.IdentityLink{}).Error; err != nil {
			return translate(err)
		}
		if err := g.db.WithContext(ctx).Where("account_id = ?", id).Delete(&models.Record{}).Error; err != nil {
			return translate(err)
		}
		return translate(g.db.WithContext(ctx).Delete(&models.Account{}, "id = ?", id).Error)
	})
}

func (s *Gorm) IdentityLinkBySubject(ctx context.Context, provider, subject string) (*models.IdentityLink, error) {
	var link models.IdentityLink
	err := s.db.WithContext(ctx).
		First(&link, "provider = ? AND subject = ?", provider, subject).Error
	if err != nil {
		return nil, translate(err)
	}
	return &link, nil
}

func (s *Gorm) CreateIdentityLink(ctx context.Context, link *models.IdentityLink) error {
	return translate(s.db.WithContext(ctx).Create(link).Error)
}

func (s *Gorm) TouchIdentityLink(ctx context.Context, id uuid.UUID, at time.Time) error {
	return translate(s.db.WithContext(ctx).
		Model(&models.IdentityLink{}).
		Where("id = ?", id).
		Update("last_login_at", at).Error)
}

func (s *Gorm) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	return translate(s.db.WithContext(ctx).Create(token).Error)
}

func (s *Gorm) RefreshTokenByID(ctx context.Context, id uuid.UUID) (*models.RefreshToken, error) {
	var token models.RefreshToken
	err := s.db.WithContext(ctx).First(&token, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &token, nil
}

func (s *Gorm) DeleteRefreshToken(ctx context.Context, accountID, id uuid.UUID) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, id).
		Delete(&models.RefreshToken{})
	return result.RowsAffected, translate(result.Error)
}

func (s *Gorm) DeleteAccountRefreshTokens(ctx context.Context, accountID uuid.UUID) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&models.RefreshToken{})
	return result.RowsAffected, translate(result.Error)
}

func (s *Gorm) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.RefreshToken{})
	return result.RowsAffected, translate(result.Error)
}

func (s *Gorm) CreateLoginState(ctx context.Context, state *models.LoginState) error {
	return translate(s.db.WithContext(ctx).Create(state).Error)
}

func (s *Gorm) ConsumeLoginState(ctx context.Context, state string, now time.Time) (*models.LoginState, error) {
	// Single DELETE ... RETURNING so two concurrent callbacks presenting
	// the same state cannot both consume it.
	var row models.LoginState
	result := s.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("state = ? AND expires_at > ?", state, now).
		Delete(&row)
	if result.Error != nil {
		return nil, translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (s *Gorm) DeleteExpiredLoginStates(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.LoginState{})
	return result.RowsAffected, translate(result.Error)
}

func (s *Gorm) CreateRecord(ctx context.Context, record *models.Record) error {
	return translate(s.db.WithContext(ctx).Create(record).Error)
}

func (s *Gorm) RecordByID(ctx context.Context, accountID, id uuid.UUID) (*models.Record, error) {
	var record models.Record
	err := s.db.WithContext(ctx).
		First(&record, "account_id = ? AND id = ?", accountID, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &record, nil
}

func (s *Gorm) ListRecords(ctx context.Context, accountID uuid.UUID) ([]models.Record, error) {
	var records []models.Record
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("observed_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, translate(err)
	}
	return records, nil
}

func (s *Gorm) DeleteRecord(ctx context.Context, accountID, id uuid.UUID) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("account_id = ? AND id = ?", accountID, id).
		Delete(&models.Record{})
	return result.RowsAffected, translate(result.Error)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
