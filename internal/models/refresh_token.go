package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the persisted side of a refresh credential. The token
// string itself is never stored; only its SHA-256 digest is. A refresh token
// whose row is absent is revoked no matter how valid its signature is.
type RefreshToken struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"` // jti claim
	AccountID uuid.UUID `json:"account_id" gorm:"type:uuid;index;not null"`
	TokenHash string    `json:"-" gorm:"not null"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index;not null"`
}

// TableName specifies the table name for RefreshToken.
func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// IsExpired checks the token's absolute expiry against the given clock.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}
