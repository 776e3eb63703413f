package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoginState is a one-time PKCE state row for an in-flight provider login.
type LoginState struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	State        string    `json:"state" gorm:"uniqueIndex;not null"`
	Provider     string    `json:"provider" gorm:"not null"`
	CodeVerifier string    `json:"-" gorm:"not null"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"index;not null"`
}

// TableName specifies the table name for LoginState.
func (LoginState) TableName() string {
	return "login_states"
}

// BeforeCreate assigns an id when the caller did not.
func (s *LoginState) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
