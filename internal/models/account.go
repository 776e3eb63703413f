package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AccountStatus gates all authorization: only active accounts may
// authenticate.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusInactive  AccountStatus = "inactive"
	StatusSuspended AccountStatus = "suspended"
	StatusPending   AccountStatus = "pending"
)

// Account represents a local user account. Email is globally unique and
// stored lower-cased.
type Account struct {
	ID          uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	Email       string        `json:"email" gorm:"uniqueIndex;not null"`
	DisplayName string        `json:"display_name"`
	Picture     string        `json:"picture"`
	Units       string        `json:"units" gorm:"default:metric"`
	HomePlace   string        `json:"home_place"`
	Status      AccountStatus `json:"status" gorm:"type:varchar(16);default:active;not null"`

	// PasswordHash backs the local-credential data model; no login flow
	// exercises it.
	PasswordHash *string `json:"-"`

	RecordCount  int64      `json:"record_count" gorm:"default:0"`
	LastRecordAt *time.Time `json:"last_record_at,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`

	Links         []IdentityLink `json:"-" gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
	RefreshTokens []RefreshToken `json:"-" gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
	Records       []Record       `json:"-" gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for Account.
func (Account) TableName() string {
	return "accounts"
}

// BeforeCreate assigns an id when the caller did not.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// IsActive reports whether the account may authenticate.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// HasPassword reports whether a local credential exists for this account.
func (a *Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// SetPassword stores a bcrypt hash of the given password.
func (a *Account) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s := string(hash)
	a.PasswordHash = &s
	return nil
}

// CheckPassword verifies a password against the stored hash.
func (a *Account) CheckPassword(password string) bool {
	if !a.HasPassword() {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*a.PasswordHash), []byte(password)) == nil
}
