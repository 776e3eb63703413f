package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Known external identity providers.
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// IdentityLink binds an external provider identity to a local account.
// (Provider, Subject) is unique across the system; an account holds at most
// one link per provider.
type IdentityLink struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID `json:"account_id" gorm:"type:uuid;index;not null;uniqueIndex:idx_links_account_provider,priority:1"`
	Provider  string    `json:"provider" gorm:"not null;uniqueIndex:idx_links_provider_subject,priority:1;uniqueIndex:idx_links_account_provider,priority:2"`
	Subject   string    `json:"subject" gorm:"not null;uniqueIndex:idx_links_provider_subject,priority:2"`

	// Denormalized copy of what the provider asserted at link time.
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`

	Verified    bool      `json:"verified"`
	LastLoginAt time.Time `json:"last_login_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for IdentityLink.
func (IdentityLink) TableName() string {
	return "identity_links"
}

// BeforeCreate assigns an id when the caller did not.
func (l *IdentityLink) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
