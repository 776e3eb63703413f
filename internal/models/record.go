package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Record is one weather observation owned by an account. Aggregation and
// upstream weather data live outside this service.
type Record struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID `json:"account_id" gorm:"type:uuid;index;not null"`

	Title        string   `json:"title" gorm:"not null"`
	Notes        string   `json:"notes"`
	Place        string   `json:"place"`
	Conditions   string   `json:"conditions"`
	TemperatureC *float64 `json:"temperature_c,omitempty"`

	ObservedAt time.Time `json:"observed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for Record.
func (Record) TableName() string {
	return "records"
}

// BeforeCreate assigns an id when the caller did not.
func (r *Record) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
