package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string    `gorm:"size:100;not null" json:"name"`
	Email        string    `gorm:"size:255;not null;uniqueIndex:users_email_key" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	IsActive     *bool     `json:"is_active,omitempty"`
	IsVerified   *bool     `json:"is_verified,omitempty"`
	CreatedAt    time.Time `gorm:"<-:create" json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BeforeCreate assigns the identifier when the caller left it empty.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
