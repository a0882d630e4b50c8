package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a local operator account. Authentication works fully offline
// against the stored bcrypt hash.
type User struct {
	LocalID      uint   `gorm:"primaryKey" json:"localId"`
	Username     string `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"type:varchar(255);not null" json:"-"`
	DisplayName  string `gorm:"type:varchar(255)" json:"displayName"`
	Role         string `gorm:"type:varchar(30);default:'operator'" json:"role"`
	IsActive     bool   `gorm:"default:true" json:"isActive"`

	SyncMeta  `gorm:"embedded"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) GetLocalID() uint {
	return u.LocalID
}

func (User) EntityKind() EntityType {
	return EntityUser
}

// SetPassword hashes and stores the given plain-text password.
func (u *User) SetPassword(plain string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies a plain-text password against the stored hash.
func (u *User) CheckPassword(plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plain)) == nil
}
