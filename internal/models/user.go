package models

import (
	"time"
)

// User is the owner of a wallet balance. Balance is stored in minor
// currency units (CLP) and is only ever mutated by the ledger service
// inside a row-locked transaction.
type User struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	Password    string `gorm:"not null" json:"-"`
	Name        string `gorm:"not null" json:"name"`
	Role        string `gorm:"default:'user'" json:"role"`
	Balance     int64  `gorm:"not null;default:0" json:"balance"`
	Status      string `gorm:"default:'active'" json:"status"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt time.Time
}
