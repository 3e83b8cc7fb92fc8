package models

import "time"

type AccountStatus int

const (
	AccountAbnormal AccountStatus = 0
	AccountNormal   AccountStatus = 1
)

// Account is a platform account whose authorization artifact (cookie file)
// lives under the configured cookie directory.
type Account struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	PlatformType PlatformType  `gorm:"not null;index;uniqueIndex:uq_account_name,priority:1" json:"type"`
	FilePath     string        `gorm:"not null;size:1000" json:"file_path"`
	UserName     string        `gorm:"not null;size:255;uniqueIndex:uq_account_name,priority:2" json:"user_name"`
	Status       AccountStatus `gorm:"default:0" json:"status"`
	CreatedAt    time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }
