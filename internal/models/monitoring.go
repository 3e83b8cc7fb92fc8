package models

import (
	"time"
)

// DailyStats 按日统计的发布快照
type DailyStats struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Date           time.Time `gorm:"uniqueIndex;not null" json:"date"`
	TasksCreated   int       `gorm:"default:0" json:"tasks_created"`
	TasksSucceeded int       `gorm:"default:0" json:"tasks_succeeded"`
	TasksFailed    int       `gorm:"default:0" json:"tasks_failed"`
	ItemsSucceeded int       `gorm:"default:0" json:"items_succeeded"`
	ItemsFailed    int       `gorm:"default:0" json:"items_failed"`
	ItemsScheduled int       `gorm:"default:0" json:"items_scheduled"`
	Uploads        int       `gorm:"default:0" json:"uploads"`
	UploadSizeMB   float64   `gorm:"default:0" json:"upload_size_mb"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DailyStats) TableName() string { return "daily_stats" }

// ErrorLog 错误日志表
type ErrorLog struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	Level        string       `gorm:"size:20;not null;index" json:"level"`  // ERROR, WARN, INFO
	Source       string       `gorm:"size:100;not null;index" json:"source"` // publisher, session, scheduler
	PlatformType PlatformType `gorm:"index" json:"platform_type"`
	TaskID       *uint        `gorm:"index" json:"task_id"`
	ItemID       *uint        `gorm:"index" json:"item_id"`
	Title        string       `gorm:"size:500;not null" json:"title"`
	Message      string       `gorm:"type:text;not null" json:"message"`
	Context      string       `gorm:"type:text" json:"context"` // JSON
	CreatedAt    time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
}

// SummaryStats is the dashboard projection over accounts, materials,
// tasks and items.
type SummaryStats struct {
	Accounts struct {
		Total    int64 `json:"total"`
		Normal   int64 `json:"normal"`
		Abnormal int64 `json:"abnormal"`
	} `json:"accounts"`
	Materials struct {
		Total       int64   `json:"total"`
		TotalSizeMB float64 `json:"total_size_mb"`
	} `json:"materials"`
	PublishTasks struct {
		Total   int64 `json:"total"`
		Success int64 `json:"success"`
		Failed  int64 `json:"failed"`
	} `json:"publish_tasks"`
	PublishItems struct {
		Success   int64 `json:"success"`
		Failed    int64 `json:"failed"`
		Running   int64 `json:"running"`
		Scheduled int64 `json:"scheduled"`
	} `json:"publish_items"`
}

// UploadTrendPoint is one day of material uploads.
type UploadTrendPoint struct {
	Day          string  `json:"day"`
	UploadCount  int     `json:"upload_count"`
	UploadSizeMB float64 `json:"upload_size_mb"`
}
