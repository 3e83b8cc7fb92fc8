package models

import (
	"time"
)

type TaskStatus string

const (
	TaskCreated TaskStatus = "created"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
)

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemScheduled ItemStatus = "scheduled"
	ItemRunning   ItemStatus = "running"
	ItemSuccess   ItemStatus = "success"
	ItemFailed    ItemStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s ItemStatus) Terminal() bool {
	return s == ItemSuccess || s == ItemFailed
}

// PublishTask is one job submission: a set of files sent to a set of
// accounts on a single platform.
type PublishTask struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	UserID       *uint        `gorm:"index" json:"user_id"`
	PlatformType PlatformType `gorm:"not null;index" json:"platform_type"`
	Title        string       `gorm:"size:500" json:"title"`
	Tags         StringList   `gorm:"column:tags_json;type:text" json:"tags"`
	EnableTimer  bool         `gorm:"default:false" json:"enable_timer"`
	VideosPerDay int          `gorm:"default:1" json:"videos_per_day"`
	DailyTimes   HourList     `gorm:"column:daily_times_json;type:text" json:"daily_times"`
	StartDays    int          `gorm:"default:0" json:"start_days"`
	ProductLink  string       `gorm:"size:1000" json:"product_link"`
	ProductTitle string       `gorm:"size:500" json:"product_title"`
	CreatedAt    time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
	Status       TaskStatus   `gorm:"size:20;default:'created';index" json:"status"`
	ErrorMsg     string       `gorm:"type:text" json:"error_msg"`

	Items []PublishTaskItem `gorm:"foreignKey:TaskID" json:"-"`
}

func (PublishTask) TableName() string { return "publish_tasks" }

// PublishTaskItem is one (file, account) delivery unit of a task.
type PublishTaskItem struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	TaskID          uint       `gorm:"not null;index;uniqueIndex:uq_item_target,priority:1" json:"task_id"`
	FilePath        string     `gorm:"not null;size:1000;uniqueIndex:uq_item_target,priority:2" json:"file_path"`
	AccountFilePath string     `gorm:"not null;size:1000;uniqueIndex:uq_item_target,priority:3" json:"account_file_path"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	Status          ItemStatus `gorm:"size:20;default:'pending';index" json:"status"`
	ResultMsg       string     `gorm:"type:text" json:"result_msg"`
}

func (PublishTaskItem) TableName() string { return "publish_task_items" }

// TaskSummary is a PublishTask with its item tallies, used by list views.
type TaskSummary struct {
	PublishTask
	ItemsTotal   int64 `json:"items_total"`
	ItemsSuccess int64 `json:"items_success"`
	ItemsFailed  int64 `json:"items_failed"`
}
