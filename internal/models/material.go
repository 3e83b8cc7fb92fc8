package models

import "time"

// Material is an uploaded media file stored under the media directory.
type Material struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Filename   string    `gorm:"not null;size:500" json:"filename"`
	FileSizeMB float64   `gorm:"column:filesize" json:"filesize"`
	FilePath   string    `gorm:"size:1000" json:"file_path"`
	UploadTime time.Time `gorm:"autoCreateTime;index" json:"upload_time"`
}

func (Material) TableName() string { return "file_records" }
