package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/fanout/internal/models"
)

const (
	defaultTrendDays = 7
	maxTrendDays     = 365
)

type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
	loc    *time.Location
	now    func() time.Time
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
		loc:    time.Local,
		now:    time.Now,
	}
}

// SetLocation sets the timezone used to cut days.
func (m *MonitoringService) SetLocation(loc *time.Location) {
	if loc != nil {
		m.loc = loc
	}
}

func (m *MonitoringService) today() time.Time {
	now := m.now().In(m.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.loc)
}

// RecordError 记录错误日志
func (m *MonitoringService) RecordError(level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	// 应用选项
	for _, option := range options {
		option(errorLog)
	}

	return m.db.Create(errorLog).Error
}

// ErrorLogOption 错误日志选项
type ErrorLogOption func(*models.ErrorLog)

// WithPlatform 设置平台
func WithPlatform(platform models.PlatformType) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.PlatformType = platform
	}
}

// WithTask 设置任务ID
func WithTask(taskID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.TaskID = &taskID
	}
}

// WithItem 设置明细ID
func WithItem(itemID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.ItemID = &itemID
	}
}

// WithContext 设置上下文信息
func WithContext(context map[string]interface{}) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(context); err == nil {
			e.Context = string(contextBytes)
		}
	}
}

// GetSummaryStats 汇总账号、素材、任务与明细的统计
func (m *MonitoringService) GetSummaryStats(ctx context.Context) (*models.SummaryStats, error) {
	db := m.db.WithContext(ctx)
	var stats models.SummaryStats

	var acc struct {
		Total  int64
		Normal int64
	}
	if err := db.Model(&models.Account{}).
		Select("COUNT(1) AS total, COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS normal", models.AccountNormal).
		Scan(&acc).Error; err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}
	stats.Accounts.Total = acc.Total
	stats.Accounts.Normal = acc.Normal
	stats.Accounts.Abnormal = acc.Total - acc.Normal

	var mat struct {
		Total       int64
		TotalSizeMB float64
	}
	if err := db.Model(&models.Material{}).
		Select("COUNT(1) AS total, COALESCE(SUM(filesize), 0) AS total_size_mb").
		Scan(&mat).Error; err != nil {
		return nil, fmt.Errorf("failed to count materials: %w", err)
	}
	stats.Materials.Total = mat.Total
	stats.Materials.TotalSizeMB = round2(mat.TotalSizeMB)

	var tasks struct {
		Total   int64
		Success int64
		Failed  int64
	}
	if err := db.Model(&models.PublishTask{}).
		Select("COUNT(1) AS total, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS success, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed",
			models.TaskSuccess, models.TaskFailed).
		Scan(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	stats.PublishTasks.Total = tasks.Total
	stats.PublishTasks.Success = tasks.Success
	stats.PublishTasks.Failed = tasks.Failed

	var items struct {
		Success   int64
		Failed    int64
		Running   int64
		Scheduled int64
	}
	if err := db.Model(&models.PublishTaskItem{}).
		Select("COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS success, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS scheduled",
			models.ItemSuccess, models.ItemFailed, models.ItemRunning, models.ItemScheduled).
		Scan(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to count task items: %w", err)
	}
	stats.PublishItems.Success = items.Success
	stats.PublishItems.Failed = items.Failed
	stats.PublishItems.Running = items.Running
	stats.PublishItems.Scheduled = items.Scheduled

	return &stats, nil
}

// ClampTrendDays bounds a requested trend window to 1..365.
func ClampTrendDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > maxTrendDays {
		return maxTrendDays
	}
	return days
}

// GetUploadTrend 按天统计最近 days 天的素材上传
func (m *MonitoringService) GetUploadTrend(ctx context.Context, days int) ([]models.UploadTrendPoint, error) {
	days = ClampTrendDays(days)
	since := m.now().AddDate(0, 0, -days)

	var materials []models.Material
	if err := m.db.WithContext(ctx).
		Select("filesize", "upload_time").
		Where("upload_time >= ?", since).
		Find(&materials).Error; err != nil {
		return nil, fmt.Errorf("failed to load uploads: %w", err)
	}

	byDay := make(map[string]*models.UploadTrendPoint)
	for _, mat := range materials {
		day := mat.UploadTime.In(m.loc).Format("2006-01-02")
		p, ok := byDay[day]
		if !ok {
			p = &models.UploadTrendPoint{Day: day}
			byDay[day] = p
		}
		p.UploadCount++
		p.UploadSizeMB += mat.FileSizeMB
	}

	points := make([]models.UploadTrendPoint, 0, len(byDay))
	for _, p := range byDay {
		p.UploadSizeMB = round2(p.UploadSizeMB)
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Day < points[j].Day })
	return points, nil
}

// UpdateDailyStats 更新当天的统计快照
func (m *MonitoringService) UpdateDailyStats(ctx context.Context) error {
	db := m.db.WithContext(ctx)
	today := m.today()
	tomorrow := today.AddDate(0, 0, 1)

	var tasksCreated, tasksSucceeded, tasksFailed int64
	var itemsSucceeded, itemsFailed, itemsScheduled int64
	counts := []struct {
		name  string
		query *gorm.DB
		dest  *int64
	}{
		{"tasks created", db.Model(&models.PublishTask{}).Where("created_at >= ? AND created_at < ?", today, tomorrow), &tasksCreated},
		{"tasks succeeded", db.Model(&models.PublishTask{}).Where("created_at >= ? AND created_at < ? AND status = ?", today, tomorrow, models.TaskSuccess), &tasksSucceeded},
		{"tasks failed", db.Model(&models.PublishTask{}).Where("created_at >= ? AND created_at < ? AND status = ?", today, tomorrow, models.TaskFailed), &tasksFailed},
		{"items succeeded", db.Model(&models.PublishTaskItem{}).Where("finished_at >= ? AND finished_at < ? AND status = ?", today, tomorrow, models.ItemSuccess), &itemsSucceeded},
		{"items failed", db.Model(&models.PublishTaskItem{}).Where("finished_at >= ? AND finished_at < ? AND status = ?", today, tomorrow, models.ItemFailed), &itemsFailed},
		{"items scheduled", db.Model(&models.PublishTaskItem{}).Where("status = ?", models.ItemScheduled), &itemsScheduled},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return fmt.Errorf("failed to count %s: %w", c.name, err)
		}
	}

	var uploads struct {
		Count  int64
		SizeMB float64
	}
	if err := db.Model(&models.Material{}).
		Select("COUNT(1) AS count, COALESCE(SUM(filesize), 0) AS size_mb").
		Where("upload_time >= ? AND upload_time < ?", today, tomorrow).
		Scan(&uploads).Error; err != nil {
		return fmt.Errorf("failed to count uploads: %w", err)
	}

	var stats models.DailyStats
	result := db.Where("date = ?", today).First(&stats)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load daily stats: %w", result.Error)
	}

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		// 创建新记录
		stats = models.DailyStats{
			Date:           today,
			TasksCreated:   int(tasksCreated),
			TasksSucceeded: int(tasksSucceeded),
			TasksFailed:    int(tasksFailed),
			ItemsSucceeded: int(itemsSucceeded),
			ItemsFailed:    int(itemsFailed),
			ItemsScheduled: int(itemsScheduled),
			Uploads:        int(uploads.Count),
			UploadSizeMB:   round2(uploads.SizeMB),
		}
		return db.Create(&stats).Error
	}

	// 更新现有记录
	return db.Model(&stats).Updates(map[string]interface{}{
		"tasks_created":   tasksCreated,
		"tasks_succeeded": tasksSucceeded,
		"tasks_failed":    tasksFailed,
		"items_succeeded": itemsSucceeded,
		"items_failed":    itemsFailed,
		"items_scheduled": itemsScheduled,
		"uploads":         uploads.Count,
		"upload_size_mb":  round2(uploads.SizeMB),
	}).Error
}

// GetDailyStats 获取最近 days 天的快照，按日期倒序
func (m *MonitoringService) GetDailyStats(ctx context.Context, days int) ([]models.DailyStats, error) {
	days = ClampTrendDays(days)
	since := m.today().AddDate(0, 0, -(days - 1))

	var stats []models.DailyStats
	err := m.db.WithContext(ctx).
		Where("date >= ?", since).
		Order("date desc").
		Find(&stats).Error
	return stats, err
}

// GetRecentErrors 获取最近的错误日志
func (m *MonitoringService) GetRecentErrors(ctx context.Context, limit int) ([]models.ErrorLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []models.ErrorLog
	err := m.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// CleanupOldData 清理旧数据
func (m *MonitoringService) CleanupOldData(ctx context.Context, daysToKeep int) error {
	cutoffDate := m.today().AddDate(0, 0, -daysToKeep)
	db := m.db.WithContext(ctx)

	// 清理旧的每日统计
	if err := db.Where("date < ?", cutoffDate).Delete(&models.DailyStats{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup daily stats: %w", err)
	}

	// 清理旧的错误日志
	if err := db.Where("created_at < ?", cutoffDate).Delete(&models.ErrorLog{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup error logs: %w", err)
	}

	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
