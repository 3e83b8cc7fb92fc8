package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service/publisher"
	"github.com/ifuryst/fanout/internal/service/schedule"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrInvalidFilter = errors.New("invalid filter")
)

// InterruptedMsg is recorded on work left unfinished by a previous process.
const InterruptedMsg = "interrupted by restart"

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// TaskLedger persists publish tasks and their items.
type TaskLedger struct {
	db     *gorm.DB
	logger *zap.Logger
	calc   *schedule.Calculator
	now    func() time.Time
}

func NewTaskLedger(db *gorm.DB, logger *zap.Logger) *TaskLedger {
	return &TaskLedger{
		db:     db,
		logger: logger,
		calc:   schedule.New(),
		now:    time.Now,
	}
}

// SetClock replaces the time source used for schedules and timestamps.
func (l *TaskLedger) SetClock(now func() time.Time) {
	l.now = now
	l.calc = &schedule.Calculator{Now: now}
}

// TaskTally is the aggregate of a task's items after finalization.
type TaskTally struct {
	Total   int64             `json:"total"`
	Success int64             `json:"success"`
	Failed  int64             `json:"failed"`
	Status  models.TaskStatus `json:"status"`
}

// TaskFilter narrows ListTasks. Dates are YYYY-MM-DD and inclusive.
type TaskFilter struct {
	PlatformType models.PlatformType
	Status       models.TaskStatus
	Keyword      string
	StartDate    string
	EndDate      string
}

// TaskPage is one page of ListTasks.
type TaskPage struct {
	Items    []models.TaskSummary `json:"items"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
	Total    int64                `json:"total"`
}

// CreateTask stores the task and one item per (file, account) pair in a
// single transaction. Items are created file-major; every account of a
// file shares the file's scheduled time.
func (l *TaskLedger) CreateTask(ctx context.Context, job JobSpec) (*models.PublishTask, []models.PublishTaskItem, error) {
	if err := job.Normalize(); err != nil {
		return nil, nil, err
	}

	task := &models.PublishTask{
		UserID:       job.UserID,
		PlatformType: job.PlatformType,
		Title:        job.Title,
		Tags:         models.StringList(job.Tags),
		EnableTimer:  bool(job.EnableTimer),
		VideosPerDay: job.VideosPerDay,
		DailyTimes:   job.Slots(),
		StartDays:    job.StartDays,
		ProductLink:  job.ProductLink,
		ProductTitle: job.ProductTitle,
		Status:       models.TaskCreated,
	}

	var scheduled []time.Time
	if task.EnableTimer {
		scheduled = l.calc.Compute(len(job.Files), job.VideosPerDay, []int(task.DailyTimes), job.StartDays)
	}

	items := make([]models.PublishTaskItem, 0, len(job.Files)*len(job.Accounts))
	for i, file := range job.Files {
		var at *time.Time
		status := models.ItemPending
		if i < len(scheduled) {
			t := scheduled[i]
			at = &t
			status = models.ItemScheduled
		}
		for _, account := range job.Accounts {
			items = append(items, models.PublishTaskItem{
				FilePath:        file,
				AccountFilePath: account,
				ScheduledAt:     at,
				Status:          status,
			})
		}
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		for i := range items {
			items[i].TaskID = task.ID
		}
		if err := tx.CreateInBatches(&items, 100).Error; err != nil {
			return fmt.Errorf("failed to create task items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	l.logger.Info("Publish task created",
		zap.Uint("task_id", task.ID),
		zap.String("platform", task.PlatformType.String()),
		zap.Int("files", len(job.Files)),
		zap.Int("accounts", len(job.Accounts)),
		zap.Bool("timer", task.EnableTimer))

	return task, items, nil
}

// ReportItem records progress for one item. It never fails its caller:
// storage errors and panics are logged and dropped. Reports for items
// that already finished are ignored.
func (l *TaskLedger) ReportItem(ctx context.Context, r publisher.ItemReport) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("Item report panicked",
				zap.Uint("task_id", r.TaskID),
				zap.String("file", r.FilePath),
				zap.String("account", r.AccountFilePath),
				zap.Any("panic", rec))
		}
	}()

	now := l.now()
	q := l.db.WithContext(ctx).Model(&models.PublishTaskItem{}).
		Where("task_id = ? AND file_path = ? AND account_file_path = ? AND finished_at IS NULL",
			r.TaskID, r.FilePath, r.AccountFilePath)

	var res *gorm.DB
	switch r.Status {
	case models.ItemRunning:
		res = q.Updates(map[string]interface{}{
			"status":     models.ItemRunning,
			"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
		})
	case models.ItemSuccess, models.ItemFailed:
		res = q.Updates(map[string]interface{}{
			"status":      r.Status,
			"started_at":  gorm.Expr("COALESCE(started_at, ?)", now),
			"finished_at": now,
			"result_msg":  r.ResultMsg,
		})
	default:
		l.logger.Warn("Ignoring item report with unexpected status",
			zap.Uint("task_id", r.TaskID),
			zap.String("status", string(r.Status)))
		return
	}

	if res.Error != nil {
		l.logger.Error("Failed to record item status",
			zap.Uint("task_id", r.TaskID),
			zap.String("file", r.FilePath),
			zap.String("account", r.AccountFilePath),
			zap.String("status", string(r.Status)),
			zap.Error(res.Error))
		return
	}
	if res.RowsAffected == 0 {
		l.logger.Debug("Item report matched no open item",
			zap.Uint("task_id", r.TaskID),
			zap.String("file", r.FilePath),
			zap.String("account", r.AccountFilePath),
			zap.String("status", string(r.Status)))
	}
}

// MarkRunning moves a created task to running. Best effort.
func (l *TaskLedger) MarkRunning(ctx context.Context, taskID uint) {
	err := l.db.WithContext(ctx).Model(&models.PublishTask{}).
		Where("id = ? AND status = ?", taskID, models.TaskCreated).
		Update("status", models.TaskRunning).Error
	if err != nil {
		l.logger.Error("Failed to mark task running", zap.Uint("task_id", taskID), zap.Error(err))
	}
}

// FinalizeTask settles the task status. A non-nil fault fails the task
// and every item still open with the fault's message; otherwise the task
// fails if any item failed and succeeds if none did.
func (l *TaskLedger) FinalizeTask(ctx context.Context, taskID uint, fault error) (TaskTally, error) {
	var tally TaskTally
	now := l.now()
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if fault != nil {
			if err := tx.Model(&models.PublishTaskItem{}).
				Where("task_id = ? AND finished_at IS NULL", taskID).
				Updates(map[string]interface{}{
					"status":      models.ItemFailed,
					"finished_at": now,
					"result_msg":  fault.Error(),
				}).Error; err != nil {
				return fmt.Errorf("failed to close open items: %w", err)
			}
		}

		counts, err := countItems(tx, []uint{taskID})
		if err != nil {
			return err
		}
		c := counts[taskID]
		tally.Total, tally.Success, tally.Failed = c.Total, c.Success, c.Failed

		updates := map[string]interface{}{}
		switch {
		case fault != nil:
			tally.Status = models.TaskFailed
			updates["error_msg"] = fault.Error()
		case tally.Failed > 0:
			tally.Status = models.TaskFailed
		default:
			tally.Status = models.TaskSuccess
		}
		updates["status"] = tally.Status

		res := tx.Model(&models.PublishTask{}).Where("id = ?", taskID).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to finalize task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTaskNotFound
		}
		return nil
	})
	if err != nil {
		return TaskTally{}, err
	}

	l.logger.Info("Publish task finalized",
		zap.Uint("task_id", taskID),
		zap.String("status", string(tally.Status)),
		zap.Int64("total", tally.Total),
		zap.Int64("success", tally.Success),
		zap.Int64("failed", tally.Failed))
	return tally, nil
}

// GetTask returns a task with its items ordered by id.
func (l *TaskLedger) GetTask(ctx context.Context, id uint) (*models.PublishTask, []models.PublishTaskItem, error) {
	var task models.PublishTask
	if err := l.db.WithContext(ctx).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrTaskNotFound
		}
		return nil, nil, fmt.Errorf("failed to get task: %w", err)
	}

	var items []models.PublishTaskItem
	if err := l.db.WithContext(ctx).Where("task_id = ?", id).Order("id ASC").Find(&items).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to get task items: %w", err)
	}
	return &task, items, nil
}

// ListTasks returns tasks newest first with per-task item tallies.
func (l *TaskLedger) ListTasks(ctx context.Context, filter TaskFilter, page, pageSize int) (*TaskPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := l.db.WithContext(ctx).Model(&models.PublishTask{})
	if filter.PlatformType != 0 {
		query = query.Where("platform_type = ?", filter.PlatformType)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if kw := strings.TrimSpace(filter.Keyword); kw != "" {
		like := "%" + kw + "%"
		query = query.Where("(title LIKE ? OR tags_json LIKE ?)", like, like)
	}
	if filter.StartDate != "" {
		start, err := parseDay(filter.StartDate)
		if err != nil {
			return nil, err
		}
		query = query.Where("created_at >= ?", start)
	}
	if filter.EndDate != "" {
		end, err := parseDay(filter.EndDate)
		if err != nil {
			return nil, err
		}
		query = query.Where("created_at < ?", end.AddDate(0, 0, 1))
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	var tasks []models.PublishTask
	if err := query.Session(&gorm.Session{}).Order("id DESC").Limit(pageSize).Offset((page - 1) * pageSize).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	ids := make([]uint, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	counts, err := countItems(l.db.WithContext(ctx), ids)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		c := counts[t.ID]
		summaries = append(summaries, models.TaskSummary{
			PublishTask:  t,
			ItemsTotal:   c.Total,
			ItemsSuccess: c.Success,
			ItemsFailed:  c.Failed,
		})
	}

	return &TaskPage{Items: summaries, Page: page, PageSize: pageSize, Total: total}, nil
}

// RecoverInterrupted fails the open items and tasks a previous process
// left behind. It returns how many tasks were affected.
func (l *TaskLedger) RecoverInterrupted(ctx context.Context) (int64, error) {
	open := []models.TaskStatus{models.TaskCreated, models.TaskRunning}
	now := l.now()

	var affected int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		openTasks := tx.Model(&models.PublishTask{}).Select("id").Where("status IN ?", open)
		if err := tx.Model(&models.PublishTaskItem{}).
			Where("finished_at IS NULL AND task_id IN (?)", openTasks).
			Updates(map[string]interface{}{
				"status":      models.ItemFailed,
				"finished_at": now,
				"result_msg":  InterruptedMsg,
			}).Error; err != nil {
			return fmt.Errorf("failed to recover items: %w", err)
		}

		res := tx.Model(&models.PublishTask{}).
			Where("status IN ?", open).
			Updates(map[string]interface{}{
				"status":    models.TaskFailed,
				"error_msg": InterruptedMsg,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to recover tasks: %w", res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		l.logger.Warn("Recovered interrupted publish tasks", zap.Int64("tasks", affected))
	}
	return affected, nil
}

type itemCounts struct {
	TaskID  uint
	Total   int64
	Success int64
	Failed  int64
}

func countItems(db *gorm.DB, taskIDs []uint) (map[uint]itemCounts, error) {
	out := make(map[uint]itemCounts, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}

	var rows []itemCounts
	err := db.Model(&models.PublishTaskItem{}).
		Select("task_id, COUNT(1) AS total, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS success, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed",
			models.ItemSuccess, models.ItemFailed).
		Where("task_id IN ?", taskIDs).
		Group("task_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count task items: %w", err)
	}
	for _, r := range rows {
		out[r.TaskID] = r
	}
	return out, nil
}

func parseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidFilter, s)
	}
	return t, nil
}
