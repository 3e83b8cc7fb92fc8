package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ifuryst/fanout/internal/models"
)

// ItemOutcome is the result of one delivery attempt.
type ItemOutcome struct {
	ItemID          uint              `json:"item_id"`
	FilePath        string            `json:"file_path"`
	AccountFilePath string            `json:"account_file_path"`
	Status          models.ItemStatus `json:"status"`
	Message         string            `json:"message,omitempty"`
}

// Executor walks the items of one task and delivers them one at a time.
type Executor struct {
	manager  *Manager
	reporter Reporter
	resolver Resolver
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewExecutor builds an executor. A positive minInterval paces consecutive
// deliveries; zero delivers back to back.
func NewExecutor(manager *Manager, reporter Reporter, resolver Resolver, minInterval time.Duration, logger *zap.Logger) *Executor {
	e := &Executor{
		manager:  manager,
		reporter: reporter,
		resolver: resolver,
		logger:   logger,
	}
	if minInterval > 0 {
		e.limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return e
}

type preparedItem struct {
	item    models.PublishTaskItem
	file    string
	account string
}

// Execute delivers every item of task in file-major, account-minor order.
// Item failures are recorded and never stop the batch. The returned error
// is non-nil only when the task cannot run at all; in that case no item
// has been attempted.
func (e *Executor) Execute(ctx context.Context, task *models.PublishTask, items []models.PublishTaskItem, metadata map[string]string) ([]ItemOutcome, error) {
	if task == nil {
		return nil, errors.New("task is required")
	}

	deliverer, err := e.manager.GetDeliverer(task.PlatformType)
	if err != nil {
		return nil, err
	}

	prepared, err := e.prepare(items)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Executing publish task",
		zap.Uint("task_id", task.ID),
		zap.String("platform", task.PlatformType.String()),
		zap.Int("items", len(prepared)))

	outcomes := make([]ItemOutcome, 0, len(prepared))
	for _, p := range prepared {
		outcomes = append(outcomes, e.runItem(ctx, deliverer, task, p, metadata))
	}
	return outcomes, nil
}

// prepare resolves every locator up front so malformed input fails the
// task before the first delivery.
func (e *Executor) prepare(items []models.PublishTaskItem) ([]preparedItem, error) {
	sorted := make([]models.PublishTaskItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	prepared := make([]preparedItem, 0, len(sorted))
	for _, item := range sorted {
		file, err := e.resolver.File(item.FilePath)
		if err != nil {
			return nil, fmt.Errorf("invalid file %q: %w", item.FilePath, err)
		}
		account, err := e.resolver.Account(item.AccountFilePath)
		if err != nil {
			return nil, fmt.Errorf("invalid account %q: %w", item.AccountFilePath, err)
		}
		prepared = append(prepared, preparedItem{item: item, file: file, account: account})
	}
	return prepared, nil
}

func (e *Executor) runItem(ctx context.Context, deliverer Deliverer, task *models.PublishTask, p preparedItem, metadata map[string]string) ItemOutcome {
	report := ItemReport{
		TaskID:          task.ID,
		FilePath:        p.item.FilePath,
		AccountFilePath: p.item.AccountFilePath,
		ScheduledAt:     p.item.ScheduledAt,
	}
	outcome := ItemOutcome{
		ItemID:          p.item.ID,
		FilePath:        p.item.FilePath,
		AccountFilePath: p.item.AccountFilePath,
	}

	report.Status = models.ItemRunning
	e.safeReport(ctx, report)

	err := e.pace(ctx)
	if err == nil {
		err = e.deliver(ctx, deliverer, Delivery{
			Platform:    task.PlatformType,
			TaskID:      task.ID,
			ItemID:      p.item.ID,
			File:        p.file,
			Account:     p.account,
			Title:       task.Title,
			Tags:        []string(task.Tags),
			ScheduledAt: p.item.ScheduledAt,
			Metadata:    metadata,
		})
	}

	if err != nil {
		e.logger.Warn("Delivery failed",
			zap.Uint("task_id", task.ID),
			zap.Uint("item_id", p.item.ID),
			zap.String("file", p.item.FilePath),
			zap.String("account", p.item.AccountFilePath),
			zap.Error(err))
		report.Status = models.ItemFailed
		report.ResultMsg = err.Error()
		outcome.Status = models.ItemFailed
		outcome.Message = err.Error()
	} else {
		e.logger.Info("Delivery succeeded",
			zap.Uint("task_id", task.ID),
			zap.Uint("item_id", p.item.ID),
			zap.String("file", p.item.FilePath),
			zap.String("account", p.item.AccountFilePath))
		report.Status = models.ItemSuccess
		outcome.Status = models.ItemSuccess
	}

	e.safeReport(ctx, report)
	return outcome
}

func (e *Executor) pace(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("delivery pacing interrupted: %w", err)
	}
	return nil
}

// deliver turns a deliverer panic into an ordinary item failure.
func (e *Executor) deliver(ctx context.Context, deliverer Deliverer, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliverer panicked: %v", r)
		}
	}()
	return deliverer.Deliver(ctx, d)
}

// safeReport never lets a reporting fault reach the delivery loop.
func (e *Executor) safeReport(ctx context.Context, r ItemReport) {
	if e.reporter == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("Item report panicked",
				zap.Uint("task_id", r.TaskID),
				zap.String("file", r.FilePath),
				zap.String("account", r.AccountFilePath),
				zap.String("status", string(r.Status)),
				zap.Any("panic", rec))
		}
	}()
	e.reporter.ReportItem(ctx, r)
}
