package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/config"
	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service/publisher"
)

// PublisherService runs publish jobs end to end: it records the task,
// drives the deliveries and settles the outcome.
type PublisherService struct {
	logger            *zap.Logger
	ledger            *TaskLedger
	manager           *publisher.Manager
	executor          *publisher.Executor
	resolver          publisher.Resolver
	monitoringService *MonitoringService
}

// JobSummary is the result of one submitted job.
type JobSummary struct {
	TaskID  uint              `json:"task_id"`
	Total   int64             `json:"total"`
	Success int64             `json:"success"`
	Failed  int64             `json:"failed"`
	Status  models.TaskStatus `json:"status"`
	Error   string            `json:"error,omitempty"`
}

// BatchResult pairs a batch entry with its summary or rejection.
type BatchResult struct {
	Index   int         `json:"index"`
	Summary *JobSummary `json:"summary,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func NewPublisherService(cfg *config.PublisherConfig, ledger *TaskLedger, manager *publisher.Manager, monitoringService *MonitoringService, logger *zap.Logger) *PublisherService {
	resolver := publisher.Resolver{MediaDir: cfg.MediaDir, CookieDir: cfg.CookieDir}
	minInterval := config.Duration(cfg.MinInterval, 0)

	return &PublisherService{
		logger:            logger,
		ledger:            ledger,
		manager:           manager,
		executor:          publisher.NewExecutor(manager, ledger, resolver, minInterval, logger),
		resolver:          resolver,
		monitoringService: monitoringService,
	}
}

// Manager exposes the deliverer registry.
func (s *PublisherService) Manager() *publisher.Manager { return s.manager }

// SubmitJob validates and stores the job, then delivers every item before
// returning. Delivery is not tied to ctx cancellation so a client that
// goes away does not leave a half-run batch behind.
func (s *PublisherService) SubmitJob(ctx context.Context, job JobSpec) (*JobSummary, error) {
	if err := job.Normalize(); err != nil {
		return nil, err
	}

	task, items, err := s.ledger.CreateTask(ctx, job)
	if err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	s.ledger.MarkRunning(runCtx, task.ID)

	start := time.Now()
	outcomes, execErr := s.executor.Execute(runCtx, task, items, s.metadata(job))
	if execErr != nil {
		s.logger.Error("Publish task could not run",
			zap.Uint("task_id", task.ID),
			zap.String("platform", task.PlatformType.String()),
			zap.Error(execErr))
		s.recordError("Publish task could not run", execErr.Error(), task,
			WithContext(map[string]interface{}{
				"title": task.Title,
				"items": len(items),
			}))
	}
	for _, o := range outcomes {
		if o.Status == models.ItemFailed {
			s.recordError("Delivery failed", o.Message, task,
				WithItem(o.ItemID),
				WithContext(map[string]interface{}{
					"file":    o.FilePath,
					"account": o.AccountFilePath,
				}))
		}
	}

	tally, err := s.ledger.FinalizeTask(runCtx, task.ID, execErr)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize task %d: %w", task.ID, err)
	}

	s.logger.Info("Publish job finished",
		zap.Uint("task_id", task.ID),
		zap.String("status", string(tally.Status)),
		zap.Int64("success", tally.Success),
		zap.Int64("failed", tally.Failed),
		zap.Duration("duration", time.Since(start)))

	summary := &JobSummary{
		TaskID:  task.ID,
		Total:   tally.Total,
		Success: tally.Success,
		Failed:  tally.Failed,
		Status:  tally.Status,
	}
	if execErr != nil {
		summary.Error = execErr.Error()
	}
	return summary, nil
}

// SubmitJobs runs each job in order. A rejected job does not stop the
// rest of the batch.
func (s *PublisherService) SubmitJobs(ctx context.Context, jobs []JobSpec) []BatchResult {
	results := make([]BatchResult, 0, len(jobs))
	for i, job := range jobs {
		summary, err := s.SubmitJob(ctx, job)
		r := BatchResult{Index: i, Summary: summary}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// ListTasks and GetTask expose the ledger queries.
func (s *PublisherService) ListTasks(ctx context.Context, filter TaskFilter, page, pageSize int) (*TaskPage, error) {
	return s.ledger.ListTasks(ctx, filter, page, pageSize)
}

func (s *PublisherService) GetTask(ctx context.Context, id uint) (*models.PublishTask, []models.PublishTaskItem, error) {
	return s.ledger.GetTask(ctx, id)
}

func (s *PublisherService) metadata(job JobSpec) map[string]string {
	meta := job.Metadata()
	if thumb, ok := meta[publisher.MetaThumbnail]; ok {
		if resolved, err := s.resolver.File(thumb); err == nil {
			meta[publisher.MetaThumbnail] = resolved
		}
	}
	return meta
}

func (s *PublisherService) recordError(title, message string, task *models.PublishTask, options ...ErrorLogOption) {
	if s.monitoringService == nil {
		return
	}
	options = append(options, WithPlatform(task.PlatformType), WithTask(task.ID))
	if err := s.monitoringService.RecordError("ERROR", "publisher", title, message, options...); err != nil {
		s.logger.Warn("Failed to record error log", zap.Uint("task_id", task.ID), zap.Error(err))
	}
}
