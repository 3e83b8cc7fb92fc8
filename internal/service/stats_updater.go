package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const statsJobName = "daily-stats"

// StatsUpdater refreshes the daily stats snapshot and prunes old data.
type StatsUpdater struct {
	monitoringService *MonitoringService
	logger            *zap.Logger
	retentionDays     int
}

func NewStatsUpdater(monitoringService *MonitoringService, logger *zap.Logger, retentionDays int) *StatsUpdater {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &StatsUpdater{
		monitoringService: monitoringService,
		logger:            logger,
		retentionDays:     retentionDays,
	}
}

// Register schedules the updater on sched and runs it once right away.
func (s *StatsUpdater) Register(sched *Scheduler, spec string) error {
	if err := sched.Add(statsJobName, spec, s.Run); err != nil {
		return err
	}
	return sched.Trigger(statsJobName)
}

// Run performs one update.
func (s *StatsUpdater) Run(ctx context.Context) error {
	s.logger.Debug("Updating statistics")

	if err := s.monitoringService.UpdateDailyStats(ctx); err != nil {
		return fmt.Errorf("failed to update daily stats: %w", err)
	}

	if err := s.monitoringService.CleanupOldData(ctx, s.retentionDays); err != nil {
		s.logger.Error("Failed to cleanup old data", zap.Error(err))
	}

	s.logger.Debug("Statistics updated successfully")
	return nil
}
