package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/fanout/internal/config"
	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service"
	"github.com/ifuryst/fanout/internal/service/automation"
	"github.com/ifuryst/fanout/internal/service/publisher"
	"github.com/ifuryst/fanout/internal/service/session"
)

// Services is everything the HTTP layer talks to.
type Services struct {
	Ledger     *service.TaskLedger
	Publisher  *service.PublisherService
	Sessions   *session.Manager
	Accounts   *service.AccountService
	Materials  *service.MaterialService
	Monitoring *service.MonitoringService

	// Scheduler and Stats are nil when periodic statistics are disabled.
	Scheduler *service.Scheduler
	Stats     *service.StatsUpdater
}

// NewServices builds the service graph over db. Every configured platform
// gets a command deliverer and, when a login command is set, a login runner.
func NewServices(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*Services, error) {
	monitoringService := service.NewMonitoringService(db, logger)
	ledger := service.NewTaskLedger(db, logger)
	accounts := service.NewAccountService(db, logger)

	manager := publisher.NewPublishManager(logger)
	sessions := session.NewManager(config.Duration(cfg.Session.PollInterval, session.DefaultPollInterval), logger)

	for name, pc := range cfg.Publisher.Platforms {
		platform, err := models.ParsePlatform(name)
		if err != nil {
			return nil, fmt.Errorf("invalid publisher.platforms key: %w", err)
		}

		if len(pc.DeliverCommand) > 0 {
			d, err := automation.NewCommandDeliverer(platform, automation.Command{
				Args:    pc.DeliverCommand,
				Timeout: config.Duration(pc.DeliverTimeout, 0),
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to configure %s deliverer: %w", platform, err)
			}
			if err := manager.RegisterDeliverer(d); err != nil {
				return nil, err
			}
			manager.SetEnabled(platform, pc.Enabled)
		}

		if len(pc.LoginCommand) > 0 {
			runner, err := automation.NewCommandLogin(platform, automation.Command{
				Args:    pc.LoginCommand,
				Timeout: config.Duration(pc.LoginTimeout, 0),
			}, cfg.Publisher.CookieDir, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to configure %s login: %w", platform, err)
			}
			if err := sessions.RegisterRunner(runner); err != nil {
				return nil, err
			}
		}
	}

	sessions.OnComplete(func(res session.Result) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := accounts.RecordLogin(ctx, res); err != nil {
			logger.Error("Failed to record login result",
				zap.String("session_id", res.SessionID),
				zap.String("account", res.AccountKey),
				zap.Error(err))
		}
	})

	svcs := &Services{
		Ledger:     ledger,
		Publisher:  service.NewPublisherService(&cfg.Publisher, ledger, manager, monitoringService, logger),
		Sessions:   sessions,
		Accounts:   accounts,
		Materials:  service.NewMaterialService(db, publisher.Resolver{MediaDir: cfg.Publisher.MediaDir, CookieDir: cfg.Publisher.CookieDir}, logger),
		Monitoring: monitoringService,
	}

	if cfg.Stats.Enabled {
		sched, err := service.NewScheduler(cfg.Stats.Timezone, logger)
		if err != nil {
			return nil, err
		}
		monitoringService.SetLocation(sched.Location())
		svcs.Scheduler = sched
		svcs.Stats = service.NewStatsUpdater(monitoringService, logger, cfg.Stats.RetentionDays)
	}

	return svcs, nil
}
