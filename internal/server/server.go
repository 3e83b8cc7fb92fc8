package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/fanout/internal/config"
	"github.com/ifuryst/fanout/internal/service"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	*Services
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	svcs, err := NewServices(cfg, db, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return New(cfg, db, svcs, logger), nil
}

// New assembles a server around already built services.
func New(cfg *config.Config, db *gorm.DB, svcs *Services, logger *zap.Logger) *Server {
	srv := &Server{
		Config:   cfg,
		DB:       db,
		Router:   gin.New(),
		Logger:   logger,
		Services: svcs,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	srv.Server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	api := s.Router.Group("/api/v1")
	{
		api.GET("/platforms", s.handleGetPlatforms)

		api.POST("/publish", s.handlePublish)
		api.POST("/publish/batch", s.handlePublishBatch)

		tasks := api.Group("/tasks")
		{
			tasks.GET("", s.handleListTasks)
			tasks.GET("/:id", s.handleGetTask)
		}

		api.GET("/login", s.handleLogin)

		accounts := api.Group("/accounts")
		{
			accounts.GET("", s.handleListAccounts)
			accounts.POST("", s.handleCreateAccount)
			accounts.PUT("/:id", s.handleUpdateAccount)
			accounts.DELETE("/:id", s.handleDeleteAccount)
		}

		materials := api.Group("/materials")
		{
			materials.GET("", s.handleListMaterials)
			materials.POST("", s.handleCreateMaterial)
			materials.DELETE("/:id", s.handleDeleteMaterial)
		}

		stats := api.Group("/stats")
		{
			stats.GET("/summary", s.handleSummaryStats)
			stats.GET("/uploads_trend", s.handleUploadTrend)
			stats.GET("/daily", s.handleDailyStats)
			stats.GET("/errors", s.handleRecentErrors)
		}
	}
}

// Start settles tasks left open by a previous run, starts the periodic
// jobs and serves HTTP until the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	recovered, err := s.Ledger.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}
	if recovered > 0 {
		s.Logger.Warn("Marked interrupted tasks as failed", zap.Int64("tasks", recovered))
	}

	if s.Scheduler != nil {
		s.Scheduler.Start(ctx)
		if err := s.Stats.Register(s.Scheduler, s.Config.Stats.Cron); err != nil {
			return fmt.Errorf("failed to schedule stats updater: %w", err)
		}
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", s.Server.Addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop scheduler first
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := s.Server.Shutdown(shutdownCtx)

	if sqlDB, dbErr := s.DB.DB(); dbErr == nil {
		if cerr := sqlDB.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
