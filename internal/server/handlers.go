package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service"
)

type platformInfo struct {
	Type models.PlatformType `json:"type"`
	Name string              `json:"name"`
}

func (s *Server) handleGetPlatforms(c *gin.Context) {
	platforms := s.Publisher.Manager().AvailablePlatforms()
	infos := make([]platformInfo, 0, len(platforms))
	for _, p := range platforms {
		infos = append(infos, platformInfo{Type: p, Name: p.String()})
	}
	respondOK(c, infos)
}

func (s *Server) handlePublish(c *gin.Context) {
	var job service.JobSpec
	if err := c.ShouldBindJSON(&job); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	summary, err := s.Publisher.SubmitJob(c.Request.Context(), job)
	if err != nil {
		s.respondServiceError(c, "Failed to publish", err)
		return
	}
	if summary.Error != "" {
		c.JSON(http.StatusInternalServerError, Response{
			Code: http.StatusInternalServerError,
			Msg:  "publish failed: " + summary.Error,
			Data: summary,
		})
		return
	}

	respondOK(c, summary)
}

func (s *Server) handlePublishBatch(c *gin.Context) {
	var jobs []service.JobSpec
	if err := c.ShouldBindJSON(&jobs); err != nil {
		respondError(c, http.StatusBadRequest, "expected a JSON array of jobs")
		return
	}
	if len(jobs) == 0 {
		respondError(c, http.StatusBadRequest, "no jobs given")
		return
	}

	respondOK(c, s.Publisher.SubmitJobs(c.Request.Context(), jobs))
}

func (s *Server) handleListTasks(c *gin.Context) {
	page, err := queryInt(c, 1, "page")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	pageSize, err := queryInt(c, 0, "page_size", "pageSize")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	filter := service.TaskFilter{
		Status:    models.TaskStatus(c.Query("status")),
		Keyword:   c.Query("keyword"),
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
	}
	if v := c.Query("platform_type"); v != "" {
		platform, err := models.ParsePlatform(v)
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		filter.PlatformType = platform
	}

	result, err := s.Publisher.ListTasks(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		s.respondServiceError(c, "Failed to list tasks", err)
		return
	}
	respondOK(c, result)
}

func (s *Server) handleGetTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	task, items, err := s.Publisher.GetTask(c.Request.Context(), id)
	if err != nil {
		s.respondServiceError(c, "Failed to get task", err)
		return
	}
	respondOK(c, gin.H{"task": task, "items": items})
}

// handleLogin streams a login session as server-sent events. Each queued
// message becomes one event; the stream closes after a terminal token.
func (s *Server) handleLogin(c *gin.Context) {
	// unknown types still open a session; it answers with a failure token
	platform, _ := models.ParsePlatform(c.Query("type"))

	sess, err := s.Sessions.Open(platform, c.Query("id"))
	if err != nil {
		s.respondServiceError(c, "Failed to open login session", err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	err = s.Sessions.Stream(c.Request.Context(), sess, func(msg string) error {
		c.SSEvent("message", msg)
		c.Writer.Flush()
		if last := c.Errors.Last(); last != nil {
			return last.Err
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.Logger.Warn("Login stream ended early",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}
}

func (s *Server) handleListAccounts(c *gin.Context) {
	var platform models.PlatformType
	if v := c.Query("type"); v != "" {
		p, err := models.ParsePlatform(v)
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		platform = p
	}

	accounts, err := s.Accounts.List(c.Request.Context(), platform)
	if err != nil {
		s.respondServiceError(c, "Failed to list accounts", err)
		return
	}
	respondOK(c, accounts)
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	var in service.AccountInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	account, err := s.Accounts.Create(c.Request.Context(), in)
	if err != nil {
		s.respondServiceError(c, "Failed to create account", err)
		return
	}
	respondOK(c, account)
}

func (s *Server) handleUpdateAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in service.AccountInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	account, err := s.Accounts.Update(c.Request.Context(), id, in)
	if err != nil {
		s.respondServiceError(c, "Failed to update account", err)
		return
	}
	respondOK(c, account)
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.Accounts.Delete(c.Request.Context(), id); err != nil {
		s.respondServiceError(c, "Failed to delete account", err)
		return
	}
	respondOK(c, gin.H{"id": id})
}

func (s *Server) handleListMaterials(c *gin.Context) {
	materials, err := s.Materials.List(c.Request.Context())
	if err != nil {
		s.respondServiceError(c, "Failed to list materials", err)
		return
	}
	respondOK(c, materials)
}

func (s *Server) handleCreateMaterial(c *gin.Context) {
	var in service.MaterialInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	material, err := s.Materials.Record(c.Request.Context(), in)
	if err != nil {
		s.respondServiceError(c, "Failed to record material", err)
		return
	}
	respondOK(c, material)
}

func (s *Server) handleDeleteMaterial(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	material, err := s.Materials.Delete(c.Request.Context(), id)
	if err != nil {
		s.respondServiceError(c, "Failed to delete material", err)
		return
	}
	respondOK(c, material)
}

func (s *Server) handleSummaryStats(c *gin.Context) {
	stats, err := s.Monitoring.GetSummaryStats(c.Request.Context())
	if err != nil {
		s.respondServiceError(c, "Failed to get summary stats", err)
		return
	}
	respondOK(c, stats)
}

func (s *Server) handleUploadTrend(c *gin.Context) {
	days, err := queryInt(c, 7, "days")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	points, err := s.Monitoring.GetUploadTrend(c.Request.Context(), days)
	if err != nil {
		s.respondServiceError(c, "Failed to get upload trend", err)
		return
	}
	respondOK(c, gin.H{"days": service.ClampTrendDays(days), "items": points})
}

func (s *Server) handleDailyStats(c *gin.Context) {
	days, err := queryInt(c, 30, "days")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.Monitoring.GetDailyStats(c.Request.Context(), service.ClampTrendDays(days))
	if err != nil {
		s.respondServiceError(c, "Failed to get daily stats", err)
		return
	}
	respondOK(c, stats)
}

func (s *Server) handleRecentErrors(c *gin.Context) {
	limit, err := queryInt(c, 50, "limit")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}

	logs, err := s.Monitoring.GetRecentErrors(c.Request.Context(), limit)
	if err != nil {
		s.respondServiceError(c, "Failed to get recent errors", err)
		return
	}
	respondOK(c, logs)
}
