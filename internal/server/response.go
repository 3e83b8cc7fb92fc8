package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/service"
	"github.com/ifuryst/fanout/internal/service/session"
)

// Response is the envelope every API endpoint answers with.
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Msg: "success", Data: data})
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{Code: status, Msg: msg})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidJob),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidFilter),
		errors.Is(err, session.ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrAccountNotFound),
		errors.Is(err, service.ErrMaterialNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError answers with the mapped status. Client errors carry
// the error text; server errors are logged and answered with action only.
func (s *Server) respondServiceError(c *gin.Context, action string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.Logger.Error(action, zap.String("path", c.FullPath()), zap.Error(err))
		respondError(c, status, action)
		return
	}
	respondError(c, status, err.Error())
}

// queryInt reads an integer query parameter, falling back to def when it
// is absent.
func queryInt(c *gin.Context, def int, keys ...string) (int, error) {
	for _, key := range keys {
		if v := c.Query(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0, errors.New(key + " must be an integer")
			}
			return n, nil
		}
	}
	return def, nil
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return uint(id), true
}
