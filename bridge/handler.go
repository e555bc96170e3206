package bridge

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yllada/ovpn-mgmt/common"
)

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": "bad_request", "message": message}})
}

// failure maps management errors to HTTP statuses.
func (s *Server) failure(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, common.ErrNotConnected), errors.Is(err, common.ErrConnectionFailed):
		status, code = http.StatusServiceUnavailable, "not_connected"
	case errors.Is(err, common.ErrTimeout):
		status, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, common.ErrCommandFailed):
		status, code = http.StatusBadGateway, "command_failed"
	case errors.Is(err, common.ErrParse), errors.Is(err, common.ErrProtocol):
		status, code = http.StatusBadGateway, "bad_response"
	case errors.Is(err, common.ErrInvalidConfig):
		status, code = http.StatusBadRequest, "bad_request"
	}
	if status >= http.StatusInternalServerError {
		s.log.Warn("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"success": false, "error": gin.H{"code": code, "message": err.Error()}})
}

func (s *Server) getState(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	state, err := s.backend.GetState(ctx)
	if err != nil {
		s.failure(c, err)
		return
	}
	success(c, gin.H{
		"state":     state,
		"mode":      state.Mode(),
		"connected": state.IsConnected(),
	})
}

func (s *Server) getStats(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	stats, err := s.backend.GetStats(ctx)
	if err != nil {
		s.failure(c, err)
		return
	}
	success(c, stats)
}

func (s *Server) getStatus(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	status, err := s.backend.GetStatus(ctx)
	if err != nil {
		s.failure(c, err)
		return
	}
	success(c, status)
}

func (s *Server) getVersion(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()
	release, err := s.backend.Release(ctx)
	if err != nil {
		s.failure(c, err)
		return
	}
	version, err := s.backend.Version(ctx)
	if err != nil {
		s.failure(c, err)
		return
	}
	success(c, gin.H{"release": release, "version": version})
}

func (s *Server) listEvents(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{"code": "not_found", "message": "journal disabled"}})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		badRequest(c, "limit must be a positive integer")
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	entries, err := s.journal.Recent(ctx, limit)
	if err != nil {
		s.failure(c, err)
		return
	}
	success(c, entries)
}

func (s *Server) killClient(c *gin.Context) {
	cid, err := strconv.Atoi(c.Param("cid"))
	if err != nil || cid < 0 {
		badRequest(c, "cid must be a non-negative integer")
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.backend.KillClient(ctx, cid); err != nil {
		s.failure(c, err)
		return
	}
	success(c, gin.H{"killed": cid})
}

type killRequest struct {
	Target string `json:"target" binding:"required"`
}

func (s *Server) kill(c *gin.Context) {
	if c.ContentType() != gin.MIMEJSON {
		badRequest(c, "body must be application/json")
		return
	}
	var req killRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Target) == "" {
		badRequest(c, "target is required")
		return
	}
	if strings.ContainsAny(strings.TrimSpace(req.Target), " \t\r\n") {
		badRequest(c, "target must be a single common name or ip:port")
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	if err := s.backend.Kill(ctx, req.Target); err != nil {
		s.failure(c, err)
		return
	}
	success(c, gin.H{"killed": req.Target})
}
