package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/logger"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "running",
		"service": "chatguard",
		"version": s.version,
	})
}

func (s *Server) handleChat(c *gin.Context) {
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
		return
	}
	if req.Stream {
		s.stream(c, req)
		return
	}

	resp, err := s.ports.Chat.Chat(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleChatStream(c *gin.Context) {
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
		return
	}
	s.stream(c, req)
}

// stream serves the reply as server-sent events, one "data:" event per unit.
// Headers are sent with the first unit so that a validation failure can
// still be answered with a plain JSON error.
func (s *Server) stream(c *gin.Context, req domain.ChatRequest) {
	started := false
	emit := func(unit domain.StreamUnit) error {
		data, err := json.Marshal(unit)
		if err != nil {
			return fmt.Errorf("encoding stream unit: %w", err)
		}
		if !started {
			h := c.Writer.Header()
			h.Set("Content-Type", "text/event-stream")
			h.Set("Cache-Control", "no-cache")
			h.Set("Connection", "keep-alive")
			h.Set("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
			started = true
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	err := s.ports.Chat.ChatStream(c.Request.Context(), req, emit)
	switch {
	case err == nil:
	case !started:
		writeError(c, err)
	default:
		logger.Debug("stream for %s ended early: %v", req.UserID, err)
	}
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		writeError(c, err)
		return
	}

	turns, err := s.ports.History.History(c.Request.Context(), c.Param("user_id"), domain.HistoryQuery{
		SessionID: c.Query("session_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": turns})
}

func (s *Server) handleSessions(c *gin.Context) {
	sessions, err := s.ports.History.Sessions(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleDeleteHistory(c *gin.Context) {
	var id int64
	if raw := c.Query("id"); raw != "" {
		var err error
		if id, err = strconv.ParseInt(raw, 10, 64); err != nil {
			writeError(c, fmt.Errorf("%w: id must be an integer", domain.ErrInvalidInput))
			return
		}
	}

	n, err := s.ports.History.Delete(c.Request.Context(), domain.DeleteFilter{
		ID:        id,
		UserID:    c.Query("user_id"),
		SessionID: c.Query("session_id"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// queryInt parses an optional integer query parameter. Missing means zero.
func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, name)
	}
	return n, nil
}

// writeError maps domain errors to status codes with a {"detail": ...} body.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	default:
		logger.Error("request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}
