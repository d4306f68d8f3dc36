package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
	defaultPerPage    = 20
)

// MonitorHandler serves the recruiter security dashboard.
type MonitorHandler struct {
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// ListSessions godoc
// GET /api/v1/recruiter/sessions?status=in_progress&page=1&per_page=20
func (h *MonitorHandler) ListSessions(c *gin.Context) {
	var q model.ListSessionsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	status, page, perPage := q.Status, q.Page, q.PerPage
	if status == "" {
		status = model.SessionStatusInProgress
	}
	if page == 0 {
		page = 1
	}
	if perPage == 0 {
		perPage = defaultPerPage
	}

	sessions, total, err := h.monitorService.ListSessions(c.Request.Context(), status, page, perPage)
	if err != nil {
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, sessions, response.NewPagination(page, perPage, total))
}

// GetSession godoc
// GET /api/v1/recruiter/sessions/:id
// Returns the session with its violation summary, answer count and result.
func (h *MonitorHandler) GetSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	review, err := h.monitorService.Review(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, review)
}

// QueueDepths godoc
// GET /api/v1/recruiter/system/queues
// Returns the backlog of the persistence queues.
func (h *MonitorHandler) QueueDepths(c *gin.Context) {
	depths, err := h.monitorService.QueueDepths(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, depths)
}

// MonitorSessionSSE godoc
// GET /api/v1/recruiter/sessions/:id/monitor
// Streams a snapshot, then violations and lifecycle changes as they happen.
func (h *MonitorHandler) MonitorSessionSSE(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	review, err := h.monitorService.Review(reqCtx, sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	// 1. SSE headers
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// 2. Initial snapshot
	c.SSEvent("message", gin.H{"type": "snapshot", "data": review})
	c.Writer.Flush()

	// 3. Subscribe to Redis Pub/Sub
	pubsub := h.monitorService.Subscribe(reqCtx, sessionID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	log := h.log.With().Str("session_id", sessionID.String()).Logger()
	log.Info().Msg("Recruiter attached to live monitor SSE")

	pingPayload := []byte(`{"type":"ping"}`)
	terminal := review.Session.Status.IsTerminal()

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Recruiter disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			if terminal {
				continue // nothing changes after completion or expiry
			}
			terminal = h.sendRefresh(c, reqCtx, sessionID)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendRefresh re-reads the review and reports whether the session is terminal.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, sessionID uuid.UUID) bool {
	// Scoped timeout prevents a slow query from stalling the SSE loop
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	review, err := h.monitorService.Review(ctx, sessionID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to refresh session review")
		return false
	}

	c.SSEvent("message", gin.H{"type": "refresh", "data": review})
	c.Writer.Flush()
	return review.Session.Status.IsTerminal()
}
