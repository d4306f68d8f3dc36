package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/exam"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

var errBadRequest = errors.New("malformed request")

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler runs one exam runtime per candidate WebSocket.
type WSHandler struct {
	store      exam.ExamStore
	progress   exam.ProgressStore
	cfg        config.ExamConfig
	monitorCfg proctor.Config
	log        zerolog.Logger
	upgrader   websocket.Upgrader
	// base is cancelled on server shutdown so runtimes stop with it.
	base context.Context
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	base context.Context,
	store exam.ExamStore,
	progress exam.ProgressStore,
	cfg config.ExamConfig,
	monitorCfg proctor.Config,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		store:      store,
		progress:   progress,
		cfg:        cfg,
		monitorCfg: monitorCfg,
		log:        log.With().Str("component", "ws_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
		base:       base,
	}
}

// ExamStream godoc
// WS /ws/v1/exam/:token/stream
// The exam token is the candidate's credential. The browser drives the
// runtime with actions and answers proctoring commands on the same socket.
func (h *WSHandler) ExamStream(c *gin.Context) {
	token := c.Param("token")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	client := ws.NewClient(conn, c.ClientIP(), c.Request.UserAgent(), h.log)
	rt := exam.NewRuntime(h.base, token, h.store, h.progress, client, h.cfg, h.monitorCfg, h.log)
	defer rt.Close()

	h.log.Info().Str("ip", c.ClientIP()).Msg("Candidate connected")

	if err := client.Serve(h.base, func(ctx context.Context, req *ws.Request) (any, error) {
		return h.dispatch(ctx, rt, req)
	}); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			h.log.Warn().Err(err).Msg("Unexpected close")
			return
		}
	}
	h.log.Debug().Msg("Candidate disconnected")
}

// dispatch maps one candidate action onto the runtime.
func (h *WSHandler) dispatch(ctx context.Context, rt *exam.Runtime, req *ws.Request) (any, error) {
	switch req.Action {
	case ws.ActionLoad:
		return rt.Load(ctx)
	case ws.ActionCloseInstructions:
		return nil, rt.CloseInstructions()
	case ws.ActionAcceptConsent:
		return nil, rt.AcceptConsent(ctx)
	case ws.ActionDeclineConsent:
		return nil, rt.DeclineConsent()
	case ws.ActionAnswer:
		qid, err := uuid.Parse(req.QuestionID)
		if err != nil {
			return nil, fmt.Errorf("%w: question_id", errBadRequest)
		}
		return nil, rt.Answer(ctx, qid, req.Answer)
	case ws.ActionGoTo:
		if req.Index == nil {
			return nil, fmt.Errorf("%w: index", errBadRequest)
		}
		return nil, rt.GoTo(ctx, *req.Index)
	case ws.ActionRequestSubmit:
		return rt.RequestSubmit()
	case ws.ActionConfirmSubmit:
		return nil, rt.ConfirmSubmit()
	default:
		h.log.Warn().Str("action", string(req.Action)).Msg("Unknown action")
		return nil, fmt.Errorf("unknown action: %s", req.Action)
	}
}
