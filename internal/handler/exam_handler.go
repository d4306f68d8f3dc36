package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/exam"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// CandidateExams is the slice of ExamService the candidate REST surface needs.
type CandidateExams interface {
	GetExamByToken(ctx context.Context, token string) (*model.ExamSession, error)
	GetResult(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error)
}

// ExamHandler serves the candidate's REST endpoints. The exam itself runs
// over the WebSocket stream; these cover the entry check and the results page.
type ExamHandler struct {
	exams CandidateExams
	now   func() time.Time
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(exams CandidateExams) *ExamHandler {
	return &ExamHandler{exams: exams, now: time.Now}
}

// GetExam godoc
// GET /api/v1/exam/:token
// Returns the session state behind a candidate token, expiring it lazily.
func (h *ExamHandler) GetExam(c *gin.Context) {
	session, err := h.exams.GetExamByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		failExam(c, err)
		return
	}
	if session.Status == model.SessionStatusExpired {
		response.Fail(c, http.StatusGone, response.ErrExamExpired)
		return
	}

	now := h.now()
	state := model.ExamSessionState{
		Session:          session,
		RemainingSeconds: exam.CalculateRemainingTime(session, now).Seconds(),
		EarlyAccess:      session.ScheduledStartAt != nil && now.Before(*session.ScheduledStartAt),
	}
	response.Success(c, http.StatusOK, state)
}

// GetResult godoc
// GET /api/v1/exam/:token/result
// Returns the scored result once the session is completed.
func (h *ExamHandler) GetResult(c *gin.Context) {
	ctx := c.Request.Context()
	session, err := h.exams.GetExamByToken(ctx, c.Param("token"))
	if err != nil {
		failExam(c, err)
		return
	}
	if session.Status != model.SessionStatusCompleted {
		response.Fail(c, http.StatusConflict, response.ErrExamNotCompleted)
		return
	}

	result, err := h.exams.GetResult(ctx, session.ID)
	if err != nil {
		failExam(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// RequireExamToken rejects malformed :token parameters before any lookup.
func RequireExamToken(c *gin.Context) {
	if !validator.ExamToken(c.Param("token")) {
		response.AbortFail(c, http.StatusNotFound, response.ErrExamNotFound)
		return
	}
	c.Next()
}

// failExam maps service and runtime errors onto response codes.
func failExam(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
	case errors.Is(err, exam.ErrSessionExpired):
		response.Fail(c, http.StatusGone, response.ErrExamExpired)
	case errors.Is(err, exam.ErrSessionCompleted), errors.Is(err, service.ErrSessionClosed):
		response.Fail(c, http.StatusConflict, response.ErrExamCompleted)
	case errors.Is(err, exam.ErrNotYetOpen):
		response.Fail(c, http.StatusForbidden, response.ErrExamNotOpen)
	case errors.Is(err, service.ErrNoQuestions):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoQuestions)
	default:
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
