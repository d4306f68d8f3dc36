package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

type fakeExams struct {
	sessions map[string]*model.ExamSession
	results  map[uuid.UUID]*model.ExamResult
}

func (f *fakeExams) GetExamByToken(ctx context.Context, token string) (*model.ExamSession, error) {
	s, ok := f.sessions[token]
	if !ok {
		return nil, service.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeExams) GetResult(ctx context.Context, id uuid.UUID) (*model.ExamResult, error) {
	r, ok := f.results[id]
	if !ok {
		return nil, service.ErrSessionNotFound
	}
	return r, nil
}

func newExamRouter(exams CandidateExams, now time.Time) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewExamHandler(exams)
	h.now = func() time.Time { return now }
	r := gin.New()
	r.GET("/exam/:token", h.GetExam)
	r.GET("/exam/:token/result", h.GetResult)
	return r
}

func get(r *gin.Engine, path string) (*httptest.ResponseRecorder, response.Response) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body response.Response
	json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestGetExam(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	started := now.Add(-10 * time.Minute)
	future := now.Add(time.Hour)
	done := uuid.New()

	exams := &fakeExams{
		sessions: map[string]*model.ExamSession{
			"running":   {ID: uuid.New(), Status: model.SessionStatusInProgress, DurationMinutes: 30, StartedAt: &started},
			"early":     {ID: uuid.New(), Status: model.SessionStatusPending, DurationMinutes: 30, ScheduledStartAt: &future},
			"expired":   {ID: uuid.New(), Status: model.SessionStatusExpired, DurationMinutes: 30},
			"completed": {ID: done, Status: model.SessionStatusCompleted, DurationMinutes: 30},
		},
		results: map[uuid.UUID]*model.ExamResult{done: {SessionID: done, Percentage: 80}},
	}
	r := newExamRouter(exams, now)

	w, body := get(r, "/exam/running")
	if w.Code != http.StatusOK {
		t.Fatalf("running: status %d", w.Code)
	}
	state := body.Data.(map[string]any)
	if state["remaining_seconds"].(float64) != 1200 {
		t.Errorf("remaining_seconds = %v, want 1200", state["remaining_seconds"])
	}

	_, body = get(r, "/exam/early")
	if body.Data.(map[string]any)["early_access"] != true {
		t.Error("early access not flagged")
	}

	if w, body := get(r, "/exam/expired"); w.Code != http.StatusGone || body.Error.Code != response.ErrExamExpired {
		t.Errorf("expired: %d %+v", w.Code, body.Error)
	}
	if w, body := get(r, "/exam/missing"); w.Code != http.StatusNotFound || body.Error.Code != response.ErrExamNotFound {
		t.Errorf("missing: %d %+v", w.Code, body.Error)
	}
}

func TestGetResult(t *testing.T) {
	now := time.Now()
	done := uuid.New()
	exams := &fakeExams{
		sessions: map[string]*model.ExamSession{
			"completed": {ID: done, Status: model.SessionStatusCompleted},
			"pending":   {ID: uuid.New(), Status: model.SessionStatusPending},
		},
		results: map[uuid.UUID]*model.ExamResult{done: {SessionID: done, Percentage: 80, EvaluationStatus: model.EvaluationPassed}},
	}
	r := newExamRouter(exams, now)

	w, body := get(r, "/exam/completed/result")
	if w.Code != http.StatusOK || body.Data.(map[string]any)["evaluation_status"] != "passed" {
		t.Fatalf("completed: %d %v", w.Code, body.Data)
	}
	if w, body := get(r, "/exam/pending/result"); w.Code != http.StatusConflict || body.Error.Code != response.ErrExamNotCompleted {
		t.Fatalf("pending: %d %+v", w.Code, body.Error)
	}
}
