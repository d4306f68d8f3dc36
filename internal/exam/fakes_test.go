package exam

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ─── Store ─────────────────────────────────────────────────────────

type answerKey struct {
	session  uuid.UUID
	question uuid.UUID
}

type fakeStore struct {
	mu         sync.Mutex
	session    *model.ExamSession
	questions  []model.ExamQuestion
	stored     map[answerKey]model.ExamResponse
	submits    []model.SubmitAnswerRequest
	starts     []string
	completes  int
	violations []model.SecurityViolation

	failSubmit   map[uuid.UUID]bool
	blockSubmit  bool
	startErr     error
	completeErr  error
	completeWait time.Duration
	now          func() time.Time
}

func newFakeStore(session *model.ExamSession, questions []model.ExamQuestion) *fakeStore {
	return &fakeStore{
		session:    session,
		questions:  questions,
		stored:     make(map[answerKey]model.ExamResponse),
		failSubmit: make(map[uuid.UUID]bool),
		now:        time.Now,
	}
}

func (s *fakeStore) GetExamByToken(ctx context.Context, token string) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.ExamToken != token {
		return nil, errors.New("session not found")
	}
	cp := *s.session
	return &cp, nil
}

func (s *fakeStore) StartExamSession(ctx context.Context, id uuid.UUID, ip, ua string) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, ip+"|"+ua)
	if s.startErr != nil {
		return nil, s.startErr
	}
	if s.session.Status != model.SessionStatusPending {
		return nil, errors.New("session not pending")
	}
	now := s.now()
	s.session.Status = model.SessionStatusInProgress
	s.session.StartedAt = &now
	cp := *s.session
	return &cp, nil
}

func (s *fakeStore) GetExamQuestions(ctx context.Context, id uuid.UUID) ([]model.ExamQuestion, error) {
	return s.questions, nil
}

func (s *fakeStore) GetSessionAnswers(ctx context.Context, id uuid.UUID) ([]model.ExamResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ExamResponse
	for k, r := range s.stored {
		if k.session == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) SubmitAnswer(ctx context.Context, req model.SubmitAnswerRequest) (*model.ExamResponse, error) {
	s.mu.Lock()
	s.submits = append(s.submits, req)
	fail := s.failSubmit[req.QuestionID]
	block := s.blockSubmit
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, errors.New("network error")
	}

	resp := model.ExamResponse{
		ID:         uuid.New(),
		SessionID:  req.SessionID,
		QuestionID: req.QuestionID,
		AnswerText: req.AnswerText,
		AnsweredAt: s.now(),
	}
	s.mu.Lock()
	s.stored[answerKey{req.SessionID, req.QuestionID}] = resp
	s.mu.Unlock()
	return &resp, nil
}

func (s *fakeStore) CompleteExam(ctx context.Context, id uuid.UUID) (*model.ExamResult, error) {
	s.mu.Lock()
	s.completes++
	wait := s.completeWait
	err := s.completeErr
	s.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.session.Status = model.SessionStatusCompleted
	s.mu.Unlock()
	return &model.ExamResult{SessionID: id, EvaluationStatus: model.EvaluationPassed}, nil
}

func (s *fakeStore) LogSecurityViolation(ctx context.Context, id uuid.UUID, v model.SecurityViolation) {
	s.mu.Lock()
	s.violations = append(s.violations, v)
	s.mu.Unlock()
}

func (s *fakeStore) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submits)
}

func (s *fakeStore) completeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completes
}

// ─── Progress store ────────────────────────────────────────────────

type fakeProgress struct {
	mu       sync.Mutex
	progress map[uuid.UUID]Progress
	orders   map[uuid.UUID][]uuid.UUID
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{
		progress: make(map[uuid.UUID]Progress),
		orders:   make(map[uuid.UUID][]uuid.UUID),
	}
}

func (p *fakeProgress) SaveProgress(ctx context.Context, id uuid.UUID, pr Progress) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress[id] = pr
	return nil
}

func (p *fakeProgress) LoadProgress(ctx context.Context, id uuid.UUID) (*Progress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.progress[id]
	if !ok {
		return nil, nil
	}
	return &pr, nil
}

func (p *fakeProgress) SaveQuestionOrder(ctx context.Context, id uuid.UUID, order []uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[id] = order
	return nil
}

func (p *fakeProgress) LoadQuestionOrder(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orders[id], nil
}

// ─── Client ────────────────────────────────────────────────────────

type fakeFullscreen struct {
	mu     sync.Mutex
	active bool
}

func (f *fakeFullscreen) Vendor() proctor.Vendor { return proctor.VendorStandard }
func (f *fakeFullscreen) Request(ctx context.Context) error {
	f.mu.Lock()
	f.active = true
	f.mu.Unlock()
	return nil
}
func (f *fakeFullscreen) Exit(ctx context.Context) error {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
	return nil
}
func (f *fakeFullscreen) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type notice struct {
	t       NoticeType
	payload any
}

type fakeClient struct {
	mu        sync.Mutex
	listeners map[proctor.EventType][]proctor.Listener
	fs        *fakeFullscreen
	notices   []notice
	navigated []string
	redirects []string
	navErr    error
	navOK     bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		listeners: make(map[proctor.EventType][]proctor.Listener),
		fs:        &fakeFullscreen{},
		navOK:     true,
	}
}

func (c *fakeClient) AddEventListener(t proctor.EventType, _ proctor.ListenerOptions, l proctor.Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[t] = append(c.listeners[t], l)
	idx := len(c.listeners[t]) - 1
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listeners[t][idx] = nil
	}
}

func (c *fakeClient) WindowMetrics() proctor.WindowMetrics {
	return proctor.WindowMetrics{OuterWidth: 1280, OuterHeight: 800, InnerWidth: 1280, InnerHeight: 720}
}
func (c *fakeClient) Fullscreen() []proctor.FullscreenAPI { return []proctor.FullscreenAPI{c.fs} }
func (c *fakeClient) UserAgent() string                   { return "test-agent" }
func (c *fakeClient) RemoteAddr() string                  { return "203.0.113.7" }

func (c *fakeClient) dispatch(ev *proctor.Event) {
	c.mu.Lock()
	ls := append([]proctor.Listener(nil), c.listeners[ev.Type]...)
	c.mu.Unlock()
	for _, l := range ls {
		if l != nil {
			l(ev)
		}
	}
}

func (c *fakeClient) Notify(t NoticeType, payload any) {
	c.mu.Lock()
	c.notices = append(c.notices, notice{t, payload})
	c.mu.Unlock()
}

func (c *fakeClient) noticesOf(t NoticeType) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, n := range c.notices {
		if n.t == t {
			out = append(out, n.payload)
		}
	}
	return out
}

func (c *fakeClient) Navigate(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.navErr != nil {
		return c.navErr
	}
	c.navigated = append(c.navigated, path)
	return nil
}

func (c *fakeClient) HardRedirect(path string) {
	c.mu.Lock()
	c.redirects = append(c.redirects, path)
	c.mu.Unlock()
}

func (c *fakeClient) Navigated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navOK && len(c.navigated) > 0
}

func (c *fakeClient) navigations() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.navigated...), append([]string(nil), c.redirects...)
}

// ─── Helpers ───────────────────────────────────────────────────────

func newSession(status model.SessionStatus, duration int, startedAt *time.Time) *model.ExamSession {
	return &model.ExamSession{
		ID:              uuid.New(),
		ExamToken:       "tok-" + uuid.NewString(),
		CandidateID:     uuid.New(),
		Status:          status,
		DurationMinutes: duration,
		TotalQuestions:  3,
		StartedAt:       startedAt,
	}
}

func newQuestions(n int) []model.ExamQuestion {
	qs := make([]model.ExamQuestion, n)
	for i := range qs {
		qs[i] = model.ExamQuestion{
			ID:            uuid.New(),
			QuestionText:  "Question",
			QuestionType:  model.QuestionTypeMCQ,
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: "A",
			Points:        1,
			Category:      model.CategoryTechnical,
		}
	}
	return qs
}

func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
