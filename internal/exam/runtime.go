package exam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

var (
	ErrSessionExpired   = errors.New("this exam has expired")
	ErrSessionCompleted = errors.New("this exam has already been completed")
	ErrNotYetOpen       = errors.New("this exam is not open yet")
	ErrNotLoaded        = errors.New("exam is not loaded")
	ErrUnknownQuestion  = errors.New("question is not part of this exam")
	ErrLoadInProgress   = errors.New("exam is already loading")
	ErrRuntimeClosed    = errors.New("exam runtime is closed")
)

// ExamStore is the server side of the exam as seen by a candidate runtime.
type ExamStore interface {
	AnswerSink
	Completer
	GetExamByToken(ctx context.Context, token string) (*model.ExamSession, error)
	StartExamSession(ctx context.Context, sessionID uuid.UUID, ip, userAgent string) (*model.ExamSession, error)
	GetExamQuestions(ctx context.Context, sessionID uuid.UUID) ([]model.ExamQuestion, error)
	GetSessionAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.ExamResponse, error)
	// LogSecurityViolation is fire-and-forget: failures are logged, never returned.
	LogSecurityViolation(ctx context.Context, sessionID uuid.UUID, v model.SecurityViolation)
}

// NoticeType names a message pushed to the candidate.
type NoticeType string

const (
	NoticeState           NoticeType = "state"
	NoticeQuestions       NoticeType = "questions"
	NoticeTick            NoticeType = "tick"
	NoticeSaveStatus      NoticeType = "save_status"
	NoticeViolationAlert  NoticeType = "violation_alert"
	NoticeConsentError    NoticeType = "consent_error"
	NoticeConsentDeclined NoticeType = "consent_declined"
	NoticeExamStarted     NoticeType = "exam_started"
	NoticeSubmitPrompt    NoticeType = "submit_prompt"
	NoticeSubmissionError NoticeType = "submission_error"
)

// Client is the candidate's browser: the proctored environment, the
// navigation surface and a notification channel.
type Client interface {
	proctor.Environment
	Navigator
	Notify(t NoticeType, payload any)
	RemoteAddr() string
}

// QuestionsPayload is sent once questions are loaded and progress restored.
type QuestionsPayload struct {
	Questions    []model.QuestionForCandidate `json:"questions"`
	Answers      map[uuid.UUID]string         `json:"answers"`
	CurrentIndex int                          `json:"current_index"`
}

// SubmitPrompt is the confirmation shown before a manual submission.
type SubmitPrompt struct {
	Unanswered int `json:"unanswered"`
	Total      int `json:"total"`
}

type tickPayload struct {
	RemainingSeconds int `json:"remaining_seconds"`
}

// Runtime drives one candidate's exam: consent gate, security monitor,
// timer, answer pipeline and submission.
type Runtime struct {
	token      string
	store      ExamStore
	progress   ProgressStore
	client     Client
	cfg        config.ExamConfig
	monitorCfg proctor.Config
	log        zerolog.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	session   *model.ExamSession
	questions []model.QuestionForCandidate
	loading   bool
	loaded    bool
	closed    bool

	monitor *proctor.Monitor
	gate    *proctor.Gate
	timer   *Timer
	answers *AnswerPipeline
	coord   *Coordinator
}

// NewRuntime creates a runtime bound to one exam token. Background loops stop
// when ctx is done or Close is called.
func NewRuntime(
	ctx context.Context,
	token string,
	store ExamStore,
	progress ProgressStore,
	client Client,
	cfg config.ExamConfig,
	monitorCfg proctor.Config,
	log zerolog.Logger,
) *Runtime {
	ctx, cancel := context.WithCancel(ctx)
	return &Runtime{
		token:      token,
		store:      store,
		progress:   progress,
		client:     client,
		cfg:        cfg,
		monitorCfg: monitorCfg,
		log:        log.With().Str("component", "exam_runtime").Logger(),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Load fetches the session, restores progress and loads the ordered questions.
// Completed sessions are sent to their results page. Once loaded, further
// calls only resend the current state and questions.
func (r *Runtime) Load(ctx context.Context) (*model.ExamSessionState, error) {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return nil, ErrRuntimeClosed
	case r.loaded:
		r.mu.Unlock()
		return r.resend(), nil
	case r.loading:
		r.mu.Unlock()
		return nil, ErrLoadInProgress
	}
	r.loading = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.loading = false
		r.mu.Unlock()
	}()

	session, err := r.store.GetExamByToken(ctx, r.token)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case model.SessionStatusExpired:
		return nil, ErrSessionExpired
	case model.SessionStatusCompleted:
		if err := r.client.Navigate(r.cfg.ResultsPathPrefix + session.ID.String()); err != nil {
			r.log.Warn().Err(err).Msg("Failed to navigate to results")
		}
		return nil, ErrSessionCompleted
	}

	r.log = r.log.With().Str("session_id", session.ID.String()).Logger()

	r.monitor = proctor.NewMonitor(r.client, r.monitorCfg, r.log)
	r.gate = proctor.NewGate(r.monitor, r.client, proctor.GateHooks{
		OnExamStart: r.onExamStart,
		OnExamEnd:   r.onExamEnd,
		OnViolation: r.onViolation,
	}, CalculateRemainingTime(session, r.now()), r.cfg.FullscreenVerify, r.log)
	r.answers = NewAnswerPipeline(session.ID, session.Status, r.store, r.progress,
		r.cfg.AutosaveInterval, r.cfg.AnswerSaveTimeout, r.onSaveStatus, r.log)
	r.timer = NewTimer(r.onTick, r.handleTimeUp, r.log)
	r.timer.now = r.now
	r.timer.SetSession(session)
	r.coord = NewCoordinator(session.ID, r.answers, r.gate, r.store, r.client, r.cfg, r.onSubmissionError, r.log)

	questions, err := r.store.GetExamQuestions(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	forCandidate := make([]model.QuestionForCandidate, len(questions))
	for i := range questions {
		forCandidate[i] = questions[i].ForCandidate()
	}
	ordered := OrderQuestions(ctx, r.progress, session.ID, forCandidate, nil, r.log)
	order := make([]uuid.UUID, len(ordered))
	for i, q := range ordered {
		order[i] = q.ID
	}
	r.answers.SetQuestionOrder(order)

	remote := RemoteAnswers{Answers: make(map[uuid.UUID]string)}
	responses, err := r.store.GetSessionAnswers(ctx, session.ID)
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to fetch stored answers, restoring from mirror only")
	}
	for _, resp := range responses {
		remote.Answers[resp.QuestionID] = resp.AnswerText
		if resp.AnsweredAt.After(remote.UpdatedAt) {
			remote.UpdatedAt = resp.AnsweredAt
		}
	}
	progress := r.answers.Restore(ctx, remote)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRuntimeClosed
	}
	r.session = session
	r.questions = ordered
	r.loaded = true
	r.mu.Unlock()
	metrics.ActiveRuntimes.Inc()

	r.timer.UpdateGates(func(g *TimerGates) { g.QuestionsLoaded = true })
	r.spawn(func() { r.timer.Run(r.ctx) })

	state := r.state()
	r.client.Notify(NoticeState, state)
	r.client.Notify(NoticeQuestions, QuestionsPayload{
		Questions:    ordered,
		Answers:      progress.Answers,
		CurrentIndex: progress.CurrentIndex,
	})
	r.timer.Check()
	return state, nil
}

// CloseInstructions opens the last timer gate held by the candidate.
func (r *Runtime) CloseInstructions() error {
	if !r.isLoaded() {
		return ErrNotLoaded
	}
	r.timer.UpdateGates(func(g *TimerGates) { g.InstructionsClosed = true })
	r.timer.Check()
	return nil
}

// AcceptConsent runs the fullscreen consent gate. A *proctor.FullscreenError
// is also pushed to the candidate as a consent_error notice.
func (r *Runtime) AcceptConsent(ctx context.Context) error {
	if !r.isLoaded() {
		return ErrNotLoaded
	}
	if s := r.currentSession(); s.ScheduledStartAt != nil && r.now().Before(*s.ScheduledStartAt) {
		return ErrNotYetOpen
	}

	err := r.gate.Accept(ctx)
	var fsErr *proctor.FullscreenError
	if errors.As(err, &fsErr) {
		r.client.Notify(NoticeConsentError, map[string]string{"message": fsErr.Remediation})
	}
	return err
}

// DeclineConsent keeps the gate closed and pushes the explanation.
func (r *Runtime) DeclineConsent() error {
	if !r.isLoaded() {
		return ErrNotLoaded
	}
	r.client.Notify(NoticeConsentDeclined, map[string]string{"message": r.gate.Decline()})
	return nil
}

// Answer captures an answer for a question of this exam.
func (r *Runtime) Answer(ctx context.Context, questionID uuid.UUID, answer string) error {
	if !r.isLoaded() {
		return ErrNotLoaded
	}
	if !r.hasQuestion(questionID) {
		return ErrUnknownQuestion
	}
	if r.coord.State() == SubmissionCompleted {
		return ErrAlreadySubmitted
	}

	err := r.answers.Capture(ctx, questionID, answer)
	r.timer.Check()
	return err
}

// GoTo moves the candidate to the question at index.
func (r *Runtime) GoTo(ctx context.Context, index int) error {
	if !r.isLoaded() {
		return ErrNotLoaded
	}
	_, err := r.answers.SetCurrentIndex(ctx, index)
	r.timer.Check()
	return err
}

// RequestSubmit returns the confirmation prompt for a manual submission.
func (r *Runtime) RequestSubmit() (SubmitPrompt, error) {
	if !r.isLoaded() {
		return SubmitPrompt{}, ErrNotLoaded
	}
	r.mu.Lock()
	total := len(r.questions)
	r.mu.Unlock()

	prompt := SubmitPrompt{Unanswered: r.answers.UnansweredCount(), Total: total}
	r.client.Notify(NoticeSubmitPrompt, prompt)
	return prompt, nil
}

// ConfirmSubmit runs the manual submission.
func (r *Runtime) ConfirmSubmit() error {
	if !r.isLoaded() {
		return ErrNotLoaded
	}
	return r.coord.Submit(r.ctx, TriggerManual)
}

// Session returns the latest session snapshot.
func (r *Runtime) Session() *model.ExamSession {
	return r.currentSession()
}

// Close tears the runtime down. Monitoring is stopped if still active.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	loaded := r.loaded
	r.mu.Unlock()

	r.cancel()
	if loaded {
		r.gate.Teardown()
		r.coord.Stop()
	}
	r.wg.Wait()

	if loaded {
		metrics.ActiveRuntimes.Dec()
	}
	r.log.Debug().Msg("Exam runtime closed")
}

// ─── Gate hooks ────────────────────────────────────────────────────

func (r *Runtime) onExamStart(ctx context.Context) {
	session := r.currentSession()

	if session.Status == model.SessionStatusPending {
		started, err := r.store.StartExamSession(ctx, session.ID, r.client.RemoteAddr(), r.client.UserAgent())
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to start exam session, continuing with existing session")
			if refreshed, ferr := r.store.GetExamByToken(ctx, r.token); ferr == nil {
				started = refreshed
			} else {
				started = session
			}
		}
		session = started
		r.mu.Lock()
		r.session = session
		r.mu.Unlock()
	}

	r.timer.SetSession(session)
	r.timer.UpdateGates(func(g *TimerGates) { g.ExamStarted = true })

	if session.Status == model.SessionStatusInProgress {
		r.answers.Activate(ctx)
		r.spawn(func() { r.answers.Run(r.ctx) })
	} else {
		r.log.Warn().Str("status", string(session.Status)).Msg("Exam started but session is not in progress")
	}

	r.client.Notify(NoticeExamStarted, r.state())
	r.timer.Check()
}

func (r *Runtime) onExamEnd(ctx context.Context) {
	r.timer.UpdateGates(func(g *TimerGates) { g.ExamStarted = false })
	r.answers.SetStatus(model.SessionStatusCompleted)
}

func (r *Runtime) onViolation(v model.SecurityViolation) {
	session := r.currentSession()
	r.store.LogSecurityViolation(r.ctx, session.ID, v)
	metrics.ViolationsTotal.WithLabelValues(string(v.Type), string(v.Severity)).Inc()

	if v.Severity == model.SeverityHigh {
		r.client.Notify(NoticeViolationAlert, v)
	}
}

// ─── Timer and pipeline callbacks ──────────────────────────────────

func (r *Runtime) onTick(remaining time.Duration) {
	r.client.Notify(NoticeTick, tickPayload{RemainingSeconds: int(remaining.Seconds())})
}

// handleTimeUp is the single expiry entry point. The coordinator's guard
// makes repeated calls no-ops; a failed sequence is left to its own
// redirect fallback rather than retried every tick.
func (r *Runtime) handleTimeUp() {
	if r.coord.State() != SubmissionIdle {
		return
	}
	r.spawn(func() {
		if err := r.coord.Submit(r.ctx, TriggerTimeUp); err != nil &&
			!errors.Is(err, ErrSubmissionInProgress) && !errors.Is(err, ErrAlreadySubmitted) {
			r.log.Error().Err(err).Msg("Time-up submission failed")
		}
	})
}

func (r *Runtime) onSaveStatus(s SaveStatus) {
	r.client.Notify(NoticeSaveStatus, map[string]SaveStatus{"status": s})
}

func (r *Runtime) onSubmissionError(msg string) {
	r.client.Notify(NoticeSubmissionError, map[string]string{"message": msg})
}

// ─── Internals ─────────────────────────────────────────────────────

// spawn runs fn on a goroutine tracked by Close. Nothing is started once the
// runtime is closed, so Add never races Close's Wait.
func (r *Runtime) spawn(fn func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// resend pushes the loaded state and questions again without rebuilding anything.
func (r *Runtime) resend() *model.ExamSessionState {
	r.mu.Lock()
	questions := r.questions
	r.mu.Unlock()

	state := r.state()
	r.client.Notify(NoticeState, state)
	r.client.Notify(NoticeQuestions, QuestionsPayload{
		Questions:    questions,
		Answers:      r.answers.Answers(),
		CurrentIndex: r.answers.CurrentIndex(),
	})
	return state
}

func (r *Runtime) state() *model.ExamSessionState {
	session := r.currentSession()
	state := &model.ExamSessionState{
		Session:          session,
		RemainingSeconds: CalculateRemainingTime(session, r.now()).Seconds(),
	}
	if session.ScheduledStartAt != nil && r.now().Before(*session.ScheduledStartAt) {
		state.EarlyAccess = true
	}
	return state
}

func (r *Runtime) currentSession() *model.ExamSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func (r *Runtime) isLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded && !r.closed
}

func (r *Runtime) hasQuestion(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.questions {
		if q.ID == id {
			return true
		}
	}
	return false
}

// Violations returns the monitor's current log.
func (r *Runtime) Violations() []model.SecurityViolation {
	r.mu.Lock()
	loaded := r.loaded
	r.mu.Unlock()
	if !loaded {
		return nil
	}
	return r.monitor.Violations()
}
