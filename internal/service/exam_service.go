package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/event"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

var (
	ErrSessionNotFound   = errors.New("exam not found or expired")
	ErrSessionNotPending = errors.New("exam session is not pending")
	ErrSessionClosed     = errors.New("exam session is not in progress")
	ErrQuestionNotFound  = errors.New("question is not part of this exam")
	ErrNoQuestions       = errors.New("no questions available for this exam")
)

// ExamService is the server side of a candidate's exam session.
type ExamService struct {
	sessionRepo  *repository.ExamSessionRepository
	questionRepo *repository.QuestionRepository
	responseRepo *repository.ResponseRepository
	resultRepo   *repository.ResultRepository
	rdb          *redis.Client
	events       event.Publisher
	monitor      *MonitorService
	evaluator    Evaluator
	log          zerolog.Logger
	now          func() time.Time
}

// NewExamService creates a new ExamService.
func NewExamService(
	sessionRepo *repository.ExamSessionRepository,
	questionRepo *repository.QuestionRepository,
	responseRepo *repository.ResponseRepository,
	resultRepo *repository.ResultRepository,
	rdb *redis.Client,
	events event.Publisher,
	monitor *MonitorService,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		sessionRepo:  sessionRepo,
		questionRepo: questionRepo,
		responseRepo: responseRepo,
		resultRepo:   resultRepo,
		rdb:          rdb,
		events:       events,
		monitor:      monitor,
		evaluator:    DefaultEvaluator(),
		log:          log.With().Str("component", "exam_service").Logger(),
		now:          time.Now,
	}
}

// GetExamByToken returns the session behind a candidate token. A pending
// session whose access window has closed is expired on read.
func (s *ExamService) GetExamByToken(ctx context.Context, token string) (*model.ExamSession, error) {
	session, err := s.sessionRepo.GetByToken(ctx, token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if session.Status == model.SessionStatusPending && session.ExpiresAt != nil && s.now().After(*session.ExpiresAt) {
		if err := s.Expire(ctx, session); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// Expire marks a pending session expired and announces it.
func (s *ExamService) Expire(ctx context.Context, session *model.ExamSession) error {
	changed, err := s.sessionRepo.Expire(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("expire session: %w", err)
	}
	if !changed {
		// Started or expired concurrently; report what is stored.
		current, err := s.sessionRepo.GetByID(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("reload session: %w", err)
		}
		*session = *current
		return nil
	}
	session.Status = model.SessionStatusExpired

	metrics.SessionTransitions.WithLabelValues(string(model.SessionStatusExpired)).Inc()
	s.log.Info().Str("session_id", session.ID.String()).Msg("Exam session expired")
	s.announce(ctx, event.NewExamEvent(event.EventTypeExamExpired, session.ID, session.CandidateID), session)
	return nil
}

// StartExamSession moves a pending session to in_progress, recording the
// candidate's IP and user agent.
func (s *ExamService) StartExamSession(ctx context.Context, sessionID uuid.UUID, ip, userAgent string) (*model.ExamSession, error) {
	session, err := s.sessionRepo.Start(ctx, sessionID, ip, userAgent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotPending
	}
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	metrics.SessionTransitions.WithLabelValues(string(model.SessionStatusInProgress)).Inc()
	s.log.Info().Str("session_id", sessionID.String()).Str("ip", ip).Msg("Exam session started")
	s.announce(ctx, event.NewExamEvent(event.EventTypeExamStarted, session.ID, session.CandidateID), session)
	return session, nil
}

// GetExamQuestions returns the session's working set, drawing it from the
// question pool on first use.
func (s *ExamService) GetExamQuestions(ctx context.Context, sessionID uuid.UUID) ([]model.ExamQuestion, error) {
	questions, err := s.questionRepo.ListForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session questions: %w", err)
	}
	if len(questions) > 0 {
		return questions, nil
	}

	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	pool, err := s.questionRepo.ListPool(ctx, session.JobDescriptionID)
	if err != nil {
		return nil, fmt.Errorf("list question pool: %w", err)
	}
	selected := selectQuestions(pool, session.TotalQuestions, nil)
	if len(selected) == 0 {
		return nil, ErrNoQuestions
	}
	if len(selected) < session.TotalQuestions {
		s.log.Warn().
			Str("session_id", sessionID.String()).
			Int("wanted", session.TotalQuestions).
			Int("available", len(selected)).
			Msg("Question pool smaller than requested working set")
	}

	ids := make([]uuid.UUID, len(selected))
	for i, q := range selected {
		ids[i] = q.ID
	}
	if err := s.questionRepo.AssignToSession(ctx, sessionID, ids); err != nil {
		return nil, fmt.Errorf("assign questions: %w", err)
	}

	// Re-read so a concurrent first load that won the insert is honored.
	return s.questionRepo.ListForSession(ctx, sessionID)
}

// SubmitAnswer evaluates and records an answer. The latest answer for a
// question replaces earlier ones; the answer lands in Redis immediately and
// is persisted to PostgreSQL by the answer worker.
func (s *ExamService) SubmitAnswer(ctx context.Context, req model.SubmitAnswerRequest) (*model.ExamResponse, error) {
	session, err := s.sessionRepo.GetByID(ctx, req.SessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.Status != model.SessionStatusInProgress {
		return nil, ErrSessionClosed
	}

	question, err := s.questionRepo.GetForSession(ctx, req.SessionID, req.QuestionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQuestionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}

	verdict := s.evaluator.Evaluate(question, req.AnswerText)
	resp := &model.ExamResponse{
		ID:           ResponseID(req.SessionID, req.QuestionID),
		SessionID:    req.SessionID,
		QuestionID:   req.QuestionID,
		AnswerText:   req.AnswerText,
		IsCorrect:    verdict.IsCorrect,
		PointsEarned: verdict.PointsEarned,
		AnsweredAt:   s.now().UTC(),
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	sid := req.SessionID.String()
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, config.CacheKey.SessionAnswersKey(sid), req.QuestionID.String(), data)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}

	s.monitor.Publish(ctx, MonitorMessage{
		Type:      MonitorAnswer,
		SessionID: req.SessionID,
		Payload:   map[string]string{"question_id": req.QuestionID.String()},
	})
	return resp, nil
}

// GetSessionAnswers returns the latest answer per question.
func (s *ExamService) GetSessionAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.ExamResponse, error) {
	stored, err := s.responseRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	cached, err := s.cachedAnswers(ctx, sessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Cached answers unavailable")
	}
	return MergeResponses(stored, cached), nil
}

// CompleteExam scores the session, stores the result and marks the session
// completed. Completing a completed session returns the stored result.
func (s *ExamService) CompleteExam(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	switch session.Status {
	case model.SessionStatusCompleted:
		return s.storedResult(ctx, sessionID)
	case model.SessionStatusInProgress:
	default:
		return nil, ErrSessionClosed
	}

	questions, err := s.questionRepo.ListForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session questions: %w", err)
	}
	responses, err := s.GetSessionAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := ComputeResult(session, questions, responses, s.now())
	if err := s.sessionRepo.Complete(ctx, result, responses); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost a race with another completion.
			return s.storedResult(ctx, sessionID)
		}
		return nil, fmt.Errorf("complete session: %w", err)
	}

	sid := sessionID.String()
	if err := s.rdb.Del(ctx, config.CacheKey.SessionAnswersKey(sid)).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sid).Msg("Failed to clear cached answers")
	}

	metrics.SessionTransitions.WithLabelValues(string(model.SessionStatusCompleted)).Inc()
	s.log.Info().
		Str("session_id", sid).
		Int("score", result.TotalScore).
		Int("max_score", result.MaxScore).
		Str("evaluation", string(result.EvaluationStatus)).
		Msg("Exam completed")

	session.Status = model.SessionStatusCompleted
	ev := event.NewExamEvent(event.EventTypeExamCompleted, session.ID, session.CandidateID)
	ev.Percentage = &result.Percentage
	ev.EvaluationStatus = string(result.EvaluationStatus)
	s.announce(ctx, ev, session)
	return result, nil
}

// GetResult returns a completed session's result.
func (s *ExamService) GetResult(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	return s.storedResult(ctx, sessionID)
}

// LogSecurityViolation queues a violation for the audit log and forwards it
// to the live feed. Failures are logged and never returned.
func (s *ExamService) LogSecurityViolation(ctx context.Context, sessionID uuid.UUID, v model.SecurityViolation) {
	record := model.ViolationRecord{
		SessionID: sessionID,
		Type:      v.Type,
		Details:   v.Details,
		Severity:  v.Severity,
		Timestamp: v.Timestamp,
	}
	data, err := json.Marshal(record)
	if err != nil {
		s.log.Error().Err(err).Msg("Marshal violation")
		return
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err(); err != nil {
		s.log.Error().Err(err).
			Str("session_id", sessionID.String()).
			Str("type", string(v.Type)).
			Msg("Failed to queue security violation")
	}
	s.monitor.Publish(ctx, MonitorMessage{Type: MonitorViolation, SessionID: sessionID, Payload: v})
}

func (s *ExamService) storedResult(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	res, err := s.resultRepo.GetBySession(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return res, nil
}

func (s *ExamService) cachedAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.ExamResponse, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.SessionAnswersKey(sessionID.String())).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.ExamResponse, 0, len(raw))
	for qid, data := range raw {
		var resp model.ExamResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			s.log.Warn().Err(err).Str("question_id", qid).Msg("Discarding malformed cached answer")
			continue
		}
		out = append(out, resp)
	}
	return out, nil
}

// announce publishes a lifecycle event and mirrors it to the live feed.
func (s *ExamService) announce(ctx context.Context, ev *event.ExamEvent, session *model.ExamSession) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish exam event")
	}
	s.monitor.Publish(ctx, MonitorMessage{
		Type:      MonitorStatus,
		SessionID: session.ID,
		Payload:   map[string]string{"status": string(session.Status), "event": string(ev.Type)},
	})
}

// ResponseID derives a stable response ID from session and question so that
// replayed writes land on the same row.
func ResponseID(sessionID, questionID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(sessionID, questionID[:])
}

// MergeResponses keeps the latest answer per question across both sources.
func MergeResponses(stored, cached []model.ExamResponse) []model.ExamResponse {
	latest := make(map[uuid.UUID]model.ExamResponse, len(stored)+len(cached))
	for _, src := range [][]model.ExamResponse{stored, cached} {
		for _, r := range src {
			if cur, ok := latest[r.QuestionID]; ok && cur.AnsweredAt.After(r.AnsweredAt) {
				continue
			}
			latest[r.QuestionID] = r
		}
	}
	out := make([]model.ExamResponse, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	return out
}

// ComputeResult scores a session. The maximum score covers every question of
// the working set, so skipped questions count against the percentage.
func ComputeResult(session *model.ExamSession, questions []model.ExamQuestion, responses []model.ExamResponse, now time.Time) *model.ExamResult {
	byID := make(map[uuid.UUID]*model.ExamQuestion, len(questions))
	res := &model.ExamResult{SessionID: session.ID, CandidateID: session.CandidateID}
	for i := range questions {
		q := &questions[i]
		byID[q.ID] = q
		res.MaxScore += max(q.Points, 1)
	}

	answered := 0
	for _, r := range responses {
		q, ok := byID[r.QuestionID]
		if !ok {
			continue
		}
		answered++
		res.TotalScore += r.PointsEarned
		if r.IsCorrect {
			res.CorrectAnswers++
		}
		switch q.Category {
		case model.CategoryTechnical:
			res.TechnicalScore += r.PointsEarned
		case model.CategoryAptitude:
			res.AptitudeScore += r.PointsEarned
		}
	}
	res.WrongAnswers = answered - res.CorrectAnswers

	total := len(questions)
	if total == 0 {
		total = session.TotalQuestions
	}
	res.SkippedQuestions = max(total-answered, 0)

	if res.MaxScore > 0 {
		pct := float64(res.TotalScore) / float64(res.MaxScore) * 100
		res.Percentage = math.Round(pct*100) / 100
	}
	res.EvaluationStatus = model.EvaluationFailed
	if res.Percentage >= model.PassingPercentage {
		res.EvaluationStatus = model.EvaluationPassed
	}

	if session.StartedAt != nil {
		res.TimeTakenMinutes = int(math.Round(now.Sub(*session.StartedAt).Minutes()))
	}
	return res
}
