package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// MonitorMessageType names a live feed entry.
type MonitorMessageType string

const (
	MonitorViolation MonitorMessageType = "violation"
	MonitorStatus    MonitorMessageType = "status"
	MonitorAnswer    MonitorMessageType = "answer"
)

// MonitorMessage is one entry of a session's live feed.
type MonitorMessage struct {
	Type      MonitorMessageType `json:"type"`
	SessionID uuid.UUID          `json:"exam_session_id"`
	Payload   any                `json:"payload,omitempty"`
	At        time.Time          `json:"at"`
}

// SessionReview is what a recruiter sees for one session.
type SessionReview struct {
	Session       *model.ExamSession      `json:"session"`
	AnsweredCount int64                   `json:"answered_count"`
	Violations    *model.ViolationSummary `json:"violations"`
	Result        *model.ExamResult       `json:"result,omitempty"`
}

// MonitorService feeds the recruiter security dashboard.
type MonitorService struct {
	sessionRepo   *repository.ExamSessionRepository
	violationRepo *repository.ViolationRepository
	resultRepo    *repository.ResultRepository
	rdb           *redis.Client
	log           zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(
	sessionRepo *repository.ExamSessionRepository,
	violationRepo *repository.ViolationRepository,
	resultRepo *repository.ResultRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *MonitorService {
	return &MonitorService{
		sessionRepo:   sessionRepo,
		violationRepo: violationRepo,
		resultRepo:    resultRepo,
		rdb:           rdb,
		log:           log.With().Str("component", "monitor_service").Logger(),
	}
}

// Publish pushes msg to the session's live feed. Delivery is best-effort.
func (s *MonitorService) Publish(ctx context.Context, msg MonitorMessage) {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("Marshal monitor message")
		return
	}
	channel := config.CacheKey.SessionMonitorChannel(msg.SessionID.String())
	if err := s.rdb.Publish(ctx, channel, data).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", msg.SessionID.String()).Msg("Publish monitor message failed")
	}
}

// Subscribe attaches to a session's live feed. The caller closes it.
func (s *MonitorService) Subscribe(ctx context.Context, sessionID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.SessionMonitorChannel(sessionID.String()))
}

// Review gathers the session, its violation log, live answer count and result.
// The violation log and answer count are fetched concurrently.
func (s *MonitorService) Review(ctx context.Context, sessionID uuid.UUID) (*SessionReview, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var (
		violations    []model.ViolationRecord
		answered      int64
		violationsErr error
		answeredErr   error
		wg            sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		violations, violationsErr = s.violationRepo.ListBySession(ctx, sessionID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		answered, answeredErr = s.rdb.HLen(ctx, config.CacheKey.SessionAnswersKey(sessionID.String())).Result()
	}()

	wg.Wait()

	// The violation log is critical; the live count is best-effort.
	if violationsErr != nil {
		return nil, fmt.Errorf("list violations: %w", violationsErr)
	}
	if answeredErr != nil {
		s.log.Warn().Err(answeredErr).Msg("Answer count unavailable")
	}

	review := &SessionReview{
		Session:       session,
		AnsweredCount: answered,
		Violations:    SummarizeViolations(violations),
	}

	if session.Status == model.SessionStatusCompleted {
		res, err := s.resultRepo.GetBySession(ctx, sessionID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get result: %w", err)
		}
		review.Result = res
	}
	return review, nil
}

// ListSessions pages through sessions in one status, most recently touched first.
func (s *MonitorService) ListSessions(ctx context.Context, status model.SessionStatus, page, perPage int) ([]model.ExamSession, int, error) {
	if page < 1 {
		page = 1
	}
	total, err := s.sessionRepo.CountByStatus(ctx, status)
	if err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	sessions, err := s.sessionRepo.ListByStatus(ctx, status, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []model.ExamSession{}
	}
	return sessions, total, nil
}

// QueueDepths reports the backlog of every persistence queue in one round trip.
func (s *MonitorService) QueueDepths(ctx context.Context) (map[string]int64, error) {
	queues := []string{
		config.WorkerKey.PersistAnswersQueue,
		config.WorkerKey.PersistViolationsQueue,
		config.WorkerKey.PersistQuestionOrderQueue,
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(queues))
	for i, q := range queues {
		cmds[i] = pipe.LLen(ctx, q)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue depths: %w", err)
	}
	depths := make(map[string]int64, len(queues))
	for i, q := range queues {
		depths[q] = cmds[i].Val()
	}
	return depths, nil
}

// SummarizeViolations counts a violation log by severity.
func SummarizeViolations(records []model.ViolationRecord) *model.ViolationSummary {
	summary := &model.ViolationSummary{
		Total: len(records),
		BySeverity: map[model.Severity]int{
			model.SeverityLow:    0,
			model.SeverityMedium: 0,
			model.SeverityHigh:   0,
		},
		Violations: records,
	}
	if summary.Violations == nil {
		summary.Violations = []model.ViolationRecord{}
	}
	for _, v := range records {
		summary.BySeverity[v.Severity]++
	}
	return summary
}
