package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const sessionColumns = `id, exam_token, candidate_id, job_description_id, status, duration_minutes,
	total_questions, scheduled_start_at, expires_at, started_at, completed_at,
	ip_address, user_agent, created_at, updated_at`

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := row.Scan(&s.ID, &s.ExamToken, &s.CandidateID, &s.JobDescriptionID, &s.Status, &s.DurationMinutes,
		&s.TotalQuestions, &s.ScheduledStartAt, &s.ExpiresAt, &s.StartedAt, &s.CompletedAt,
		&s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByToken retrieves a session by its candidate-facing token.
func (r *ExamSessionRepository) GetByToken(ctx context.Context, token string) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE exam_token = $1`, token))
}

// GetByID retrieves a session by ID.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

// Create inserts a pending session.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_token, candidate_id, job_description_id, duration_minutes,
		                            total_questions, scheduled_start_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, status, created_at, updated_at`,
		s.ExamToken, s.CandidateID, s.JobDescriptionID, s.DurationMinutes,
		s.TotalQuestions, s.ScheduledStartAt, s.ExpiresAt,
	).Scan(&s.ID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
}

// Start moves a pending session to in_progress and records client info.
// It returns pgx.ErrNoRows when the session is not pending.
func (r *ExamSessionRepository) Start(ctx context.Context, id uuid.UUID, ip, userAgent string) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET status = $2, started_at = NOW(), ip_address = NULLIF($3, ''), user_agent = NULLIF($4, ''), updated_at = NOW()
		 WHERE id = $1 AND status = $5
		 RETURNING `+sessionColumns,
		id, model.SessionStatusInProgress, ip, userAgent, model.SessionStatusPending))
}

// Expire marks a pending session expired. It reports whether a row changed.
// Sessions already in progress are never expired; they are completed instead.
func (r *ExamSessionRepository) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, model.SessionStatusExpired, model.SessionStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Complete writes the final responses and the result and marks the session
// completed, all in one transaction. It returns pgx.ErrNoRows when the session
// is no longer in progress.
func (r *ExamSessionRepository) Complete(ctx context.Context, result *model.ExamResult, responses []model.ExamResponse) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var completedAt time.Time
	err = tx.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET status = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $3
		 RETURNING completed_at`,
		result.SessionID, model.SessionStatusCompleted, model.SessionStatusInProgress,
	).Scan(&completedAt)
	if err != nil {
		return err
	}

	if err := upsertResponses(ctx, tx, responses); err != nil {
		return err
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO exam_results (exam_session_id, candidate_id, total_score, max_score, percentage,
		                           correct_answers, wrong_answers, skipped_questions, technical_score,
		                           aptitude_score, time_taken_minutes, evaluation_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, created_at`,
		result.SessionID, result.CandidateID, result.TotalScore, result.MaxScore, result.Percentage,
		result.CorrectAnswers, result.WrongAnswers, result.SkippedQuestions, result.TechnicalScore,
		result.AptitudeScore, result.TimeTakenMinutes, result.EvaluationStatus,
	).Scan(&result.ID, &result.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListStalePending returns pending sessions whose access window has closed.
func (r *ExamSessionRepository) ListStalePending(ctx context.Context, limit int) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < NOW()
		 LIMIT $2`, model.SessionStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// ListOverdue returns IDs of in-progress sessions whose clock ran out more
// than grace ago, meaning the candidate's own submission never arrived.
func (r *ExamSessionRepository) ListOverdue(ctx context.Context, grace time.Duration, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exam_sessions
		 WHERE status = $1
		   AND started_at + make_interval(mins => duration_minutes) < NOW() - make_interval(secs => $2)
		 LIMIT $3`,
		model.SessionStatusInProgress, grace.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByStatus returns sessions in a given status, newest first.
func (r *ExamSessionRepository) ListByStatus(ctx context.Context, status model.SessionStatus, limit, offset int) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE status = $1
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// CountByStatus returns how many sessions are in a given status.
func (r *ExamSessionRepository) CountByStatus(ctx context.Context, status model.SessionStatus) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exam_sessions WHERE status = $1`, status).Scan(&n)
	return n, err
}
