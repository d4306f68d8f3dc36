package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ResponseRepository handles candidate answer data access.
type ResponseRepository struct {
	pool *pgxpool.Pool
}

// NewResponseRepository creates a new ResponseRepository.
func NewResponseRepository(pool *pgxpool.Pool) *ResponseRepository {
	return &ResponseRepository{pool: pool}
}

// Upsert stores one response keyed by (session, question).
func (r *ResponseRepository) Upsert(ctx context.Context, resp *model.ExamResponse) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_responses (id, exam_session_id, question_id, answer_text, is_correct, points_earned, answered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (exam_session_id, question_id) DO UPDATE
		 SET answer_text = EXCLUDED.answer_text,
		     is_correct = EXCLUDED.is_correct,
		     points_earned = EXCLUDED.points_earned,
		     answered_at = EXCLUDED.answered_at
		 WHERE exam_responses.answered_at <= EXCLUDED.answered_at`,
		resp.ID, resp.SessionID, resp.QuestionID, resp.AnswerText, resp.IsCorrect, resp.PointsEarned, resp.AnsweredAt,
	)
	return err
}

// BulkUpsert stores many responses in one statement.
func (r *ResponseRepository) BulkUpsert(ctx context.Context, responses []model.ExamResponse) error {
	return upsertResponses(ctx, r.pool, responses)
}

func upsertResponses(ctx context.Context, db execer, responses []model.ExamResponse) error {
	if len(responses) == 0 {
		return nil
	}

	n := len(responses)
	ids := make([]uuid.UUID, 0, n)
	sessions := make([]uuid.UUID, 0, n)
	questions := make([]uuid.UUID, 0, n)
	answers := make([]string, 0, n)
	correct := make([]bool, 0, n)
	points := make([]int32, 0, n)
	answeredAt := make([]time.Time, 0, n)

	for _, resp := range responses {
		ids = append(ids, resp.ID)
		sessions = append(sessions, resp.SessionID)
		questions = append(questions, resp.QuestionID)
		answers = append(answers, resp.AnswerText)
		correct = append(correct, resp.IsCorrect)
		points = append(points, int32(resp.PointsEarned))
		answeredAt = append(answeredAt, resp.AnsweredAt)
	}

	_, err := db.Exec(ctx,
		`INSERT INTO exam_responses (id, exam_session_id, question_id, answer_text, is_correct, points_earned, answered_at)
		 SELECT * FROM UNNEST($1::uuid[], $2::uuid[], $3::uuid[], $4::text[], $5::bool[], $6::int[], $7::timestamptz[])
		 ON CONFLICT (exam_session_id, question_id) DO UPDATE
		 SET answer_text = EXCLUDED.answer_text,
		     is_correct = EXCLUDED.is_correct,
		     points_earned = EXCLUDED.points_earned,
		     answered_at = EXCLUDED.answered_at
		 WHERE exam_responses.answered_at <= EXCLUDED.answered_at`,
		ids, sessions, questions, answers, correct, points, answeredAt,
	)
	return err
}

// ListBySession returns all responses stored for a session.
func (r *ResponseRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ExamResponse, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_session_id, question_id, answer_text, is_correct, points_earned, answered_at
		 FROM exam_responses
		 WHERE exam_session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ExamResponse, error) {
		var resp model.ExamResponse
		err := row.Scan(&resp.ID, &resp.SessionID, &resp.QuestionID, &resp.AnswerText,
			&resp.IsCorrect, &resp.PointsEarned, &resp.AnsweredAt)
		return resp, err
	})
}
