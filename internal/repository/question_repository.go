package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const questionColumns = `q.id, q.question_text, q.question_type, q.options, q.correct_answer,
	q.points, q.category, COALESCE(q.topic, ''), q.difficulty`

// QuestionRepository handles question data access: the approved question
// pool and each session's fixed working set.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

func collectQuestions(rows pgx.Rows) ([]model.ExamQuestion, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ExamQuestion, error) {
		var q model.ExamQuestion
		err := row.Scan(&q.ID, &q.QuestionText, &q.QuestionType, &q.Options, &q.CorrectAnswer,
			&q.Points, &q.Category, &q.Topic, &q.Difficulty)
		return q, err
	})
}

// ListPool returns the active, approved MCQ questions available for a job
// description. A nil job description selects questions not tied to any.
func (r *QuestionRepository) ListPool(ctx context.Context, jobDescriptionID *uuid.UUID) ([]model.ExamQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+`
		 FROM questions q
		 WHERE q.job_description_id IS NOT DISTINCT FROM $1
		   AND q.status = 'approved'
		   AND q.is_active
		   AND q.question_type = $2`,
		jobDescriptionID, model.QuestionTypeMCQ,
	)
	if err != nil {
		return nil, err
	}
	return collectQuestions(rows)
}

// ListForSession returns a session's working set in assignment order.
func (r *QuestionRepository) ListForSession(ctx context.Context, sessionID uuid.UUID) ([]model.ExamQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+`
		 FROM exam_session_questions sq
		 JOIN questions q ON q.id = sq.question_id
		 WHERE sq.exam_session_id = $1
		 ORDER BY sq.position`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	return collectQuestions(rows)
}

// AssignToSession fixes a session's working set. A set that is already
// assigned is left untouched, so concurrent first loads agree.
func (r *QuestionRepository) AssignToSession(ctx context.Context, sessionID uuid.UUID, questionIDs []uuid.UUID) error {
	positions := make([]int32, len(questionIDs))
	for i := range positions {
		positions[i] = int32(i)
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_session_questions (exam_session_id, question_id, position)
		 SELECT $1, u.question_id, u.position
		 FROM UNNEST($2::uuid[], $3::int[]) AS u (question_id, position)
		 WHERE NOT EXISTS (SELECT 1 FROM exam_session_questions WHERE exam_session_id = $1)
		 ON CONFLICT DO NOTHING`,
		sessionID, questionIDs, positions,
	)
	return err
}

// GetForSession returns one question of a session's working set.
func (r *QuestionRepository) GetForSession(ctx context.Context, sessionID, questionID uuid.UUID) (*model.ExamQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+`
		 FROM exam_session_questions sq
		 JOIN questions q ON q.id = sq.question_id
		 WHERE sq.exam_session_id = $1 AND sq.question_id = $2`, sessionID, questionID,
	)
	if err != nil {
		return nil, err
	}
	q, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (model.ExamQuestion, error) {
		var q model.ExamQuestion
		err := row.Scan(&q.ID, &q.QuestionText, &q.QuestionType, &q.Options, &q.CorrectAnswer,
			&q.Points, &q.Category, &q.Topic, &q.Difficulty)
		return q, err
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Create inserts a question into the pool.
func (r *QuestionRepository) Create(ctx context.Context, jobDescriptionID *uuid.UUID, q *model.ExamQuestion) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (job_description_id, question_text, question_type, options, correct_answer,
		                        points, category, topic, difficulty)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		 RETURNING id`,
		jobDescriptionID, q.QuestionText, q.QuestionType, q.Options, q.CorrectAnswer,
		q.Points, q.Category, q.Topic, q.Difficulty,
	).Scan(&q.ID)
}
