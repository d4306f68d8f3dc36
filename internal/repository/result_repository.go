package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ResultRepository reads scored exam outcomes. Results are written by
// ExamSessionRepository.Complete.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// GetBySession retrieves the result of a completed session.
func (r *ResultRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	res := &model.ExamResult{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_session_id, candidate_id, total_score, max_score, percentage, correct_answers,
		        wrong_answers, skipped_questions, technical_score, aptitude_score, time_taken_minutes,
		        evaluation_status, created_at
		 FROM exam_results
		 WHERE exam_session_id = $1`, sessionID,
	).Scan(&res.ID, &res.SessionID, &res.CandidateID, &res.TotalScore, &res.MaxScore, &res.Percentage,
		&res.CorrectAnswers, &res.WrongAnswers, &res.SkippedQuestions, &res.TechnicalScore,
		&res.AptitudeScore, &res.TimeTakenMinutes, &res.EvaluationStatus, &res.CreatedAt)
	if err != nil {
		return nil, err
	}
	return res, nil
}
