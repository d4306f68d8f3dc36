package model

import (
	"time"

	"github.com/google/uuid"
)

// EvaluationStatus is the pass/fail verdict of a completed exam.
type EvaluationStatus string

const (
	EvaluationPassed EvaluationStatus = "passed"
	EvaluationFailed EvaluationStatus = "failed"
)

// PassingPercentage is the minimum percentage for EvaluationPassed.
const PassingPercentage = 60.0

// ExamResult is the scored outcome of a completed session.
type ExamResult struct {
	ID               uuid.UUID        `json:"id"`
	SessionID        uuid.UUID        `json:"exam_session_id"`
	CandidateID      uuid.UUID        `json:"candidate_id"`
	TotalScore       int              `json:"total_score"`
	MaxScore         int              `json:"max_score"`
	Percentage       float64          `json:"percentage"`
	CorrectAnswers   int              `json:"correct_answers"`
	WrongAnswers     int              `json:"wrong_answers"`
	SkippedQuestions int              `json:"skipped_questions"`
	TechnicalScore   int              `json:"technical_score"`
	AptitudeScore    int              `json:"aptitude_score"`
	TimeTakenMinutes int              `json:"time_taken_minutes"`
	EvaluationStatus EvaluationStatus `json:"evaluation_status"`
	CreatedAt        time.Time        `json:"created_at"`
}
