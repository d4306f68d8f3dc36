package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamResponse is a candidate's stored answer to one question.
// (session_id, question_id) is unique: writes are upserts.
type ExamResponse struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"exam_session_id"`
	QuestionID   uuid.UUID `json:"question_id"`
	AnswerText   string    `json:"answer_text"`
	IsCorrect    bool      `json:"is_correct"`
	PointsEarned int       `json:"points_earned"`
	AnsweredAt   time.Time `json:"answered_at"`
}

// SubmitAnswerRequest is the payload to save one answer.
type SubmitAnswerRequest struct {
	SessionID  uuid.UUID `json:"exam_session_id" binding:"required"`
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	AnswerText string    `json:"answer_text" binding:"required,max=10000"`
}
