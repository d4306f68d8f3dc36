package model

import (
	"github.com/google/uuid"
)

type QuestionType string

const (
	QuestionTypeMCQ  QuestionType = "mcq"
	QuestionTypeText QuestionType = "text"
)

// Difficulty drives the easy/medium/hard mix of a session's working set.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Question categories used for the per-category result breakdown.
const (
	CategoryTechnical = "technical"
	CategoryAptitude  = "aptitude"
)

// ExamQuestion is a single question in a session's working set.
type ExamQuestion struct {
	ID            uuid.UUID    `json:"id"`
	QuestionText  string       `json:"question_text"`
	QuestionType  QuestionType `json:"question_type"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer"`
	Points        int          `json:"points"`
	Category      string       `json:"category"`
	Topic         string       `json:"topic,omitempty"`
	Difficulty    Difficulty   `json:"difficulty"`
}

// QuestionForCandidate is a question without the correct answer, sent to candidates.
type QuestionForCandidate struct {
	ID           uuid.UUID    `json:"id"`
	QuestionText string       `json:"question_text"`
	QuestionType QuestionType `json:"question_type"`
	Options      []string     `json:"options,omitempty"`
	Points       int          `json:"points"`
	Category     string       `json:"category"`
}

// ForCandidate strips the answer key.
func (q *ExamQuestion) ForCandidate() QuestionForCandidate {
	return QuestionForCandidate{
		ID:           q.ID,
		QuestionText: q.QuestionText,
		QuestionType: q.QuestionType,
		Options:      q.Options,
		Points:       q.Points,
		Category:     q.Category,
	}
}
