package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusExpired    SessionStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusExpired
}

// ExamSession represents one candidate's attempt at an exam.
// It is created by the scheduling side in the pending state.
type ExamSession struct {
	ID               uuid.UUID     `json:"id"`
	ExamToken        string        `json:"exam_token"`
	CandidateID      uuid.UUID     `json:"candidate_id"`
	JobDescriptionID *uuid.UUID    `json:"job_description_id,omitempty"`
	Status           SessionStatus `json:"status"`
	DurationMinutes  int           `json:"duration_minutes"`
	TotalQuestions   int           `json:"total_questions"`
	ScheduledStartAt *time.Time    `json:"scheduled_start_at,omitempty"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	IPAddress        *string       `json:"ip_address,omitempty"`
	UserAgent        *string       `json:"user_agent,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Duration returns the fixed exam length.
func (s *ExamSession) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// ExamSessionState is returned to the candidate on (re)load.
type ExamSessionState struct {
	Session          *ExamSession `json:"session"`
	RemainingSeconds float64      `json:"remaining_seconds"`
	EarlyAccess      bool         `json:"early_access"`
}

// ListSessionsQuery filters the recruiter session list.
type ListSessionsQuery struct {
	Status  SessionStatus `form:"status" binding:"omitempty,session_status"`
	Page    int           `form:"page" binding:"omitempty,min=1"`
	PerPage int           `form:"per_page" binding:"omitempty,min=1,max=100"`
}
