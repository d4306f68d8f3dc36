package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the routing key of an exam lifecycle event.
type EventType string

const (
	EventTypeExamStarted   EventType = "exam.started"
	EventTypeExamCompleted EventType = "exam.completed"
	EventTypeExamExpired   EventType = "exam.expired"
)

// BaseEvent carries the fields shared by every event.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Version   string    `json:"version"`
}

// ExamEvent reports a session state change to downstream consumers
// (notifications, recruiting dashboards).
type ExamEvent struct {
	BaseEvent
	SessionID   uuid.UUID `json:"exam_session_id"`
	CandidateID uuid.UUID `json:"candidate_id"`
	// Score fields are set on exam.completed only.
	Percentage       *float64 `json:"percentage,omitempty"`
	EvaluationStatus string   `json:"evaluation_status,omitempty"`
}

func newBaseEvent(t EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().Unix(),
		Version:   "1.0",
	}
}

// NewExamEvent builds an event of type t for a session.
func NewExamEvent(t EventType, sessionID, candidateID uuid.UUID) *ExamEvent {
	return &ExamEvent{
		BaseEvent:   newBaseEvent(t),
		SessionID:   sessionID,
		CandidateID: candidateID,
	}
}
