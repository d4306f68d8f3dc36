package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType classifies a proctoring event.
type ViolationType string

const (
	ViolationKeyPress      ViolationType = "key_press"
	ViolationTabSwitch     ViolationType = "tab_switch"
	ViolationWindowResize  ViolationType = "window_resize"
	ViolationContextMenu   ViolationType = "context_menu"
	ViolationDevTools      ViolationType = "dev_tools"
	ViolationExamCompleted ViolationType = "exam_completed"
)

// Severity grades a violation.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SecurityViolation is one entry of the proctoring audit log.
type SecurityViolation struct {
	Type      ViolationType `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Details   string        `json:"details"`
	Severity  Severity      `json:"severity"`
}

// ViolationRecord is a persisted violation.
type ViolationRecord struct {
	ID        int64         `json:"id"`
	SessionID uuid.UUID     `json:"exam_session_id"`
	Type      ViolationType `json:"violation_type"`
	Details   string        `json:"violation_details"`
	Severity  Severity      `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
	CreatedAt time.Time     `json:"created_at"`
}

// ViolationSummary aggregates a session's violations by severity.
type ViolationSummary struct {
	Total      int               `json:"total"`
	BySeverity map[Severity]int  `json:"by_severity"`
	Violations []ViolationRecord `json:"violations"`
}
