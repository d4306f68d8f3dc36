package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// DashboardRepository handles recruiter dashboard aggregates.
type DashboardRepository struct {
	pool *pgxpool.Pool
}

// NewDashboardRepository creates a new DashboardRepository.
func NewDashboardRepository(pool *pgxpool.Pool) *DashboardRepository {
	return &DashboardRepository{pool: pool}
}

// GetSessionStatusCounts retrieves the distribution of sessions by status.
func (r *DashboardRepository) GetSessionStatusCounts(ctx context.Context) (map[model.SessionStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM exam_sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.SessionStatus]int)
	for rows.Next() {
		var status model.SessionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// DashboardResultStats summarizes scored sessions.
type DashboardResultStats struct {
	Completed         int      `json:"completed"`
	Passed            int      `json:"passed"`
	AveragePercentage *float64 `json:"average_percentage"`
}

// GetResultStats aggregates exam_results.
func (r *DashboardRepository) GetResultStats(ctx context.Context) (DashboardResultStats, error) {
	var s DashboardResultStats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE evaluation_status = $1),
		        AVG(percentage)::float8
		 FROM exam_results`, model.EvaluationPassed,
	).Scan(&s.Completed, &s.Passed, &s.AveragePercentage)
	return s, err
}

// DashboardFlaggedSession is a session with many high-severity violations.
type DashboardFlaggedSession struct {
	ID             uuid.UUID           `json:"id"`
	CandidateID    uuid.UUID           `json:"candidate_id"`
	Status         model.SessionStatus `json:"status"`
	HighViolations int                 `json:"high_violations"`
	LastViolation  time.Time           `json:"last_violation_at"`
}

// GetFlaggedSessions retrieves the N sessions with the most high-severity
// violations, most recent first on ties.
func (r *DashboardRepository) GetFlaggedSessions(ctx context.Context, limit int) ([]DashboardFlaggedSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.candidate_id, s.status, COUNT(v.id), MAX(v.timestamp)
		 FROM exam_security_violations v
		 JOIN exam_sessions s ON s.id = v.exam_session_id
		 WHERE v.severity = $1
		 GROUP BY s.id, s.candidate_id, s.status
		 ORDER BY COUNT(v.id) DESC, MAX(v.timestamp) DESC
		 LIMIT $2`,
		model.SeverityHigh, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flagged []DashboardFlaggedSession
	for rows.Next() {
		var f DashboardFlaggedSession
		if err := rows.Scan(&f.ID, &f.CandidateID, &f.Status, &f.HighViolations, &f.LastViolation); err != nil {
			return nil, err
		}
		flagged = append(flagged, f)
	}
	if flagged == nil {
		flagged = []DashboardFlaggedSession{}
	}
	return flagged, rows.Err()
}

// DashboardRecentResult is a recently scored session.
type DashboardRecentResult struct {
	SessionID        uuid.UUID              `json:"exam_session_id"`
	CandidateID      uuid.UUID              `json:"candidate_id"`
	Percentage       float64                `json:"percentage"`
	EvaluationStatus model.EvaluationStatus `json:"evaluation_status"`
	CompletedAt      time.Time              `json:"completed_at"`
}

// GetRecentResults retrieves the last N scored sessions.
func (r *DashboardRepository) GetRecentResults(ctx context.Context, limit int) ([]DashboardRecentResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_session_id, candidate_id, percentage::float8, evaluation_status, created_at
		 FROM exam_results
		 ORDER BY created_at DESC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DashboardRecentResult
	for rows.Next() {
		var r DashboardRecentResult
		if err := rows.Scan(&r.SessionID, &r.CandidateID, &r.Percentage, &r.EvaluationStatus, &r.CompletedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if results == nil {
		results = []DashboardRecentResult{}
	}
	return results, rows.Err()
}
