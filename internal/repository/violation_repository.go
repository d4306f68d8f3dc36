package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var violationCopyColumns = []string{"exam_session_id", "violation_type", "violation_details", "severity", "timestamp"}

// ViolationRepository handles the proctoring audit log.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// CopyMany bulk-inserts violations with COPY.
func (r *ViolationRepository) CopyMany(ctx context.Context, records []model.ViolationRecord) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, v := range records {
		rows = append(rows, []any{v.SessionID, v.Type, v.Details, v.Severity, v.Timestamp})
	}
	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"exam_security_violations"},
		violationCopyColumns,
		pgx.CopyFromRows(rows),
	)
}

// Insert stores a single violation.
func (r *ViolationRepository) Insert(ctx context.Context, v *model.ViolationRecord) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_security_violations (exam_session_id, violation_type, violation_details, severity, timestamp)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		v.SessionID, v.Type, v.Details, v.Severity, v.Timestamp,
	).Scan(&v.ID, &v.CreatedAt)
}

// ListBySession returns a session's violations in the order they happened.
func (r *ViolationRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.ViolationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_session_id, violation_type, violation_details, severity, timestamp, created_at
		 FROM exam_security_violations
		 WHERE exam_session_id = $1
		 ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ViolationRecord
	for rows.Next() {
		var v model.ViolationRecord
		if err := rows.Scan(&v.ID, &v.SessionID, &v.Type, &v.Details, &v.Severity, &v.Timestamp, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
