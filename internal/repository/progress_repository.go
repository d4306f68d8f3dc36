package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/exam"
)

// progressTTL outlives any exam; the mirror is only needed while a session runs.
const progressTTL = 24 * time.Hour

// QuestionOrderPayload is queued for the question order worker.
type QuestionOrderPayload struct {
	SessionID string   `json:"exam_session_id"`
	Order     []string `json:"order"`
}

// ProgressRepository mirrors candidate progress and question order in Redis.
// Question orders are also queued for durable storage in PostgreSQL, which is
// the fallback when the Redis copy is gone.
type ProgressRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(pool *pgxpool.Pool, rdb *redis.Client) *ProgressRepository {
	return &ProgressRepository{pool: pool, rdb: rdb}
}

// SaveProgress stores the mirrored answers and current index.
func (r *ProgressRepository) SaveProgress(ctx context.Context, sessionID uuid.UUID, p exam.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, config.CacheKey.ExamProgressKey(sessionID.String()), data, progressTTL).Err()
}

// LoadProgress returns nil, nil when nothing was mirrored.
func (r *ProgressRepository) LoadProgress(ctx context.Context, sessionID uuid.UUID) (*exam.Progress, error) {
	data, err := r.rdb.Get(ctx, config.CacheKey.ExamProgressKey(sessionID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p exam.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveQuestionOrder caches the order and queues it for persistence.
func (r *ProgressRepository) SaveQuestionOrder(ctx context.Context, sessionID uuid.UUID, order []uuid.UUID) error {
	ids := make([]string, len(order))
	for i, id := range order {
		ids[i] = id.String()
	}
	cached, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	queued, err := json.Marshal(QuestionOrderPayload{SessionID: sessionID.String(), Order: ids})
	if err != nil {
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.ExamQuestionOrderKey(sessionID.String()), cached, progressTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistQuestionOrderQueue, queued)
	_, err = pipe.Exec(ctx)
	return err
}

// LoadQuestionOrder reads the cached order, falling back to the stored one.
func (r *ProgressRepository) LoadQuestionOrder(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	data, err := r.rdb.Get(ctx, config.CacheKey.ExamQuestionOrderKey(sessionID.String())).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	if errors.Is(err, redis.Nil) {
		err = r.pool.QueryRow(ctx,
			`SELECT question_order FROM exam_sessions WHERE id = $1 AND question_order IS NOT NULL`, sessionID,
		).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	order := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		order = append(order, id)
	}
	return order, nil
}
