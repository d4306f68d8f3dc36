package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// QuestionOrderWorker stores each session's shuffled question order on the
// session row, so a reload after the Redis copy is gone keeps the order.
type QuestionOrderWorker struct {
	pool     *pgxpool.Pool
	consumer *batchConsumer[repository.QuestionOrderPayload]
}

func NewQuestionOrderWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *QuestionOrderWorker {
	w := &QuestionOrderWorker{pool: pool}
	w.consumer = &batchConsumer[repository.QuestionOrderPayload]{
		rdb:       rdb,
		queue:     config.WorkerKey.PersistQuestionOrderQueue,
		log:       log.With().Str("component", "question_order_worker").Logger(),
		bulk:      w.bulkUpdate,
		single:    w.persistSingle,
		retryable: isTransient,
	}
	return w
}

func (w *QuestionOrderWorker) Start(ctx context.Context) {
	w.consumer.run(ctx)
}

func (w *QuestionOrderWorker) bulkUpdate(ctx context.Context, batch []repository.QuestionOrderPayload) error {
	n := len(batch)

	sessionIDs := make([]uuid.UUID, 0, n)
	ordersBytes := make([][]byte, 0, n)

	for _, p := range batch {
		sID, err := uuid.Parse(p.SessionID)
		if err != nil {
			return err
		}

		ob, _ := json.Marshal(p.Order)

		sessionIDs = append(sessionIDs, sID)
		ordersBytes = append(ordersBytes, ob)
	}

	// The first order written wins; later ones for the same session are replays.
	query := `
		UPDATE exam_sessions AS s
		SET question_order = t.qo
		FROM (
			SELECT DISTINCT ON (u.session_id)
				u.session_id,
				u.qo
			FROM UNNEST(
				$1::uuid[],
				$2::jsonb[]
			) WITH ORDINALITY AS u (session_id, qo, ord)
			ORDER BY u.session_id, u.ord
		) AS t
		WHERE s.id = t.session_id
		  AND s.question_order IS NULL
	`

	_, err := w.pool.Exec(ctx, query, sessionIDs, ordersBytes)
	return err
}

func (w *QuestionOrderWorker) persistSingle(ctx context.Context, p repository.QuestionOrderPayload) error {
	sID, err := uuid.Parse(p.SessionID)
	if err != nil {
		return fmt.Errorf("%w: session id %q", errMalformed, p.SessionID)
	}

	ob, _ := json.Marshal(p.Order)

	_, err = w.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET question_order = $1
		 WHERE id = $2 AND question_order IS NULL`,
		ob, sID,
	)

	return err
}
