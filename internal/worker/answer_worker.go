package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// AnswerWorker consumes persist_answers_queue and UPSERTs answers to PostgreSQL.
// Upserts only move an answer forward in time, so replays and requeues are safe.
type AnswerWorker struct {
	consumer *batchConsumer[model.ExamResponse]
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(repo *repository.ResponseRepository, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	return &AnswerWorker{consumer: &batchConsumer[model.ExamResponse]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistAnswersQueue,
		log:   log.With().Str("component", "answer_worker").Logger(),
		bulk: func(ctx context.Context, batch []model.ExamResponse) error {
			return repo.BulkUpsert(ctx, latestPerQuestion(batch))
		},
		single: func(ctx context.Context, r model.ExamResponse) error {
			return repo.Upsert(ctx, &r)
		},
		retryable: isTransient,
	}}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.consumer.run(ctx)
}

// latestPerQuestion collapses a batch so one statement never touches the
// same row twice, which ON CONFLICT rejects.
func latestPerQuestion(batch []model.ExamResponse) []model.ExamResponse {
	type key struct{ session, question uuid.UUID }
	idx := make(map[key]int, len(batch))
	out := make([]model.ExamResponse, 0, len(batch))
	for _, r := range batch {
		k := key{r.SessionID, r.QuestionID}
		if i, ok := idx[k]; ok {
			if !r.AnsweredAt.Before(out[i].AnsweredAt) {
				out[i] = r
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}
