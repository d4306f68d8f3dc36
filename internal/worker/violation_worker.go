package worker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// ViolationWorker persists queued proctoring violations with COPY.
type ViolationWorker struct {
	consumer *batchConsumer[model.ViolationRecord]
}

func NewViolationWorker(repo *repository.ViolationRepository, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{consumer: &batchConsumer[model.ViolationRecord]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistViolationsQueue,
		log:   log.With().Str("component", "violation_worker").Logger(),
		bulk: func(ctx context.Context, batch []model.ViolationRecord) error {
			_, err := repo.CopyMany(ctx, batch)
			return err
		},
		single: func(ctx context.Context, v model.ViolationRecord) error {
			return repo.Insert(ctx, &v)
		},
		retryable: isTransient,
	}}
}

// Start runs until ctx is done. Call in a goroutine.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.consumer.run(ctx)
}
