package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// errMalformed marks an item that can never be persisted.
var errMalformed = errors.New("malformed queue item")

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// batchConsumer drains a Redis list in batches. Each batch is written with
// bulk; on failure every item is retried with single, and items that still
// fail are pushed back onto the queue.
type batchConsumer[T any] struct {
	rdb    *redis.Client
	queue  string
	log    zerolog.Logger
	bulk   func(ctx context.Context, batch []T) error
	single func(ctx context.Context, item T) error
	// retryable reports whether a failed single write is worth requeueing.
	// Nil requeues everything.
	retryable    func(err error) bool
	requeuePause time.Duration
}

func (c *batchConsumer[T]) run(ctx context.Context) {
	c.log.Info().Str("queue", c.queue).Msg("Worker started")

	buffer := make([]T, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check flush conditions (time or size)
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout) {
			c.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlushTime = time.Now()
		}

		// 2. Check context (graceful shutdown)
		select {
		case <-ctx.Done():
			c.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis; BLPop returns immediately if data exists
		result, err := c.rdb.BLPop(ctx, PollTimeout, c.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				c.shutdown(buffer)
				return
			}
			c.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleepCtx(ctx, 3*time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			// Malformed JSON cannot succeed on retry.
			c.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, item)
	}
}

func (c *batchConsumer[T]) flushSafe(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	err := c.bulk(ctx, batch)
	if err == nil {
		c.log.Debug().Int("count", len(batch)).Msg("Batch persisted")
		return
	}

	c.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk write failed, attempting row-by-row recovery")

	var requeue []T
	for _, item := range batch {
		if err := c.single(ctx, item); err != nil {
			if c.retryable != nil && !c.retryable(err) {
				c.log.Error().Err(err).Msg("Dropping item that cannot be persisted")
				continue
			}
			c.log.Error().Err(err).Msg("Write failed, requeueing")
			requeue = append(requeue, item)
		}
	}
	if len(requeue) > 0 {
		c.requeue(ctx, requeue)
	}
}

func (c *batchConsumer[T]) requeue(ctx context.Context, items []T) {
	pipe := c.rdb.Pipeline()
	for _, item := range items {
		data, _ := json.Marshal(item)
		pipe.RPush(ctx, c.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	c.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Back off so a database outage does not spin the loop.
	pause := c.requeuePause
	if pause == 0 {
		pause = 2 * time.Second
	}
	sleepCtx(ctx, pause)
}

func (c *batchConsumer[T]) shutdown(buffer []T) {
	c.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.flushSafe(shutdownCtx, buffer)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// isTransient is false for errors that a retry would raise again: malformed
// items, bad data (SQLSTATE class 22) and constraint violations (class 23).
func isTransient(err error) bool {
	if errors.Is(err, errMalformed) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		class := pgErr.Code[:2]
		return class != "22" && class != "23"
	}
	return true
}
