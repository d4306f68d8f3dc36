package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	SweepInterval = time.Minute
	SweepLimit    = 100
	// OverdueGrace leaves room for the candidate's own time-up submission.
	OverdueGrace = 2 * time.Minute
)

type overdueLister interface {
	ListStalePending(ctx context.Context, limit int) ([]model.ExamSession, error)
	ListOverdue(ctx context.Context, grace time.Duration, limit int) ([]uuid.UUID, error)
}

type sessionCloser interface {
	Expire(ctx context.Context, session *model.ExamSession) error
	CompleteExam(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error)
}

// SessionSweeper closes sessions nobody will close: pending sessions past
// their access window are expired, and running sessions whose clock ran out
// without a submission are completed with the answers saved so far.
type SessionSweeper struct {
	sessions overdueLister
	closer   sessionCloser
	interval time.Duration
	log      zerolog.Logger
}

func NewSessionSweeper(sessions overdueLister, closer sessionCloser, log zerolog.Logger) *SessionSweeper {
	return &SessionSweeper{
		sessions: sessions,
		closer:   closer,
		interval: SweepInterval,
		log:      log.With().Str("component", "session_sweeper").Logger(),
	}
}

// Start sweeps every interval until ctx is done. Call in a goroutine.
func (w *SessionSweeper) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many sessions it expired and completed.
func (w *SessionSweeper) Sweep(ctx context.Context) (expired, completed int) {
	stale, err := w.sessions.ListStalePending(ctx, SweepLimit)
	if err != nil {
		w.log.Error().Err(err).Msg("List stale pending sessions failed")
	}
	for i := range stale {
		if err := w.closer.Expire(ctx, &stale[i]); err != nil {
			w.log.Error().Err(err).Str("session_id", stale[i].ID.String()).Msg("Expire failed")
			continue
		}
		expired++
	}

	overdue, err := w.sessions.ListOverdue(ctx, OverdueGrace, SweepLimit)
	if err != nil {
		w.log.Error().Err(err).Msg("List overdue sessions failed")
	}
	for _, id := range overdue {
		if _, err := w.closer.CompleteExam(ctx, id); err != nil {
			w.log.Error().Err(err).Str("session_id", id.String()).Msg("Auto-complete failed")
			continue
		}
		completed++
	}

	if expired+completed > 0 {
		w.log.Info().Int("expired", expired).Int("completed", completed).Msg("Sweep closed sessions")
	}
	return expired, completed
}
