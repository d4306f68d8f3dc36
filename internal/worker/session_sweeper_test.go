package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type fakeSessions struct {
	stale      []model.ExamSession
	overdue    []uuid.UUID
	staleErr   error
	gotGrace   time.Duration
	overdueErr error
}

func (f *fakeSessions) ListStalePending(ctx context.Context, limit int) ([]model.ExamSession, error) {
	return f.stale, f.staleErr
}

func (f *fakeSessions) ListOverdue(ctx context.Context, grace time.Duration, limit int) ([]uuid.UUID, error) {
	f.gotGrace = grace
	return f.overdue, f.overdueErr
}

type fakeCloser struct {
	expired   []uuid.UUID
	completed []uuid.UUID
	failOn    uuid.UUID
}

func (f *fakeCloser) Expire(ctx context.Context, s *model.ExamSession) error {
	if s.ID == f.failOn {
		return errors.New("boom")
	}
	f.expired = append(f.expired, s.ID)
	return nil
}

func (f *fakeCloser) CompleteExam(ctx context.Context, id uuid.UUID) (*model.ExamResult, error) {
	if id == f.failOn {
		return nil, errors.New("boom")
	}
	f.completed = append(f.completed, id)
	return &model.ExamResult{SessionID: id}, nil
}

func TestSweepClosesStaleAndOverdue(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	sessions := &fakeSessions{
		stale:   []model.ExamSession{{ID: a}, {ID: b}},
		overdue: []uuid.UUID{c},
	}
	closer := &fakeCloser{}
	w := NewSessionSweeper(sessions, closer, zerolog.Nop())

	expired, completed := w.Sweep(context.Background())
	if expired != 2 || completed != 1 {
		t.Fatalf("Sweep = %d, %d; want 2, 1", expired, completed)
	}
	if closer.expired[0] != a || closer.expired[1] != b || closer.completed[0] != c {
		t.Fatalf("closed %v / %v", closer.expired, closer.completed)
	}
	if sessions.gotGrace != OverdueGrace {
		t.Fatalf("grace = %v, want %v", sessions.gotGrace, OverdueGrace)
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	bad, good := uuid.New(), uuid.New()
	sessions := &fakeSessions{
		stale:   []model.ExamSession{{ID: bad}, {ID: good}},
		overdue: []uuid.UUID{bad, good},
	}
	closer := &fakeCloser{failOn: bad}
	w := NewSessionSweeper(sessions, closer, zerolog.Nop())

	expired, completed := w.Sweep(context.Background())
	if expired != 1 || completed != 1 {
		t.Fatalf("Sweep = %d, %d; want 1, 1", expired, completed)
	}
}

func TestSweepListErrorStillCompletes(t *testing.T) {
	id := uuid.New()
	sessions := &fakeSessions{staleErr: errors.New("db down"), overdue: []uuid.UUID{id}}
	closer := &fakeCloser{}
	w := NewSessionSweeper(sessions, closer, zerolog.Nop())

	expired, completed := w.Sweep(context.Background())
	if expired != 0 || completed != 1 {
		t.Fatalf("Sweep = %d, %d; want 0, 1", expired, completed)
	}
}
