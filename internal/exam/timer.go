package exam

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// CalculateRemainingTime derives the time left from the session's start
// timestamp. It never returns a negative value nor more than the exam
// duration. A session that has not started has its full duration left.
func CalculateRemainingTime(s *model.ExamSession, now time.Time) time.Duration {
	total := s.Duration()
	if s.StartedAt == nil {
		return total
	}
	remaining := total - now.Sub(*s.StartedAt)
	if remaining < 0 {
		return 0
	}
	if remaining > total {
		return total
	}
	return remaining
}

// TimerGates are the conditions that must all hold before the timer acts.
type TimerGates struct {
	SessionInProgress  bool
	ExamStarted        bool
	InstructionsClosed bool
	QuestionsLoaded    bool
}

func (g TimerGates) open() bool {
	return g.SessionInProgress && g.ExamStarted && g.InstructionsClosed && g.QuestionsLoaded
}

// Timer re-derives the remaining time on every tick instead of counting down,
// so suspended ticks and reloads never drift the clock.
type Timer struct {
	onTick   func(remaining time.Duration)
	onExpire func()
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	session *model.ExamSession
	gates   TimerGates
}

// NewTimer creates a Timer. onExpire is the single time-up entry point and is
// expected to be idempotent; it is called by both the ticker and Check.
func NewTimer(onTick func(time.Duration), onExpire func(), log zerolog.Logger) *Timer {
	return &Timer{
		onTick:   onTick,
		onExpire: onExpire,
		interval: time.Second,
		log:      log.With().Str("component", "exam_timer").Logger(),
		now:      time.Now,
	}
}

// SetSession replaces the session snapshot the timer derives from.
func (t *Timer) SetSession(s *model.ExamSession) {
	t.mu.Lock()
	t.session = s
	t.gates.SessionInProgress = s != nil && s.Status == model.SessionStatusInProgress
	t.mu.Unlock()
}

// UpdateGates applies fn to the gate set under the timer's lock.
func (t *Timer) UpdateGates(fn func(*TimerGates)) {
	t.mu.Lock()
	fn(&t.gates)
	t.mu.Unlock()
}

func (t *Timer) Gates() TimerGates {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gates
}

// Remaining returns the time left for the current session snapshot.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	s := t.session
	t.mu.Unlock()
	if s == nil {
		return 0
	}
	return CalculateRemainingTime(s, t.now())
}

// Run ticks every second until ctx is done.
func (t *Timer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Check()
		}
	}
}

// Check is the fallback recomputation run on every state change. It reports
// the remaining time and fires the expiry entry when it reaches zero. It does
// nothing while any gate is closed.
func (t *Timer) Check() time.Duration {
	t.mu.Lock()
	s := t.session
	gates := t.gates
	t.mu.Unlock()

	if s == nil || !gates.open() {
		return 0
	}

	remaining := CalculateRemainingTime(s, t.now())
	if t.onTick != nil {
		t.onTick(remaining)
	}
	if remaining == 0 {
		t.log.Info().Str("session_id", s.ID.String()).Msg("Exam time is up")
		if t.onExpire != nil {
			t.onExpire()
		}
	}
	return remaining
}
