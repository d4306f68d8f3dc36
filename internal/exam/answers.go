package exam

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AnswerSink persists a single answer remotely. Writes are upserts keyed by
// session and question.
type AnswerSink interface {
	SubmitAnswer(ctx context.Context, req model.SubmitAnswerRequest) (*model.ExamResponse, error)
}

// ProgressStore is the durable mirror of a candidate's progress and of the
// session's question order.
type ProgressStore interface {
	SaveProgress(ctx context.Context, sessionID uuid.UUID, p Progress) error
	// LoadProgress returns nil without error when nothing was saved.
	LoadProgress(ctx context.Context, sessionID uuid.UUID) (*Progress, error)
	SaveQuestionOrder(ctx context.Context, sessionID uuid.UUID, order []uuid.UUID) error
	// LoadQuestionOrder returns nil without error when nothing was saved.
	LoadQuestionOrder(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error)
}

// Progress is the mirrored answer map and navigation position.
type Progress struct {
	Answers      map[uuid.UUID]string `json:"answers"`
	CurrentIndex int                  `json:"current_index"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// RemoteAnswers are the authoritative answers fetched from the server.
type RemoteAnswers struct {
	Answers map[uuid.UUID]string
	// UpdatedAt is the time of the most recent stored answer.
	UpdatedAt time.Time
}

// SaveStatus is pushed to the candidate while answers are persisted.
type SaveStatus string

const (
	SaveStatusSaving SaveStatus = "saving"
	SaveStatusSaved  SaveStatus = "saved"
	SaveStatusError  SaveStatus = "error"
)

// FlushReport summarizes one FlushAll run.
type FlushReport struct {
	Submitted int
	Failed    int
	Skipped   bool
}

// AnswerPipeline buffers answers, persists them while the session is in
// progress and periodically re-flushes the whole buffer.
type AnswerPipeline struct {
	sessionID uuid.UUID
	sink      AnswerSink
	progress  ProgressStore
	interval  time.Duration
	timeout   time.Duration
	onStatus  func(SaveStatus)
	log       zerolog.Logger
	now       func() time.Time

	mu           sync.Mutex
	status       model.SessionStatus
	activated    bool
	answers      map[uuid.UUID]string
	order        []uuid.UUID
	currentIndex int
}

// NewAnswerPipeline creates a pipeline for one session. onStatus may be nil.
func NewAnswerPipeline(
	sessionID uuid.UUID,
	status model.SessionStatus,
	sink AnswerSink,
	progress ProgressStore,
	interval, timeout time.Duration,
	onStatus func(SaveStatus),
	log zerolog.Logger,
) *AnswerPipeline {
	return &AnswerPipeline{
		sessionID: sessionID,
		sink:      sink,
		progress:  progress,
		interval:  interval,
		timeout:   timeout,
		onStatus:  onStatus,
		log:       log.With().Str("component", "answer_pipeline").Str("session_id", sessionID.String()).Logger(),
		now:       time.Now,
		status:    status,
		answers:   make(map[uuid.UUID]string),
		activated: status == model.SessionStatusInProgress,
	}
}

// Capture records an answer. The buffer and the progress mirror are always
// updated; the remote write only happens while the session is in progress.
func (p *AnswerPipeline) Capture(ctx context.Context, questionID uuid.UUID, answer string) error {
	p.mu.Lock()
	p.answers[questionID] = answer
	status := p.status
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.mirror(ctx, snapshot)

	if status != model.SessionStatusInProgress {
		p.log.Debug().Str("question_id", questionID.String()).Msg("Session not in progress, answer buffered")
		return nil
	}

	p.emit(SaveStatusSaving)
	if err := p.submit(ctx, questionID, answer); err != nil {
		p.emit(SaveStatusError)
		return err
	}
	p.emit(SaveStatusSaved)
	return nil
}

// Activate marks the session in progress and flushes the buffer. Only the
// first call flushes.
func (p *AnswerPipeline) Activate(ctx context.Context) FlushReport {
	p.mu.Lock()
	p.status = model.SessionStatusInProgress
	if p.activated {
		p.mu.Unlock()
		return FlushReport{Skipped: true}
	}
	p.activated = true
	p.mu.Unlock()

	p.log.Info().Msg("Session in progress, flushing buffered answers")
	return p.FlushAll(ctx)
}

// SetStatus follows a session status change without flushing.
func (p *AnswerPipeline) SetStatus(status model.SessionStatus) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}

// FlushAll submits every buffered answer concurrently, each under its own
// timeout. Individual failures are logged and counted, never returned.
func (p *AnswerPipeline) FlushAll(ctx context.Context) FlushReport {
	p.mu.Lock()
	if p.status != model.SessionStatusInProgress {
		p.mu.Unlock()
		return FlushReport{Skipped: true}
	}
	answers := maps.Clone(p.answers)
	p.mu.Unlock()

	if len(answers) == 0 {
		return FlushReport{}
	}

	p.emit(SaveStatusSaving)

	var failed atomic.Int32
	var wg sync.WaitGroup
	for questionID, answer := range answers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.submit(ctx, questionID, answer); err != nil {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	report := FlushReport{Submitted: len(answers) - int(failed.Load()), Failed: int(failed.Load())}
	if report.Failed > 0 {
		p.log.Warn().Int("submitted", report.Submitted).Int("failed", report.Failed).Msg("Autosave finished with failures")
		p.emit(SaveStatusError)
	} else {
		p.log.Debug().Int("submitted", report.Submitted).Msg("Autosave finished")
		p.emit(SaveStatusSaved)
	}
	return report
}

// Run re-flushes the buffer on every interval until ctx is done.
func (p *AnswerPipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.FlushAll(ctx)
		}
	}
}

// Restore merges the mirrored progress with the authoritative remote answers.
// Remote content wins. The mirrored index is kept only if the mirror is newer
// than the latest remote answer; otherwise the first unanswered question is used.
func (p *AnswerPipeline) Restore(ctx context.Context, remote RemoteAnswers) Progress {
	local, err := p.progress.LoadProgress(ctx, p.sessionID)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to load mirrored progress")
	}

	merged := make(map[uuid.UUID]string)
	if local != nil {
		maps.Copy(merged, local.Answers)
	}
	maps.Copy(merged, remote.Answers)

	p.mu.Lock()
	p.answers = merged
	switch {
	case local != nil && local.UpdatedAt.After(remote.UpdatedAt):
		p.currentIndex = local.CurrentIndex
	default:
		p.currentIndex = p.firstUnansweredLocked()
	}
	p.clampIndexLocked()
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.mirror(ctx, snapshot)
	return snapshot
}

// SetQuestionOrder sets the navigation order used for the index and the
// unanswered count.
func (p *AnswerPipeline) SetQuestionOrder(order []uuid.UUID) {
	p.mu.Lock()
	p.order = order
	p.clampIndexLocked()
	p.mu.Unlock()
}

// SetCurrentIndex moves the candidate to question i and mirrors progress.
func (p *AnswerPipeline) SetCurrentIndex(ctx context.Context, i int) (int, error) {
	p.mu.Lock()
	if i < 0 || (len(p.order) > 0 && i >= len(p.order)) {
		p.mu.Unlock()
		return 0, fmt.Errorf("question index %d out of range", i)
	}
	p.currentIndex = i
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.mirror(ctx, snapshot)
	return i, nil
}

func (p *AnswerPipeline) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentIndex
}

func (p *AnswerPipeline) Answers() map[uuid.UUID]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.answers)
}

// UnansweredCount counts questions in the order with no non-empty answer.
func (p *AnswerPipeline) UnansweredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, id := range p.order {
		if p.answers[id] == "" {
			n++
		}
	}
	return n
}

func (p *AnswerPipeline) submit(ctx context.Context, questionID uuid.UUID, answer string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.sink.SubmitAnswer(ctx, model.SubmitAnswerRequest{
		SessionID:  p.sessionID,
		QuestionID: questionID,
		AnswerText: answer,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("answer save timed out after %s: %w", p.timeout, err)
		}
		p.log.Warn().Err(err).Str("question_id", questionID.String()).Msg("Failed to save answer")
		metrics.AnswerSavesTotal.WithLabelValues("failure").Inc()
		return err
	}
	metrics.AnswerSavesTotal.WithLabelValues("success").Inc()
	return nil
}

func (p *AnswerPipeline) mirror(ctx context.Context, snapshot Progress) {
	if err := p.progress.SaveProgress(ctx, p.sessionID, snapshot); err != nil {
		p.log.Warn().Err(err).Msg("Failed to mirror progress")
	}
}

func (p *AnswerPipeline) snapshotLocked() Progress {
	return Progress{
		Answers:      maps.Clone(p.answers),
		CurrentIndex: p.currentIndex,
		UpdatedAt:    p.now().UTC(),
	}
}

func (p *AnswerPipeline) firstUnansweredLocked() int {
	for i, id := range p.order {
		if p.answers[id] == "" {
			return i
		}
	}
	return 0
}

func (p *AnswerPipeline) clampIndexLocked() {
	if p.currentIndex < 0 {
		p.currentIndex = 0
	}
	if len(p.order) > 0 && p.currentIndex >= len(p.order) {
		p.currentIndex = len(p.order) - 1
	}
}

func (p *AnswerPipeline) emit(s SaveStatus) {
	if p.onStatus != nil {
		p.onStatus(s)
	}
}
