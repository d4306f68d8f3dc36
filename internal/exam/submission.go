package exam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Trigger names what started a submission.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerTimeUp Trigger = "time_up"
)

// SubmissionState is the coordinator's position in the terminal sequence.
type SubmissionState string

const (
	SubmissionIdle       SubmissionState = "idle"
	SubmissionSubmitting SubmissionState = "submitting"
	SubmissionCompleted  SubmissionState = "completed"
	SubmissionFailed     SubmissionState = "failed"
)

var (
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrAlreadySubmitted     = errors.New("exam already submitted")
)

// Navigator moves the candidate's browser.
type Navigator interface {
	// Navigate performs client-side routing.
	Navigate(path string) error
	// HardRedirect forces a full page load.
	HardRedirect(path string)
	// Navigated reports whether the last Navigate took effect.
	Navigated() bool
}

// Completer marks a session completed server-side.
type Completer interface {
	CompleteExam(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error)
}

type answerFlusher interface {
	FlushAll(ctx context.Context) FlushReport
}

type securityReleaser interface {
	End(ctx context.Context)
	Teardown()
}

// Coordinator runs the terminal submission sequence at most once at a time
// and at most once successfully per session.
type Coordinator struct {
	sessionID uuid.UUID
	answers   answerFlusher
	security  securityReleaser
	completer Completer
	nav       Navigator
	cfg       config.ExamConfig
	onError   func(msg string)
	log       zerolog.Logger

	mu        sync.Mutex
	state     SubmissionState
	result    *model.ExamResult
	fallbacks []*time.Timer
}

// NewCoordinator wires the submission sequence. onError may be nil.
func NewCoordinator(
	sessionID uuid.UUID,
	answers answerFlusher,
	security securityReleaser,
	completer Completer,
	nav Navigator,
	cfg config.ExamConfig,
	onError func(msg string),
	log zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		sessionID: sessionID,
		answers:   answers,
		security:  security,
		completer: completer,
		nav:       nav,
		cfg:       cfg,
		onError:   onError,
		log:       log.With().Str("component", "submission").Str("session_id", sessionID.String()).Logger(),
		state:     SubmissionIdle,
	}
}

func (c *Coordinator) State() SubmissionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the exam result if completion succeeded.
func (c *Coordinator) Result() *model.ExamResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// ResultsPath is where the candidate lands after submission.
func (c *Coordinator) ResultsPath() string {
	return c.cfg.ResultsPathPrefix + c.sessionID.String()
}

// Submit runs the terminal sequence. A concurrent or repeated call is a no-op
// returning ErrSubmissionInProgress or ErrAlreadySubmitted.
func (c *Coordinator) Submit(ctx context.Context, trigger Trigger) (err error) {
	c.mu.Lock()
	switch c.state {
	case SubmissionSubmitting:
		c.mu.Unlock()
		return ErrSubmissionInProgress
	case SubmissionCompleted:
		c.mu.Unlock()
		return ErrAlreadySubmitted
	}
	c.state = SubmissionSubmitting
	c.mu.Unlock()

	log := c.log.With().Str("trigger", string(trigger)).Logger()
	log.Info().Msg("Submitting exam")

	timer := prometheus.NewTimer(metrics.SubmissionDuration.WithLabelValues(string(trigger)))
	defer timer.ObserveDuration()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("submission panicked: %v", r)
			c.fail(log, err)
		}
		status := "completed"
		if err != nil {
			status = "failed"
		}
		metrics.SubmissionsTotal.WithLabelValues(string(trigger), status).Inc()
	}()

	// Step 1: flush answers and release security.
	stepErr := runStep(ctx, "flush", c.cfg.FlushTimeout, func(ctx context.Context) error {
		report := c.answers.FlushAll(ctx)
		if report.Failed > 0 {
			log.Warn().Int("failed", report.Failed).Msg("Some answers failed to save before submission")
		}
		c.security.End(ctx)
		return nil
	})
	if stepErr != nil {
		log.Warn().Err(stepErr).Msg("Flush step failed, force-stopping security monitor")
		c.security.Teardown()
	}

	// Step 2: mark the session completed.
	var result *model.ExamResult
	stepErr = runStep(ctx, "complete", c.cfg.CompleteTimeout, func(ctx context.Context) error {
		r, err := c.completer.CompleteExam(ctx, c.sessionID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if stepErr != nil {
		log.Warn().Err(stepErr).Msg("Complete step failed, continuing to results")
	}

	// Step 3: navigate to results.
	path := c.ResultsPath()
	if err := c.nav.Navigate(path); err != nil {
		err = fmt.Errorf("navigate to results: %w", err)
		c.fail(log, err)
		return err
	}
	c.schedule(c.cfg.NavigateFallback, func() {
		if !c.nav.Navigated() {
			log.Warn().Str("path", path).Msg("Client-side navigation did not take effect, hard redirecting")
			c.nav.HardRedirect(path)
		}
	})

	c.mu.Lock()
	c.state = SubmissionCompleted
	c.result = result
	c.mu.Unlock()

	log.Info().Msg("Exam submitted")
	return nil
}

// Stop cancels pending fallback redirects.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.fallbacks {
		t.Stop()
	}
	c.fallbacks = nil
}

func (c *Coordinator) fail(log zerolog.Logger, err error) {
	log.Error().Err(err).Msg("Submission failed")

	c.mu.Lock()
	c.state = SubmissionFailed
	c.mu.Unlock()

	if c.onError != nil {
		c.onError("Failed to submit exam. Redirecting to the results page...")
	}

	path := c.ResultsPath()
	c.schedule(c.cfg.ErrorRedirectDelay, func() { c.nav.HardRedirect(path) })
}

func (c *Coordinator) schedule(d time.Duration, fn func()) {
	t := time.AfterFunc(d, fn)
	c.mu.Lock()
	c.fallbacks = append(c.fallbacks, t)
	c.mu.Unlock()
}

// runStep runs fn under its own timeout. A step that overruns is abandoned,
// not awaited.
func runStep(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s step panicked: %v", name, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s step timed out after %s: %w", name, timeout, ctx.Err())
	}
}
