package proctor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// GateState is the consent gate's position in the exam lifecycle.
type GateState string

const (
	GateAwaitingConsent      GateState = "awaiting_consent"
	GateRequestingFullscreen GateState = "requesting_fullscreen"
	GateVerifying            GateState = "verifying"
	GateActive               GateState = "active"
	GateTerminated           GateState = "terminated"
)

const declineNotice = "Fullscreen mode is required to take this exam. " +
	"The exam cannot start until you accept the security requirements."

var (
	ErrGateNotAwaiting = errors.New("consent gate is not awaiting consent")
	ErrGateTornDown    = errors.New("consent gate was torn down during verification")
)

// FullscreenError is returned by Accept when fullscreen could not be entered
// or did not survive verification.
type FullscreenError struct {
	Remediation string
}

func (e *FullscreenError) Error() string { return e.Remediation }

// GateHooks are the callbacks the gate fires on lifecycle transitions.
type GateHooks struct {
	OnExamStart func(ctx context.Context)
	OnExamEnd   func(ctx context.Context)
	OnViolation func(v model.SecurityViolation)
}

// Gate holds the exam behind an explicit fullscreen consent step.
// Monitoring is only started once fullscreen has been verified.
type Gate struct {
	monitor     *Monitor
	env         Environment
	hooks       GateHooks
	duration    time.Duration
	verifyDelay time.Duration
	log         zerolog.Logger

	mu    sync.Mutex
	state GateState
	torn  bool
}

// NewGate creates a gate in GateAwaitingConsent. duration is forwarded to
// StartMonitoring as the auto-stop bound.
func NewGate(monitor *Monitor, env Environment, hooks GateHooks, duration, verifyDelay time.Duration, log zerolog.Logger) *Gate {
	return &Gate{
		monitor:     monitor,
		env:         env,
		hooks:       hooks,
		duration:    duration,
		verifyDelay: verifyDelay,
		log:         log.With().Str("component", "consent_gate").Logger(),
		state:       GateAwaitingConsent,
	}
}

func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Accept enters fullscreen, waits verifyDelay, re-checks, and only then starts
// monitoring and fires OnExamStart. On failure the gate returns to
// GateAwaitingConsent with a *FullscreenError.
func (g *Gate) Accept(ctx context.Context) error {
	g.mu.Lock()
	if g.state != GateAwaitingConsent {
		g.mu.Unlock()
		return ErrGateNotAwaiting
	}
	g.state = GateRequestingFullscreen
	g.mu.Unlock()

	if !g.monitor.EnterFullscreen(ctx) {
		return g.failFullscreen()
	}

	g.setState(GateVerifying)

	if g.verifyDelay > 0 {
		t := time.NewTimer(g.verifyDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			g.setState(GateAwaitingConsent)
			return ctx.Err()
		case <-t.C:
		}
	}

	g.mu.Lock()
	if g.torn {
		g.mu.Unlock()
		return ErrGateTornDown
	}
	g.mu.Unlock()

	if !g.monitor.IsInFullscreen() {
		g.log.Warn().Msg("Fullscreen was not active after verification delay")
		return g.failFullscreen()
	}

	g.setState(GateActive)
	g.monitor.StartMonitoring(g.hooks.OnViolation, g.duration)
	g.log.Info().Msg("Fullscreen verified, exam security active")

	if g.hooks.OnExamStart != nil {
		g.hooks.OnExamStart(ctx)
	}
	return nil
}

// Decline leaves the gate in GateAwaitingConsent and returns the notice to show.
func (g *Gate) Decline() string {
	g.log.Info().Msg("Candidate declined fullscreen consent")
	return declineNotice
}

// End stops security for exam completion, exits fullscreen and fires
// OnExamEnd. Only the first call has any effect.
func (g *Gate) End(ctx context.Context) {
	g.mu.Lock()
	if g.state == GateTerminated {
		g.mu.Unlock()
		return
	}
	g.state = GateTerminated
	g.mu.Unlock()

	g.monitor.StopSecurityForExamCompletion()
	if g.monitor.IsInFullscreen() {
		g.monitor.ExitFullscreen(ctx)
	}

	if g.hooks.OnExamEnd != nil {
		g.hooks.OnExamEnd(ctx)
	}
	g.log.Info().Msg("Exam ended, security released")
}

// Teardown stops monitoring if it is still active. Safe to call at any time.
func (g *Gate) Teardown() {
	g.mu.Lock()
	g.torn = true
	g.mu.Unlock()

	if g.monitor.IsSecurityActive() {
		g.monitor.StopMonitoring()
	}
}

func (g *Gate) setState(s GateState) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

func (g *Gate) failFullscreen() error {
	g.setState(GateAwaitingConsent)
	return &FullscreenError{Remediation: remediationFor(g.env.UserAgent())}
}

func remediationFor(userAgent string) string {
	if strings.Contains(userAgent, "Firefox") {
		return "Firefox blocked fullscreen mode. Allow fullscreen for this site " +
			"(click the icon in the address bar), or press F11, then accept again."
	}
	return "Fullscreen mode could not be enabled. Make sure your browser allows " +
		"fullscreen for this site and try again."
}
