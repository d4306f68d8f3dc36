package proctor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrFullscreenUnsupported is returned when the browser exposes no fullscreen variant.
var ErrFullscreenUnsupported = errors.New("fullscreen API not supported")

const leavePageMessage = "You are not allowed to leave the exam page. This action will be recorded."

// Config controls which interceptors the monitor installs.
type Config struct {
	DisableKeys          []string
	ShortcutKeys         []string
	PreventTabSwitch     bool
	PreventWindowResize  bool
	PreventContextMenu   bool
	PreventDevTools      bool
	LogViolations        bool
	MaxViolations        int
	DevToolsThreshold    int
	DevToolsPollInterval time.Duration
}

// DefaultConfig returns the standard exam lockdown.
func DefaultConfig() Config {
	return Config{
		DisableKeys: []string{
			"F1", "F2", "F3", "F4", "F5", "F6", "F7", "F8", "F9", "F10", "F11", "F12",
			"Tab", "Alt", "Ctrl", "Meta", "Shift",
			"PrintScreen", "ScrollLock", "Pause",
			"Insert", "Delete", "Home", "End", "PageUp", "PageDown",
			"ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight",
			"Escape",
		},
		ShortcutKeys:         []string{"c", "v", "x", "a", "z", "y", "s", "p", "f", "g", "h", "r", "t", "w", "n", "o"},
		PreventTabSwitch:     true,
		PreventWindowResize:  true,
		PreventContextMenu:   true,
		PreventDevTools:      true,
		LogViolations:        true,
		MaxViolations:        10,
		DevToolsThreshold:    160,
		DevToolsPollInterval: 500 * time.Millisecond,
	}
}

// Monitor installs input interceptors on an Environment and keeps the
// violation log for one monitoring session. It never propagates failures of
// its own interceptors.
type Monitor struct {
	env Environment
	cfg Config
	log zerolog.Logger
	now func() time.Time

	mu          sync.Mutex
	active      bool
	generation  uint64
	fullscreen  bool
	violations  []model.SecurityViolation
	removers    []func()
	onViolation func(model.SecurityViolation)
	autoStop    *time.Timer
	pollStop    chan struct{}
}

// NewMonitor creates a Monitor bound to env.
func NewMonitor(env Environment, cfg Config, log zerolog.Logger) *Monitor {
	return &Monitor{
		env: env,
		cfg: cfg,
		log: log.With().Str("component", "security_monitor").Logger(),
		now: time.Now,
	}
}

// StartMonitoring installs every configured interceptor. Calling it while
// monitoring is already active only logs a warning. A positive duration arms a
// one-shot timer that stops monitoring on its own.
func (m *Monitor) StartMonitoring(onViolation func(model.SecurityViolation), duration time.Duration) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		m.log.Warn().Msg("Security monitoring is already active")
		return
	}
	m.active = true
	m.generation++
	gen := m.generation
	m.violations = nil
	m.onViolation = onViolation
	m.mu.Unlock()

	m.log.Info().Dur("duration", duration).Msg("Starting exam security monitoring")

	m.install(EventKeyDown, ListenerOptions{Capture: true, Policy: m.keyPolicy()}, m.handleKeyDown)

	if m.cfg.PreventContextMenu {
		m.install(EventContextMenu, ListenerOptions{Capture: true}, m.handleContextMenu)
	}
	if m.cfg.PreventTabSwitch {
		m.install(EventBeforeUnload, ListenerOptions{}, m.handleBeforeUnload)
	}
	if m.cfg.PreventWindowResize {
		m.install(EventResize, ListenerOptions{}, m.handleResize)
	}
	if m.cfg.PreventDevTools {
		m.startDevToolsPoll(gen)
	}
	m.install(EventVisibilityChange, ListenerOptions{}, m.handleVisibilityChange)

	if duration > 0 {
		timer := time.AfterFunc(duration, func() {
			if !m.isGeneration(gen) {
				return
			}
			m.log.Info().Msg("Exam duration elapsed, stopping security monitoring automatically")
			m.StopMonitoring()
		})
		m.mu.Lock()
		m.autoStop = timer
		m.mu.Unlock()
	}

	m.log.Info().Msg("Security monitoring started")
}

// StopMonitoring removes every interceptor and the auto-stop timer.
// It is a no-op when monitoring is not active. The violation log is kept.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		m.log.Debug().Msg("Security monitoring is not active")
		return
	}
	m.active = false
	m.generation++
	removers := m.removers
	m.removers = nil
	m.onViolation = nil
	if m.autoStop != nil {
		m.autoStop.Stop()
		m.autoStop = nil
	}
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
	m.mu.Unlock()

	for _, remove := range removers {
		m.guard("remove_listener", remove)
	}

	m.log.Info().Int("violations", m.ViolationCount()).Msg("Security monitoring stopped")
}

// StopSecurityForExamCompletion records an exam_completed marker and stops
// monitoring, so the audit trail tells a voluntary completion apart from an
// automatic stop.
func (m *Monitor) StopSecurityForExamCompletion() {
	if !m.IsSecurityActive() {
		return
	}
	m.logViolation(model.SecurityViolation{
		Type:     model.ViolationExamCompleted,
		Details:  "Exam completed - security monitoring stopped",
		Severity: model.SeverityLow,
	})
	m.StopMonitoring()
}

// EnterFullscreen requests fullscreen through the first supported vendor variant.
func (m *Monitor) EnterFullscreen(ctx context.Context) bool {
	err := m.withFullscreen(func(api FullscreenAPI) error { return api.Request(ctx) })
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to enter fullscreen")
		m.logViolation(model.SecurityViolation{
			Type:     model.ViolationWindowResize,
			Details:  "Failed to enter fullscreen mode",
			Severity: model.SeverityMedium,
		})
		return false
	}

	m.mu.Lock()
	m.fullscreen = true
	m.mu.Unlock()
	m.log.Info().Msg("Entered fullscreen mode")
	return true
}

// ExitFullscreen leaves fullscreen through the first supported vendor variant.
func (m *Monitor) ExitFullscreen(ctx context.Context) bool {
	if err := m.withFullscreen(func(api FullscreenAPI) error { return api.Exit(ctx) }); err != nil {
		m.log.Error().Err(err).Msg("Failed to exit fullscreen")
		return false
	}

	m.mu.Lock()
	m.fullscreen = false
	m.mu.Unlock()
	m.log.Info().Msg("Exited fullscreen mode")
	return true
}

// IsInFullscreen reports whether any vendor variant has a fullscreen element.
func (m *Monitor) IsInFullscreen() bool {
	for _, api := range m.env.Fullscreen() {
		if api.Active() {
			return true
		}
	}
	return false
}

func (m *Monitor) IsSecurityActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Violations returns a copy of the current log.
func (m *Monitor) Violations() []model.SecurityViolation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.violations)
}

func (m *Monitor) ViolationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.violations)
}

// HasExceededMaxViolations reports whether the log reached MaxViolations.
// Nothing is terminated when it does; callers decide.
func (m *Monitor) HasExceededMaxViolations() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exceededLocked()
}

func (m *Monitor) ClearViolations() {
	m.mu.Lock()
	m.violations = nil
	m.mu.Unlock()
}

// ─── Interceptors ──────────────────────────────────────────────────

func (m *Monitor) handleKeyDown(ev *Event) {
	if slices.Contains(m.cfg.DisableKeys, ev.Key) || (ev.Code != "" && slices.Contains(m.cfg.DisableKeys, ev.Code)) {
		ev.PreventDefault()
		ev.StopPropagation()
		m.logViolation(model.SecurityViolation{
			Type:     model.ViolationKeyPress,
			Details:  fmt.Sprintf("Disabled key pressed: %s (%s)", ev.Key, ev.Code),
			Severity: model.SeverityHigh,
		})
		return
	}

	if ev.Ctrl || ev.Meta {
		if slices.Contains(m.cfg.ShortcutKeys, strings.ToLower(ev.Key)) {
			modifier := "Cmd"
			if ev.Ctrl {
				modifier = "Ctrl"
			}
			ev.PreventDefault()
			ev.StopPropagation()
			m.logViolation(model.SecurityViolation{
				Type:     model.ViolationKeyPress,
				Details:  fmt.Sprintf("Disabled shortcut: %s+%s", modifier, ev.Key),
				Severity: model.SeverityHigh,
			})
			return
		}
	}

	if ev.Alt && ev.Key == "Tab" {
		ev.PreventDefault()
		ev.StopPropagation()
		m.logViolation(model.SecurityViolation{
			Type:     model.ViolationKeyPress,
			Details:  "Alt+Tab combination blocked",
			Severity: model.SeverityHigh,
		})
	}
}

func (m *Monitor) handleContextMenu(ev *Event) {
	ev.PreventDefault()
	ev.StopPropagation()
	m.logViolation(model.SecurityViolation{
		Type:     model.ViolationContextMenu,
		Details:  "Right-click context menu attempted",
		Severity: model.SeverityMedium,
	})
}

func (m *Monitor) handleBeforeUnload(ev *Event) {
	ev.PreventDefault()
	ev.SetReturnValue(leavePageMessage)
	m.logViolation(model.SecurityViolation{
		Type:     model.ViolationTabSwitch,
		Details:  "Attempt to leave exam page",
		Severity: model.SeverityHigh,
	})
}

func (m *Monitor) handleResize(ev *Event) {
	ev.PreventDefault()
	ev.StopPropagation()
	m.logViolation(model.SecurityViolation{
		Type:     model.ViolationWindowResize,
		Details:  "Window resize attempted",
		Severity: model.SeverityMedium,
	})
}

func (m *Monitor) handleVisibilityChange(ev *Event) {
	if !ev.Hidden {
		return
	}
	m.logViolation(model.SecurityViolation{
		Type:     model.ViolationTabSwitch,
		Details:  "Tab switched or minimized",
		Severity: model.SeverityHigh,
	})
}

// startDevToolsPoll compares outer and inner window sizes on an interval.
// Detection is edge-triggered: one violation per opening of the panel.
func (m *Monitor) startDevToolsPoll(gen uint64) {
	interval := m.cfg.DevToolsPollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	stop := make(chan struct{})
	m.mu.Lock()
	m.pollStop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		open := false
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.guard("devtools_poll", func() {
					w := m.env.WindowMetrics()
					threshold := m.cfg.DevToolsThreshold
					if w.OuterHeight-w.InnerHeight > threshold || w.OuterWidth-w.InnerWidth > threshold {
						if !open && m.isGeneration(gen) {
							open = true
							m.logViolation(model.SecurityViolation{
								Type:     model.ViolationDevTools,
								Details:  "Developer tools detected",
								Severity: model.SeverityHigh,
							})
						}
					} else {
						open = false
					}
				})
			}
		}
	}()
}

// ─── Internals ─────────────────────────────────────────────────────

func (m *Monitor) install(t EventType, opts ListenerOptions, handler Listener) {
	var remove func()
	m.guard("install_"+string(t), func() {
		remove = m.env.AddEventListener(t, opts, func(ev *Event) {
			m.guard(string(t), func() { handler(ev) })
		})
	})
	if remove == nil {
		return
	}
	m.mu.Lock()
	m.removers = append(m.removers, remove)
	m.mu.Unlock()
}

func (m *Monitor) logViolation(v model.SecurityViolation) {
	if !m.cfg.LogViolations {
		return
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = m.now().UTC()
	}

	m.mu.Lock()
	m.violations = append(m.violations, v)
	callback := m.onViolation
	exceeded := m.exceededLocked()
	count := len(m.violations)
	m.mu.Unlock()

	m.log.Warn().
		Str("type", string(v.Type)).
		Str("severity", string(v.Severity)).
		Str("details", v.Details).
		Msg("Security violation")

	if callback != nil {
		m.guard("violation_callback", func() { callback(v) })
	}

	if exceeded {
		m.log.Error().Int("count", count).Int("max", m.cfg.MaxViolations).Msg("Maximum violations exceeded")
	}
}

func (m *Monitor) exceededLocked() bool {
	return m.cfg.MaxViolations > 0 && len(m.violations) >= m.cfg.MaxViolations
}

func (m *Monitor) isGeneration(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && m.generation == gen
}

func (m *Monitor) withFullscreen(fn func(FullscreenAPI) error) (err error) {
	apis := m.env.Fullscreen()
	if len(apis) == 0 {
		return ErrFullscreenUnsupported
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fullscreen %s: panic: %v", apis[0].Vendor(), r)
		}
	}()
	return fn(apis[0])
}

func (m *Monitor) keyPolicy() *KeyPolicy {
	return &KeyPolicy{
		DisableKeys:  slices.Clone(m.cfg.DisableKeys),
		ShortcutKeys: slices.Clone(m.cfg.ShortcutKeys),
		BlockAltTab:  true,
	}
}

// guard runs fn and swallows any panic; the monitor must never crash the exam.
func (m *Monitor) guard(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("op", op).Interface("panic", r).Msg("Security interceptor failed")
		}
	}()
	fn()
}
