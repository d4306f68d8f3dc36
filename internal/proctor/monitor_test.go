package proctor

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type violationSink struct {
	mu   sync.Mutex
	seen []model.SecurityViolation
}

func (s *violationSink) record(v model.SecurityViolation) {
	s.mu.Lock()
	s.seen = append(s.seen, v)
	s.mu.Unlock()
}

func (s *violationSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func newTestMonitor(env Environment, mutate func(*Config)) *Monitor {
	cfg := DefaultConfig()
	cfg.DevToolsPollInterval = 5 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewMonitor(env, cfg, zerolog.Nop())
	m.now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return m
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestStartMonitoringInstallsInterceptorsInOrder(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, nil)
	m.StartMonitoring(nil, 0)
	defer m.StopMonitoring()

	want := []EventType{EventKeyDown, EventContextMenu, EventBeforeUnload, EventResize, EventVisibilityChange}
	if !slices.Equal(env.installed, want) {
		t.Fatalf("installed = %v, want %v", env.installed, want)
	}
	if !env.listeners[0].opts.Capture {
		t.Error("keydown listener must be capturing")
	}
	if env.listeners[0].opts.Policy == nil || !env.listeners[0].opts.Policy.BlockAltTab {
		t.Error("keydown listener must carry the key policy")
	}
	if !m.IsSecurityActive() {
		t.Error("IsSecurityActive() = false after start")
	}
}

func TestDisabledFlagsSkipInterceptors(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, func(c *Config) {
		c.PreventContextMenu = false
		c.PreventTabSwitch = false
		c.PreventWindowResize = false
		c.PreventDevTools = false
	})
	m.StartMonitoring(nil, 0)
	defer m.StopMonitoring()

	want := []EventType{EventKeyDown, EventVisibilityChange}
	if !slices.Equal(env.installed, want) {
		t.Fatalf("installed = %v, want %v", env.installed, want)
	}
}

func TestKeyDownBlocking(t *testing.T) {
	tests := []struct {
		name        string
		ev          Event
		wantBlocked bool
		wantDetails string
	}{
		{"function key", Event{Key: "F12", Code: "F12"}, true, "Disabled key pressed: F12 (F12)"},
		{"escape", Event{Key: "Escape", Code: "Escape"}, true, "Disabled key pressed: Escape (Escape)"},
		{"ctrl copy", Event{Key: "c", Code: "KeyC", Ctrl: true}, true, "Disabled shortcut: Ctrl+c"},
		{"ctrl upper paste", Event{Key: "V", Code: "KeyV", Ctrl: true, Shift: true}, true, "Disabled shortcut: Ctrl+V"},
		{"cmd reload", Event{Key: "r", Code: "KeyR", Meta: true}, true, "Disabled shortcut: Cmd+r"},
		{"plain letter", Event{Key: "c", Code: "KeyC"}, false, ""},
		{"ctrl allowed letter", Event{Key: "b", Code: "KeyB", Ctrl: true}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newFakeEnv()
			sink := &violationSink{}
			m := newTestMonitor(env, nil)
			m.StartMonitoring(sink.record, 0)
			defer m.StopMonitoring()

			ev := tt.ev
			ev.Type = EventKeyDown
			env.dispatch(&ev)

			if ev.Prevented() != tt.wantBlocked || ev.Stopped() != tt.wantBlocked {
				t.Fatalf("prevented=%v stopped=%v, want %v", ev.Prevented(), ev.Stopped(), tt.wantBlocked)
			}
			if !tt.wantBlocked {
				if m.ViolationCount() != 0 {
					t.Fatalf("violations = %d, want 0", m.ViolationCount())
				}
				return
			}
			got := m.Violations()
			if len(got) != 1 {
				t.Fatalf("violations = %d, want 1", len(got))
			}
			if got[0].Type != model.ViolationKeyPress || got[0].Severity != model.SeverityHigh {
				t.Errorf("violation = %+v, want high key_press", got[0])
			}
			if got[0].Details != tt.wantDetails {
				t.Errorf("details = %q, want %q", got[0].Details, tt.wantDetails)
			}
			if sink.count() != 1 {
				t.Errorf("callback calls = %d, want 1", sink.count())
			}
		})
	}
}

func TestAltTabBlocked(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, func(c *Config) {
		c.DisableKeys = slices.DeleteFunc(slices.Clone(c.DisableKeys), func(k string) bool { return k == "Tab" })
	})
	m.StartMonitoring(nil, 0)
	defer m.StopMonitoring()

	ev := env.dispatch(&Event{Type: EventKeyDown, Key: "Tab", Code: "Tab", Alt: true})
	if !ev.Prevented() {
		t.Fatal("Alt+Tab not prevented")
	}
	if v := m.Violations(); len(v) != 1 || v[0].Details != "Alt+Tab combination blocked" {
		t.Fatalf("violations = %+v", v)
	}
}

func TestPageLevelInterceptors(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, nil)
	m.StartMonitoring(nil, 0)
	defer m.StopMonitoring()

	menu := env.dispatch(&Event{Type: EventContextMenu})
	if !menu.Prevented() {
		t.Error("context menu not prevented")
	}

	unload := env.dispatch(&Event{Type: EventBeforeUnload})
	if unload.ReturnValue() != leavePageMessage {
		t.Errorf("beforeunload return value = %q", unload.ReturnValue())
	}

	env.dispatch(&Event{Type: EventResize})
	env.dispatch(&Event{Type: EventVisibilityChange, Hidden: false})
	env.dispatch(&Event{Type: EventVisibilityChange, Hidden: true})

	got := m.Violations()
	want := []struct {
		typ model.ViolationType
		sev model.Severity
	}{
		{model.ViolationContextMenu, model.SeverityMedium},
		{model.ViolationTabSwitch, model.SeverityHigh},
		{model.ViolationWindowResize, model.SeverityMedium},
		{model.ViolationTabSwitch, model.SeverityHigh},
	}
	if len(got) != len(want) {
		t.Fatalf("violations = %d, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Type != w.typ || got[i].Severity != w.sev {
			t.Errorf("violation[%d] = %s/%s, want %s/%s", i, got[i].Type, got[i].Severity, w.typ, w.sev)
		}
		if got[i].Timestamp.IsZero() {
			t.Errorf("violation[%d] has zero timestamp", i)
		}
	}
}

func TestStartMonitoringTwiceDoesNotDoubleInstall(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, func(c *Config) { c.PreventDevTools = false })
	m.StartMonitoring(nil, 0)
	installed := env.listenerCount()
	m.StartMonitoring(nil, 0)
	defer m.StopMonitoring()

	if env.listenerCount() != installed {
		t.Fatalf("listeners = %d after second start, want %d", env.listenerCount(), installed)
	}

	env.dispatch(&Event{Type: EventKeyDown, Key: "F5", Code: "F5"})
	if m.ViolationCount() != 1 {
		t.Fatalf("violations = %d, want exactly 1 per keypress", m.ViolationCount())
	}
}

func TestStopMonitoringRemovesEverythingAndKeepsLog(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, nil)
	m.StartMonitoring(nil, 0)
	env.dispatch(&Event{Type: EventContextMenu})

	m.StopMonitoring()
	m.StopMonitoring()

	if env.listenerCount() != 0 {
		t.Fatalf("listeners = %d after stop, want 0", env.listenerCount())
	}
	if m.IsSecurityActive() {
		t.Fatal("still active after stop")
	}
	if m.ViolationCount() != 1 {
		t.Fatalf("log not kept: %d violations", m.ViolationCount())
	}

	// Events after stop are not observed.
	ev := env.dispatch(&Event{Type: EventKeyDown, Key: "F12"})
	if ev.Prevented() || m.ViolationCount() != 1 {
		t.Fatal("event handled after stop")
	}
}

func TestRestartClearsLog(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, nil)
	m.StartMonitoring(nil, 0)
	env.dispatch(&Event{Type: EventResize})
	m.StopMonitoring()

	m.StartMonitoring(nil, 0)
	defer m.StopMonitoring()
	if m.ViolationCount() != 0 {
		t.Fatalf("violations = %d after restart, want 0", m.ViolationCount())
	}
}

func TestStopSecurityForExamCompletion(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, nil)
	m.StartMonitoring(nil, 0)
	env.dispatch(&Event{Type: EventKeyDown, Key: "F1", Code: "F1"})

	m.StopSecurityForExamCompletion()
	m.StopSecurityForExamCompletion()

	got := m.Violations()
	if len(got) != 2 {
		t.Fatalf("violations = %d, want 2", len(got))
	}
	last := got[1]
	if last.Type != model.ViolationExamCompleted || last.Severity != model.SeverityLow {
		t.Fatalf("last violation = %+v, want low exam_completed", last)
	}
	if m.IsSecurityActive() {
		t.Fatal("still active")
	}
}

func TestAutoStopDoesNotRecordCompletion(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, nil)
	m.StartMonitoring(nil, 20*time.Millisecond)

	waitFor(t, time.Second, func() bool { return !m.IsSecurityActive() })

	if env.listenerCount() != 0 {
		t.Fatalf("listeners = %d after auto-stop", env.listenerCount())
	}
	for _, v := range m.Violations() {
		if v.Type == model.ViolationExamCompleted {
			t.Fatal("auto-stop recorded an exam_completed violation")
		}
	}
}

func TestStaleAutoStopDoesNotStopNewSession(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, func(c *Config) { c.PreventDevTools = false })
	m.StartMonitoring(nil, 30*time.Millisecond)
	m.StopMonitoring()
	m.StartMonitoring(nil, 0)
	defer m.StopMonitoring()

	time.Sleep(60 * time.Millisecond)
	if !m.IsSecurityActive() {
		t.Fatal("auto-stop from a previous session stopped the current one")
	}
}

func TestDevToolsDetectionIsEdgeTriggered(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, nil)
	m.StartMonitoring(nil, 0)
	defer m.StopMonitoring()

	closed := env.WindowMetrics()
	open := closed
	open.InnerWidth = closed.OuterWidth - 300

	env.setMetrics(open)
	waitFor(t, time.Second, func() bool { return m.ViolationCount() == 1 })
	time.Sleep(30 * time.Millisecond)
	if m.ViolationCount() != 1 {
		t.Fatalf("violations = %d while panel stays open, want 1", m.ViolationCount())
	}

	env.setMetrics(closed)
	time.Sleep(30 * time.Millisecond)
	env.setMetrics(open)
	waitFor(t, time.Second, func() bool { return m.ViolationCount() == 2 })

	if v := m.Violations()[0]; v.Type != model.ViolationDevTools || v.Severity != model.SeverityHigh {
		t.Fatalf("violation = %+v, want high dev_tools", v)
	}
}

func TestMaxViolationsDoesNotTerminate(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, func(c *Config) { c.MaxViolations = 2 })
	m.StartMonitoring(nil, 0)
	defer m.StopMonitoring()

	env.dispatch(&Event{Type: EventContextMenu})
	if m.HasExceededMaxViolations() {
		t.Fatal("exceeded after 1 violation")
	}
	env.dispatch(&Event{Type: EventContextMenu})
	env.dispatch(&Event{Type: EventContextMenu})
	if !m.HasExceededMaxViolations() {
		t.Fatal("not exceeded after 3 violations")
	}
	if !m.IsSecurityActive() {
		t.Fatal("monitoring stopped on max violations")
	}

	m.ClearViolations()
	if m.ViolationCount() != 0 || m.HasExceededMaxViolations() {
		t.Fatal("ClearViolations did not reset the log")
	}
}

func TestPanickingCallbackIsContained(t *testing.T) {
	env := newFakeEnv()
	m := newTestMonitor(env, nil)
	m.StartMonitoring(func(model.SecurityViolation) { panic("boom") }, 0)
	defer m.StopMonitoring()

	ev := env.dispatch(&Event{Type: EventKeyDown, Key: "F12", Code: "F12"})
	if !ev.Prevented() {
		t.Fatal("event not prevented")
	}
	if m.ViolationCount() != 1 {
		t.Fatalf("violations = %d, want 1", m.ViolationCount())
	}
}

func TestEnterFullscreen(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		env := newFakeEnv()
		m := newTestMonitor(env, nil)
		if !m.EnterFullscreen(context.Background()) {
			t.Fatal("EnterFullscreen() = false")
		}
		if !m.IsInFullscreen() {
			t.Fatal("IsInFullscreen() = false")
		}
		if !m.ExitFullscreen(context.Background()) || m.IsInFullscreen() {
			t.Fatal("ExitFullscreen did not leave fullscreen")
		}
	})

	t.Run("denied", func(t *testing.T) {
		env := newFakeEnv()
		env.fullscreen().failEnter = true
		m := newTestMonitor(env, nil)
		if m.EnterFullscreen(context.Background()) {
			t.Fatal("EnterFullscreen() = true")
		}
		v := m.Violations()
		if len(v) != 1 || v[0].Severity != model.SeverityMedium || v[0].Type != model.ViolationWindowResize {
			t.Fatalf("violations = %+v, want one medium window_resize", v)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		env := newFakeEnv()
		env.apis = nil
		m := newTestMonitor(env, nil)
		if m.EnterFullscreen(context.Background()) {
			t.Fatal("EnterFullscreen() = true without any API")
		}
	})
}
