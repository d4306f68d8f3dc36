package proctor

import (
	"context"
	"errors"
	"sync"
)

type fakeFullscreen struct {
	mu         sync.Mutex
	vendor     Vendor
	failEnter  bool
	dropsAfter bool // reports inactive even after a successful request
	release    chan struct{}
	active     bool
	requests   int
	exits      int
}

func (f *fakeFullscreen) Vendor() Vendor { return f.vendor }

func (f *fakeFullscreen) Request(ctx context.Context) error {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.failEnter {
		return errors.New("permission denied")
	}
	f.active = !f.dropsAfter
	return nil
}

func (f *fakeFullscreen) Exit(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exits++
	f.active = false
	return nil
}

func (f *fakeFullscreen) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type registration struct {
	id       int
	t        EventType
	opts     ListenerOptions
	listener Listener
}

type fakeEnv struct {
	mu        sync.Mutex
	nextID    int
	listeners []registration
	installed []EventType
	metrics   WindowMetrics
	apis      []FullscreenAPI
	userAgent string
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		metrics:   WindowMetrics{OuterWidth: 1280, OuterHeight: 800, InnerWidth: 1280, InnerHeight: 720},
		apis:      []FullscreenAPI{&fakeFullscreen{vendor: VendorStandard}},
		userAgent: "Mozilla/5.0 (X11; Linux x86_64) Chrome/130.0",
	}
}

func (e *fakeEnv) AddEventListener(t EventType, opts ListenerOptions, l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, registration{id: id, t: t, opts: opts, listener: l})
	e.installed = append(e.installed, t)
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, r := range e.listeners {
			if r.id == id {
				e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

func (e *fakeEnv) WindowMetrics() WindowMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

func (e *fakeEnv) setMetrics(m WindowMetrics) {
	e.mu.Lock()
	e.metrics = m
	e.mu.Unlock()
}

func (e *fakeEnv) Fullscreen() []FullscreenAPI { return e.apis }
func (e *fakeEnv) UserAgent() string           { return e.userAgent }

func (e *fakeEnv) listenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

func (e *fakeEnv) fullscreen() *fakeFullscreen { return e.apis[0].(*fakeFullscreen) }

// dispatch delivers ev to every listener registered for its type.
func (e *fakeEnv) dispatch(ev *Event) *Event {
	e.mu.Lock()
	var targets []Listener
	for _, r := range e.listeners {
		if r.t == ev.Type {
			targets = append(targets, r.listener)
		}
	}
	e.mu.Unlock()

	for _, l := range targets {
		l(ev)
	}
	return ev
}
