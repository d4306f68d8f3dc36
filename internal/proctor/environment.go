package proctor

import "context"

// EventType names a browser event the monitor can intercept.
type EventType string

const (
	EventKeyDown          EventType = "keydown"
	EventContextMenu      EventType = "contextmenu"
	EventBeforeUnload     EventType = "beforeunload"
	EventResize           EventType = "resize"
	EventVisibilityChange EventType = "visibilitychange"
)

// Event is one input event raised by the candidate's browser.
// Listeners mark it prevented; the environment reports the verdict back.
type Event struct {
	Type   EventType `json:"type"`
	Key    string    `json:"key,omitempty"`
	Code   string    `json:"code,omitempty"`
	Ctrl   bool      `json:"ctrl,omitempty"`
	Meta   bool      `json:"meta,omitempty"`
	Alt    bool      `json:"alt,omitempty"`
	Shift  bool      `json:"shift,omitempty"`
	Hidden bool      `json:"hidden,omitempty"`

	prevented   bool
	stopped     bool
	returnValue string
}

func (e *Event) PreventDefault()  { e.prevented = true }
func (e *Event) StopPropagation() { e.stopped = true }

// SetReturnValue sets the confirmation prompt of a beforeunload event.
func (e *Event) SetReturnValue(msg string) { e.returnValue = msg }

func (e *Event) Prevented() bool     { return e.prevented }
func (e *Event) Stopped() bool       { return e.stopped }
func (e *Event) ReturnValue() string { return e.returnValue }

// Listener handles one event.
type Listener func(ev *Event)

// ListenerOptions configures a listener registration. Policy is forwarded to
// the browser so the deny-list can be applied before the round trip.
type ListenerOptions struct {
	Capture bool       `json:"capture"`
	Policy  *KeyPolicy `json:"policy,omitempty"`
}

// KeyPolicy describes the keyboard deny-list.
type KeyPolicy struct {
	DisableKeys  []string `json:"disable_keys"`
	ShortcutKeys []string `json:"shortcut_keys"`
	BlockAltTab  bool     `json:"block_alt_tab"`
}

// WindowMetrics are the outer/inner window dimensions reported by the browser.
type WindowMetrics struct {
	OuterWidth  int `json:"outer_width"`
	OuterHeight int `json:"outer_height"`
	InnerWidth  int `json:"inner_width"`
	InnerHeight int `json:"inner_height"`
}

// Vendor identifies one of the fullscreen API variants.
type Vendor string

const (
	VendorStandard Vendor = "standard"
	VendorWebkit   Vendor = "webkit"
	VendorMoz      Vendor = "moz"
	VendorMS       Vendor = "ms"
)

// VendorPreference is the order in which fullscreen variants are tried.
var VendorPreference = []Vendor{VendorStandard, VendorWebkit, VendorMoz, VendorMS}

// FullscreenAPI is one vendor variant of the fullscreen API.
type FullscreenAPI interface {
	Vendor() Vendor
	Request(ctx context.Context) error
	Exit(ctx context.Context) error
	// Active reports whether this variant currently has a fullscreen element.
	Active() bool
}

// Environment is the candidate's browser as seen by the monitor.
type Environment interface {
	// AddEventListener installs l and returns a function that removes it.
	AddEventListener(t EventType, opts ListenerOptions, l Listener) (remove func())
	WindowMetrics() WindowMetrics
	// Fullscreen returns the supported variants in VendorPreference order.
	Fullscreen() []FullscreenAPI
	UserAgent() string
}
