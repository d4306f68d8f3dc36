package websocket

import "github.com/stemsi/exstem-proctor/internal/proctor"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

// Candidate actions. Each one is answered with a ReplyMessage carrying the
// same request_id.
const (
	ActionLoad              Action = "load"
	ActionCloseInstructions Action = "close_instructions"
	ActionAcceptConsent     Action = "accept_consent"
	ActionDeclineConsent    Action = "decline_consent"
	ActionAnswer            Action = "answer"
	ActionGoTo              Action = "goto"
	ActionRequestSubmit     Action = "request_submit"
	ActionConfirmSubmit     Action = "confirm_submit"
	ActionPing              Action = "ping"
)

// Browser reports. These are consumed by the connection itself.
const (
	// ActionHello announces supported fullscreen variants and window metrics.
	ActionHello Action = "hello"
	// ActionEvent delivers an intercepted browser event to a listener.
	ActionEvent Action = "event"
	// ActionMetrics updates the window dimensions.
	ActionMetrics Action = "metrics"
	// ActionFullscreenState reports a fullscreenchange.
	ActionFullscreenState Action = "fullscreen_state"
	// ActionResult answers a server command (fullscreen, navigate).
	ActionResult Action = "result"
)

// Request is every message the browser sends. Fields are populated per action.
type Request struct {
	Action    Action `json:"action"`
	RequestID string `json:"request_id,omitempty"`

	// answer / goto
	QuestionID string `json:"question_id,omitempty"`
	Answer     string `json:"answer,omitempty"`
	Index      *int   `json:"index,omitempty"`

	// event
	ListenerID string         `json:"listener_id,omitempty"`
	Event      *proctor.Event `json:"event,omitempty"`

	// hello / metrics / fullscreen_state
	Metrics *proctor.WindowMetrics `json:"metrics,omitempty"`
	Vendors []proctor.Vendor       `json:"vendors,omitempty"`
	Vendor  proctor.Vendor         `json:"vendor,omitempty"`
	Active  bool                   `json:"active,omitempty"`

	// result
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// isAction reports whether r is a candidate action rather than a report.
func (r *Request) isAction() bool {
	switch r.Action {
	case ActionHello, ActionEvent, ActionMetrics, ActionFullscreenState, ActionResult, ActionPing:
		return false
	}
	return true
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError      Event = "error"
	EventReply      Event = "reply"
	EventNotice     Event = "notice"
	EventListen     Event = "listen"
	EventUnlisten   Event = "unlisten"
	EventVerdict    Event = "verdict"
	EventFullscreen Event = "fullscreen"
	EventNavigate   Event = "navigate"
	EventRedirect   Event = "redirect"
	EventPong       Event = "pong"
)

// ReplyMessage answers a candidate action.
type ReplyMessage struct {
	Event     Event  `json:"event"`
	RequestID string `json:"request_id,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// NoticeMessage is a push from the exam runtime.
type NoticeMessage struct {
	Event   Event  `json:"event"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ListenMessage asks the browser to forward events of one type.
type ListenMessage struct {
	Event      Event                   `json:"event"`
	ListenerID string                  `json:"listener_id"`
	Type       proctor.EventType       `json:"type"`
	Options    proctor.ListenerOptions `json:"options"`
}

// UnlistenMessage removes a listener installed by ListenMessage.
type UnlistenMessage struct {
	Event      Event  `json:"event"`
	ListenerID string `json:"listener_id"`
}

// VerdictMessage tells the browser what the listener did with an event.
type VerdictMessage struct {
	Event       Event  `json:"event"`
	ListenerID  string `json:"listener_id"`
	Prevented   bool   `json:"prevented"`
	Stopped     bool   `json:"stopped"`
	ReturnValue string `json:"return_value,omitempty"`
}

// FullscreenOp is a fullscreen command.
type FullscreenOp string

const (
	FullscreenRequest FullscreenOp = "request"
	FullscreenExit    FullscreenOp = "exit"
)

// CommandMessage is a server command the browser must answer with ActionResult.
type CommandMessage struct {
	Event     Event          `json:"event"`
	RequestID string         `json:"request_id"`
	Op        FullscreenOp   `json:"op,omitempty"`
	Vendor    proctor.Vendor `json:"vendor,omitempty"`
	Path      string         `json:"path,omitempty"`
}

// RedirectMessage forces a full page load.
type RedirectMessage struct {
	Event Event  `json:"event"`
	Path  string `json:"path"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
