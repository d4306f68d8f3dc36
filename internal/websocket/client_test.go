package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// pair starts a server-side Client behind httptest and dials it as the browser.
func pair(t *testing.T, handle ActionFunc) (*Client, *websocket.Conn) {
	t.Helper()
	ready := make(chan *Client, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := NewClient(conn, "203.0.113.9", r.UserAgent(), zerolog.Nop())
		ready <- c
		c.Serve(r.Context(), handle)
	}))
	t.Cleanup(srv.Close)

	header := http.Header{"User-Agent": {"test-browser"}}
	browser, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { browser.Close() })

	select {
	case c := <-ready:
		return c, browser
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
		return nil, nil
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]any
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func TestActionReply(t *testing.T) {
	_, browser := pair(t, func(ctx context.Context, req *Request) (any, error) {
		if req.Action != ActionGoTo || req.Index == nil || *req.Index != 3 {
			t.Errorf("unexpected request %+v", req)
		}
		return map[string]int{"index": 3}, nil
	})

	browser.WriteJSON(map[string]any{"action": "goto", "request_id": "r1", "index": 3})
	m := readMessage(t, browser)
	if m["event"] != string(EventReply) || m["request_id"] != "r1" || m["ok"] != true {
		t.Fatalf("reply = %v", m)
	}
}

func TestPing(t *testing.T) {
	_, browser := pair(t, nil)
	browser.WriteJSON(map[string]any{"action": "ping"})
	if m := readMessage(t, browser); m["event"] != string(EventPong) {
		t.Fatalf("got %v, want pong", m)
	}
}

func TestListenerVerdict(t *testing.T) {
	c, browser := pair(t, nil)

	c.AddEventListener(proctor.EventContextMenu, proctor.ListenerOptions{Capture: true}, func(ev *proctor.Event) {
		ev.PreventDefault()
	})

	listen := readMessage(t, browser)
	if listen["event"] != string(EventListen) || listen["type"] != string(proctor.EventContextMenu) {
		t.Fatalf("listen = %v", listen)
	}
	id := listen["listener_id"]

	browser.WriteJSON(map[string]any{"action": "event", "listener_id": id, "event": map[string]any{"type": "contextmenu"}})
	verdict := readMessage(t, browser)
	if verdict["event"] != string(EventVerdict) || verdict["prevented"] != true {
		t.Fatalf("verdict = %v", verdict)
	}
}

func TestFullscreenRoundTrip(t *testing.T) {
	c, browser := pair(t, nil)

	browser.WriteJSON(map[string]any{"action": "hello", "vendors": []string{"webkit", "standard"},
		"metrics": map[string]int{"outer_width": 1280, "outer_height": 800, "inner_width": 1280, "inner_height": 720}})

	// hello is processed on the read loop; poll until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for c.WindowMetrics().OuterWidth == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	apis := c.Fullscreen()
	if len(apis) != 2 || apis[0].Vendor() != proctor.VendorStandard || apis[1].Vendor() != proctor.VendorWebkit {
		t.Fatalf("vendors out of preference order: %v", apis)
	}

	errc := make(chan error, 1)
	go func() { errc <- apis[0].Request(context.Background()) }()

	cmd := readMessage(t, browser)
	if cmd["event"] != string(EventFullscreen) || cmd["op"] != string(FullscreenRequest) {
		t.Fatalf("command = %v", cmd)
	}
	browser.WriteJSON(map[string]any{"action": "result", "request_id": cmd["request_id"], "ok": true})

	if err := <-errc; err != nil {
		t.Fatalf("Request = %v", err)
	}
	if !apis[0].Active() {
		t.Fatal("fullscreen not active after successful request")
	}
}

func TestNavigateRejected(t *testing.T) {
	c, browser := pair(t, nil)

	errc := make(chan error, 1)
	go func() { errc <- c.Navigate("/exam/results/x") }()

	cmd := readMessage(t, browser)
	raw, _ := json.Marshal(cmd)
	if cmd["event"] != string(EventNavigate) || cmd["path"] != "/exam/results/x" {
		t.Fatalf("command = %s", raw)
	}
	browser.WriteJSON(map[string]any{"action": "result", "request_id": cmd["request_id"], "ok": false, "error": "router missing"})

	if err := <-errc; err == nil {
		t.Fatal("Navigate succeeded on a rejected command")
	}
	if c.Navigated() {
		t.Fatal("Navigated() = true after rejection")
	}
}

func TestMalformedMessageKeepsConnection(t *testing.T) {
	_, browser := pair(t, nil)

	browser.WriteMessage(websocket.TextMessage, []byte(`not json`))
	if m := readMessage(t, browser); m["event"] != string(EventError) {
		t.Fatalf("got %v, want error", m)
	}

	browser.WriteJSON(map[string]any{"action": "ping"})
	if m := readMessage(t, browser); m["event"] != string(EventPong) {
		t.Fatalf("got %v, want pong", m)
	}
}
