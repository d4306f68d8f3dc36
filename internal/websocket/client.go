package websocket

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/exam"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

var (
	ErrClosed        = errors.New("websocket connection closed")
	ErrCommandFailed = errors.New("browser rejected command")
)

// CommandTimeout bounds a server command round trip when the caller's
// context has no deadline.
const CommandTimeout = 5 * time.Second

// ActionFunc handles one candidate action. The returned value is sent back
// as the reply data.
type ActionFunc func(ctx context.Context, req *Request) (any, error)

type listenerEntry struct {
	t  proctor.EventType
	fn proctor.Listener
}

// Client is the candidate's browser on the other end of a WebSocket. It
// implements exam.Client: listeners, fullscreen and navigation are proxied
// to the browser and answered through Request reports.
type Client struct {
	conn       *websocket.Conn
	log        zerolog.Logger
	remoteAddr string
	userAgent  string

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	seq       uint64
	listeners map[string]listenerEntry
	pending   map[string]chan Request
	metrics   proctor.WindowMetrics
	vendors   []proctor.Vendor
	active    map[proctor.Vendor]bool
	navigated bool
}

var _ exam.Client = (*Client)(nil)

// NewClient wraps an upgraded connection. Until the browser says hello only
// the standard fullscreen variant is assumed.
func NewClient(conn *websocket.Conn, remoteAddr, userAgent string, log zerolog.Logger) *Client {
	return &Client{
		conn:       conn,
		log:        log,
		remoteAddr: remoteAddr,
		userAgent:  userAgent,
		done:       make(chan struct{}),
		listeners:  make(map[string]listenerEntry),
		pending:    make(map[string]chan Request),
		vendors:    []proctor.Vendor{proctor.VendorStandard},
		active:     make(map[proctor.Vendor]bool),
	}
}

// Serve reads from the connection until it closes or ctx is done. Candidate
// actions run one at a time on their own goroutine, as do listener
// dispatches, so a handler waiting on a browser round trip never blocks
// the read loop.
func (c *Client) Serve(ctx context.Context, handle ActionFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	actions := make(chan *Request, 16)
	events := make(chan *Request, 64)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for req := range actions {
			c.runAction(ctx, handle, req)
		}
	}()
	go func() {
		defer wg.Done()
		for req := range events {
			c.dispatchEvent(req)
		}
	}()

	go func() {
		<-ctx.Done()
		// Unblocks ReadJSON.
		c.conn.Close()
	}()

	err := c.readLoop(ctx, actions, events)
	c.shutdown()
	close(actions)
	close(events)
	cancel()
	wg.Wait()
	return err
}

func (c *Client) readLoop(ctx context.Context, actions, events chan<- *Request) error {
	for {
		req := &Request{}
		if err := ReadJSON(c.conn, req); err != nil {
			if isDecodeError(err) {
				c.write(ErrorResponse{Event: EventError, Error: "malformed message"})
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		switch {
		case req.Action == ActionPing:
			c.write(PongResponse{Event: EventPong})
		case req.Action == ActionHello:
			c.hello(req)
		case req.Action == ActionMetrics:
			c.setMetrics(req.Metrics)
		case req.Action == ActionFullscreenState:
			c.mu.Lock()
			c.active[req.Vendor] = req.Active
			c.mu.Unlock()
		case req.Action == ActionResult:
			c.resolve(req)
		case req.Action == ActionEvent:
			c.setMetrics(req.Metrics)
			select {
			case events <- req:
			default:
				c.log.Warn().Str("listener_id", req.ListenerID).Msg("Event queue full, dropping browser event")
			}
		case req.isAction():
			select {
			case actions <- req:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *Client) runAction(ctx context.Context, handle ActionFunc, req *Request) {
	data, err := handle(ctx, req)
	reply := ReplyMessage{Event: EventReply, RequestID: req.RequestID, OK: err == nil, Data: data}
	if err != nil {
		reply.Error = err.Error()
	}
	if werr := c.write(reply); werr != nil {
		c.log.Debug().Err(werr).Str("action", string(req.Action)).Msg("Failed to send reply")
	}
}

func (c *Client) dispatchEvent(req *Request) {
	c.mu.Lock()
	entry, ok := c.listeners[req.ListenerID]
	c.mu.Unlock()

	verdict := VerdictMessage{Event: EventVerdict, ListenerID: req.ListenerID}
	if ok && req.Event != nil {
		ev := req.Event
		if ev.Type == "" {
			ev.Type = entry.t
		}
		entry.fn(ev)
		verdict.Prevented = ev.Prevented()
		verdict.Stopped = ev.Stopped()
		verdict.ReturnValue = ev.ReturnValue()
	}
	c.write(verdict)
}

func (c *Client) hello(req *Request) {
	c.setMetrics(req.Metrics)
	if len(req.Vendors) == 0 {
		return
	}
	var vendors []proctor.Vendor
	for _, v := range proctor.VendorPreference {
		if slices.Contains(req.Vendors, v) {
			vendors = append(vendors, v)
		}
	}
	c.mu.Lock()
	c.vendors = vendors
	c.mu.Unlock()
}

func (c *Client) setMetrics(m *proctor.WindowMetrics) {
	if m == nil {
		return
	}
	c.mu.Lock()
	c.metrics = *m
	c.mu.Unlock()
}

func (c *Client) resolve(req *Request) {
	c.mu.Lock()
	ch, ok := c.pending[req.RequestID]
	delete(c.pending, req.RequestID)
	c.mu.Unlock()
	if ok {
		ch <- *req
	}
}

// call sends a command and waits for the browser's result.
func (c *Client) call(ctx context.Context, cmd CommandMessage) (Request, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, CommandTimeout)
		defer cancel()
	}

	ch := make(chan Request, 1)
	c.mu.Lock()
	cmd.RequestID = c.nextIDLocked("cmd")
	c.pending[cmd.RequestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.RequestID)
		c.mu.Unlock()
	}()

	if err := c.write(cmd); err != nil {
		return Request{}, err
	}

	select {
	case res := <-ch:
		if !res.OK {
			if res.Error != "" {
				return res, fmt.Errorf("%w: %s", ErrCommandFailed, res.Error)
			}
			return res, ErrCommandFailed
		}
		return res, nil
	case <-c.done:
		return Request{}, ErrClosed
	case <-ctx.Done():
		return Request{}, ctx.Err()
	}
}

func (c *Client) write(v any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteTyped(c.conn, v)
}

func (c *Client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) nextIDLocked(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%d", prefix, c.seq)
}

// ─── exam.Client ───────────────────────────────────────────────────

func (c *Client) AddEventListener(t proctor.EventType, opts proctor.ListenerOptions, l proctor.Listener) func() {
	c.mu.Lock()
	id := c.nextIDLocked("l")
	c.listeners[id] = listenerEntry{t: t, fn: l}
	c.mu.Unlock()

	if err := c.write(ListenMessage{Event: EventListen, ListenerID: id, Type: t, Options: opts}); err != nil {
		c.log.Debug().Err(err).Str("type", string(t)).Msg("Failed to install browser listener")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
			c.write(UnlistenMessage{Event: EventUnlisten, ListenerID: id})
		})
	}
}

func (c *Client) WindowMetrics() proctor.WindowMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) Fullscreen() []proctor.FullscreenAPI {
	c.mu.Lock()
	defer c.mu.Unlock()
	apis := make([]proctor.FullscreenAPI, len(c.vendors))
	for i, v := range c.vendors {
		apis[i] = &fullscreenVariant{c: c, vendor: v}
	}
	return apis
}

func (c *Client) UserAgent() string  { return c.userAgent }
func (c *Client) RemoteAddr() string { return c.remoteAddr }

func (c *Client) Notify(t exam.NoticeType, payload any) {
	if err := c.write(NoticeMessage{Event: EventNotice, Type: string(t), Payload: payload}); err != nil {
		c.log.Debug().Err(err).Str("notice", string(t)).Msg("Failed to push notice")
	}
}

func (c *Client) Navigate(path string) error {
	_, err := c.call(context.Background(), CommandMessage{Event: EventNavigate, Path: path})
	c.mu.Lock()
	c.navigated = err == nil
	c.mu.Unlock()
	return err
}

func (c *Client) HardRedirect(path string) {
	if err := c.write(RedirectMessage{Event: EventRedirect, Path: path}); err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("Failed to send redirect")
	}
}

func (c *Client) Navigated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigated
}

// fullscreenVariant is one vendor's fullscreen API in the browser.
type fullscreenVariant struct {
	c      *Client
	vendor proctor.Vendor
}

func (f *fullscreenVariant) Vendor() proctor.Vendor { return f.vendor }

func (f *fullscreenVariant) Request(ctx context.Context) error {
	return f.run(ctx, FullscreenRequest, true)
}

func (f *fullscreenVariant) Exit(ctx context.Context) error {
	return f.run(ctx, FullscreenExit, false)
}

func (f *fullscreenVariant) run(ctx context.Context, op FullscreenOp, active bool) error {
	res, err := f.c.call(ctx, CommandMessage{Event: EventFullscreen, Op: op, Vendor: f.vendor})
	if err != nil {
		return err
	}
	f.c.mu.Lock()
	// A result may carry the post-command state; otherwise assume success took effect.
	if res.Vendor == f.vendor {
		f.c.active[f.vendor] = res.Active
	} else {
		f.c.active[f.vendor] = active
	}
	f.c.mu.Unlock()
	return nil
}

func (f *fullscreenVariant) Active() bool {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	return f.c.active[f.vendor]
}
