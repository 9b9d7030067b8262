package signalling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/signal-client/pkg/rtc/types"
	"github.com/livekit/signal-client/pkg/telemetry/prometheus"
	"github.com/livekit/signal-client/pkg/utils"
)

const (
	CloseNormal           = websocket.CloseNormalClosure
	CloseWelcomeTimeout   = 3000
	CloseHeartbeatsMissed = 3001
	CloseHelloFailed      = 3002
	CloseSendFailed       = 3003
	CloseBusyWait         = 3005

	DefaultWelcomeTimeout      = 5 * time.Second
	DefaultHeartbeatTimeout    = 5 * time.Second
	DefaultMaxMissedHeartbeats = 3

	heartbeatTimeoutOffset = 100 * time.Millisecond
	closeWriteTimeout      = time.Second
)

type ConnState int

const (
	ConnStateEarly ConnState = iota
	ConnStateConnecting
	ConnStateOpen
	ConnStateWait
	ConnStateClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateEarly:
		return "early"
	case ConnStateConnecting:
		return "connecting"
	case ConnStateOpen:
		return "open"
	case ConnStateWait:
		return "wait"
	case ConnStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

var connTransitions = map[ConnState][]ConnState{
	ConnStateEarly:      {ConnStateClosed, ConnStateConnecting},
	ConnStateConnecting: {ConnStateClosed, ConnStateOpen, ConnStateWait},
	ConnStateOpen:       {ConnStateClosed},
	ConnStateWait:       {ConnStateClosed, ConnStateConnecting, ConnStateEarly},
	ConnStateClosed:     {},
}

type frameType string

const (
	frameHello     frameType = "hello"
	frameWelcome   frameType = "welcome"
	frameHeartbeat frameType = "heartbeat"
	frameMsg       frameType = "msg"
	frameBad       frameType = "bad"
	frameBusy      frameType = "busy"
	frameBye       frameType = "bye"
)

// frame is the envelope of everything sent over the websocket. Timeouts are
// in milliseconds.
type frame struct {
	Type              frameType       `json:"type"`
	ID                string          `json:"id,omitempty"`
	Timeout           int64           `json:"timeout,omitempty"`
	Cookie            string          `json:"cookie,omitempty"`
	Body              json.RawMessage `json:"body,omitempty"`
	NegotiatedTimeout int64           `json:"negotiatedTimeout,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	KeepAlive         bool            `json:"keepAlive,omitempty"`
	RetryAfter        int64           `json:"retryAfter,omitempty"`
}

// ------------------------------------------------

type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (types.WebsocketClient, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type ConnParams struct {
	URL    string
	Dialer Dialer
	// sent with every hello
	HelloBody                 interface{}
	RequestedHeartbeatTimeout time.Duration
	WelcomeTimeout            time.Duration
	MaxMissedHeartbeats       int
	// called in order from the read goroutine
	OnMessage func(body json.RawMessage)
	// called once, nil error for a normal close
	OnClose func(err error)
	Logger  logger.Logger
}

// Connection is a websocket with a hello/welcome handshake and heartbeats in
// both directions. Messages sent before the handshake completes are queued.
type Connection struct {
	params ConnParams
	ctx    context.Context
	cancel context.CancelFunc
	state  *utils.StateMachine[ConnState]

	lock               sync.Mutex
	ws                 types.WebsocketClient
	cookie             string
	queue              *deque.Deque[*frame]
	heartbeatTimeout   time.Duration
	missedHeartbeats   int
	welcomeTimer       *time.Timer
	heartbeatTimer     *time.Timer
	sendHeartbeatTimer *time.Timer
	busyTimer          *time.Timer
	notifyClose        func()
}

func NewConnection(params ConnParams) *Connection {
	if params.Dialer == nil {
		params.Dialer = WebsocketDialer{}
	}
	if params.RequestedHeartbeatTimeout <= 0 {
		params.RequestedHeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if params.WelcomeTimeout <= 0 {
		params.WelcomeTimeout = DefaultWelcomeTimeout
	}
	if params.MaxMissedHeartbeats <= 0 {
		params.MaxMissedHeartbeats = DefaultMaxMissedHeartbeats
	}
	if params.OnMessage == nil {
		params.OnMessage = func(json.RawMessage) {}
	}
	if params.OnClose == nil {
		params.OnClose = func(error) {}
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}

	c := &Connection{
		params: params,
		state:  utils.NewStateMachine("connection", ConnStateEarly, connTransitions),
		queue:  deque.New[*frame](),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.connect()
	return c
}

func (c *Connection) State() ConnState {
	return c.state.State()
}

func (c *Connection) SendMessage(body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		c.params.Logger.Warnw("could not encode message", err)
		return
	}

	c.lock.Lock()
	defer c.unlock()
	c.sendOrEnqueueLocked(&frame{Type: frameMsg, Body: data})
}

// Close says bye and closes the websocket normally.
func (c *Connection) Close() {
	c.lock.Lock()
	defer c.unlock()

	if c.state.State() == ConnStateClosed {
		return
	}
	c.sendOrEnqueueLocked(&frame{Type: frameBye})
	c.closeLocked(CloseNormal, "Normal")
}

// unlock releases the lock and then runs a pending close notification.
func (c *Connection) unlock() {
	notify := c.notifyClose
	c.notifyClose = nil
	c.lock.Unlock()

	if notify != nil {
		notify()
	}
}

func (c *Connection) connect() {
	c.lock.Lock()
	switch c.state.State() {
	case ConnStateWait:
		_ = c.state.Transition(ConnStateEarly)
	case ConnStateEarly:
	default:
		c.unlock()
		return
	}
	c.unlock()

	c.params.Logger.Debugw("dialing signaling server", "url", c.params.URL)
	ws, err := c.params.Dialer.Dial(c.ctx, c.params.URL)

	c.lock.Lock()
	defer c.unlock()
	if err != nil {
		c.closeLocked(websocket.CloseAbnormalClosure, err.Error())
		return
	}
	if c.state.State() == ConnStateClosed {
		_ = ws.Close()
		return
	}
	c.ws = ws
	go c.readLoop(ws)
	c.startHandshakeLocked()
}

func (c *Connection) readLoop(ws types.WebsocketClient) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseAbnormalClosure, err.Error()
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code, reason = closeErr.Code, closeErr.Text
			}

			c.lock.Lock()
			if c.ws == ws {
				c.closeLocked(code, reason)
			}
			c.unlock()
			return
		}

		f := &frame{}
		if err := json.Unmarshal(data, f); err != nil {
			c.params.Logger.Warnw("could not decode frame", err)
			continue
		}
		prometheus.IncrementMessage(prometheus.Incoming, string(f.Type), len(data))
		c.handleFrame(ws, f)
	}
}

func (c *Connection) handleFrame(ws types.WebsocketClient, f *frame) {
	if f.Type == frameMsg {
		// delivered outside the lock so handlers can send or close
		c.lock.Lock()
		deliver := c.ws == ws && c.state.State() == ConnStateOpen
		c.unlock()
		if deliver {
			c.params.OnMessage(f.Body)
		}
		return
	}

	c.lock.Lock()
	defer c.unlock()
	if c.ws != ws {
		return
	}

	switch f.Type {
	case frameBad:
		c.handleBadLocked(f.Reason)
	case frameBusy:
		c.handleBusyLocked(f)
	case frameBye:
	case frameHeartbeat:
		c.handleHeartbeatLocked()
	case frameWelcome:
		c.handleWelcomeLocked(time.Duration(f.NegotiatedTimeout) * time.Millisecond)
	default:
		c.params.Logger.Debugw("unknown frame type", "type", f.Type)
	}
}

func (c *Connection) handleBadLocked(reason string) {
	if c.state.State() == ConnStateConnecting {
		c.params.Logger.Warnw("hello rejected", nil, "reason", reason)
		c.closeLocked(CloseHelloFailed, reason)
		return
	}
	c.params.Logger.Debugw("received bad", "reason", reason)
}

func (c *Connection) handleBusyLocked(f *frame) {
	if c.state.State() != ConnStateConnecting {
		return
	}
	if f.RetryAfter < 0 {
		c.params.Logger.Warnw("server busy", nil, "terminal", true)
		c.closeLocked(CloseBusyWait, `Received terminal "busy" message`)
		return
	}

	retryAfter := time.Duration(f.RetryAfter) * time.Millisecond
	c.cookie = f.Cookie
	c.stopTimerLocked(&c.welcomeTimer)
	if f.KeepAlive {
		c.params.Logger.Infow("server busy, retrying hello", "retryAfter", retryAfter)
		c.busyTimer = time.AfterFunc(retryAfter, c.retryHandshake)
	} else {
		c.params.Logger.Infow("server busy, reconnecting", "retryAfter", retryAfter)
		c.dropSocketLocked(CloseBusyWait, fmt.Sprintf(`Received "busy" message, retrying after %d ms`, f.RetryAfter))
		c.busyTimer = time.AfterFunc(retryAfter, c.connect)
	}
	_ = c.state.Transition(ConnStateWait)
}

func (c *Connection) retryHandshake() {
	c.lock.Lock()
	defer c.unlock()

	if c.state.State() == ConnStateWait {
		c.startHandshakeLocked()
	}
}

func (c *Connection) handleHeartbeatLocked() {
	if c.state.State() != ConnStateOpen {
		return
	}
	c.missedHeartbeats = 0
	c.heartbeatTimer.Reset(c.heartbeatTimeout + heartbeatTimeoutOffset)
}

func (c *Connection) handleHeartbeatTimeout() {
	c.lock.Lock()
	defer c.unlock()

	if c.state.State() != ConnStateOpen {
		return
	}
	c.missedHeartbeats++
	c.params.Logger.Debugw("missed heartbeat", "consecutive", c.missedHeartbeats)
	if c.missedHeartbeats < c.params.MaxMissedHeartbeats {
		c.heartbeatTimer.Reset(c.heartbeatTimeout + heartbeatTimeoutOffset)
		return
	}
	c.closeLocked(CloseHeartbeatsMissed, fmt.Sprintf(`Missed %d "heartbeat" messages`, c.params.MaxMissedHeartbeats))
}

func (c *Connection) handleWelcomeLocked(negotiated time.Duration) {
	if c.state.State() != ConnStateConnecting {
		return
	}
	if negotiated <= 0 {
		negotiated = c.params.RequestedHeartbeatTimeout
	}
	c.stopTimerLocked(&c.welcomeTimer)
	c.heartbeatTimeout = negotiated
	c.heartbeatTimer = time.AfterFunc(negotiated+heartbeatTimeoutOffset, c.handleHeartbeatTimeout)
	_ = c.state.Transition(ConnStateOpen)

	for c.queue.Len() > 0 && c.state.State() == ConnStateOpen {
		c.sendLocked(c.queue.PopFront())
	}
	c.sendHeartbeatTimer = time.AfterFunc(negotiated, c.sendHeartbeat)
}

func (c *Connection) handleWelcomeTimeout() {
	c.lock.Lock()
	defer c.unlock()

	if c.state.State() != ConnStateConnecting {
		return
	}
	c.closeLocked(CloseWelcomeTimeout, `"welcome" message timeout expired`)
}

func (c *Connection) sendHeartbeat() {
	c.lock.Lock()
	defer c.unlock()

	if c.state.State() != ConnStateOpen {
		return
	}
	c.sendLocked(&frame{Type: frameHeartbeat})
	if c.sendHeartbeatTimer != nil {
		c.sendHeartbeatTimer.Reset(c.heartbeatTimeout)
	}
}

func (c *Connection) startHandshakeLocked() {
	if err := c.state.Transition(ConnStateConnecting); err != nil {
		return
	}

	hello := &frame{
		Type:    frameHello,
		ID:      utils.NewUUID(),
		Timeout: c.params.RequestedHeartbeatTimeout.Milliseconds(),
		Cookie:  c.cookie,
	}
	if c.params.HelloBody != nil {
		body, err := json.Marshal(c.params.HelloBody)
		if err != nil {
			c.params.Logger.Warnw("could not encode hello body", err)
		} else {
			hello.Body = body
		}
	}
	c.sendLocked(hello)
	c.welcomeTimer = time.AfterFunc(c.params.WelcomeTimeout, c.handleWelcomeTimeout)
}

func (c *Connection) sendOrEnqueueLocked(f *frame) {
	switch c.state.State() {
	case ConnStateClosed:
	case ConnStateOpen:
		c.sendLocked(f)
	default:
		c.queue.PushBack(f)
	}
}

func (c *Connection) sendLocked(f *frame) {
	if c.ws == nil {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		c.params.Logger.Warnw("could not encode frame", err)
		return
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.params.Logger.Warnw("failed to send message", err)
		c.closeLocked(CloseSendFailed, "Failed to send message")
		return
	}
	prometheus.IncrementMessage(prometheus.Outgoing, string(f.Type), len(data))
}

func (c *Connection) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// dropSocketLocked closes the websocket without closing the connection.
func (c *Connection) dropSocketLocked(code int, reason string) {
	c.stopTimerLocked(&c.welcomeTimer)
	c.stopTimerLocked(&c.heartbeatTimer)
	c.stopTimerLocked(&c.sendHeartbeatTimer)
	c.queue.Clear()

	if c.ws == nil {
		return
	}
	ws := c.ws
	c.ws = nil
	if code != websocket.CloseAbnormalClosure {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeWriteTimeout))
	}
	_ = ws.Close()
}

func (c *Connection) closeLocked(code int, reason string) {
	if c.state.Preempt(ConnStateClosed) == ConnStateClosed {
		return
	}
	c.cancel()
	c.stopTimerLocked(&c.busyTimer)
	c.dropSocketLocked(code, reason)

	var err error
	if code == CloseNormal {
		c.params.Logger.Debugw("connection closed")
	} else {
		err = &CloseError{Code: code, Reason: reason}
		c.params.Logger.Warnw("connection closed", err)
	}
	c.notifyClose = func() {
		c.params.OnClose(err)
	}
}
