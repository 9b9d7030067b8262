// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package signalling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/signal-client/pkg/rtc/types"
	"github.com/livekit/signal-client/pkg/telemetry/prometheus"
	"github.com/livekit/signal-client/pkg/utils"
)

const (
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectBase        = 80 * time.Millisecond
	DefaultReconnectMax         = 5 * time.Second
	DefaultReconnectJitter      = 40 * time.Millisecond

	eventGroupSignaling = "signaling"
)

type ConnectionState string

const (
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateSyncing      ConnectionState = "syncing"
	ConnectionStateDisconnected ConnectionState = "disconnected"
)

func (s ConnectionState) String() string {
	return string(s)
}

var (
	connectionTransitions = map[ConnectionState][]ConnectionState{
		ConnectionStateConnecting:   {ConnectionStateConnected, ConnectionStateDisconnected},
		ConnectionStateConnected:    {ConnectionStateDisconnected, ConnectionStateSyncing},
		ConnectionStateSyncing:      {ConnectionStateConnected, ConnectionStateDisconnected},
		ConnectionStateDisconnected: {},
	}

	allConnectionStates = []string{
		string(ConnectionStateConnecting),
		string(ConnectionStateConnected),
		string(ConnectionStateSyncing),
		string(ConnectionStateDisconnected),
	}
)

type SignalingConnectionParams struct {
	URL        string
	Name       string
	Token      string
	UserAgent  string
	SDKVersion string

	// When set the servers are handed to OnIced before dialing and the server
	// is told they were overridden. Otherwise they are acquired with an "ice"
	// exchange.
	ICEServers []types.ICEServer
	OnIced     func(servers []types.ICEServer) error

	Participant     ParticipantStateProvider
	PeerConnections PeerConnectionStateProvider
	Handler         Handler

	ConnFactory ConnFactory
	Dialer      Dialer
	// optional, updates go over the connection when nil
	Publisher   UpdatePublisher

	MaxReconnectAttempts      int
	ReconnectBackOff          utils.JitterBackOffConfig
	// Reconnect window after a drop, used until the server announces its own
	// session timeout. Zero leaves reconnects bounded by the budget alone.
	SessionTimeout            time.Duration
	WelcomeTimeout            time.Duration
	RequestedHeartbeatTimeout time.Duration
	MaxMissedHeartbeats       int

	Telemetry types.EventSink
	Logger    logger.Logger
}

// SignalingConnection runs the room signaling protocol over a Conn, redialing
// with backoff while the server keeps the session alive.
type SignalingConnection struct {
	params       SignalingConnectionParams
	logger       logger.Logger
	state        *utils.StateMachine[ConnectionState]
	opsQueue     *utils.OpsQueue
	publishQueue *utils.OpsQueue
	backOff      *utils.JitterBackOff
	status       types.ICEServersStatus

	lock                  sync.Mutex
	conn                  Conn
	generation            int
	session               string
	iced                  bool
	sessionTimeout        time.Duration
	sessionTimer          *time.Timer
	sessionExpired        bool
	reconnectTimer        *time.Timer
	reconnectAttemptsLeft int
	pendingUpdates        *deque.Deque[*Update]
	bufferedMessages      *deque.Deque[*Message]
}

// NewSignalingConnection starts connecting right away. The result is reported
// through the Handler.
func NewSignalingConnection(params SignalingConnectionParams) *SignalingConnection {
	if params.ConnFactory == nil {
		params.ConnFactory = func(p ConnParams) Conn {
			return NewConnection(p)
		}
	}
	if params.Handler == nil {
		params.Handler = UnimplementedHandler{}
	}
	if params.Participant == nil {
		params.Participant = emptyParticipant{}
	}
	if params.PeerConnections == nil {
		params.PeerConnections = emptyPeerConnections{}
	}
	if params.OnIced == nil {
		params.OnIced = func([]types.ICEServer) error { return nil }
	}
	if params.MaxReconnectAttempts <= 0 {
		params.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if params.ReconnectBackOff.Base <= 0 {
		params.ReconnectBackOff = utils.JitterBackOffConfig{
			Base:   DefaultReconnectBase,
			Factor: 2,
			Max:    DefaultReconnectMax,
			Jitter: DefaultReconnectJitter,
		}
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}

	c := &SignalingConnection{
		params:                params,
		logger:                params.Logger.WithName("signaling"),
		state:                 utils.NewStateMachine("signaling", ConnectionStateConnecting, connectionTransitions),
		backOff:               utils.NewJitterBackOff(params.ReconnectBackOff),
		status:                types.ICEServersStatusAcquire,
		sessionTimeout:        params.SessionTimeout,
		reconnectAttemptsLeft: params.MaxReconnectAttempts,
		pendingUpdates:        deque.New[*Update](),
		bufferedMessages:      deque.New[*Message](),
	}
	if len(params.ICEServers) > 0 {
		c.status = types.ICEServersStatusOverrode
	}
	c.opsQueue = utils.NewOpsQueue(c.logger, "signaling")
	c.publishQueue = utils.NewOpsQueue(c.logger, "publish")
	c.opsQueue.Start()
	c.publishQueue.Start()
	prometheus.SetConnectionState(string(ConnectionStateConnecting), allConnectionStates)

	c.opsQueue.Enqueue(func() {
		if c.status == types.ICEServersStatusOverrode {
			if err := c.params.OnIced(c.params.ICEServers); err != nil {
				c.Disconnect(err)
				return
			}
		}
		c.connect()
	})
	return c
}

func (c *SignalingConnection) State() ConnectionState {
	return c.state.State()
}

func (c *SignalingConnection) Session() string {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.session
}

// Publish sends the update when connected and queues it while connecting or
// syncing. It reports whether the update was accepted.
func (c *SignalingConnection) Publish(update *Update) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	switch c.state.State() {
	case ConnectionStateConnected:
		c.sendUpdateLocked(update)
		return true
	case ConnectionStateConnecting, ConnectionStateSyncing:
		c.pendingUpdates.PushBack(update)
		return true
	default:
		return false
	}
}

// Sync asks the server to resynchronize. Only valid when connected.
func (c *SignalingConnection) Sync() bool {
	c.lock.Lock()
	if err := c.state.Transition(ConnectionStateSyncing); err != nil {
		c.lock.Unlock()
		return false
	}
	conn := c.conn
	msg := c.syncMessageLocked()
	c.lock.Unlock()

	c.onStateChanged(ConnectionStateSyncing, nil)
	if conn != nil {
		conn.SendMessage(msg)
	}
	return true
}

// Disconnect is idempotent; it returns false if already disconnected.
func (c *SignalingConnection) Disconnect(err error) bool {
	c.lock.Lock()
	if c.state.Preempt(ConnectionStateDisconnected) == ConnectionStateDisconnected {
		c.lock.Unlock()
		return false
	}
	conn := c.conn
	session := c.session
	c.conn = nil
	c.generation++
	c.stopTimerLocked(&c.reconnectTimer)
	c.stopTimerLocked(&c.sessionTimer)
	c.pendingUpdates.Clear()
	c.bufferedMessages.Clear()
	c.lock.Unlock()

	if conn != nil {
		conn.SendMessage(NewDisconnectMessage(session))
		conn.Close()
	}
	c.opsQueue.Stop()
	c.publishQueue.Stop()

	if err != nil {
		c.logger.Infow("signaling disconnected", "error", err)
	} else {
		c.logger.Debugw("signaling disconnected")
	}
	c.onStateChanged(ConnectionStateDisconnected, err)

	if d, ok := c.params.Telemetry.(types.DisconnectableSink); ok {
		d.Disconnect()
	}
	return true
}

// ------------------------------------------------

func (c *SignalingConnection) connect() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.state.State() == ConnectionStateDisconnected {
		return
	}

	// a redial while connecting repeats the hello of the first dial, unless
	// the ice exchange already completed
	var hello interface{}
	if c.state.State() == ConnectionStateConnecting && c.status == types.ICEServersStatusAcquire && !c.iced {
		hello = NewICEMessage(c.params.Token)
	} else {
		hello = c.connectOrSyncMessageLocked()
	}

	c.generation++
	generation := c.generation
	c.conn = c.params.ConnFactory(ConnParams{
		URL:                       c.params.URL,
		Dialer:                    c.params.Dialer,
		HelloBody:                 hello,
		RequestedHeartbeatTimeout: c.params.RequestedHeartbeatTimeout,
		WelcomeTimeout:            c.params.WelcomeTimeout,
		MaxMissedHeartbeats:       c.params.MaxMissedHeartbeats,
		OnMessage: func(body json.RawMessage) {
			c.opsQueue.Enqueue(func() {
				c.handleBody(generation, body)
			})
		},
		OnClose: func(err error) {
			c.opsQueue.Enqueue(func() {
				c.handleClose(generation, err)
			})
		},
		Logger: c.logger,
	})
}

func (c *SignalingConnection) isCurrent(generation int) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return generation == c.generation && c.state.State() != ConnectionStateDisconnected
}

func (c *SignalingConnection) handleBody(generation int, body json.RawMessage) {
	if !c.isCurrent(generation) {
		return
	}

	msg, err := ParseMessage(body)
	if err != nil {
		c.logger.Warnw("ignoring invalid message", err)
		c.publishEvent("invalid-message", types.EventLevelWarning, map[string]interface{}{"error": err.Error()})
		return
	}
	c.handleMessage(msg)
}

func (c *SignalingConnection) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeError:
		c.Disconnect(types.CreateSignalingError(msg.Code, msg.Message))
		return
	case MessageTypeDisconnected:
		var err error
		if msg.IsRoomCompleted() {
			err = types.ErrRoomCompleted
		}
		c.Disconnect(err)
		return
	}

	switch c.state.State() {
	case ConnectionStateConnecting:
		switch msg.Type {
		case MessageTypeICED:
			c.handleIced(msg)
		case MessageTypeConnected:
			c.lock.Lock()
			c.session = msg.Session
			if timeout := msg.SessionTimeout(); timeout > 0 {
				c.sessionTimeout = time.Duration(timeout) * time.Second
			}
			c.stopSessionTimerLocked()
			c.lock.Unlock()

			c.logger.Infow("signaling connected", "session", msg.Session)
			c.params.Handler.OnConnected(msg)
			c.enterConnected()
		case MessageTypeSynced, MessageTypeUpdate:
			c.bufferMessage(msg)
		}

	case ConnectionStateConnected:
		switch msg.Type {
		case MessageTypeConnected, MessageTypeSynced, MessageTypeUpdate, MessageTypeWarning:
			c.params.Handler.OnMessage(msg)
		}

	case ConnectionStateSyncing:
		switch msg.Type {
		case MessageTypeConnected, MessageTypeUpdate:
			c.bufferMessage(msg)
		case MessageTypeSynced:
			c.clearReconnectTimer()
			c.params.Handler.OnMessage(msg)
			c.enterConnected()
		}
	}
}

func (c *SignalingConnection) handleIced(msg *Message) {
	servers, err := msg.ICEServerList()
	if err != nil {
		c.logger.Warnw("invalid ice servers", err)
		c.Disconnect(err)
		return
	}
	if err := c.params.OnIced(servers); err != nil {
		c.Disconnect(err)
		return
	}

	c.lock.Lock()
	c.iced = true
	if c.state.State() != ConnectionStateConnecting || c.conn == nil {
		c.lock.Unlock()
		return
	}
	conn := c.conn
	connectMsg := c.connectOrSyncMessageLocked()
	c.lock.Unlock()

	conn.SendMessage(connectMsg)
}

func (c *SignalingConnection) bufferMessage(msg *Message) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.bufferedMessages.PushBack(msg)
}

// enterConnected publishes the reduced pending updates and then replays the
// inbound messages buffered while connecting or syncing.
func (c *SignalingConnection) enterConnected() {
	c.lock.Lock()
	if c.state.State() == ConnectionStateDisconnected {
		c.lock.Unlock()
		return
	}
	c.state.Preempt(ConnectionStateConnected)

	if c.pendingUpdates.Len() > 0 {
		updates := make([]*Update, 0, c.pendingUpdates.Len())
		for c.pendingUpdates.Len() > 0 {
			updates = append(updates, c.pendingUpdates.PopFront())
		}
		c.sendUpdateLocked(ReduceUpdates(updates))
	}

	buffered := make([]*Message, 0, c.bufferedMessages.Len())
	for c.bufferedMessages.Len() > 0 {
		buffered = append(buffered, c.bufferedMessages.PopFront())
	}
	c.lock.Unlock()

	c.onStateChanged(ConnectionStateConnected, nil)
	for _, msg := range buffered {
		if c.state.State() != ConnectionStateConnected {
			return
		}
		c.params.Handler.OnMessage(msg)
	}
}

func (c *SignalingConnection) handleClose(generation int, err error) {
	if !c.isCurrent(generation) {
		return
	}
	if err == nil {
		c.Disconnect(nil)
		return
	}

	c.lock.Lock()
	if c.sessionExpired || c.reconnectAttemptsLeft <= 0 {
		expired := c.sessionExpired
		c.lock.Unlock()

		c.logger.Infow("not reconnecting", "error", err, "sessionExpired", expired)
		prometheus.IncrementReconnect("exhausted")
		fatal := types.ErrSignalingConnection
		var closeErr *CloseError
		if errors.As(err, &closeErr) && closeErr.Code == CloseBusyWait {
			fatal = types.ErrSignalingServerBusy
		}
		c.Disconnect(fatal.WithCause(err))
		return
	}

	if c.sessionTimer == nil && c.sessionTimeout > 0 {
		c.sessionTimer = time.AfterFunc(c.sessionTimeout, c.handleSessionTimeout)
	}
	// syncing when connected, otherwise still connecting
	wasConnected := c.state.State() == ConnectionStateConnected
	if wasConnected {
		c.state.Preempt(ConnectionStateSyncing)
	}
	c.reconnectAttemptsLeft--
	c.conn = nil
	c.generation++
	delay := c.backOff.NextBackOff()
	if delay < 0 {
		delay = 0
	}
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.opsQueue.Enqueue(c.connect)
	})
	attemptsLeft := c.reconnectAttemptsLeft
	c.lock.Unlock()

	c.logger.Infow("signaling connection lost, reconnecting", "error", err, "delay", delay, "attemptsLeft", attemptsLeft)
	prometheus.IncrementReconnect("scheduled")
	c.publishEvent("reconnecting", types.EventLevelWarning, map[string]interface{}{
		"error":        err.Error(),
		"attemptsLeft": attemptsLeft,
	})
	if wasConnected {
		c.onStateChanged(ConnectionStateSyncing, err)
	}
}

// handleSessionTimeout makes the next drop fatal, the server no longer
// holds the session.
func (c *SignalingConnection) handleSessionTimeout() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.sessionTimer != nil {
		c.sessionTimer = nil
		c.sessionExpired = true
	}
}

func (c *SignalingConnection) stopSessionTimerLocked() {
	c.stopTimerLocked(&c.sessionTimer)
	c.sessionExpired = false
}

// clearReconnectTimer restores the reconnect budget after a successful sync.
func (c *SignalingConnection) clearReconnectTimer() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.backOff.Reset()
	c.reconnectAttemptsLeft = c.params.MaxReconnectAttempts
	c.stopSessionTimerLocked()
}

func (c *SignalingConnection) sendUpdateLocked(update *Update) {
	msg := NewUpdateMessage(c.session, update)
	if c.params.Publisher != nil {
		publisher := c.params.Publisher
		c.publishQueue.Enqueue(func() {
			if err := publisher.Publish(context.Background(), msg); err != nil {
				c.logger.Warnw("failed to publish update", err)
				c.publishEvent("publish-failed", types.EventLevelWarning, map[string]interface{}{"error": err.Error()})
			}
		})
		return
	}
	if c.conn != nil {
		c.conn.SendMessage(msg)
	}
}

func (c *SignalingConnection) connectOrSyncMessageLocked() *Message {
	if c.state.State() == ConnectionStateSyncing {
		return c.syncMessageLocked()
	}
	return NewConnectMessage(ConnectParams{
		Name:             c.params.Name,
		Token:            c.params.Token,
		UserAgent:        c.params.UserAgent,
		SDKVersion:       c.params.SDKVersion,
		Participant:      c.params.Participant.GetState(),
		PeerConnections:  c.params.PeerConnections.GetStates(),
		ICEServersStatus: c.status,
	})
}

func (c *SignalingConnection) syncMessageLocked() *Message {
	return NewSyncMessage(
		c.params.Name,
		c.session,
		c.params.Token,
		c.params.Participant.GetState(),
		c.params.PeerConnections.GetStates(),
	)
}

func (c *SignalingConnection) onStateChanged(state ConnectionState, err error) {
	prometheus.SetConnectionState(string(state), allConnectionStates)
	c.params.Handler.OnStateChanged(state, err)
}

func (c *SignalingConnection) publishEvent(name string, level types.EventLevel, payload map[string]interface{}) {
	if c.params.Telemetry == nil {
		return
	}
	c.params.Telemetry.Publish(eventGroupSignaling, name, level, payload)
}

func (c *SignalingConnection) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
