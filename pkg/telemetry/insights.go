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

package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"
	"github.com/gammazero/workerpool"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/signal-client/pkg/rtc/types"
	"github.com/livekit/signal-client/pkg/telemetry/prometheus"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectInterval    = 50 * time.Millisecond
	DefaultMaxQueuedEvents      = 1000

	insightsProtocolVersion = 1
	closeWriteTimeout       = time.Second
)

var ErrInsightsRejected = errors.New("insights connection rejected")

// DialFunc opens the websocket used by the publisher.
type DialFunc func(ctx context.Context, url string) (types.WebsocketClient, error)

func defaultDial(ctx context.Context, url string) (types.WebsocketClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type InsightsPublisherParams struct {
	URL        string
	Token      string
	SDKName    string
	SDKVersion string
	UserAgent  string

	MaxReconnectAttempts int
	ReconnectInterval    time.Duration
	MaxQueuedEvents      int

	Dial   DialFunc
	Logger logger.Logger
}

type insightsPublisherInfo struct {
	Name           string `json:"name"`
	SDKVersion     string `json:"sdkVersion"`
	UserAgent      string `json:"userAgent"`
	ParticipantSID string `json:"participantSid"`
	RoomSID        string `json:"roomSid"`
}

type insightsConnect struct {
	Type      string                 `json:"type"`
	Token     string                 `json:"token"`
	Version   int                    `json:"version"`
	Publisher *insightsPublisherInfo `json:"publisher"`
}

type insightsEvent struct {
	Group     string                 `json:"group"`
	Name      string                 `json:"name"`
	Level     types.EventLevel       `json:"level,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Type      string                 `json:"type"`
	Version   int                    `json:"version"`
	Session   string                 `json:"session,omitempty"`
}

type insightsResponse struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Message string `json:"message"`
}

// InsightsPublisher is a fire-and-forget event sink over a websocket. Events
// published before the server acknowledges the connection are queued, and
// dropped ones are only counted.
type InsightsPublisher struct {
	params InsightsPublisherParams
	logger logger.Logger
	pool   *workerpool.WorkerPool
	ctx    context.Context
	cancel context.CancelFunc

	lock         sync.Mutex
	started      bool
	closed       core.Fuse
	ws           types.WebsocketClient
	session      string
	queue        *deque.Deque[*insightsEvent]
	attemptsLeft int
	connectedAt  time.Time
	publisher    *insightsPublisherInfo
}

var _ types.DisconnectableSink = (*InsightsPublisher)(nil)

func NewInsightsPublisher(params InsightsPublisherParams) *InsightsPublisher {
	if params.MaxReconnectAttempts <= 0 {
		params.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if params.ReconnectInterval <= 0 {
		params.ReconnectInterval = DefaultReconnectInterval
	}
	if params.MaxQueuedEvents <= 0 {
		params.MaxQueuedEvents = DefaultMaxQueuedEvents
	}
	if params.Dial == nil {
		params.Dial = defaultDial
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}

	p := &InsightsPublisher{
		params:       params,
		logger:       params.Logger.WithName("insights"),
		pool:         workerpool.New(1),
		queue:        deque.New[*insightsEvent](),
		attemptsLeft: params.MaxReconnectAttempts,
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Connect starts the connection once the room and participant are known.
// Later calls are ignored.
func (p *InsightsPublisher) Connect(roomSID, participantSID string) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.started || p.closed.IsBroken() {
		return
	}
	p.started = true
	p.publisher = &insightsPublisherInfo{
		Name:           p.params.SDKName,
		SDKVersion:     p.params.SDKVersion,
		UserAgent:      p.params.UserAgent,
		ParticipantSID: participantSID,
		RoomSID:        roomSID,
	}
	p.connectLocked()
}

func (p *InsightsPublisher) Publish(group string, name string, level types.EventLevel, payload map[string]interface{}) {
	p.PublishEvent(group, name, level, payload)
}

// PublishEvent reports whether the event was sent or queued.
func (p *InsightsPublisher) PublishEvent(group string, name string, level types.EventLevel, payload map[string]interface{}) bool {
	event := &insightsEvent{
		Group:     group,
		Name:      name,
		Level:     level,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		Type:      "event",
		Version:   insightsProtocolVersion,
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed.IsBroken() {
		prometheus.IncrementInsightsEvent(false)
		return false
	}
	if p.session != "" {
		p.sendEventLocked(event)
		return true
	}
	if p.queue.Len() >= p.params.MaxQueuedEvents {
		p.queue.PopFront()
		prometheus.IncrementInsightsEvent(false)
	}
	p.queue.PushBack(event)
	return true
}

// Disconnect closes the connection for good. It returns false if it was not
// open.
func (p *InsightsPublisher) Disconnect() bool {
	p.lock.Lock()
	if p.closed.IsBroken() {
		p.lock.Unlock()
		p.pool.Stop()
		return false
	}
	p.closed.Break()
	p.cancel()
	ws := p.ws
	p.ws = nil
	p.session = ""
	dropped := p.queue.Len()
	p.queue.Clear()
	p.lock.Unlock()

	for i := 0; i < dropped; i++ {
		prometheus.IncrementInsightsEvent(false)
	}
	p.pool.Stop()
	if ws == nil {
		return false
	}
	closeWebsocket(ws, websocket.CloseNormalClosure)
	p.logger.Debugw("insights disconnected")
	return true
}

func (p *InsightsPublisher) connectLocked() {
	p.attemptsLeft--
	p.connectedAt = time.Now()
	go p.dial()
}

func (p *InsightsPublisher) dial() {
	ws, err := p.params.Dial(p.ctx, p.params.URL)

	p.lock.Lock()
	if err != nil {
		p.lock.Unlock()
		p.onDisconnected(nil, err)
		return
	}
	if p.closed.IsBroken() {
		p.lock.Unlock()
		_ = ws.Close()
		return
	}
	p.ws = ws
	connect := &insightsConnect{
		Type:      "connect",
		Token:     p.params.Token,
		Version:   insightsProtocolVersion,
		Publisher: p.publisher,
	}
	p.pool.Submit(func() {
		p.write(ws, connect)
	})
	p.lock.Unlock()

	go p.readLoop(ws)
}

func (p *InsightsPublisher) readLoop(ws types.WebsocketClient) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				err = nil
			}
			p.onDisconnected(ws, err)
			return
		}

		resp := &insightsResponse{}
		if err := json.Unmarshal(data, resp); err != nil {
			p.logger.Debugw("invalid insights response", "error", err)
			continue
		}
		switch resp.Type {
		case "connected":
			p.onConnected(ws, resp.Session)
		case "error":
			closeWebsocket(ws, websocket.CloseNormalClosure)
			p.onDisconnected(ws, errors.Wrap(ErrInsightsRejected, resp.Message))
			return
		}
	}
}

func (p *InsightsPublisher) onConnected(ws types.WebsocketClient, session string) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.ws != ws {
		return
	}
	p.session = session
	p.attemptsLeft = p.params.MaxReconnectAttempts
	for p.queue.Len() > 0 {
		p.sendEventLocked(p.queue.PopFront())
	}
	p.logger.Debugw("insights connected", "session", session)
}

// onDisconnected reconnects after errors while attempts remain. A nil ws is a
// failed dial.
func (p *InsightsPublisher) onDisconnected(ws types.WebsocketClient, err error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed.IsBroken() || (ws != nil && p.ws != ws) {
		return
	}
	p.ws = nil
	p.session = ""

	if err == nil || p.attemptsLeft <= 0 {
		if err != nil {
			p.logger.Infow("insights unavailable", "error", err)
		}
		// no further connections, queued events are dropped
		p.closed.Break()
		for p.queue.Len() > 0 {
			p.queue.PopFront()
			prometheus.IncrementInsightsEvent(false)
		}
		return
	}

	wait := p.params.ReconnectInterval - time.Since(p.connectedAt)
	p.logger.Debugw("insights reconnecting", "error", err, "attemptsLeft", p.attemptsLeft, "wait", wait)
	if wait <= 0 {
		p.connectLocked()
		return
	}
	time.AfterFunc(wait, func() {
		p.lock.Lock()
		defer p.lock.Unlock()

		if !p.closed.IsBroken() {
			p.connectLocked()
		}
	})
}

func (p *InsightsPublisher) sendEventLocked(event *insightsEvent) {
	event.Session = p.session
	ws := p.ws
	p.pool.Submit(func() {
		prometheus.IncrementInsightsEvent(p.write(ws, event))
	})
}

func (p *InsightsPublisher) write(ws types.WebsocketClient, msg interface{}) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Debugw("could not encode insights message", "error", err)
		return false
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		p.logger.Debugw("could not send insights message", "error", err)
		return false
	}
	return true
}

func closeWebsocket(ws types.WebsocketClient, code int) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(closeWriteTimeout))
	_ = ws.Close()
}

// ------------------------------------------------

// NullSink discards events.
type NullSink struct{}

var _ types.EventSink = NullSink{}

func (NullSink) Publish(string, string, types.EventLevel, map[string]interface{}) {}
