package signalling

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/signal-client/pkg/rtc/types"
)

type fakeConn struct {
	params ConnParams

	lock   sync.Mutex
	sent   []*Message
	closed bool
}

func (f *fakeConn) SendMessage(body interface{}) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.closed {
		return
	}
	f.sent = append(f.sent, body.(*Message))
}

func (f *fakeConn) Close() {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.closed = true
}

func (f *fakeConn) hello() *Message {
	return f.params.HelloBody.(*Message)
}

func (f *fakeConn) sentMessages() []*Message {
	f.lock.Lock()
	defer f.lock.Unlock()

	return append([]*Message{}, f.sent...)
}

func (f *fakeConn) sentOfType(typ MessageType) []*Message {
	var out []*Message
	for _, msg := range f.sentMessages() {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.closed
}

func (f *fakeConn) receive(t *testing.T, msg *Message) {
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	f.params.OnMessage(data)
}

func (f *fakeConn) receiveRaw(data string) {
	f.params.OnMessage(json.RawMessage(data))
}

func (f *fakeConn) drop(err error) {
	f.params.OnClose(err)
}

type fakeConnFactory struct {
	lock  sync.Mutex
	conns []*fakeConn
}

func (f *fakeConnFactory) create(params ConnParams) Conn {
	f.lock.Lock()
	defer f.lock.Unlock()

	conn := &fakeConn{params: params}
	f.conns = append(f.conns, conn)
	return conn
}

func (f *fakeConnFactory) count() int {
	f.lock.Lock()
	defer f.lock.Unlock()

	return len(f.conns)
}

func (f *fakeConnFactory) waitFor(t *testing.T, n int) *fakeConn {
	require.Eventually(t, func() bool {
		return f.count() >= n
	}, waitTimeout, tick)

	f.lock.Lock()
	defer f.lock.Unlock()
	return f.conns[n-1]
}

type stateChange struct {
	state ConnectionState
	err   error
}

type recordingHandler struct {
	lock      sync.Mutex
	connected []*Message
	messages  []*Message
	states    []stateChange
	events    []string
}

func (h *recordingHandler) OnConnected(msg *Message) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.connected = append(h.connected, msg)
	h.events = append(h.events, "connected-message")
}

func (h *recordingHandler) OnMessage(msg *Message) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.messages = append(h.messages, msg)
	h.events = append(h.events, string(msg.Type))
}

func (h *recordingHandler) OnStateChanged(state ConnectionState, err error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.states = append(h.states, stateChange{state: state, err: err})
	h.events = append(h.events, "state:"+string(state))
}

func (h *recordingHandler) getMessages() []*Message {
	h.lock.Lock()
	defer h.lock.Unlock()

	return append([]*Message{}, h.messages...)
}

func (h *recordingHandler) getEvents() []string {
	h.lock.Lock()
	defer h.lock.Unlock()

	return append([]string{}, h.events...)
}

func (h *recordingHandler) lastState() (stateChange, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if len(h.states) == 0 {
		return stateChange{}, false
	}
	return h.states[len(h.states)-1], true
}

type staticParticipant struct {
	state *types.ParticipantState
}

func (p staticParticipant) GetState() *types.ParticipantState {
	return p.state
}

var _ types.DisconnectableSink = (*recordingSink)(nil)

type recordingSink struct {
	lock         sync.Mutex
	names        []string
	disconnected int
}

func (s *recordingSink) Publish(_ string, name string, _ types.EventLevel, _ map[string]interface{}) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.names = append(s.names, name)
}

func (s *recordingSink) Disconnect() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.disconnected++
	return s.disconnected == 1
}

func (s *recordingSink) getNames() []string {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]string{}, s.names...)
}
