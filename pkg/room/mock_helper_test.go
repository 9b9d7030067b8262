package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"github.com/livekit/signal-client/pkg/rtc/signalling"
	"github.com/livekit/signal-client/pkg/rtc/types"
)

const (
	waitTimeout = 5 * time.Second
	tick        = 5 * time.Millisecond
)

var errInvalidState = errors.New("fake: invalid signaling state")

func testSDP(ufrag string, sections ...string) string {
	var b strings.Builder
	b.WriteString("v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n")
	for i, section := range sections {
		fmt.Fprintf(&b, "m=%s 9 UDP/TLS/RTP/SAVPF 96\r\n", section)
		b.WriteString("c=IN IP4 0.0.0.0\r\n")
		fmt.Fprintf(&b, "a=ice-ufrag:%s\r\n", ufrag)
		b.WriteString("a=ice-pwd:passwordpasswordpassword\r\n")
		fmt.Fprintf(&b, "a=mid:%d\r\n", i)
		b.WriteString("a=sendrecv\r\n")
	}
	return b.String()
}

func remoteAnswer(id string, revision int) *types.PeerConnectionState {
	return &types.PeerConnectionState{
		ID: id,
		Description: &types.Description{
			Type:     types.DescriptionTypeAnswer,
			Revision: revision,
			SDP:      testSDP("remote", "audio"),
		},
	}
}

// fakeNative is a native peer connection that only tracks the signaling
// state.
type fakeNative struct {
	lock           sync.Mutex
	signalingState webrtc.SignalingState
	local          *webrtc.SessionDescription
	remote         *webrtc.SessionDescription
	configuration  webrtc.Configuration
	closed         bool
	onICECandidate func(*webrtc.ICECandidate)
}

func newFakeNative() *fakeNative {
	return &fakeNative{signalingState: webrtc.SignalingStateStable}
}

func (f *fakeNative) factory() types.NativePeerConnectionFactory {
	return func(configuration webrtc.Configuration) (types.NativePeerConnection, error) {
		f.lock.Lock()
		defer f.lock.Unlock()

		f.configuration = configuration
		return f, nil
	}
}

func (f *fakeNative) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.onICECandidate = fn
}

func (f *fakeNative) OnICEConnectionStateChange(func(webrtc.ICEConnectionState)) {}
func (f *fakeNative) OnICEGatheringStateChange(func(webrtc.ICEGathererState))    {}
func (f *fakeNative) OnSignalingStateChange(func(webrtc.SignalingState))         {}
func (f *fakeNative) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))     {}

func (f *fakeNative) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP("local", "audio")}, nil
}

func (f *fakeNative) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.closed = true
	f.signalingState = webrtc.SignalingStateClosed
	return nil
}

func (f *fakeNative) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	switch {
	case desc.Type == webrtc.SDPTypeOffer && f.signalingState == webrtc.SignalingStateStable:
		f.signalingState = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && f.signalingState == webrtc.SignalingStateHaveLocalOffer:
		f.signalingState = webrtc.SignalingStateStable
	default:
		return errInvalidState
	}
	f.remote = &desc
	return nil
}

func (f *fakeNative) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	switch {
	case desc.Type == webrtc.SDPTypeOffer && f.signalingState != webrtc.SignalingStateClosed:
		f.signalingState = webrtc.SignalingStateHaveLocalOffer
	case desc.Type == webrtc.SDPTypeAnswer && f.signalingState == webrtc.SignalingStateHaveRemoteOffer:
		f.signalingState = webrtc.SignalingStateStable
	default:
		return errInvalidState
	}
	f.local = &desc
	return nil
}

func (f *fakeNative) LocalDescription() *webrtc.SessionDescription {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.local
}

func (f *fakeNative) RemoteDescription() *webrtc.SessionDescription {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.remote
}

func (f *fakeNative) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP("local", "audio")}, nil
}

func (f *fakeNative) AddICECandidate(webrtc.ICECandidateInit) error {
	return nil
}

func (f *fakeNative) SignalingState() webrtc.SignalingState {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.signalingState
}

func (f *fakeNative) ICEConnectionState() webrtc.ICEConnectionState {
	return webrtc.ICEConnectionStateNew
}

func (f *fakeNative) GetConfiguration() webrtc.Configuration {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.configuration
}

func (f *fakeNative) SetConfiguration(configuration webrtc.Configuration) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.configuration = configuration
	return nil
}

func (f *fakeNative) GetStats() webrtc.StatsReport {
	return webrtc.StatsReport{}
}

func (f *fakeNative) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return &webrtc.RTPSender{}, nil
}

func (f *fakeNative) RemoveTrack(*webrtc.RTPSender) error {
	return nil
}

func (f *fakeNative) isClosed() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.closed
}

func (f *fakeNative) iceServers() []webrtc.ICEServer {
	return f.GetConfiguration().ICEServers
}

func (f *fakeNative) fireICECandidate(c *webrtc.ICECandidate) {
	f.lock.Lock()
	fn := f.onICECandidate
	f.lock.Unlock()
	fn(c)
}

// ------------------------------------------------

type fakeConn struct {
	params signalling.ConnParams

	lock   sync.Mutex
	sent   []*signalling.Message
	closed bool
}

func (f *fakeConn) SendMessage(body interface{}) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.sent = append(f.sent, body.(*signalling.Message))
}

func (f *fakeConn) Close() {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.closed = true
}

func (f *fakeConn) hello() *signalling.Message {
	return f.params.HelloBody.(*signalling.Message)
}

func (f *fakeConn) sentOfType(typ signalling.MessageType) []*signalling.Message {
	f.lock.Lock()
	defer f.lock.Unlock()

	var out []*signalling.Message
	for _, msg := range f.sent {
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

func (f *fakeConn) receive(t *testing.T, msg *signalling.Message) {
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	f.params.OnMessage(data)
}

type fakeConnFactory struct {
	lock  sync.Mutex
	conns []*fakeConn
}

func (f *fakeConnFactory) create(params signalling.ConnParams) signalling.Conn {
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

// ------------------------------------------------

type staticParticipant struct {
	state *types.ParticipantState
}

func (p *staticParticipant) GetState() *types.ParticipantState {
	return p.state
}

func (p *staticParticipant) TrackSenders() []webrtc.TrackLocal {
	return nil
}

type recordingHandler struct {
	UnimplementedHandler

	// optional, runs on every connected state
	onConnected func()

	lock     sync.Mutex
	states   []signalling.ConnectionState
	messages []*signalling.Message
}

func (h *recordingHandler) OnStateChanged(state signalling.ConnectionState, _ error) {
	h.lock.Lock()
	h.states = append(h.states, state)
	h.lock.Unlock()

	if state == signalling.ConnectionStateConnected && h.onConnected != nil {
		h.onConnected()
	}
}

func (h *recordingHandler) OnMessage(msg *signalling.Message) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.messages = append(h.messages, msg)
}

func (h *recordingHandler) getStates() []signalling.ConnectionState {
	h.lock.Lock()
	defer h.lock.Unlock()

	return append([]signalling.ConnectionState{}, h.states...)
}

// recordingInsights stands in for the insights publisher.
type recordingInsights struct {
	lock           sync.Mutex
	roomSID        string
	participantSID string
}

func (r *recordingInsights) Publish(string, string, types.EventLevel, map[string]interface{}) {}

func (r *recordingInsights) Connect(roomSID, participantSID string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.roomSID = roomSID
	r.participantSID = participantSID
}

func (r *recordingInsights) get() (string, string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.roomSID, r.participantSID
}
