package rtc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/livekit/signal-client/pkg/rtc/transport"
	"github.com/livekit/signal-client/pkg/rtc/types"
)

var errFakeInvalidState = errors.New("fake: invalid signaling state")

func testSDP(ufrag string, lite bool, sections ...string) string {
	var b strings.Builder
	b.WriteString("v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n")
	if lite {
		b.WriteString("a=ice-lite\r\n")
	}
	for i, section := range sections {
		parts := strings.Fields(section)
		fmt.Fprintf(&b, "m=%s 9 UDP/TLS/RTP/SAVPF 96\r\n", parts[0])
		b.WriteString("c=IN IP4 0.0.0.0\r\n")
		fmt.Fprintf(&b, "a=ice-ufrag:%s\r\n", ufrag)
		b.WriteString("a=ice-pwd:passwordpasswordpassword\r\n")
		fmt.Fprintf(&b, "a=mid:%d\r\n", i)
		fmt.Fprintf(&b, "a=%s\r\n", parts[1])
	}
	return b.String()
}

func testRemoteOffer(revision int, ufrag string) *types.PeerConnectionState {
	return &types.PeerConnectionState{
		Description: &types.Description{
			Type:     types.DescriptionTypeOffer,
			Revision: revision,
			SDP:      testSDP(ufrag, false, "audio sendrecv", "video sendrecv"),
		},
	}
}

func testRemoteAnswer(revision int, ufrag string) *types.PeerConnectionState {
	return &types.PeerConnectionState{
		Description: &types.Description{
			Type:     types.DescriptionTypeAnswer,
			Revision: revision,
			SDP:      testSDP(ufrag, false, "audio sendrecv", "video sendrecv"),
		},
	}
}

func testLocalCandidate(port uint16) *webrtc.ICECandidate {
	return &webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    "10.0.0.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       port,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	}
}

// ------------------------------------------------

// fakeNativePeerConnection models the signaling state machine of a native
// peer connection closely enough to exercise negotiation.
type fakeNativePeerConnection struct {
	lock sync.Mutex

	signalingState webrtc.SignalingState
	local          *webrtc.SessionDescription
	stableLocal    *webrtc.SessionDescription
	remote         *webrtc.SessionDescription
	ufrag          string
	generation     int
	closed         bool
	configuration  webrtc.Configuration
	stats          webrtc.StatsReport
	tracks         map[*webrtc.RTPSender]webrtc.TrackLocal

	offerOptions       []*webrtc.OfferOptions
	remoteSet          []webrtc.SessionDescription
	addedCandidates    []webrtc.ICECandidateInit
	createOfferErr     error
	setRemoteErr       error
	answerSections     []string
	iceConnectionState webrtc.ICEConnectionState

	onICECandidate             func(*webrtc.ICECandidate)
	onICEConnectionStateChange func(webrtc.ICEConnectionState)
	onICEGatheringStateChange  func(webrtc.ICEGathererState)
}

func newFakeNativePeerConnection() *fakeNativePeerConnection {
	return &fakeNativePeerConnection{
		signalingState:     webrtc.SignalingStateStable,
		tracks:             make(map[*webrtc.RTPSender]webrtc.TrackLocal),
		answerSections:     []string{"audio sendrecv", "video recvonly"},
		iceConnectionState: webrtc.ICEConnectionStateNew,
		stats:              webrtc.StatsReport{},
	}
}

func (f *fakeNativePeerConnection) factory() types.NativePeerConnectionFactory {
	return func(configuration webrtc.Configuration) (types.NativePeerConnection, error) {
		f.lock.Lock()
		f.configuration = configuration
		f.lock.Unlock()
		return f, nil
	}
}

func (f *fakeNativePeerConnection) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.onICECandidate = fn
}

func (f *fakeNativePeerConnection) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.onICEConnectionStateChange = fn
}

func (f *fakeNativePeerConnection) OnICEGatheringStateChange(fn func(webrtc.ICEGathererState)) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.onICEGatheringStateChange = fn
}

func (f *fakeNativePeerConnection) OnSignalingStateChange(func(webrtc.SignalingState)) {}

func (f *fakeNativePeerConnection) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakeNativePeerConnection) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.closed = true
	f.signalingState = webrtc.SignalingStateClosed
	return nil
}

func (f *fakeNativePeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.setRemoteErr != nil {
		return f.setRemoteErr
	}
	switch {
	case desc.Type == webrtc.SDPTypeOffer && f.signalingState == webrtc.SignalingStateStable:
		f.signalingState = webrtc.SignalingStateHaveRemoteOffer
	case (desc.Type == webrtc.SDPTypeAnswer || desc.Type == webrtc.SDPTypePranswer) && f.signalingState == webrtc.SignalingStateHaveLocalOffer:
		f.signalingState = webrtc.SignalingStateStable
		f.stableLocal = f.local
	default:
		return errFakeInvalidState
	}
	f.remote = &desc
	f.remoteSet = append(f.remoteSet, desc)
	return nil
}

func (f *fakeNativePeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	switch {
	case desc.Type == webrtc.SDPTypeOffer && (f.signalingState == webrtc.SignalingStateStable || f.signalingState == webrtc.SignalingStateHaveLocalOffer):
		f.signalingState = webrtc.SignalingStateHaveLocalOffer
		f.local = &desc
	case desc.Type == webrtc.SDPTypeAnswer && f.signalingState == webrtc.SignalingStateHaveRemoteOffer:
		f.signalingState = webrtc.SignalingStateStable
		f.local = &desc
		f.stableLocal = &desc
	case desc.Type == webrtc.SDPTypeRollback && f.signalingState == webrtc.SignalingStateHaveLocalOffer:
		f.signalingState = webrtc.SignalingStateStable
		f.local = f.stableLocal
	default:
		return errFakeInvalidState
	}
	return nil
}

func (f *fakeNativePeerConnection) LocalDescription() *webrtc.SessionDescription {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.local
}

func (f *fakeNativePeerConnection) RemoteDescription() *webrtc.SessionDescription {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.remote
}

func (f *fakeNativePeerConnection) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.createOfferErr != nil {
		return webrtc.SessionDescription{}, f.createOfferErr
	}
	f.offerOptions = append(f.offerOptions, options)
	if f.ufrag == "" || (options != nil && options.ICERestart) {
		f.nextUfragLocked()
	}

	sections := []string{"audio sendrecv"}
	for _, track := range f.tracks {
		sections = append(sections, track.Kind().String()+" sendrecv")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP(f.ufrag, false, sections...)}, nil
}

func (f *fakeNativePeerConnection) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.ufrag == "" {
		f.nextUfragLocked()
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP(f.ufrag, false, f.answerSections...)}, nil
}

func (f *fakeNativePeerConnection) nextUfragLocked() {
	f.generation++
	f.ufrag = fmt.Sprintf("local%d", f.generation)
}

func (f *fakeNativePeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.addedCandidates = append(f.addedCandidates, candidate)
	return nil
}

func (f *fakeNativePeerConnection) SignalingState() webrtc.SignalingState {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.signalingState
}

func (f *fakeNativePeerConnection) ICEConnectionState() webrtc.ICEConnectionState {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.iceConnectionState
}

func (f *fakeNativePeerConnection) GetConfiguration() webrtc.Configuration {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.configuration
}

func (f *fakeNativePeerConnection) SetConfiguration(configuration webrtc.Configuration) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.configuration = configuration
	return nil
}

func (f *fakeNativePeerConnection) GetStats() webrtc.StatsReport {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.stats
}

func (f *fakeNativePeerConnection) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	sender := &webrtc.RTPSender{}
	f.tracks[sender] = track
	return sender, nil
}

func (f *fakeNativePeerConnection) RemoveTrack(sender *webrtc.RTPSender) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	delete(f.tracks, sender)
	return nil
}

func (f *fakeNativePeerConnection) fireICECandidate(c *webrtc.ICECandidate) {
	f.lock.Lock()
	fn := f.onICECandidate
	f.lock.Unlock()
	fn(c)
}

func (f *fakeNativePeerConnection) fireICEConnectionState(state webrtc.ICEConnectionState) {
	f.lock.Lock()
	f.iceConnectionState = state
	fn := f.onICEConnectionStateChange
	f.lock.Unlock()
	fn(state)
}

func (f *fakeNativePeerConnection) fireICEGatheringState(state webrtc.ICEGathererState) {
	f.lock.Lock()
	fn := f.onICEGatheringStateChange
	f.lock.Unlock()
	fn(state)
}

func (f *fakeNativePeerConnection) getAddedCandidates() []webrtc.ICECandidateInit {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.addedCandidates...)
}

func (f *fakeNativePeerConnection) getOfferOptions() []*webrtc.OfferOptions {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]*webrtc.OfferOptions(nil), f.offerOptions...)
}

func (f *fakeNativePeerConnection) getRemoteSet() []webrtc.SessionDescription {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]webrtc.SessionDescription(nil), f.remoteSet...)
}

func (f *fakeNativePeerConnection) currentUfrag() string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.ufrag
}

// ------------------------------------------------

type recordingHandler struct {
	transport.UnimplementedHandler

	lock         sync.Mutex
	descriptions []*types.PeerConnectionState
	candidates   []*types.PeerConnectionState
	iceStates    []webrtc.ICEConnectionState
	closed       int
}

func (h *recordingHandler) OnDescription(state *types.PeerConnectionState) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.descriptions = append(h.descriptions, state)
}

func (h *recordingHandler) OnCandidates(state *types.PeerConnectionState) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.candidates = append(h.candidates, state)
}

func (h *recordingHandler) OnICEConnectionStateChanged(state webrtc.ICEConnectionState) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.iceStates = append(h.iceStates, state)
}

func (h *recordingHandler) OnClosed() {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.closed++
}

func (h *recordingHandler) getDescriptions() []*types.Description {
	h.lock.Lock()
	defer h.lock.Unlock()

	var descriptions []*types.Description
	for _, s := range h.descriptions {
		descriptions = append(descriptions, s.Description)
	}
	return descriptions
}

func (h *recordingHandler) lastDescription() *types.Description {
	descriptions := h.getDescriptions()
	if len(descriptions) == 0 {
		return nil
	}
	return descriptions[len(descriptions)-1]
}

func (h *recordingHandler) getCandidates() []*types.ICEState {
	h.lock.Lock()
	defer h.lock.Unlock()

	var states []*types.ICEState
	for _, s := range h.candidates {
		states = append(states, s.ICE)
	}
	return states
}

func (h *recordingHandler) closedCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.closed
}
