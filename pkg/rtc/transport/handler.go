package transport

import (
	"github.com/pion/webrtc/v3"

	"github.com/livekit/signal-client/pkg/rtc/types"
)

// Handler receives the events of a peer connection. Description and
// candidates states must be published to the remote side by the handler.
type Handler interface {
	OnDescription(state *types.PeerConnectionState)
	OnCandidates(state *types.PeerConnectionState)
	OnTrackAdded(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	OnICEConnectionStateChanged(state webrtc.ICEConnectionState)
	OnClosed()
}

type UnimplementedHandler struct{}

func (h UnimplementedHandler) OnDescription(state *types.PeerConnectionState)                       {}
func (h UnimplementedHandler) OnCandidates(state *types.PeerConnectionState)                        {}
func (h UnimplementedHandler) OnTrackAdded(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {}
func (h UnimplementedHandler) OnICEConnectionStateChanged(state webrtc.ICEConnectionState)          {}
func (h UnimplementedHandler) OnClosed()                                                            {}
