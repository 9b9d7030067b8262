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

package types

import (
	"time"

	"github.com/pion/webrtc/v3"
)

// WebsocketClient is the subset of *websocket.Conn used by the signaling
// connection.
type WebsocketClient interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// NativePeerConnection is the media transport the peer connection drives.
// *webrtc.PeerConnection satisfies it.
type NativePeerConnection interface {
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	OnICEGatheringStateChange(f func(webrtc.ICEGathererState))
	OnSignalingStateChange(f func(webrtc.SignalingState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	ICEConnectionState() webrtc.ICEConnectionState
	GetConfiguration() webrtc.Configuration
	SetConfiguration(configuration webrtc.Configuration) error
	GetStats() webrtc.StatsReport
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error
}

type NativePeerConnectionFactory func(configuration webrtc.Configuration) (NativePeerConnection, error)

// EventSink receives fire-and-forget telemetry events.
type EventSink interface {
	Publish(group string, name string, level EventLevel, payload map[string]interface{})
}

// DisconnectableSink is an EventSink tied to a signaling connection. It is
// disconnected together with the connection.
type DisconnectableSink interface {
	EventSink
	Disconnect() bool
}

type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)
