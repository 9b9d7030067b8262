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

package room

import (
	"context"
	"sync"

	"github.com/frostbyte73/core"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/signal-client/pkg/config"
	"github.com/livekit/signal-client/pkg/rtc"
	"github.com/livekit/signal-client/pkg/rtc/signalling"
	"github.com/livekit/signal-client/pkg/rtc/types"
)

var ErrConnectCanceled = errors.Wrap(context.Canceled, "connect canceled")

// ICEServerSource acquires ICE servers before signaling starts.
// iceserver.NTSSource.Start satisfies it.
type ICEServerSource func(ctx context.Context) ([]types.ICEServer, error)

// Handler receives the events of a connected Room.
type Handler interface {
	OnStateChanged(state signalling.ConnectionState, err error)
	OnMessage(msg *signalling.Message)
	OnTrackAdded(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

type UnimplementedHandler struct{}

func (UnimplementedHandler) OnStateChanged(signalling.ConnectionState, error)      {}
func (UnimplementedHandler) OnMessage(*signalling.Message)                         {}
func (UnimplementedHandler) OnTrackAdded(*webrtc.TrackRemote, *webrtc.RTPReceiver) {}

// insightsConnector is implemented by sinks that need the room identity
// before they start publishing.
type insightsConnector interface {
	Connect(roomSID, participantSID string)
}

type Params struct {
	URL        string
	Name       string
	Token      string
	UserAgent  string
	SDKVersion string

	Participant types.LocalParticipant
	// pre-supplied servers skip acquisition
	ICEServers      []types.ICEServer
	ICEServerSource ICEServerSource

	WebRTCConfig *rtc.WebRTCConfig
	Factory      types.NativePeerConnectionFactory
	Signaling    config.SignalingConfig
	ConnFactory  signalling.ConnFactory
	Dialer       signalling.Dialer
	Publisher    signalling.UpdatePublisher

	Handler   Handler
	Telemetry types.EventSink
	Logger    logger.Logger
}

// Room is a connected room: one peer connection negotiated over one
// signaling connection.
type Room struct {
	params   Params
	logger   logger.Logger
	pc       *rtc.PeerConnection
	snapshot *signalling.Message

	// set once the handler has seen the initial connected state
	joined       atomic.Bool
	connected    core.Fuse
	disconnected core.Fuse

	lock      sync.Mutex
	signaling *signalling.SignalingConnection
	early     []*signalling.Update
	err       error
}

// Connect joins the room. It returns once the server acknowledged the
// connection, the connection failed, or ctx is done. Everything created along
// the way is closed on failure.
func Connect(ctx context.Context, params Params) (*Room, error) {
	if params.Handler == nil {
		params.Handler = UnimplementedHandler{}
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}

	r := &Room{
		params: params,
		logger: params.Logger.WithValues("room", params.Name),
	}
	if err := contextError(ctx); err != nil {
		return nil, err
	}

	pc, err := rtc.NewPeerConnection(rtc.PeerConnectionParams{
		Config:    params.WebRTCConfig,
		Factory:   params.Factory,
		Handler:   r,
		Telemetry: params.Telemetry,
		Logger:    params.Logger,
	})
	if err != nil {
		return nil, err
	}
	r.pc = pc

	if params.Participant != nil {
		for _, track := range params.Participant.TrackSenders() {
			if _, err := pc.AddTrackSender(track); err != nil {
				pc.Close()
				return nil, errors.Wrap(err, "could not add track sender")
			}
		}
	}

	iceServers := params.ICEServers
	if len(iceServers) == 0 && params.ICEServerSource != nil {
		iceServers, err = params.ICEServerSource(ctx)
		if err == nil {
			err = contextError(ctx)
		}
		if err != nil {
			pc.Close()
			if errors.Is(err, context.Canceled) {
				return nil, ErrConnectCanceled
			}
			return nil, err
		}
	}

	sc := signalling.NewSignalingConnection(signalling.SignalingConnectionParams{
		URL:        params.URL,
		Name:       params.Name,
		Token:      params.Token,
		UserAgent:  params.UserAgent,
		SDKVersion: params.SDKVersion,
		ICEServers: iceServers,
		OnIced: func(servers []types.ICEServer) error {
			return r.onIced(ctx, servers)
		},
		Participant:               r,
		PeerConnections:           r,
		Handler:                   r,
		ConnFactory:               params.ConnFactory,
		Dialer:                    params.Dialer,
		Publisher:                 params.Publisher,
		MaxReconnectAttempts:      params.Signaling.MaxReconnectAttempts,
		ReconnectBackOff:          params.Signaling.ReconnectBackOff,
		SessionTimeout:            params.Signaling.SessionTimeout,
		WelcomeTimeout:            params.Signaling.WelcomeTimeout,
		RequestedHeartbeatTimeout: params.Signaling.RequestedHeartbeatTimeout,
		MaxMissedHeartbeats:       params.Signaling.MaxMissedHeartbeats,
		Telemetry:                 params.Telemetry,
		Logger:                    params.Logger,
	})
	r.setSignaling(sc)

	select {
	case <-ctx.Done():
		err = contextError(ctx)
	case <-r.connected.Watch():
		if r.snapshot.Participant == nil {
			err = types.ErrIncomingMessageInvalid
		}
	case <-r.disconnected.Watch():
		err = r.Err()
	}
	if err == nil {
		// ctx may be done by the time the connected fuse wins the select
		err = contextError(ctx)
	}
	if err != nil {
		r.logger.Infow("could not connect", "error", err)
		sc.Disconnect(nil)
		pc.Close()
		return nil, err
	}

	if c, ok := params.Telemetry.(insightsConnector); ok {
		c.Connect(r.snapshot.SID, r.snapshot.Participant.SID)
	}
	r.logger.Infow("connected", "session", sc.Session(), "sid", r.snapshot.SID)
	return r, nil
}

func contextError(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return ErrConnectCanceled
	default:
		return types.ErrSignalingConnectionTimeout.WithCause(err)
	}
}

// onIced applies the acquired servers and creates the initial offer. The
// offer goes out with the connect message.
func (r *Room) onIced(ctx context.Context, servers []types.ICEServer) error {
	if err := contextError(ctx); err != nil {
		return err
	}
	if err := r.pc.SetICEServers(types.ToWebRTCICEServers(servers)); err != nil {
		return errors.Wrap(err, "could not apply ice servers")
	}
	return r.pc.Offer()
}

func (r *Room) setSignaling(sc *signalling.SignalingConnection) {
	r.lock.Lock()
	r.signaling = sc
	early := r.early
	r.early = nil
	r.lock.Unlock()

	for _, update := range early {
		sc.Publish(update)
	}
}

func (r *Room) publish(update *signalling.Update) {
	r.lock.Lock()
	sc := r.signaling
	if sc == nil {
		r.early = append(r.early, update)
	}
	r.lock.Unlock()

	if sc != nil {
		sc.Publish(update)
	}
}

func (r *Room) PeerConnection() *rtc.PeerConnection {
	return r.pc
}

func (r *Room) Signaling() *signalling.SignalingConnection {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.signaling
}

// SID is the room sid reported by the server.
func (r *Room) SID() string {
	return r.snapshot.SID
}

func (r *Room) LocalParticipantSID() string {
	return r.snapshot.Participant.SID
}

func (r *Room) State() signalling.ConnectionState {
	return r.Signaling().State()
}

// PublishParticipant sends the current local participant state.
func (r *Room) PublishParticipant() bool {
	state := r.GetState()
	if state == nil {
		return false
	}
	return r.Signaling().Publish(&signalling.Update{Participant: state})
}

func (r *Room) Disconnect() {
	if sc := r.Signaling(); sc != nil {
		sc.Disconnect(nil)
	}
	r.pc.Close()
}

// Done is closed once the room is disconnected.
func (r *Room) Done() <-chan struct{} {
	return r.disconnected.Watch()
}

// Err is the reason of the disconnection, nil for an intentional one.
func (r *Room) Err() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.err
}

// ------------------------------------------------
// state providers

func (r *Room) GetState() *types.ParticipantState {
	if r.params.Participant == nil {
		return nil
	}
	return r.params.Participant.GetState()
}

func (r *Room) GetStates() []*types.PeerConnectionState {
	if state := r.pc.GetState(); state != nil {
		return []*types.PeerConnectionState{state}
	}
	return nil
}

// ------------------------------------------------
// signalling.Handler

func (r *Room) OnConnected(msg *signalling.Message) {
	r.applyPeerConnections(msg)
	if r.connected.IsBroken() {
		// a reconnect
		r.params.Handler.OnMessage(msg)
		return
	}
	r.snapshot = msg
}

func (r *Room) OnMessage(msg *signalling.Message) {
	r.applyPeerConnections(msg)
	r.params.Handler.OnMessage(msg)
}

func (r *Room) OnStateChanged(state signalling.ConnectionState, err error) {
	r.logger.Debugw("signaling state changed", "state", state, "error", err)
	if state == signalling.ConnectionStateDisconnected {
		r.lock.Lock()
		r.err = err
		r.lock.Unlock()

		r.pc.Close()
		r.disconnected.Break()
	}

	initial := state == signalling.ConnectionStateConnected && !r.connected.IsBroken()
	if initial && r.snapshot != nil && r.snapshot.Participant != nil {
		r.joined.Store(true)
	}
	if r.joined.Load() {
		r.params.Handler.OnStateChanged(state, err)
	}
	// the handler sees the initial connected state before Connect returns
	if initial {
		r.connected.Break()
	}
}

func (r *Room) applyPeerConnections(msg *signalling.Message) {
	for _, state := range msg.PeerConnections {
		if state == nil || state.ID != r.pc.ID() {
			continue
		}
		if err := r.pc.Update(state); err != nil {
			r.logger.Warnw("could not apply peer connection update", err, "pcID", state.ID)
		}
	}
}

// ------------------------------------------------
// transport.Handler

func (r *Room) OnDescription(state *types.PeerConnectionState) {
	if isInitialOffer(state) {
		// sent with the connect message
		return
	}
	r.publish(&signalling.Update{PeerConnections: []*types.PeerConnectionState{state}})
}

func isInitialOffer(state *types.PeerConnectionState) bool {
	d := state.Description
	return d != nil && d.Type == types.DescriptionTypeOffer && d.Revision == 1
}

func (r *Room) OnCandidates(state *types.PeerConnectionState) {
	r.publish(&signalling.Update{PeerConnections: []*types.PeerConnectionState{state}})
}

func (r *Room) OnTrackAdded(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	r.params.Handler.OnTrackAdded(track, receiver)
}

func (r *Room) OnICEConnectionStateChanged(state webrtc.ICEConnectionState) {
	r.logger.Debugw("ice connection state changed", "state", state.String())
}

func (r *Room) OnClosed() {}
