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

package rtc

import (
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/pion/ice/v2"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/logger"
	protoutils "github.com/livekit/protocol/utils"
	"github.com/livekit/signal-client/pkg/rtc/transport"
	"github.com/livekit/signal-client/pkg/rtc/types"
	"github.com/livekit/signal-client/pkg/telemetry/prometheus"
	"github.com/livekit/signal-client/pkg/utils"
)

const (
	DefaultICEGatheringTimeout = 15 * time.Second
	DefaultSessionTimeout      = 30 * time.Second

	defaultICERestartBase   = time.Millisecond
	defaultICERestartFactor = 1.1

	eventGroupICE   = "ice-connection-state"
	eventGroupMedia = "media"
)

type PeerConnectionParams struct {
	// generated when empty
	ID            string
	Config        *WebRTCConfig
	Factory       types.NativePeerConnectionFactory
	Handler       transport.Handler
	ReofferPolicy ReofferPolicy
	Telemetry     types.EventSink
	// coalesces local candidates into fewer candidates events, 0 emits each one
	CandidateBatchDelay time.Duration
	Logger              logger.Logger
}

type trackSender struct {
	track  webrtc.TrackLocal
	sender *webrtc.RTPSender
}

// PeerConnection drives one native peer connection through revisioned
// offer/answer exchanges. Description operations are serialized through the
// negotiation state machine. Native callbacks are handled on a single ops
// queue.
type PeerConnection struct {
	params PeerConnectionParams
	id     string
	pc     types.NativePeerConnection

	negotiation *utils.StateMachine[transport.NegotiationState]
	opsQueue    *utils.OpsQueue
	iceBox      *IceBox
	monitor     *IceActivityMonitor

	iceRestartBackOff *utils.JitterBackOff
	candidatesBatcher func(f func())

	// serializes computing and emitting description events
	emitLock sync.Mutex

	lock                          sync.RWMutex
	descriptionRevision           int
	lastStableDescriptionRevision int
	localDescription              *types.Description
	localUfrag                    string
	localCandidates               []webrtc.ICECandidateInit
	localCandidatesRevision       int
	localCandidatesComplete       bool
	didGenerateLocalCandidates    bool
	queuedDescription             *types.Description
	needsAnswer                   bool
	shouldOffer                   bool
	shouldRestartICE              bool
	isRestartingICE               bool
	isICELite                     bool
	lastICEConnectionState        webrtc.ICEConnectionState
	iceGatheringTimer             *time.Timer
	iceRestartTimer               *time.Timer
	iceReconnectTimer             *time.Timer
	senders                       map[string]*trackSender
}

func NewPeerConnection(params PeerConnectionParams) (*PeerConnection, error) {
	if params.Factory == nil {
		return nil, errors.New("native peer connection factory is required")
	}
	if params.ID == "" {
		params.ID = protoutils.NewGuid(utils.PeerConnectionPrefix)
	}
	if params.Config == nil {
		params.Config = &WebRTCConfig{}
	}
	if params.Handler == nil {
		params.Handler = transport.UnimplementedHandler{}
	}
	if params.ReofferPolicy == nil {
		params.ReofferPolicy = SenderCountReofferPolicy{}
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	params.Logger = params.Logger.WithValues("pcID", params.ID)

	pc, err := params.Factory(withConfigurationDefaults(params.Config.Configuration))
	if err != nil {
		return nil, errors.Wrap(err, "could not create native peer connection")
	}

	p := &PeerConnection{
		params:                  params,
		id:                      params.ID,
		pc:                      pc,
		negotiation:             utils.NewStateMachine("negotiation", transport.NegotiationStateOpen, transport.NegotiationTransitions),
		opsQueue:                utils.NewOpsQueue(params.Logger, "peerConnection"),
		iceBox:                  NewIceBox(),
		iceRestartBackOff:       utils.NewJitterBackOff(iceRestartBackOffConfig(params.Config)),
		localCandidatesRevision: 1,
		lastICEConnectionState:  webrtc.ICEConnectionStateNew,
		senders:                 make(map[string]*trackSender),
	}
	p.monitor = NewIceActivityMonitor(IceActivityMonitorParams{
		Provider:            p,
		ActivityCheckPeriod: params.Config.ActivityCheckPeriod,
		InactivityThreshold: params.Config.InactivityThreshold,
		Logger:              params.Logger,
	})
	if params.CandidateBatchDelay > 0 {
		p.candidatesBatcher = debounce.New(params.CandidateBatchDelay)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		p.opsQueue.Enqueue(func() {
			p.handleICECandidate(c)
		})
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.opsQueue.Enqueue(func() {
			p.handleICEConnectionStateChange(state)
		})
	})
	pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		p.opsQueue.Enqueue(func() {
			p.handleICEGatheringStateChange(state)
		})
	})
	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		p.opsQueue.Enqueue(func() {
			p.params.Logger.Debugw("signaling state changed", "state", state.String())
		})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.opsQueue.Enqueue(func() {
			p.params.Logger.Debugw("track added", "trackID", track.ID(), "kind", track.Kind().String())
			p.params.Handler.OnTrackAdded(track, receiver)
		})
	})

	p.opsQueue.Start()
	return p, nil
}

func iceRestartBackOffConfig(conf *WebRTCConfig) utils.JitterBackOffConfig {
	c := conf.ICERestartBackOff
	if c.Base <= 0 {
		c.Base = defaultICERestartBase
	}
	if c.Factor <= 0 {
		c.Factor = defaultICERestartFactor
	}
	if c.Max <= 0 {
		c.Max = sessionTimeout(conf)
	}
	return c
}

func sessionTimeout(conf *WebRTCConfig) time.Duration {
	if conf.SessionTimeout > 0 {
		return conf.SessionTimeout
	}
	return DefaultSessionTimeout
}

func withConfigurationDefaults(c webrtc.Configuration) webrtc.Configuration {
	if c.BundlePolicy == webrtc.BundlePolicy(webrtc.Unknown) {
		c.BundlePolicy = webrtc.BundlePolicyMaxBundle
	}
	if c.RTCPMuxPolicy == webrtc.RTCPMuxPolicy(webrtc.Unknown) {
		c.RTCPMuxPolicy = webrtc.RTCPMuxPolicyRequire
	}
	return c
}

func (p *PeerConnection) ID() string {
	return p.id
}

func (p *PeerConnection) NegotiationState() transport.NegotiationState {
	return p.negotiation.State()
}

func (p *PeerConnection) IsClosed() bool {
	return p.negotiation.State() == transport.NegotiationStateClosed
}

// GetState returns the local description state, nil until a local description
// was set. An answer reports the last stable revision.
func (p *PeerConnection) GetState() *types.PeerConnectionState {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.getStateLocked()
}

func (p *PeerConnection) getStateLocked() *types.PeerConnectionState {
	if p.localDescription == nil {
		return nil
	}
	revision := p.descriptionRevision
	if p.localDescription.Type == types.DescriptionTypeAnswer {
		revision = p.lastStableDescriptionRevision
	}
	return &types.PeerConnectionState{
		ID: p.id,
		Description: &types.Description{
			Type:     p.localDescription.Type,
			Revision: revision,
			SDP:      p.localDescription.SDP,
		},
	}
}

// Offer creates and applies a new local offer. While an offer is waiting for
// its answer, or an ICE restart is in progress, the offer is deferred until
// the answer arrives.
func (p *PeerConnection) Offer() error {
	if p.deferOffer() {
		return nil
	}
	return p.bracket(func() error {
		if p.deferOffer() {
			return nil
		}
		return p.createAndSetOffer()
	})
}

func (p *PeerConnection) deferOffer() bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.needsAnswer || p.isRestartingICE {
		p.shouldOffer = true
		return true
	}
	return false
}

// Update applies a remote peer connection state. ICE and description are
// processed concurrently.
func (p *PeerConnection) Update(state *types.PeerConnectionState) error {
	if state == nil || (state.ICE == nil && state.Description == nil) {
		return nil
	}
	return p.bracket(func() error {
		var g errgroup.Group
		if state.ICE != nil {
			iceState := state.ICE.Clone()
			g.Go(func() error {
				p.updateICE(iceState)
				return nil
			})
		}
		if state.Description != nil {
			description := *state.Description
			g.Go(func() error {
				return p.updateDescription(&description)
			})
		}
		return g.Wait()
	})
}

// Close closes the native peer connection and emits a close description. It
// is a no-op when already closed.
func (p *PeerConnection) Close() {
	if !p.close() {
		return
	}

	p.emitLock.Lock()
	defer p.emitLock.Unlock()

	p.lock.Lock()
	p.descriptionRevision++
	p.localDescription = &types.Description{Type: types.DescriptionTypeClose}
	state := p.getStateLocked()
	p.lock.Unlock()

	p.params.Handler.OnDescription(state)
}

func (p *PeerConnection) SetConfiguration(configuration webrtc.Configuration) error {
	if p.IsClosed() {
		return ErrPeerConnectionClosed
	}
	return p.pc.SetConfiguration(withConfigurationDefaults(configuration))
}

// SetICEServers replaces the ICE servers of the current configuration.
func (p *PeerConnection) SetICEServers(servers []webrtc.ICEServer) error {
	configuration := p.pc.GetConfiguration()
	configuration.ICEServers = servers
	return p.SetConfiguration(configuration)
}

func (p *PeerConnection) GetStats() (*types.PeerConnectionStats, error) {
	if p.IsClosed() {
		return nil, ErrPeerConnectionClosed
	}
	return aggregateStats(p.id, p.pc.ICEConnectionState(), p.pc.GetStats()), nil
}

func (p *PeerConnection) ActiveCandidatePairActivity() (*types.CandidatePairActivity, error) {
	if p.IsClosed() {
		return nil, ErrPeerConnectionClosed
	}
	return candidatePairActivity(p.pc.GetStats())
}

// AddTrackSender attaches a local track. The caller is responsible for
// calling Offer to negotiate it.
func (p *PeerConnection) AddTrackSender(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.lock.RLock()
	_, exists := p.senders[track.ID()]
	p.lock.RUnlock()
	if exists {
		return nil, ErrTrackSenderExists
	}

	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	p.lock.Lock()
	p.senders[track.ID()] = &trackSender{track: track, sender: sender}
	p.lock.Unlock()
	return sender, nil
}

func (p *PeerConnection) RemoveTrackSender(track webrtc.TrackLocal) error {
	p.lock.Lock()
	ts, ok := p.senders[track.ID()]
	delete(p.senders, track.ID())
	p.lock.Unlock()
	if !ok {
		return ErrTrackSenderNotFound
	}
	return p.pc.RemoveTrack(ts.sender)
}

func (p *PeerConnection) senderCountsLocked() map[webrtc.RTPCodecType]int {
	counts := make(map[webrtc.RTPCodecType]int)
	for _, ts := range p.senders {
		counts[ts.track.Kind()]++
	}
	return counts
}

// bracket runs fn in UPDATING. Operations on a closed peer connection are
// no-ops.
func (p *PeerConnection) bracket(fn func() error) error {
	err := p.negotiation.Bracket(transport.NegotiationStateUpdating, transport.NegotiationStateOpen, fn)
	if errors.Is(err, utils.ErrInvalidTransition) && p.IsClosed() {
		return nil
	}
	return err
}

// close tears down the native peer connection, returning false if it was
// already closed.
func (p *PeerConnection) close() bool {
	p.monitor.Stop()
	if p.negotiation.Preempt(transport.NegotiationStateClosed) == transport.NegotiationStateClosed {
		return false
	}

	p.lock.Lock()
	stopTimer(&p.iceGatheringTimer)
	stopTimer(&p.iceRestartTimer)
	stopTimer(&p.iceReconnectTimer)
	p.lock.Unlock()

	if err := p.pc.Close(); err != nil {
		p.params.Logger.Warnw("error closing native peer connection", err)
	}
	p.opsQueue.Stop()
	p.params.Logger.Debugw("peer connection closed")
	p.params.Handler.OnClosed()
	return true
}

func (p *PeerConnection) updateDescription(description *types.Description) error {
	switch description.Type {
	case types.DescriptionTypeAnswer, types.DescriptionTypePrAnswer:
		p.lock.RLock()
		pending := p.descriptionRevision
		p.lock.RUnlock()
		if description.Revision != pending || p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
			p.params.Logger.Debugw("ignoring answer", "revision", description.Revision, "pending", pending)
			return nil
		}
		return p.applyAnswer(description)

	case types.DescriptionTypeClose:
		p.close()
		return nil

	case types.DescriptionTypeCreateOffer:
		p.lock.Lock()
		if description.Revision <= p.lastStableDescriptionRevision {
			p.lock.Unlock()
			return nil
		}
		if p.needsAnswer {
			p.queuedDescription = description
			p.lock.Unlock()
			return nil
		}
		p.descriptionRevision = description.Revision
		p.lock.Unlock()
		return p.createAndSetOffer()

	case types.DescriptionTypeOffer:
		signalingState := p.pc.SignalingState()
		p.lock.Lock()
		if description.Revision <= p.lastStableDescriptionRevision || signalingState == webrtc.SignalingStateClosed {
			p.lock.Unlock()
			return nil
		}
		if signalingState == webrtc.SignalingStateHaveLocalOffer {
			// wait for the initial negotiation before resolving glare
			if p.needsAnswer && p.lastStableDescriptionRevision == 0 {
				p.queuedDescription = description
				p.lock.Unlock()
				return nil
			}
			p.descriptionRevision = description.Revision
			p.lock.Unlock()
			return p.handleGlare(description)
		}
		p.descriptionRevision = description.Revision
		p.lock.Unlock()
		_, err := p.answer(description)
		return err

	default:
		return nil
	}
}

func (p *PeerConnection) applyAnswer(description *types.Description) error {
	if err := p.setRemoteDescription(description); err != nil {
		p.publishEvent(eventGroupMedia, "set-remote-description-failed", types.EventLevelWarning, map[string]interface{}{
			"type":  string(description.Type),
			"error": err.Error(),
		})
		return types.ErrRemoteDescriptionFailed.WithCause(err)
	}

	p.lock.Lock()
	p.lastStableDescriptionRevision = description.Revision
	p.needsAnswer = false
	p.lock.Unlock()

	p.checkIceBox(description.SDP)
	if err := p.processQueuedDescription(); err != nil {
		return err
	}
	_, err := p.maybeReoffer()
	return err
}

// answer applies a remote offer and answers it. It reports whether a new
// local offer was made afterwards.
func (p *PeerConnection) answer(offer *types.Description) (bool, error) {
	if err := p.setRemoteDescription(offer); err != nil {
		p.publishEvent(eventGroupMedia, "set-remote-description-failed", types.EventLevelWarning, map[string]interface{}{
			"type":  string(offer.Type),
			"error": err.Error(),
		})
		return false, types.ErrRemoteDescriptionFailed.WithCause(err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		p.params.Logger.Warnw("could not create answer", err)
		return false, types.ErrLocalDescriptionFailed.WithCause(err)
	}
	if err := p.setLocalDescription(answer); err != nil {
		return false, err
	}
	prometheus.RecordNegotiation("answer")

	p.checkIceBox(offer.SDP)
	if err := p.processQueuedDescription(); err != nil {
		return false, err
	}
	return p.maybeReoffer()
}

func (p *PeerConnection) handleGlare(offer *types.Description) error {
	p.params.Logger.Debugw("glare detected, rolling back", "revision", offer.Revision)
	prometheus.RecordNegotiation("glare")

	p.lock.Lock()
	if p.isRestartingICE {
		// the restart offer is lost with the rollback
		p.isRestartingICE = false
		p.shouldRestartICE = true
	}
	p.lock.Unlock()

	if err := p.setLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
		return err
	}

	p.lock.Lock()
	p.needsAnswer = false
	p.lock.Unlock()

	didReoffer, err := p.answer(offer)
	if err != nil || didReoffer {
		return err
	}
	return p.createAndSetOffer()
}

func (p *PeerConnection) processQueuedDescription() error {
	p.lock.Lock()
	queued := p.queuedDescription
	p.queuedDescription = nil
	p.lock.Unlock()

	if queued == nil {
		return nil
	}
	return p.updateDescription(queued)
}

func (p *PeerConnection) maybeReoffer() (bool, error) {
	p.lock.RLock()
	shouldReoffer := p.shouldOffer
	senders := p.senderCountsLocked()
	p.lock.RUnlock()

	if local := p.pc.LocalDescription(); !shouldReoffer && local != nil {
		shouldReoffer = p.params.ReofferPolicy.ShouldReoffer(local.SDP, senders)
	}
	if !shouldReoffer {
		return false, nil
	}
	return true, p.createAndSetOffer()
}

func (p *PeerConnection) createAndSetOffer() error {
	var options *webrtc.OfferOptions
	p.lock.Lock()
	p.needsAnswer = true
	if p.shouldRestartICE {
		p.shouldRestartICE = false
		p.isRestartingICE = true
		options = &webrtc.OfferOptions{ICERestart: true}
	}
	p.lock.Unlock()

	offer, err := p.pc.CreateOffer(options)
	if err != nil {
		p.params.Logger.Warnw("could not create offer", err)
		p.publishEvent(eventGroupMedia, "create-offer-failed", types.EventLevelWarning, map[string]interface{}{
			"error": err.Error(),
		})
		return types.ErrLocalDescriptionFailed.WithCause(err)
	}

	p.lock.Lock()
	p.shouldOffer = false
	p.lock.Unlock()

	if err := p.setLocalDescription(offer); err != nil {
		return err
	}
	prometheus.RecordNegotiation("offer")
	return nil
}

func (p *PeerConnection) setLocalDescription(description webrtc.SessionDescription) error {
	if err := p.pc.SetLocalDescription(description); err != nil {
		p.params.Logger.Warnw("setLocalDescription failed", err, "type", description.Type.String())
		p.publishEvent(eventGroupMedia, "set-local-description-failed", types.EventLevelWarning, map[string]interface{}{
			"type":  description.Type.String(),
			"error": err.Error(),
		})
		if description.Type == webrtc.SDPTypeRollback {
			return types.ErrRemoteDescriptionFailed.WithCause(err)
		}
		return types.ErrLocalDescriptionFailed.WithCause(err)
	}
	if description.Type == webrtc.SDPTypeRollback {
		return nil
	}

	p.emitLock.Lock()
	defer p.emitLock.Unlock()

	p.lock.Lock()
	switch description.Type {
	case webrtc.SDPTypeOffer:
		p.descriptionRevision++
	case webrtc.SDPTypeAnswer:
		p.lastStableDescriptionRevision = p.descriptionRevision
	}
	if p.IsClosed() {
		// the close description stays current
		p.lock.Unlock()
		return nil
	}
	p.localDescription = &types.Description{
		Type: types.DescriptionTypeFromSDPType(description.Type),
		SDP:  description.SDP,
	}
	p.localCandidates = nil
	p.localCandidatesComplete = false
	p.localUfrag = getUfrag(description.SDP)
	state := p.getStateLocked()
	p.lock.Unlock()

	p.params.Handler.OnDescription(state)
	return nil
}

func (p *PeerConnection) setRemoteDescription(description *types.Description) error {
	if description.SDP != "" && p.pc.RemoteDescription() == nil {
		lite := isICELite(description.SDP)
		p.lock.Lock()
		p.isICELite = lite
		p.lock.Unlock()
	}

	if err := p.pc.SetRemoteDescription(description.SessionDescription()); err != nil {
		p.params.Logger.Warnw("setRemoteDescription failed", err, "type", string(description.Type))
		return err
	}

	if description.Type == types.DescriptionTypeAnswer {
		p.lock.Lock()
		if p.isRestartingICE {
			p.params.Logger.Debugw("ICE restart completed")
			p.isRestartingICE = false
		}
		p.lock.Unlock()
	}
	return nil
}

func (p *PeerConnection) checkIceBox(sdp string) {
	ufrag := getUfrag(sdp)
	if ufrag == "" {
		return
	}
	p.addICECandidates(p.iceBox.SetUfrag(ufrag))
}

func (p *PeerConnection) updateICE(state *types.ICEState) {
	p.addICECandidates(p.iceBox.Update(state))
}

func (p *PeerConnection) addICECandidates(candidates []webrtc.ICECandidateInit) {
	for _, candidate := range candidates {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			p.params.Logger.Warnw("failed to add remote ICE candidate", err, "candidate", candidate.Candidate)
			continue
		}
		p.params.Logger.Debugw("added remote ICE candidate", "type", remoteCandidateType(candidate))
	}
}

func remoteCandidateType(candidate webrtc.ICECandidateInit) string {
	c, err := ice.UnmarshalCandidate(strings.TrimPrefix(candidate.Candidate, "candidate:"))
	if err != nil {
		return "unknown"
	}
	return c.Type().String()
}

// ------------------------------------------------
// native events, all run on the ops queue

func (p *PeerConnection) handleICECandidate(c *webrtc.ICECandidate) {
	p.lock.Lock()
	if c != nil {
		p.didGenerateLocalCandidates = true
		stopTimer(&p.iceGatheringTimer)
		p.localCandidates = append(p.localCandidates, c.ToJSON())
	} else {
		p.localCandidatesComplete = true
	}
	isICELite := p.isICELite
	p.lock.Unlock()

	// an ice-lite remote only needs the end of candidates
	if isICELite && c != nil {
		return
	}
	if p.candidatesBatcher != nil && c != nil {
		p.candidatesBatcher(func() {
			p.opsQueue.Enqueue(p.emitCandidates)
		})
		return
	}
	p.emitCandidates()
}

func (p *PeerConnection) emitCandidates() {
	p.lock.Lock()
	candidates := []webrtc.ICECandidateInit{}
	if !p.isICELite {
		candidates = append(candidates, p.localCandidates...)
	}
	state := &types.PeerConnectionState{
		ID: p.id,
		ICE: &types.ICEState{
			Candidates: candidates,
			Revision:   p.localCandidatesRevision,
			Ufrag:      p.localUfrag,
			Complete:   p.localCandidatesComplete,
		},
	}
	p.localCandidatesRevision++
	p.lock.Unlock()

	p.params.Handler.OnCandidates(state)
}

func (p *PeerConnection) handleICEConnectionStateChange(state webrtc.ICEConnectionState) {
	connected := state == webrtc.ICEConnectionStateConnected || state == webrtc.ICEConnectionStateCompleted

	p.lock.Lock()
	last := p.lastICEConnectionState
	p.lastICEConnectionState = state
	if connected {
		stopTimer(&p.iceReconnectTimer)
		p.iceRestartBackOff.Reset()
	}
	restarting := p.shouldRestartICE || p.isRestartingICE
	p.lock.Unlock()

	p.params.Logger.Debugw("ICE connection state changed", "state", state.String())
	prometheus.RecordICEConnectionState(state.String())
	p.publishEvent(eventGroupICE, state.String(), types.EventLevelDebug, nil)

	switch {
	case last != webrtc.ICEConnectionStateFailed && state == webrtc.ICEConnectionStateFailed && !restarting:
		p.params.Logger.Warnw("ICE failed", nil)
		p.initiateICERestartBackOff("failed")
	case (last == webrtc.ICEConnectionStateDisconnected || last == webrtc.ICEConnectionStateFailed) && connected:
		p.params.Logger.Debugw("ICE reconnected")
	}

	switch state {
	case webrtc.ICEConnectionStateConnected:
		p.monitor.Start(func() {
			p.opsQueue.Enqueue(p.handleInactivity)
		})
	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateCompleted:
		// keep monitoring
	default:
		p.monitor.Stop()
	}

	p.params.Handler.OnICEConnectionStateChanged(state)
}

func (p *PeerConnection) handleInactivity() {
	p.monitor.Stop()

	p.lock.RLock()
	restarting := p.shouldRestartICE || p.isRestartingICE
	p.lock.RUnlock()
	if restarting {
		return
	}
	p.params.Logger.Warnw("ICE connection inactive", nil)
	p.initiateICERestartBackOff("inactive")
}

func (p *PeerConnection) handleICEGatheringStateChange(state webrtc.ICEGathererState) {
	p.params.Logger.Debugw("ICE gathering state changed", "state", state.String())
	if state != webrtc.ICEGathererStateGathering {
		return
	}

	timeout := p.params.Config.ICEGatheringTimeout
	if timeout <= 0 {
		timeout = DefaultICEGatheringTimeout
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	if p.didGenerateLocalCandidates || p.iceGatheringTimer != nil {
		return
	}
	p.iceGatheringTimer = time.AfterFunc(timeout, func() {
		p.opsQueue.Enqueue(p.handleICEGatheringTimeout)
	})
}

func (p *PeerConnection) handleICEGatheringTimeout() {
	p.lock.Lock()
	p.iceGatheringTimer = nil
	p.lock.Unlock()

	p.params.Logger.Warnw("ICE failed to gather any local candidates", nil)
	p.initiateICERestartBackOff("gathering-timeout")
}

func (p *PeerConnection) initiateICERestartBackOff(reason string) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.IsClosed() || p.iceRestartTimer != nil {
		return
	}
	delay := p.iceRestartBackOff.NextBackOff()
	p.params.Logger.Infow("scheduling ICE restart", "reason", reason, "delay", delay)
	prometheus.IncrementICERestart(reason)
	p.iceRestartTimer = time.AfterFunc(delay, func() {
		p.opsQueue.Enqueue(p.initiateICERestart)
	})
}

func (p *PeerConnection) initiateICERestart() {
	p.lock.Lock()
	p.iceRestartTimer = nil
	if p.IsClosed() {
		p.lock.Unlock()
		return
	}
	p.didGenerateLocalCandidates = false
	p.shouldRestartICE = true
	if p.iceReconnectTimer == nil {
		p.iceReconnectTimer = time.AfterFunc(sessionTimeout(p.params.Config), func() {
			p.opsQueue.Enqueue(p.handleICEReconnectTimeout)
		})
	}
	p.lock.Unlock()

	p.params.Logger.Infow("restarting ICE")
	go func() {
		if err := p.Offer(); err != nil {
			p.params.Logger.Warnw("offer failed during ICE restart", err)
		}
	}()
}

func (p *PeerConnection) handleICEReconnectTimeout() {
	p.params.Logger.Warnw("ICE did not reconnect within the session timeout, closing", nil)
	p.publishEvent(eventGroupICE, "reconnect-timeout", types.EventLevelWarning, nil)
	p.Close()
}

func (p *PeerConnection) publishEvent(group string, name string, level types.EventLevel, payload map[string]interface{}) {
	if p.params.Telemetry == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["pcID"] = p.id
	p.params.Telemetry.Publish(group, name, level, payload)
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
