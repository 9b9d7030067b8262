package types

import (
	"github.com/pion/webrtc/v3"
)

type DescriptionType string

const (
	DescriptionTypeOffer       DescriptionType = "offer"
	DescriptionTypeAnswer      DescriptionType = "answer"
	DescriptionTypePrAnswer    DescriptionType = "pranswer"
	DescriptionTypeRollback    DescriptionType = "rollback"
	DescriptionTypeClose       DescriptionType = "close"
	DescriptionTypeCreateOffer DescriptionType = "create-offer"
)

func (t DescriptionType) SDPType() webrtc.SDPType {
	switch t {
	case DescriptionTypeOffer:
		return webrtc.SDPTypeOffer
	case DescriptionTypeAnswer:
		return webrtc.SDPTypeAnswer
	case DescriptionTypePrAnswer:
		return webrtc.SDPTypePranswer
	case DescriptionTypeRollback:
		return webrtc.SDPTypeRollback
	default:
		return webrtc.SDPType(0)
	}
}

func DescriptionTypeFromSDPType(t webrtc.SDPType) DescriptionType {
	switch t {
	case webrtc.SDPTypeOffer:
		return DescriptionTypeOffer
	case webrtc.SDPTypeAnswer:
		return DescriptionTypeAnswer
	case webrtc.SDPTypePranswer:
		return DescriptionTypePrAnswer
	case webrtc.SDPTypeRollback:
		return DescriptionTypeRollback
	default:
		return ""
	}
}

type Description struct {
	Type     DescriptionType `json:"type"`
	Revision int             `json:"revision"`
	SDP      string          `json:"sdp,omitempty"`
}

func (d *Description) SessionDescription() webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: d.Type.SDPType(),
		SDP:  d.SDP,
	}
}

// PeerConnectionState is the per peer connection block of connect, sync and
// update messages.
type PeerConnectionState struct {
	ID          string       `json:"id"`
	Description *Description `json:"description,omitempty"`
	ICE         *ICEState    `json:"ice,omitempty"`
}

func (s *PeerConnectionState) Clone() *PeerConnectionState {
	if s == nil {
		return nil
	}
	clone := &PeerConnectionState{ID: s.ID, ICE: s.ICE.Clone()}
	if s.Description != nil {
		d := *s.Description
		clone.Description = &d
	}
	return clone
}

type TrackState struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Name     string `json:"name,omitempty"`
	Enabled  bool   `json:"enabled"`
	Priority string `json:"priority,omitempty"`
}

type ParticipantState struct {
	Revision int          `json:"revision"`
	Identity string       `json:"identity,omitempty"`
	SID      string       `json:"sid,omitempty"`
	Tracks   []TrackState `json:"tracks"`
}

// LocalParticipant is the local participant object model.
type LocalParticipant interface {
	GetState() *ParticipantState
	TrackSenders() []webrtc.TrackLocal
}
