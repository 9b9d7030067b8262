package rtc

import "errors"

var (
	ErrPeerConnectionClosed  = errors.New("peer connection is closed")
	ErrNoActiveCandidatePair = errors.New("no active candidate pair")
	ErrTrackSenderExists     = errors.New("a sender for this track already exists")
	ErrTrackSenderNotFound   = errors.New("no sender for this track")
)
