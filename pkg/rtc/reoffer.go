package rtc

import (
	"github.com/pion/webrtc/v3"
)

// ReofferPolicy decides, right after a local answer was applied, whether an
// extra local offer is needed to reconcile local senders with the negotiated
// media sections.
type ReofferPolicy interface {
	ShouldReoffer(localSDP string, senders map[webrtc.RTPCodecType]int) bool
}

// SenderCountReofferPolicy re-offers when the local description has fewer
// send-capable sections of a kind than there are local senders of that kind.
type SenderCountReofferPolicy struct{}

func (SenderCountReofferPolicy) ShouldReoffer(localSDP string, senders map[webrtc.RTPCodecType]int) bool {
	if localSDP == "" {
		return false
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if countMediaSections(localSDP, kind.String(), sendDirections...) < senders[kind] {
			return true
		}
	}
	return false
}

type NeverReofferPolicy struct{}

func (NeverReofferPolicy) ShouldReoffer(string, map[webrtc.RTPCodecType]int) bool {
	return false
}
