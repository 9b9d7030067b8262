package rtc

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

func TestSenderCountReofferPolicy(t *testing.T) {
	policy := SenderCountReofferPolicy{}

	// one audio and one video send-capable section
	require.False(t, policy.ShouldReoffer(testOfferSDP, map[webrtc.RTPCodecType]int{
		webrtc.RTPCodecTypeAudio: 1,
		webrtc.RTPCodecTypeVideo: 1,
	}))
	require.True(t, policy.ShouldReoffer(testOfferSDP, map[webrtc.RTPCodecType]int{
		webrtc.RTPCodecTypeVideo: 2,
	}))
	require.True(t, policy.ShouldReoffer(testOfferSDP, map[webrtc.RTPCodecType]int{
		webrtc.RTPCodecTypeAudio: 2,
	}))
	require.False(t, policy.ShouldReoffer("", map[webrtc.RTPCodecType]int{
		webrtc.RTPCodecTypeAudio: 2,
	}))

	require.False(t, NeverReofferPolicy{}.ShouldReoffer(testOfferSDP, map[webrtc.RTPCodecType]int{
		webrtc.RTPCodecTypeVideo: 5,
	}))
}
