package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"

	"github.com/livekit/signal-client/pkg/rtc/types"
)

// NewNativePeerConnectionFactory returns a factory creating pion peer
// connections with the given codecs enabled (all when empty).
func NewNativePeerConnectionFactory(conf *WebRTCConfig, enabledCodecs []string) types.NativePeerConnectionFactory {
	return func(configuration webrtc.Configuration) (types.NativePeerConnection, error) {
		me, err := createMediaEngine(enabledCodecs)
		if err != nil {
			return nil, errors.Wrap(err, "could not create media engine")
		}

		ir := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
			return nil, errors.Wrap(err, "could not register interceptors")
		}

		api := webrtc.NewAPI(
			webrtc.WithMediaEngine(me),
			webrtc.WithSettingEngine(conf.SettingEngine),
			webrtc.WithInterceptorRegistry(ir),
		)
		pc, err := api.NewPeerConnection(configuration)
		if err != nil {
			return nil, err
		}
		return pc, nil
	}
}
