package rtc

import (
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/signal-client/pkg/config"
	"github.com/livekit/signal-client/pkg/utils"
)

const (
	iceDisconnectedTimeout = 10 * time.Second
	iceFailedTimeout       = 25 * time.Second
	iceKeepaliveInterval   = 2 * time.Second
)

type WebRTCConfig struct {
	Configuration webrtc.Configuration
	SettingEngine webrtc.SettingEngine

	ActivityCheckPeriod time.Duration
	InactivityThreshold time.Duration
	ICEGatheringTimeout time.Duration
	ICERestartBackOff   utils.JitterBackOffConfig
	SessionTimeout      time.Duration
}

func NewWebRTCConfig(conf *config.Config) (*WebRTCConfig, error) {
	c := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		ICEServers:   ToICEServers(conf.RTC.ICEServers),
	}
	if conf.RTC.ICETransportPolicy == "relay" {
		c.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	s := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(logger.GetLogger().WithName("pion"), conf.Logging.PionLevel),
	}
	if conf.RTC.ICEPortRangeStart != 0 && conf.RTC.ICEPortRangeEnd != 0 {
		if err := s.SetEphemeralUDPPortRange(conf.RTC.ICEPortRangeStart, conf.RTC.ICEPortRangeEnd); err != nil {
			return nil, err
		}
	}
	s.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	return &WebRTCConfig{
		Configuration:       c,
		SettingEngine:       s,
		ActivityCheckPeriod: conf.RTC.ActivityCheckPeriod,
		InactivityThreshold: conf.RTC.InactivityThreshold,
		ICEGatheringTimeout: conf.RTC.ICEGatheringTimeout,
		ICERestartBackOff:   conf.RTC.ICERestartBackOff,
		SessionTimeout:      conf.Signaling.SessionTimeout,
	}, nil
}

func ToICEServers(entries []config.ICEServerEntry) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(entries))
	for _, e := range entries {
		server := utils.IceServerForURLs(e.URLs)
		if e.Username != "" || e.Credential != "" {
			server.Username = e.Username
			server.Credential = e.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	return servers
}
