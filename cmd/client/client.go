package main

import (
	"context"
	"net/http"

	"github.com/google/wire"
	"github.com/pion/webrtc/v3"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/signal-client/pkg/config"
	"github.com/livekit/signal-client/pkg/iceserver"
	"github.com/livekit/signal-client/pkg/room"
	"github.com/livekit/signal-client/pkg/rtc"
	"github.com/livekit/signal-client/pkg/rtc/signalling"
	"github.com/livekit/signal-client/pkg/rtc/types"
	"github.com/livekit/signal-client/pkg/telemetry"
)

const sdkVersion = "0.1.0"

// AccessToken authenticates against the signaling, configuration and
// insights endpoints.
type AccessToken string

// Identity names the local participant.
type Identity string

var ClientSet = wire.NewSet(
	rtc.NewWebRTCConfig,
	newNativeFactory,
	newICEServerCache,
	newICEServerSource,
	newEventSink,
	newUpdatePublisher,
	newLocalParticipant,
	NewClient,
)

type Client struct {
	conf        *config.Config
	token       AccessToken
	webrtcConf  *rtc.WebRTCConfig
	factory     types.NativePeerConnectionFactory
	iceSource   *iceserver.NTSSource
	sink        types.EventSink
	publisher   signalling.UpdatePublisher
	participant types.LocalParticipant
}

func NewClient(
	conf *config.Config,
	token AccessToken,
	webrtcConf *rtc.WebRTCConfig,
	factory types.NativePeerConnectionFactory,
	iceSource *iceserver.NTSSource,
	sink types.EventSink,
	publisher signalling.UpdatePublisher,
	participant types.LocalParticipant,
) *Client {
	return &Client{
		conf:        conf,
		token:       token,
		webrtcConf:  webrtcConf,
		factory:     factory,
		iceSource:   iceSource,
		sink:        sink,
		publisher:   publisher,
		participant: participant,
	}
}

// Join connects to the configured room.
func (c *Client) Join(ctx context.Context, handler room.Handler) (*room.Room, error) {
	params := room.Params{
		URL:          c.conf.Signaling.URL,
		Name:         c.conf.Signaling.Name,
		Token:        string(c.token),
		UserAgent:    c.conf.Signaling.UserAgent,
		SDKVersion:   sdkVersion,
		Participant:  c.participant,
		ICEServers:   types.FromWebRTCICEServers(c.webrtcConf.Configuration.ICEServers),
		WebRTCConfig: c.webrtcConf,
		Factory:      c.factory,
		Signaling:    c.conf.Signaling,
		Publisher:    c.publisher,
		Handler:      handler,
		Telemetry:    c.sink,
	}
	if c.iceSource != nil && len(params.ICEServers) == 0 {
		params.ICEServerSource = c.iceSource.Start
	}

	r, err := room.Connect(ctx, params)
	if err != nil {
		c.Close()
		return nil, err
	}
	return r, nil
}

func (c *Client) ICEServerSource() *iceserver.NTSSource {
	return c.iceSource
}

func (c *Client) Close() {
	if c.iceSource != nil {
		c.iceSource.Stop()
	}
	if sink, ok := c.sink.(types.DisconnectableSink); ok {
		sink.Disconnect()
	}
}

// ------------------------------------------------
// providers

func newNativeFactory(conf *rtc.WebRTCConfig) types.NativePeerConnectionFactory {
	return rtc.NewNativePeerConnectionFactory(conf, nil)
}

func newICEServerCache(conf *config.Config) *iceserver.Cache {
	return iceserver.NewCache(conf.ICEServers.CacheSize, conf.ICEServers.DefaultTTL)
}

// newICEServerSource returns nil when no configuration endpoint is set.
func newICEServerSource(conf *config.Config, token AccessToken, cache *iceserver.Cache) *iceserver.NTSSource {
	if conf.ICEServers.Endpoint == "" {
		return nil
	}

	var defaults []types.ICEServer
	if len(conf.ICEServers.Defaults) > 0 {
		defaults = []types.ICEServer{{URLs: conf.ICEServers.Defaults}}
	}
	return iceserver.NewNTSSource(iceserver.NTSSourceParams{
		Endpoint:       conf.ICEServers.Endpoint,
		Token:          string(token),
		SDKVersion:     sdkVersion,
		Timeout:        conf.ICEServers.Timeout,
		DefaultTTL:     conf.ICEServers.DefaultTTL,
		AbortOnTimeout: conf.ICEServers.AbortOnTimeout,
		DefaultServers: defaults,
		Cache:          cache,
		Client:         &http.Client{},
		Logger:         logger.GetLogger(),
	})
}

func newEventSink(conf *config.Config, token AccessToken) types.EventSink {
	if !conf.Insights.Enabled || conf.Insights.URL == "" {
		return telemetry.NullSink{}
	}
	return telemetry.NewInsightsPublisher(telemetry.InsightsPublisherParams{
		URL:                  conf.Insights.URL,
		Token:                string(token),
		SDKName:              signalling.SDKName,
		SDKVersion:           sdkVersion,
		UserAgent:            conf.Signaling.UserAgent,
		MaxReconnectAttempts: conf.Insights.MaxReconnectAttempts,
		ReconnectInterval:    conf.Insights.ReconnectInterval,
		MaxQueuedEvents:      conf.Insights.MaxQueuedEvents,
		Logger:               logger.GetLogger(),
	})
}

// newUpdatePublisher returns nil when updates go over the signaling
// connection.
func newUpdatePublisher(conf *config.Config, token AccessToken) signalling.UpdatePublisher {
	if conf.Signaling.PublishURL == "" {
		return nil
	}
	return signalling.NewHTTPPublisher(signalling.HTTPPublisherParams{
		URL:         conf.Signaling.PublishURL,
		Token:       string(token),
		MaxAttempts: conf.Signaling.MaxPublishAttempts,
		BackOff:     conf.Signaling.PublishBackOff,
		Logger:      logger.GetLogger(),
	})
}

func newLocalParticipant(identity Identity) types.LocalParticipant {
	return &localParticipant{
		state: &types.ParticipantState{
			Revision: 1,
			Identity: string(identity),
			Tracks:   []types.TrackState{},
		},
	}
}

// localParticipant publishes no media.
type localParticipant struct {
	state *types.ParticipantState
}

func (p *localParticipant) GetState() *types.ParticipantState {
	return p.state
}

func (p *localParticipant) TrackSenders() []webrtc.TrackLocal {
	return nil
}
