package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/signal-client/pkg/config"
	"github.com/livekit/signal-client/pkg/rtc/signalling"
	"github.com/livekit/signal-client/pkg/rtc/types"
	"github.com/livekit/signal-client/pkg/telemetry"
)

func testConfig(t *testing.T, body string) *config.Config {
	conf, err := config.NewConfig(body, true, nil, nil)
	require.NoError(t, err)
	return conf
}

func TestInitializeClient_Defaults(t *testing.T) {
	conf := testConfig(t, "")

	client, err := InitializeClient(conf, "token", "alice")
	require.NoError(t, err)
	defer client.Close()

	require.Nil(t, client.ICEServerSource())
	require.Nil(t, client.publisher)
	require.IsType(t, telemetry.NullSink{}, client.sink)
	require.Equal(t, "alice", client.participant.GetState().Identity)
	require.Empty(t, client.participant.TrackSenders())
}

func TestInitializeClient_Endpoints(t *testing.T) {
	conf := testConfig(t, `
signaling:
  publish_url: https://signal.example.com/publish
ice_servers:
  endpoint: https://nts.example.com/config
insights:
  enabled: true
  url: wss://insights.example.com
`)

	client, err := InitializeClient(conf, "token", "bob")
	require.NoError(t, err)
	defer client.Close()

	require.NotNil(t, client.ICEServerSource())
	require.IsType(t, &signalling.HTTPPublisher{}, client.publisher)
	require.IsType(t, &telemetry.InsightsPublisher{}, client.sink)
}

func TestInitializeClient_InsightsNeedURL(t *testing.T) {
	conf := testConfig(t, "insights:\n  enabled: true\n")

	client, err := InitializeClient(conf, "token", "carol")
	require.NoError(t, err)
	defer client.Close()

	require.IsType(t, telemetry.NullSink{}, client.sink)
}

func TestRenderICEServers(t *testing.T) {
	var buf bytes.Buffer
	renderICEServers(&buf, []types.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "user", Credential: "secret"},
	})

	out := buf.String()
	require.Contains(t, out, "stun:stun.example.com:3478")
	require.Contains(t, out, "turn:turn.example.com:3478")
	require.Contains(t, out, "user")
	require.NotContains(t, out, "secret")
}
