package prometheus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountersWithoutInit(t *testing.T) {
	before := GetStats()

	IncrementMessage(Incoming, "update", 100)
	IncrementMessage(Outgoing, "connect", 50)
	RecordNegotiation("offer")
	RecordNegotiation("glare")
	IncrementICERestart("inactive")
	IncrementReconnect("attempt")
	IncrementPublishAttempt("retry")
	IncrementInsightsEvent(true)
	IncrementInsightsEvent(false)
	SetConnectionState("connected", []string{"connecting", "connected"})

	after := GetStats()
	require.Equal(t, before.MessagesIn+1, after.MessagesIn)
	require.Equal(t, before.BytesIn+100, after.BytesIn)
	require.Equal(t, before.MessagesOut+1, after.MessagesOut)
	require.Equal(t, before.BytesOut+50, after.BytesOut)
	require.Equal(t, before.Negotiations+1, after.Negotiations)
	require.Equal(t, before.Glares+1, after.Glares)
	require.Equal(t, before.ICERestarts+1, after.ICERestarts)
	require.Equal(t, before.Reconnects+1, after.Reconnects)
	require.Equal(t, before.PublishRetries+1, after.PublishRetries)
	require.Equal(t, before.InsightsPublished+1, after.InsightsPublished)
	require.Equal(t, before.InsightsDropped+1, after.InsightsDropped)
}

func TestInit(t *testing.T) {
	Init("test-client")
	// second call is a no-op and must not panic on duplicate registration
	Init("test-client")

	IncrementMessage(Incoming, "synced", 10)
	RecordNegotiation("answer")
	RecordICEConnectionState("connected")
	SetConnectionState("syncing", []string{"connected", "syncing"})
}
