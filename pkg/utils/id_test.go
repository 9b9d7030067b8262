package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	protoutils "github.com/livekit/protocol/utils"
)

func TestNewGuid(t *testing.T) {
	a := protoutils.NewGuid(PeerConnectionPrefix)
	b := protoutils.NewGuid(PeerConnectionPrefix)
	require.True(t, strings.HasPrefix(a, PeerConnectionPrefix))
	require.NotEqual(t, a, b)
	require.Len(t, NewUUID(), 36)
}
