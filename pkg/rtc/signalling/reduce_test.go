package signalling

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/signal-client/pkg/rtc/types"
)

func description(revision int) *types.Description {
	return &types.Description{Type: types.DescriptionTypeOffer, Revision: revision, SDP: "v=0"}
}

func ice(revision int) *types.ICEState {
	return &types.ICEState{Revision: revision, Ufrag: "u"}
}

func TestReduceUpdates(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		reduced := ReduceUpdates(nil)
		require.Nil(t, reduced.Participant)
		require.Nil(t, reduced.PeerConnections)
	})

	t.Run("highest revisions win per peer connection", func(t *testing.T) {
		reduced := ReduceUpdates([]*Update{
			{
				Participant: &types.ParticipantState{Revision: 3},
				PeerConnections: []*types.PeerConnectionState{
					{ID: "PC_a", Description: description(1), ICE: ice(4)},
				},
			},
			{
				Participant: &types.ParticipantState{Revision: 2},
				PeerConnections: []*types.PeerConnectionState{
					{ID: "PC_b", ICE: ice(1)},
					{ID: "PC_a", Description: description(2), ICE: ice(3)},
				},
			},
			{
				PeerConnections: []*types.PeerConnectionState{
					{ID: "PC_b", Description: description(5)},
				},
			},
		})

		require.Equal(t, 3, reduced.Participant.Revision)
		require.Len(t, reduced.PeerConnections, 2)
		require.Equal(t, "PC_a", reduced.PeerConnections[0].ID)
		require.Equal(t, 2, reduced.PeerConnections[0].Description.Revision)
		require.Equal(t, 4, reduced.PeerConnections[0].ICE.Revision)
		require.Equal(t, "PC_b", reduced.PeerConnections[1].ID)
		require.Equal(t, 5, reduced.PeerConnections[1].Description.Revision)
		require.Equal(t, 1, reduced.PeerConnections[1].ICE.Revision)
	})

	t.Run("equal revisions keep the first", func(t *testing.T) {
		first := &types.Description{Type: types.DescriptionTypeOffer, Revision: 2, SDP: "first"}
		second := &types.Description{Type: types.DescriptionTypeAnswer, Revision: 2, SDP: "second"}
		reduced := ReduceUpdates([]*Update{
			{PeerConnections: []*types.PeerConnectionState{{ID: "PC_a", Description: first}}},
			{PeerConnections: []*types.PeerConnectionState{{ID: "PC_a", Description: second}}},
		})
		require.Equal(t, "first", reduced.PeerConnections[0].Description.SDP)
	})

	t.Run("inputs are not mutated", func(t *testing.T) {
		original := &types.PeerConnectionState{ID: "PC_a", Description: description(1)}
		ReduceUpdates([]*Update{
			{PeerConnections: []*types.PeerConnectionState{original}},
			{PeerConnections: []*types.PeerConnectionState{{ID: "PC_a", Description: description(2)}}},
		})
		require.Equal(t, 1, original.Description.Revision)
	})
}
