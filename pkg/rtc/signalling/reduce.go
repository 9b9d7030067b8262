package signalling

import (
	"github.com/elliotchance/orderedmap/v2"

	"github.com/livekit/signal-client/pkg/rtc/types"
)

// ReduceUpdates folds queued updates into one. The participant state and,
// per peer connection id, the description and ice blocks with the highest
// revision win. Equal revisions keep the earlier value. Peer connections keep
// the order in which they were first seen.
func ReduceUpdates(updates []*Update) *Update {
	reduced := &Update{}
	peerConnections := orderedmap.NewOrderedMap[string, *types.PeerConnectionState]()
	seenPeerConnections := false

	for _, update := range updates {
		if update == nil {
			continue
		}
		if update.Participant != nil {
			if reduced.Participant == nil || update.Participant.Revision > reduced.Participant.Revision {
				reduced.Participant = update.Participant
			}
		}
		if update.PeerConnections != nil {
			seenPeerConnections = true
		}
		for _, pc := range update.PeerConnections {
			if pc == nil {
				continue
			}
			reducePeerConnection(peerConnections, pc)
		}
	}

	if seenPeerConnections {
		reduced.PeerConnections = make([]*types.PeerConnectionState, 0, peerConnections.Len())
		for el := peerConnections.Front(); el != nil; el = el.Next() {
			reduced.PeerConnections = append(reduced.PeerConnections, el.Value)
		}
	}
	return reduced
}

func reducePeerConnection(peerConnections *orderedmap.OrderedMap[string, *types.PeerConnectionState], update *types.PeerConnectionState) {
	reduced, ok := peerConnections.Get(update.ID)
	if !ok {
		peerConnections.Set(update.ID, update.Clone())
		return
	}

	if update.Description != nil {
		if reduced.Description == nil || update.Description.Revision > reduced.Description.Revision {
			d := *update.Description
			reduced.Description = &d
		}
	}
	if update.ICE != nil {
		if reduced.ICE == nil || update.ICE.Revision > reduced.ICE.Revision {
			reduced.ICE = update.ICE.Clone()
		}
	}
}
