package rtc

import (
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/livekit/signal-client/pkg/rtc/types"
)

// activeCandidatePair returns the nominated, succeeded pair of the report, or
// the succeeded pair that moved the most bytes when none is nominated.
func activeCandidatePair(report webrtc.StatsReport) (webrtc.ICECandidatePairStats, bool) {
	var (
		best  webrtc.ICECandidatePairStats
		found bool
	)
	for _, s := range report {
		pair, ok := s.(webrtc.ICECandidatePairStats)
		if !ok || pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		if pair.Nominated {
			return pair, true
		}
		if !found || pair.BytesReceived+pair.BytesSent > best.BytesReceived+best.BytesSent {
			best = pair
			found = true
		}
	}
	return best, found
}

func candidateType(report webrtc.StatsReport, id string) string {
	if c, ok := report[id].(webrtc.ICECandidateStats); ok {
		return c.CandidateType.String()
	}
	return ""
}

func candidatePairActivity(report webrtc.StatsReport) (*types.CandidatePairActivity, error) {
	pair, ok := activeCandidatePair(report)
	if !ok {
		return nil, ErrNoActiveCandidatePair
	}
	ts := time.Now()
	if pair.Timestamp > 0 {
		ts = pair.Timestamp.Time()
	}
	return &types.CandidatePairActivity{
		Timestamp:     ts,
		BytesReceived: pair.BytesReceived,
		BytesSent:     pair.BytesSent,
		LocalType:     candidateType(report, pair.LocalCandidateID),
		RemoteType:    candidateType(report, pair.RemoteCandidateID),
	}, nil
}

func aggregateStats(id string, iceState webrtc.ICEConnectionState, report webrtc.StatsReport) *types.PeerConnectionStats {
	stats := &types.PeerConnectionStats{
		PeerConnectionID:   id,
		Timestamp:          time.Now(),
		ICEConnectionState: iceState.String(),
	}
	if activity, err := candidatePairActivity(report); err == nil {
		stats.ActivePair = activity
	}
	for _, s := range report {
		switch st := s.(type) {
		case webrtc.InboundRTPStreamStats:
			stats.InboundTracks++
			stats.BytesReceived += st.BytesReceived
			stats.PacketsReceived += st.PacketsReceived
		case webrtc.OutboundRTPStreamStats:
			stats.OutboundTracks++
			stats.BytesSent += st.BytesSent
			stats.PacketsSent += st.PacketsSent
		}
	}
	return stats
}
