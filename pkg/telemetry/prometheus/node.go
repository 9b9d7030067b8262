package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	signalNamespace string = "rsp"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
)

// Init creates and registers the collectors. Counters are only kept in
// process memory until Init is called.
func Init(clientID string) {
	initOnce.Do(func() {
		labels := prometheus.Labels{"client_id": clientID}
		initSignalingStats(labels)
		initNegotiationStats(labels)
		initialized.Store(true)
	})
}

// Stats is a point in time copy of the process-wide counters.
type Stats struct {
	MessagesIn        uint64
	MessagesOut       uint64
	BytesIn           uint64
	BytesOut          uint64
	Reconnects        uint64
	PublishRetries    uint64
	Negotiations      uint64
	Glares            uint64
	ICERestarts       uint64
	InsightsPublished uint64
	InsightsDropped   uint64
}

func GetStats() *Stats {
	return &Stats{
		MessagesIn:        messagesIn.Load(),
		MessagesOut:       messagesOut.Load(),
		BytesIn:           bytesIn.Load(),
		BytesOut:          bytesOut.Load(),
		Reconnects:        reconnects.Load(),
		PublishRetries:    publishRetries.Load(),
		Negotiations:      negotiations.Load(),
		Glares:            glares.Load(),
		ICERestarts:       iceRestarts.Load(),
		InsightsPublished: insightsPublished.Load(),
		InsightsDropped:   insightsDropped.Load(),
	}
}
