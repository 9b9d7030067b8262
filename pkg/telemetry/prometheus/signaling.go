package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

var (
	messagesIn        atomic.Uint64
	messagesOut       atomic.Uint64
	bytesIn           atomic.Uint64
	bytesOut          atomic.Uint64
	reconnects        atomic.Uint64
	publishRetries    atomic.Uint64
	insightsPublished atomic.Uint64
	insightsDropped   atomic.Uint64

	promMessageCounter   *prometheus.CounterVec
	promMessageBytes     *prometheus.CounterVec
	promReconnectCounter *prometheus.CounterVec
	promPublishCounter   *prometheus.CounterVec
	promInsightsCounter  *prometheus.CounterVec
	promConnectionState  *prometheus.GaugeVec
)

func initSignalingStats(labels prometheus.Labels) {
	promMessageCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   signalNamespace,
		Subsystem:   "signaling",
		Name:        "messages",
		ConstLabels: labels,
	}, []string{"direction", "type"})
	promMessageBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   signalNamespace,
		Subsystem:   "signaling",
		Name:        "bytes",
		ConstLabels: labels,
	}, []string{"direction"})
	promReconnectCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   signalNamespace,
		Subsystem:   "signaling",
		Name:        "reconnects",
		ConstLabels: labels,
	}, []string{"result"})
	promPublishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   signalNamespace,
		Subsystem:   "signaling",
		Name:        "publish_attempts",
		ConstLabels: labels,
	}, []string{"status"})
	promInsightsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   signalNamespace,
		Subsystem:   "insights",
		Name:        "events",
		ConstLabels: labels,
	}, []string{"status"})
	promConnectionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   signalNamespace,
		Subsystem:   "signaling",
		Name:        "connection_state",
		ConstLabels: labels,
		Help:        "1 for the current state of the signaling connection, 0 otherwise.",
	}, []string{"state"})

	prometheus.MustRegister(promMessageCounter)
	prometheus.MustRegister(promMessageBytes)
	prometheus.MustRegister(promReconnectCounter)
	prometheus.MustRegister(promPublishCounter)
	prometheus.MustRegister(promInsightsCounter)
	prometheus.MustRegister(promConnectionState)
}

func IncrementMessage(direction Direction, messageType string, size int) {
	switch direction {
	case Incoming:
		messagesIn.Inc()
		bytesIn.Add(uint64(size))
	case Outgoing:
		messagesOut.Inc()
		bytesOut.Add(uint64(size))
	}

	if !initialized.Load() {
		return
	}
	promMessageCounter.WithLabelValues(string(direction), messageType).Inc()
	promMessageBytes.WithLabelValues(string(direction)).Add(float64(size))
}

func IncrementReconnect(result string) {
	reconnects.Inc()
	if initialized.Load() {
		promReconnectCounter.WithLabelValues(result).Inc()
	}
}

func IncrementPublishAttempt(status string) {
	if status == "retry" {
		publishRetries.Inc()
	}
	if initialized.Load() {
		promPublishCounter.WithLabelValues(status).Inc()
	}
}

func IncrementInsightsEvent(published bool) {
	status := "published"
	if published {
		insightsPublished.Inc()
	} else {
		insightsDropped.Inc()
		status = "dropped"
	}
	if initialized.Load() {
		promInsightsCounter.WithLabelValues(status).Inc()
	}
}

// SetConnectionState marks state as the current signaling connection state.
func SetConnectionState(state string, all []string) {
	if !initialized.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		promConnectionState.WithLabelValues(s).Set(v)
	}
}
