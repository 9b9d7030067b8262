package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

var (
	negotiations atomic.Uint64
	glares       atomic.Uint64
	iceRestarts  atomic.Uint64

	promNegotiationCounter *prometheus.CounterVec
	promICERestartCounter  *prometheus.CounterVec
	promICEStateCounter    *prometheus.CounterVec
)

func initNegotiationStats(labels prometheus.Labels) {
	promNegotiationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   signalNamespace,
		Subsystem:   "negotiation",
		Name:        "events",
		ConstLabels: labels,
	}, []string{"event"})
	promICERestartCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   signalNamespace,
		Subsystem:   "ice",
		Name:        "restarts",
		ConstLabels: labels,
	}, []string{"reason"})
	promICEStateCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   signalNamespace,
		Subsystem:   "ice",
		Name:        "connection_state_changes",
		ConstLabels: labels,
	}, []string{"state"})

	prometheus.MustRegister(promNegotiationCounter)
	prometheus.MustRegister(promICERestartCounter)
	prometheus.MustRegister(promICEStateCounter)
}

// RecordNegotiation counts a negotiation step, e.g. "offer", "answer", "glare".
func RecordNegotiation(event string) {
	switch event {
	case "glare":
		glares.Inc()
	case "offer", "answer":
		negotiations.Inc()
	}
	if initialized.Load() {
		promNegotiationCounter.WithLabelValues(event).Inc()
	}
}

func IncrementICERestart(reason string) {
	iceRestarts.Inc()
	if initialized.Load() {
		promICERestartCounter.WithLabelValues(reason).Inc()
	}
}

func RecordICEConnectionState(state string) {
	if initialized.Load() {
		promICEStateCounter.WithLabelValues(state).Inc()
	}
}
