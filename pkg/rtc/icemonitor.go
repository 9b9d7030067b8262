package rtc

import (
	"sync"
	"time"

	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/signal-client/pkg/rtc/types"
)

const (
	DefaultActivityCheckPeriod = time.Second
	DefaultInactivityThreshold = 3 * time.Second
)

type ActivityStatsProvider interface {
	ActiveCandidatePairActivity() (*types.CandidatePairActivity, error)
}

type IceActivityMonitorParams struct {
	Provider            ActivityStatsProvider
	ActivityCheckPeriod time.Duration
	InactivityThreshold time.Duration
	Logger              logger.Logger
}

// IceActivityMonitor detects a connection that stopped receiving without the
// ICE agent noticing.
type IceActivityMonitor struct {
	params IceActivityMonitorParams

	lock    sync.Mutex
	running *core.Fuse
}

func NewIceActivityMonitor(params IceActivityMonitorParams) *IceActivityMonitor {
	if params.ActivityCheckPeriod <= 0 {
		params.ActivityCheckPeriod = DefaultActivityCheckPeriod
	}
	if params.InactivityThreshold <= 0 {
		params.InactivityThreshold = DefaultInactivityThreshold
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &IceActivityMonitor{
		params: params,
	}
}

// Start begins polling. onInactive is called at most once per Start, from
// the polling goroutine. Calling Stop from onInactive is allowed.
func (m *IceActivityMonitor) Start(onInactive func()) {
	m.lock.Lock()
	if m.running != nil {
		m.running.Break()
	}
	run := &core.Fuse{}
	m.running = run
	m.lock.Unlock()

	go m.poll(run, onInactive)
}

func (m *IceActivityMonitor) Stop() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.running != nil {
		m.running.Break()
		m.running = nil
	}
}

func (m *IceActivityMonitor) IsRunning() bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.running != nil
}

func (m *IceActivityMonitor) poll(run *core.Fuse, onInactive func()) {
	ticker := time.NewTicker(m.params.ActivityCheckPeriod)
	defer ticker.Stop()

	var lastActivity *types.CandidatePairActivity
	for {
		select {
		case <-run.Watch():
			return
		case <-ticker.C:
		}

		activity, err := m.params.Provider.ActiveCandidatePairActivity()
		if err != nil || activity == nil {
			continue
		}
		if activity.Timestamp.IsZero() {
			activity.Timestamp = time.Now()
		}

		if lastActivity == nil || lastActivity.BytesReceived != activity.BytesReceived {
			lastActivity = activity
			continue
		}

		if activity.Timestamp.Sub(lastActivity.Timestamp) < m.params.InactivityThreshold {
			continue
		}

		m.lock.Lock()
		current := m.running == run && !run.IsBroken()
		m.lock.Unlock()
		if !current {
			return
		}

		m.params.Logger.Debugw("ICE connection inactive",
			"bytesReceived", activity.BytesReceived,
			"inactiveFor", activity.Timestamp.Sub(lastActivity.Timestamp),
		)
		onInactive()
		return
	}
}
