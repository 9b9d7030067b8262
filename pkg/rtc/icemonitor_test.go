package rtc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/livekit/signal-client/pkg/rtc/types"
)

type fakeActivityProvider struct {
	lock     sync.Mutex
	bytes    uint64
	growing  bool
	failing  bool
	noPair   bool
	requests int
}

func (f *fakeActivityProvider) ActiveCandidatePairActivity() (*types.CandidatePairActivity, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.requests++
	if f.failing {
		return nil, errors.New("stats unavailable")
	}
	if f.noPair {
		return nil, nil
	}
	if f.growing {
		f.bytes += 100
	}
	return &types.CandidatePairActivity{
		Timestamp:     time.Now(),
		BytesReceived: f.bytes,
	}, nil
}

func (f *fakeActivityProvider) set(fn func(f *fakeActivityProvider)) {
	f.lock.Lock()
	defer f.lock.Unlock()
	fn(f)
}

func newTestMonitor(p ActivityStatsProvider) *IceActivityMonitor {
	return NewIceActivityMonitor(IceActivityMonitorParams{
		Provider:            p,
		ActivityCheckPeriod: 10 * time.Millisecond,
		InactivityThreshold: 50 * time.Millisecond,
	})
}

func TestIceActivityMonitorFiresOnce(t *testing.T) {
	provider := &fakeActivityProvider{bytes: 1000}
	m := newTestMonitor(provider)

	fired := atomic.NewInt32(0)
	start := time.Now()
	var firedAt atomic.Time
	m.Start(func() {
		firedAt.Store(time.Now())
		fired.Inc()
	})
	defer m.Stop()

	time.Sleep(300 * time.Millisecond)
	require.EqualValues(t, 1, fired.Load())
	require.GreaterOrEqual(t, firedAt.Load().Sub(start), 50*time.Millisecond)
}

func TestIceActivityMonitorActivitySuppresses(t *testing.T) {
	provider := &fakeActivityProvider{growing: true}
	m := newTestMonitor(provider)

	fired := atomic.NewBool(false)
	m.Start(func() { fired.Store(true) })
	time.Sleep(200 * time.Millisecond)
	require.False(t, fired.Load())

	// activity stops
	provider.set(func(f *fakeActivityProvider) { f.growing = false })
	time.Sleep(200 * time.Millisecond)
	require.True(t, fired.Load())
	m.Stop()
}

func TestIceActivityMonitorSwallowsFailedTicks(t *testing.T) {
	provider := &fakeActivityProvider{failing: true}
	m := newTestMonitor(provider)

	fired := atomic.NewBool(false)
	m.Start(func() { fired.Store(true) })
	time.Sleep(150 * time.Millisecond)
	require.False(t, fired.Load())

	provider.set(func(f *fakeActivityProvider) {
		f.failing = false
		f.noPair = true
	})
	time.Sleep(150 * time.Millisecond)
	require.False(t, fired.Load())
	m.Stop()
}

func TestIceActivityMonitorStop(t *testing.T) {
	provider := &fakeActivityProvider{bytes: 1}
	m := newTestMonitor(provider)

	fired := atomic.NewInt32(0)
	m.Start(func() { fired.Inc() })
	m.Stop()
	m.Stop()
	require.False(t, m.IsRunning())

	time.Sleep(150 * time.Millisecond)
	require.EqualValues(t, 0, fired.Load())

	// restart fires again, and stopping from the callback is fine
	m.Start(func() {
		fired.Inc()
		m.Stop()
	})
	time.Sleep(200 * time.Millisecond)
	require.EqualValues(t, 1, fired.Load())
	require.False(t, m.IsRunning())
}
