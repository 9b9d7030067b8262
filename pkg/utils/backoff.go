package utils

import (
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/thoas/go-funk"
)

type JitterBackOffConfig struct {
	Base   time.Duration `yaml:"base,omitempty"`
	Factor float64       `yaml:"factor,omitempty"`
	Max    time.Duration `yaml:"max,omitempty"`
	Jitter time.Duration `yaml:"jitter,omitempty"`
}

// JitterBackOff yields Base * Factor^(attempt-1), capped at Max, plus a
// uniformly distributed offset in [-Jitter, +Jitter].
type JitterBackOff struct {
	config JitterBackOffConfig

	lock    sync.Mutex
	attempt int
}

var _ backoff.BackOff = (*JitterBackOff)(nil)

func NewJitterBackOff(config JitterBackOffConfig) *JitterBackOff {
	if config.Factor <= 0 {
		config.Factor = 2
	}
	return &JitterBackOff{config: config}
}

func (b *JitterBackOff) NextBackOff() time.Duration {
	b.lock.Lock()
	b.attempt++
	attempt := b.attempt
	b.lock.Unlock()

	return b.delayFor(attempt) + b.jitter()
}

func (b *JitterBackOff) Reset() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.attempt = 0
}

func (b *JitterBackOff) Attempt() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.attempt
}

func (b *JitterBackOff) delayFor(attempt int) time.Duration {
	d := float64(b.config.Base) * math.Pow(b.config.Factor, float64(attempt-1))
	if b.config.Max > 0 && d > float64(b.config.Max) {
		return b.config.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (b *JitterBackOff) jitter() time.Duration {
	ms := int(b.config.Jitter / time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return time.Duration(funk.RandomInt(-ms, ms+1)) * time.Millisecond
}

// ----------------------------------

// NonNegative clamps jittered delays at zero.
func NonNegative(b backoff.BackOff) backoff.BackOff {
	return &nonNegative{BackOff: b}
}

type nonNegative struct {
	backoff.BackOff
}

func (n *nonNegative) NextBackOff() time.Duration {
	d := n.BackOff.NextBackOff()
	if d < 0 && d != backoff.Stop {
		return 0
	}
	return d
}
