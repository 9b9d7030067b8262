package testutils

import (
	"context"
	"testing"
	"time"
)

var (
	WaitTimeout  = 5 * time.Second
	PollInterval = 5 * time.Millisecond
)

// WithTimeout polls f until it returns an empty string and fails the test with
// the last returned reason once WaitTimeout elapses.
func WithTimeout(t *testing.T, f func() string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), WaitTimeout)
	defer cancel()
	lastErr := ""
	for {
		select {
		case <-ctx.Done():
			t.Fatalf("did not reach expected state after %v: %s", WaitTimeout, lastErr)
			return
		case <-time.After(PollInterval):
			lastErr = f()
			if lastErr == "" {
				return
			}
		}
	}
}
