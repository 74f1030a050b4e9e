package engine

import (
	"context"
	"time"
)

// Clock abstracts time for wait-step poll loops so tests can drive them
// without real delay.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }
