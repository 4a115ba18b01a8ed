package tracking

import (
	"context"
	"time"
)

// ScriptedProvider replays a fixed list of fixes, used by the walk simulator and tests.
// The first fix answers CurrentPosition; the rest are streamed by Watch.
type ScriptedProvider struct {
	Fixes    []Fix
	Interval time.Duration
	Denied   bool
}

// CurrentPosition returns the first scripted fix
func (p *ScriptedProvider) CurrentPosition(ctx context.Context) (Fix, error) {
	if p.Denied || len(p.Fixes) == 0 {
		return Fix{}, ErrPermissionDenied
	}
	return p.Fixes[0], nil
}

// Watch streams the remaining fixes, one per Interval
func (p *ScriptedProvider) Watch(ctx context.Context) (<-chan Fix, error) {
	ch := make(chan Fix)

	go func() {
		defer close(ch)

		for i := 1; i < len(p.Fixes); i++ {
			if p.Interval > 0 {
				timer := time.NewTimer(p.Interval)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}

			select {
			case <-ctx.Done():
				return
			case ch <- p.Fixes[i]:
			}
		}
	}()

	return ch, nil
}
