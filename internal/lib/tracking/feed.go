package tracking

import (
	"context"
	"sync"
)

const feedBufferSize = 64

// FeedProvider is a Provider whose fixes are pushed in by a remote client,
// for example a phone posting its GPS readings over HTTP.
//
// Every pushed fix is handed out once: either to a live watcher or, when none
// is listening, kept in a backlog for the next CurrentPosition or Watch call.
// A restarted subscription therefore never sees a fix it has already processed.
type FeedProvider struct {
	mu       sync.Mutex
	backlog  []Fix
	denied   bool
	changed  chan struct{}
	watchers map[*feedWatcher]struct{}
}

type feedWatcher struct {
	ctx context.Context
	ch  chan Fix
}

// NewFeedProvider creates an empty FeedProvider
func NewFeedProvider() *FeedProvider {
	return &FeedProvider{
		changed:  make(chan struct{}),
		watchers: make(map[*feedWatcher]struct{}),
	}
}

// Push records a new fix and forwards it to every watcher in order.
// A fix after a denial means permission was granted again.
func (p *FeedProvider) Push(fix Fix) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.denied = false

	delivered := false
	for w := range p.watchers {
		if w.ctx.Err() != nil {
			continue
		}
		select {
		case w.ch <- fix:
			delivered = true
		case <-w.ctx.Done():
		}
	}
	if !delivered {
		p.backlog = append(p.backlog, fix)
		if len(p.backlog) > feedBufferSize {
			p.backlog = p.backlog[len(p.backlog)-feedBufferSize:]
		}
	}
	p.notifyLocked()
}

// Deny records that the client refused location access
func (p *FeedProvider) Deny() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.denied = true
	p.notifyLocked()
}

func (p *FeedProvider) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// CurrentPosition returns the newest fix nobody has received yet, waiting for
// the next push or denial when there is none. Older unseen fixes are discarded.
func (p *FeedProvider) CurrentPosition(ctx context.Context) (Fix, error) {
	for {
		p.mu.Lock()
		if p.denied {
			p.mu.Unlock()
			return Fix{}, ErrPermissionDenied
		}
		if n := len(p.backlog); n > 0 {
			fix := p.backlog[n-1]
			p.backlog = nil
			p.mu.Unlock()
			return fix, nil
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return Fix{}, ctx.Err()
		case <-changed:
		}
	}
}

// Watch streams fixes until ctx is cancelled, starting with any pushed since
// the last CurrentPosition call.
func (p *FeedProvider) Watch(ctx context.Context) (<-chan Fix, error) {
	w := &feedWatcher{ctx: ctx, ch: make(chan Fix, feedBufferSize)}

	p.mu.Lock()
	for _, fix := range p.backlog {
		w.ch <- fix
	}
	p.backlog = nil
	p.watchers[w] = struct{}{}
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.watchers, w)
		close(w.ch)
		p.mu.Unlock()
	}()

	return w.ch, nil
}
