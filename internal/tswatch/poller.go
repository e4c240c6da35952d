package tswatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// PollSnapshot is what a StatusPoller knows after its latest request.
type PollSnapshot struct {
	// Status is the last successfully fetched status; it survives errors.
	Status       *HTMLStatus
	ContentToken string
	Loading      bool
	IsError      bool
	Err          error
	Polls        int
	UpdatedAt    time.Time
}

type PollerOptions struct {
	Interval time.Duration
	OnUpdate func(PollSnapshot)
}

// StatusPoller requests an HTML status on a fixed interval through the
// cache, forcing a refresh on every tick. A tick that lands while the
// previous request is still running is skipped.
type StatusPoller struct {
	cache *Cache
	key   Key
	fetch func(context.Context) (*HTMLStatus, error)
	opts  PollerOptions

	mu   sync.Mutex
	snap PollSnapshot

	gate     gate
	inFlight atomic.Bool
	reqs     sync.WaitGroup

	lmu     sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	done    chan struct{}
}

func NewStatusPoller(cache *Cache, key Key, fetch func(context.Context) (*HTMLStatus, error), opts PollerOptions) *StatusPoller {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &StatusPoller{
		cache: cache,
		key:   key,
		fetch: fetch,
		opts:  opts,
		snap:  PollSnapshot{ContentToken: NotAvailableToken, Loading: true},
		done:  make(chan struct{}),
	}
}

// Start begins polling until Stop is called or ctx ends. It requests once
// right away. Calling Start again does nothing.
func (p *StatusPoller) Start(ctx context.Context) {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	go p.loop()
}

// Stop ends polling. No OnUpdate starts after Stop returns.
func (p *StatusPoller) Stop() {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.gate.close()
	if p.started {
		p.cancel()
	} else {
		close(p.done)
	}
}

// Done is closed once the poll loop and its last request have finished.
func (p *StatusPoller) Done() <-chan struct{} { return p.done }

func (p *StatusPoller) Snapshot() PollSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *StatusPoller) ContentToken() string { return p.Snapshot().ContentToken }

func (p *StatusPoller) loop() {
	defer close(p.done)
	defer p.reqs.Wait()

	p.tick()
	t := time.NewTicker(p.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-t.C:
			p.tick()
		}
	}
}

func (p *StatusPoller) tick() {
	if p.gate.isClosed() || !p.inFlight.CompareAndSwap(false, true) {
		return
	}
	p.reqs.Add(1)
	go func() {
		defer p.reqs.Done()
		defer p.inFlight.Store(false)
		p.pollOnce()
	}()
}

func (p *StatusPoller) pollOnce() {
	st, err := GetAs(p.ctx, p.cache, p.key, p.fetch, GetOptions{ForceRefresh: true})
	if p.ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	p.snap.Polls++
	p.snap.Loading = false
	p.snap.UpdatedAt = time.Now()
	if err != nil {
		p.snap.IsError = true
		p.snap.Err = err
	} else {
		p.snap.Status = st
		p.snap.ContentToken = st.ContentToken()
		p.snap.IsError = false
		p.snap.Err = nil
	}
	snap := p.snap
	p.mu.Unlock()

	if p.opts.OnUpdate != nil {
		p.gate.do(func() { p.opts.OnUpdate(snap) })
	}
}
