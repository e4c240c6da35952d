package tswatch

import (
	"context"
	"sync"
	"time"
)

// ExecutionState is the client-side view of a render. It only moves forward
// for a given set of params.
type ExecutionState int

const (
	StateNotStarted ExecutionState = iota
	StateQueued
	StateInProgress
	StateComplete
)

func (s ExecutionState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateQueued:
		return "queued"
	case StateInProgress:
		return "in_progress"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

func stateOf(ev StatusEvent) ExecutionState {
	switch ev.Status {
	case StatusQueued:
		return StateQueued
	case StatusInProgress:
		return StateInProgress
	case StatusComplete:
		if ev.ContentHash != nil {
			return StateComplete
		}
		return StateInProgress
	default:
		return StateNotStarted
	}
}

// View is a consistent snapshot of a Controller.
type View struct {
	Page       string
	Params     Params
	State      ExecutionState
	Event      *StatusEvent
	HTMLStatus *HTMLStatus
	// RenderToken is the hash of the newest rendered HTML, or
	// NotAvailableToken. It changes exactly when new content appears.
	RenderToken string
	ContentURL  string
	IsError     bool
	Err         error
	// Generation increments on every params switch and recompute.
	Generation uint64
	// ChangedSinceLastSeen is set once RenderToken differs from the token
	// recorded by an earlier run. Always false without a token store.
	ChangedSinceLastSeen bool
	UpdatedAt            time.Time
}

type ControllerOptions struct {
	OnChange func(View)
	// DisablePolling observes through the event stream only.
	DisablePolling bool
}

// Controller tracks the execution status of one page for the current params
// by combining the event stream with status polling.
type Controller struct {
	svc  *Service
	page *Page
	opts ControllerOptions

	switchMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	params  Params
	view    View
	sub     *Subscription
	poller  *StatusPoller
	changed chan struct{}
	closed  bool

	queue   []View
	kick    chan struct{}
	stopped chan struct{}
}

// NewController returns an idle controller; call SetParams to start.
func (s *Service) NewController(page *Page, opts ControllerOptions) *Controller {
	c := &Controller{
		svc:     s,
		page:    page,
		opts:    opts,
		changed: make(chan struct{}),
		kick:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	c.view = View{Page: page.Name, RenderToken: NotAvailableToken}
	go c.notifyLoop()
	return c
}

// SetParams switches observation to params. The previous subscription and
// poller are stopped before the new ones start and the state restarts at
// NotStarted. The render token carries over until new content arrives.
func (c *Controller) SetParams(ctx context.Context, params Params) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	c.restart(ctx, params.Clone())
}

// Recompute asks the server to execute the notebook again for the current
// params and restarts observation.
func (c *Controller) Recompute(ctx context.Context) error {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	params := c.params
	contentURL := c.view.ContentURL
	c.mu.Unlock()

	if err := c.svc.Recompute(ctx, c.page, params, contentURL); err != nil {
		return err
	}
	c.restart(ctx, params)
	return nil
}

func (c *Controller) restart(ctx context.Context, params Params) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	oldSub, oldPoller := c.sub, c.poller
	c.sub, c.poller = nil, nil
	c.params = params
	renderToken := c.view.RenderToken
	if !c.params.Equal(c.view.Params) {
		renderToken = NotAvailableToken
	}
	c.view = View{
		Page:        c.page.Name,
		Params:      params,
		State:       StateNotStarted,
		RenderToken: renderToken,
		Generation:  gen,
		UpdatedAt:   time.Now(),
	}
	c.publishLocked()
	c.mu.Unlock()

	// Outside mu: a handler of the old generation may be waiting on it.
	if oldSub != nil {
		oldSub.Cancel()
	}
	if oldPoller != nil {
		oldPoller.Stop()
	}

	sub := c.svc.Subscribe(ctx, c.page, params, Handlers{
		OnEvent: func(ev StatusEvent) { c.applyEvent(gen, ev) },
		OnError: func(err error) { c.applyError(gen, err) },
	})
	var poller *StatusPoller
	if !c.opts.DisablePolling {
		poller = c.svc.NewPoller(c.page, params, func(ps PollSnapshot) { c.applyPoll(gen, ps) })
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		sub.Cancel()
		return
	}
	c.sub, c.poller = sub, poller
	c.mu.Unlock()

	if poller != nil {
		c.svc.startPoller(ctx, poller)
	}
}

func (c *Controller) applyEvent(gen uint64, ev StatusEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return
	}
	c.view.Event = &ev
	if ev.ContentURL != "" {
		c.view.ContentURL = ev.ContentURL
	}
	c.view.IsError, c.view.Err = false, nil
	c.advanceLocked(stateOf(ev))
	if ev.Terminal() {
		c.setTokenLocked(*ev.ContentHash)
	}
	c.publishLocked()
}

func (c *Controller) applyPoll(gen uint64, ps PollSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return
	}
	c.view.IsError, c.view.Err = ps.IsError, ps.Err
	if ps.Status != nil {
		c.view.HTMLStatus = ps.Status
		if ps.Status.ContentURL != "" && c.view.ContentURL == "" {
			c.view.ContentURL = ps.Status.ContentURL
		}
		if ps.Status.Available && ps.Status.ContentHash != nil {
			c.advanceLocked(StateComplete)
			c.setTokenLocked(*ps.Status.ContentHash)
		}
	}
	c.publishLocked()
}

func (c *Controller) applyError(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return
	}
	c.view.IsError, c.view.Err = true, err
	c.publishLocked()
}

func (c *Controller) advanceLocked(s ExecutionState) {
	if s > c.view.State {
		c.view.State = s
	}
}

func (c *Controller) setTokenLocked(token string) {
	if token == c.view.RenderToken {
		return
	}
	c.view.RenderToken = token
	st := c.svc.store
	if st == nil {
		return
	}
	key := HTMLStatusForPageKey(c.page.Name, c.params)
	if prev, ok := st.Get(key); ok && prev.Token != token {
		c.view.ChangedSinceLastSeen = true
	}
	st.Put(TokenRecord{
		Key:        key.String(),
		Token:      token,
		ContentURL: c.view.ContentURL,
		SeenAt:     time.Now().UTC().UnixNano(),
	})
}

func (c *Controller) publishLocked() {
	c.view.UpdatedAt = time.Now()
	close(c.changed)
	c.changed = make(chan struct{})
	if c.opts.OnChange == nil {
		return
	}
	c.queue = append(c.queue, c.snapshotLocked())
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// notifyLoop delivers OnChange calls one at a time in publish order.
func (c *Controller) notifyLoop() {
	for {
		select {
		case <-c.stopped:
			return
		case <-c.kick:
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 || c.closed {
				c.queue = nil
				c.mu.Unlock()
				break
			}
			v := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			c.opts.OnChange(v)
		}
	}
}

func (c *Controller) snapshotLocked() View {
	v := c.view
	v.Params = v.Params.Clone()
	if v.Event != nil {
		ev := *v.Event
		v.Event = &ev
	}
	if v.HTMLStatus != nil {
		st := *v.HTMLStatus
		v.HTMLStatus = &st
	}
	return v
}

func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until the state is Complete or ctx ends.
func (c *Controller) Wait(ctx context.Context) (View, error) {
	for {
		c.mu.Lock()
		v := c.snapshotLocked()
		ch := c.changed
		closed := c.closed
		c.mu.Unlock()
		if v.State == StateComplete {
			return v, nil
		}
		if closed {
			return v, context.Canceled
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-ch:
		}
	}
}

// Close stops observation. Queued OnChange calls are dropped; one already
// running may finish after Close returns.
func (c *Controller) Close() {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub, poller := c.sub, c.poller
	c.sub, c.poller = nil, nil
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if poller != nil {
		poller.Stop()
	}
	close(c.stopped)
}
