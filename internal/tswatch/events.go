package tswatch

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handlers receive the callbacks of one subscription. All of them run on the
// subscription goroutine, in frame order. Nil handlers are skipped.
type Handlers struct {
	OnEvent    func(StatusEvent)
	OnError    func(error)
	OnComplete func()
}

type SubscriberOptions struct {
	// RetryInterval is the reconnect delay unless the server sends retry:.
	RetryInterval time.Duration
	// MaxRetries caps consecutive reconnects. 0 means no cap.
	MaxRetries int
	// RateLimit throttles the schema warning log.
	RateLimit time.Duration
	Debug     bool
}

// Subscriber opens html/events streams. The http.Client must not carry a
// request timeout; a stream lives until it completes or is cancelled.
type Subscriber struct {
	httpClient *http.Client
	token      string
	opts       SubscriberOptions
	schemaLog  *rateLimitedLogger
}

func NewSubscriber(httpClient *http.Client, token string, opts SubscriberOptions) *Subscriber {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = time.Minute
	}
	return &Subscriber{
		httpClient: httpClient,
		token:      token,
		opts:       opts,
		schemaLog:  newRateLimitedLogger(opts.RateLimit),
	}
}

// Subscription is one live events stream.
type Subscription struct {
	id  string
	url string
	s   *Subscriber
	h   Handlers

	ctx    context.Context
	cancel context.CancelFunc
	gate   gate
	once   sync.Once
	done   chan struct{}

	// owned by the run goroutine
	st    streamState
	retry time.Duration
}

// Subscribe starts streaming status events for eventsURL with params. The
// stream stops on its own after a terminal event, when ctx ends, or when
// Cancel is called.
func (s *Subscriber) Subscribe(ctx context.Context, eventsURL string, params Params, h Handlers) *Subscription {
	cctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		id:     uuid.NewString(),
		url:    WithParams(eventsURL, params),
		s:      s,
		h:      h,
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
		st:     streamState{phase: phaseConnecting, maxRetries: s.opts.MaxRetries},
		retry:  s.opts.RetryInterval,
	}
	go sub.run()
	return sub
}

func (sub *Subscription) ID() string { return sub.id }

// Cancel stops the stream. No handler starts after Cancel returns. It is
// safe to call more than once, after completion, and from a handler.
func (sub *Subscription) Cancel() {
	sub.once.Do(func() {
		sub.gate.close()
		sub.cancel()
	})
}

// Done is closed when the subscription goroutine has exited.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

func (sub *Subscription) run() {
	defer close(sub.done)
	defer sub.cancel()
	debugf(sub.s.opts.Debug, "events %s: subscribe %s", sub.id, sub.url)

	for {
		if sub.ctx.Err() != nil {
			sub.apply(streamInput{kind: inputCancel})
			return
		}
		if !sub.connect() {
			return
		}
		debugf(sub.s.opts.Debug, "events %s: reconnect in %s (attempt %d)", sub.id, sub.retry, sub.st.retries)
		t := time.NewTimer(sub.retry)
		select {
		case <-sub.ctx.Done():
			t.Stop()
			sub.apply(streamInput{kind: inputCancel})
			return
		case <-t.C:
		}
	}
}

// connect runs one connection and reports whether to reconnect.
func (sub *Subscription) connect() bool {
	req, err := http.NewRequestWithContext(sub.ctx, http.MethodGet, sub.url, nil)
	if err != nil {
		sub.deliverError(validationError("event stream request", err))
		sub.apply(streamInput{kind: inputCancel})
		return false
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if sub.s.token != "" {
		req.Header.Set("Authorization", "Bearer "+sub.s.token)
	}

	resp, err := sub.s.httpClient.Do(req)
	if err != nil {
		return sub.fail(err)
	}
	defer resp.Body.Close()

	if sub.apply(streamInput{kind: inputOpen, status: resp.StatusCode, statusText: http.StatusText(resp.StatusCode)}).abort {
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("event stream connection failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		return sub.fail(httpError(msg, resp.StatusCode))
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		return sub.fail(fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var data []string
	hasData := false
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if hasData {
				out := sub.apply(streamInput{kind: inputMessage, data: strings.Join(data, "\n")})
				if out.abort {
					return false
				}
			}
			data, hasData = data[:0], false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				sub.retry = time.Duration(ms) * time.Millisecond
			}
		case "event", "id":
		}
	}
	if err := sc.Err(); err != nil {
		return sub.fail(err)
	}
	if sub.ctx.Err() != nil {
		sub.apply(streamInput{kind: inputCancel})
		return false
	}
	return sub.apply(streamInput{kind: inputClose}).reconnect
}

// fail feeds a transport error, or a cancel if the error came from our own
// context.
func (sub *Subscription) fail(err error) bool {
	if sub.ctx.Err() != nil {
		sub.apply(streamInput{kind: inputCancel})
		return false
	}
	return sub.apply(streamInput{kind: inputError, err: err}).reconnect
}

type applyResult struct {
	abort     bool
	reconnect bool
}

func (sub *Subscription) apply(in streamInput) applyResult {
	st, effects := step(sub.st, in)
	sub.st = st
	var res applyResult
	for _, e := range effects {
		switch e.kind {
		case effectEvent:
			ev := e.event
			if sub.h.OnEvent != nil {
				sub.gate.do(func() { sub.h.OnEvent(ev) })
			}
		case effectError:
			sub.deliverError(e.err)
		case effectComplete:
			debugf(sub.s.opts.Debug, "events %s: complete", sub.id)
			if sub.h.OnComplete != nil {
				sub.gate.do(sub.h.OnComplete)
			}
		case effectAbort:
			res.abort = true
			sub.gate.close()
		case effectReconnect:
			res.reconnect = true
		case effectSchema:
			sub.s.schemaLog.Printf("events %s: dropped frame: %v", sub.id, e.err)
		}
	}
	return res
}

func (sub *Subscription) deliverError(err error) {
	if sub.h.OnError == nil {
		log.Printf("events %s: %v", sub.id, err)
		return
	}
	sub.gate.do(func() { sub.h.OnError(err) })
}
