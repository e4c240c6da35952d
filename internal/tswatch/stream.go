package tswatch

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// The event stream is driven by a pure state machine: the transport turns
// what happens on the wire into inputs, step maps (state, input) to the next
// state plus effects, and the transport carries the effects out.

type streamPhase int

const (
	phaseConnecting streamPhase = iota
	phaseOpen
	phaseCompleted
	phaseCancelled
	phaseFailed
)

func (p streamPhase) String() string {
	switch p {
	case phaseConnecting:
		return "connecting"
	case phaseOpen:
		return "open"
	case phaseCompleted:
		return "completed"
	case phaseCancelled:
		return "cancelled"
	case phaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (p streamPhase) done() bool {
	return p == phaseCompleted || p == phaseCancelled || p == phaseFailed
}

type streamState struct {
	phase      streamPhase
	retries    int
	maxRetries int // 0 = reconnect forever
	events     int
	// rejected marks a 4xx other than 429 on the last open; the next
	// error or close ends the stream.
	rejected bool
}

type inputKind int

const (
	inputOpen inputKind = iota
	inputMessage
	inputError
	inputClose
	inputCancel
)

type streamInput struct {
	kind       inputKind
	status     int
	statusText string
	data       string
	err        error
}

type effectKind int

const (
	effectEvent effectKind = iota
	effectError
	effectComplete
	effectAbort
	effectReconnect
	effectSchema
)

type streamEffect struct {
	kind  effectKind
	event StatusEvent
	err   error
}

// step is the transition function. It never blocks and has no side effects.
func step(st streamState, in streamInput) (streamState, []streamEffect) {
	if st.phase.done() {
		return st, nil
	}

	switch in.kind {
	case inputCancel:
		st.phase = phaseCancelled
		return st, []streamEffect{{kind: effectAbort}}

	case inputOpen:
		st.phase = phaseOpen
		st.rejected = in.status >= 400 && in.status < 500 && in.status != http.StatusTooManyRequests
		if st.rejected {
			msg := fmt.Sprintf("event stream connection failed: %d %s", in.status, in.statusText)
			return st, []streamEffect{{kind: effectError, err: httpError(msg, in.status)}}
		}
		return st, nil

	case inputMessage:
		ev, ok, err := parseStatusFrame(in.data)
		if !ok {
			// Not JSON: heartbeat or control frame.
			return st, nil
		}
		if err != nil {
			return st, []streamEffect{{kind: effectSchema, err: err}}
		}
		st.events++
		st.retries = 0
		effects := []streamEffect{{kind: effectEvent, event: ev}}
		if ev.Terminal() {
			st.phase = phaseCompleted
			effects = append(effects, streamEffect{kind: effectComplete}, streamEffect{kind: effectAbort})
		}
		return st, effects

	case inputError, inputClose:
		if st.rejected {
			// Already reported on open.
			st.phase = phaseFailed
			return st, []streamEffect{{kind: effectAbort}}
		}
		err := in.err
		if in.kind == inputClose || err == nil {
			err = networkError("event stream closed before completion", nil)
		} else {
			err = networkError("event stream", err)
		}
		effects := []streamEffect{{kind: effectError, err: err}}
		if st.maxRetries == 0 || st.retries < st.maxRetries {
			st.retries++
			st.phase = phaseConnecting
			return st, append(effects, streamEffect{kind: effectReconnect})
		}
		st.phase = phaseFailed
		return st, append(effects, streamEffect{kind: effectAbort})
	}
	return st, nil
}

// parseStatusFrame decodes one data payload. ok is false when the payload is
// not JSON at all; err is a schema error when it is JSON of the wrong shape.
func parseStatusFrame(data string) (ev StatusEvent, ok bool, err error) {
	var doc any
	if jerr := json.Unmarshal([]byte(data), &doc); jerr != nil {
		return StatusEvent{}, false, nil
	}
	if serr := validateShape(statusEventSchema, doc); serr != nil {
		return StatusEvent{}, true, schemaError("invalid status event", serr)
	}
	if jerr := json.Unmarshal([]byte(data), &ev); jerr != nil {
		return StatusEvent{}, true, schemaError("invalid status event", jerr)
	}
	if ev.ContentHash != nil && ev.Status != StatusComplete {
		return StatusEvent{}, true, schemaError(fmt.Sprintf("html_hash set while %s", ev.Status), nil)
	}
	return ev, true, nil
}
