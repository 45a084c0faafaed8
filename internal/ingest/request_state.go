package ingest

import (
	"errors"
	"fmt"
	"sync"
)

// RequestState is the lifecycle of one outbound request keyed by identity.
type RequestState string

const (
	RequestIdle     RequestState = "IDLE"
	RequestInFlight RequestState = "IN_FLIGHT"
	RequestDone     RequestState = "DONE"
	RequestError    RequestState = "ERROR"
)

var errIllegalRequestTransition = errors.New("illegal request transition")

type requestEntry struct {
	state RequestState
	value string
	err   error
}

// requestTracker replaces ad-hoc "in flight" flags with one state machine per key.
type requestTracker struct {
	mu      sync.Mutex
	entries map[string]*requestEntry
}

func newRequestTracker() *requestTracker {
	return &requestTracker{entries: make(map[string]*requestEntry)}
}

// transition is the only place a request state changes.
func (r *requestTracker) transition(key string, to RequestState, value string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	if !ok {
		entry = &requestEntry{state: RequestIdle}
		r.entries[key] = entry
	}
	if !canTransitionRequest(entry.state, to) {
		return fmt.Errorf("%w: %s %s -> %s", errIllegalRequestTransition, key, entry.state, to)
	}
	entry.state = to
	switch to {
	case RequestDone:
		entry.value = value
		entry.err = nil
	case RequestError:
		entry.err = cause
	}
	return nil
}

func (r *requestTracker) lookup(key string) (RequestState, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	if !ok {
		return RequestIdle, ""
	}
	return entry.state, entry.value
}

func canTransitionRequest(from, to RequestState) bool {
	switch to {
	case RequestInFlight:
		return from == RequestIdle || from == RequestDone || from == RequestError
	case RequestDone, RequestError:
		return from == RequestInFlight
	default:
		return false
	}
}
