// Package binding adapts document store calls into stateful, re-invocable
// bindings exposing data, loading and error. Every invocation is numbered and
// only the most recently issued one may update the state.
package binding

import (
	"sync"

	"github.com/tyemirov/tbase/internal/result"
)

// State is a binding snapshot. At most one of Data and Error is meaningful once loaded.
type State[T any] struct {
	Data    T
	Loading bool
	Error   string
}

// Listener receives binding states.
type Listener[T any] func(State[T])

type holder[T any] struct {
	mutex          sync.Mutex
	state          State[T]
	issued         uint64
	listeners      map[uint64]Listener[T]
	nextListenerID uint64
}

func newHolder[T any](initial State[T]) *holder[T] {
	return &holder[T]{state: initial, listeners: make(map[uint64]Listener[T])}
}

func (h *holder[T]) snapshot() State[T] {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.state
}

func (h *holder[T]) subscribe(listener Listener[T]) func() {
	h.mutex.Lock()
	h.nextListenerID++
	listenerID := h.nextListenerID
	h.listeners[listenerID] = listener
	h.mutex.Unlock()
	return func() {
		h.mutex.Lock()
		delete(h.listeners, listenerID)
		h.mutex.Unlock()
	}
}

// begin issues a new sequence number and enters the loading state.
func (h *holder[T]) begin() uint64 {
	h.mutex.Lock()
	h.issued++
	sequence := h.issued
	h.state.Loading = true
	h.state.Error = ""
	state, listeners := h.state, h.listenersLocked()
	h.mutex.Unlock()
	notify(listeners, state)
	return sequence
}

// finish applies outcome when sequence is still the latest issued. On failure
// Data is replaced by empty. It reports whether the outcome was applied.
func (h *holder[T]) finish(sequence uint64, outcome result.Result[T], empty T) bool {
	h.mutex.Lock()
	if sequence != h.issued {
		h.mutex.Unlock()
		return false
	}
	if outcome.Success {
		h.state = State[T]{Data: outcome.Data}
	} else {
		h.state = State[T]{Data: empty, Error: outcome.Message()}
	}
	state, listeners := h.state, h.listenersLocked()
	h.mutex.Unlock()
	notify(listeners, state)
	return true
}

// replace sets the state outright and invalidates in-flight invocations.
func (h *holder[T]) replace(state State[T]) {
	h.mutex.Lock()
	h.issued++
	h.state = state
	listeners := h.listenersLocked()
	h.mutex.Unlock()
	notify(listeners, state)
}

func (h *holder[T]) listenersLocked() []Listener[T] {
	listeners := make([]Listener[T], 0, len(h.listeners))
	for _, listener := range h.listeners {
		listeners = append(listeners, listener)
	}
	return listeners
}

func notify[T any](listeners []Listener[T], state State[T]) {
	for _, listener := range listeners {
		listener(state)
	}
}
