// Package session holds the current identity for the lifetime of a session and
// fans auth state changes out to subscribers.
package session

import (
	"sync"

	"github.com/tyemirov/tbase/internal/identity"
)

// Source pushes identity changes; identity.Client satisfies it.
type Source interface {
	OnAuthStateChanged(listener identity.Listener) (unsubscribe func())
}

// State is a snapshot of the session. Loading is true until the source first reports.
type State struct {
	Loading  bool
	Identity *identity.Identity
}

// Authenticated reports whether the state carries a signed-in identity.
func (state State) Authenticated() bool {
	return !state.Loading && state.Identity != nil
}

// Listener receives session states.
type Listener func(State)

// Context is the session holder. Start subscribes to the source; Stop unsubscribes.
type Context struct {
	source Source

	mutex          sync.Mutex
	state          State
	listeners      map[uint64]Listener
	nextListenerID uint64
	unsubscribe    func()
	ready          chan struct{}
	readyOnce      sync.Once
}

// New constructs a loading session holder over source.
func New(source Source) *Context {
	if source == nil {
		panic("session source is required")
	}
	return &Context{
		source:    source,
		state:     State{Loading: true},
		listeners: make(map[uint64]Listener),
		ready:     make(chan struct{}),
	}
}

// Start subscribes to the source. Calling Start twice is a no-op.
func (holder *Context) Start() {
	holder.mutex.Lock()
	if holder.unsubscribe != nil {
		holder.mutex.Unlock()
		return
	}
	holder.unsubscribe = func() {}
	holder.mutex.Unlock()

	unsubscribe := holder.source.OnAuthStateChanged(holder.receive)

	holder.mutex.Lock()
	holder.unsubscribe = unsubscribe
	holder.mutex.Unlock()
}

// Stop unsubscribes from the source. The last state is kept.
func (holder *Context) Stop() {
	holder.mutex.Lock()
	unsubscribe := holder.unsubscribe
	holder.unsubscribe = nil
	holder.mutex.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// State returns the current snapshot.
func (holder *Context) State() State {
	holder.mutex.Lock()
	defer holder.mutex.Unlock()
	return State{Loading: holder.state.Loading, Identity: cloneIdentity(holder.state.Identity)}
}

// Ready is closed once the first state has been received.
func (holder *Context) Ready() <-chan struct{} {
	return holder.ready
}

// Subscribe registers listener and returns its unsubscribe function.
// A listener added after the first state arrives is called with it immediately.
func (holder *Context) Subscribe(listener Listener) func() {
	holder.mutex.Lock()
	holder.nextListenerID++
	listenerID := holder.nextListenerID
	holder.listeners[listenerID] = listener
	current := State{Loading: holder.state.Loading, Identity: cloneIdentity(holder.state.Identity)}
	holder.mutex.Unlock()

	if !current.Loading {
		listener(current)
	}
	return func() {
		holder.mutex.Lock()
		delete(holder.listeners, listenerID)
		holder.mutex.Unlock()
	}
}

func (holder *Context) receive(current *identity.Identity) {
	holder.mutex.Lock()
	holder.state = State{Loading: false, Identity: cloneIdentity(current)}
	listeners := make([]Listener, 0, len(holder.listeners))
	for _, listener := range holder.listeners {
		listeners = append(listeners, listener)
	}
	snapshot := holder.state
	holder.mutex.Unlock()

	holder.readyOnce.Do(func() { close(holder.ready) })
	for _, listener := range listeners {
		listener(State{Loading: snapshot.Loading, Identity: cloneIdentity(snapshot.Identity)})
	}
}

func cloneIdentity(source *identity.Identity) *identity.Identity {
	if source == nil {
		return nil
	}
	cloned := *source
	return &cloned
}
