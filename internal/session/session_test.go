package session

import (
	"sync"
	"testing"

	"github.com/tyemirov/tbase/internal/identity"
)

type manualSource struct {
	mutex    sync.Mutex
	listener identity.Listener
	removed  bool
}

func (source *manualSource) OnAuthStateChanged(listener identity.Listener) func() {
	source.mutex.Lock()
	source.listener = listener
	source.mutex.Unlock()
	return func() {
		source.mutex.Lock()
		source.removed = true
		source.listener = nil
		source.mutex.Unlock()
	}
}

func (source *manualSource) push(current *identity.Identity) {
	source.mutex.Lock()
	listener := source.listener
	source.mutex.Unlock()
	if listener != nil {
		listener(current)
	}
}

func TestSessionTransitions(t *testing.T) {
	t.Parallel()

	source := &manualSource{}
	holder := New(source)
	holder.Start()

	initial := holder.State()
	if !initial.Loading || initial.Identity != nil {
		t.Fatalf("expected loading state, got %#v", initial)
	}
	select {
	case <-holder.Ready():
		t.Fatalf("ready before first push")
	default:
	}

	source.push(nil)
	signedOut := holder.State()
	if signedOut.Loading || signedOut.Identity != nil || signedOut.Authenticated() {
		t.Fatalf("expected signed out state, got %#v", signedOut)
	}
	<-holder.Ready()

	source.push(&identity.Identity{UID: "u1", Email: "a@b.com"})
	signedIn := holder.State()
	if signedIn.Loading || signedIn.Identity == nil || signedIn.Identity.UID != "u1" || signedIn.Identity.Email != "a@b.com" {
		t.Fatalf("expected signed in state, got %#v", signedIn)
	}

	holder.Stop()
	if !source.removed {
		t.Fatalf("stop must unsubscribe from the source")
	}
}

func TestSubscribersReceiveStates(t *testing.T) {
	t.Parallel()

	source := &manualSource{}
	holder := New(source)
	holder.Start()
	defer holder.Stop()

	var received []State
	unsubscribe := holder.Subscribe(func(state State) { received = append(received, state) })
	if len(received) != 0 {
		t.Fatalf("loading state must not be delivered")
	}
	source.push(&identity.Identity{UID: "u1"})
	unsubscribe()
	source.push(nil)
	if len(received) != 1 || received[0].Identity.UID != "u1" {
		t.Fatalf("unexpected deliveries %#v", received)
	}

	var late []State
	defer holder.Subscribe(func(state State) { late = append(late, state) })()
	if len(late) != 1 || late[0].Identity != nil {
		t.Fatalf("late subscriber expected current signed out state, got %#v", late)
	}
}

func TestStartIsIdempotentAndSnapshotsAreCopies(t *testing.T) {
	t.Parallel()

	source := &manualSource{}
	holder := New(source)
	holder.Start()
	holder.Start()
	source.push(&identity.Identity{UID: "u2"})
	state := holder.State()
	state.Identity.UID = "mutated"
	if holder.State().Identity.UID != "u2" {
		t.Fatalf("state snapshots must not alias the holder")
	}
}
