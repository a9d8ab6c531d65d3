// Package profile holds the signed-in user's profile document and keeps it in
// step with the session identity.
package profile

import (
	"context"
	"sync"

	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/result"
	"github.com/tyemirov/tbase/internal/session"
	"go.uber.org/zap"
)

// UsersCollection holds profile documents keyed by identity uid.
const UsersCollection = "users"

// Messages surfaced by the holder.
const (
	MessageNoUserLoggedIn = "No user logged in"
)

// State is a snapshot of the profile holder.
type State struct {
	Loading bool
	Profile *docstore.Document
	Error   string
}

// Context is the profile holder bound to a session.
type Context struct {
	session *session.Context
	store   *docstore.Store
	logger  *zap.Logger

	mutex       sync.Mutex
	ctx         context.Context
	uid         string
	state       State
	unsubscribe func()
}

// New constructs a profile holder. It starts loading and follows the session once started.
func New(sessionContext *session.Context, store *docstore.Store, logger *zap.Logger) *Context {
	if sessionContext == nil {
		panic("session context is required")
	}
	if store == nil {
		panic("document store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		session: sessionContext,
		store:   store,
		logger:  logger,
		ctx:     context.Background(),
		state:   State{Loading: true},
	}
}

// Start follows session changes; ctx bounds the document reads they trigger.
func (holder *Context) Start(ctx context.Context) {
	holder.mutex.Lock()
	if holder.unsubscribe != nil {
		holder.mutex.Unlock()
		return
	}
	holder.ctx = ctx
	holder.unsubscribe = func() {}
	holder.mutex.Unlock()

	unsubscribe := holder.session.Subscribe(holder.onSession)

	holder.mutex.Lock()
	holder.unsubscribe = unsubscribe
	holder.mutex.Unlock()
}

// Stop stops following the session.
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
	return copyState(holder.state)
}

// UpdateProfile writes updates to the profile document and merges them locally on success.
func (holder *Context) UpdateProfile(ctx context.Context, updates docstore.Fields) result.Result[docstore.Document] {
	uid := holder.currentUID()
	if uid == "" {
		return result.Err[docstore.Document](MessageNoUserLoggedIn)
	}
	holder.mutex.Lock()
	holder.state.Loading = true
	holder.state.Error = ""
	holder.mutex.Unlock()

	outcome := holder.store.Update(ctx, UsersCollection, uid, updates)

	holder.mutex.Lock()
	defer holder.mutex.Unlock()
	holder.state.Loading = false
	if !outcome.Success {
		holder.state.Error = outcome.Error
		return outcome
	}
	if holder.uid == uid {
		merged := docstore.Document{ID: uid, Fields: docstore.Fields{}}
		if holder.state.Profile != nil {
			merged = docstore.NewDocument(uid, holder.state.Profile.Fields)
		}
		for key, value := range updates {
			merged.Fields[key] = value
		}
		holder.state.Profile = &merged
	}
	return outcome
}

// Refresh reloads the profile document. Failures keep the previous profile.
func (holder *Context) Refresh(ctx context.Context) {
	uid := holder.currentUID()
	if uid == "" {
		return
	}
	holder.mutex.Lock()
	holder.state.Loading = true
	holder.mutex.Unlock()

	outcome := holder.store.Read(ctx, UsersCollection, uid)

	holder.mutex.Lock()
	defer holder.mutex.Unlock()
	holder.state.Loading = false
	if outcome.Success && holder.uid == uid {
		document := outcome.Data
		holder.state.Profile = &document
		return
	}
	if !outcome.Success {
		holder.logger.Warn("profile refresh failed",
			zap.String("code", "profile.refresh.failed"),
			zap.String("uid", uid),
			zap.String("error", outcome.Error))
	}
}

// Clear drops the loaded profile and error.
func (holder *Context) Clear() {
	holder.mutex.Lock()
	defer holder.mutex.Unlock()
	holder.state.Profile = nil
	holder.state.Error = ""
}

func (holder *Context) currentUID() string {
	holder.mutex.Lock()
	defer holder.mutex.Unlock()
	return holder.uid
}

func (holder *Context) onSession(state session.State) {
	if state.Loading {
		return
	}
	if state.Identity == nil {
		holder.mutex.Lock()
		holder.uid = ""
		holder.state = State{}
		holder.mutex.Unlock()
		return
	}
	uid := state.Identity.UID

	holder.mutex.Lock()
	holder.uid = uid
	holder.state.Loading = true
	holder.state.Error = ""
	ctx := holder.ctx
	holder.mutex.Unlock()

	outcome := holder.store.Read(ctx, UsersCollection, uid)

	holder.mutex.Lock()
	defer holder.mutex.Unlock()
	if holder.uid != uid {
		return
	}
	holder.state.Loading = false
	if outcome.Success {
		document := outcome.Data
		holder.state.Profile = &document
		return
	}
	holder.state.Profile = nil
	holder.state.Error = outcome.Error
}

func copyState(source State) State {
	copied := State{Loading: source.Loading, Error: source.Error}
	if source.Profile != nil {
		document := docstore.NewDocument(source.Profile.ID, source.Profile.Fields)
		copied.Profile = &document
	}
	return copied
}
