package profile

import (
	"context"
	"testing"

	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/identity"
	"github.com/tyemirov/tbase/internal/session"
	"go.uber.org/zap"
)

type pushSource struct {
	listener identity.Listener
}

func (source *pushSource) OnAuthStateChanged(listener identity.Listener) func() {
	source.listener = listener
	return func() { source.listener = nil }
}

func (source *pushSource) push(current *identity.Identity) {
	if source.listener != nil {
		source.listener(current)
	}
}

func newHolder(t *testing.T) (*Context, *pushSource, *docstore.Store) {
	t.Helper()
	source := &pushSource{}
	sessionContext := session.New(source)
	sessionContext.Start()
	t.Cleanup(sessionContext.Stop)

	store := docstore.NewStore(docstore.NewMemoryBackend(), zap.NewNop())
	holder := New(sessionContext, store, zap.NewNop())
	holder.Start(context.Background())
	t.Cleanup(holder.Stop)
	return holder, source, store
}

func TestProfileFollowsIdentity(t *testing.T) {
	t.Parallel()
	holder, source, store := newHolder(t)
	ctx := context.Background()
	store.CreateWithID(ctx, UsersCollection, "u1", docstore.Fields{"email": "a@b.com", "displayName": "Ann"}, false)

	if !holder.State().Loading {
		t.Fatalf("expected loading before the session reports")
	}

	source.push(&identity.Identity{UID: "u1"})
	state := holder.State()
	if state.Loading || state.Profile == nil || state.Profile.Fields["displayName"] != "Ann" {
		t.Fatalf("unexpected state %#v", state)
	}

	source.push(&identity.Identity{UID: "u2"})
	missing := holder.State()
	if missing.Profile != nil || missing.Error != docstore.MessageDocumentNotFound {
		t.Fatalf("expected not found error, got %#v", missing)
	}

	source.push(nil)
	cleared := holder.State()
	if cleared.Loading || cleared.Profile != nil || cleared.Error != "" {
		t.Fatalf("expected cleared state, got %#v", cleared)
	}
}

func TestUpdateProfileMergesLocally(t *testing.T) {
	t.Parallel()
	holder, source, store := newHolder(t)
	ctx := context.Background()

	if outcome := holder.UpdateProfile(ctx, docstore.Fields{"displayName": "X"}); outcome.Success || outcome.Error != MessageNoUserLoggedIn {
		t.Fatalf("unexpected outcome %#v", outcome)
	}

	store.CreateWithID(ctx, UsersCollection, "u1", docstore.Fields{"email": "a@b.com", "displayName": "Ann"}, false)
	source.push(&identity.Identity{UID: "u1"})

	outcome := holder.UpdateProfile(ctx, docstore.Fields{"displayName": "Anna"})
	if !outcome.Success {
		t.Fatalf("update failed: %s", outcome.Error)
	}
	state := holder.State()
	if state.Profile.Fields["displayName"] != "Anna" || state.Profile.Fields["email"] != "a@b.com" {
		t.Fatalf("unexpected merged profile %#v", state.Profile.Fields)
	}
	stored := store.Read(ctx, UsersCollection, "u1")
	if stored.Data.Fields["displayName"] != "Anna" {
		t.Fatalf("update not persisted: %#v", stored.Data.Fields)
	}
}

func TestRefreshAndClear(t *testing.T) {
	t.Parallel()
	holder, source, store := newHolder(t)
	ctx := context.Background()

	store.CreateWithID(ctx, UsersCollection, "u1", docstore.Fields{"displayName": "Ann"}, false)
	source.push(&identity.Identity{UID: "u1"})
	store.Update(ctx, UsersCollection, "u1", docstore.Fields{"displayName": "Changed elsewhere"})

	holder.Refresh(ctx)
	if holder.State().Profile.Fields["displayName"] != "Changed elsewhere" {
		t.Fatalf("refresh did not reload the profile")
	}

	holder.Clear()
	if state := holder.State(); state.Profile != nil || state.Error != "" {
		t.Fatalf("clear left state %#v", state)
	}
}
