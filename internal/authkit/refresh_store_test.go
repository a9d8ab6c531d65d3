package authkit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tyemirov/tbase/internal/database"
)

func openTestHandle(t *testing.T) *database.Handle {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	handle, err := database.Open(context.Background(), "sqlite:file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = handle.Close() })
	return handle
}

func refreshStoreCases() []struct {
	name  string
	store func(t *testing.T) RefreshTokenStore
} {
	return []struct {
		name  string
		store func(t *testing.T) RefreshTokenStore
	}{
		{
			name: "memory",
			store: func(t *testing.T) RefreshTokenStore {
				t.Helper()
				return NewMemoryRefreshTokenStore()
			},
		},
		{
			name: "sqlite",
			store: func(t *testing.T) RefreshTokenStore {
				t.Helper()
				store, err := NewDatabaseRefreshTokenStore(context.Background(), openTestHandle(t))
				if err != nil {
					t.Fatalf("failed to create sqlite store: %v", err)
				}
				return store
			},
		},
	}
}

func TestRefreshTokenStoresLifecycle(t *testing.T) {
	t.Parallel()

	for _, testCase := range refreshStoreCases() {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := testCase.store(t)

			expiry := time.Now().Add(10 * time.Minute).Unix()
			tokenID, opaqueToken, err := store.Issue(ctx, "user-123", expiry, "")
			if err != nil {
				t.Fatalf("issue error: %v", err)
			}
			if tokenID == "" || opaqueToken == "" {
				t.Fatalf("expected non-empty token id and opaque token")
			}

			uid, storedTokenID, expiresUnix, err := store.Validate(ctx, opaqueToken)
			if err != nil {
				t.Fatalf("validate error: %v", err)
			}
			if uid != "user-123" || storedTokenID != tokenID || expiresUnix != expiry {
				t.Fatalf("unexpected record %s %s %d", uid, storedTokenID, expiresUnix)
			}

			rotatedID, rotatedOpaque, err := store.Issue(ctx, "user-123", expiry, tokenID)
			if err != nil {
				t.Fatalf("rotate error: %v", err)
			}
			if rotatedID == tokenID || rotatedOpaque == opaqueToken {
				t.Fatalf("rotation must produce a new token")
			}
			if err := store.Revoke(ctx, tokenID); err != nil {
				t.Fatalf("revoke error: %v", err)
			}
			if _, _, _, err := store.Validate(ctx, rotatedOpaque); err != nil {
				t.Fatalf("rotated token should stay valid: %v", err)
			}
		})
	}
}

func TestRefreshTokenStoresShareSentinelErrors(t *testing.T) {
	t.Parallel()

	for _, testCase := range refreshStoreCases() {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := testCase.store(t)

			if _, _, _, err := store.Validate(ctx, "missing"); !errors.Is(err, ErrRefreshTokenNotFound) {
				t.Fatalf("expected ErrRefreshTokenNotFound, got %v", err)
			}
			if _, _, _, err := store.Validate(ctx, "  "); !errors.Is(err, ErrRefreshTokenEmptyOpaque) {
				t.Fatalf("expected ErrRefreshTokenEmptyOpaque, got %v", err)
			}

			tokenID, opaque, err := store.Issue(ctx, "user", time.Now().Add(time.Minute).Unix(), "")
			if err != nil {
				t.Fatalf("issue failed: %v", err)
			}
			if err := store.Revoke(ctx, tokenID); err != nil {
				t.Fatalf("revoke failed: %v", err)
			}
			if err := store.Revoke(ctx, tokenID); !errors.Is(err, ErrRefreshTokenAlreadyRevoked) {
				t.Fatalf("expected ErrRefreshTokenAlreadyRevoked, got %v", err)
			}
			if _, _, _, err := store.Validate(ctx, opaque); !errors.Is(err, ErrRefreshTokenRevoked) {
				t.Fatalf("expected ErrRefreshTokenRevoked, got %v", err)
			}

			_, expiredOpaque, err := store.Issue(ctx, "user", time.Now().Add(-time.Minute).Unix(), "")
			if err != nil {
				t.Fatalf("issue expired failed: %v", err)
			}
			if _, _, _, err := store.Validate(ctx, expiredOpaque); !errors.Is(err, ErrRefreshTokenExpired) {
				t.Fatalf("expected ErrRefreshTokenExpired, got %v", err)
			}

			if err := store.Revoke(ctx, "missing-token"); !errors.Is(err, ErrRefreshTokenNotFound) {
				t.Fatalf("expected ErrRefreshTokenNotFound when revoking missing token, got %v", err)
			}
		})
	}
}

func TestRefreshTokenStoresRevokeAll(t *testing.T) {
	t.Parallel()

	for _, testCase := range refreshStoreCases() {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := testCase.store(t)
			expiry := time.Now().Add(time.Hour).Unix()

			_, first, _ := store.Issue(ctx, "alice", expiry, "")
			_, second, _ := store.Issue(ctx, "alice", expiry, "")
			_, other, _ := store.Issue(ctx, "bob", expiry, "")

			revoked, err := store.RevokeAll(ctx, "alice")
			if err != nil {
				t.Fatalf("revoke all: %v", err)
			}
			if revoked != 2 {
				t.Fatalf("expected 2 revoked tokens, got %d", revoked)
			}
			for _, opaque := range []string{first, second} {
				if _, _, _, err := store.Validate(ctx, opaque); !errors.Is(err, ErrRefreshTokenRevoked) {
					t.Fatalf("expected revoked token, got %v", err)
				}
			}
			if _, _, _, err := store.Validate(ctx, other); err != nil {
				t.Fatalf("other user's token should stay valid: %v", err)
			}
		})
	}
}

func TestNewDatabaseRefreshTokenStoreRequiresHandle(t *testing.T) {
	t.Parallel()
	if _, err := NewDatabaseRefreshTokenStore(context.Background(), nil); !errors.Is(err, errNilDatabaseHandle) {
		t.Fatalf("expected errNilDatabaseHandle, got %v", err)
	}
}
