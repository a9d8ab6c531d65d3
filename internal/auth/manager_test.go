package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tyemirov/tbase/internal/database"
	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/identity"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/idtoken"
)

const testClientID = "client.apps.googleusercontent.com"

type stubGoogleValidator struct{}

func (stubGoogleValidator) Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error) {
	if idToken != "google-token" {
		return nil, errors.New("rejected")
	}
	return &idtoken.Payload{
		Issuer:   "accounts.google.com",
		Audience: audience,
		Subject:  "google-sub",
		Claims: map[string]interface{}{
			"iss":            "accounts.google.com",
			"sub":            "google-sub",
			"email":          "g@b.com",
			"email_verified": true,
			"name":           "Gee",
		},
	}, nil
}

// failingVerificationBackend fails every verification email.
type failingVerificationBackend struct {
	identity.Backend
}

func (failingVerificationBackend) SendEmailVerification(ctx context.Context, uid string) error {
	return &identity.ProviderError{Code: identity.CodeNetworkRequestFailed, Err: errors.New("mail relay down")}
}

// acceptingVerificationBackend verifies every code for a fixed identity.
type acceptingVerificationBackend struct {
	identity.Backend
	verified identity.Identity
}

func (backend acceptingVerificationBackend) ApplyEmailVerification(ctx context.Context, code string) (identity.Identity, error) {
	return backend.verified, nil
}

// readOnlyDocumentBackend rejects every update.
type readOnlyDocumentBackend struct {
	*docstore.MemoryBackend
}

func (readOnlyDocumentBackend) Update(ctx context.Context, collectionPath string, documentID string, fields docstore.Fields) error {
	return errors.New("permission denied")
}

type testEnvironment struct {
	backend identity.Backend
	store   *docstore.Store
}

func newTestEnvironment(t *testing.T) testEnvironment {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	handle, err := database.Open(context.Background(), fmt.Sprintf("sqlite:file:auth_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = handle.Close() })
	backend, err := identity.NewDatabaseBackend(context.Background(), handle, identity.DatabaseConfig{
		GoogleClientID: testClientID,
		AppBaseURL:     "https://app.example.com",
	}, nil, stubGoogleValidator{}, zap.NewNop())
	if err != nil {
		t.Fatalf("identity backend: %v", err)
	}
	return testEnvironment{
		backend: backend,
		store:   docstore.NewStore(docstore.NewMemoryBackend(), zap.NewNop()),
	}
}

func (environment testEnvironment) manager() *Manager {
	return NewSessionManager(environment.backend, environment.store, zap.NewNop())
}

func TestSignupProvisionsProfileDocument(t *testing.T) {
	t.Parallel()
	environment := newTestEnvironment(t)
	manager := environment.manager()
	ctx := context.Background()

	outcome := manager.Signup(ctx, "a@b.com", "secret1", "Ann")
	if !outcome.Success {
		t.Fatalf("signup failed: %s", outcome.Error)
	}
	if outcome.Data.DisplayName != "Ann" || !manager.IsAuthenticated() {
		t.Fatalf("unexpected identity %#v", outcome.Data)
	}

	profile := environment.store.Read(ctx, UsersCollection, outcome.Data.UID)
	if !profile.Success {
		t.Fatalf("profile missing: %s", profile.Error)
	}
	fields := profile.Data.Fields
	if fields["email"] != "a@b.com" || fields["displayName"] != "Ann" || fields["provider"] != ProfileProviderEmail {
		t.Fatalf("unexpected profile %#v", fields)
	}
	if fields["emailVerified"] != false || fields["photoURL"] != nil {
		t.Fatalf("unexpected profile flags %#v", fields)
	}
}

func TestSignupWithoutDisplayNameStoresNull(t *testing.T) {
	t.Parallel()
	environment := newTestEnvironment(t)
	manager := environment.manager()

	outcome := manager.Signup(context.Background(), "a@b.com", "secret1", "")
	if !outcome.Success {
		t.Fatalf("signup failed: %s", outcome.Error)
	}
	profile := environment.store.Read(context.Background(), UsersCollection, outcome.Data.UID)
	if value, present := profile.Data.Fields["displayName"]; !present || value != nil {
		t.Fatalf("expected null displayName, got %#v", profile.Data.Fields)
	}
}

func TestSignupPartialFailureKeepsAccount(t *testing.T) {
	t.Parallel()
	environment := newTestEnvironment(t)
	manager := NewSessionManager(failingVerificationBackend{Backend: environment.backend}, environment.store, zap.NewNop())
	ctx := context.Background()

	outcome := manager.Signup(ctx, "a@b.com", "secret1", "Ann")
	if outcome.Success || outcome.Error != "Network error. Please check your connection" {
		t.Fatalf("unexpected outcome %#v", outcome)
	}
	if manager.LastError() != outcome.Error {
		t.Fatalf("expected last error %q, got %q", outcome.Error, manager.LastError())
	}

	again := environment.manager().Login(ctx, "a@b.com", "secret1")
	if !again.Success {
		t.Fatalf("account should remain after partial signup: %s", again.Error)
	}
	if environment.store.Exists(ctx, UsersCollection, again.Data.UID) {
		t.Fatalf("profile must not exist after a failed verification step")
	}
}

func TestLoginErrorsAreMapped(t *testing.T) {
	t.Parallel()
	environment := newTestEnvironment(t)
	ctx := context.Background()
	if outcome := environment.manager().Signup(ctx, "a@b.com", "secret1", "Ann"); !outcome.Success {
		t.Fatalf("signup failed: %s", outcome.Error)
	}

	testCases := []struct {
		name     string
		email    string
		password string
		message  string
	}{
		{name: "wrong password", email: "a@b.com", password: "nope", message: "Incorrect password"},
		{name: "unknown account", email: "z@b.com", password: "secret1", message: "No account found with this email"},
		{name: "invalid email", email: "bogus", password: "secret1", message: "Invalid email address"},
	}
	for _, testCase := range testCases {
		manager := environment.manager()
		outcome := manager.Login(ctx, testCase.email, testCase.password)
		if outcome.Success || outcome.Error != testCase.message {
			t.Fatalf("%s: expected %q, got %#v", testCase.name, testCase.message, outcome)
		}
		if manager.IsAuthenticated() {
			t.Fatalf("%s: failed login must not authenticate", testCase.name)
		}
	}

	manager := environment.manager()
	manager.Login(ctx, "a@b.com", "nope")
	if manager.Login(ctx, "a@b.com", "secret1"); manager.LastError() != "" {
		t.Fatalf("successful call must clear the last error, got %q", manager.LastError())
	}
}

func TestOperationsRequiringSession(t *testing.T) {
	t.Parallel()
	environment := newTestEnvironment(t)
	manager := environment.manager()
	ctx := context.Background()

	if outcome := manager.ResendVerification(ctx); outcome.Success || outcome.Error != MessageNoUserLoggedIn {
		t.Fatalf("unexpected resend outcome %#v", outcome)
	}
	name := "X"
	if outcome := manager.UpdateProfile(ctx, identity.ProfileUpdate{DisplayName: &name}); outcome.Success || outcome.Error != MessageNoUserLoggedIn {
		t.Fatalf("unexpected update outcome %#v", outcome)
	}

	if outcome := manager.Signup(ctx, "a@b.com", "secret1", ""); !outcome.Success {
		t.Fatalf("signup failed: %s", outcome.Error)
	}
	if outcome := manager.ResendVerification(ctx); !outcome.Success {
		t.Fatalf("resend failed: %s", outcome.Error)
	}
	updated := manager.UpdateProfile(ctx, identity.ProfileUpdate{DisplayName: &name})
	if !updated.Success || updated.Data.DisplayName != "X" {
		t.Fatalf("unexpected update outcome %#v", updated)
	}
	if outcome := manager.Logout(ctx); !outcome.Success || manager.IsAuthenticated() {
		t.Fatalf("logout failed: %#v", outcome)
	}
}

func TestLoginWithGoogleProvisionsOnce(t *testing.T) {
	t.Parallel()
	environment := newTestEnvironment(t)
	ctx := context.Background()

	first := environment.manager().LoginWithGoogle(ctx, "google-token", "")
	if !first.Success {
		t.Fatalf("google login failed: %s", first.Error)
	}
	profile := environment.store.Read(ctx, UsersCollection, first.Data.UID)
	if !profile.Success || profile.Data.Fields["provider"] != ProfileProviderGoogle || profile.Data.Fields["displayName"] != "Gee" {
		t.Fatalf("unexpected profile %#v", profile)
	}

	environment.store.Update(ctx, UsersCollection, first.Data.UID, docstore.Fields{"displayName": "Custom"})
	second := environment.manager().LoginWithGoogle(ctx, "google-token", "")
	if !second.Success || second.Data.UID != first.Data.UID {
		t.Fatalf("unexpected second login %#v", second)
	}
	kept := environment.store.Read(ctx, UsersCollection, first.Data.UID)
	if kept.Data.Fields["displayName"] != "Custom" {
		t.Fatalf("existing profile was overwritten: %#v", kept.Data.Fields)
	}

	rejected := environment.manager().LoginWithGoogle(ctx, "forged", "")
	if rejected.Success || rejected.Error != "Invalid email or password" {
		t.Fatalf("unexpected rejection %#v", rejected)
	}
}

func TestResetPasswordAndVerification(t *testing.T) {
	t.Parallel()
	environment := newTestEnvironment(t)
	manager := environment.manager()
	ctx := context.Background()

	if outcome := manager.ResetPassword(ctx, "nobody@b.com"); outcome.Error != "No account found with this email" {
		t.Fatalf("unexpected reset outcome %#v", outcome)
	}
	if outcome := manager.ConfirmPasswordReset(ctx, "bogus", "secret2"); outcome.Error != MessageForCode(identity.CodeInvalidActionCode) {
		t.Fatalf("unexpected confirm outcome %#v", outcome)
	}
	if outcome := manager.VerifyEmail(ctx, "bogus"); outcome.Success {
		t.Fatalf("expected verification failure")
	}
}

func TestVerifyEmailLogsProfileUpdateFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	documents := readOnlyDocumentBackend{MemoryBackend: docstore.NewMemoryBackend()}
	if err := documents.Set(ctx, UsersCollection, "uid-1", docstore.Fields{"email": "a@b.com", "emailVerified": false}, false); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	verified := identity.Identity{UID: "uid-1", Email: "a@b.com", EmailVerified: true}
	manager := NewSessionManager(
		acceptingVerificationBackend{verified: verified},
		docstore.NewStore(documents, zap.NewNop()),
		zap.New(core),
	)

	outcome := manager.VerifyEmail(ctx, "code")
	if !outcome.Success || outcome.Data.UID != "uid-1" {
		t.Fatalf("expected verification to succeed, got %#v", outcome)
	}
	entries := logs.FilterField(zap.String("code", "auth.verify_email.profile_update_failed")).All()
	if len(entries) != 1 {
		t.Fatalf("expected one profile update failure log, got %d", len(entries))
	}
	if entries[0].ContextMap()["uid"] != "uid-1" {
		t.Fatalf("unexpected log fields %v", entries[0].ContextMap())
	}
}
