// Package auth is the session manager: it drives sign-up, sign-in and account
// actions against an identity client, provisions profile documents, and turns
// every provider failure into a user-facing Result.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/identity"
	"github.com/tyemirov/tbase/internal/result"
	"go.uber.org/zap"
)

// Profile document layout.
const (
	UsersCollection = "users"

	ProfileProviderEmail  = "email"
	ProfileProviderGoogle = "google"
)

// Manager runs auth operations for a single session.
type Manager struct {
	client *identity.Client
	store  *docstore.Store
	logger *zap.Logger
	now    func() time.Time

	mutex     sync.Mutex
	lastError string
}

// NewManager constructs a Manager over an existing identity client.
func NewManager(client *identity.Client, store *docstore.Store, logger *zap.Logger) *Manager {
	if client == nil {
		panic("identity client is required")
	}
	if store == nil {
		panic("document store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client: client,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewSessionManager constructs a Manager over a fresh, signed-out identity client.
func NewSessionManager(backend identity.Backend, store *docstore.Store, logger *zap.Logger) *Manager {
	client := identity.NewClient(backend, logger)
	client.Initialize(nil)
	return NewManager(client, store, logger)
}

// Client exposes the identity client, e.g. for session subscriptions.
func (manager *Manager) Client() *identity.Client {
	return manager.client
}

// Restore signs the session in as uid from a persisted session token.
func (manager *Manager) Restore(ctx context.Context, uid string) error {
	return manager.client.Restore(ctx, uid)
}

// CurrentIdentity returns the signed-in identity or nil.
func (manager *Manager) CurrentIdentity() *identity.Identity {
	return manager.client.CurrentIdentity()
}

// IsAuthenticated reports whether an identity is signed in.
func (manager *Manager) IsAuthenticated() bool {
	return manager.client.CurrentIdentity() != nil
}

// LastError returns the message of the most recent failed operation.
// Each operation clears it when it starts.
func (manager *Manager) LastError() string {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return manager.lastError
}

// Signup creates the account, sets the display name, sends the verification email
// and creates the profile document, in that order. Earlier steps are not undone
// when a later one fails.
func (manager *Manager) Signup(ctx context.Context, email string, password string, displayName string) result.Result[identity.Identity] {
	manager.setLastError("")
	created, err := manager.client.CreateUserWithEmailAndPassword(ctx, email, password)
	if err != nil {
		return failWith[identity.Identity](manager, "signup", err)
	}
	if displayName != "" {
		updated, updateErr := manager.client.UpdateProfile(ctx, identity.ProfileUpdate{DisplayName: &displayName})
		if updateErr != nil {
			manager.logPartial("signup.display_name", created.UID, updateErr)
			return failWith[identity.Identity](manager, "signup", updateErr)
		}
		created = updated
	}
	if verifyErr := manager.client.SendEmailVerification(ctx); verifyErr != nil {
		manager.logPartial("signup.verification", created.UID, verifyErr)
		return failWith[identity.Identity](manager, "signup", verifyErr)
	}
	profile := manager.store.CreateWithID(ctx, UsersCollection, created.UID, manager.profileFields(created, ProfileProviderEmail), false)
	if !profile.Success {
		manager.logger.Error("signup left an account without a profile",
			zap.String("code", "auth.signup.partial"),
			zap.String("step", "profile"),
			zap.String("uid", created.UID),
			zap.String("error", profile.Error))
		manager.setLastError(MessageFallback)
		return result.Err[identity.Identity](MessageFallback)
	}
	return result.Ok(created)
}

// Login signs in with email and password.
func (manager *Manager) Login(ctx context.Context, email string, password string) result.Result[identity.Identity] {
	manager.setLastError("")
	signedIn, err := manager.client.SignInWithEmailAndPassword(ctx, email, password)
	if err != nil {
		return failWith[identity.Identity](manager, "login", err)
	}
	return result.Ok(signedIn)
}

// LoginWithGoogle signs in with a Google ID token and provisions the profile
// document on first sign-in.
func (manager *Manager) LoginWithGoogle(ctx context.Context, credential string, nonce string) result.Result[identity.Identity] {
	manager.setLastError("")
	signedIn, err := manager.client.SignInWithGoogle(ctx, credential, nonce)
	if err != nil {
		return failWith[identity.Identity](manager, "login_google", err)
	}
	existing := manager.store.Read(ctx, UsersCollection, signedIn.UID)
	if !existing.Success && existing.Error == docstore.MessageDocumentNotFound {
		created := manager.store.CreateWithID(ctx, UsersCollection, signedIn.UID, manager.profileFields(signedIn, ProfileProviderGoogle), false)
		if !created.Success {
			manager.logger.Warn("google profile provisioning failed",
				zap.String("code", "auth.login_google.profile_failed"),
				zap.String("uid", signedIn.UID),
				zap.String("error", created.Error))
		}
	}
	return result.Ok(signedIn)
}

// Logout signs the session out.
func (manager *Manager) Logout(ctx context.Context) result.Result[struct{}] {
	manager.setLastError("")
	if err := manager.client.SignOut(ctx); err != nil {
		return failWith[struct{}](manager, "logout", err)
	}
	return result.Ok(struct{}{})
}

// ResetPassword emails a password reset link.
func (manager *Manager) ResetPassword(ctx context.Context, email string) result.Result[struct{}] {
	manager.setLastError("")
	if err := manager.client.SendPasswordResetEmail(ctx, email); err != nil {
		return failWith[struct{}](manager, "reset_password", err)
	}
	return result.Ok(struct{}{})
}

// ConfirmPasswordReset sets a new password with an emailed code.
func (manager *Manager) ConfirmPasswordReset(ctx context.Context, code string, newPassword string) result.Result[struct{}] {
	manager.setLastError("")
	if err := manager.client.ConfirmPasswordReset(ctx, code, newPassword); err != nil {
		return failWith[struct{}](manager, "confirm_password_reset", err)
	}
	return result.Ok(struct{}{})
}

// ResendVerification emails a new verification link to the signed-in identity.
func (manager *Manager) ResendVerification(ctx context.Context) result.Result[struct{}] {
	if !manager.IsAuthenticated() {
		return result.Err[struct{}](MessageNoUserLoggedIn)
	}
	manager.setLastError("")
	if err := manager.client.SendEmailVerification(ctx); err != nil {
		return failWith[struct{}](manager, "resend_verification", err)
	}
	return result.Ok(struct{}{})
}

// VerifyEmail applies an emailed verification code and mirrors the flag onto the profile document.
func (manager *Manager) VerifyEmail(ctx context.Context, code string) result.Result[identity.Identity] {
	manager.setLastError("")
	verified, err := manager.client.ApplyEmailVerification(ctx, code)
	if err != nil {
		return failWith[identity.Identity](manager, "verify_email", err)
	}
	if manager.store.Exists(ctx, UsersCollection, verified.UID) {
		if outcome := manager.store.Update(ctx, UsersCollection, verified.UID, docstore.Fields{"emailVerified": true}); !outcome.Success {
			manager.logger.Warn("profile verification flag not updated",
				zap.String("code", "auth.verify_email.profile_update_failed"),
				zap.String("uid", verified.UID),
				zap.String("error", outcome.Error))
		}
	}
	return result.Ok(verified)
}

// UpdateProfile changes the signed-in identity's display name or photo.
func (manager *Manager) UpdateProfile(ctx context.Context, update identity.ProfileUpdate) result.Result[identity.Identity] {
	if !manager.IsAuthenticated() {
		return result.Err[identity.Identity](MessageNoUserLoggedIn)
	}
	manager.setLastError("")
	updated, err := manager.client.UpdateProfile(ctx, update)
	if err != nil {
		return failWith[identity.Identity](manager, "update_profile", err)
	}
	return result.Ok(updated)
}

func (manager *Manager) profileFields(account identity.Identity, provider string) docstore.Fields {
	return docstore.Fields{
		"email":         account.Email,
		"displayName":   nullable(account.DisplayName),
		"emailVerified": account.EmailVerified,
		"photoURL":      nullable(account.PhotoURL),
		"provider":      provider,
		"createdAt":     manager.now().Format(time.RFC3339),
	}
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func (manager *Manager) setLastError(message string) {
	manager.mutex.Lock()
	manager.lastError = message
	manager.mutex.Unlock()
}

func (manager *Manager) logPartial(step string, uid string, err error) {
	manager.logger.Warn("signup stopped after the account was created",
		zap.String("code", "auth.signup.partial"),
		zap.String("step", step),
		zap.String("uid", uid),
		zap.Error(err))
}

func failWith[T any](manager *Manager, operation string, err error) result.Result[T] {
	message := MessageForError(err)
	manager.setLastError(message)
	manager.logger.Info("auth operation failed",
		zap.String("code", "auth."+operation+".failed"),
		zap.String("provider_code", identity.CodeOf(err)),
		zap.Error(err))
	return result.Err[T](message)
}
