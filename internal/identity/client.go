package identity

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Listener receives the current identity; nil means signed out.
type Listener func(current *Identity)

// Client is a per-session handle onto a Backend. It owns the current identity
// and pushes every actual change to its listeners.
type Client struct {
	backend Backend
	logger  *zap.Logger

	mutex          sync.Mutex
	initialized    bool
	current        *Identity
	listeners      map[uint64]Listener
	nextListenerID uint64
}

// NewClient constructs an uninitialized Client. Listeners registered before
// Initialize or Restore hear nothing until the first state is known.
func NewClient(backend Backend, logger *zap.Logger) *Client {
	if backend == nil {
		panic("identity backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		backend:   backend,
		logger:    logger,
		listeners: make(map[uint64]Listener),
	}
}

// Backend exposes the underlying backend.
func (client *Client) Backend() Backend {
	return client.backend
}

// OnAuthStateChanged registers listener and returns its unsubscribe function.
// When the state is already known the listener is invoked immediately.
func (client *Client) OnAuthStateChanged(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	client.mutex.Lock()
	client.nextListenerID++
	listenerID := client.nextListenerID
	client.listeners[listenerID] = listener
	initialized := client.initialized
	current := cloneIdentity(client.current)
	client.mutex.Unlock()

	if initialized {
		listener(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			client.mutex.Lock()
			delete(client.listeners, listenerID)
			client.mutex.Unlock()
		})
	}
}

// CurrentIdentity returns a copy of the signed-in identity, or nil.
func (client *Client) CurrentIdentity() *Identity {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return cloneIdentity(client.current)
}

// Initialize seeds the client with a known state, e.g. signed out (nil) for a fresh session.
func (client *Client) Initialize(current *Identity) {
	client.setCurrent(current)
}

// Restore seeds the client from a persisted session by looking the account up.
// A failed lookup leaves the client signed out.
func (client *Client) Restore(ctx context.Context, uid string) error {
	restored, err := client.backend.Lookup(ctx, uid)
	if err != nil {
		client.setCurrent(nil)
		return err
	}
	client.setCurrent(&restored)
	return nil
}

// CreateUserWithEmailAndPassword creates an account and signs it in.
func (client *Client) CreateUserWithEmailAndPassword(ctx context.Context, email string, password string) (Identity, error) {
	created, err := client.backend.CreateAccount(ctx, email, password)
	if err != nil {
		return Identity{}, err
	}
	client.setCurrent(&created)
	return created, nil
}

// SignInWithEmailAndPassword signs an existing password account in.
func (client *Client) SignInWithEmailAndPassword(ctx context.Context, email string, password string) (Identity, error) {
	signedIn, err := client.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return Identity{}, err
	}
	client.setCurrent(&signedIn)
	return signedIn, nil
}

// SignInWithGoogle exchanges a Google ID token for a signed-in identity.
func (client *Client) SignInWithGoogle(ctx context.Context, credential string, nonce string) (Identity, error) {
	signedIn, err := client.backend.SignInWithGoogle(ctx, credential, nonce)
	if err != nil {
		return Identity{}, err
	}
	client.setCurrent(&signedIn)
	return signedIn, nil
}

// SignOut clears the current identity.
func (client *Client) SignOut(ctx context.Context) error {
	client.setCurrent(nil)
	return nil
}

// SendPasswordResetEmail mails a password reset code to email.
func (client *Client) SendPasswordResetEmail(ctx context.Context, email string) error {
	return client.backend.SendPasswordReset(ctx, email)
}

// ConfirmPasswordReset sets a new password using an emailed code.
func (client *Client) ConfirmPasswordReset(ctx context.Context, code string, newPassword string) error {
	return client.backend.ConfirmPasswordReset(ctx, code, newPassword)
}

// SendEmailVerification mails a verification code to the signed-in identity.
func (client *Client) SendEmailVerification(ctx context.Context) error {
	current := client.CurrentIdentity()
	if current == nil {
		return ErrNoCurrentUser
	}
	return client.backend.SendEmailVerification(ctx, current.UID)
}

// ApplyEmailVerification consumes a verification code. The current identity is
// refreshed when the code belongs to it.
func (client *Client) ApplyEmailVerification(ctx context.Context, code string) (Identity, error) {
	verified, err := client.backend.ApplyEmailVerification(ctx, code)
	if err != nil {
		return Identity{}, err
	}
	client.replaceIfCurrent(verified)
	return verified, nil
}

// UpdateProfile changes the signed-in identity's display name or photo.
func (client *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (Identity, error) {
	current := client.CurrentIdentity()
	if current == nil {
		return Identity{}, ErrNoCurrentUser
	}
	updated, err := client.backend.UpdateProfile(ctx, current.UID, update)
	if err != nil {
		return Identity{}, err
	}
	client.replaceIfCurrent(updated)
	return updated, nil
}

func (client *Client) replaceIfCurrent(candidate Identity) {
	client.mutex.Lock()
	matches := client.current != nil && client.current.UID == candidate.UID
	client.mutex.Unlock()
	if matches {
		client.setCurrent(&candidate)
	}
}

func (client *Client) setCurrent(next *Identity) {
	client.mutex.Lock()
	if client.initialized && sameIdentity(client.current, next) {
		client.mutex.Unlock()
		return
	}
	client.initialized = true
	client.current = cloneIdentity(next)
	listeners := make([]Listener, 0, len(client.listeners))
	for _, listener := range client.listeners {
		listeners = append(listeners, listener)
	}
	snapshot := cloneIdentity(client.current)
	client.mutex.Unlock()

	uid := ""
	if snapshot != nil {
		uid = snapshot.UID
	}
	client.logger.Debug("auth state changed",
		zap.String("code", "identity.state.changed"),
		zap.String("uid", uid))
	for _, listener := range listeners {
		listener(cloneIdentity(snapshot))
	}
}
