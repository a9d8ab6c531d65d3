package identity

import "context"

// Backend is the remote identity platform.
// Failures are reported as *ProviderError values.
type Backend interface {
	CreateAccount(ctx context.Context, email string, password string) (Identity, error)
	SignInWithPassword(ctx context.Context, email string, password string) (Identity, error)
	// SignInWithGoogle verifies a Google ID token. A non-empty nonce must match the token's nonce claim.
	SignInWithGoogle(ctx context.Context, credential string, nonce string) (Identity, error)
	Lookup(ctx context.Context, uid string) (Identity, error)
	UpdateProfile(ctx context.Context, uid string, update ProfileUpdate) (Identity, error)
	SendPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, code string, newPassword string) error
	SendEmailVerification(ctx context.Context, uid string) error
	ApplyEmailVerification(ctx context.Context, code string) (Identity, error)
}
