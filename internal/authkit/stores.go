package authkit

import "context"

// RefreshTokenStore manages long-lived rotating refresh tokens. Only hashes of the
// opaque values are stored.
type RefreshTokenStore interface {
	Issue(ctx context.Context, uid string, expiresUnix int64, previousTokenID string) (tokenID string, tokenOpaque string, err error)
	Validate(ctx context.Context, tokenOpaque string) (uid string, tokenID string, expiresUnix int64, err error)
	Revoke(ctx context.Context, tokenID string) error
	// RevokeAll revokes every live token of uid and reports how many were revoked.
	RevokeAll(ctx context.Context, uid string) (int, error)
}
