package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tbase/internal/identity"
	"github.com/tyemirov/tbase/pkg/sessionvalidator"
)

const notBeforeSkew = 30 * time.Second

var errEmptySubject = errors.New("subject must be non-empty")

// MintAppJWT signs an HS256 session token carrying account as claims.
func MintAppJWT(clock Clock, account identity.Identity, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(account.UID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", errEmptySubject)
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	issuedAt := clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionvalidator.Claims{
		UserID:          account.UID,
		UserEmail:       account.Email,
		UserDisplayName: account.DisplayName,
		UserPhotoURL:    account.PhotoURL,
		EmailVerified:   account.EmailVerified,
		Provider:        account.ProviderID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   account.UID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-notBeforeSkew)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.sign: %w", err)
	}
	return signed, expiresAt, nil
}

// IdentityFromClaims rebuilds the identity snapshot stored in a session token.
func IdentityFromClaims(claims *sessionvalidator.Claims) identity.Identity {
	return identity.Identity{
		UID:           claims.GetUserID(),
		Email:         claims.GetUserEmail(),
		DisplayName:   claims.GetUserDisplayName(),
		EmailVerified: claims.IsEmailVerified(),
		PhotoURL:      claims.GetUserPhotoURL(),
		ProviderID:    claims.GetProvider(),
	}
}
