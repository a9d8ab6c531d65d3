package identity

import (
	"context"

	"google.golang.org/api/idtoken"
)

// GoogleTokenValidator verifies Google ID tokens.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// NewGoogleTokenValidator constructs the production validator backed by Google's public keys.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	return idtoken.NewValidator(ctx)
}

var googleIssuers = map[string]struct{}{
	"https://accounts.google.com": {},
	"accounts.google.com":         {},
}

type googleClaims struct {
	subject       string
	email         string
	emailVerified bool
	name          string
	picture       string
	nonce         string
}

func readGoogleClaims(payload *idtoken.Payload) (googleClaims, bool) {
	if payload == nil {
		return googleClaims{}, false
	}
	issuer, _ := payload.Claims["iss"].(string)
	if _, known := googleIssuers[issuer]; !known {
		return googleClaims{}, false
	}
	claims := googleClaims{}
	claims.subject, _ = payload.Claims["sub"].(string)
	claims.email, _ = payload.Claims["email"].(string)
	claims.emailVerified, _ = payload.Claims["email_verified"].(bool)
	claims.name, _ = payload.Claims["name"].(string)
	claims.picture, _ = payload.Claims["picture"].(string)
	claims.nonce, _ = payload.Claims["nonce"].(string)
	if claims.subject == "" {
		claims.subject = payload.Subject
	}
	if claims.subject == "" || claims.email == "" || !claims.emailVerified {
		return googleClaims{}, false
	}
	return claims, true
}
