package authkit

import (
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tbase/pkg/sessionvalidator"
)

// ClaimsContextKey is where RequireSession stores the session claims.
const ClaimsContextKey = sessionvalidator.DefaultContextKey

// RequireSession validates the session cookie and injects its claims.
func RequireSession(configuration ServerConfig, clock Clock) (gin.HandlerFunc, error) {
	validatorConfig := sessionvalidator.Config{
		SigningKey: configuration.AppJWTSigningKey,
		Issuer:     configuration.AppJWTIssuer,
		CookieName: configuration.SessionCookieName,
		Clock:      clock,
	}
	validator, err := sessionvalidator.New(validatorConfig)
	if err != nil {
		return nil, err
	}
	return func(contextGin *gin.Context) {
		claims, validateErr := validator.ValidateRequest(contextGin.Request)
		if validateErr != nil {
			abortUnauthorized(contextGin)
			return
		}
		contextGin.Set(ClaimsContextKey, claims)
		contextGin.Next()
	}, nil
}

// SessionClaims returns the claims stored by RequireSession.
func SessionClaims(contextGin *gin.Context) (*sessionvalidator.Claims, bool) {
	value, exists := contextGin.Get(ClaimsContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*sessionvalidator.Claims)
	return claims, ok && claims != nil
}
