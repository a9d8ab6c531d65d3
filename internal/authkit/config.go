package authkit

import (
	"net/http"
	"time"

	"github.com/tyemirov/tbase/pkg/sessionvalidator"
)

// DefaultRefreshCookieName names the refresh cookie when ServerConfig leaves it empty.
const DefaultRefreshCookieName = "app_refresh"

// ServerConfig configures issuers, cookies, and TTLs of the HTTP session layer.
type ServerConfig struct {
	GoogleWebClientID string
	AppJWTSigningKey  []byte
	AppJWTIssuer      string
	CookieDomain      string
	SessionCookieName string
	RefreshCookieName string
	SessionTTL        time.Duration
	RefreshTTL        time.Duration
	NonceTTL          time.Duration
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
}

// WithDefaults fills empty cookie names. The session cookie falls back to the
// name sessionvalidator reads by default.
func (configuration ServerConfig) WithDefaults() ServerConfig {
	if configuration.SessionCookieName == "" {
		configuration.SessionCookieName = sessionvalidator.DefaultCookieName
	}
	if configuration.RefreshCookieName == "" {
		configuration.RefreshCookieName = DefaultRefreshCookieName
	}
	return configuration
}

// Clock supplies timestamps for tokens and cookies.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns a Clock reading the wall clock in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}
