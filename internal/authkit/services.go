package authkit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tbase/internal/auth"
	"github.com/tyemirov/tbase/internal/docstore"
	"github.com/tyemirov/tbase/internal/identity"
	"github.com/tyemirov/tbase/internal/result"
	"go.uber.org/zap"
)

const defaultNonceTTL = 5 * time.Minute

// Services are the collaborators shared by the auth and session routes.
// Identity and Documents are required; the rest have in-memory defaults.
type Services struct {
	Identity      identity.Backend
	Documents     *docstore.Store
	RefreshTokens RefreshTokenStore
	Nonces        NonceStore
	Metrics       MetricsRecorder
	Clock         Clock
	Logger        *zap.Logger
}

// WithDefaults fills optional collaborators.
func (services Services) WithDefaults(configuration ServerConfig) Services {
	if services.Identity == nil {
		panic("identity backend is required")
	}
	if services.Documents == nil {
		panic("document store is required")
	}
	if services.RefreshTokens == nil {
		services.RefreshTokens = NewMemoryRefreshTokenStore()
	}
	if services.Nonces == nil {
		ttl := configuration.NonceTTL
		if ttl <= 0 {
			ttl = defaultNonceTTL
		}
		services.Nonces = NewMemoryNonceStore(ttl)
	}
	if services.Metrics == nil {
		services.Metrics = discardMetrics{}
	}
	if services.Clock == nil {
		services.Clock = NewSystemClock()
	}
	if services.Logger == nil {
		services.Logger = zap.NewNop()
	}
	return services
}

// NewManager returns a signed-out session manager for one request.
func (services Services) NewManager() *auth.Manager {
	return auth.NewSessionManager(services.Identity, services.Documents, services.Logger)
}

// RestoreSession returns a manager signed in as the request's session account.
// The account is re-read from the identity backend, so deleted accounts lose
// access before their token expires. On failure the request is aborted with 401.
func (services Services) RestoreSession(contextGin *gin.Context) (*auth.Manager, bool) {
	claims, ok := SessionClaims(contextGin)
	if !ok {
		abortUnauthorized(contextGin)
		return nil, false
	}
	manager := services.NewManager()
	if err := manager.Restore(contextGin.Request.Context(), claims.GetUserID()); err != nil {
		services.Logger.Info("session account could not be restored",
			zap.String("code", "auth.session.restore_failed"),
			zap.String("uid", claims.GetUserID()),
			zap.Error(err))
		abortUnauthorized(contextGin)
		return nil, false
	}
	return manager, true
}

// RespondResult writes outcome as a JSON envelope with status.
func RespondResult[T any](contextGin *gin.Context, status int, outcome result.Result[T]) {
	contextGin.JSON(status, outcome)
}

// AbortResult writes a failed envelope with message and stops the handler chain.
func AbortResult(contextGin *gin.Context, status int, message string) {
	contextGin.AbortWithStatusJSON(status, result.Err[struct{}](message))
}

func abortUnauthorized(contextGin *gin.Context) {
	AbortResult(contextGin, http.StatusUnauthorized, auth.MessageNoUserLoggedIn)
}
