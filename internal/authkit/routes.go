package authkit

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tbase/internal/auth"
	"github.com/tyemirov/tbase/internal/identity"
	"github.com/tyemirov/tbase/internal/result"
	"go.uber.org/zap"
)

// Messages for failures detected by the HTTP layer itself.
const (
	MessageInvalidRequest = "Invalid request"
	MessageHTTPSRequired  = "A secure connection is required"
	MessageNonceRejected  = "Sign-in request expired. Please try again"
	MessageSessionExpired = "Your session has expired. Please sign in again"
)

type authRoutes struct {
	configuration ServerConfig
	services      Services
}

type googleRequest struct {
	GoogleIDToken string `json:"google_id_token" binding:"required"`
	Nonce         string `json:"nonce" binding:"required"`
}

type confirmResetRequest struct {
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

type verificationRequest struct {
	Code string `json:"code" binding:"required"`
}

type profileRequest struct {
	DisplayName *string `json:"displayName"`
	PhotoURL    *string `json:"photoURL"`
}

// MountAuthRoutes registers the /auth routes and GET /me. Sign-in routes set an
// HS256 session cookie and a rotating refresh cookie; every response body is a
// Result envelope.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, services Services) error {
	configuration = configuration.WithDefaults()
	routes := &authRoutes{configuration: configuration, services: services.WithDefaults(configuration)}
	requireSession, err := RequireSession(configuration, routes.services.Clock)
	if err != nil {
		return err
	}

	router.POST("/auth/signup", routes.signup)
	router.POST("/auth/login", routes.login)
	router.GET("/auth/nonce", routes.nonce)
	router.POST("/auth/google", routes.google)
	router.POST("/auth/refresh", routes.refresh)
	router.POST("/auth/logout", routes.logout)
	router.POST("/auth/password-reset", routes.passwordReset)
	router.POST("/auth/password-reset/confirm", routes.confirmPasswordReset)
	router.POST("/auth/verification/confirm", routes.confirmVerification)

	router.POST("/auth/verification", requireSession, routes.resendVerification)
	router.PATCH("/auth/profile", requireSession, routes.updateProfile)
	router.GET("/me", requireSession, routes.me)
	return nil
}

func (routes *authRoutes) signup(contextGin *gin.Context) {
	var form auth.SignupForm
	if err := contextGin.ShouldBindJSON(&form); err != nil {
		AbortResult(contextGin, http.StatusBadRequest, MessageInvalidRequest)
		return
	}
	if err := auth.ValidateSignupForm(form); err != nil {
		AbortResult(contextGin, http.StatusBadRequest, err.Error())
		return
	}
	outcome := routes.services.NewManager().Signup(contextGin.Request.Context(), form.Email, form.Password, form.DisplayName)
	routes.finishSignIn(contextGin, outcome, http.StatusBadRequest, MetricSignupSuccess, MetricSignupFailure)
}

func (routes *authRoutes) login(contextGin *gin.Context) {
	var form auth.LoginForm
	if err := contextGin.ShouldBindJSON(&form); err != nil {
		AbortResult(contextGin, http.StatusBadRequest, MessageInvalidRequest)
		return
	}
	if err := auth.ValidateLoginForm(form); err != nil {
		AbortResult(contextGin, http.StatusBadRequest, err.Error())
		return
	}
	outcome := routes.services.NewManager().Login(contextGin.Request.Context(), form.Email, form.Password)
	routes.finishSignIn(contextGin, outcome, http.StatusUnauthorized, MetricLoginSuccess, MetricLoginFailure)
}

func (routes *authRoutes) nonce(contextGin *gin.Context) {
	token, err := routes.services.Nonces.Issue(contextGin.Request.Context())
	if err != nil {
		routes.services.Logger.Error("nonce issue failed", zap.String("code", "auth.nonce.issue_failed"), zap.Error(err))
		AbortResult(contextGin, http.StatusInternalServerError, auth.MessageFallback)
		return
	}
	RespondResult(contextGin, http.StatusOK, result.Ok(gin.H{"nonce": token}))
}

func (routes *authRoutes) google(contextGin *gin.Context) {
	var inbound googleRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.GoogleIDToken) == "" {
		AbortResult(contextGin, http.StatusBadRequest, MessageInvalidRequest)
		return
	}
	if !routes.configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
		AbortResult(contextGin, http.StatusBadRequest, MessageHTTPSRequired)
		return
	}
	if err := routes.services.Nonces.Consume(contextGin.Request.Context(), inbound.Nonce); err != nil {
		routes.services.Metrics.Increment(MetricGoogleFailure)
		routes.services.Logger.Info("google sign-in nonce rejected", zap.String("code", "auth.google.nonce_rejected"), zap.Error(err))
		AbortResult(contextGin, http.StatusUnauthorized, MessageNonceRejected)
		return
	}
	outcome := routes.services.NewManager().LoginWithGoogle(contextGin.Request.Context(), inbound.GoogleIDToken, inbound.Nonce)
	routes.finishSignIn(contextGin, outcome, http.StatusUnauthorized, MetricGoogleSuccess, MetricGoogleFailure)
}

func (routes *authRoutes) refresh(contextGin *gin.Context) {
	ctx := contextGin.Request.Context()
	opaque := readCookie(contextGin.Request, routes.configuration.RefreshCookieName)
	if opaque == "" {
		routes.services.Metrics.Increment(MetricRefreshFailure)
		AbortResult(contextGin, http.StatusUnauthorized, MessageSessionExpired)
		return
	}
	uid, currentTokenID, _, err := routes.services.RefreshTokens.Validate(ctx, opaque)
	if err != nil {
		routes.services.Metrics.Increment(MetricRefreshFailure)
		routes.services.Logger.Info("refresh token rejected", zap.String("code", "auth.refresh.rejected"), zap.Error(err))
		AbortResult(contextGin, http.StatusUnauthorized, MessageSessionExpired)
		return
	}
	account, err := routes.services.Identity.Lookup(ctx, uid)
	if err != nil {
		routes.services.Metrics.Increment(MetricRefreshFailure)
		routes.services.Logger.Info("refresh for unknown account", zap.String("code", "auth.refresh.account_missing"), zap.String("uid", uid), zap.Error(err))
		AbortResult(contextGin, http.StatusUnauthorized, MessageSessionExpired)
		return
	}
	if err := routes.startSession(contextGin, account, currentTokenID); err != nil {
		AbortResult(contextGin, http.StatusInternalServerError, auth.MessageFallback)
		return
	}
	if err := routes.services.RefreshTokens.Revoke(ctx, currentTokenID); err != nil {
		routes.services.Logger.Error("rotated refresh token not revoked", zap.String("code", "auth.refresh.revoke_failed"), zap.Error(err))
		AbortResult(contextGin, http.StatusInternalServerError, auth.MessageFallback)
		return
	}
	routes.services.Metrics.Increment(MetricRefreshSuccess)
	RespondResult(contextGin, http.StatusOK, result.Ok(account))
}

// logout revokes the presented refresh token; with ?all=true every refresh token
// of its owner is revoked.
func (routes *authRoutes) logout(contextGin *gin.Context) {
	ctx := contextGin.Request.Context()
	if opaque := readCookie(contextGin.Request, routes.configuration.RefreshCookieName); opaque != "" {
		uid, tokenID, _, err := routes.services.RefreshTokens.Validate(ctx, opaque)
		if err == nil {
			routes.revokeOnLogout(ctx, uid, tokenID, contextGin.Query("all") == "true")
		}
	}
	clearCookie(contextGin, routes.configuration, routes.configuration.SessionCookieName, "/")
	clearCookie(contextGin, routes.configuration, routes.configuration.RefreshCookieName, "/auth")
	routes.services.Metrics.Increment(MetricLogout)
	RespondResult(contextGin, http.StatusOK, result.Ok(struct{}{}))
}

func (routes *authRoutes) revokeOnLogout(ctx context.Context, uid string, tokenID string, everywhere bool) {
	if everywhere {
		if _, err := routes.services.RefreshTokens.RevokeAll(ctx, uid); err != nil {
			routes.services.Logger.Warn("logout revoke all failed", zap.String("code", "auth.logout.revoke_all_failed"), zap.Error(err))
		}
		return
	}
	if err := routes.services.RefreshTokens.Revoke(ctx, tokenID); err != nil && !errors.Is(err, ErrRefreshTokenAlreadyRevoked) {
		routes.services.Logger.Warn("logout revoke failed", zap.String("code", "auth.logout.revoke_failed"), zap.Error(err))
	}
}

func (routes *authRoutes) passwordReset(contextGin *gin.Context) {
	var form auth.ResetForm
	if err := contextGin.ShouldBindJSON(&form); err != nil {
		AbortResult(contextGin, http.StatusBadRequest, MessageInvalidRequest)
		return
	}
	if err := auth.ValidateResetForm(form); err != nil {
		AbortResult(contextGin, http.StatusBadRequest, err.Error())
		return
	}
	outcome := routes.services.NewManager().ResetPassword(contextGin.Request.Context(), form.Email)
	routes.respondAction(contextGin, outcome, MetricPasswordResetSent)
}

func (routes *authRoutes) confirmPasswordReset(contextGin *gin.Context) {
	var inbound confirmResetRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		AbortResult(contextGin, http.StatusBadRequest, MessageInvalidRequest)
		return
	}
	outcome := routes.services.NewManager().ConfirmPasswordReset(contextGin.Request.Context(), inbound.Code, inbound.NewPassword)
	routes.respondAction(contextGin, outcome, MetricPasswordResetDone)
}

func (routes *authRoutes) confirmVerification(contextGin *gin.Context) {
	var inbound verificationRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		AbortResult(contextGin, http.StatusBadRequest, MessageInvalidRequest)
		return
	}
	outcome := routes.services.NewManager().VerifyEmail(contextGin.Request.Context(), inbound.Code)
	if !outcome.Success {
		RespondResult(contextGin, http.StatusBadRequest, outcome)
		return
	}
	routes.services.Metrics.Increment(MetricVerificationApplied)
	RespondResult(contextGin, http.StatusOK, outcome)
}

func (routes *authRoutes) resendVerification(contextGin *gin.Context) {
	manager, ok := routes.services.RestoreSession(contextGin)
	if !ok {
		return
	}
	outcome := manager.ResendVerification(contextGin.Request.Context())
	routes.respondAction(contextGin, outcome, MetricVerificationSent)
}

// updateProfile changes the account's display name or photo and reissues the
// session cookie so its claims follow.
func (routes *authRoutes) updateProfile(contextGin *gin.Context) {
	var inbound profileRequest
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		AbortResult(contextGin, http.StatusBadRequest, MessageInvalidRequest)
		return
	}
	update := identity.ProfileUpdate{DisplayName: inbound.DisplayName, PhotoURL: inbound.PhotoURL}
	if update.Empty() {
		AbortResult(contextGin, http.StatusBadRequest, MessageInvalidRequest)
		return
	}
	manager, ok := routes.services.RestoreSession(contextGin)
	if !ok {
		return
	}
	outcome := manager.UpdateProfile(contextGin.Request.Context(), update)
	if !outcome.Success {
		RespondResult(contextGin, http.StatusBadRequest, outcome)
		return
	}
	sessionToken, expiresAt, err := MintAppJWT(routes.services.Clock, outcome.Data, routes.configuration.AppJWTIssuer, routes.configuration.AppJWTSigningKey, routes.configuration.SessionTTL)
	if err != nil {
		routes.services.Logger.Error("session reissue failed", zap.String("code", "auth.profile.mint_failed"), zap.Error(err))
	} else {
		writeSessionCookie(contextGin, routes.configuration, sessionToken, expiresAt)
	}
	RespondResult(contextGin, http.StatusOK, outcome)
}

func (routes *authRoutes) me(contextGin *gin.Context) {
	manager, ok := routes.services.RestoreSession(contextGin)
	if !ok {
		return
	}
	RespondResult(contextGin, http.StatusOK, result.Ok(*manager.CurrentIdentity()))
}

func (routes *authRoutes) finishSignIn(contextGin *gin.Context, outcome result.Result[identity.Identity], failureStatus int, successMetric string, failureMetric string) {
	if !outcome.Success {
		routes.services.Metrics.Increment(failureMetric)
		RespondResult(contextGin, failureStatus, outcome)
		return
	}
	if err := routes.startSession(contextGin, outcome.Data, ""); err != nil {
		routes.services.Metrics.Increment(failureMetric)
		AbortResult(contextGin, http.StatusInternalServerError, auth.MessageFallback)
		return
	}
	routes.services.Metrics.Increment(successMetric)
	RespondResult(contextGin, http.StatusOK, outcome)
}

func (routes *authRoutes) respondAction(contextGin *gin.Context, outcome result.Result[struct{}], successMetric string) {
	if !outcome.Success {
		RespondResult(contextGin, http.StatusBadRequest, outcome)
		return
	}
	routes.services.Metrics.Increment(successMetric)
	RespondResult(contextGin, http.StatusOK, outcome)
}

// startSession mints the session token and a refresh token rotating previousTokenID.
func (routes *authRoutes) startSession(contextGin *gin.Context, account identity.Identity, previousTokenID string) error {
	sessionToken, sessionExpiresAt, err := MintAppJWT(routes.services.Clock, account, routes.configuration.AppJWTIssuer, routes.configuration.AppJWTSigningKey, routes.configuration.SessionTTL)
	if err != nil {
		routes.services.Logger.Error("session mint failed", zap.String("code", "auth.session.mint_failed"), zap.Error(err))
		return err
	}
	refreshExpiresAt := routes.services.Clock.Now().UTC().Add(routes.configuration.RefreshTTL)
	_, refreshOpaque, err := routes.services.RefreshTokens.Issue(contextGin.Request.Context(), account.UID, refreshExpiresAt.Unix(), previousTokenID)
	if err != nil {
		routes.services.Logger.Error("refresh token issue failed", zap.String("code", "auth.session.refresh_issue_failed"), zap.Error(err))
		return err
	}
	writeSessionCookie(contextGin, routes.configuration, sessionToken, sessionExpiresAt)
	writeRefreshCookie(contextGin, routes.configuration, refreshOpaque, refreshExpiresAt)
	return nil
}
