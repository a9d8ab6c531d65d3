package identity

import (
	"errors"
	"fmt"
)

// Provider error codes surfaced by backends.
const (
	CodeEmailAlreadyInUse     = "auth/email-already-in-use"
	CodeInvalidEmail          = "auth/invalid-email"
	CodeOperationNotAllowed   = "auth/operation-not-allowed"
	CodeWeakPassword          = "auth/weak-password"
	CodeUserDisabled          = "auth/user-disabled"
	CodeUserNotFound          = "auth/user-not-found"
	CodeWrongPassword         = "auth/wrong-password"
	CodeInvalidCredential     = "auth/invalid-credential"
	CodeTooManyRequests       = "auth/too-many-requests"
	CodeNetworkRequestFailed  = "auth/network-request-failed"
	CodePopupClosedByUser     = "auth/popup-closed-by-user"
	CodeCancelledPopupRequest = "auth/cancelled-popup-request"
	CodeExpiredActionCode     = "auth/expired-action-code"
	CodeInvalidActionCode     = "auth/invalid-action-code"
)

var (
	// ErrNoCurrentUser indicates an operation that needs a signed-in identity was called without one.
	ErrNoCurrentUser = errors.New("identity.no_current_user")
)

// ProviderError is an identity platform failure carrying a provider error code.
type ProviderError struct {
	Code string
	Err  error
}

// Error implements error.
func (providerError *ProviderError) Error() string {
	if providerError.Err == nil {
		return providerError.Code
	}
	return fmt.Sprintf("%s: %v", providerError.Code, providerError.Err)
}

// Unwrap exposes the underlying cause.
func (providerError *ProviderError) Unwrap() error {
	return providerError.Err
}

func newProviderError(code string, cause error) error {
	return &ProviderError{Code: code, Err: cause}
}

// CodeOf returns the provider code carried by err, or "" when err is not a ProviderError.
func CodeOf(err error) string {
	var providerError *ProviderError
	if errors.As(err, &providerError) {
		return providerError.Code
	}
	return ""
}
