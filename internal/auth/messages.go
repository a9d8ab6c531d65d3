package auth

import (
	"errors"

	"github.com/tyemirov/tbase/internal/identity"
)

// User-facing messages.
const (
	MessageFallback       = "An error occurred. Please try again"
	MessageNoUserLoggedIn = "No user logged in"
)

var providerMessages = map[string]string{
	identity.CodeEmailAlreadyInUse:     "This email is already registered",
	identity.CodeInvalidEmail:          "Invalid email address",
	identity.CodeOperationNotAllowed:   "Operation not allowed",
	identity.CodeWeakPassword:          "Password is too weak (minimum 6 characters)",
	identity.CodeUserDisabled:          "This account has been disabled",
	identity.CodeUserNotFound:          "No account found with this email",
	identity.CodeWrongPassword:         "Incorrect password",
	identity.CodeInvalidCredential:     "Invalid email or password",
	identity.CodeTooManyRequests:       "Too many failed attempts. Please try again later",
	identity.CodeNetworkRequestFailed:  "Network error. Please check your connection",
	identity.CodePopupClosedByUser:     "Sign-in popup was closed",
	identity.CodeCancelledPopupRequest: "Sign-in cancelled",
	identity.CodeExpiredActionCode:     "This link has expired. Please request a new one",
	identity.CodeInvalidActionCode:     "This link is invalid or has already been used",
}

// MessageForCode maps a provider error code to its user-facing message.
// Unknown codes map to MessageFallback; raw codes are never returned.
func MessageForCode(code string) string {
	if message, ok := providerMessages[code]; ok {
		return message
	}
	return MessageFallback
}

// MessageForError maps any error to a user-facing message.
func MessageForError(err error) string {
	if errors.Is(err, identity.ErrNoCurrentUser) {
		return MessageNoUserLoggedIn
	}
	return MessageForCode(identity.CodeOf(err))
}

// KnownCodes lists every provider code with a dedicated message.
func KnownCodes() []string {
	codes := make([]string, 0, len(providerMessages))
	for code := range providerMessages {
		codes = append(codes, code)
	}
	return codes
}
