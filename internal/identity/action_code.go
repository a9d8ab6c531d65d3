package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

const actionCodeByteLength = 24

// Action modes placed in emailed links.
const (
	modeResetPassword = "resetPassword"
	modeVerifyEmail   = "verifyEmail"
)

func generateActionCode() (string, string, error) {
	randomBytes := make([]byte, actionCodeByteLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("identity.action_code.random: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(randomBytes)
	return code, hashActionCode(code), nil
}

func hashActionCode(code string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(code)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func actionURL(baseURL string, mode string, code string) string {
	query := url.Values{}
	query.Set("mode", mode)
	query.Set("oobCode", code)
	return strings.TrimRight(baseURL, "/") + "/auth/action?" + query.Encode()
}
