// Package identity is the identity platform the auth layer delegates to:
// account storage, password and Google sign-in, one-time action codes, and
// a per-session Client that pushes auth state changes to listeners.
package identity

// Provider identifiers reported in Identity.ProviderID.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google.com"
)

// Identity is the authenticated principal. Values are replaced wholesale on every change.
type Identity struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
	PhotoURL      string `json:"photoURL"`
	ProviderID    string `json:"providerId"`
}

// ProfileUpdate carries optional profile changes. Nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`
	PhotoURL    *string `json:"photoURL,omitempty"`
}

// Empty reports whether the update changes nothing.
func (update ProfileUpdate) Empty() bool {
	return update.DisplayName == nil && update.PhotoURL == nil
}

func sameIdentity(left *Identity, right *Identity) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return *left == *right
}

func cloneIdentity(source *Identity) *Identity {
	if source == nil {
		return nil
	}
	cloned := *source
	return &cloned
}
