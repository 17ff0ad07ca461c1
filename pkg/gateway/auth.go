package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SecretHeader carries the shared secret on HTTP and websocket requests.
const SecretHeader = "X-Agerus-Secret"

// AuthHandler checks the shared secret. An empty secret allows everyone.
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

// Authorize accepts the secret from the header, a bearer token or the
// token query parameter (browsers cannot set websocket headers).
func (a *AuthHandler) Authorize(r *http.Request) bool {
	if a.sharedSecret == "" {
		return true
	}

	presented := r.Header.Get(SecretHeader)
	if presented == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			presented = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if presented == "" {
		presented = r.URL.Query().Get("token")
	}

	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(presented)) == 1
}
