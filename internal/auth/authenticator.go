package auth

import (
	"net/http"
	"strings"
)

// Authenticator validates the credential presented when a realtime
// connection is established. It runs once per connection.
type Authenticator struct {
	secret string
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: secret}
}

func (a *Authenticator) Authenticate(token string) (Identity, error) {
	return ParseJWT(token, a.secret)
}

// AuthenticateRequest looks for a token in the query string (?token=),
// the Authorization header, then the access_token cookie.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (Identity, error) {
	return a.Authenticate(TokenFromRequest(r))
}

func TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t
	}
	if t := BearerToken(r.Header.Get("Authorization")); t != "" {
		return t
	}
	if ck, err := r.Cookie("access_token"); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
