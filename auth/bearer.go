package auth

import (
	"net/http"
	"strings"
)

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ClientCredentials reads client_id and client_secret from HTTP Basic auth
// first, then from form fields.
func ClientCredentials(r *http.Request) (string, string) {
	if r == nil {
		return "", ""
	}
	if id, secret, ok := r.BasicAuth(); ok {
		return strings.TrimSpace(id), secret
	}
	return strings.TrimSpace(r.PostFormValue("client_id")), r.PostFormValue("client_secret")
}
