package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth rejects requests without the API token. Websocket clients that
// cannot set headers may pass it as ?access_token= on the stream endpoint.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validToken(r, token) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validToken(r *http.Request, token string) bool {
	if token == "" {
		return false
	}
	presented := ""
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		presented = auth[len(prefix):]
	} else if strings.HasSuffix(r.URL.Path, "/stream") {
		presented = r.URL.Query().Get("access_token")
	}
	return presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}
