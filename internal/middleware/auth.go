package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// AdminKeyAuth guards the administrative routes with a static API key,
// checked against the X-API-Key header. Comparison is over SHA-256 digests
// so timing does not leak the key length or a matching prefix.
//
// An empty configured key disables the check; the server refuses to start
// that way in production.
func AdminKeyAuth(key string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(key))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := sha256.Sum256([]byte(r.Header.Get("X-API-Key")))
			if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusUnauthorized,
					"message": "unauthorized: provide a valid API key",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
