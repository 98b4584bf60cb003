package httpx

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// SharedSecret verifies a bearer credential presented by a machine caller such
// as the reminder cron trigger. The configured value may be the plaintext
// secret or a bcrypt hash of it.
type SharedSecret struct {
	plain []byte
	hash  []byte
}

func NewSharedSecret(configured string) SharedSecret {
	configured = strings.TrimSpace(configured)
	if isBcryptHash(configured) {
		return SharedSecret{hash: []byte(configured)}
	}
	return SharedSecret{plain: []byte(configured)}
}

func (s SharedSecret) Configured() bool {
	return len(s.plain) > 0 || len(s.hash) > 0
}

func (s SharedSecret) Verify(presented string) bool {
	if !s.Configured() || presented == "" {
		return false
	}
	if len(s.hash) > 0 {
		return bcrypt.CompareHashAndPassword(s.hash, []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare(s.plain, []byte(presented)) == 1
}

// RequireBearer rejects requests whose Authorization header does not carry the secret.
func RequireBearer(secret SharedSecret) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok || !secret.Verify(token) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"success":false,"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return token, token != ""
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}
