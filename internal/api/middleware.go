package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// KeySet holds the accepted API keys. Entries that look like bcrypt hashes
// are compared as hashes, everything else as plain keys.
type KeySet struct {
	plain  [][]byte
	hashes [][]byte
}

// NewKeySet creates a key set, skipping empty entries
func NewKeySet(keys []string) *KeySet {
	ks := &KeySet{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		switch {
		case k == "":
		case IsBcryptHash(k):
			ks.hashes = append(ks.hashes, []byte(k))
		default:
			ks.plain = append(ks.plain, []byte(k))
		}
	}
	return ks
}

// IsBcryptHash reports whether s has the shape of a bcrypt hash
func IsBcryptHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// Empty reports whether no key is configured
func (ks *KeySet) Empty() bool {
	return len(ks.plain) == 0 && len(ks.hashes) == 0
}

// Match reports whether key is accepted
func (ks *KeySet) Match(key string) bool {
	if key == "" {
		return false
	}
	k := []byte(key)
	for _, p := range ks.plain {
		if subtle.ConstantTimeCompare(p, k) == 1 {
			return true
		}
	}
	for _, h := range ks.hashes {
		if bcrypt.CompareHashAndPassword(h, k) == nil {
			return true
		}
	}
	return false
}

// authMiddleware checks API key authentication
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.keys.Empty() {
			// No API key configured, allow all
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			auth = r.Header.Get("X-API-Key")
		}
		auth = strings.TrimPrefix(auth, "Bearer ")

		if !s.keys.Match(auth) {
			s.logger.Warn("unauthorized API request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			s.sendError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
