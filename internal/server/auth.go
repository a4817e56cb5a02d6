package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// requireUser is middleware that checks HTTP basic credentials against the
// configured bcrypt hashes. It passes everything through when no users are
// configured.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.users) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if !h.limiter.allow(ip) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		user, pass, ok := r.BasicAuth()
		hash, known := h.users[user]
		if !ok || !known || bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil {
			h.limiter.fail(ip)
			h.log.WithField("remote", ip).WithField("user", user).Warn("rejected status API credentials")
			w.Header().Set("WWW-Authenticate", `Basic realm="dnswatch"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// rateLimiter blocks an IP after too many failed logins within a window.
type rateLimiter struct {
	mu     sync.Mutex
	tokens map[string]*tokenBucket
}

type tokenBucket struct {
	count   int
	resetAt time.Time
}

const (
	rateLimitFailures = 10
	rateLimitWindow   = time.Minute
)

func newRateLimiter() *rateLimiter {
	return &rateLimiter{tokens: make(map[string]*tokenBucket)}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.tokens[ip]
	if !ok {
		return true
	}
	if time.Now().After(b.resetAt) {
		delete(rl.tokens, ip)
		return true
	}
	return b.count < rateLimitFailures
}

func (rl *rateLimiter) fail(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.tokens[ip]
	if !ok || time.Now().After(b.resetAt) {
		rl.tokens[ip] = &tokenBucket{count: 1, resetAt: time.Now().Add(rateLimitWindow)}
		return
	}
	b.count++
}
