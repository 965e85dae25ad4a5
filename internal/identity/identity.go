// Package identity resolves the calling user for each request.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

const (
	AnonCookieName   = "ritual_anon_id"
	UserHeaderName   = "X-User-ID"
	anonCookieMaxAge = 180 * 24 * time.Hour
)

type contextKey int

const userIDKey contextKey = iota

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Options controls how callers are identified. TrustUserHeader honors the
// X-User-ID header; only enable it in development or behind a proxy that
// authenticates callers and sets the header itself, otherwise anyone can act
// as any user. SecureCookie marks the anonymous cookie Secure.
type Options struct {
	TrustUserHeader bool
	SecureCookie    bool
}

// UserRecorder records that a user was seen.
type UserRecorder interface {
	EnsureUser(ctx context.Context, userID string, seenAt time.Time) error
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// ValidUserID reports whether id can be used as a user or partner id.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func setAnonCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// userIDFromRequest prefers a trusted X-User-ID header, then the device
// cookie, and mints a new anonymous id otherwise. An untrusted header is
// ignored.
func userIDFromRequest(w http.ResponseWriter, r *http.Request, opts Options) (string, error) {
	if id := r.Header.Get(UserHeaderName); id != "" && opts.TrustUserHeader {
		if !ValidUserID(id) {
			return "", fmt.Errorf("invalid %s header", UserHeaderName)
		}
		return id, nil
	}

	if c, err := r.Cookie(AnonCookieName); err == nil && anonIDPattern.MatchString(c.Value) {
		setAnonCookie(w, c.Value, opts.SecureCookie)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, opts.SecureCookie)
	return id, nil
}

// Middleware resolves the user for every request and records them in repo.
func Middleware(repo UserRecorder, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := userIDFromRequest(w, r, opts)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"invalid user identity"}`, http.StatusBadRequest)
				return
			}

			if err := repo.EnsureUser(r.Context(), userID, time.Now()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"failed to initialize user"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
