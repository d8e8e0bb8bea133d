package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

const (
	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "tagweave_session"

	// SessionIDLength is the length of the session ID in bytes (128 bits).
	SessionIDLength = 16

	// SessionExpiry is how long a session cookie lasts.
	SessionExpiry = 24 * time.Hour
)

type contextKey int

const sessionIDKey contextKey = iota

// GenerateSessionID returns a new random hex-encoded session ID.
func GenerateSessionID() (string, error) {
	b := make([]byte, SessionIDLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GetSessionID returns the session ID stored by SessionMiddleware, or "".
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(sessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// WithSessionID returns a copy of ctx carrying sessionID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// ValidateSessionID reports whether sessionID has the generated format.
func ValidateSessionID(sessionID string) bool {
	if len(sessionID) != SessionIDLength*2 {
		return false
	}
	_, err := hex.DecodeString(sessionID)
	return err == nil
}

// SessionMiddleware attaches a session ID to every request, reusing a valid
// cookie or issuing a new one. secure sets the cookie's Secure flag.
func SessionMiddleware(next http.Handler, secure bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sessionID string
		if cookie, err := r.Cookie(SessionCookieName); err == nil && ValidateSessionID(cookie.Value) {
			sessionID = cookie.Value
		}

		if sessionID == "" {
			var err error
			sessionID, err = GenerateSessionID()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookieName,
				Value:    sessionID,
				Path:     "/",
				MaxAge:   int(SessionExpiry.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteStrictMode,
				Secure:   secure,
			})
		}

		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sessionID)))
	})
}
