// Package identity provides anonymous per-visitor identity primitives.
//
// The storefront has no accounts: a visitor is identified by a long-lived
// anonymous cookie, and each open chat widget carries its own widget ID in a
// request header so that one browser can hold independent chat sessions in
// separate tabs.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	AnonCookieName       = "lp_anon_id"
	WidgetHeaderName     = "X-Widget-Session-ID"
	DefaultWidgetIDValue = "default"
	anonCookieMaxAge     = 30 * 24 * time.Hour
)

type contextKey int

const (
	visitorIDKey contextKey = iota
	widgetIDKey
)

var (
	anonIDPattern   = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	widgetIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// VisitorIDFromContext extracts the anonymous visitor ID from the request context.
func VisitorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(visitorIDKey).(string); ok {
		return v
	}
	return ""
}

// WidgetIDFromContext extracts the widget session ID from the request context.
func WidgetIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(widgetIDKey).(string); ok {
		return v
	}
	return DefaultWidgetIDValue
}

// SessionKey is the canonical key for one open chat widget.
func SessionKey(visitorID, widgetID string) string {
	return visitorID + ":" + widgetID
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeWidgetID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !widgetIDPattern.MatchString(id) {
		return DefaultWidgetIDValue
	}
	return id
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

func widgetIDFromRequest(r *http.Request) string {
	wid := r.Header.Get(WidgetHeaderName)
	if wid == "" {
		wid = r.URL.Query().Get("widget_id")
	}
	return sanitizeWidgetID(wid)
}

// Middleware injects the anonymous visitor ID and per-request widget ID.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visitorID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), visitorIDKey, visitorID)
			ctx = context.WithValue(ctx, widgetIDKey, widgetIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
