package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateAnonID(t *testing.T) {
	id, err := generateAnonID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isValidAnonID(id) {
		t.Errorf("generated id %q does not match the expected shape", id)
	}

	other, err := generateAnonID()
	if err != nil {
		t.Fatal(err)
	}
	if id == other {
		t.Error("two generated ids should differ")
	}
}

func TestSanitizeWidgetID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", DefaultWidgetIDValue},
		{"  ", DefaultWidgetIDValue},
		{"tab-1", "tab-1"},
		{"widget:checkout.v2", "widget:checkout.v2"},
		{"has spaces", DefaultWidgetIDValue},
		{"<script>", DefaultWidgetIDValue},
		{strings.Repeat("x", 200), DefaultWidgetIDValue},
	}
	for _, tt := range tests {
		if got := sanitizeWidgetID(tt.in); got != tt.want {
			t.Errorf("sanitizeWidgetID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSessionKey(t *testing.T) {
	if got := SessionKey("anon_ab", "tab-1"); got != "anon_ab:tab-1" {
		t.Errorf("SessionKey = %q, want anon_ab:tab-1", got)
	}
}

func TestMiddlewareAssignsIdentity(t *testing.T) {
	var visitorID, widgetID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		visitorID = VisitorIDFromContext(r.Context())
		widgetID = WidgetIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !isValidAnonID(visitorID) {
		t.Errorf("visitor id %q not assigned", visitorID)
	}
	if widgetID != DefaultWidgetIDValue {
		t.Errorf("widget id = %q, want default", widgetID)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == AnonCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("anon cookie not set")
	}
	if cookie.Value != visitorID {
		t.Errorf("cookie value %q != context visitor id %q", cookie.Value, visitorID)
	}
	if !cookie.HttpOnly {
		t.Error("anon cookie must be HttpOnly")
	}
	if cookie.Secure {
		t.Error("dev mode cookie should not be Secure")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	const existing = "anon_00112233445566778899aabbccddeeff"

	var visitorID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		visitorID = VisitorIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if visitorID != existing {
		t.Errorf("visitor id = %q, want the existing cookie %q", visitorID, existing)
	}
}

func TestMiddlewareRejectsMalformedCookie(t *testing.T) {
	var visitorID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		visitorID = VisitorIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "not-a-valid-id"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if visitorID == "not-a-valid-id" {
		t.Error("malformed cookie must be replaced, not trusted")
	}
	if !isValidAnonID(visitorID) {
		t.Errorf("replacement id %q invalid", visitorID)
	}
}

func TestMiddlewareReadsWidgetHeader(t *testing.T) {
	var widgetID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		widgetID = WidgetIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(WidgetHeaderName, "tab-2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if widgetID != "tab-2" {
		t.Errorf("widget id = %q, want tab-2", widgetID)
	}
}
