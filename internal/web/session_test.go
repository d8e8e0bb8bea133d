package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateSessionID()
		if err != nil {
			t.Fatalf("GenerateSessionID() error = %v", err)
		}
		if !ValidateSessionID(id) {
			t.Fatalf("GenerateSessionID() = %q, not valid", id)
		}
		if seen[id] {
			t.Fatalf("duplicate session ID %q", id)
		}
		seen[id] = true
	}
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{testSession, true},
		{"", false},
		{"abc", false},
		{"zz23456789abcdef0123456789abcdef", false},
		{testSession + "00", false},
	}
	for _, tt := range tests {
		if got := ValidateSessionID(tt.id); got != tt.want {
			t.Errorf("ValidateSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestSessionMiddleware(t *testing.T) {
	var got string
	h := SessionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetSessionID(r.Context())
	}), false)

	t.Run("reuses valid cookie", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: testSession})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if got != testSession {
			t.Errorf("session = %q, want %q", got, testSession)
		}
		if len(rec.Result().Cookies()) != 0 {
			t.Error("cookie reissued for a valid session")
		}
	})

	t.Run("replaces invalid cookie", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "../../etc"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		cookies := rec.Result().Cookies()
		if len(cookies) != 1 {
			t.Fatalf("got %d cookies, want 1", len(cookies))
		}
		if cookies[0].Value != got || !ValidateSessionID(got) {
			t.Errorf("cookie %q, context %q", cookies[0].Value, got)
		}
		if !cookies[0].HttpOnly || cookies[0].Secure {
			t.Errorf("cookie flags HttpOnly=%v Secure=%v", cookies[0].HttpOnly, cookies[0].Secure)
		}
	})
}
