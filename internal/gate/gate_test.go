package gate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()
	g := New()

	cases := []struct {
		name       string
		path       string
		credential string
		allow      bool
	}{
		{"login page without credential", "/login", "", true},
		{"login page with credential", "/login", "tok", true},
		{"logout without credential", "/logout", "", true},
		{"api path without credential", "/api/slugs", "", true},
		{"api auth check without credential", "/api/auth/check", "", true},
		{"dashboard without credential", "/", "", false},
		{"slug page without credential", "/slugs/password-reset", "", false},
		{"dashboard with credential", "/", "tok", true},
		{"slug page with credential", "/slugs/password-reset", "abc123", true},
		{"path merely containing login", "/loginhelp", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := g.Evaluate(tc.path, tc.credential)
			assert.Equal(t, tc.allow, d.Allow)
			if !tc.allow {
				assert.Equal(t, "/login", d.RedirectTo)
			}
		})
	}
}

func TestEvaluateCustomPaths(t *testing.T) {
	t.Parallel()
	g := New(WithPaths("/signin", "/signout", "/v1/"))

	assert.True(t, g.Evaluate("/signin", "").Allow)
	assert.True(t, g.Evaluate("/v1/anything", "").Allow)
	d := g.Evaluate("/login", "")
	assert.False(t, d.Allow)
	assert.Equal(t, "/signin", d.RedirectTo)
}

func TestMiddlewareRedirectsWithoutSession(t *testing.T) {
	t.Parallel()
	g := New()

	var handlerCalled bool
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/slugs", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	// A denied request never reaches the protected view.
	assert.False(t, handlerCalled)
}

func TestMiddlewarePassesWithSession(t *testing.T) {
	t.Parallel()
	g := New()

	var gotCredential string
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCredential = CredentialFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/slugs", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "tok-123"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-123", gotCredential)
}

func TestMiddlewareExemptPathSkipsCheck(t *testing.T) {
	t.Parallel()
	g := New()

	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/login", "/logout", "/api/slugs"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestCheckHandler(t *testing.T) {
	t.Parallel()
	g := New()
	h := g.CheckHandler()

	t.Run("authenticated", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: "tok"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var body map[string]bool
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body["authenticated"])
	})

	t.Run("unauthenticated", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var body map[string]bool
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body["authenticated"])
	})

	t.Run("empty cookie value is unauthenticated", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: ""})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
