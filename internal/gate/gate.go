// Package gate decides whether an inbound dashboard request may proceed,
// based on the presence of a session credential. The credential itself is
// opaque here: issuing and validating sessions belongs to the auth service,
// this layer only checks that one was presented.
package gate

import (
	"context"
	"net/http"
	"strings"
)

// Default request-gating paths for the dashboard.
const (
	DefaultLoginPath  = "/login"
	DefaultLogoutPath = "/logout"
	DefaultAPIPrefix  = "/api/"
	DefaultCookieName = "session"
)

// Decision is the outcome of evaluating one request.
type Decision struct {
	Allow      bool
	RedirectTo string
}

// Gate evaluates requests against the exempt-path rules. The zero value is
// not usable; construct with New.
type Gate struct {
	loginPath  string
	logoutPath string
	apiPrefix  string
	cookieName string
}

// Option customizes a Gate.
type Option func(*Gate)

// WithPaths overrides the login path, logout path and API prefix.
func WithPaths(login, logout, apiPrefix string) Option {
	return func(g *Gate) {
		g.loginPath = login
		g.logoutPath = logout
		g.apiPrefix = apiPrefix
	}
}

// WithCookieName overrides the session cookie name.
func WithCookieName(name string) Option {
	return func(g *Gate) { g.cookieName = name }
}

// New constructs a Gate with the default dashboard paths.
func New(opts ...Option) *Gate {
	g := &Gate{
		loginPath:  DefaultLoginPath,
		logoutPath: DefaultLogoutPath,
		apiPrefix:  DefaultAPIPrefix,
		cookieName: DefaultCookieName,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// LoginPath returns the configured login page path.
func (g *Gate) LoginPath() string { return g.loginPath }

// LogoutPath returns the configured logout action path.
func (g *Gate) LogoutPath() string { return g.logoutPath }

// CookieName returns the configured session cookie name.
func (g *Gate) CookieName() string { return g.cookieName }

// Exempt reports whether the path bypasses the credential check entirely:
// the login page, the logout action, and anything under the API prefix.
func (g *Gate) Exempt(path string) bool {
	return path == g.loginPath || path == g.logoutPath || strings.HasPrefix(path, g.apiPrefix)
}

// Evaluate decides whether a request to path with the given credential may
// proceed. It is a pure function of its inputs: an absent or empty
// credential is the unauthenticated branch, not an error.
func (g *Gate) Evaluate(path, credential string) Decision {
	if g.Exempt(path) {
		return Decision{Allow: true}
	}
	if credential == "" {
		return Decision{Allow: false, RedirectTo: g.loginPath}
	}
	return Decision{Allow: true}
}

type contextKey struct{}

// CredentialFromContext returns the session credential stashed by the
// middleware, or the empty string when the request carried none.
func CredentialFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}

// withCredential returns a child context carrying the session credential.
func withCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, contextKey{}, credential)
}

// Middleware gates page requests. It reads the session cookie, makes the
// credential available on the request context, and redirects unauthenticated
// requests to the login page instead of rendering anything.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := g.credential(r)
		decision := g.Evaluate(r.URL.Path, credential)
		if !decision.Allow {
			http.Redirect(w, r, decision.RedirectTo, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(withCredential(r.Context(), credential)))
	})
}

func (g *Gate) credential(r *http.Request) string {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
