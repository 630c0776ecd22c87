package accounts

import (
	"net/http"
	"strings"
)

// Decision is the outcome of the Access Gate for one request.
type Decision int

const (
	// Allow lets the request through.
	Allow Decision = iota
	// Redirect sends the user to the activation pending page.
	Redirect
)

// AllowList names the paths an unconfirmed user may still reach.
type AllowList struct {
	Paths    []string
	Prefixes []string
}

// DefaultAllowList covers logout, the pending page, resending and the activation links.
func DefaultAllowList() AllowList {
	return AllowList{
		Paths:    []string{PathLogout, PathActivationSent, PathResendActivation, "/healthz"},
		Prefixes: []string{"/admin/", PathActivatePrefix, "/static/"},
	}
}

// Merge returns a copy extended with extra paths and prefixes.
func (l AllowList) Merge(paths, prefixes []string) AllowList {
	out := AllowList{
		Paths:    append(append([]string{}, l.Paths...), paths...),
		Prefixes: append(append([]string{}, l.Prefixes...), prefixes...),
	}
	return out
}

// Contains reports an exact match, ignoring a trailing slash, or a prefix match.
func (l AllowList) Contains(path string) bool {
	exact := trimSlash(path)
	for _, p := range l.Paths {
		if exact == trimSlash(p) {
			return true
		}
	}
	for _, prefix := range l.Prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func trimSlash(p string) string {
	if len(p) > 1 {
		return strings.TrimRight(p, "/")
	}
	return p
}

// Gate keeps signed in users with an unconfirmed email on the activation pending page.
type Gate struct {
	allow      AllowList
	redirectTo string
}

// NewGate builds a Gate redirecting to the activation pending page.
func NewGate(allow AllowList) *Gate {
	return &Gate{allow: allow, redirectTo: PathActivationSent}
}

// Decide applies the rule: redirect iff authenticated, unconfirmed and the path is not allow-listed.
func (g *Gate) Decide(auth AuthContext, path string) Decision {
	if !auth.IsAuthenticated() || auth.EmailConfirmed() || g.allow.Contains(path) {
		return Allow
	}
	return Redirect
}

// Middleware enforces Decide using the AuthContext stored by LoadAuth.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Decide(AuthFromContext(r.Context()), r.URL.Path) == Redirect {
			http.Redirect(w, r, g.redirectTo, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}
