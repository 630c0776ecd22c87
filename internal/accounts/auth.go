package accounts

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
)

// AuthContext is the authentication state of one request.
type AuthContext struct {
	Account *Account
}

// IsAuthenticated reports whether a user is signed in.
func (a AuthContext) IsAuthenticated() bool {
	return a.Account != nil
}

// EmailConfirmed reports whether the signed in user confirmed their email.
func (a AuthContext) EmailConfirmed() bool {
	return a.Account.EmailConfirmed()
}

type authContextKey struct{}

// ContextWithAuth stores the AuthContext in ctx.
func ContextWithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext extracts the AuthContext; anonymous when absent.
func AuthFromContext(ctx context.Context) AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(AuthContext)
	return auth
}

// AccountLoader resolves the account behind a session.
type AccountLoader interface {
	AccountByID(ctx context.Context, id int64) (*Account, error)
}

// LoadAuth resolves the session user into an AuthContext. Lookup failures
// other than a missing account abort the request.
func LoadAuth(loader AccountLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, err := resolveAuth(r.Context(), loader)
			if err != nil {
				logger.Error("resolve session user", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), auth)))
		})
	}
}

func resolveAuth(ctx context.Context, loader AccountLoader) (AuthContext, error) {
	sess := shared.SessionFromContext(ctx)
	if sess == nil || sess.User() == "" {
		return AuthContext{}, nil
	}
	id, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		sess.SetUser("")
		return AuthContext{}, nil
	}
	acc, err := loader.AccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			sess.SetUser("")
			return AuthContext{}, nil
		}
		return AuthContext{}, err
	}
	if !acc.IsActive {
		sess.SetUser("")
		return AuthContext{}, nil
	}
	return AuthContext{Account: acc}, nil
}

// RequireLogin redirects anonymous requests to the login page.
func RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !AuthFromContext(r.Context()).IsAuthenticated() {
			http.Redirect(w, r, PathLogin+"?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// safeNext accepts only same-site absolute paths.
func safeNext(next string) (string, bool) {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "", false
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	return next, true
}
