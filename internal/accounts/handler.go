package accounts

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
	"github.com/odyssey-erp/odyssey-accounts/internal/view"
)

const invalidLoginMessage = "Please enter a correct username and password. Note that both fields may be case-sensitive."

// Handler wires HTTP endpoints for the account flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	baseURL        string
}

// NewHandler constructs a Handler instance. An empty baseURL makes emailed
// links follow the host of the incoming request.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, baseURL string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		baseURL:        strings.TrimRight(baseURL, "/"),
	}
}

// MountRoutes registers account routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/register", h.showRegister)
	r.Post("/register", h.handleRegister)
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Get("/logout", h.handleLogout)

	r.Get("/password_reset", h.showPasswordReset)
	r.Post("/password_reset", h.handlePasswordReset)
	r.Get("/password_reset/done", h.showPasswordResetDone)
	r.Get("/reset/done", h.showPasswordResetComplete)
	r.Get("/reset/{identifier}/{token}", h.showResetConfirm)
	r.Post("/reset/{identifier}/{token}", h.handleResetConfirm)

	r.Group(func(r chi.Router) {
		r.Use(RequireLogin)
		r.Get("/password_change", h.showPasswordChange)
		r.Post("/password_change", h.handlePasswordChange)
		r.Get("/activation_sent", h.showActivationSent)
		r.Get("/resend_activation", h.handleResendActivation)
	})

	r.Get("/activate/{identifier}/{token}", h.handleActivate)
	r.Get("/activation_complete", h.showActivationComplete)

	r.Get("/{username}", h.showProfile)
}

// ShowIndex renders the landing page.
func (h *Handler) ShowIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/home.html", "Home", nil)
}

// NotFound renders the 404 page.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusNotFound, "pages/404.html", "Page not found", nil)
}

func (h *Handler) showRegister(w http.ResponseWriter, r *http.Request) {
	if AuthFromContext(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, PathIndex, http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "pages/accounts/register.html", "Sign up", map[string]any{
		"Form":   RegisterForm{},
		"Errors": FormErrors{},
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := RegisterForm{
		Username:  strings.TrimSpace(r.PostFormValue("username")),
		Email:     strings.TrimSpace(r.PostFormValue("email")),
		Password1: r.PostFormValue("password1"),
		Password2: r.PostFormValue("password2"),
	}
	errs, err := h.service.ValidateRegistration(r.Context(), form)
	if err != nil {
		h.serverError(w, r, "validate registration", err)
		return
	}
	if len(errs) == 0 {
		acc, err := h.service.Register(r.Context(), form)
		switch {
		case errors.Is(err, shared.ErrDuplicate):
			errs["general"] = shared.UserSafeMessage(err)
		case err != nil:
			h.serverError(w, r, "register account", err)
			return
		default:
			if err := h.signIn(r, acc); err != nil {
				h.serverError(w, r, "sign in new account", err)
				return
			}
			if err := h.service.Activation().Start(r.Context(), acc, h.linkBase(r)); err != nil {
				h.serverError(w, r, "send activation email", err)
				return
			}
			h.logger.Info("account registered", slog.Int64("account_id", acc.ID))
			h.redirectWithFlash(w, r, PathIndex, "success", "Your account was created. Please confirm your email address to continue.")
			return
		}
	}

	form.Password1, form.Password2 = "", ""
	h.render(w, r, http.StatusOK, "pages/accounts/register.html", "Sign up", map[string]any{
		"Form":   form,
		"Errors": errs,
	})
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if auth := AuthFromContext(r.Context()); auth.IsAuthenticated() {
		http.Redirect(w, r, ProfilePath(auth.Account.Username), http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "pages/accounts/login.html", "Log in", map[string]any{
		"Form":   LoginForm{},
		"Errors": FormErrors{},
		"Next":   r.URL.Query().Get("next"),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := LoginForm{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
	}
	next := r.PostFormValue("next")

	errs := h.service.ValidateLogin(form)
	if len(errs) == 0 {
		acc, err := h.service.Authenticate(r.Context(), form.Username, form.Password)
		switch {
		case errors.Is(err, shared.ErrInvalidCredentials):
			errs["general"] = invalidLoginMessage
		case err != nil:
			h.serverError(w, r, "authenticate", err)
			return
		default:
			if err := h.signIn(r, acc); err != nil {
				h.serverError(w, r, "sign in", err)
				return
			}
			target, ok := safeNext(next)
			if !ok {
				target = ProfilePath(acc.Username)
			}
			h.redirectWithFlash(w, r, target, "success", "Welcome back, "+acc.Username+".")
			return
		}
	}

	form.Password = ""
	h.render(w, r, http.StatusOK, "pages/accounts/login.html", "Log in", map[string]any{
		"Form":   form,
		"Errors": errs,
		"Next":   next,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		if sess.User() != "" {
			if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
				h.logger.Warn("remove session", slog.Any("error", err))
			}
		}
		h.sessionManager.Destroy(sess)
	}
	r = r.WithContext(ContextWithAuth(r.Context(), AuthContext{}))
	h.render(w, r, http.StatusOK, "pages/accounts/logout.html", "Logged out", nil)
}

func (h *Handler) showPasswordChange(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/accounts/password_change.html", "Password change", map[string]any{
		"Errors": FormErrors{},
	})
}

func (h *Handler) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	acc := AuthFromContext(r.Context()).Account
	form := PasswordChangeForm{
		OldPassword:  r.PostFormValue("old_password"),
		NewPassword1: r.PostFormValue("new_password1"),
		NewPassword2: r.PostFormValue("new_password2"),
	}
	errs := h.service.ValidatePasswordChange(acc, form)
	if len(errs) == 0 {
		err := h.service.ChangePassword(r.Context(), acc, form.OldPassword, form.NewPassword1)
		switch {
		case errors.Is(err, ErrPasswordMismatch):
			errs["old_password"] = "Your old password was entered incorrectly. Please enter it again."
		case err != nil:
			h.serverError(w, r, "change password", err)
			return
		default:
			h.redirectWithFlash(w, r, ProfilePath(acc.Username), "success", "Your password was successfully updated!")
			return
		}
	}
	h.render(w, r, http.StatusOK, "pages/accounts/password_change.html", "Password change", map[string]any{
		"Errors": errs,
	})
}

func (h *Handler) showPasswordReset(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/accounts/password_reset_form.html", "Password reset", map[string]any{
		"Form":   PasswordResetForm{},
		"Errors": FormErrors{},
	})
}

func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := PasswordResetForm{Email: strings.TrimSpace(r.PostFormValue("email"))}
	if errs := h.service.ValidatePasswordReset(form); len(errs) > 0 {
		h.render(w, r, http.StatusOK, "pages/accounts/password_reset_form.html", "Password reset", map[string]any{
			"Form":   form,
			"Errors": errs,
		})
		return
	}
	// The outcome is never shown, so the page does not reveal which addresses exist.
	if err := h.service.RequestPasswordReset(r.Context(), form.Email, h.linkBase(r)); err != nil {
		h.logger.Error("request password reset", slog.Any("error", err))
	}
	http.Redirect(w, r, PathPasswordResetDone, http.StatusSeeOther)
}

func (h *Handler) showPasswordResetDone(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/accounts/password_reset_done.html", "Password reset sent", nil)
}

func (h *Handler) showPasswordResetComplete(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/accounts/password_reset_complete.html", "Password reset complete", nil)
}

func (h *Handler) showResetConfirm(w http.ResponseWriter, r *http.Request) {
	_, err := h.service.CheckResetLink(r.Context(), chi.URLParam(r, "identifier"), chi.URLParam(r, "token"))
	if err != nil && !errors.Is(err, ErrResetInvalid) {
		h.serverError(w, r, "check reset link", err)
		return
	}
	h.render(w, r, http.StatusOK, "pages/accounts/password_reset_confirm.html", "Enter new password", map[string]any{
		"ValidLink": err == nil,
		"Errors":    FormErrors{},
	})
}

func (h *Handler) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	identifier, token := chi.URLParam(r, "identifier"), chi.URLParam(r, "token")
	if _, err := h.service.CheckResetLink(r.Context(), identifier, token); err != nil {
		h.resetLinkFailed(w, r, err)
		return
	}
	form := SetPasswordForm{
		NewPassword1: r.PostFormValue("new_password1"),
		NewPassword2: r.PostFormValue("new_password2"),
	}
	if errs := h.service.ValidateSetPassword(form); len(errs) > 0 {
		h.render(w, r, http.StatusOK, "pages/accounts/password_reset_confirm.html", "Enter new password", map[string]any{
			"ValidLink": true,
			"Errors":    errs,
		})
		return
	}
	if _, err := h.service.ResetPassword(r.Context(), identifier, token, form.NewPassword1); err != nil {
		h.resetLinkFailed(w, r, err)
		return
	}
	http.Redirect(w, r, PathPasswordResetFinal, http.StatusSeeOther)
}

func (h *Handler) resetLinkFailed(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, ErrResetInvalid) {
		h.serverError(w, r, "reset password", err)
		return
	}
	h.render(w, r, http.StatusOK, "pages/accounts/password_reset_confirm.html", "Password reset unsuccessful", map[string]any{
		"ValidLink": false,
		"Errors":    FormErrors{},
	})
}

func (h *Handler) showActivationSent(w http.ResponseWriter, r *http.Request) {
	acc := AuthFromContext(r.Context()).Account
	if acc.EmailConfirmed() {
		http.Redirect(w, r, ProfilePath(acc.Username), http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "pages/accounts/activation_sent.html", "Confirm your email", map[string]any{
		"Email": acc.Email,
	})
}

func (h *Handler) handleResendActivation(w http.ResponseWriter, r *http.Request) {
	acc := AuthFromContext(r.Context()).Account
	err := h.service.Activation().Resend(r.Context(), acc, h.linkBase(r))
	switch {
	case errors.Is(err, ErrAlreadyConfirmed):
		http.Redirect(w, r, PathIndex, http.StatusSeeOther)
	case err != nil:
		h.serverError(w, r, "resend activation email", err)
	default:
		h.redirectWithFlash(w, r, PathActivationSent, "info", "A new activation link has been sent to "+acc.Email+".")
	}
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	acc, err := h.service.Activation().Validate(r.Context(), chi.URLParam(r, "identifier"), chi.URLParam(r, "token"))
	switch {
	case errors.Is(err, ErrActivationInvalid):
		h.render(w, r, http.StatusOK, "pages/accounts/activation_invalid.html", "Activation link is invalid", nil)
		return
	case errors.Is(err, ErrAlreadyConfirmed):
		h.redirectWithFlash(w, r, PathActivationComplete, "info", "Your email address is already confirmed.")
		return
	case err != nil:
		h.serverError(w, r, "validate activation link", err)
		return
	}
	if err := h.signIn(r, acc); err != nil {
		h.serverError(w, r, "sign in after activation", err)
		return
	}
	h.logger.Info("email confirmed", slog.Int64("account_id", acc.ID))
	h.redirectWithFlash(w, r, PathActivationComplete, "success", "Your account has been activated.")
}

func (h *Handler) showActivationComplete(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/accounts/activation_complete.html", "Account activated", nil)
}

func (h *Handler) showProfile(w http.ResponseWriter, r *http.Request) {
	acc, err := h.service.Profile(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.NotFound(w, r)
			return
		}
		h.serverError(w, r, "load profile", err)
		return
	}
	h.render(w, r, http.StatusOK, "pages/accounts/profile.html", acc.Username, map[string]any{
		"ProfileUser": acc,
	})
}

// signIn rotates the session id and CSRF token and binds the session to acc.
func (h *Handler) signIn(r *http.Request, acc *Account) error {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return errors.New("accounts: session missing")
	}
	h.sessionManager.Renew(sess)
	if _, err := h.csrfManager.RotateToken(sess); err != nil {
		return err
	}
	sess.SetUser(acc.IDString())
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	return h.service.RecordLogin(r.Context(), acc, sess.ID, expiresAt, r.RemoteAddr, r.UserAgent())
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, to, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data map[string]any) {
	viewData := view.TemplateData{
		Title:       title,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil && !sess.Destroyed() {
		viewData.CSRFToken, _ = h.csrfManager.EnsureToken(r.Context(), sess)
		viewData.Flash = sess.PopFlash()
	}
	if auth := AuthFromContext(r.Context()); auth.IsAuthenticated() {
		viewData.CurrentUser = auth.Account.Username
		viewData.EmailConfirmed = auth.EmailConfirmed()
	}
	if err := h.templates.RenderStatus(w, status, name, viewData); err != nil {
		h.logger.Error("render "+name, slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, action string, err error) {
	h.logger.Error(action, slog.Any("error", err), slog.String("path", r.URL.Path))
	h.render(w, r, http.StatusInternalServerError, "pages/500.html", "Server error", nil)
}

// linkBase is the origin used in emailed links.
func (h *Handler) linkBase(r *http.Request) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
