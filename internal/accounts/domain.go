package accounts

import (
	"errors"
	"net/url"
	"strconv"
	"time"
)

// Account is a registered user together with its verification status.
type Account struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Verification Verification
}

// Verification tracks whether the account's email address has been confirmed.
type Verification struct {
	EmailConfirmed bool
	ConfirmedAt    *time.Time
}

// EmailConfirmed reports the verification flag.
func (a *Account) EmailConfirmed() bool {
	return a != nil && a.Verification.EmailConfirmed
}

// IDString renders the identifier as stored in sessions.
func (a *Account) IDString() string {
	return strconv.FormatInt(a.ID, 10)
}

// NewAccount holds the values needed to create an account.
type NewAccount struct {
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
}

var (
	// ErrActivationInvalid covers malformed, forged, expired or stale activation links.
	ErrActivationInvalid = errors.New("activation link is invalid")
	// ErrAlreadyConfirmed is returned when the account has already confirmed its email.
	ErrAlreadyConfirmed = errors.New("email already confirmed")
	// ErrResetInvalid covers malformed, forged, expired or used password reset links.
	ErrResetInvalid = errors.New("password reset link is invalid")
	// ErrPasswordMismatch indicates the supplied current password is wrong.
	ErrPasswordMismatch = errors.New("current password is incorrect")
)

const (
	// PurposeActivation scopes tokens to the email confirmation flow.
	PurposeActivation = "activation"
	// PurposePasswordReset scopes tokens to the password reset flow.
	PurposePasswordReset = "password_reset"
)

// Route paths used for redirects and emailed links.
const (
	PathIndex              = "/"
	PathLogin              = "/accounts/login"
	PathLogout             = "/accounts/logout"
	PathRegister           = "/accounts/register"
	PathPasswordChange     = "/accounts/password_change"
	PathPasswordReset      = "/accounts/password_reset"
	PathPasswordResetDone  = "/accounts/password_reset/done"
	PathPasswordResetFinal = "/accounts/reset/done"
	PathActivationSent     = "/accounts/activation_sent"
	PathResendActivation   = "/accounts/resend_activation"
	PathActivationComplete = "/accounts/activation_complete"
	PathActivatePrefix     = "/accounts/activate/"
	PathResetPrefix        = "/accounts/reset/"
)

// ProfilePath returns the public profile URL path for a username.
func ProfilePath(username string) string {
	return "/accounts/" + url.PathEscape(username)
}
