package accounts_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-accounts/internal/accounts"
	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
)

func TestValidateRegistrationFieldRules(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name  string
		form  accounts.RegisterForm
		field string
	}{
		{"missing username", accounts.RegisterForm{Email: "a@example.com", Password1: "s3cret-pass", Password2: "s3cret-pass"}, "username"},
		{"bad username chars", accounts.RegisterForm{Username: "george washington", Email: "a@example.com", Password1: "s3cret-pass", Password2: "s3cret-pass"}, "username"},
		{"long username", accounts.RegisterForm{Username: strings.Repeat("g", 151), Email: "a@example.com", Password1: "s3cret-pass", Password2: "s3cret-pass"}, "username"},
		{"bad email", accounts.RegisterForm{Username: "george", Email: "not-an-email", Password1: "s3cret-pass", Password2: "s3cret-pass"}, "email"},
		{"short password", accounts.RegisterForm{Username: "george", Email: "a@example.com", Password1: "short", Password2: "short"}, "password1"},
		{"numeric password", accounts.RegisterForm{Username: "george", Email: "a@example.com", Password1: "1234567890", Password2: "1234567890"}, "password1"},
		{"mismatch", accounts.RegisterForm{Username: "george", Email: "a@example.com", Password1: "s3cret-pass", Password2: "s3cret-pasS"}, "password2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs, err := f.service.ValidateRegistration(context.Background(), tc.form)
			require.NoError(t, err)
			assert.Contains(t, errs, tc.field)
		})
	}

	errs, err := f.service.ValidateRegistration(context.Background(), accounts.RegisterForm{
		Username: "george.w+1@home", Email: "george@example.com", Password1: "s3cret-pass", Password2: "s3cret-pass",
	})
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Zero(t, f.repo.Count())
}

func TestValidateRegistrationRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.register(t, "george", "george@example.com", "correct-horse-1")

	errs, err := f.service.ValidateRegistration(context.Background(), accounts.RegisterForm{
		Username: "george", Email: "GEORGE@Example.COM", Password1: "s3cret-pass", Password2: "s3cret-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, "A user with that username already exists.", errs["username"])
	assert.Equal(t, "A user with this email address already exists.", errs["email"])
	assert.Equal(t, 1, f.repo.Count())
}

func TestValidateRegistrationAcceptsUnicodeUsernames(t *testing.T) {
	f := newFixture(t)
	for _, username := range []string{"José", "Zoë_2", "Дмитрий", "李雷", "٣ahmed"} {
		errs, err := f.service.ValidateRegistration(context.Background(), accounts.RegisterForm{
			Username: username, Email: "jose@example.com", Password1: "s3cret-pass", Password2: "s3cret-pass",
		})
		require.NoError(t, err)
		assert.Empty(t, errs, username)
	}

	for _, username := range []string{"jo sé", "josé!", "tab\there", "emoji☃"} {
		errs, err := f.service.ValidateRegistration(context.Background(), accounts.RegisterForm{
			Username: username, Email: "jose@example.com", Password1: "s3cret-pass", Password2: "s3cret-pass",
		})
		require.NoError(t, err)
		assert.Contains(t, errs, "username", username)
	}

	acc := f.register(t, "José", "jose@example.com", "correct-horse-1")
	profile, err := f.service.Profile(context.Background(), "José")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, profile.ID)
}

func TestValidateRegistrationRejectsRouteNames(t *testing.T) {
	f := newFixture(t)
	for _, username := range []string{"login", "logout", "register", "password_change", "password_reset", "reset", "activation_sent", "resend_activation", "activate", "activation_complete", "Login"} {
		errs, err := f.service.ValidateRegistration(context.Background(), accounts.RegisterForm{
			Username: username, Email: "route@example.com", Password1: "s3cret-pass", Password2: "s3cret-pass",
		})
		require.NoError(t, err)
		assert.Equal(t, "That username is reserved.", errs["username"], username)
	}

	errs, err := f.service.ValidateRegistration(context.Background(), accounts.RegisterForm{
		Username: "loginmaster", Email: "route@example.com", Password1: "s3cret-pass", Password2: "s3cret-pass",
	})
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestRegisterNormalisesEmailDomain(t *testing.T) {
	f := newFixture(t)
	acc := f.register(t, "george", "George@EXAMPLE.com", "correct-horse-1")
	assert.Equal(t, "George@example.com", acc.Email)
	assert.True(t, acc.IsActive)
	assert.False(t, acc.EmailConfirmed())
	assert.NotEqual(t, "correct-horse-1", acc.PasswordHash)
	assert.Equal(t, 1, f.events.count(accounts.EventRegistered))

	_, err := f.service.Register(context.Background(), accounts.RegisterForm{
		Username: "martha", Email: "GEORGE@example.com", Password1: "correct-horse-2", Password2: "correct-horse-2",
	})
	assert.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.register(t, "george", "george@example.com", "correct-horse-1")

	got, err := f.service.Authenticate(ctx, "george", "correct-horse-1")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	_, err = f.service.Authenticate(ctx, "george", "wrong")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = f.service.Authenticate(ctx, "nobody", "correct-horse-1")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	f.repo.SetActive(acc.ID, false)
	_, err = f.service.Authenticate(ctx, "george", "correct-horse-1")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	assert.Equal(t, 3, f.events.count(accounts.EventLoginFailed))
}

func TestAuthenticatePropagatesStoreErrors(t *testing.T) {
	f := newFixture(t)
	f.repo.LoadErr = errors.New("db down")
	_, err := f.service.Authenticate(context.Background(), "george", "pw")
	assert.ErrorIs(t, err, f.repo.LoadErr)
}

func TestRecordLogin(t *testing.T) {
	f := newFixture(t)
	acc := f.register(t, "george", "george@example.com", "correct-horse-1")

	err := f.service.RecordLogin(context.Background(), acc, "sess-1", time.Now().Add(time.Hour), "127.0.0.1", "test")
	require.NoError(t, err)
	assert.NotNil(t, acc.LastLoginAt)
	assert.Equal(t, 1, f.repo.SessionCount())

	stored, _ := f.repo.Snapshot(acc.ID)
	assert.NotNil(t, stored.LastLoginAt)

	require.NoError(t, f.service.RemoveSession(context.Background(), "sess-1"))
	assert.Zero(t, f.repo.SessionCount())
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.register(t, "george", "george@example.com", "correct-horse-1")

	errs := f.service.ValidatePasswordChange(acc, accounts.PasswordChangeForm{
		OldPassword: "wrong", NewPassword1: "battery-staple-2", NewPassword2: "battery-staple-2",
	})
	assert.Contains(t, errs, "old_password")

	errs = f.service.ValidatePasswordChange(acc, accounts.PasswordChangeForm{
		OldPassword: "correct-horse-1", NewPassword1: "battery-staple-2", NewPassword2: "battery-staple-3",
	})
	assert.Contains(t, errs, "new_password2")

	assert.ErrorIs(t, f.service.ChangePassword(ctx, acc, "wrong", "battery-staple-2"), accounts.ErrPasswordMismatch)
	require.NoError(t, f.service.ChangePassword(ctx, acc, "correct-horse-1", "battery-staple-2"))

	_, err := f.service.Authenticate(ctx, "george", "correct-horse-1")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = f.service.Authenticate(ctx, "george", "battery-staple-2")
	assert.NoError(t, err)
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	f.register(t, "george", "george@example.com", "correct-horse-1")

	acc, err := f.service.Profile(context.Background(), "george")
	require.NoError(t, err)
	assert.Equal(t, "george", acc.Username)

	_, err = f.service.Profile(context.Background(), "martha")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "George@example.com", accounts.NormalizeEmail("  George@EXAMPLE.COM "))
	assert.Equal(t, "no-at-sign", accounts.NormalizeEmail("no-at-sign"))
	assert.True(t, accounts.SameEmail("GEORGE@example.com", "george@EXAMPLE.com"))
	assert.False(t, accounts.SameEmail("george@example.com", "martha@example.com"))
}
