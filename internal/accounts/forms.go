package accounts

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FormErrors maps form field names to a user facing message. The "general"
// key holds errors not tied to a single field.
type FormErrors map[string]string

// RegisterForm is submitted by the sign-up page.
type RegisterForm struct {
	Username  string `form:"username" validate:"required,max=150,username"`
	Email     string `form:"email" validate:"required,max=254,email"`
	Password1 string `form:"password1" validate:"required,min=8,max=128,notnumeric"`
	Password2 string `form:"password2" validate:"required,eqfield=Password1"`
}

// LoginForm is submitted by the sign-in page.
type LoginForm struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

// PasswordChangeForm is submitted by an authenticated user.
type PasswordChangeForm struct {
	OldPassword  string `form:"old_password" validate:"required"`
	NewPassword1 string `form:"new_password1" validate:"required,min=8,max=128,notnumeric"`
	NewPassword2 string `form:"new_password2" validate:"required,eqfield=NewPassword1"`
}

// SetPasswordForm is submitted from a password reset link.
type SetPasswordForm struct {
	NewPassword1 string `form:"new_password1" validate:"required,min=8,max=128,notnumeric"`
	NewPassword2 string `form:"new_password2" validate:"required,eqfield=NewPassword1"`
}

// PasswordResetForm requests a reset email.
type PasswordResetForm struct {
	Email string `form:"email" validate:"required,max=254,email"`
}

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_.@+-]+$`)

// NewValidator returns a validator aware of the account form rules.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("form"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("notnumeric", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return strings.TrimLeft(value, "0123456789") != ""
	})
	return v
}

func validateForm(v *validator.Validate, form any) FormErrors {
	errs := FormErrors{}
	err := v.Struct(form)
	if err == nil {
		return errs
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		errs["general"] = err.Error()
		return errs
	}
	for _, fieldErr := range fieldErrs {
		if _, seen := errs[fieldErr.Field()]; seen {
			continue
		}
		errs[fieldErr.Field()] = fieldMessage(fieldErr)
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return "This password is too short. It must contain at least " + fe.Param() + " characters."
	case "max":
		return "Ensure this value has at most " + fe.Param() + " characters."
	case "username":
		return "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	case "notnumeric":
		return "This password is entirely numeric."
	case "eqfield":
		return "The two password fields didn't match."
	default:
		return "Invalid value."
	}
}

// NormalizeEmail trims the address and lowercases its domain part.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at+1] + cases.Lower(language.Und).String(email[at+1:])
}

// SameEmail compares two addresses caselessly.
func SameEmail(a, b string) bool {
	// Casers carry state, so each call gets its own.
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(a)) == fold.String(strings.TrimSpace(b))
}
