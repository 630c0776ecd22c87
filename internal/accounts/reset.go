package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
)

// PasswordResetSubject is the subject line of the reset email.
const PasswordResetSubject = "Password reset"

// ValidatePasswordReset checks the reset request form.
func (s *Service) ValidatePasswordReset(form PasswordResetForm) FormErrors {
	return validateForm(s.validate, form)
}

// RequestPasswordReset mails a reset link when an active account owns email.
// Unknown or inactive addresses are ignored so callers cannot discover which emails have accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email, baseURL string) error {
	acc, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Info("password reset for unknown email")
			return nil
		}
		return fmt.Errorf("accounts: load account for reset: %w", err)
	}
	if !acc.IsActive {
		return nil
	}
	token, err := s.tokens.Make(acc, PurposePasswordReset)
	if err != nil {
		return fmt.Errorf("accounts: issue reset token: %w", err)
	}
	link := Link{Identifier: EncodeIdentifier(acc.ID), Token: token}
	body, err := s.mails.RenderText("emails/password_reset.txt", mailData{
		Username: acc.Username,
		Link:     link.URL(baseURL, PathResetPrefix),
		TTLHours: int(s.tokens.TTL().Hours()),
	})
	if err != nil {
		return fmt.Errorf("accounts: render reset email: %w", err)
	}
	if err := s.mailer.Enqueue(ctx, Message{To: acc.Email, Subject: PasswordResetSubject, Body: body}); err != nil {
		return fmt.Errorf("accounts: enqueue reset email: %w", err)
	}
	s.events.RecordAccountEvent(EventResetRequested)
	return nil
}

// CheckResetLink resolves the account behind a reset link.
func (s *Service) CheckResetLink(ctx context.Context, identifier, token string) (*Account, error) {
	id, err := DecodeIdentifier(identifier)
	if err != nil {
		return nil, ErrResetInvalid
	}
	acc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrResetInvalid
		}
		return nil, fmt.Errorf("accounts: load account for reset: %w", err)
	}
	if !acc.IsActive || !s.tokens.Check(acc, PurposePasswordReset, token) {
		return nil, ErrResetInvalid
	}
	return acc, nil
}

// ValidateSetPassword checks the new password form of a reset link.
func (s *Service) ValidateSetPassword(form SetPasswordForm) FormErrors {
	return validateForm(s.validate, form)
}

// ResetPassword sets a new password through a reset link. The link is void afterwards.
func (s *Service) ResetPassword(ctx context.Context, identifier, token, password string) (*Account, error) {
	acc, err := s.CheckResetLink(ctx, identifier, token)
	if err != nil {
		return nil, err
	}
	if err := s.setPassword(ctx, acc, password); err != nil {
		return nil, err
	}
	s.events.RecordAccountEvent(EventResetCompleted)
	s.recordAudit(ctx, acc, shared.AuditPasswordReset, nil)
	s.logger.Info("password reset completed", slog.Int64("account_id", acc.ID))
	return acc, nil
}
