package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
)

// Service wraps account business rules: registration, credentials and profiles.
type Service struct {
	repo       Repository
	activation *ActivationFlow
	tokens     *TokenGenerator
	mailer     Mailer
	mails      MailRenderer
	validate   *validator.Validate
	logger     *slog.Logger
	events     EventRecorder
	audit      AuditRecorder
	hashCost   int
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// ServiceConfig tunes optional collaborators of Service.
type ServiceConfig struct {
	Tokens     *TokenGenerator
	Mailer     Mailer
	Mails      MailRenderer
	Logger     *slog.Logger
	Events     EventRecorder
	Audit      AuditRecorder
	BcryptCost int
}

// NewService constructs a new Service.
func NewService(repo Repository, activation *ActivationFlow, cfg ServiceConfig) *Service {
	s := &Service{
		repo:       repo,
		activation: activation,
		tokens:     cfg.Tokens,
		mailer:     cfg.Mailer,
		mails:      cfg.Mails,
		validate:   NewValidator(),
		logger:     cfg.Logger,
		events:     cfg.Events,
		audit:      cfg.Audit,
		hashCost:   cfg.BcryptCost,
		now:        time.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.events == nil {
		s.events = noopEvents{}
	}
	if s.audit == nil {
		s.audit = noopAudit{}
	}
	if s.hashCost == 0 {
		s.hashCost = bcrypt.DefaultCost
	}
	return s
}

// Activation exposes the email confirmation flow.
func (s *Service) Activation() *ActivationFlow {
	return s.activation
}

// reservedUsernames shadow the static routes mounted next to /accounts/{username}.
var reservedUsernames = map[string]struct{}{
	"login":               {},
	"logout":              {},
	"register":            {},
	"password_change":     {},
	"password_reset":      {},
	"reset":               {},
	"activation_sent":     {},
	"resend_activation":   {},
	"activate":            {},
	"activation_complete": {},
}

// ValidateRegistration checks field rules and uniqueness. No record is created.
func (s *Service) ValidateRegistration(ctx context.Context, form RegisterForm) (FormErrors, error) {
	errs := validateForm(s.validate, form)
	if _, bad := errs["username"]; !bad {
		if _, reserved := reservedUsernames[strings.ToLower(form.Username)]; reserved {
			errs["username"] = "That username is reserved."
		}
	}
	if _, bad := errs["username"]; !bad {
		taken, err := s.repo.UsernameExists(ctx, form.Username)
		if err != nil {
			return nil, fmt.Errorf("accounts: check username: %w", err)
		}
		if taken {
			errs["username"] = "A user with that username already exists."
		}
	}
	if _, bad := errs["email"]; !bad {
		taken, err := s.repo.EmailExists(ctx, NormalizeEmail(form.Email))
		if err != nil {
			return nil, fmt.Errorf("accounts: check email: %w", err)
		}
		if taken {
			errs["email"] = "A user with this email address already exists."
		}
	}
	return errs, nil
}

// Register creates an active, unconfirmed account from a validated form.
func (s *Service) Register(ctx context.Context, form RegisterForm) (*Account, error) {
	hash, err := s.hash(form.Password1)
	if err != nil {
		return nil, err
	}
	acc, err := s.repo.Create(ctx, NewAccount{
		Username:     form.Username,
		Email:        NormalizeEmail(form.Email),
		PasswordHash: hash,
		IsActive:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("accounts: create account: %w", err)
	}
	s.events.RecordAccountEvent(EventRegistered)
	s.recordAudit(ctx, acc, shared.AuditRegistered, map[string]any{"username": acc.Username})
	return acc, nil
}

// ValidateLogin checks that both credentials were supplied.
func (s *Service) ValidateLogin(form LoginForm) FormErrors {
	return validateForm(s.validate, form)
}

// Authenticate validates username/password credentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	acc, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// Burn comparable time so unknown usernames are not distinguishable.
			_ = bcrypt.CompareHashAndPassword(s.timingHash(), []byte(password))
			s.events.RecordAccountEvent(EventLoginFailed)
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		s.events.RecordAccountEvent(EventLoginFailed)
		return nil, shared.ErrInvalidCredentials
	}
	if !acc.IsActive {
		s.events.RecordAccountEvent(EventLoginFailed)
		return nil, shared.ErrInvalidCredentials
	}
	return acc, nil
}

// RecordLogin stamps the last login and persists the session metadata.
func (s *Service) RecordLogin(ctx context.Context, acc *Account, sessionID string, expiresAt time.Time, ip, ua string) error {
	now := s.now()
	if err := s.repo.TouchLastLogin(ctx, acc.ID, now); err != nil {
		return fmt.Errorf("accounts: touch last login: %w", err)
	}
	acc.LastLoginAt = &now
	s.events.RecordAccountEvent(EventLogin)
	if sessionID == "" {
		return nil
	}
	if err := s.repo.CreateSession(ctx, sessionID, acc.ID, expiresAt, ip, ua); err != nil {
		return fmt.Errorf("accounts: register session: %w", err)
	}
	return nil
}

// RemoveSession deletes a session record.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// ValidatePasswordChange checks the form and the current password.
func (s *Service) ValidatePasswordChange(acc *Account, form PasswordChangeForm) FormErrors {
	errs := validateForm(s.validate, form)
	if _, bad := errs["old_password"]; !bad {
		if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(form.OldPassword)) != nil {
			errs["old_password"] = "Your old password was entered incorrectly. Please enter it again."
		}
	}
	return errs
}

// ChangePassword replaces the password of an authenticated account.
func (s *Service) ChangePassword(ctx context.Context, acc *Account, oldPassword, newPassword string) error {
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(oldPassword)) != nil {
		return ErrPasswordMismatch
	}
	if err := s.setPassword(ctx, acc, newPassword); err != nil {
		return err
	}
	s.events.RecordAccountEvent(EventPasswordChanged)
	s.recordAudit(ctx, acc, shared.AuditPasswordChanged, nil)
	return nil
}

// Profile looks up an account by username for the public profile page.
func (s *Service) Profile(ctx context.Context, username string) (*Account, error) {
	return s.repo.GetByUsername(ctx, username)
}

// AccountByID loads an account, used to resolve the session user.
func (s *Service) AccountByID(ctx context.Context, id int64) (*Account, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) setPassword(ctx context.Context, acc *Account, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, acc.ID, hash); err != nil {
		return fmt.Errorf("accounts: update password: %w", err)
	}
	acc.PasswordHash = hash
	return nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("accounts: hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) recordAudit(ctx context.Context, acc *Account, action shared.AuditAction, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  acc.ID,
		Action:   action,
		Entity:   shared.AuditEntityAccount,
		EntityID: acc.IDString(),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit "+string(action), slog.Any("error", err))
	}
}

// timingHash returns a hash compared against when the username is unknown.
func (s *Service) timingHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("odyssey-accounts"), s.hashCost)
	})
	return s.dummyHash
}
