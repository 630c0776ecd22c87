package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
)

// ActivationSubject is the subject line of the confirmation email.
const ActivationSubject = "Activate Your Account"

// ActivationFlow issues, mails and validates email confirmation links.
type ActivationFlow struct {
	repo   Repository
	tokens *TokenGenerator
	mailer Mailer
	mails  MailRenderer
	logger *slog.Logger
	events EventRecorder
	audit  AuditRecorder
	now    func() time.Time
	group  singleflight.Group
}

// ActivationConfig groups the collaborators of an ActivationFlow.
type ActivationConfig struct {
	Repo   Repository
	Tokens *TokenGenerator
	Mailer Mailer
	Mails  MailRenderer
	Logger *slog.Logger
	Events EventRecorder
	Audit  AuditRecorder
}

// NewActivationFlow constructs an ActivationFlow.
func NewActivationFlow(cfg ActivationConfig) *ActivationFlow {
	f := &ActivationFlow{
		repo:   cfg.Repo,
		tokens: cfg.Tokens,
		mailer: cfg.Mailer,
		mails:  cfg.Mails,
		logger: cfg.Logger,
		events: cfg.Events,
		audit:  cfg.Audit,
		now:    time.Now,
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.events == nil {
		f.events = noopEvents{}
	}
	if f.audit == nil {
		f.audit = noopAudit{}
	}
	return f
}

// Issue creates a fresh activation link for the account.
func (f *ActivationFlow) Issue(acc *Account) (Link, error) {
	token, err := f.tokens.Make(acc, PurposeActivation)
	if err != nil {
		return Link{}, fmt.Errorf("accounts: issue activation token: %w", err)
	}
	return Link{Identifier: EncodeIdentifier(acc.ID), Token: token}, nil
}

// Send renders the confirmation email for link and enqueues it. Enqueue
// failures are returned as is; nothing is retried here.
func (f *ActivationFlow) Send(ctx context.Context, acc *Account, link Link, baseURL string) error {
	body, err := f.mails.RenderText("emails/activation.txt", mailData{
		Username: acc.Username,
		Link:     link.URL(baseURL, PathActivatePrefix),
		TTLHours: int(f.tokens.TTL().Hours()),
	})
	if err != nil {
		return fmt.Errorf("accounts: render activation email: %w", err)
	}
	if err := f.mailer.Enqueue(ctx, Message{To: acc.Email, Subject: ActivationSubject, Body: body}); err != nil {
		return fmt.Errorf("accounts: enqueue activation email: %w", err)
	}
	f.events.RecordAccountEvent(EventActivationSent)
	return nil
}

// Start issues a link and sends it.
func (f *ActivationFlow) Start(ctx context.Context, acc *Account, baseURL string) error {
	link, err := f.Issue(acc)
	if err != nil {
		return err
	}
	return f.Send(ctx, acc, link, baseURL)
}

// Resend starts the flow again for an unconfirmed account.
func (f *ActivationFlow) Resend(ctx context.Context, acc *Account, baseURL string) error {
	if acc.EmailConfirmed() {
		return ErrAlreadyConfirmed
	}
	return f.Start(ctx, acc, baseURL)
}

// Validate checks an emailed identifier/token pair and confirms the email on
// success. It accepts arbitrary input: anything malformed, unknown, forged,
// expired or stale yields ErrActivationInvalid. When the account is already
// confirmed and the link is genuine it returns ErrAlreadyConfirmed without touching state.
func (f *ActivationFlow) Validate(ctx context.Context, identifier, token string) (*Account, error) {
	// The shared work must outlive any single caller giving up.
	detached := context.WithoutCancel(ctx)
	ch := f.group.DoChan(identifier+"\x00"+token, func() (any, error) {
		return f.validate(detached, identifier, token)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	v := res.Val
	// Callers sharing a flight each get their own copy.
	acc := *v.(*Account)
	return &acc, nil
}

func (f *ActivationFlow) validate(ctx context.Context, identifier, token string) (*Account, error) {
	id, err := DecodeIdentifier(identifier)
	if err != nil {
		f.events.RecordAccountEvent(EventActivationInvalid)
		return nil, ErrActivationInvalid
	}
	acc, err := f.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			f.events.RecordAccountEvent(EventActivationInvalid)
			return nil, ErrActivationInvalid
		}
		return nil, fmt.Errorf("accounts: load account for activation: %w", err)
	}
	if err := f.tokens.verify(acc, PurposeActivation, token); err != nil {
		// A genuine link clicked a second time only differs in the stamp.
		if errors.Is(err, errTokenStale) && acc.EmailConfirmed() {
			return nil, ErrAlreadyConfirmed
		}
		f.events.RecordAccountEvent(EventActivationInvalid)
		return nil, ErrActivationInvalid
	}

	now := f.now()
	if err := f.repo.ConfirmEmail(ctx, acc.ID, now); err != nil {
		return nil, fmt.Errorf("accounts: confirm email: %w", err)
	}
	acc.Verification.EmailConfirmed = true
	acc.Verification.ConfirmedAt = &now
	f.events.RecordAccountEvent(EventEmailConfirmed)
	if err := f.audit.Record(ctx, shared.AuditLog{
		ActorID:  acc.ID,
		Action:   shared.AuditEmailConfirmed,
		Entity:   shared.AuditEntityAccount,
		EntityID: acc.IDString(),
		At:       now,
	}); err != nil {
		f.logger.Warn("audit email confirmation", slog.Any("error", err))
	}
	return acc, nil
}
