// Package accountstest provides in-memory collaborators for exercising the
// accounts flows without PostgreSQL or a mail queue.
package accountstest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-accounts/internal/accounts"
	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
)

// Repository is a goroutine-safe accounts.Repository kept in memory.
type Repository struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]accounts.Account
	sessions map[string]int64
	now      func() time.Time

	// LoadErr, when set, is returned by every account lookup.
	LoadErr error
	// ConfirmCalls counts ConfirmEmail invocations.
	ConfirmCalls int
}

// NewRepository returns an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		accounts: make(map[int64]accounts.Account),
		sessions: make(map[string]int64),
		now:      time.Now,
	}
}

// Create implements accounts.Repository.
func (r *Repository) Create(ctx context.Context, input accounts.NewAccount) (*accounts.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range r.accounts {
		if acc.Username == input.Username {
			return nil, fmt.Errorf("accounts: accounts_username_key: %w", shared.ErrDuplicate)
		}
		if accounts.SameEmail(acc.Email, input.Email) {
			return nil, fmt.Errorf("accounts: accounts_email_lower_key: %w", shared.ErrDuplicate)
		}
	}
	r.nextID++
	now := r.now()
	acc := accounts.Account{
		ID:           r.nextID,
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		IsActive:     input.IsActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.accounts[acc.ID] = acc
	return &acc, nil
}

// GetByID implements accounts.Repository.
func (r *Repository) GetByID(ctx context.Context, id int64) (*accounts.Account, error) {
	return r.find(func(acc accounts.Account) bool { return acc.ID == id })
}

// GetByUsername implements accounts.Repository.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*accounts.Account, error) {
	return r.find(func(acc accounts.Account) bool { return acc.Username == username })
}

// GetByEmail implements accounts.Repository.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	return r.find(func(acc accounts.Account) bool { return accounts.SameEmail(acc.Email, email) })
}

// UsernameExists implements accounts.Repository.
func (r *Repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := r.GetByUsername(ctx, username)
	return exists(err)
}

// EmailExists implements accounts.Repository.
func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	return exists(err)
}

// ConfirmEmail implements accounts.Repository.
func (r *Repository) ConfirmEmail(ctx context.Context, id int64, at time.Time) error {
	return r.update(id, func(acc *accounts.Account) {
		r.ConfirmCalls++
		acc.Verification.EmailConfirmed = true
		if acc.Verification.ConfirmedAt == nil {
			acc.Verification.ConfirmedAt = &at
		}
	})
}

// UpdatePassword implements accounts.Repository.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return r.update(id, func(acc *accounts.Account) {
		acc.PasswordHash = hash
		acc.UpdatedAt = r.now()
	})
}

// TouchLastLogin implements accounts.Repository.
func (r *Repository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	return r.update(id, func(acc *accounts.Account) {
		acc.LastLoginAt = &at
	})
}

// CreateSession implements accounts.Repository.
func (r *Repository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = userID
	return nil
}

// DeleteSession implements accounts.Repository.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// SetActive flips the is_active flag of an account.
func (r *Repository) SetActive(id int64, active bool) {
	_ = r.update(id, func(acc *accounts.Account) { acc.IsActive = active })
}

// Snapshot returns a copy of the stored account.
func (r *Repository) Snapshot(id int64) (accounts.Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	return acc, ok
}

// Count returns the number of stored accounts.
func (r *Repository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

// SessionCount returns the number of stored login sessions.
func (r *Repository) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Repository) find(match func(accounts.Account) bool) (*accounts.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.LoadErr != nil {
		return nil, r.LoadErr
	}
	for _, acc := range r.accounts {
		if match(acc) {
			out := acc
			return &out, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *Repository) update(id int64, fn func(*accounts.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return shared.ErrNotFound
	}
	fn(&acc)
	r.accounts[id] = acc
	return nil
}

func exists(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, shared.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

var _ accounts.Repository = (*Repository)(nil)

// Mailer records enqueued messages.
type Mailer struct {
	mu       sync.Mutex
	messages []accounts.Message

	// Err, when set, makes Enqueue fail.
	Err error
}

// Enqueue implements accounts.Mailer.
func (m *Mailer) Enqueue(ctx context.Context, msg accounts.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of everything enqueued so far.
func (m *Mailer) Messages() []accounts.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]accounts.Message(nil), m.messages...)
}

// Last returns the most recent message.
func (m *Mailer) Last() (accounts.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return accounts.Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}

var _ accounts.Mailer = (*Mailer)(nil)

var linkPattern = regexp.MustCompile(`https?://\S+`)

// ExtractLink finds the first URL under prefix in body and splits it into its
// identifier and token.
func ExtractLink(body, prefix string) (identifier, token string, ok bool) {
	for _, raw := range linkPattern.FindAllString(body, -1) {
		at := strings.Index(raw, prefix)
		if at < 0 {
			continue
		}
		parts := strings.Split(strings.Trim(raw[at+len(prefix):], "/"), "/")
		if len(parts) != 2 {
			continue
		}
		return parts[0], parts[1], true
	}
	return "", "", false
}
