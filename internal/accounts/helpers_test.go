package accounts_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-accounts/internal/accounts"
	"github.com/odyssey-erp/odyssey-accounts/internal/accounts/accountstest"
	"github.com/odyssey-erp/odyssey-accounts/internal/view"
	_ "github.com/odyssey-erp/odyssey-accounts/testing"
)

const testBaseURL = "http://accounts.test"

type fixture struct {
	service *accounts.Service
	flow    *accounts.ActivationFlow
	tokens  *accounts.TokenGenerator
	repo    *accountstest.Repository
	mailer  *accountstest.Mailer
	events  *eventLog
	logger  *slog.Logger
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) RecordAccountEvent(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *eventLog) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev == event {
			n++
		}
	}
	return n
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := accountstest.NewRepository()
	mailer := &accountstest.Mailer{}
	events := &eventLog{}
	tokens := accounts.NewTokenGenerator([]byte("0123456789abcdef0123456789abcdef"), 72*time.Hour)

	flow := accounts.NewActivationFlow(accounts.ActivationConfig{
		Repo:   repo,
		Tokens: tokens,
		Mailer: mailer,
		Mails:  templates,
		Logger: logger,
		Events: events,
	})
	service := accounts.NewService(repo, flow, accounts.ServiceConfig{
		Tokens:     tokens,
		Mailer:     mailer,
		Mails:      templates,
		Logger:     logger,
		Events:     events,
		BcryptCost: bcrypt.MinCost,
	})
	return &fixture{service: service, flow: flow, tokens: tokens, repo: repo, mailer: mailer, events: events, logger: logger}
}

func (f *fixture) register(t *testing.T, username, email, password string) *accounts.Account {
	t.Helper()
	acc, err := f.service.Register(context.Background(), accounts.RegisterForm{
		Username:  username,
		Email:     email,
		Password1: password,
		Password2: password,
	})
	require.NoError(t, err)
	return acc
}
