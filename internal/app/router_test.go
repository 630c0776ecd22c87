package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-accounts/internal/accounts"
	"github.com/odyssey-erp/odyssey-accounts/internal/accounts/accountstest"
	"github.com/odyssey-erp/odyssey-accounts/internal/observability"
	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
	"github.com/odyssey-erp/odyssey-accounts/internal/view"
	"github.com/odyssey-erp/odyssey-accounts/jobs"
	_ "github.com/odyssey-erp/odyssey-accounts/testing"
)

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type stack struct {
	server  *httptest.Server
	client  *http.Client
	repo    *accountstest.Repository
	mailer  *accountstest.Mailer
	metrics *observability.Metrics
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	sessions := shared.NewSessionManager(redisClient, "accounts_session", "session-secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")

	templates, err := view.NewEngine()
	require.NoError(t, err)
	metrics := observability.NewMetrics()
	repo := accountstest.NewRepository()
	mailer := &accountstest.Mailer{}
	tokens := accounts.NewTokenGenerator([]byte("0123456789abcdef0123456789abcdef"), 72*time.Hour)
	flow := accounts.NewActivationFlow(accounts.ActivationConfig{
		Repo: repo, Tokens: tokens, Mailer: mailer, Mails: templates, Logger: logger, Events: metrics,
	})
	service := accounts.NewService(repo, flow, accounts.ServiceConfig{
		Tokens: tokens, Mailer: mailer, Mails: templates, Logger: logger, Events: metrics, BcryptCost: bcrypt.MinCost,
	})

	router := NewRouter(RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessions,
		CSRFManager:     csrf,
		AccountsHandler: accounts.NewHandler(logger, service, templates, sessions, csrf, ""),
		AccountLoader:   service,
		Gate:            accounts.NewGate(accounts.DefaultAllowList()),
		JobHandler:      jobs.NewHandler(nil, logger),
		Metrics:         metrics,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &stack{server: server, client: client, repo: repo, mailer: mailer, metrics: metrics}
}

func (s *stack) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	res, err := s.client.Get(s.server.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

// submit loads formPath for a CSRF token and posts values to it.
func (s *stack) submit(t *testing.T, formPath string, values url.Values) *http.Response {
	t.Helper()
	_, page := s.get(t, formPath)
	match := csrfPattern.FindStringSubmatch(page)
	require.Len(t, match, 2, "csrf token missing on %s", formPath)
	values.Set(shared.CSRFFormField, match[1])
	res, err := s.client.PostForm(s.server.URL+formPath, values)
	require.NoError(t, err)
	_ = res.Body.Close()
	return res
}

func TestRouterOperationalEndpoints(t *testing.T) {
	s := newStack(t)

	res, body := s.get(t, "/healthz")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
	assert.Equal(t, "DENY", res.Header.Get("X-Frame-Options"))

	res, body = s.get(t, "/static/css/app.css")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "public, max-age=3600", res.Header.Get("Cache-Control"))
	assert.Contains(t, res.Header.Get("Content-Type"), "text/css")
	assert.Contains(t, body, ".topbar")

	res, body = s.get(t, "/jobs/health")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, `"queue":"default"`)

	res, body = s.get(t, "/metrics")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "accounts_http_requests_total")

	res, body = s.get(t, "/missing/page")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Contains(t, body, "Page not found")
}

func TestRouterRejectsPostWithoutCSRFToken(t *testing.T) {
	s := newStack(t)
	res, err := s.client.PostForm(s.server.URL+accounts.PathRegister, url.Values{
		"username": {"george"}, "email": {"george@example.com"},
		"password1": {"correct-horse-1"}, "password2": {"correct-horse-1"},
	})
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Zero(t, s.repo.Count())
}

func TestRouterRegistrationGateAndActivation(t *testing.T) {
	s := newStack(t)

	res := s.submit(t, accounts.PathRegister, url.Values{
		"username": {"george"}, "email": {"george@example.com"},
		"password1": {"correct-horse-1"}, "password2": {"correct-horse-1"},
	})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/", res.Header.Get("Location"))
	require.Equal(t, 1, s.repo.Count())

	msgs := s.mailer.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, accounts.ActivationSubject, msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, s.server.URL+accounts.PathActivatePrefix)

	for _, path := range []string{"/", "/accounts/george", accounts.PathPasswordChange} {
		res, _ := s.get(t, path)
		require.Equal(t, http.StatusSeeOther, res.StatusCode, path)
		assert.Equal(t, accounts.PathActivationSent, res.Header.Get("Location"), path)
	}
	res, _ = s.get(t, "/admin/dashboard")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	identifier, token, ok := accountstest.ExtractLink(msgs[0].Body, accounts.PathActivatePrefix)
	require.True(t, ok)

	res, body := s.get(t, accounts.PathActivatePrefix+identifier+"/not-a-token/")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Activation link is invalid")

	res, _ = s.get(t, accounts.PathActivatePrefix+identifier+"/"+token+"/")
	require.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, accounts.PathActivationComplete, res.Header.Get("Location"))

	res, _ = s.get(t, "/")
	assert.Equal(t, http.StatusOK, res.StatusCode)

	_, metrics := s.get(t, "/metrics")
	assert.Contains(t, metrics, `accounts_events_total{event="email_confirmed"} 1`)
	assert.Contains(t, metrics, `accounts_events_total{event="activation_invalid"} 1`)
}

func TestRouterLogoutClearsSession(t *testing.T) {
	s := newStack(t)
	res := s.submit(t, accounts.PathRegister, url.Values{
		"username": {"george"}, "email": {"george@example.com"},
		"password1": {"correct-horse-1"}, "password2": {"correct-horse-1"},
	})
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	res, body := s.get(t, accounts.PathLogout+"/")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "Logged out")

	res, _ = s.get(t, "/")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
