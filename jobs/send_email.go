package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/wneessen/go-mail"

	"github.com/odyssey-erp/odyssey-accounts/internal/accounts"
	jobmetrics "github.com/odyssey-erp/odyssey-accounts/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg SendEmailPayload) error
}

// SMTPSender delivers mail through an SMTP relay such as Mailpit or Postfix.
type SMTPSender struct {
	From string

	deliver func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTPSender builds a sender for host:port. Credentials are optional; when
// present the relay must accept PLAIN auth. STARTTLS is used if offered.
func NewSMTPSender(host string, port int, username, password, from string) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(15 * time.Second),
	}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp: build client: %w", err)
	}
	s := &SMTPSender{From: from}
	s.deliver = func(ctx context.Context, msg *mail.Msg) error {
		return client.DialAndSendWithContext(ctx, msg)
	}
	return s, nil
}

// Send writes a plain-text message to the relay.
func (s *SMTPSender) Send(ctx context.Context, msg SendEmailPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := s.message(msg)
	if err != nil {
		return err
	}
	if s.deliver == nil {
		return errors.New("smtp: sender not configured")
	}
	return s.deliver(ctx, m)
}

func (s *SMTPSender) message(msg SendEmailPayload) (*mail.Msg, error) {
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return nil, errors.New("smtp: subject contains a line break")
	}
	m := mail.NewMsg()
	if err := m.From(s.From); err != nil {
		return nil, fmt.Errorf("smtp: sender address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("smtp: recipient address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

// SendEmailJob processes TaskTypeSendEmail tasks.
type SendEmailJob struct {
	Sender  Sender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSendEmailJob wires dependencies for the mail handler.
func NewSendEmailJob(sender Sender, logger *slog.Logger, metrics *jobmetrics.Metrics) *SendEmailJob {
	return &SendEmailJob{Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle delivers the message. Malformed payloads are not retried.
func (j *SendEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sender == nil {
		return errors.New("send email: handler not configured")
	}
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("send email: decode payload: %w", asynq.SkipRetry)
	}
	if payload.To == "" {
		return fmt.Errorf("send email: empty recipient: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskTypeSendEmail)
	logger := j.logger().With(slog.String("subject", payload.Subject))
	if err := j.Sender.Send(ctx, payload); err != nil {
		logger.Error("deliver email", slog.Any("error", err))
		return tracker.End(fmt.Errorf("send email: %w", err))
	}
	logger.Info("email delivered")
	return tracker.End(nil)
}

func (j *SendEmailJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *SendEmailJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// Enqueuer submits send-email tasks.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// QueueMailer hands account emails to the background worker.
type QueueMailer struct {
	client Enqueuer
	logger *slog.Logger
}

// NewQueueMailer constructs a QueueMailer.
func NewQueueMailer(client Enqueuer, logger *slog.Logger) *QueueMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueMailer{client: client, logger: logger}
}

// Enqueue implements accounts.Mailer.
func (m *QueueMailer) Enqueue(ctx context.Context, msg accounts.Message) error {
	info, err := m.client.EnqueueSendEmail(ctx, SendEmailPayload{To: msg.To, Subject: msg.Subject, Body: msg.Body})
	if err != nil {
		return err
	}
	m.logger.Debug("email queued", slog.String("task_id", info.ID), slog.String("subject", msg.Subject))
	return nil
}

var _ accounts.Mailer = (*QueueMailer)(nil)
