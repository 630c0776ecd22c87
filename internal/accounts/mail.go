package accounts

import (
	"context"
	"strings"
)

// Message is an outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer hands messages to the delivery backend.
type Mailer interface {
	Enqueue(ctx context.Context, msg Message) error
}

// MailRenderer renders plain-text email bodies by template name.
type MailRenderer interface {
	RenderText(name string, data any) (string, error)
}

// Link is the identifier/token pair carried by an emailed URL.
type Link struct {
	Identifier string
	Token      string
}

// URL joins the link onto baseURL under prefix, e.g. /accounts/activate/.
func (l Link) URL(baseURL, prefix string) string {
	return strings.TrimRight(baseURL, "/") + prefix + l.Identifier + "/" + l.Token + "/"
}

type mailData struct {
	Username string
	Link     string
	TTLHours int
}
