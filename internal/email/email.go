// Package email sends transactional mail for the backend functions.
package email

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"youth-mis/internal/config"
	"youth-mis/internal/logger"
)

type Message struct {
	To      mail.Address
	Subject string
	Text    string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

type SendgridSender struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
}

var _ Sender = (*SendgridSender)(nil)

func NewSendgridSender(key, appName, fromName, fromEmail string) *SendgridSender {
	return &SendgridSender{
		key:        key,
		host:       host,
		from:       sgmail.NewEmail(fromName, fromEmail),
		subjPrefix: "[" + appName + "] ",
	}
}

func (s *SendgridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Address))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	return m
}

func (s *SendgridSender) Send(ctx context.Context, msg Message) error {
	req := sendgrid.GetRequest(s.key, endpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending email - status: %d - body: %s", res.StatusCode, res.Body)
	}
	return nil
}

// ConsoleSender logs messages instead of delivering them and keeps a copy
// of each for inspection. FailFor makes sends to the listed addresses fail.
type ConsoleSender struct {
	log *logger.Logger

	mu      sync.Mutex
	sent    []Message
	FailFor map[string]error
}

var _ Sender = (*ConsoleSender)(nil)

func NewConsoleSender(log *logger.Logger) *ConsoleSender {
	if log == nil {
		log = logger.Discard()
	}
	return &ConsoleSender{log: log}
}

func (s *ConsoleSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailFor[msg.To.Address]; err != nil {
		return err
	}
	s.sent = append(s.sent, msg)
	s.log.Info("email", "to", msg.To.String(), "subject", msg.Subject)
	return nil
}

func (s *ConsoleSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

// FromConfig selects the sender named by EMAIL_PROVIDER.
func FromConfig(cfg config.Server, log *logger.Logger) (Sender, error) {
	switch cfg.EmailProvider {
	case config.EmailProviderSendgrid:
		if cfg.SendgridAPIKey == "" {
			return nil, fmt.Errorf("email: SENDGRID_API_KEY is required")
		}
		return NewSendgridSender(cfg.SendgridAPIKey, cfg.AppName, cfg.EmailFromName, cfg.EmailFrom), nil
	case config.EmailProviderConsole:
		return NewConsoleSender(log), nil
	}
	return nil, fmt.Errorf("email: unknown provider %q", cfg.EmailProvider)
}
