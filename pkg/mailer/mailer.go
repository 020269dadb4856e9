// Package mailer delivers submission packages to lenders over SMTP.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/mca-router/internal/resilience"
)

// Attachment is a file carried by a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is one outbound email.
type Message struct {
	To          []string
	CC          []string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config holds SMTP connection and envelope settings.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	ReplyTo    string
	RatePerSec float64
	Burst      int
}

type sendFunc func(ctx context.Context, m *mail.Msg) error

// Option configures an SMTPSender.
type Option func(*SMTPSender)

// WithRetry overrides the retry policy applied to temporary SMTP failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *SMTPSender) { s.retry = cfg }
}

// SMTPSender sends messages through an SMTP relay.
type SMTPSender struct {
	cfg        Config
	fromAddr   string
	clientOpts []mail.Option
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	send       sendFunc
	now        func() time.Time
}

// NewSMTPSender validates cfg and returns a rate limited sender.
func NewSMTPSender(cfg Config, opts ...Option) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, eris.New("mailer: host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	hdr := mail.NewMsg()
	if err := hdr.From(cfg.From); err != nil {
		return nil, eris.Wrapf(err, "mailer: parse from address %q", cfg.From)
	}
	if cfg.ReplyTo != "" {
		if err := hdr.ReplyTo(cfg.ReplyTo); err != nil {
			return nil, eris.Wrapf(err, "mailer: parse reply-to address %q", cfg.ReplyTo)
		}
	}

	s := &SMTPSender{
		cfg:        cfg,
		fromAddr:   hdr.GetFrom()[0].Address,
		clientOpts: clientOptions(cfg),
		retry:      resilience.DefaultRetryConfig(),
		now:        time.Now,
	}
	s.send = s.dialAndSend
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = resilience.RetryLogger("smtp", "send")
	}
	return s, nil
}

func clientOptions(cfg Config) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return opts
}

// Send builds msg and hands it to the relay. Temporary (4xx) rejections are
// retried; permanent ones are returned as is.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return eris.New("mailer: message has no recipients")
	}
	m, err := s.build(msg)
	if err != nil {
		return err
	}

	err = resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "mailer: rate limit")
			}
		}
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "mailer: send")
		}
		return s.send(ctx, m)
	})
	if err != nil {
		return eris.Wrapf(err, "mailer: send to %s", strings.Join(msg.To, ","))
	}

	zap.L().Debug("mailer: message sent",
		zap.Strings("to", msg.To),
		zap.Int("cc", len(msg.CC)),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return nil
}

// dialAndSend opens a fresh connection per message so concurrent batches
// never share a client.
func (s *SMTPSender) dialAndSend(ctx context.Context, m *mail.Msg) error {
	client, err := mail.NewClient(s.cfg.Host, s.clientOpts...)
	if err != nil {
		return eris.Wrap(err, "mailer: new client")
	}
	return classify(client.DialAndSendWithContext(ctx, m))
}

// classify marks temporary SMTP rejections as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *mail.SendError
	if errors.As(err, &se) && se.IsTemp() {
		return resilience.NewTransientError(err, 0)
	}
	return err
}

// build renders msg with a text/html alternative body followed by the
// attachments.
func (s *SMTPSender) build(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, eris.Wrap(err, "mailer: set from")
	}
	if err := m.To(msg.To...); err != nil {
		return nil, eris.Wrapf(err, "mailer: parse recipients %q", msg.To)
	}
	if len(msg.CC) > 0 {
		if err := m.Cc(msg.CC...); err != nil {
			return nil, eris.Wrapf(err, "mailer: parse cc %q", msg.CC)
		}
	}
	if s.cfg.ReplyTo != "" {
		if err := m.ReplyTo(s.cfg.ReplyTo); err != nil {
			return nil, eris.Wrap(err, "mailer: set reply-to")
		}
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(s.now())
	m.SetMessageIDWithValue(uuid.NewString() + "@" + domainOf(s.fromAddr))

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
	}

	for _, a := range msg.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		err := m.AttachReader(a.Filename, bytes.NewReader(a.Data), mail.WithFileContentType(mail.ContentType(ct)))
		if err != nil {
			return nil, eris.Wrapf(err, "mailer: attach %s", a.Filename)
		}
	}
	return m, nil
}

func domainOf(addr string) string {
	if _, domain, ok := strings.Cut(addr, "@"); ok && domain != "" {
		return domain
	}
	return "localhost"
}
