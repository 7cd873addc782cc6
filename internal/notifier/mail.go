package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	logx "trackspeed/pkg/logx"
)

// SMTPConfig describes the outgoing mail relay.
//
// With credentials the connection uses implicit TLS and PLAIN auth; without,
// the client upgrades with STARTTLS when the server offers it.
type SMTPConfig struct {
	Server   string
	Port     int
	From     string
	Username string
	Password string
	Timeout  time.Duration
}

// Mailer sends notifications as plain-text e-mail.
type Mailer struct {
	cfg      SMTPConfig
	simulate bool
	out      io.Writer
	log      logx.Logger
}

func NewMailer(cfg SMTPConfig, simulate bool, out io.Writer, log logx.Logger) *Mailer {
	if out == nil {
		out = logx.Stdout()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Mailer{cfg: cfg, simulate: simulate, out: out, log: log.With(logx.String("comp", "mailer"))}
}

func (m *Mailer) Notify(ctx context.Context, msg Message) error {
	if m.simulate {
		_, err := fmt.Fprintf(m.out,
			"--------------\nWould be sending e-mail message to: %s\nSubject: %s\nBody:\n%s\n--------------\n",
			msg.To, msg.Subject, msg.Body)
		return err
	}

	m.log.Debug("preparing e-mail", logx.String("to", msg.To))
	em, err := m.build(msg)
	if err != nil {
		return err
	}

	client, err := m.client()
	if err != nil {
		return fmt.Errorf("%w: create smtp client for %q: %w", ErrSend, m.cfg.Server, err)
	}

	m.log.Debug("sending e-mail", logx.String("to", msg.To), logx.String("subject", msg.Subject), logx.String("body", msg.Body))
	if err := client.DialAndSendWithContext(ctx, em); err != nil {
		m.log.Debug("e-mail message was NOT sent", logx.Err(err))
		return fmt.Errorf("%w: could not send e-mail: %w", ErrSend, err)
	}
	m.log.Debug("e-mail message was sent")
	return nil
}

func (m *Mailer) build(msg Message) (*mail.Msg, error) {
	from := strings.TrimSpace(m.cfg.From)
	if from == "" {
		from = strings.TrimSpace(m.cfg.Username)
	}
	if from == "" {
		return nil, fmt.Errorf("%w: no sender address configured", ErrSend)
	}

	em := mail.NewMsg()
	if err := em.From(from); err != nil {
		return nil, fmt.Errorf("%w: invalid sender address %q: %w", ErrSend, from, err)
	}
	if err := em.To(msg.To); err != nil {
		return nil, fmt.Errorf("%w: invalid recipient address %q: %w", ErrSend, msg.To, err)
	}
	em.Subject(msg.Subject)
	em.SetBodyString(mail.TypeTextPlain, msg.Body)
	return em, nil
}

func (m *Mailer) client() (*mail.Client, error) {
	host := strings.TrimSpace(m.cfg.Server)
	if host == "" {
		return nil, errors.New("smtp server is empty")
	}
	opts := []mail.Option{mail.WithTimeout(m.cfg.Timeout)}
	if m.cfg.Port > 0 {
		opts = append(opts, mail.WithPort(m.cfg.Port))
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSSL(),
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	return mail.NewClient(host, opts...)
}
