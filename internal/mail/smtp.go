// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package mail

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/samber/oops"
	gomail "github.com/wneessen/go-mail"
)

// DefaultSMTPTimeout bounds a whole delivery when the context has no deadline.
const DefaultSMTPTimeout = 30 * time.Second

// TLSMode selects how the connection to the relay is encrypted.
type TLSMode string

// TLS modes.
const (
	// TLSStartTLS requires the relay to offer STARTTLS.
	TLSStartTLS TLSMode = "starttls"
	// TLSOpportunistic upgrades with STARTTLS when offered and sends in the
	// clear otherwise.
	TLSOpportunistic TLSMode = "opportunistic"
	// TLSImplicit dials TLS directly, as relays on port 465 expect.
	TLSImplicit TLSMode = "implicit"
	// TLSNone never encrypts. Only for local relays.
	TLSNone TLSMode = "none"
)

// ParseTLSMode maps a configuration value to a TLSMode. The empty string
// selects TLSStartTLS.
func ParseTLSMode(s string) (TLSMode, error) {
	switch m := TLSMode(s); m {
	case "":
		return TLSStartTLS, nil
	case TLSStartTLS, TLSOpportunistic, TLSImplicit, TLSNone:
		return m, nil
	default:
		return "", oops.Code("MAIL_CONFIG_INVALID").With("tls", s).Errorf("unknown smtp tls mode")
	}
}

// SMTPConfig configures an SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// TLS defaults to TLSStartTLS.
	TLS TLSMode

	// Timeout defaults to DefaultSMTPTimeout.
	Timeout time.Duration

	// InsecureSkipVerify disables certificate checks. Only for local relays
	// with self-signed certificates.
	InsecureSkipVerify bool
}

// SMTPSender delivers messages through an SMTP relay.
type SMTPSender struct {
	cfg  SMTPConfig
	opts []gomail.Option
}

// NewSMTPSender validates cfg and creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("port", cfg.Port).Errorf("smtp port out of range")
	}
	if cfg.From == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp from address is required")
	}
	mode, err := ParseTLSMode(string(cfg.TLS))
	if err != nil {
		return nil, err
	}
	cfg.TLS = mode
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(cfg.Timeout),
		gomail.WithTLSConfig(&tls.Config{
			ServerName:         cfg.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for local relays
		}),
	}
	switch mode {
	case TLSImplicit:
		opts = append(opts, gomail.WithSSL())
	case TLSOpportunistic:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	case TLSNone:
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	// Reject bad options now rather than on the first reset mail.
	if _, err := gomail.NewClient(cfg.Host, opts...); err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("host", cfg.Host).Wrap(err)
	}
	return &SMTPSender{cfg: cfg, opts: opts}, nil
}

// Send delivers msg over a fresh connection. The connection honours ctx
// cancellation and deadline.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return oops.Code("MAIL_INVALID_MESSAGE").Errorf("recipient is required")
	}

	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return oops.Code("MAIL_INVALID_MESSAGE").With("from", s.cfg.From).Wrap(err)
	}
	if err := m.To(msg.To); err != nil {
		return oops.Code("MAIL_INVALID_MESSAGE").With("to", msg.To).Wrap(err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(gomail.TypeTextHTML, msg.HTML)

	client, err := gomail.NewClient(s.cfg.Host, s.opts...)
	if err != nil {
		return oops.Code("MAIL_CONFIG_INVALID").With("host", s.cfg.Host).Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("host", s.cfg.Host).
			With("port", s.cfg.Port).
			With("tls", string(s.cfg.TLS)).
			With("to", msg.To).
			Wrap(err)
	}
	return nil
}
