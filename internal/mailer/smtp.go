package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/jeylabbb/newsletter-hq/internal/config"
)

// RelayMailer submits messages to a configured SMTP relay (smarthost). The
// relay owns MX routing, retries and bounce handling; a submission error
// here is the terminal outcome for the message.
type RelayMailer struct {
	addr     string
	username string
	password string
	timeout  time.Duration
	signer   *Signer
	logger   *slog.Logger
}

func NewRelayMailer(cfg config.SMTPConfig, logger *slog.Logger) (*RelayMailer, error) {
	if cfg.RelayAddr == "" {
		return nil, fmt.Errorf("smtp.relay_addr is required")
	}

	m := &RelayMailer{
		addr:     cfg.RelayAddr,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  30 * time.Second,
		logger:   logger.With("component", "mailer"),
	}

	if cfg.DKIM.Enabled {
		signer, err := NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, err
		}
		m.signer = signer
		logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
	}

	return m, nil
}

// Send submits one message to the relay.
func (m *RelayMailer) Send(ctx context.Context, msg *Message) error {
	if err := msg.validate(); err != nil {
		return &DeliveryError{Temporary: false, Message: err.Error()}
	}

	data := msg.Build()
	if m.signer != nil {
		signed, err := m.signer.Sign(data)
		if err != nil {
			m.logger.Warn("DKIM signing failed, sending unsigned", "error", err)
		} else {
			data = signed
		}
	}

	client, err := m.dial(ctx)
	if err != nil {
		return &DeliveryError{Temporary: true, Message: fmt.Sprintf("relay connection failed: %v", err)}
	}
	defer client.Close()

	if m.username != "" {
		auth := sasl.NewPlainClient("", m.username, m.password)
		if err := client.Auth(auth); err != nil {
			return &DeliveryError{Temporary: true, Message: fmt.Sprintf("relay auth failed: %v", err)}
		}
	}

	if err := client.SendMail(msg.From, []string{msg.To}, bytes.NewReader(data)); err != nil {
		return categorizeError(err)
	}

	m.logger.Debug("message submitted", "to", msg.To, "subject", msg.Subject)
	return nil
}

func (m *RelayMailer) dial(ctx context.Context) (*smtp.Client, error) {
	type dialResult struct {
		client *smtp.Client
		err    error
	}

	ch := make(chan dialResult, 1)
	go func() {
		client, err := smtp.DialStartTLS(m.addr, nil)
		ch <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.client, res.err
	}
}

// categorizeError maps SMTP status codes to permanent vs temporary failures.
func categorizeError(err error) error {
	if smtpErr, ok := err.(*smtp.SMTPError); ok {
		if smtpErr.Code >= 500 {
			return &DeliveryError{Temporary: false, Message: smtpErr.Error()}
		}
		return &DeliveryError{Temporary: true, Message: smtpErr.Error()}
	}
	return &DeliveryError{Temporary: true, Message: err.Error()}
}
