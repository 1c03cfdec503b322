// Package mailer submits composed messages to the outbound mail transport.
package mailer

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"time"
)

// Message is one sendable email. The engine only supplies plain content;
// HTML rendering belongs to the template layer upstream.
type Message struct {
	From      string
	FromName  string
	To        string
	Subject   string
	Body      string
	Preheader string
}

// Mailer delivers a single message. Implementations report per-message
// outcomes; a returned error covers only the one message.
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// Build assembles the RFC 5322 message bytes.
func (m *Message) Build() []byte {
	var b strings.Builder

	from := m.From
	if m.FromName != "" {
		from = mime.QEncoding.Encode("utf-8", m.FromName) + " <" + m.From + ">"
	}

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + m.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", m.Subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	if m.Preheader != "" {
		b.WriteString("X-Preheader: " + mime.QEncoding.Encode("utf-8", m.Preheader) + "\r\n")
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	b.WriteString("\r\n")

	return []byte(b.String())
}

func (m *Message) validate() error {
	if m.From == "" {
		return fmt.Errorf("from is required")
	}
	if m.To == "" {
		return fmt.Errorf("to is required")
	}
	return nil
}
