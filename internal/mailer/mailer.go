// Package mailer implements the Mailer external collaborator (§6): in the
// local environment it logs instead of sending; elsewhere it sends over
// SMTP with the bounded-retry/backoff shape §5 mandates for outbound mail.
package mailer

import (
	"fmt"
	"log"
	"net/smtp"
	"time"

	"github.com/watup-lk/identity-service/internal/config"
)

const (
	sendTimeout = 30 * time.Second
	maxRetries  = 5
	maxBackoff  = 30 * time.Second
)

// Mailer sends fire-and-forget mail; it never blocks the login path.
type Mailer interface {
	Send(to, subject, text string, button *Button)
}

// Button models an optional call-to-action link in an email, matching
// account.py's Button-based templates (account creation, password
// recovery, OTP flows).
type Button struct {
	Text string
	URL  string
}

// LogMailer logs instead of sending — used in the local environment so the
// service boots without real SMTP credentials.
type LogMailer struct{}

func (LogMailer) Send(to, subject, text string, button *Button) {
	if button != nil {
		log.Printf("[mailer] (local) to=%s subject=%q body=%q button=%q(%s)", to, subject, text, button.Text, button.URL)
		return
	}
	log.Printf("[mailer] (local) to=%s subject=%q body=%q", to, subject, text)
}

// SMTPMailer sends mail over SMTP with bounded exponential backoff
// retries, matching the 30s/5-retry envelope used for outbound email.
type SMTPMailer struct {
	addr string
	auth smtp.Auth
	from string
}

func NewSMTPMailer(addr, username, password, from string) *SMTPMailer {
	host := addr
	if idx := indexOfColon(addr); idx >= 0 {
		host = addr[:idx]
	}
	return &SMTPMailer{addr: addr, auth: smtp.PlainAuth("", username, password, host), from: from}
}

func (m *SMTPMailer) Send(to, subject, text string, button *Button) {
	go m.sendWithRetry(to, subject, text, button)
}

func (m *SMTPMailer) sendWithRetry(to, subject, text string, button *Button) {
	body := text
	if button != nil {
		body = fmt.Sprintf("%s\n\n%s: %s", text, button.Text, button.URL)
	}
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", to, subject, body))

	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		errCh := make(chan error, 1)
		go func() { errCh <- smtp.SendMail(m.addr, m.auth, m.from, []string{to}, msg) }()

		select {
		case err := <-errCh:
			if err == nil {
				return
			}
			lastErr = err
		case <-time.After(sendTimeout):
			lastErr = fmt.Errorf("mailer: send to %s timed out", to)
		}

		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	log.Printf("[mailer] giving up sending to %s after %d attempts: %v", to, maxRetries, lastErr)
}

func indexOfColon(s string) int {
	for i, c := range s {
		if c == ':' {
			return i
		}
	}
	return -1
}

// New picks LogMailer or SMTPMailer based on environment, matching
// account.py's environment.is_local() branch.
func New(cfg *config.Config, smtpAddr, smtpUser, smtpPass, from string) Mailer {
	if cfg.Environment.IsLocal() {
		return LogMailer{}
	}
	return NewSMTPMailer(smtpAddr, smtpUser, smtpPass, from)
}
