// -----------------------------------------------------------------------
// Mailer Service - Sends export files over SMTP
// -----------------------------------------------------------------------

package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
)

// ErrNotConfigured is returned by Send when no SMTP host or sender is set
var ErrNotConfigured = errors.New("mail is not configured")

// Attachment represents an email attachment
type Attachment struct {
	Filename    string
	ContentType string // Defaults to application/octet-stream
	Content     []byte
}

// deliverFunc hands a composed message to the server
type deliverFunc func(ctx context.Context, from string, to []string, msg []byte) error

// Service composes and sends mail using the [mail] settings
type Service struct {
	config  *common.MailConfig
	logger  arbor.ILogger
	deliver deliverFunc
}

// NewService creates a new mailer service
func NewService(config *common.MailConfig, logger arbor.ILogger) *Service {
	s := &Service{
		config: config,
		logger: logger,
	}
	s.deliver = s.deliverSMTP
	return s
}

// IsConfigured checks for the minimum settings needed to send
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.From != ""
}

// Compose builds a multipart message with a plain text body and the attachments
func (s *Service) Compose(to []string, subject, body string, attachments []Attachment) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{{Name: s.config.FromName, Address: s.config.From}})

	recipients := make([]*mail.Address, len(to))
	for i, addr := range to {
		recipients[i] = &mail.Address{Address: addr}
	}
	h.SetAddressList("To", recipients)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create body: %w", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(th)
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, err
	}
	w.Close()
	tw.Close()

	for _, att := range attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		var ah mail.AttachmentHeader
		ah.Set("Content-Type", contentType)
		ah.SetFilename(att.Filename)

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment %s: %w", att.Filename, err)
		}
		if _, err := aw.Write(att.Content); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
		}
		aw.Close()
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

// Send composes and delivers a message to every recipient
func (s *Service) Send(ctx context.Context, to []string, subject, body string, attachments []Attachment) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	msg, err := s.Compose(to, subject, body, attachments)
	if err != nil {
		return err
	}

	if err := s.deliver(ctx, s.config.From, to, msg); err != nil {
		s.logger.Error().Err(err).Strs("to", to).Msg("Failed to send mail")
		return err
	}

	s.logger.Info().
		Strs("to", to).
		Str("subject", subject).
		Int("attachments", len(attachments)).
		Msg("Mail sent")
	return nil
}

func (s *Service) deliverSMTP(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	if !s.config.UseTLS {
		return smtp.SendMail(addr, auth, from, to, msg)
	}

	// Implicit TLS (port 465), falling back to STARTTLS (port 587)
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 30 * time.Second},
		Config:    &tls.Config{ServerName: s.config.Host},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return s.sendWithSTARTTLS(addr, auth, from, to, msg)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	return transmit(client, auth, from, to, msg)
}

func (s *Service) sendWithSTARTTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	return transmit(client, auth, from, to, msg)
}

func transmit(client *smtp.Client, auth smtp.Auth, from string, to []string, msg []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set mail recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}
