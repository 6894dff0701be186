package delivery

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	identitydomain "ghostauth/internal/identity/domain"
)

const emailTemplate = "From: %s\r\nTo: %s\r\nSubject: Your one-time code\r\n\r\nYour code for %s is: %s\r\n\r\nIf you did not request a code, you can ignore this email.\r\n"

// EmailSender delivers codes over SMTP. Best-effort; failures are logged.
type EmailSender struct {
	Addr string // host:port of the relay
	From string
	Log  zerolog.Logger
}

// NewEmailSender returns an email channel using the given SMTP relay.
func NewEmailSender(addr, from string, log zerolog.Logger) *EmailSender {
	return &EmailSender{Addr: addr, From: from, Log: log}
}

// Send emails the code to the target's email address. Returns false without
// error on any transport failure. The dial is bounded by ctx's deadline.
func (s *EmailSender) Send(ctx context.Context, target identitydomain.Target, purpose, code string) bool {
	if target.Email == "" || s.Addr == "" {
		return false
	}
	body := fmt.Sprintf(emailTemplate, s.From, target.Email, strings.ToLower(purpose), code)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		s.Log.Warn().Err(err).Str("purpose", purpose).Msg("otp email dial failed")
		return false
	}
	host, _, _ := net.SplitHostPort(s.Addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		s.Log.Warn().Err(err).Str("purpose", purpose).Msg("otp email handshake failed")
		return false
	}
	defer c.Close()
	if err := c.Mail(s.From); err != nil {
		s.Log.Warn().Err(err).Msg("otp email MAIL failed")
		return false
	}
	if err := c.Rcpt(target.Email); err != nil {
		s.Log.Warn().Err(err).Msg("otp email RCPT failed")
		return false
	}
	w, err := c.Data()
	if err != nil {
		s.Log.Warn().Err(err).Msg("otp email DATA failed")
		return false
	}
	if _, err := w.Write([]byte(body)); err != nil {
		_ = w.Close()
		s.Log.Warn().Err(err).Msg("otp email write failed")
		return false
	}
	if err := w.Close(); err != nil {
		s.Log.Warn().Err(err).Msg("otp email close failed")
		return false
	}
	_ = c.Quit()
	return true
}
