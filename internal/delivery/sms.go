package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	identitydomain "ghostauth/internal/identity/domain"
)

// SMSSender delivers codes via the SMS Local bulk API. Best-effort; failures
// are logged.
type SMSSender struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
	Log        zerolog.Logger
}

// NewSMSSender returns an SMS channel that uses the given API key and
// optional base URL/sender.
func NewSMSSender(apiKey, baseURL, sender string, log zerolog.Logger) *SMSSender {
	if baseURL == "" {
		baseURL = "https://app.smslocal.in/api/smsapi"
	}
	return &SMSSender{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: http.DefaultClient,
		Log:        log,
	}
}

// Send posts the code to the SMS provider (route=otp). phone should be digits
// only (country code + number). Does not log the code. The request is bounded
// by ctx's deadline.
func (s *SMSSender) Send(ctx context.Context, target identitydomain.Target, purpose, code string) bool {
	if target.Phone == "" {
		return false
	}
	if s.APIKey == "" {
		s.Log.Warn().Msg("otp sms skipped: API key not configured")
		return false
	}
	body := map[string]any{
		"route":     "otp",
		"numbers":   target.Phone,
		"variables": code,
	}
	if s.Sender != "" {
		body["sender"] = s.Sender
	}
	raw, err := json.Marshal(body)
	if err != nil {
		s.Log.Warn().Err(err).Msg("otp sms marshal failed")
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, bytes.NewReader(raw))
	if err != nil {
		s.Log.Warn().Err(err).Msg("otp sms request build failed")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", s.APIKey)
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		s.Log.Warn().Err(err).Str("purpose", purpose).Msg("otp sms send failed")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		s.Log.Warn().Int("status", resp.StatusCode).Bytes("body", b).Msg("otp sms rejected")
		return false
	}
	return true
}
