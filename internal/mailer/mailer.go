// Package mailer delivers notification emails. The production
// implementation talks to the Resend HTTP API; when no API key is
// configured a noop sender is returned so the rest of the pipeline can
// run in development.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const resendEndpoint = "https://api.resend.com/emails"

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a single message. Implementations return an error for
// the individual send only; batch semantics live with the caller.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender builds a sender from configuration. When apiKey is empty a
// noop implementation is returned.
func NewSender(apiKey, fromAddr string, timeout time.Duration) Sender {
	if strings.TrimSpace(apiKey) == "" {
		return noopSender{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &resendSender{
		apiKey:   apiKey,
		from:     fromAddr,
		endpoint: resendEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type resendSender struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

func (s *resendSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(resendRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("marshal mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// noopSender logs instead of delivering. Used when no API key is set.
type noopSender struct{}

func (noopSender) Send(_ context.Context, msg Message) error {
	slog.Info("mail delivery disabled, skipping send", "to", msg.To, "subject", msg.Subject)
	return nil
}
