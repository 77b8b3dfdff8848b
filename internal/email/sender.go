package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"paylink-service/internal/model"
	"github.com/pkg/errors"
)

const (
	defaultAPIURL    = "https://api.sendgrid.com"
	defaultTimeoutMs = 10_000
)

// Config carries the SendGrid settings. The API key comes from the
// environment; an empty key or from address disables sending.
type Config struct {
	APIKey    string
	From      string
	AppURL    string
	URL       string
	TimeoutMs int
}

// Sender delivers payment link mails through the SendGrid v3 API. It holds
// no state of its own; delivery outcomes are reported back to the lifecycle
// service by the caller via MarkEmailSent.
type Sender struct {
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

func NewSender(httpClient *http.Client, cfg Config, logger *slog.Logger) *Sender {
	if cfg.URL == "" {
		cfg.URL = defaultAPIURL
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = defaultTimeoutMs
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}
	}
	return &Sender{httpClient: httpClient, cfg: cfg, logger: logger}
}

// Configured reports whether delivery is enabled.
func (s *Sender) Configured() bool {
	return s.cfg.APIKey != "" && s.cfg.From != ""
}

// SendPaymentLink mails the secure payment page URL to the customer.
func (s *Sender) SendPaymentLink(ctx context.Context, link *model.PaymentLink) error {
	name := link.CustomerName
	if name == "" {
		name = "Valued Customer"
	}
	paymentURL := fmt.Sprintf("%s/pay/%s", s.cfg.AppURL, link.LinkID)

	html := fmt.Sprintf(`<p>Hi %s,</p>
<p>Please use the secure link below to save your payment card on file.</p>
<p><strong>Reference:</strong> %s<br><strong>Invoice:</strong> %s</p>
%s<p><a href="%s">Save Card on File</a></p>
<p>This link expires on %s.</p>`,
		name, link.Description, link.InvoiceNumber,
		amountLine(link), paymentURL, link.ExpiresAt.Format("January 2, 2006"))

	return s.send(ctx, link.CustomerEmail, "Secure Payment Request", html)
}

// SendConfirmation mails the customer after their card was stored.
func (s *Sender) SendConfirmation(ctx context.Context, link *model.PaymentLink) error {
	html := fmt.Sprintf(`<p>Your payment card ending in %s has been securely saved.</p>
<p><strong>Invoice:</strong> %s</p>
<p>No charge has been made. Thank you!</p>`,
		link.MaskedCardNumber, link.InvoiceNumber)

	return s.send(ctx, link.CustomerEmail, "Card Saved Successfully", html)
}

func amountLine(link *model.PaymentLink) string {
	if link.Amount == nil {
		return ""
	}
	return fmt.Sprintf("<p><strong>Amount:</strong> $%.2f</p>", *link.Amount)
}

func (s *Sender) send(ctx context.Context, to, subject, html string) error {
	if !s.Configured() {
		return errors.New("email is not configured")
	}

	payload := map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]string{{"email": to}}},
		},
		"from":    map[string]string{"email": s.cfg.From},
		"subject": subject,
		"content": []map[string]string{
			{"type": "text/html", "value": html},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return errors.Errorf("sendgrid response %s: %s", resp.Status, string(respBody))
	}

	s.logger.InfoContext(ctx, "Sent email", "to", to, "subject", subject)
	return nil
}
