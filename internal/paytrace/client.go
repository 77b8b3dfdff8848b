package paytrace

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
)

const defaultTimeoutMs = 10_000

var (
	// ErrAuth covers rejected credentials and error responses from the
	// processor's authentication endpoint.
	ErrAuth = errors.New("paytrace: authentication failed")

	// ErrTimeout covers outbound calls that exceeded the configured bound.
	ErrTimeout = errors.New("paytrace: upstream timed out")

	requestSuccessCounter = metrics.GetOrCreateCounter(`paytrace_request_total{result="success"}`)
	requestErrorCounter   = metrics.GetOrCreateCounter(`paytrace_request_total{result="error"}`)

	oauthDurationHistogram = metrics.GetOrCreateHistogram(`paytrace_oauth_duration_milliseconds`)
)

// Config carries the processor connection settings. Username and password
// come from the environment, the rest from the config file.
type Config struct {
	URL                string
	Username           string
	Password           string
	IntegratorID       string
	TimeoutMs          int
	TokenSafetyMarginS int
}

// Client is a minimal PayTrace API client. All profile calls are
// pass-throughs: the processor owns the state, the client only translates
// requests and error shapes.
type Client struct {
	httpClient *http.Client
	cfg        Config
	tokens     *TokenSource
	logger     *slog.Logger
}

// NewClient constructs a PayTrace client with its own token cache.
func NewClient(httpClient *http.Client, cfg Config, logger *slog.Logger) *Client {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = defaultTimeoutMs
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}
	}
	c := &Client{
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
	}
	c.tokens = NewTokenSource(c.fetchToken, time.Duration(cfg.TokenSafetyMarginS)*time.Second, nil)
	return c
}

// Tokens exposes the credential cache, mainly for wiring health checks.
func (c *Client) Tokens() *TokenSource { return c.tokens }

// fetchToken performs the OAuth password grant. Injected into the token
// cache as its refresh callback.
func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	start := time.Now()

	form := url.Values{
		"grant_type": {"password"},
		"username":   {c.cfg.Username},
		"password":   {c.cfg.Password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, errors.Wrapf(ErrAuth, "oauth status %s: %s", resp.Status, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", 0, errors.Wrap(ErrAuth, "decoding oauth response")
	}
	if payload.AccessToken == "" {
		return "", 0, errors.Wrap(ErrAuth, "oauth response missing access_token")
	}

	oauthDurationHistogram.Update(float64(time.Since(start).Milliseconds()))
	c.logger.InfoContext(ctx, "Refreshed processor access token", "expiresInS", payload.ExpiresIn)

	return payload.AccessToken, time.Duration(payload.ExpiresIn) * time.Second, nil
}

// classifyTransportError maps deadline and network timeouts onto ErrTimeout
// so callers can tell them apart from auth failures.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	return err
}

type apiResponse struct {
	Success       bool                `json:"success"`
	StatusMessage string              `json:"status_message"`
	Errors        map[string][]string `json:"errors"`
}

func (r apiResponse) errorMessage() string {
	if len(r.Errors) > 0 {
		raw, _ := json.Marshal(r.Errors)
		return string(raw)
	}
	return r.StatusMessage
}

// post sends an authenticated JSON request and decodes the body into out.
func (c *Client) post(ctx context.Context, path string, payload, out any) (int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestErrorCounter.Inc()
		return 0, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		requestErrorCounter.Inc()
		return resp.StatusCode, err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		requestErrorCounter.Inc()
		return resp.StatusCode, errors.Wrapf(err, "decoding response from %s", path)
	}

	requestSuccessCounter.Inc()
	return resp.StatusCode, nil
}

// BillingAddress accompanies a card on profile creation and update.
type BillingAddress struct {
	Name          string `json:"name,omitempty"`
	StreetAddress string `json:"street_address,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	Zip           string `json:"zip,omitempty"`
}

// CreateProfileParams holds the card details submitted through a payment link.
type CreateProfileParams struct {
	CustomerID      string
	CardNumber      string
	ExpirationMonth string
	ExpirationYear  string
	CVV             string
	BillingAddress  *BillingAddress
}

// UpdateProfileParams updates a stored card via the hosted payment fields token.
type UpdateProfileParams struct {
	CustomerID      string
	HPFToken        string
	EncKey          string
	ExpirationMonth string
	ExpirationYear  string
	BillingAddress  *BillingAddress
}

// ProfileResult is the processor's answer to a profile create or update.
type ProfileResult struct {
	CustomerID       string
	MaskedCardNumber string
}

type creditCard struct {
	Number          string `json:"number,omitempty"`
	HPFToken        string `json:"hpf_token,omitempty"`
	EncKey          string `json:"enc_key,omitempty"`
	ExpirationMonth string `json:"expiration_month"`
	ExpirationYear  string `json:"expiration_year"`
}

type profileResponse struct {
	apiResponse
	CustomerID       string `json:"customer_id"`
	MaskedCardNumber string `json:"masked_card_number"`
}

// CreateCustomerProfile stores a card against a new customer profile.
func (c *Client) CreateCustomerProfile(ctx context.Context, params CreateProfileParams) (*ProfileResult, error) {
	payload := map[string]any{
		"customer_id": params.CustomerID,
		"credit_card": creditCard{
			Number:          params.CardNumber,
			ExpirationMonth: params.ExpirationMonth,
			ExpirationYear:  params.ExpirationYear,
		},
	}
	if params.CVV != "" {
		payload["csc"] = params.CVV
	}
	if c.cfg.IntegratorID != "" {
		payload["integrator_id"] = c.cfg.IntegratorID
	}
	if params.BillingAddress != nil {
		payload["billing_address"] = params.BillingAddress
	}

	var resp profileResponse
	status, err := c.post(ctx, "/v1/customer/create", payload, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 400 || !resp.Success {
		return nil, errors.Errorf("creating customer profile: %s", resp.errorMessage())
	}
	return &ProfileResult{CustomerID: resp.CustomerID, MaskedCardNumber: resp.MaskedCardNumber}, nil
}

// UpdateCustomerProfile replaces the stored card or billing address.
func (c *Client) UpdateCustomerProfile(ctx context.Context, params UpdateProfileParams) (*ProfileResult, error) {
	payload := map[string]any{
		"customer_id": params.CustomerID,
	}
	if c.cfg.IntegratorID != "" {
		payload["integrator_id"] = c.cfg.IntegratorID
	}
	if params.HPFToken != "" && params.EncKey != "" {
		payload["credit_card"] = creditCard{
			HPFToken:        params.HPFToken,
			EncKey:          params.EncKey,
			ExpirationMonth: params.ExpirationMonth,
			ExpirationYear:  params.ExpirationYear,
		}
	}
	if params.BillingAddress != nil {
		payload["billing_address"] = params.BillingAddress
	}

	var resp profileResponse
	status, err := c.post(ctx, "/v1/customer/update", payload, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 400 || !resp.Success {
		return nil, errors.Errorf("updating customer profile: %s", resp.errorMessage())
	}
	return &ProfileResult{CustomerID: resp.CustomerID, MaskedCardNumber: resp.MaskedCardNumber}, nil
}

// ExportCustomerProfile returns the processor's raw record for the customer.
func (c *Client) ExportCustomerProfile(ctx context.Context, customerID string) (json.RawMessage, error) {
	payload := map[string]any{"customer_id": customerID}
	if c.cfg.IntegratorID != "" {
		payload["integrator_id"] = c.cfg.IntegratorID
	}

	var resp struct {
		apiResponse
		Customers []json.RawMessage `json:"customers"`
	}
	status, err := c.post(ctx, "/v1/customer/export", payload, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 400 || !resp.Success || len(resp.Customers) == 0 {
		return nil, errors.Errorf("customer not found: %s", resp.errorMessage())
	}
	return resp.Customers[0], nil
}

// DeleteCustomerProfile removes the customer profile from the processor.
func (c *Client) DeleteCustomerProfile(ctx context.Context, customerID string) error {
	payload := map[string]any{"customer_id": customerID}
	if c.cfg.IntegratorID != "" {
		payload["integrator_id"] = c.cfg.IntegratorID
	}

	var resp apiResponse
	status, err := c.post(ctx, "/v1/customer/delete", payload, &resp)
	if err != nil {
		return err
	}
	if status >= 400 || !resp.Success {
		return errors.Errorf("deleting customer profile: %s", resp.errorMessage())
	}
	return nil
}

// ProtectClientKey fetches a one-time client key for the hosted payment form.
func (c *Client) ProtectClientKey(ctx context.Context) (string, error) {
	payload := map[string]any{}
	if c.cfg.IntegratorID != "" {
		payload["integrator_id"] = c.cfg.IntegratorID
	}

	var resp struct {
		apiResponse
		ClientKey string `json:"clientKey"`
	}
	status, err := c.post(ctx, "/v1/payment_fields/token/create", payload, &resp)
	if err != nil {
		return "", err
	}
	if status >= 400 || resp.ClientKey == "" {
		return "", errors.Errorf("fetching protect client key: %s", resp.errorMessage())
	}
	return resp.ClientKey, nil
}
