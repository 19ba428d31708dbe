package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ramanifashion/order-engine/internal/domain"
)

// Client is a thin adapter around the PhonePe checkout API: initiate a
// payment, query authoritative status by merchant order id, and verify the
// authenticity of inbound webhooks.
type Client struct {
	baseURL         string
	clientID        string
	clientSecret    string
	webhookUsername string
	webhookPassword string
	httpClient      *http.Client
}

type ClientConfig struct {
	BaseURL         string
	ClientID        string
	ClientSecret    string
	WebhookUsername string
	WebhookPassword string
	HTTPClient      *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:         cfg.BaseURL,
		clientID:        cfg.ClientID,
		clientSecret:    cfg.ClientSecret,
		webhookUsername: cfg.WebhookUsername,
		webhookPassword: cfg.WebhookPassword,
		httpClient:      httpClient,
	}
}

type InitiateResult struct {
	GatewayOrderID string `json:"orderId"`
	State          string `json:"state"`
	RedirectURL    string `json:"redirectUrl"`
}

// Initiate creates a gateway payment order correlated by the merchant order
// id and returns the checkout redirect URL for the customer's browser.
func (c *Client) Initiate(ctx context.Context, merchantOrderID string, amount int64, redirectURL string) (*InitiateResult, error) {
	body := map[string]any{
		"merchantOrderId": merchantOrderID,
		"amount":          amount,
		"redirectUrl":     redirectURL,
	}

	var result InitiateResult
	if err := c.do(ctx, http.MethodPost, "/checkout/v2/pay", body, &result); err != nil {
		return nil, &domain.UpstreamError{System: "phonepe", Op: "initiate", Err: err}
	}

	return &result, nil
}

type StatusResult struct {
	GatewayOrderID string          `json:"orderId"`
	State          string          `json:"state"`
	Amount         int64           `json:"amount"`
	PaymentDetails json.RawMessage `json:"paymentDetails"`
}

// TransactionID digs the gateway transaction id out of the payment detail
// blob; empty when no attempt has been recorded yet.
func (s *StatusResult) TransactionID() string {
	var details []struct {
		TransactionID string `json:"transactionId"`
	}
	if err := json.Unmarshal(s.PaymentDetails, &details); err != nil || len(details) == 0 {
		return ""
	}
	return details[len(details)-1].TransactionID
}

// Status performs the authoritative order-status query.
func (c *Client) Status(ctx context.Context, merchantOrderID string) (*StatusResult, error) {
	var result StatusResult
	path := fmt.Sprintf("/checkout/v2/order/%s/status", merchantOrderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, &domain.UpstreamError{System: "phonepe", Op: "status", Err: err}
	}

	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Id", c.clientID)
	req.Header.Set("X-Client-Secret", c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// VerifyWebhook checks the inbound Authorization header against the SHA-256
// digest of the configured webhook credentials. An invalid digest means the
// body must not be trusted.
func (c *Client) VerifyWebhook(authHeader string) error {
	if authHeader == "" {
		return &domain.AuthError{Msg: "missing webhook authorization header"}
	}

	sum := sha256.Sum256([]byte(c.webhookUsername + ":" + c.webhookPassword))
	expected := hex.EncodeToString(sum[:])

	if subtle.ConstantTimeCompare([]byte(authHeader), []byte(expected)) != 1 {
		return &domain.AuthError{Msg: "invalid webhook signature"}
	}

	return nil
}

// WebhookPayload is the body of a gateway push notification.
type WebhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		MerchantOrderID string          `json:"merchantOrderId"`
		GatewayOrderID  string          `json:"orderId"`
		State           string          `json:"state"`
		PaymentDetails  json.RawMessage `json:"paymentDetails"`
	} `json:"payload"`
}

// TransactionID mirrors StatusResult.TransactionID for webhook bodies.
func (p *WebhookPayload) TransactionID() string {
	s := StatusResult{PaymentDetails: p.Payload.PaymentDetails}
	return s.TransactionID()
}

// ParseWebhook decodes a webhook body, accepting both raw JSON and the
// base64-encoded form some gateway configurations deliver.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	raw := bytes.TrimSpace(body)
	if len(raw) == 0 {
		return nil, &domain.ValidationError{Msg: "empty webhook body"}
	}

	if raw[0] != '{' {
		decoded, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return nil, &domain.ValidationError{Msg: "webhook body is neither JSON nor base64"}
		}
		raw = decoded
	}

	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &domain.ValidationError{Msg: "malformed webhook payload"}
	}
	if payload.Payload.MerchantOrderID == "" {
		return nil, &domain.ValidationError{Msg: "webhook payload missing merchant order id"}
	}

	return &payload, nil
}
