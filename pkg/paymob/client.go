package paymob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/settlement-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
)

// Protocol steps, used in logs and error details.
const (
	StepAuthenticate  = "authenticate"
	StepRegisterOrder = "register_order"
	StepPaymentKey    = "payment_key"
)

const maxDiagnosticBytes = 512

var (
	errAPIKeyRequired        = errors.New("paymob api key is required")
	errIntegrationIDRequired = errors.New("paymob integration id is required")
	errIframeIDRequired      = errors.New("paymob iframe id is required")
	errLoggerRequired        = errors.New("paymob logger is required")
)

// Client talks to the Paymob Accept API. Each call is bounded by the
// configured timeout and never retried.
type Client struct {
	http          *http.Client
	baseURL       string
	iframeBaseURL string
	apiKey        string
	integrationID int64
	iframeID      string
	hmacSecret    string
	timeout       time.Duration
	keyExpiration time.Duration
	logger        *logger.Logger
}

// NewClient validates credentials and builds the gateway client.
func NewClient(cfg config.PaymobConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if cfg.IntegrationID <= 0 {
		return nil, errIntegrationIDRequired
	}
	iframeID := strings.TrimSpace(cfg.IframeID)
	if iframeID == "" {
		return nil, errIframeIDRequired
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	expiration := cfg.PaymentKeyExpiration
	if expiration <= 0 {
		expiration = time.Hour
	}
	return &Client{
		http:          &http.Client{},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		iframeBaseURL: strings.TrimRight(cfg.IframeBaseURL, "/"),
		apiKey:        apiKey,
		integrationID: cfg.IntegrationID,
		iframeID:      iframeID,
		hmacSecret:    strings.TrimSpace(cfg.HMACSecret),
		timeout:       timeout,
		keyExpiration: expiration,
		logger:        logg,
	}, nil
}

// KeyExpiration is how long an issued payment key stays valid.
func (c *Client) KeyExpiration() time.Duration {
	return c.keyExpiration
}

// HMACSecret returns the secret used to sign redirects and notifications.
func (c *Client) HMACSecret() string {
	return c.hmacSecret
}

// IframeURL builds the hosted payment page URL for a payment key.
func (c *Client) IframeURL(paymentToken string) string {
	return fmt.Sprintf("%s/%s?payment_token=%s", c.iframeBaseURL, url.PathEscape(c.iframeID), url.QueryEscape(paymentToken))
}

type authRequest struct {
	APIKey string `json:"api_key"`
}

type authResponse struct {
	Token string `json:"token"`
}

// Authenticate exchanges the API key for a short-lived auth token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	var resp authResponse
	if err := c.post(ctx, StepAuthenticate, "/auth/tokens", authRequest{APIKey: c.apiKey}, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", c.mapError(StepAuthenticate, errors.New("auth response missing token"))
	}
	return resp.Token, nil
}

// OrderItem is one line registered with the provider.
type OrderItem struct {
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
}

// OrderRequest registers the amount the buyer will be charged.
type OrderRequest struct {
	AmountCents int64
	Currency    string
	Items       []OrderItem
}

type orderPayload struct {
	AuthToken      string      `json:"auth_token"`
	DeliveryNeeded string      `json:"delivery_needed"`
	AmountCents    int64       `json:"amount_cents"`
	Currency       string      `json:"currency"`
	Items          []OrderItem `json:"items"`
}

type orderResponse struct {
	ID json.Number `json:"id"`
}

// RegisterOrder creates the provider order and returns its id.
func (c *Client) RegisterOrder(ctx context.Context, authToken string, req OrderRequest) (string, error) {
	payload := orderPayload{
		AuthToken:      authToken,
		DeliveryNeeded: "false",
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Items:          req.Items,
	}
	var resp orderResponse
	if err := c.post(ctx, StepRegisterOrder, "/ecommerce/orders", payload, &resp); err != nil {
		return "", err
	}
	id := resp.ID.String()
	if id == "" {
		return "", c.mapError(StepRegisterOrder, errors.New("order response missing id"))
	}
	return id, nil
}

// BillingData is the buyer profile Paymob requires to issue a payment key.
type BillingData struct {
	Apartment      string `json:"apartment"`
	Email          string `json:"email"`
	Floor          string `json:"floor"`
	FirstName      string `json:"first_name"`
	Street         string `json:"street"`
	Building       string `json:"building"`
	PhoneNumber    string `json:"phone_number"`
	ShippingMethod string `json:"shipping_method"`
	PostalCode     string `json:"postal_code"`
	City           string `json:"city"`
	Country        string `json:"country"`
	LastName       string `json:"last_name"`
	State          string `json:"state"`
}

// PaymentKeyRequest binds a registered order to a billing profile.
type PaymentKeyRequest struct {
	AmountCents int64
	Currency    string
	OrderID     string
	Billing     BillingData
}

type paymentKeyPayload struct {
	AuthToken     string      `json:"auth_token"`
	AmountCents   int64       `json:"amount_cents"`
	Expiration    int64       `json:"expiration"`
	OrderID       json.Number `json:"order_id"`
	BillingData   BillingData `json:"billing_data"`
	Currency      string      `json:"currency"`
	IntegrationID int64       `json:"integration_id"`
}

type paymentKeyResponse struct {
	Token string `json:"token"`
}

// IssuePaymentKey returns the payment token used to load the iframe.
func (c *Client) IssuePaymentKey(ctx context.Context, authToken string, req PaymentKeyRequest) (string, error) {
	payload := paymentKeyPayload{
		AuthToken:     authToken,
		AmountCents:   req.AmountCents,
		Expiration:    int64(c.keyExpiration / time.Second),
		OrderID:       json.Number(req.OrderID),
		BillingData:   req.Billing,
		Currency:      req.Currency,
		IntegrationID: c.integrationID,
	}
	var resp paymentKeyResponse
	if err := c.post(ctx, StepPaymentKey, "/acceptance/payment_keys", payload, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", c.mapError(StepPaymentKey, errors.New("payment key response missing token"))
	}
	return resp.Token, nil
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paymob responded %d: %s", e.StatusCode, e.Detail)
}

func (c *Client) post(ctx context.Context, step, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	buf, err := json.Marshal(body)
	if err != nil {
		return c.mapError(step, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return c.mapError(step, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.log(ctx, "request", step, map[string]any{"path": path})
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log(ctx, "error", step, map[string]any{"error": err.Error()})
		return c.mapError(step, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return c.mapError(step, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Detail: diagnostic(raw)}
		c.log(ctx, "error", step, map[string]any{"error": apiErr.Error(), "status": resp.StatusCode})
		return c.mapError(step, apiErr)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return c.mapError(step, fmt.Errorf("decode response: %w", err))
	}
	c.log(ctx, "response", step, map[string]any{
		"status":      resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return nil
}

// diagnostic pulls the provider's explanation out of an error body.
func diagnostic(raw []byte) string {
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Message != "" {
			return body.Message
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > maxDiagnosticBytes {
		text = text[:maxDiagnosticBytes]
	}
	return text
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("paymob %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("paymob %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"token", "api_key", "secret", "email", "phone", "pan"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

var stepCodes = map[string]pkgerrors.Code{
	StepAuthenticate:  pkgerrors.CodeGatewayAuth,
	StepRegisterOrder: pkgerrors.CodeGatewayOrder,
	StepPaymentKey:    pkgerrors.CodeGatewayKey,
}

// mapError turns a failed step into its gateway error code. Details carry the
// step and the provider's diagnostic text.
func (c *Client) mapError(step string, err error) error {
	if err == nil {
		return nil
	}
	code, ok := stepCodes[step]
	if !ok {
		code = pkgerrors.CodeDependency
	}
	details := map[string]any{"step": step}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		details["provider_status"] = apiErr.StatusCode
		details["provider_message"] = apiErr.Detail
	} else if errors.Is(err, context.DeadlineExceeded) {
		details["provider_message"] = "request timed out"
	} else {
		details["provider_message"] = err.Error()
	}
	return pkgerrors.Wrap(code, err, fmt.Sprintf("paymob %s failed", step)).WithDetails(details)
}
