// Package payment bridges external payment captures to token credits. Only
// the order create/capture surface the business logic consumes is modeled.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// CaptureStatusCompleted is the provider status that authorizes a credit.
const CaptureStatusCompleted = "COMPLETED"

// Order is a created provider order awaiting approval and capture.
type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Capture is the provider's verdict on a capture attempt.
type Capture struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// Client is the payment provider surface the app consumes.
type Client interface {
	CreateOrder(ctx context.Context, amount, currency, description string) (Order, error)
	CaptureOrder(ctx context.Context, orderID string) (Capture, error)
}

// APIError represents a payment provider error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// PayPalClient talks to the PayPal Orders v2 API with client-credential
// access tokens, refreshed lazily before expiry.
type PayPalClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalClient builds a client for the given environment base URL
// (sandbox or live).
func NewPayPalClient(baseURL, clientID, clientSecret string) (*PayPalClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("paypal baseURL, clientID, and clientSecret are required")
	}
	return &PayPalClient{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 20 * time.Second},
	}, nil
}

// CreateOrder opens a provider order for the given price.
func (c *PayPalClient) CreateOrder(ctx context.Context, amount, currency, description string) (Order, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"amount": map[string]string{
					"currency_code": currency,
					"value":         amount,
				},
				"description": description,
			},
		},
	}
	var order Order
	if err := c.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", payload, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// CaptureOrder asks the provider to capture a previously approved order.
func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (Capture, error) {
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", orderID)
	if err := c.doJSON(ctx, http.MethodPost, path, struct{}{}, &resp); err != nil {
		return Capture{}, err
	}
	return Capture{OrderID: resp.ID, Status: resp.Status}, nil
}

func (c *PayPalClient) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Message
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// token returns a cached access token, fetching a fresh one when expired.
func (c *PayPalClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", &APIError{Status: resp.StatusCode, Message: "access token request failed"}
	}
	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", err
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token")
	}
	c.accessToken = tokenResp.AccessToken
	// Refresh one minute early to avoid using a token at the expiry edge.
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}
