package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/rkhandelwal/futures-exec-engine/internal/breaker"
)

// tokenRefreshLeadTime schedules a refresh this far before expiry.
const tokenRefreshLeadTime = 10 * time.Minute

// AccountType selects which base URL pair a Client uses.
type AccountType string

const (
	AccountLive AccountType = "live"
	AccountDemo AccountType = "demo"
)

// Config configures an HTTPClient.
type Config struct {
	AccountType  AccountType
	APIBaseLive  string
	APIBaseDemo  string
	Username     string
	Password     string
	AppID        string
	AppSecret    string
	DeviceID     string
}

func (c Config) baseURL() string {
	if c.AccountType == AccountLive {
		return c.APIBaseLive
	}
	return c.APIBaseDemo
}

// tokenState holds the current bearer token and its expiry.
type tokenState struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func (t *tokenState) get() (string, time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token, t.expiresAt
}

func (t *tokenState) set(token string, expiresAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
	t.expiresAt = expiresAt
}

// HTTPClient is the authenticated HTTPS request layer for the broker's
// order/position/account endpoints. Every call that hits the network is
// wrapped by the broker:orders breaker (order RPCs) or broker:auth breaker
// (token refresh), per Grounded on internal/broker/dhan.go's
// doRequest helper and status-code-to-error mapping, generalized from Dhan's
// single access-token header to a refreshable bearer token with scheduled
// renewal.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	token      *tokenState
	logger     *log.Logger

	ordersBreaker *breaker.Breaker
	authBreaker   *breaker.Breaker

	authenticate func(ctx context.Context) (token string, expiresAt time.Time, err error)
	resolver     *SymbolResolver
}

// NewHTTPClient creates a broker HTTPClient and schedules its first token
// refresh tokenRefreshLeadTime before the token's reported expiry.
func NewHTTPClient(cfg Config, registry *breaker.Registry, logger *log.Logger) *HTTPClient {
	c := &HTTPClient{
		cfg:           cfg,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		token:         &tokenState{},
		logger:        logger,
		ordersBreaker: registry.Get(breaker.BrokerOrders, breaker.Config{FailureThreshold: 5, SuccessThreshold: 2, BaseTimeout: 60 * time.Second}),
		authBreaker:   registry.Get(breaker.BrokerAuth, breaker.Config{FailureThreshold: 3, SuccessThreshold: 1, BaseTimeout: 120 * time.Second}),
	}
	c.authenticate = c.defaultAuthenticate
	return c
}

// StartTokenRefresh runs the scheduled-refresh loop until ctx is cancelled.
func (c *HTTPClient) StartTokenRefresh(ctx context.Context) {
	if err := c.refresh(ctx); err != nil {
		c.logger.Printf("broker: initial auth failed: %v", err)
	}

	for {
		_, expiresAt := c.token.get()
		wait := time.Until(expiresAt.Add(-tokenRefreshLeadTime))
		if wait < time.Second {
			wait = time.Second
		}

		select {
		case <-time.After(wait):
			if err := c.refresh(ctx); err != nil {
				c.logger.Printf("broker: token refresh failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *HTTPClient) refresh(ctx context.Context) error {
	return c.authBreaker.Execute(func() error {
		token, expiresAt, err := c.authenticate(ctx)
		if err != nil {
			return err
		}
		c.token.set(token, expiresAt)
		return nil
	})
}

func (c *HTTPClient) defaultAuthenticate(ctx context.Context) (string, time.Time, error) {
	body := map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
		"appId":    c.cfg.AppID,
		"appSecret": c.cfg.AppSecret,
		"deviceId": c.cfg.DeviceID,
	}
	respBody, err := c.rawRequest(ctx, http.MethodPost, "/auth/accesstokenrequest", body, false)
	if err != nil {
		return "", time.Time{}, err
	}
	var resp struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expirationTime"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", time.Time{}, fmt.Errorf("broker: parse auth response: %w", err)
	}
	return resp.AccessToken, time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second), nil
}

// doRequest issues an authenticated request behind the broker:orders breaker.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var respBody []byte
	err := c.ordersBreaker.Execute(func() error {
		var reqErr error
		respBody, reqErr = c.rawRequest(ctx, method, path, body, true)
		return reqErr
	})
	return respBody, err
}

func (c *HTTPClient) rawRequest(ctx context.Context, method, path string, body interface{}, authorized bool) ([]byte, error) {
	url := c.cfg.baseURL() + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("broker: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("broker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if authorized {
		token, _ := c.token.get()
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &BrokerAPIError{Code: "network_error", Retryable: true, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("broker: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &BrokerAPIError{
			Code:       fmt.Sprintf("http_%d", resp.StatusCode),
			HTTPStatus: resp.StatusCode,
			Retryable:  resp.StatusCode >= 500,
			Message:    string(respBody),
		}
	}

	return respBody, nil
}
