package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"booking-service/internal/util"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Config holds credentials and the retry policy for order creation.
type Config struct {
	BaseURL        string
	KeyID          string
	KeySecret      string
	AttemptTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// HTTPClient talks to an orders API authenticated with basic auth.
type HTTPClient struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	// nil uses the library's real timer
	timer backoff.Timer
}

// NewHTTPClient creates the gateway client used by the payment services
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{},
		logger: util.GetLogger(),
	}
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// KeyID is the public key the checkout needs alongside the order id.
func (c *HTTPClient) KeyID() string {
	return c.cfg.KeyID
}

// VerifySignature checks a hex HMAC-SHA256 signature.
func (c *HTTPClient) VerifySignature(payload []byte, signature, secret string) bool {
	return Verify(payload, signature, secret)
}

// CreateOrder opens a gateway order. Network errors, 429 and 5xx responses are
// retried with exponential backoff up to MaxAttempts; each attempt carries its
// own timeout. The last error is returned wrapped in ErrGateway.
func (c *HTTPClient) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.CreateOrder")
	defer span.End()

	body, err := json.Marshal(createOrderRequest{Amount: amount, Currency: currency, Receipt: receipt})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	var order *Order
	operation := func() error {
		o, err := c.attempt(ctx, body)
		if err != nil {
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				util.GatewayAttemptsTotal.WithLabelValues("rejected").Inc()
			} else {
				util.GatewayAttemptsTotal.WithLabelValues("retryable").Inc()
			}
			return err
		}
		util.GatewayAttemptsTotal.WithLabelValues("success").Inc()
		order = o
		return nil
	}

	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		c.logger.Warn("Gateway order attempt failed",
			zap.Int("attempt", attempt),
			zap.String("receipt", receipt),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotifyWithTimer(operation, c.retryPolicy(ctx), notify, c.timer); err != nil {
		return nil, util.SpanError(span, fmt.Errorf("%w: %v", ErrGateway, err))
	}
	return order, nil
}

func (c *HTTPClient) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.RetryBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.cfg.MaxAttempts-1)), ctx)
}

func (c *HTTPClient) attempt(ctx context.Context, body []byte) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		util.GatewayLatency.Observe(time.Since(start).Seconds())
	}()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, backoff.Permanent(fmt.Errorf("gateway returned %d: %s", resp.StatusCode, respBody))
	}

	var order Order
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode gateway order: %w", err))
	}
	if order.ID == "" {
		return nil, backoff.Permanent(errors.New("gateway order has no id"))
	}
	return &order, nil
}
