package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/config"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

var (
	// 通信失敗・5xx・429・ブレーカー開放
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrIntentNotFound     = errors.New("payment intent not found")
)

// 4xx 応答
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment api error: status=%d message=%s", e.Status, e.Message)
}

const retryBackoff = 200 * time.Millisecond

// Client は決済ゲートウェイの REST API を叩く
type Client struct {
	cfg     config.PaymentConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(cfg config.PaymentConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	st := gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 4xx はゲートウェイ障害ではない
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrGatewayUnavailable)
		},
	}
	return &Client{cfg: cfg, http: httpClient, breaker: gobreaker.NewCircuitBreaker[[]byte](st)}
}

func (c *Client) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (Intent, error) {
	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", ToMinorUnits(amount)))
	form.Set("currency", c.cfg.Currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	var intent Intent
	if err := c.call(ctx, http.MethodPost, "/v1/payment_intents", form, &intent); err != nil {
		return Intent{}, err
	}
	return intent, nil
}

func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (Intent, error) {
	if id == "" {
		return Intent{}, ErrIntentNotFound
	}
	var intent Intent
	if err := c.call(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), nil, &intent); err != nil {
		return Intent{}, err
	}
	return intent, nil
}

// 全額返金
func (c *Client) CreateRefund(ctx context.Context, paymentIntentID string) (Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", paymentIntentID)

	var refund Refund
	if err := c.call(ctx, http.MethodPost, "/v1/refunds", form, &refund); err != nil {
		return Refund{}, err
	}
	return refund, nil
}

func (c *Client) call(ctx context.Context, method, path string, form url.Values, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrGatewayUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.do(ctx, method, path, form)
		})
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode payment response failed: %w", err)
			}
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		if !errors.Is(err, ErrGatewayUnavailable) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// 1回分のリクエスト（試行ごとにタイムアウト）
func (c *Client) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build payment request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, res.StatusCode)
	case res.StatusCode == http.StatusNotFound:
		return nil, ErrIntentNotFound
	case res.StatusCode >= 400:
		return nil, &APIError{Status: res.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		return strings.TrimSpace(string(body))
	}
	return payload.Error.Message
}
