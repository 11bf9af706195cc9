// Package tripay implements the payment-gateway client. Transactions are
// opened with a closed-payment signature (HMAC-SHA256 over merchant code +
// merchant ref + amount); callback verification lives with the webhook
// processor since it signs the raw callback body instead.
package tripay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"rackforge/internal/stories/billing"
)

type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	privateKey   string
	merchantCode string
	limiter      *rate.Limiter
	logger       *slog.Logger
}

type Config struct {
	BaseURL      string
	APIKey       string
	PrivateKey   string
	MerchantCode string
	Timeout      time.Duration
	RateRPS      float64
	RateBurst    int
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 10
	}

	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		privateKey:   cfg.PrivateKey,
		merchantCode: cfg.MerchantCode,
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		logger:       logger,
	}
}

type createRequest struct {
	Method       string `json:"method"`
	MerchantRef  string `json:"merchant_ref"`
	Amount       int64  `json:"amount"`
	CustomerName string `json:"customer_name"`
	Signature    string `json:"signature"`
	ExpiredTime  int64  `json:"expired_time"`
}

type createResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Reference   string `json:"reference"`
		PayCode     string `json:"pay_code"`
		CheckoutURL string `json:"checkout_url"`
		Status      string `json:"status"`
	} `json:"data"`
}

// CreateTransaction opens a transaction on the gateway. Implements
// billing.Gateway.
func (c *Client) CreateTransaction(ctx context.Context, params billing.CreateTransactionParams) (*billing.GatewayTransaction, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiting: %w", err)
	}

	amount := int64(params.Amount)
	payload := createRequest{
		Method:       params.Method,
		MerchantRef:  params.MerchantRef,
		Amount:       amount,
		CustomerName: params.CustomerName,
		Signature:    c.transactionSignature(params.MerchantRef, amount),
		ExpiredTime:  params.ExpiredAt.Unix(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/create", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("Creating gateway transaction",
		"merchant_ref", params.MerchantRef,
		"method", params.Method,
		"amount", amount)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	var parsed createResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !parsed.Success {
		return nil, fmt.Errorf("gateway rejected transaction: status %d, message %q", resp.StatusCode, parsed.Message)
	}

	c.logger.Info("Gateway transaction created",
		"merchant_ref", params.MerchantRef,
		"reference", parsed.Data.Reference)

	return &billing.GatewayTransaction{
		Reference:   parsed.Data.Reference,
		PayCode:     parsed.Data.PayCode,
		CheckoutURL: parsed.Data.CheckoutURL,
		Status:      parsed.Data.Status,
	}, nil
}

func (c *Client) transactionSignature(merchantRef string, amount int64) string {
	mac := hmac.New(sha256.New, []byte(c.privateKey))
	fmt.Fprintf(mac, "%s%s%d", c.merchantCode, merchantRef, amount)
	return hex.EncodeToString(mac.Sum(nil))
}
