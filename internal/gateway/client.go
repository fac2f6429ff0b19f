// Package gateway предоставляет клиент платёжного шлюза и проверку подписи вебхуков.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
// Вызовы шлюза никогда не выполняются внутри транзакций БД.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// Charge описывает созданный в шлюзе платёж.
type Charge struct {
	TxID   string `json:"tx_id"`
	PayURL string `json:"pay_url"`
	QRURL  string `json:"qr_url"`
}

// ChargeStatus описывает состояние платежа в шлюзе.
type ChargeStatus struct {
	TxID   string  `json:"tx_id"`
	Status string  `json:"status"`
	Amount float64 `json:"amount"`
}

// Статусы платежа на стороне шлюза.
const (
	ChargePaid    = "PAID"
	ChargePending = "PENDING"
	ChargeClosed  = "CLOSED"
)

// NewClient создаёт HTTP-клиент шлюза с ограниченными повторами и
// собственным таймаутом, независимым от транзакций БД.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

func (c *Client) endpoint(path string) string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + path
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("gateway client not configured")
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

type createChargeRequest struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
	Method  string  `json:"method"`
	Subject string  `json:"subject"`
}

// CreateCharge создаёт платёж в шлюзе и возвращает ссылку на оплату.
func (c *Client) CreateCharge(ctx context.Context, orderID string, amountYuan float64, method, subject string) (*Charge, error) {
	var charge Charge
	err := c.doJSON(ctx, http.MethodPost, "/api/charges", createChargeRequest{
		OrderID: orderID,
		Amount:  amountYuan,
		Method:  method,
		Subject: subject,
	}, &charge)
	if err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}
	return &charge, nil
}

type createRefundRequest struct {
	TxID   string  `json:"tx_id"`
	Amount float64 `json:"amount"`
}

// CreateRefund инициирует возврат по платежу шлюза.
func (c *Client) CreateRefund(ctx context.Context, txID string, amountYuan float64) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/refunds", createRefundRequest{
		TxID:   txID,
		Amount: amountYuan,
	}, nil); err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}

// GetChargeStatus запрашивает состояние платежа. Используется фоновой сверкой
// зависших ордеров.
func (c *Client) GetChargeStatus(ctx context.Context, txID string) (*ChargeStatus, error) {
	var status ChargeStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/charges/"+txID, nil, &status); err != nil {
		return nil, fmt.Errorf("get charge status: %w", err)
	}
	return &status, nil
}
