package payos

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
	"unicode/utf8"
)

// MaxDescriptionLen is the longest description PayOS accepts on a payment
// request. Callers should pass a short code-based description ("DH<orderCode>")
// and keep the human-readable one locally.
const MaxDescriptionLen = 25

const (
	CodeSuccess   = "00"
	CodeCancelled = "01"
)

// Gateway-side payment request statuses.
const (
	StatusPending   = "PENDING"
	StatusPaid      = "PAID"
	StatusCancelled = "CANCELLED"
	StatusExpired   = "EXPIRED"
)

type ErrorKind int

const (
	KindTimeout ErrorKind = iota + 1
	KindConnection
	KindHTTPStatus
	KindEmptyBody
	KindMalformed
	KindGateway
)

// GatewayError is the only error type the client returns for a failed call,
// so callers can branch on rollback vs retry without unwrapping transport
// internals.
type GatewayError struct {
	Kind ErrorKind
	Code string
	Desc string
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payos: %s (code %s)", e.Desc, e.Code)
	}
	return "payos: " + e.Desc
}

func (e *GatewayError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindConnection
}

type Config struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
	Timeout     time.Duration
}

// Client talks to the PayOS merchant API. It performs I/O only and never
// touches persisted state.
type Client struct {
	baseURL     string
	clientID    string
	apiKey      string
	checksumKey string
	httpClient  *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		clientID:    cfg.ClientID,
		apiKey:      cfg.APIKey,
		checksumKey: cfg.ChecksumKey,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type LinkRequest struct {
	OrderCode   int64
	Amount      int64
	Description string
	ReturnURL   string
	CancelURL   string
	BuyerName   string
	BuyerEmail  string
	BuyerPhone  string
	Items       []Item
}

type PaymentLink struct {
	CheckoutURL   string `json:"checkoutUrl"`
	QRCode        string `json:"qrCode"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	PaymentLinkID string `json:"paymentLinkId"`
	OrderCode     int64  `json:"orderCode"`
	Amount        int64  `json:"amount"`
}

type Transaction struct {
	Reference           string `json:"reference"`
	Amount              int64  `json:"amount"`
	AccountNumber       string `json:"accountNumber"`
	Description         string `json:"description"`
	TransactionDateTime string `json:"transactionDateTime"`
}

type PaymentInfo struct {
	OrderCode          int64         `json:"orderCode"`
	Amount             int64         `json:"amount"`
	AmountPaid         int64         `json:"amountPaid"`
	Status             string        `json:"status"`
	Transactions       []Transaction `json:"transactions"`
	CancellationReason string        `json:"cancellationReason"`
	CreatedAt          string        `json:"createdAt"`
}

// envelope is the common PayOS response wrapper.
type envelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// CreatePaymentLink registers a payment request with PayOS and returns the
// checkout URL and bank transfer details. The request signature covers the
// fixed field set amount, cancelUrl, description, orderCode, returnUrl;
// optional buyer/items fields are excluded.
func (c *Client) CreatePaymentLink(ctx context.Context, req LinkRequest) (*PaymentLink, error) {
	if req.Amount <= 0 {
		return nil, &GatewayError{Kind: KindGateway, Desc: "amount must be positive"}
	}
	desc := truncateDescription(req.Description)

	payload := map[string]any{
		"orderCode":   req.OrderCode,
		"amount":      req.Amount,
		"description": desc,
		"returnUrl":   req.ReturnURL,
		"cancelUrl":   req.CancelURL,
	}
	if req.BuyerName != "" {
		payload["buyerName"] = req.BuyerName
	}
	if req.BuyerEmail != "" {
		payload["buyerEmail"] = req.BuyerEmail
	}
	if req.BuyerPhone != "" {
		payload["buyerPhone"] = req.BuyerPhone
	}
	if len(req.Items) > 0 {
		payload["items"] = req.Items
	}
	payload["signature"] = c.SignRequest(req.Amount, req.CancelURL, desc, req.OrderCode, req.ReturnURL)

	var link PaymentLink
	if err := c.do(ctx, http.MethodPost, "/v2/payment-requests", payload, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// GetPaymentInfo fetches the current gateway-side status for an order code.
func (c *Client) GetPaymentInfo(ctx context.Context, orderCode int64) (*PaymentInfo, error) {
	var info PaymentInfo
	path := fmt.Sprintf("/v2/payment-requests/%d", orderCode)
	if err := c.do(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CancelPayment cancels an open payment request at the gateway.
func (c *Client) CancelPayment(ctx context.Context, orderCode int64, reason string) (*PaymentInfo, error) {
	if reason == "" {
		reason = "User cancelled"
	}
	var info PaymentInfo
	path := fmt.Sprintf("/v2/payment-requests/%d/cancel", orderCode)
	body := map[string]any{"cancellationReason": reason}
	if err := c.do(ctx, http.MethodPost, path, body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// truncateDescription caps a description at MaxDescriptionLen bytes without
// splitting a multi-byte rune.
func truncateDescription(desc string) string {
	if len(desc) <= MaxDescriptionLen {
		return desc
	}
	cut := MaxDescriptionLen
	for cut > 0 && !utf8.RuneStart(desc[cut]) {
		cut--
	}
	return desc[:cut]
}

// SignRequest computes the payment-request signature: a lowercase hex
// HMAC-SHA256 of "amount=..&cancelUrl=..&description=..&orderCode=..&returnUrl=.."
// (the gateway-defined sorted key order).
func (c *Client) SignRequest(amount int64, cancelURL, description string, orderCode int64, returnURL string) string {
	data := fmt.Sprintf("amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		amount, cancelURL, description, orderCode, returnURL)
	mac := hmac.New(sha256.New, []byte(c.checksumKey))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature recomputes the HMAC-SHA256 over the canonical JSON
// form of the payload and compares it to the received signature in constant
// time.
func (c *Client) VerifyWebhookSignature(payload map[string]any, received string) bool {
	canon, err := canonicalJSON(payload)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.checksumKey))
	mac.Write(canon)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(received))
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &GatewayError{Kind: KindMalformed, Desc: "encode request: " + err.Error()}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &GatewayError{Kind: KindConnection, Desc: "build request: " + err.Error()}
	}
	req.Header.Set("x-client-id", c.clientID)
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{Kind: KindConnection, Desc: "read response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return &GatewayError{
			Kind: KindHTTPStatus,
			Code: fmt.Sprintf("%d", resp.StatusCode),
			Desc: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return &GatewayError{Kind: KindEmptyBody, Desc: "empty response body"}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &GatewayError{Kind: KindMalformed, Desc: "decode response: " + err.Error()}
	}
	if env.Code == "" {
		return &GatewayError{Kind: KindMalformed, Desc: "response missing code"}
	}
	if env.Code != CodeSuccess {
		return &GatewayError{Kind: KindGateway, Code: env.Code, Desc: env.Desc}
	}
	if len(env.Data) == 0 || string(bytes.TrimSpace(env.Data)) == "null" {
		return &GatewayError{Kind: KindEmptyBody, Desc: "response missing data"}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &GatewayError{Kind: KindMalformed, Desc: "decode data: " + err.Error()}
		}
	}
	return nil
}

func classifyTransport(err error) *GatewayError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Kind: KindTimeout, Desc: "request timed out"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &GatewayError{Kind: KindTimeout, Desc: "request timed out"}
	}
	return &GatewayError{Kind: KindConnection, Desc: "connection failed: " + err.Error()}
}
