package payos

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMissingCode      = errors.New("payos: webhook missing code")
	ErrMissingData      = errors.New("payos: webhook missing data")
	ErrMissingOrderCode = errors.New("payos: webhook missing orderCode")
	ErrMissingAmount    = errors.New("payos: webhook missing amount")
)

type WebhookData struct {
	OrderCode           int64  `json:"orderCode"`
	Amount              int64  `json:"amount"`
	Description         string `json:"description"`
	AccountNumber       string `json:"accountNumber"`
	Reference           string `json:"reference"`
	TransactionCode     string `json:"transactionCode"`
	TransactionDateTime string `json:"transactionDateTime"`
	Currency            string `json:"currency"`
	PaymentLinkID       string `json:"paymentLinkId"`
	Code                string `json:"code"`
	Desc                string `json:"desc"`
}

// WebhookEnvelope is the typed form of a gateway notification. The parser
// fails closed: a body missing code, data, orderCode or amount is rejected
// rather than defaulted.
type WebhookEnvelope struct {
	Code      string      `json:"code"`
	Desc      string      `json:"desc"`
	Data      WebhookData `json:"data"`
	Signature string      `json:"signature"`

	payload map[string]any
	raw     []byte
}

// TransactionID returns the gateway transaction reference carried by a
// success notification, preferring reference over transactionCode.
func (e *WebhookEnvelope) TransactionID() string {
	if e.Data.Reference != "" {
		return e.Data.Reference
	}
	return e.Data.TransactionCode
}

// Payload is the decoded body used for signature verification. Numbers are
// kept as json.Number so re-serialization matches the sender's literal form.
func (e *WebhookEnvelope) Payload() map[string]any {
	return e.payload
}

func (e *WebhookEnvelope) Raw() []byte {
	return e.raw
}

func ParseWebhook(body []byte) (*WebhookEnvelope, error) {
	payload := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("payos: decode webhook: %w", err)
	}

	env := &WebhookEnvelope{payload: payload, raw: body}
	if err := json.Unmarshal(body, env); err != nil {
		return nil, fmt.Errorf("payos: decode webhook: %w", err)
	}

	if env.Code == "" {
		return nil, ErrMissingCode
	}
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return nil, ErrMissingData
	}
	if _, ok := data["orderCode"]; !ok {
		return nil, ErrMissingOrderCode
	}
	if _, ok := data["amount"]; !ok {
		return nil, ErrMissingAmount
	}
	return env, nil
}

// canonicalJSON serializes a payload deterministically: UTF-8, compact
// separators, keys sorted, no HTML escaping. This matches the form the
// gateway signs.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
