package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lechieutung2003/cleanzy-app/internal/payment"
	"github.com/lechieutung2003/cleanzy-app/internal/payos"
)

type stubService struct {
	createReq    *payment.CreateRequest
	createResult *payment.CreateResult
	createErr    error
	applied      []*payos.WebhookEnvelope
	statusResult *payment.StatusResult
	statusErr    error
	cancelled    []int64
	cancelErr    error
}

func (s *stubService) CreatePayment(_ context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	s.createReq = &req
	return s.createResult, s.createErr
}

func (s *stubService) Reconcile(_ context.Context, orderCode int64) (*payment.StatusResult, error) {
	return s.statusResult, s.statusErr
}

func (s *stubService) Cancel(_ context.Context, orderCode int64, reason string) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, orderCode)
	return nil
}

func (s *stubService) ApplyNotification(_ context.Context, env *payos.WebhookEnvelope) error {
	s.applied = append(s.applied, env)
	return nil
}

func newTestServer(t *testing.T) (*Server, *stubService) {
	t.Helper()
	svc := &stubService{}
	verifier := payos.NewClient(payos.Config{ChecksumKey: "test-checksum-key"})
	return NewServer(svc, verifier, slog.Default()), svc
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestCreatePaymentValidation(t *testing.T) {
	srv, svc := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/payments/create", map[string]any{"amount": 10000})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/payments/create", map[string]any{"order_id": uuid.NewString()})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/payments/create", map[string]any{"amount": -1, "order_id": uuid.NewString()})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Nil(t, svc.createReq)
}

func TestCreatePaymentHappyPath(t *testing.T) {
	srv, svc := newTestServer(t)
	svc.createResult = &payment.CreateResult{
		PaymentID:     uuid.New(),
		PaymentURL:    "https://pay.payos.vn/web/abc",
		QRCode:        "qr",
		OrderCode:     1234567890123,
		AccountNumber: "12345678",
		AccountName:   "CLEANZY JSC",
		Amount:        10000,
		Description:   "House cleaning",
	}

	orderID := uuid.NewString()
	w := doJSON(t, srv, http.MethodPost, "/payments/create", map[string]any{
		"amount":      10000,
		"order_id":    orderID,
		"description": "House cleaning",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://pay.payos.vn/web/abc", resp["payment_url"])
	assert.Equal(t, float64(1234567890123), resp["order_code"])

	require.NotNil(t, svc.createReq)
	assert.Equal(t, orderID, svc.createReq.OrderID.String())
	assert.Equal(t, int64(10000), svc.createReq.Amount)
}

func TestCreatePaymentGatewayFailure(t *testing.T) {
	srv, svc := newTestServer(t)
	svc.createErr = &payos.GatewayError{Kind: payos.KindTimeout, Desc: "request timed out"}

	w := doJSON(t, srv, http.MethodPost, "/payments/create", map[string]any{
		"amount":   10000,
		"order_id": uuid.NewString(),
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreatePaymentOrderNotFound(t *testing.T) {
	srv, svc := newTestServer(t)
	svc.createErr = payment.ErrOrderNotFound

	w := doJSON(t, srv, http.MethodPost, "/payments/create", map[string]any{
		"amount":   10000,
		"order_id": uuid.NewString(),
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentStatus(t *testing.T) {
	srv, svc := newTestServer(t)
	svc.statusResult = &payment.StatusResult{
		Status:    payos.StatusPaid,
		Amount:    10000,
		OrderCode: 42,
		Updated:   true,
	}

	w := doJSON(t, srv, http.MethodGet, "/payments/status/42", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAID", resp["status"])
	assert.Equal(t, true, resp["updated"])

	w = doJSON(t, srv, http.MethodGet, "/payments/status/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelPayment(t *testing.T) {
	srv, svc := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/payments/cancel/42", map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{42}, svc.cancelled)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
}

const signedWebhookBody = `{"code":"00","desc":"success","data":{"orderCode":1234567890123,"amount":10000,"description":"DH1234567890123","reference":"FT24001234","transactionDateTime":"2025-01-15 10:30:00","currency":"VND"}}`

// Computed over the canonical serialization of signedWebhookBody with the
// test checksum key.
const signedWebhookSignature = "8d9b6370f69d4290d39dbce7f0b8c94d6934ed88f9b9ce1a48e0f0c21b53c5bd"

func postWebhook(srv http.Handler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook/payos", bytes.NewReader([]byte(body)))
	if signature != "" {
		req.Header.Set("x-signature", signature)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestWebhookMissingSignature(t *testing.T) {
	srv, svc := newTestServer(t)

	w := postWebhook(srv, signedWebhookBody, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.applied)
}

func TestWebhookInvalidSignature(t *testing.T) {
	srv, svc := newTestServer(t)

	w := postWebhook(srv, signedWebhookBody, "deadbeef")
	assert.Equal(t, http.StatusForbidden, w.Code)
	// Signature rejection means no state was touched.
	assert.Empty(t, svc.applied)
}

func TestWebhookValidSignature(t *testing.T) {
	srv, svc := newTestServer(t)

	w := postWebhook(srv, signedWebhookBody, signedWebhookSignature)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, svc.applied, 1)
	assert.Equal(t, int64(1234567890123), svc.applied[0].Data.OrderCode)
	assert.Equal(t, "FT24001234", svc.applied[0].TransactionID())
}

func TestWebhookMalformedBody(t *testing.T) {
	srv, svc := newTestServer(t)

	w := postWebhook(srv, `{"code":"00"}`, "whatever")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.applied)
}
