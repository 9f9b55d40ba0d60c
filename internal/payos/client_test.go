package payos

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChecksumKey = "test-checksum-key"

func newTestClient(baseURL string, timeout time.Duration) *Client {
	return NewClient(Config{
		BaseURL:     baseURL,
		ClientID:    "client-id",
		APIKey:      "api-key",
		ChecksumKey: testChecksumKey,
		Timeout:     timeout,
	})
}

func TestSignRequest(t *testing.T) {
	c := newTestClient("http://unused", 0)

	// Vector computed independently with the reference HMAC-SHA256 scheme.
	got := c.SignRequest(
		10000,
		"https://app.example.com/payment/cancel",
		"DH1234567890123",
		1234567890123,
		"https://app.example.com/payment/success",
	)
	assert.Equal(t, "83805fea5f7d5af0421593b948cc44571d01865c06f068ef9ee44ddfea064493", got)
}

func TestCreatePaymentLink(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/payment-requests", r.URL.Path)
		require.Equal(t, "client-id", r.Header.Get("x-client-id"))
		require.Equal(t, "api-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "00",
			"desc": "success",
			"data": map[string]any{
				"checkoutUrl":   "https://pay.payos.vn/web/abc",
				"qrCode":        "000201010212...",
				"accountNumber": "12345678",
				"accountName":   "CLEANZY JSC",
				"orderCode":     1234567890123,
				"amount":        10000,
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	link, err := c.CreatePaymentLink(context.Background(), LinkRequest{
		OrderCode:   1234567890123,
		Amount:      10000,
		Description: "DH1234567890123",
		ReturnURL:   "https://app.example.com/payment/success",
		CancelURL:   "https://app.example.com/payment/cancel",
		BuyerName:   "Nguyen Van A",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.payos.vn/web/abc", link.CheckoutURL)
	assert.Equal(t, "CLEANZY JSC", link.AccountName)

	// The request carries the signature over the fixed field subset; buyer
	// fields ride along unsigned.
	assert.Equal(t, "83805fea5f7d5af0421593b948cc44571d01865c06f068ef9ee44ddfea064493", received["signature"])
	assert.Equal(t, "Nguyen Van A", received["buyerName"])
}

func TestCreatePaymentLinkTruncatesDescription(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = body["description"].(string)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "00", "desc": "success",
			"data": map[string]any{"checkoutUrl": "u"},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	_, err := c.CreatePaymentLink(context.Background(), LinkRequest{
		OrderCode:   1,
		Amount:      100,
		Description: "this description is far longer than the gateway accepts",
		ReturnURL:   "r",
		CancelURL:   "c",
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), MaxDescriptionLen)
}

func TestTruncateDescription(t *testing.T) {
	short := "Dọn nhà"
	assert.Equal(t, short, truncateDescription(short))

	// The byte cap must land on a rune boundary, never inside one.
	long := "Dịch vụ dọn nhà trọn gói cuối tuần"
	got := truncateDescription(long)
	assert.LessOrEqual(t, len(got), MaxDescriptionLen)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(long, got))
}

func TestCreatePaymentLinkFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    ErrorKind
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			kind: KindHTTPStatus,
		},
		{
			name:    "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			kind:    KindEmptyBody,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json at all"))
			},
			kind: KindMalformed,
		},
		{
			name: "gateway-level error code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"code": "231", "desc": "duplicate order code"})
			},
			kind: KindGateway,
		},
		{
			name: "success code without data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"code": "00", "desc": "success", "data": nil})
			},
			kind: KindEmptyBody,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := newTestClient(srv.URL, 0)
			_, err := c.CreatePaymentLink(context.Background(), LinkRequest{
				OrderCode: 1, Amount: 100, Description: "DH1", ReturnURL: "r", CancelURL: "c",
			})
			var gwErr *GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.kind, gwErr.Kind)
		})
	}
}

func TestCreatePaymentLinkTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 20*time.Millisecond)
	_, err := c.CreatePaymentLink(context.Background(), LinkRequest{
		OrderCode: 1, Amount: 100, Description: "DH1", ReturnURL: "r", CancelURL: "c",
	})
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, KindTimeout, gwErr.Kind)
	assert.True(t, gwErr.Retryable())
}

func TestCreatePaymentLinkConnectionRefused(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", 0)
	_, err := c.CreatePaymentLink(context.Background(), LinkRequest{
		OrderCode: 1, Amount: 100, Description: "DH1", ReturnURL: "r", CancelURL: "c",
	})
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, KindConnection, gwErr.Kind)
}

func TestGetPaymentInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/payment-requests/42", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "00", "desc": "success",
			"data": map[string]any{
				"orderCode": 42,
				"amount":    5000,
				"status":    "PAID",
				"transactions": []map[string]any{
					{"reference": "FT24001234", "amount": 5000},
				},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	info, err := c.GetPaymentInfo(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, info.Status)
	require.Len(t, info.Transactions, 1)
	assert.Equal(t, "FT24001234", info.Transactions[0].Reference)
}

func TestCancelPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/payment-requests/42/cancel", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "changed my mind", body["cancellationReason"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": "00", "desc": "success",
			"data": map[string]any{"orderCode": 42, "status": "CANCELLED"},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	info, err := c.CancelPayment(context.Background(), 42, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, info.Status)
}

func TestGatewayErrorMessage(t *testing.T) {
	err := &GatewayError{Kind: KindGateway, Code: "231", Desc: "duplicate order code"}
	assert.Equal(t, "payos: duplicate order code (code 231)", err.Error())
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}
