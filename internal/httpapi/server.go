package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/lechieutung2003/cleanzy-app/internal/payment"
	"github.com/lechieutung2003/cleanzy-app/internal/payos"
)

// PaymentService is the slice of payment.Service the API depends on.
type PaymentService interface {
	CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error)
	Reconcile(ctx context.Context, orderCode int64) (*payment.StatusResult, error)
	Cancel(ctx context.Context, orderCode int64, reason string) error
	ApplyNotification(ctx context.Context, env *payos.WebhookEnvelope) error
}

// SignatureVerifier checks inbound webhook signatures.
type SignatureVerifier interface {
	VerifyWebhookSignature(payload map[string]any, received string) bool
}

type Server struct {
	svc      PaymentService
	verifier SignatureVerifier
	logger   *slog.Logger
	mux      *http.ServeMux
}

func NewServer(svc PaymentService, verifier SignatureVerifier, logger *slog.Logger) *Server {
	s := &Server{
		svc:      svc,
		verifier: verifier,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /payments/create", s.createPayment)
	s.mux.HandleFunc("GET /payments/status/{orderCode}", s.paymentStatus)
	s.mux.HandleFunc("POST /payments/cancel/{orderCode}", s.cancelPayment)
	s.mux.HandleFunc("POST /payments/webhook/payos", s.webhook)
}

// HandleFunc lets the app mount extra routes (the websocket endpoint) on the
// same mux.
func (s *Server) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) createPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
		OrderID     string `json:"order_id"`
		Method      string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Amount <= 0 || req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "Amount and order_id are required")
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order_id")
		return
	}

	result, err := s.svc.CreatePayment(r.Context(), payment.CreateRequest{
		OrderID:     orderID,
		Amount:      req.Amount,
		Description: req.Description,
		Method:      payment.Method(req.Method),
	})
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, payment.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, payment.ErrActivePaymentExists):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("create payment", "order_id", req.OrderID, "err", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) paymentStatus(w http.ResponseWriter, r *http.Request) {
	orderCode, err := strconv.ParseInt(r.PathValue("orderCode"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order code")
		return
	}

	result, err := s.svc.Reconcile(r.Context(), orderCode)
	if err != nil {
		s.logger.Error("check payment status", "order_code", orderCode, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) cancelPayment(w http.ResponseWriter, r *http.Request) {
	orderCode, err := strconv.ParseInt(r.PathValue("orderCode"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order code")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		// Body is optional; a missing reason falls back to the default.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := s.svc.Cancel(r.Context(), orderCode, req.Reason); err != nil {
		s.logger.Error("cancel payment", "order_code", orderCode, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Payment cancelled successfully",
	})
}

// webhook is the sole ingress for gateway-initiated status changes. Once the
// signature verifies the response is always 200, even when no transition
// applied, so the gateway does not retry business no-ops.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("x-signature")
	if signature == "" {
		s.logger.Warn("webhook received without signature")
		writeError(w, http.StatusBadRequest, "Missing signature")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	env, err := payos.ParseWebhook(body)
	if err != nil {
		s.logger.Warn("malformed webhook payload", "err", err)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if !s.verifier.VerifyWebhookSignature(env.Payload(), signature) {
		s.logger.Warn("invalid webhook signature", "order_code", env.Data.OrderCode)
		writeError(w, http.StatusForbidden, "Invalid signature")
		return
	}

	if err := s.svc.ApplyNotification(r.Context(), env); err != nil {
		// The gateway must not be told to retry destructively; absorb and log.
		s.logger.Error("apply webhook", "order_code", env.Data.OrderCode, "err", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Webhook processed successfully",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
