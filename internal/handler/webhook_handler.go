package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/saaskit/internal/billing"
	"github.com/hitoshi/saaskit/internal/metrics"
)

// maxWebhookBodyBytes はWebhookリクエストボディの上限。
const maxWebhookBodyBytes = 64 << 10

const stripeSignatureHeader = "Stripe-Signature"

// WebhookReconciler はWebhookイベントの検証と適用を行うインターフェース。
// billing.Reconcilerが実装する。
type WebhookReconciler interface {
	ParseEvent(payload []byte, sigHeader string) (billing.Event, error)
	Apply(ctx context.Context, event billing.Event) (billing.Outcome, error)
}

// WebhookHandler は決済事業者からのWebhookを受け付けるHTTPハンドラー。
type WebhookHandler struct {
	reconciler WebhookReconciler
	metrics    metrics.MetricsCollector
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(reconciler WebhookReconciler, collector metrics.MetricsCollector) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		metrics:    collector,
	}
}

// HandleStripe は署名を検証してからイベントを組織に反映する。
// ボディは送信されたバイト列のまま検証に渡す。
// POST /payments/stripe/webhook
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.reject(w, http.StatusBadRequest, "body_too_large", "Invalid payload")
		return
	}

	event, err := h.reconciler.ParseEvent(payload, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrSecretNotConfigured):
			slog.Error("webhook secret is not configured")
			h.reject(w, http.StatusInternalServerError, "secret_not_configured", "Webhook secret not configured")
		case errors.Is(err, billing.ErrInvalidSignature):
			slog.Warn("webhook signature verification failed")
			h.reject(w, http.StatusBadRequest, "invalid_signature", "Invalid signature")
		default:
			slog.Warn("webhook payload rejected", slog.String("error", err.Error()))
			h.reject(w, http.StatusBadRequest, "invalid_payload", "Invalid payload")
		}
		return
	}

	if _, err := h.reconciler.Apply(r.Context(), event); err != nil {
		slog.Error("failed to apply webhook event",
			slog.String("type", event.Type()),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to process event"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *WebhookHandler) reject(w http.ResponseWriter, statusCode int, reason, message string) {
	h.metrics.RecordWebhookRejected(reason)
	writeJSON(w, statusCode, map[string]string{"error": message})
}
