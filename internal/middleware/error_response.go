package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/saaskit/internal/model"
)

// ErrorResponseBody はセッション認証ルートで返すエラーの本文。
// ブラウザ側はCategoryでフラッシュの表示を切り替え、Actionをそのまま表示する。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// NewErrorResponseBody はAPIErrorをレスポンス本文に変換する。
func NewErrorResponseBody(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

// WriteErrorResponse はゲートやCSRF検証で拒否したリクエストにAPIErrorを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeBody(w, statusCode, NewErrorResponseBody(apiErr))
}

// WriteInternalServerError は500を書き込む。原因は呼び出し側でログに残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// WriteJSONError は{"error": message}形式のエラーを書き込む。
// APIキー認証ルートとWebhookはこの形式で応答する。
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeBody(w, statusCode, map[string]string{"error": message})
}

func writeBody(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode error response",
			slog.Int("status", statusCode),
			slog.String("error", err.Error()),
		)
	}
}
