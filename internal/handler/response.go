package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/saaskit/internal/middleware"
	"github.com/hitoshi/saaskit/internal/model"
)

// maxJSONBodyBytes はJSONリクエストボディの上限。
const maxJSONBodyBytes = 1 << 20

// apiErrorResponse はミドルウェアと同じ形式のエラー本文。
type apiErrorResponse = middleware.ErrorResponseBody

// messageResponse はメッセージのみを返すレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, middleware.NewErrorResponseBody(apiErr))
}

// writeUnauthorized は未認証エラーを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	if apiErr, ok := asAPIError(err); ok {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

func asAPIError(err error) (*model.APIError, bool) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeNoOrganization, model.ErrCodeRoleRequired, model.ErrCodeSubscriptionRequired,
		model.ErrCodeAdminRequired, model.ErrCodeNotAMember, model.ErrCodeCSRFTokenInvalid:
		return http.StatusForbidden
	case model.ErrCodeInvalidInput, model.ErrCodePasswordMismatch,
		model.ErrCodeInvalidConfirmToken, model.ErrCodeInvalidResetToken:
		return http.StatusBadRequest
	case model.ErrCodeEmailExists:
		return http.StatusConflict
	case model.ErrCodeNotSubscribed:
		return http.StatusConflict
	case model.ErrCodeUserNotFound, model.ErrCodeOrganizationNotFound:
		return http.StatusNotFound
	case model.ErrCodePaymentProcessor:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody はリクエストボディをJSONとしてvに読み込む。
// 失敗した場合は400を書き込みfalseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(r.Body, w, v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("Request body must be valid JSON."))
		return false
	}
	return true
}

// decodeJSON はサイズ上限付きでbodyをJSONとしてvに読み込む。
func decodeJSON(body io.ReadCloser, w http.ResponseWriter, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, body, maxJSONBodyBytes)).Decode(v)
}
