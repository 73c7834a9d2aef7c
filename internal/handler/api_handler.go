package handler

import (
	"net/http"
	"strings"

	"github.com/hitoshi/saaskit/internal/middleware"
)

const maxPromptBytes = 16 << 10

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// APIStatus はAPIキーの持ち主を返す。
// GET /api/v1/status
func APIStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.APIUserFromContext(r.Context())
	if !ok {
		middleware.WriteJSONError(w, http.StatusUnauthorized, "Invalid API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"user":   user.Email,
	})
}

// APIGenerate はプロンプトを受け付けてプレースホルダーの生成結果を返す。
// 外部のモデルは呼び出さない。購読の判定はルーターで行う。
// POST /api/v1/generate
func APIGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r.Body, w, &req); err != nil {
		middleware.WriteJSONError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		middleware.WriteJSONError(w, http.StatusBadRequest, "Prompt is required.")
		return
	}
	if len(prompt) > maxPromptBytes {
		middleware.WriteJSONError(w, http.StatusBadRequest, "Prompt is too long.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"prompt":         prompt,
		"generated_text": "Generated response for: " + prompt,
	})
}
