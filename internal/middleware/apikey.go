package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/saaskit/internal/model"
)

const (
	missingAPIKeyMessage = "Authorization header is missing or invalid"
	invalidAPIKeyMessage = "Invalid API key"
)

var apiUserContextKey = contextKey("api_user")

// APIKeyFinder はAPIキーでユーザーを検索するインターフェース。
type APIKeyFinder interface {
	FindByAPIKey(ctx context.Context, apiKey string) (*model.User, error)
}

// NewAPIKeyMiddleware はAuthorization: Bearer <api_key>を検証するミドルウェアを返す。
// 有効な場合はユーザーと、最初の所属組織を現在の組織とするgate.Subjectをコンテキストに注入する。
func NewAPIKeyMiddleware(users APIKeyFinder, memberships MembershipLister) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteJSONError(w, http.StatusUnauthorized, missingAPIKeyMessage)
				return
			}

			user, err := users.FindByAPIKey(r.Context(), apiKey)
			if err != nil {
				slog.Error("failed to find user by API key", slog.String("error", err.Error()))
				WriteJSONError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if user == nil {
				WriteJSONError(w, http.StatusUnauthorized, invalidAPIKeyMessage)
				return
			}

			subject, err := resolveSubject(r.Context(), memberships, user.ID, "")
			if err != nil {
				slog.Error("failed to resolve current organization",
					slog.String("user_id", user.ID),
					slog.String("error", err.Error()),
				)
				WriteJSONError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			ctx := ContextWithUserID(r.Context(), user.ID)
			ctx = ContextWithSubject(ctx, subject)
			ctx = context.WithValue(ctx, apiUserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIUserFromContext はAPIキーで認証されたユーザーを取得する。
func APIUserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(apiUserContextKey).(*model.User)
	return user, ok && user != nil
}

// ContextWithAPIUser はコンテキストにAPIキー認証済みユーザーを注入する。
func ContextWithAPIUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, apiUserContextKey, user)
}

func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
