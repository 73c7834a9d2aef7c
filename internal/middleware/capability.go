package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/saaskit/internal/gate"
	"github.com/hitoshi/saaskit/internal/model"
)

// DashboardPath はフォーム系ルートで拒否されたときのリダイレクト先。
const DashboardPath = "/dashboard"

// apiSubscriptionRequiredMessage はAPIキー認証ルートで購読がない場合のメッセージ。
const apiSubscriptionRequiredMessage = "This endpoint requires an active subscription."

// NewCapabilityMiddleware はgate.Capabilityを満たさないリクエストを403で拒否するミドルウェアを返す。
// セッションミドルウェアの後に配置する。
func NewCapabilityMiddleware(capability gate.Capability) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := SubjectFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if apiErr := gate.Check(subject, capability); apiErr != nil {
				logDenied(r, subject, apiErr)
				WriteErrorResponse(w, http.StatusForbidden, apiErr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewCapabilityRedirectMiddleware はgate.Capabilityを満たさないリクエストを
// フラッシュメッセージ付きでダッシュボードへ303リダイレクトするミドルウェアを返す。
func NewCapabilityRedirectMiddleware(capability gate.Capability) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := SubjectFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if apiErr := gate.Check(subject, capability); apiErr != nil {
				logDenied(r, subject, apiErr)
				category := FlashError
				if capability.Kind == gate.KindSubscribed {
					category = FlashWarning
				}
				RedirectWithFlash(w, r, DashboardPath, category, apiErr.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewAPICapabilityMiddleware はAPIキー認証ルート用の判定ミドルウェアを返す。
// 拒否時は403と{"error": message}を返す。
func NewAPICapabilityMiddleware(capability gate.Capability) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := SubjectFromContext(r.Context())
			if !ok {
				WriteJSONError(w, http.StatusUnauthorized, invalidAPIKeyMessage)
				return
			}
			if !gate.Allow(subject, capability) {
				message := gate.DenyMessage(capability)
				if capability.Kind == gate.KindSubscribed {
					message = apiSubscriptionRequiredMessage
				}
				slog.Warn("api request denied",
					slog.String("user_id", subject.UserID),
					slog.String("path", r.URL.Path),
				)
				WriteJSONError(w, http.StatusForbidden, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFinder はユーザーの取得に必要なインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewAdminMiddleware は管理者以外のリクエストを403で拒否するミドルウェアを返す。
func NewAdminMiddleware(users UserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := users.FindByID(r.Context(), userID)
			if err != nil {
				slog.Error("failed to find user",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if user == nil || !user.IsAdmin {
				WriteErrorResponse(w, http.StatusForbidden, model.NewAdminRequiredError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func logDenied(r *http.Request, subject gate.Subject, apiErr *model.APIError) {
	attrs := []any{
		slog.String("user_id", subject.UserID),
		slog.String("path", r.URL.Path),
		slog.String("code", apiErr.Code),
	}
	if subject.Organization != nil {
		attrs = append(attrs, slog.String("org_id", subject.Organization.ID))
	}
	slog.Info("capability denied", attrs...)
}
