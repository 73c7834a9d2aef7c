// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/saaskit/internal/gate"
	"github.com/hitoshi/saaskit/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey    = contextKey("user_id")
	sessionIDContextKey = contextKey("session_id")
	subjectContextKey   = contextKey("subject")
)

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// MembershipLister はユーザーの所属組織の取得に必要なインターフェース。
// repository.MembershipRepositoryの部分集合として定義する。
type MembershipLister interface {
	ListByUser(ctx context.Context, userID string) ([]model.MembershipWithOrganization, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みユーザーIDと、現在の組織を含むgate.Subjectをリクエストコンテキストに注入する。
// 現在の組織はセッションで選択された組織に所属していればそれを、そうでなければ最初の組織を使う。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(sessionFinder SessionFinder, memberships MembershipLister) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションIDを取得
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. セッションの有効性を検証
			session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. 現在の組織を解決
			subject, err := resolveSubject(r.Context(), memberships, session.UserID, session.OrganizationID)
			if err != nil {
				slog.Error("failed to resolve current organization",
					slog.String("user_id", session.UserID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			// 4. 認証済み情報をコンテキストに注入
			ctx := ContextWithUserID(r.Context(), session.UserID)
			ctx = context.WithValue(ctx, sessionIDContextKey, session.ID)
			ctx = ContextWithSubject(ctx, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveSubject はユーザーの所属組織から判定用のSubjectを組み立てる。
func resolveSubject(ctx context.Context, memberships MembershipLister, userID, preferredOrgID string) (gate.Subject, error) {
	list, err := memberships.ListByUser(ctx, userID)
	if err != nil {
		return gate.Subject{}, err
	}
	return gate.Subject{
		UserID:       userID,
		Organization: gate.FromMembership(gate.SelectCurrent(list, preferredOrgID)),
	}, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアまたはAPIキーミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// リクエストログにも同じユーザーIDが記録される。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	setLogUserID(ctx, userID)
	return context.WithValue(ctx, userIDContextKey, userID)
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) (string, error) {
	sessionID, ok := ctx.Value(sessionIDContextKey).(string)
	if !ok || sessionID == "" {
		return "", fmt.Errorf("session ID not found in context")
	}
	return sessionID, nil
}

// ContextWithSessionID はコンテキストにセッションIDを注入する。
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}

// SubjectFromContext はリクエストコンテキストから判定用のSubjectを取得する。
func SubjectFromContext(ctx context.Context) (gate.Subject, bool) {
	subject, ok := ctx.Value(subjectContextKey).(gate.Subject)
	return subject, ok
}

// ContextWithSubject はコンテキストに判定用のSubjectを注入する。
func ContextWithSubject(ctx context.Context, subject gate.Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey, subject)
}
