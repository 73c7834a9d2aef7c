// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/saaskit/internal/gate"
	"github.com/hitoshi/saaskit/internal/middleware"
	"github.com/hitoshi/saaskit/internal/model"
)

const oauthStateCookie = "oauth_state"

// ユーザーに表示するメッセージ
const (
	msgRegistered         = "A confirmation email has been sent to you by email."
	msgLoggedOut          = "You have been logged out."
	msgConfirmed          = "You have confirmed your account. Thanks!"
	msgConfirmationResent = "A new confirmation email has been sent to you."
	msgResetLinkSent      = "A password reset link has been sent to your email address."
	msgPasswordUpdated    = "Your password has been updated."
	msgGoogleLoginFailed  = "Google login failed. Please try again."
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, password2 string) (*model.User, *model.Session, error)
	Login(ctx context.Context, email, password string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
	ConfirmEmail(ctx context.Context, token string) (*model.User, error)
	ResendConfirmation(ctx context.Context, userID string) error
	ForgotPassword(ctx context.Context, email string)
	ResetPassword(ctx context.Context, token, password, password2 string) error

	// OAuthEnabled はGoogleログインが設定済みかどうかを返す。
	OAuthEnabled() bool
	GetLoginURL(state string) (string, error)
	LoginWithGoogle(ctx context.Context, code string) (*model.Session, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は登録・ログイン・メール確認・パスワードリセット・Googleログインを扱うHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Confirmed bool   `json:"confirmed"`
	IsAdmin   bool   `json:"is_admin"`
	APIKey    string `json:"api_key,omitempty"`
}

type currentOrganizationResponse struct {
	ID           string     `json:"id"`
	Role         model.Role `json:"role"`
	IsSubscribed bool       `json:"is_subscribed"`
}

type meResponse struct {
	User         userResponse                 `json:"user"`
	Organization *currentOrganizationResponse `json:"organization"`
}

type dashboardResponse struct {
	meResponse
	Flashes []middleware.Flash `json:"flashes"`
}

// Register はパスワードでのユーザー登録を処理する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, session, err := h.service.Register(r.Context(), req.Email, req.Password, req.Password2)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID)
	middleware.SetFlash(w, r, middleware.FlashInfo, msgRegistered)
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":    user.ID,
		"email": user.Email,
	})
}

// Login はメールアドレスとパスワードでのログインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID)
	writeJSON(w, http.StatusOK, map[string]string{"user_id": session.UserID})
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
		}
	}

	h.clearSessionCookie(w)
	middleware.SetFlash(w, r, middleware.FlashInfo, msgLoggedOut)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザーと現在の組織を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	resp, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Dashboard はログイン後の着地点。現在のユーザーと未表示のフラッシュメッセージを返す。
// GET /dashboard
func (h *AuthHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	resp, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	flashes := middleware.PopFlashes(w, r)
	if flashes == nil {
		flashes = []middleware.Flash{}
	}
	writeJSON(w, http.StatusOK, dashboardResponse{meResponse: *resp, Flashes: flashes})
}

func (h *AuthHandler) currentUser(w http.ResponseWriter, r *http.Request) (*meResponse, bool) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return nil, false
	}

	user, err := h.service.GetCurrentUser(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		writeUnauthorized(w)
		return nil, false
	}

	resp := &meResponse{User: toUserResponse(user, true)}
	if subject, ok := middleware.SubjectFromContext(r.Context()); ok {
		resp.Organization = toCurrentOrganizationResponse(subject.Organization)
	}
	return resp, true
}

// ConfirmEmail はメール確認リンクを処理し、ダッシュボードへリダイレクトする。
// GET /auth/confirm/{token}
func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.ConfirmEmail(r.Context(), chi.URLParam(r, "token")); err != nil {
		middleware.RedirectWithFlash(w, r, middleware.DashboardPath, middleware.FlashError, flashMessage(err))
		return
	}
	middleware.RedirectWithFlash(w, r, middleware.DashboardPath, middleware.FlashSuccess, msgConfirmed)
}

// ResendConfirmation は確認メールを再送する。
// POST /auth/resend
func (h *AuthHandler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	if err := h.service.ResendConfirmation(r.Context(), userID); err != nil {
		middleware.RedirectWithFlash(w, r, middleware.DashboardPath, middleware.FlashError, flashMessage(err))
		return
	}
	middleware.RedirectWithFlash(w, r, middleware.DashboardPath, middleware.FlashInfo, msgConfirmationResent)
}

// ForgotPassword はパスワードリセットメールの送信を受け付ける。
// アカウントの有無にかかわらず常に202を返す。
// POST /auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	h.service.ForgotPassword(r.Context(), req.Email)
	writeJSON(w, http.StatusAccepted, messageResponse{Message: msgResetLinkSent})
}

// ResetPassword はリセットトークンを検証して新しいパスワードを設定する。
// POST /auth/reset-password/{token}
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.Password, req.Password2); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgPasswordUpdated})
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.service.OAuthEnabled() {
		http.NotFound(w, r)
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	url, err := h.service.GetLoginURL(state)
	if err != nil {
		slog.Error("failed to build oauth login url", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.service.OAuthEnabled() {
		http.NotFound(w, r)
		return
	}

	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("Invalid state parameter."))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("Missing authorization code."))
		return
	}

	session, err := h.service.LoginWithGoogle(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeUnauthorized,
			Message:  msgGoogleLoginFailed,
			Category: model.CategoryAuth,
			Action:   "もう一度Googleでログインしてください。",
		})
		return
	}

	h.setSessionCookie(w, session.ID)
	http.Redirect(w, r, middleware.DashboardPath, http.StatusSeeOther)
}

// setSessionCookie はセッションCookieを設定する（HTTP Only）。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	clearSessionCookie(w, h.config)
}

func clearSessionCookie(w http.ResponseWriter, config AuthHandlerConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// flashMessage はエラーをフラッシュメッセージに変換する。APIError以外は汎用メッセージにする。
func flashMessage(err error) string {
	if apiErr, ok := asAPIError(err); ok {
		return apiErr.Message
	}
	slog.Error("request failed", slog.String("error", err.Error()))
	return "Something went wrong. Please try again later."
}

func toUserResponse(user *model.User, withAPIKey bool) userResponse {
	resp := userResponse{
		ID:        user.ID,
		Email:     user.Email,
		Confirmed: user.Confirmed,
		IsAdmin:   user.IsAdmin,
	}
	if withAPIKey {
		resp.APIKey = user.APIKey
	}
	return resp
}

func toCurrentOrganizationResponse(org *gate.CurrentOrganization) *currentOrganizationResponse {
	if org == nil {
		return nil
	}
	return &currentOrganizationResponse{
		ID:           org.ID,
		Role:         org.Role,
		IsSubscribed: org.IsSubscribed,
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
