package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/saaskit/internal/billing"
	"github.com/hitoshi/saaskit/internal/middleware"
	"github.com/hitoshi/saaskit/internal/model"
)

const msgNoSubscriptionToManage = "Your organization doesn't have a subscription to manage."

// CheckoutInitiator は決済事業者のセッションを作成するインターフェース。
// billing.Initiatorが実装する。
type CheckoutInitiator interface {
	StartCheckout(ctx context.Context, org *model.Organization, userEmail, priceID string) (string, error)
	OpenBillingPortal(ctx context.Context, org *model.Organization) (string, error)
}

// OrganizationFinder は組織の取得に必要なインターフェース。
type OrganizationFinder interface {
	FindByID(ctx context.Context, id string) (*model.Organization, error)
}

// BillingHandler はcheckout/portalへのリダイレクトを扱うHTTPハンドラー。
// ownerロールの判定はルーターのミドルウェアで行う。
type BillingHandler struct {
	initiator CheckoutInitiator
	orgs      OrganizationFinder
	users     middleware.UserFinder
	priceID   string
}

// NewBillingHandler はBillingHandlerを生成する。
func NewBillingHandler(initiator CheckoutInitiator, orgs OrganizationFinder, users middleware.UserFinder, priceID string) *BillingHandler {
	return &BillingHandler{
		initiator: initiator,
		orgs:      orgs,
		users:     users,
		priceID:   priceID,
	}
}

// CreateCheckoutSession は現在の組織のcheckoutセッションを作成し、決済ページへ303リダイレクトする。
// 失敗時はフラッシュメッセージ付きでダッシュボードへ戻す。
// POST /payments/create-checkout-session
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	org, ok := h.currentOrganization(w, r)
	if !ok {
		return
	}

	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}
	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil || user == nil {
		if err != nil {
			slog.Error("failed to find user", slog.String("error", err.Error()))
		}
		redirectWithError(w, r, "Something went wrong. Please try again later.")
		return
	}

	url, err := h.initiator.StartCheckout(r.Context(), org, user.Email, h.priceID)
	if err != nil {
		redirectWithError(w, r, model.NewPaymentProcessorError().Message)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// CustomerPortal は請求ポータルセッションを作成し、303リダイレクトする。
// POST /payments/customer-portal
func (h *BillingHandler) CustomerPortal(w http.ResponseWriter, r *http.Request) {
	org, ok := h.currentOrganization(w, r)
	if !ok {
		return
	}

	url, err := h.initiator.OpenBillingPortal(r.Context(), org)
	if err != nil {
		if errors.Is(err, billing.ErrNotSubscribed) {
			redirectWithError(w, r, msgNoSubscriptionToManage)
			return
		}
		redirectWithError(w, r, model.NewPaymentProcessorError().Message)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// currentOrganization はSubjectの現在の組織を読み込む。
// 読み込めない場合はリダイレクトを書き込みfalseを返す。
func (h *BillingHandler) currentOrganization(w http.ResponseWriter, r *http.Request) (*model.Organization, bool) {
	subject, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return nil, false
	}
	if subject.Organization == nil {
		redirectWithError(w, r, model.NewNoOrganizationError().Message)
		return nil, false
	}

	org, err := h.orgs.FindByID(r.Context(), subject.Organization.ID)
	if err != nil {
		slog.Error("failed to find organization",
			slog.String("org_id", subject.Organization.ID),
			slog.String("error", err.Error()),
		)
		redirectWithError(w, r, "Something went wrong. Please try again later.")
		return nil, false
	}
	if org == nil {
		redirectWithError(w, r, model.NewNoOrganizationError().Message)
		return nil, false
	}
	return org, true
}

func redirectWithError(w http.ResponseWriter, r *http.Request, message string) {
	middleware.RedirectWithFlash(w, r, middleware.DashboardPath, middleware.FlashError, message)
}
