package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/saaskit/internal/model"
)

// AdminServiceInterface は管理画面が必要とするサービスインターフェース。
type AdminServiceInterface interface {
	ListOrganizations(ctx context.Context) ([]*model.Organization, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
}

// AdminHandler は管理者向けの一覧APIを扱うHTTPハンドラー。
// is_adminの判定はルーターのミドルウェアで行う。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

type adminOrganizationResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	StripeCustomerID string    `json:"stripe_customer_id"`
	IsSubscribed     bool      `json:"is_subscribed"`
	SubscriptionID   string    `json:"subscription_id"`
	StripePriceID    string    `json:"stripe_price_id"`
	CreatedAt        time.Time `json:"created_at"`
}

type adminUserResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	IsAdmin     bool       `json:"is_admin"`
	Confirmed   bool       `json:"confirmed"`
	ConfirmedOn *time.Time `json:"confirmed_on"`
	HasPassword bool       `json:"has_password"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ListOrganizations は全組織を返す。
// GET /admin/organizations
func (h *AdminHandler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.service.ListOrganizations(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]adminOrganizationResponse, 0, len(orgs))
	for _, org := range orgs {
		resp = append(resp, adminOrganizationResponse{
			ID:               org.ID,
			Name:             org.Name,
			StripeCustomerID: org.StripeCustomerID,
			IsSubscribed:     org.IsSubscribed,
			SubscriptionID:   org.SubscriptionID,
			StripePriceID:    org.StripePriceID,
			CreatedAt:        org.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": resp})
}

// ListUsers は全ユーザーを返す。パスワードハッシュとAPIキーは含めない。
// GET /admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]adminUserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, adminUserResponse{
			ID:          u.ID,
			Email:       u.Email,
			IsAdmin:     u.IsAdmin,
			Confirmed:   u.Confirmed,
			ConfirmedOn: u.ConfirmedOn,
			HasPassword: u.HasPassword(),
			CreatedAt:   u.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": resp})
}
