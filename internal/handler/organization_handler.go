package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/saaskit/internal/gate"
	"github.com/hitoshi/saaskit/internal/middleware"
	"github.com/hitoshi/saaskit/internal/model"
)

// OrganizationServiceInterface は組織ハンドラーが必要とするサービスインターフェース。
type OrganizationServiceInterface interface {
	ListForUser(ctx context.Context, userID string) ([]model.MembershipWithOrganization, error)
	Rename(ctx context.Context, orgID, rawName string) (*model.Organization, error)
}

// OrganizationSwitcher はセッションの現在の組織を切り替える。
// auth.Serviceが実装する。
type OrganizationSwitcher interface {
	SwitchOrganization(ctx context.Context, sessionID, userID, orgID string) (*gate.CurrentOrganization, error)
}

// OrganizationHandler は組織の一覧・切り替え・名前変更を扱うHTTPハンドラー。
type OrganizationHandler struct {
	service  OrganizationServiceInterface
	switcher OrganizationSwitcher
}

// NewOrganizationHandler はOrganizationHandlerを生成する。
func NewOrganizationHandler(service OrganizationServiceInterface, switcher OrganizationSwitcher) *OrganizationHandler {
	return &OrganizationHandler{
		service:  service,
		switcher: switcher,
	}
}

type organizationResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Role         model.Role `json:"role,omitempty"`
	IsSubscribed bool       `json:"is_subscribed"`
	IsCurrent    bool       `json:"is_current"`
	CreatedAt    time.Time  `json:"created_at"`
}

type organizationListResponse struct {
	Organizations []organizationResponse `json:"organizations"`
}

type renameOrganizationRequest struct {
	Name string `json:"name"`
}

// List はユーザーが所属する組織をロール付きで返す。
// GET /api/organizations
func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	subject, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	memberships, err := h.service.ListForUser(r.Context(), subject.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := organizationListResponse{Organizations: make([]organizationResponse, 0, len(memberships))}
	for _, m := range memberships {
		resp.Organizations = append(resp.Organizations, organizationResponse{
			ID:           m.Organization.ID,
			Name:         m.Organization.Name,
			Role:         m.Role,
			IsSubscribed: m.Organization.IsSubscribed,
			IsCurrent:    subject.Organization != nil && subject.Organization.ID == m.Organization.ID,
			CreatedAt:    m.Organization.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Select はセッションの現在の組織を切り替える。
// POST /api/organizations/{id}/select
func (h *OrganizationHandler) Select(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.SessionIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	current, err := h.switcher.SwitchOrganization(r.Context(), sessionID, userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCurrentOrganizationResponse(current))
}

// RenameCurrent は現在の組織の名前を変更する。ownerロールはルーターで判定する。
// PATCH /api/organizations/current
func (h *OrganizationHandler) RenameCurrent(w http.ResponseWriter, r *http.Request) {
	subject, ok := middleware.SubjectFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	if subject.Organization == nil {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewNoOrganizationError())
		return
	}

	var req renameOrganizationRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	org, err := h.service.Rename(r.Context(), subject.Organization.ID, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, organizationResponse{
		ID:           org.ID,
		Name:         org.Name,
		Role:         subject.Organization.Role,
		IsSubscribed: org.IsSubscribed,
		IsCurrent:    true,
		CreatedAt:    org.CreatedAt,
	})
}

// PremiumFeature は購読中の組織だけが利用できる機能。購読の判定はルーターで行う。
// GET /api/features/premium
func PremiumFeature(w http.ResponseWriter, r *http.Request) {
	subject, _ := middleware.SubjectFromContext(r.Context())
	orgID := ""
	if subject.Organization != nil {
		orgID = subject.Organization.ID
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"feature":         "premium",
		"organization_id": orgID,
	})
}
