package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/saaskit/internal/gate"
	"github.com/hitoshi/saaskit/internal/model"
)

// TestMiddlewareChain_SessionThenOwnerRedirect は
// Session -> owner判定（リダイレクト）の順で、現在の組織のロールが判定に使われることを検証する。
func TestMiddlewareChain_SessionThenOwnerRedirect(t *testing.T) {
	memberships := &mockMembershipLister{
		listByUserFn: func(ctx context.Context, userID string) ([]model.MembershipWithOrganization, error) {
			return []model.MembershipWithOrganization{
				membership("org-owned", model.RoleOwner, false),
				membership("org-joined", model.RoleMember, false),
			}, nil
		},
	}

	tests := []struct {
		name         string
		sessionOrgID string
		wantStatus   int
	}{
		{"owner of current org", "org-owned", http.StatusOK},
		{"member of current org", "org-joined", http.StatusSeeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := NewSessionMiddleware(validSessionRepo(tt.sessionOrgID), memberships)(
				NewCapabilityRedirectMiddleware(gate.Role(model.RoleOwner))(okHandler()),
			)

			req := httptest.NewRequest(http.MethodPost, "/payments/create-checkout-session", nil)
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
			w := httptest.NewRecorder()
			chain.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// TestMiddlewareChain_NoSession_Returns401BeforeCapability は
// セッションがない場合に判定ミドルウェアまで到達しないことを検証する。
func TestMiddlewareChain_NoSession_Returns401BeforeCapability(t *testing.T) {
	chain := NewSessionMiddleware(&mockSessionRepository{}, &mockMembershipLister{})(
		NewCapabilityMiddleware(gate.Subscribed())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		})),
	)

	w := httptest.NewRecorder()
	chain.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/features/premium", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// TestMiddlewareChain_APIKeyThenSubscription は
// APIキー認証 -> 購読判定のチェーンで最初の所属組織の購読状態が使われることを検証する。
func TestMiddlewareChain_APIKeyThenSubscription(t *testing.T) {
	tests := []struct {
		name       string
		subscribed bool
		wantStatus int
	}{
		{"subscribed", true, http.StatusOK},
		{"not subscribed", false, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memberships := &mockMembershipLister{
				listByUserFn: func(ctx context.Context, userID string) ([]model.MembershipWithOrganization, error) {
					return []model.MembershipWithOrganization{membership("org-a", model.RoleOwner, tt.subscribed)}, nil
				},
			}
			chain := NewAPIKeyMiddleware(knownKeyFinder(), memberships)(
				NewAPICapabilityMiddleware(gate.Subscribed())(okHandler()),
			)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", nil)
			req.Header.Set("Authorization", "Bearer key-123")
			w := httptest.NewRecorder()
			chain.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
