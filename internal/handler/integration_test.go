package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/saaskit/internal/billing"
	"github.com/hitoshi/saaskit/internal/gate"
	"github.com/hitoshi/saaskit/internal/middleware"
	"github.com/hitoshi/saaskit/internal/model"
)

// --- 統合テスト用のステートフルモック ---

type worldMembership struct {
	userID string
	orgID  string
	role   model.Role
}

// integrationWorld は統合テスト用の共有状態を保持する。
type integrationWorld struct {
	mu          sync.Mutex
	seq         int
	users       map[string]*model.User
	orgs        map[string]*model.Organization
	sessions    map[string]*model.Session
	memberships []worldMembership
	passwords   map[string]string
	checkouts   []billing.CheckoutRequest
}

func newIntegrationWorld() *integrationWorld {
	return &integrationWorld{
		users:     make(map[string]*model.User),
		orgs:      make(map[string]*model.Organization),
		sessions:  make(map[string]*model.Session),
		passwords: make(map[string]string),
	}
}

func (w *integrationWorld) nextID(prefix string) string {
	w.seq++
	return fmt.Sprintf("%s-%d", prefix, w.seq)
}

// register はユーザー・組織・ownerメンバーシップ・セッションをまとめて作成する。
func (w *integrationWorld) register(email, password string) (*model.User, *model.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()

	user := &model.User{ID: w.nextID("user"), Email: email, APIKey: w.nextID("key"), CreatedAt: time.Now()}
	org := &model.Organization{ID: w.nextID("org"), Name: model.DefaultOrganizationName(email), CreatedAt: time.Now()}
	w.users[user.ID] = user
	w.orgs[org.ID] = org
	w.passwords[email] = password
	w.memberships = append(w.memberships, worldMembership{userID: user.ID, orgID: org.ID, role: model.RoleOwner})

	session := &model.Session{ID: w.nextID("session"), UserID: user.ID, OrganizationID: org.ID, ExpiresAt: time.Now().Add(time.Hour)}
	w.sessions[session.ID] = session
	return user, session
}

// addMember は既存の組織にメンバーを追加する。
func (w *integrationWorld) addMember(userID, orgID string, role model.Role) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.memberships = append(w.memberships, worldMembership{userID: userID, orgID: orgID, role: role})
}

func (w *integrationWorld) org(id string) model.Organization {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.orgs[id]
}

func (w *integrationWorld) ListByUser(ctx context.Context, userID string) ([]model.MembershipWithOrganization, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var list []model.MembershipWithOrganization
	for _, m := range w.memberships {
		if m.userID != userID {
			continue
		}
		list = append(list, model.MembershipWithOrganization{
			Membership:   model.Membership{UserID: m.userID, OrganizationID: m.orgID, Role: m.role},
			Organization: *w.orgs[m.orgID],
		})
	}
	return list, nil
}

func (w *integrationWorld) MarkSubscribed(ctx context.Context, orgID, customerID, subscriptionID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	org, ok := w.orgs[orgID]
	if !ok {
		return false, nil
	}
	org.StripeCustomerID = customerID
	org.SubscriptionID = subscriptionID
	org.IsSubscribed = true
	return true, nil
}

func (w *integrationWorld) MarkUnsubscribed(ctx context.Context, customerID, subscriptionID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, org := range w.orgs {
		if org.StripeCustomerID == customerID && org.SubscriptionID == subscriptionID {
			org.SubscriptionID = ""
			org.IsSubscribed = false
			return true, nil
		}
	}
	return false, nil
}

func (w *integrationWorld) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkouts = append(w.checkouts, req)
	return "https://checkout.stripe.com/c/pay/" + req.OrganizationID, nil
}

func (w *integrationWorld) CreatePortalSession(ctx context.Context, req billing.PortalRequest) (string, error) {
	return "https://billing.stripe.com/p/session/" + req.CustomerID, nil
}

// FindByIDが衝突するため、セッション・ユーザー・組織はそれぞれ別の型で公開する。

type worldSessions struct{ w *integrationWorld }

func (s worldSessions) FindByID(ctx context.Context, id string) (*model.Session, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	return s.w.sessions[id], nil
}

type worldUsers struct{ w *integrationWorld }

func (u worldUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	u.w.mu.Lock()
	defer u.w.mu.Unlock()
	return u.w.users[id], nil
}

func (u worldUsers) FindByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	u.w.mu.Lock()
	defer u.w.mu.Unlock()
	for _, user := range u.w.users {
		if user.APIKey == apiKey {
			return user, nil
		}
	}
	return nil, nil
}

type worldOrgs struct{ w *integrationWorld }

func (o worldOrgs) FindByID(ctx context.Context, id string) (*model.Organization, error) {
	o.w.mu.Lock()
	defer o.w.mu.Unlock()
	org, ok := o.w.orgs[id]
	if !ok {
		return nil, nil
	}
	copied := *org
	return &copied, nil
}

func (w *integrationWorld) authService() *mockAuthService {
	return &mockAuthService{
		registerFn: func(ctx context.Context, email, password, password2 string) (*model.User, *model.Session, error) {
			if password != password2 {
				return nil, nil, model.NewPasswordMismatchError()
			}
			user, session := w.register(email, password)
			return user, session, nil
		},
		loginFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			w.mu.Lock()
			defer w.mu.Unlock()
			if want, ok := w.passwords[email]; !ok || want != password {
				return nil, model.NewInvalidCredentialsError()
			}
			for _, user := range w.users {
				if user.Email == email {
					session := &model.Session{ID: w.nextID("session"), UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
					w.sessions[session.ID] = session
					return session, nil
				}
			}
			return nil, model.NewInvalidCredentialsError()
		},
		logoutFn: func(ctx context.Context, sessionID string) error {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.sessions, sessionID)
			return nil
		},
		getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			w.mu.Lock()
			defer w.mu.Unlock()
			session, ok := w.sessions[sessionID]
			if !ok {
				return nil, model.NewUnauthorizedError()
			}
			return w.users[session.UserID], nil
		},
		switchOrganizationFn: func(ctx context.Context, sessionID, userID, orgID string) (*gate.CurrentOrganization, error) {
			memberships, _ := w.ListByUser(ctx, userID)
			selected := gate.SelectCurrent(memberships, orgID)
			if selected == nil || selected.OrganizationID != orgID {
				return nil, model.NewNotAMemberError(orgID)
			}
			w.mu.Lock()
			w.sessions[sessionID].OrganizationID = orgID
			w.mu.Unlock()
			return gate.FromMembership(selected), nil
		},
	}
}

// --- 統合テスト用ルーター構築ヘルパー ---

// newWorldRouterDeps はintegrationWorldを裏付けとするRouterDepsを返す。
func newWorldRouterDeps(t *testing.T, world *integrationWorld, collector *mockCollector, limits middleware.RateLimiterConfig) *RouterDeps {
	t.Helper()

	rateLimiter := middleware.NewRateLimiter(limits)
	t.Cleanup(rateLimiter.Stop)

	authService := world.authService()
	return &RouterDeps{
		HealthChecker:     &mockHealthChecker{},
		Metrics:           collector,
		SessionFinder:     worldSessions{world},
		Memberships:       world,
		Users:             worldUsers{world},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rateLimiter,

		AuthService: authService,
		AuthConfig:  testAuthConfig,

		OrganizationService: &mockOrganizationService{
			listForUserFn: world.ListByUser,
		},
		OrganizationSwitcher: authService,

		Organizations:     worldOrgs{world},
		CheckoutInitiator: billing.NewInitiator(world, "http://localhost:8080", collector),
		StripePriceID:     "price_123",
		WebhookReconciler: billing.NewReconciler(world, testWebhookSecret, time.Minute, collector),

		UserService:  &mockUserService{},
		AdminService: &mockAdminService{},
	}
}

func createIntegrationRouter(t *testing.T, world *integrationWorld, collector *mockCollector) http.Handler {
	t.Helper()
	return NewRouter(newWorldRouterDeps(t, world, collector, middleware.DefaultRateLimiterConfig()))
}

// client はCookieを保持してリクエストを送るテスト用クライアント。
type client struct {
	t       *testing.T
	router  http.Handler
	cookies map[string]*http.Cookie
}

func newClient(t *testing.T, router http.Handler) *client {
	return &client{t: t, router: router, cookies: make(map[string]*http.Cookie)}
}

func (c *client) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	c.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}
	if csrf, ok := c.cookies["csrf_token"]; ok && req.Header.Get("X-CSRF-Token") == "" {
		req.Header.Set("X-CSRF-Token", csrf.Value)
	}

	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	for _, cookie := range w.Result().Cookies() {
		if cookie.MaxAge < 0 {
			delete(c.cookies, cookie.Name)
			continue
		}
		c.cookies[cookie.Name] = cookie
	}
	return w
}

func (c *client) get(path string) *httptest.ResponseRecorder {
	c.t.Helper()
	return c.do(http.MethodGet, path, "", nil)
}

func (c *client) post(path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, nil)
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, want, w.Body.String())
	}
}

// --- 統合テスト ---

// TestIntegration_SubscriptionLifecycle は登録からcheckout、Webhookによる購読開始と終了までを通しで検証する。
func TestIntegration_SubscriptionLifecycle(t *testing.T) {
	world := newIntegrationWorld()
	collector := &mockCollector{}
	router := createIntegrationRouter(t, world, collector)
	c := newClient(t, router)

	// 1. CSRFトークンを取得してから登録
	expectStatus(t, c.get("/api/csrf-token"), http.StatusOK)
	w := c.post("/auth/register", `{"email":"alice@example.com","password":"secret123","password2":"secret123"}`)
	expectStatus(t, w, http.StatusCreated)
	userID := decodeBody[map[string]string](t, w)["id"]

	// 2. ダッシュボードで登録時のフラッシュが表示される
	w = c.get("/dashboard")
	expectStatus(t, w, http.StatusOK)
	dashboard := decodeBody[dashboardResponse](t, w)
	if len(dashboard.Flashes) != 1 || dashboard.Flashes[0].Message != msgRegistered {
		t.Errorf("flashes = %+v", dashboard.Flashes)
	}
	if dashboard.Organization == nil || dashboard.Organization.Role != model.RoleOwner || dashboard.Organization.IsSubscribed {
		t.Fatalf("organization = %+v", dashboard.Organization)
	}
	orgID := dashboard.Organization.ID

	// 3. 未購読ではpremiumは403
	w = c.get("/api/features/premium")
	expectStatus(t, w, http.StatusForbidden)
	if body := decodeBody[apiErrorResponse](t, w); body.Code != model.ErrCodeSubscriptionRequired {
		t.Errorf("code = %q", body.Code)
	}

	// 4. 未購読ではポータルを開けない
	w = c.post("/payments/customer-portal", "")
	expectStatus(t, w, http.StatusSeeOther)
	if loc := w.Header().Get("Location"); loc != middleware.DashboardPath {
		t.Errorf("Location = %q", loc)
	}

	// 5. checkoutは組織IDを相関IDとして渡す
	w = c.post("/payments/create-checkout-session", "")
	expectStatus(t, w, http.StatusSeeOther)
	if loc := w.Header().Get("Location"); loc != "https://checkout.stripe.com/c/pay/"+orgID {
		t.Errorf("Location = %q", loc)
	}
	if len(world.checkouts) != 1 || world.checkouts[0].CustomerEmail != "alice@example.com" || world.checkouts[0].PriceID != "price_123" {
		t.Errorf("checkouts = %+v", world.checkouts)
	}

	// 6. Webhookで購読開始
	payload, sig := signWebhook(checkoutCompletedEvent(orgID, "cus_alice", "sub_1"))
	w = c.do(http.MethodPost, "/payments/stripe/webhook", string(payload), map[string]string{stripeSignatureHeader: sig})
	expectStatus(t, w, http.StatusOK)
	if org := world.org(orgID); !org.IsSubscribed || org.StripeCustomerID != "cus_alice" {
		t.Fatalf("org = %+v", org)
	}

	// 7. 購読後はpremiumとAPIが使える
	expectStatus(t, c.get("/api/features/premium"), http.StatusOK)
	apiKey := world.users[userID].APIKey
	w = c.do(http.MethodPost, "/api/v1/generate", `{"prompt":"hello"}`, map[string]string{"Authorization": "Bearer " + apiKey})
	expectStatus(t, w, http.StatusOK)

	// 8. ポータルは顧客参照を使う
	w = c.post("/payments/customer-portal", "")
	expectStatus(t, w, http.StatusSeeOther)
	if loc := w.Header().Get("Location"); loc != "https://billing.stripe.com/p/session/cus_alice" {
		t.Errorf("Location = %q", loc)
	}

	// 9. Webhookで購読終了。顧客参照は残る
	payload, sig = signWebhook(subscriptionDeletedEvent("cus_alice", "sub_1"))
	w = c.do(http.MethodPost, "/payments/stripe/webhook", string(payload), map[string]string{stripeSignatureHeader: sig})
	expectStatus(t, w, http.StatusOK)
	if org := world.org(orgID); org.IsSubscribed || org.StripeCustomerID != "cus_alice" {
		t.Errorf("org = %+v", org)
	}
	expectStatus(t, c.get("/api/features/premium"), http.StatusForbidden)

	w = c.do(http.MethodPost, "/api/v1/generate", `{"prompt":"hello"}`, map[string]string{"Authorization": "Bearer " + apiKey})
	expectStatus(t, w, http.StatusForbidden)
	if body := decodeBody[map[string]string](t, w); body["error"] != "This endpoint requires an active subscription." {
		t.Errorf("body = %v", body)
	}
}

// TestIntegration_MemberCannotManageBilling はowner以外がcheckoutを開始できないことを検証する。
func TestIntegration_MemberCannotManageBilling(t *testing.T) {
	world := newIntegrationWorld()
	router := createIntegrationRouter(t, world, &mockCollector{})

	owner, _ := world.register("owner@example.com", "pw-owner-1")
	member, memberSession := world.register("member@example.com", "pw-member-1")
	ownerOrgID := ""
	for _, m := range world.memberships {
		if m.userID == owner.ID {
			ownerOrgID = m.orgID
		}
	}
	world.addMember(member.ID, ownerOrgID, model.RoleMember)

	c := newClient(t, router)
	c.cookies[middleware.SessionCookieName] = &http.Cookie{Name: middleware.SessionCookieName, Value: memberSession.ID}
	expectStatus(t, c.get("/api/csrf-token"), http.StatusOK)

	// 所属先の組織へ切り替える
	w := c.post("/api/organizations/"+ownerOrgID+"/select", "")
	expectStatus(t, w, http.StatusOK)
	if body := decodeBody[currentOrganizationResponse](t, w); body.Role != model.RoleMember {
		t.Errorf("role = %q", body.Role)
	}

	// memberはcheckoutできずダッシュボードへ戻される
	w = c.post("/payments/create-checkout-session", "")
	expectStatus(t, w, http.StatusSeeOther)
	if loc := w.Header().Get("Location"); loc != middleware.DashboardPath {
		t.Errorf("Location = %q", loc)
	}
	if flashes := flashesOf(t, w); len(flashes) != 1 || flashes[0].Message != model.NewRoleRequiredError(model.RoleOwner).Message {
		t.Errorf("flashes = %+v", flashes)
	}
	if len(world.checkouts) != 0 {
		t.Errorf("checkouts = %+v, want none", world.checkouts)
	}

	// 名前変更もowner限定
	w = c.do(http.MethodPatch, "/api/organizations/current", `{"name":"Hijacked"}`, nil)
	expectStatus(t, w, http.StatusForbidden)

	// 所属していない組織には切り替えられない
	expectStatus(t, c.post("/api/organizations/org-unknown/select", ""), http.StatusForbidden)
}

// TestIntegration_LoginLogout はログインで得たセッションがログアウトで無効になることを検証する。
func TestIntegration_LoginLogout(t *testing.T) {
	world := newIntegrationWorld()
	router := createIntegrationRouter(t, world, &mockCollector{})
	world.register("bob@example.com", "correct-horse")

	c := newClient(t, router)
	expectStatus(t, c.post("/auth/login", `{"email":"bob@example.com","password":"wrong"}`), http.StatusUnauthorized)
	expectStatus(t, c.post("/auth/login", `{"email":"bob@example.com","password":"correct-horse"}`), http.StatusOK)

	// ログイン直後のセッションは組織未選択だが、最初の所属組織が現在の組織になる
	w := c.get("/auth/me")
	expectStatus(t, w, http.StatusOK)
	if me := decodeBody[meResponse](t, w); me.Organization == nil || me.Organization.Role != model.RoleOwner {
		t.Errorf("me = %+v", me)
	}

	expectStatus(t, c.post("/auth/logout", ""), http.StatusNoContent)
	expectStatus(t, c.get("/auth/me"), http.StatusUnauthorized)
}
