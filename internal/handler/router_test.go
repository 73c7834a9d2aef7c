package handler

import (
	"net/http"
	"testing"

	"github.com/hitoshi/saaskit/internal/metrics"
	"github.com/hitoshi/saaskit/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// newRouterFixture は空のintegrationWorldに接続したルーターとクライアントを返す。
func newRouterFixture(t *testing.T, limits middleware.RateLimiterConfig) (*integrationWorld, *client) {
	t.Helper()
	world := newIntegrationWorld()
	router := NewRouter(newWorldRouterDeps(t, world, &mockCollector{}, limits))
	return world, newClient(t, router)
}

func loginAs(c *client, sessionID string) {
	c.cookies[middleware.SessionCookieName] = &http.Cookie{Name: middleware.SessionCookieName, Value: sessionID}
}

func TestNewRouter_Health(t *testing.T) {
	_, c := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	w := c.get("/health")
	expectStatus(t, w, http.StatusOK)
	if body := decodeBody[map[string]string](t, w); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestNewRouter_SecurityHeaders(t *testing.T) {
	_, c := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	w := c.get("/health")
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q, want empty without HSTS", got)
	}
}

func TestNewRouter_CSRFToken(t *testing.T) {
	_, c := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	w := c.get("/api/csrf-token")
	expectStatus(t, w, http.StatusOK)
	token := decodeBody[map[string]string](t, w)["token"]
	if token == "" {
		t.Fatal("token is empty")
	}
	cookie, ok := c.cookies["csrf_token"]
	if !ok || cookie.Value != token {
		t.Errorf("csrf cookie = %+v, want value %q", cookie, token)
	}

	// 2回目は同じトークンを返す
	if again := decodeBody[map[string]string](t, c.get("/api/csrf-token"))["token"]; again != token {
		t.Errorf("token changed: %q -> %q", token, again)
	}
}

func TestNewRouter_MetricsRoute(t *testing.T) {
	world := newIntegrationWorld()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	collector.RecordHTTPStatus(http.StatusOK)

	deps := newWorldRouterDeps(t, world, &mockCollector{}, middleware.DefaultRateLimiterConfig())
	deps.MetricsHandler = metrics.Handler(reg)
	c := newClient(t, NewRouter(deps))

	expectStatus(t, c.get("/metrics"), http.StatusOK)

	// 未設定なら/metricsは公開しない
	c = newClient(t, NewRouter(newWorldRouterDeps(t, world, &mockCollector{}, middleware.DefaultRateLimiterConfig())))
	expectStatus(t, c.get("/metrics"), http.StatusNotFound)
}

func TestNewRouter_SessionRoutesRequireAuthentication(t *testing.T) {
	_, c := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/dashboard"},
		{http.MethodGet, "/auth/me"},
		{http.MethodGet, "/api/organizations"},
		{http.MethodGet, "/api/features/premium"},
		{http.MethodPost, "/payments/create-checkout-session"},
		{http.MethodDelete, "/api/users/me"},
		{http.MethodGet, "/admin/users"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			expectStatus(t, c.do(tt.method, tt.path, "", nil), http.StatusUnauthorized)
		})
	}
}

func TestNewRouter_CSRFProtectsSessionRoutes(t *testing.T) {
	world, c := newRouterFixture(t, middleware.DefaultRateLimiterConfig())
	_, session := world.register("carol@example.com", "pw-carol-1")
	loginAs(c, session.ID)

	// トークンCookieもヘッダーもない状態変更は拒否
	w := c.post("/auth/resend", "")
	expectStatus(t, w, http.StatusForbidden)
	if body := decodeBody[apiErrorResponse](t, w); body.Code != "CSRF_TOKEN_INVALID" {
		t.Errorf("code = %q", body.Code)
	}

	// GETでトークンCookieが発行される
	expectStatus(t, c.get("/dashboard"), http.StatusOK)
	if _, ok := c.cookies["csrf_token"]; !ok {
		t.Fatal("csrf cookie not issued on safe request")
	}

	// ヘッダーの値が一致しない場合も拒否
	w = c.do(http.MethodPost, "/auth/resend", "", map[string]string{"X-CSRF-Token": "forged"})
	expectStatus(t, w, http.StatusForbidden)

	// 一致すれば通過
	expectStatus(t, c.post("/auth/resend", ""), http.StatusSeeOther)
}

func TestNewRouter_PublicPostsSkipCSRF(t *testing.T) {
	_, c := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	// ログインとWebhookはCSRFトークンなしで処理まで到達する
	expectStatus(t, c.post("/auth/login", `{"email":"nobody@example.com","password":"x"}`), http.StatusUnauthorized)

	w := c.do(http.MethodPost, "/payments/stripe/webhook", `{}`, map[string]string{stripeSignatureHeader: "t=1,v1=bad"})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestNewRouter_AdminRoutes(t *testing.T) {
	world, c := newRouterFixture(t, middleware.DefaultRateLimiterConfig())
	user, session := world.register("dave@example.com", "pw-dave-1")
	loginAs(c, session.ID)

	w := c.get("/admin/organizations")
	expectStatus(t, w, http.StatusForbidden)
	if body := decodeBody[apiErrorResponse](t, w); body.Code != "ADMIN_REQUIRED" {
		t.Errorf("code = %q", body.Code)
	}

	world.mu.Lock()
	world.users[user.ID].IsAdmin = true
	world.mu.Unlock()

	expectStatus(t, c.get("/admin/organizations"), http.StatusOK)
	expectStatus(t, c.get("/admin/users"), http.StatusOK)
}

func TestNewRouter_APIKeyRoutes(t *testing.T) {
	world, c := newRouterFixture(t, middleware.DefaultRateLimiterConfig())
	user, _ := world.register("erin@example.com", "pw-erin-1")

	tests := []struct {
		name       string
		method     string
		path       string
		auth       string
		wantStatus int
	}{
		{"missing key", http.MethodGet, "/api/v1/status", "", http.StatusUnauthorized},
		{"unknown key", http.MethodGet, "/api/v1/status", "Bearer nope", http.StatusUnauthorized},
		{"valid key", http.MethodGet, "/api/v1/status", "Bearer " + user.APIKey, http.StatusOK},
		{"generate without subscription", http.MethodPost, "/api/v1/generate", "Bearer " + user.APIKey, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := map[string]string{}
			if tt.auth != "" {
				header["Authorization"] = tt.auth
			}
			w := c.do(tt.method, tt.path, `{"prompt":"hi"}`, header)
			expectStatus(t, w, tt.wantStatus)
		})
	}
}

func TestNewRouter_AuthRateLimit(t *testing.T) {
	_, c := newRouterFixture(t, middleware.NewRateLimiterConfig(60, 2))

	body := `{"email":"mallory@example.com","password":"guess"}`
	expectStatus(t, c.post("/auth/login", body), http.StatusUnauthorized)
	expectStatus(t, c.post("/auth/login", body), http.StatusUnauthorized)

	w := c.post("/auth/login", body)
	expectStatus(t, w, http.StatusTooManyRequests)
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header is missing")
	}

	// ヘルスチェックは制限対象外
	expectStatus(t, c.get("/health"), http.StatusOK)
}

func TestNewRouter_CORSPreflight(t *testing.T) {
	_, c := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	w := c.do(http.MethodOptions, "/auth/login", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": http.MethodPost,
	})
	expectStatus(t, w, http.StatusNoContent)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
