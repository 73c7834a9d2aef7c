package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/saaskit/internal/model"
)

func testRateLimiterConfig(generalBurst, authBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		AuthRate:        1,
		AuthBurst:       authBurst,
		CleanupInterval: 1 * time.Minute,
	}
}

func userRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func ipRequest(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = ip + ":12345"
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- GeneralMiddleware のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, userRequest("user-1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterHeader(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(2, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, userRequest("user-rate-limit"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	// 3回目はレート制限に引っかかる
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest("user-rate-limit"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", w.Header().Get("Retry-After"))
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["code"] != "rate_limit_exceeded" {
		t.Errorf("code = %q, want rate_limit_exceeded", body["code"])
	}
}

func TestRateLimitMiddleware_IsolatesUserRateLimits(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest("user-a"))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest("user-a"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("user-a second request: status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, userRequest("user-b"))
	if w.Code != http.StatusOK {
		t.Errorf("user-b: status = %d, want 200", w.Code)
	}
}

func TestRateLimitMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/test", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- AuthMiddleware のテスト ---

func TestAuthRateLimit_LimitsPerIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(100, 2))
	defer rl.Stop()

	handler := rl.AuthMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, ipRequest("203.0.113.7"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, ipRequest("203.0.113.7"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}

	// 別のIPは影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, ipRequest("198.51.100.1"))
	if w.Code != http.StatusOK {
		t.Errorf("other IP: status = %d, want 200", w.Code)
	}

	if got := rl.AuthLimiterCount(); got != 2 {
		t.Errorf("AuthLimiterCount() = %d, want 2", got)
	}
}

func TestAuthRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 1))
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	auth := rl.AuthMiddleware()(okHandler())

	w := httptest.NewRecorder()
	general.ServeHTTP(w, userRequest("user-1"))
	w = httptest.NewRecorder()
	general.ServeHTTP(w, userRequest("user-1"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("general: status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	auth.ServeHTTP(w, ipRequest("192.0.2.10"))
	if w.Code != http.StatusOK {
		t.Errorf("auth: status = %d, want 200", w.Code)
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := testRateLimiterConfig(5, 5)
	cfg.CleanupInterval = 10 * time.Millisecond
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), userRequest("user-cleanup"))
	rl.AuthMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), ipRequest("192.0.2.20"))

	if rl.GeneralLimiterCount() != 1 || rl.AuthLimiterCount() != 1 {
		t.Fatalf("expected one entry in each limiter set")
	}

	// エントリのTTLはCleanupIntervalの2倍
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rl.GeneralLimiterCount() == 0 && rl.AuthLimiterCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("entries not cleaned up: general=%d auth=%d", rl.GeneralLimiterCount(), rl.AuthLimiterCount())
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestRateLimitMiddleware_InChainWithSession(t *testing.T) {
	sessions := &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "chain-user", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	rl := NewRateLimiter(testRateLimiterConfig(1, 10))
	defer rl.Stop()

	handler := NewSessionMiddleware(sessions, &mockMembershipLister{})(rl.GeneralMiddleware()(okHandler()))

	codes := make([]int, 2)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "s1"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes[i] = w.Code
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 429]", codes)
	}
}

func TestNewRateLimiterConfig(t *testing.T) {
	cfg := NewRateLimiterConfig(120, 10)

	if cfg.GeneralRate != 2 {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.AuthBurst != 10 {
		t.Errorf("AuthBurst = %d, want 10", cfg.AuthBurst)
	}
	if cfg.AuthRate == 0 {
		t.Error("AuthRate should not be 0")
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}
