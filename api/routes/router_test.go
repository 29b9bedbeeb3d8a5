package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/jem-cart/api/controllers"
	"github.com/angelmondragon/jem-cart/internal/cart"
	"github.com/angelmondragon/jem-cart/internal/catalog"
	pkgAuth "github.com/angelmondragon/jem-cart/pkg/auth"
	"github.com/angelmondragon/jem-cart/pkg/config"
)

type fixedPrices struct{}

func (fixedPrices) Lookup(_ context.Context, _ string, code string) (catalog.Quote, error) {
	return catalog.Quote{ProductCode: code, UnitPrice: decimal.RequireFromString("4.25"), Found: true}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", CORSOrigins: []string{"http://localhost:3000"}},
		JWT: config.JWTConfig{Secret: "secret"},
		Cart: config.CartConfig{IdempotencyTTL: time.Hour},
		RateLimit: config.RateLimitConfig{
			CartMutationWindow: time.Minute,
			CartMutationLimit:  10,
		},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	svc, err := cart.NewService(cart.ServiceParams{Store: cart.NewMemoryStore(), Prices: fixedPrices{}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	return NewRouter(cfg, nil, map[string]controllers.Pinger{}, nil, svc, metrics)
}

func bearer(t *testing.T, cfg *config.Config, owner string) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), time.Minute, pkgAuth.AccessTokenPayload{UserID: owner})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return "Bearer " + token
}

func TestRouterHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t, testConfig())

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
		if resp.Header().Get("X-Request-Id") == "" {
			t.Fatalf("%s: expected request id header", path)
		}
	}
}

func TestRouterCartRequiresAuth(t *testing.T) {
	router := newTestRouter(t, testConfig())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestRouterCartLifecycle(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)
	auth := bearer(t, cfg, "owner-1")

	steps := []struct {
		method string
		path   string
		body   string
		status int
		want   string
	}{
		{http.MethodGet, "/api/v1/cart", "", http.StatusOK, `"version":0`},
		{http.MethodPost, "/api/v1/cart/items", `{"product_code":"X","quantity":2}`, http.StatusOK, `"total_price":"8.50"`},
		{http.MethodPatch, "/api/v1/cart/items", `{"product_code":"X","quantity":1}`, http.StatusOK, `"total_price":"4.25"`},
		{http.MethodPost, "/api/v1/cart/clear", "", http.StatusOK, `"version":3`},
		{http.MethodDelete, "/api/v1/cart", "", http.StatusOK, `"deleted":true`},
		{http.MethodDelete, "/api/v1/cart", "", http.StatusNotFound, `"NOT_FOUND"`},
	}

	for _, step := range steps {
		var req *http.Request
		if step.body == "" {
			req = httptest.NewRequest(step.method, step.path, nil)
		} else {
			req = httptest.NewRequest(step.method, step.path, strings.NewReader(step.body))
		}
		req.Header.Set("Authorization", auth)

		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != step.status {
			t.Fatalf("%s %s: expected %d got %d: %s", step.method, step.path, step.status, resp.Code, resp.Body.String())
		}
		if !strings.Contains(resp.Body.String(), step.want) {
			t.Fatalf("%s %s: expected body containing %s, got %s", step.method, step.path, step.want, resp.Body.String())
		}
	}
}

func TestRouterOwnersAreIsolated(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)

	add := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"product_code":"X","quantity":1}`))
	add.Header.Set("Authorization", bearer(t, cfg, "owner-1"))
	router.ServeHTTP(httptest.NewRecorder(), add)

	get := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	get.Header.Set("Authorization", bearer(t, cfg, "owner-2"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, get)

	if !strings.Contains(resp.Body.String(), `"version":0`) || !strings.Contains(resp.Body.String(), `"owner_id":"owner-2"`) {
		t.Fatalf("expected an empty cart for owner-2, got %s", resp.Body.String())
	}
}
