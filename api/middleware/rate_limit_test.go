package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgredis "github.com/angelmondragon/jem-cart/pkg/redis"
)

type countingLimiter struct {
	counts map[string]int64
	err    error
}

func (l *countingLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (pkgredis.Window, error) {
	if l.err != nil {
		return pkgredis.Window{}, l.err
	}
	if l.counts == nil {
		l.counts = map[string]int64{}
	}
	l.counts[scope]++
	n := l.counts[scope]
	return pkgredis.Window{Allowed: n <= limit, Count: n, RetryAfter: 1500 * time.Millisecond}, nil
}

func TestMutationRateLimitBlocksAfterLimit(t *testing.T) {
	limiter := &countingLimiter{}
	handler := MutationRateLimit(limiter, time.Minute, 2, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	var last *httptest.ResponseRecorder
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, cartRequest(http.MethodPost, "/api/v1/cart/items", "{}", "", "owner-1"))
		codes = append(codes, last.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if limiter.counts["cart:owner-1"] != 3 {
		t.Fatalf("expected per-owner scope, got %v", limiter.counts)
	}
	if got := last.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After rounded up to 2, got %q", got)
	}
	if got := last.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected no remaining requests, got %q", got)
	}
}

func TestMutationRateLimitIgnoresReads(t *testing.T) {
	limiter := &countingLimiter{}
	handler := MutationRateLimit(limiter, time.Minute, 1, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, cartRequest(http.MethodGet, "/api/v1/cart", "", "", "owner-1"))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected reads to pass, got %d", resp.Code)
		}
	}
	if len(limiter.counts) != 0 {
		t.Fatalf("reads must not consume the window")
	}
}

func TestMutationRateLimitReportsLimiterFailure(t *testing.T) {
	limiter := &countingLimiter{err: errors.New("redis down")}
	handler := MutationRateLimit(limiter, time.Minute, 1, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, cartRequest(http.MethodDelete, "/api/v1/cart", "", "", "owner-1"))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}
