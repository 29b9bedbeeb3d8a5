package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/angelmondragon/jem-cart/api/responses"
	pkgerrors "github.com/angelmondragon/jem-cart/pkg/errors"
	"github.com/angelmondragon/jem-cart/pkg/logger"
	pkgredis "github.com/angelmondragon/jem-cart/pkg/redis"
)

// WindowLimiter is satisfied by the redis client.
type WindowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (pkgredis.Window, error)
}

// MutationRateLimit caps cart writes per owner in a fixed window. Reads pass
// through untouched.
func MutationRateLimit(limiter WindowLimiter, window time.Duration, limit int, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || window <= 0 || limit <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := OwnerIDFromContext(r.Context())
			if isReadOnly(r.Method) || owner == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			result, err := limiter.FixedWindowAllow(ctx, "cart:"+owner, int64(limit), window)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining(int64(limit), result.Count), 10))
			if result.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			if logg != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{
					"attempts":       result.Count,
					"limit":          limit,
					"window_seconds": int(window.Seconds()),
				}), "cart.rate_limit.blocked")
			}
			w.Header().Set("Retry-After", retryAfterSeconds(result.RetryAfter))
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
		})
	}
}

func isReadOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func remaining(limit, count int64) int64 {
	if count >= limit {
		return 0
	}
	return limit - count
}

// retryAfterSeconds rounds up; Retry-After of 0 invites an immediate retry.
func retryAfterSeconds(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
