package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/jem-cart/api/controllers"
	cartcontrollers "github.com/angelmondragon/jem-cart/api/controllers/cart"
	"github.com/angelmondragon/jem-cart/api/middleware"
	"github.com/angelmondragon/jem-cart/internal/cart"
	"github.com/angelmondragon/jem-cart/pkg/config"
	"github.com/angelmondragon/jem-cart/pkg/logger"
	"github.com/angelmondragon/jem-cart/pkg/redis"
)

// NewRouter wires the cart API. redisClient may be nil, which disables
// idempotency replay and the mutation rate limit. metricsHandler is mounted
// on /metrics when set.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	redisClient *redis.Client,
	cartService cart.Service,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	var idempotencyStore redis.IdempotencyStore
	var limiter middleware.WindowLimiter
	if redisClient != nil {
		idempotencyStore = redisClient
		limiter = redisClient
	}

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.MutationRateLimit(limiter, cfg.RateLimit.CartMutationWindow, cfg.RateLimit.CartMutationLimit, logg))
		r.Use(middleware.Idempotency(idempotencyStore, cfg.Cart.IdempotencyTTL, logg))

		r.Get("/", cartcontrollers.CartFetch(cartService, logg))
		r.Delete("/", cartcontrollers.CartDelete(cartService, logg))
		r.Post("/items", cartcontrollers.CartAddItem(cartService, logg))
		r.Patch("/items", cartcontrollers.CartRemoveItem(cartService, logg))
		r.Post("/clear", cartcontrollers.CartClear(cartService, logg))
	})

	return r
}
