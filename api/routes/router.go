package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/settlement-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/settlement-backend/api/controllers/cart"
	checkoutcontrollers "github.com/angelmondragon/settlement-backend/api/controllers/checkout"
	ordercontrollers "github.com/angelmondragon/settlement-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/settlement-backend/api/controllers/webhooks"
	"github.com/angelmondragon/settlement-backend/api/middleware"
	"github.com/angelmondragon/settlement-backend/internal/cart"
	checkoutsvc "github.com/angelmondragon/settlement-backend/internal/checkout"
	"github.com/angelmondragon/settlement-backend/internal/orders"
	products "github.com/angelmondragon/settlement-backend/internal/products"
	"github.com/angelmondragon/settlement-backend/pkg/config"
	"github.com/angelmondragon/settlement-backend/pkg/db"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/settlement-backend/pkg/redis"
)

// redisStore is the slice of the redis client the HTTP layer needs.
type redisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(parts ...string) string
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisStore,
	metricsHandler http.Handler,
	catalog products.Catalog,
	cartService cart.Service,
	checkoutService checkoutsvc.Service,
	reconciler checkoutcontrollers.Reconciler,
	orderStore orders.Store,
	settlementMetrics ordercontrollers.OutcomeRecorder,
	paymobClient webhookcontrollers.PaymobSigner,
	paymobWebhookService webhookcontrollers.PaymobWebhookService,
	paymobWebhookGuard webhookcontrollers.PaymobWebhookGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	var limiter middleware.RateLimitStore
	var idempotencyStore pkgredis.IdempotencyStore
	pingers := map[string]controllers.Pinger{}
	if dbP != nil {
		pingers["postgres"] = dbP
	}
	if redisClient != nil {
		limiter = redisClient
		idempotencyStore = redisClient
		pingers["redis"] = redisClient
	}

	initiatePolicy := middleware.NewRateLimitPolicy(
		"checkout-initiate",
		cfg.Checkout.RateWindow,
		0,
		cfg.Checkout.RateLimit,
	)
	callbackPolicy := middleware.NewRateLimitPolicy(
		"checkout-callback",
		cfg.Checkout.RateWindow,
		cfg.Checkout.RateLimit*2,
		cfg.Checkout.RateLimit,
	)
	currency := cfg.Pricing.Currency

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, pingers, logg))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/products", func(r chi.Router) {
		r.Get("/", controllers.ProductList(catalog, currency, logg))
		r.Get("/{productId}", controllers.ProductDetail(catalog, currency, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/paymob", webhookcontrollers.PaymobWebhook(paymobWebhookService, paymobClient, paymobWebhookGuard, logg))
	})

	// the gateway redirect may arrive after the access token expired
	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(callbackPolicy, limiter, logg))
		r.Get("/api/v1/checkout/callback", checkoutcontrollers.Callback(reconciler, logg))
		r.Post("/api/v1/checkout/callback", checkoutcontrollers.Callback(reconciler, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/cart", func(r chi.Router) {
			r.Get("/", cartcontrollers.CartFetch(cartService, logg))
			r.Delete("/", cartcontrollers.CartClear(cartService, logg))
			r.Post("/items", cartcontrollers.CartAddItem(cartService, logg))
			r.Patch("/items", cartcontrollers.CartUpdateItem(cartService, logg))
			r.Delete("/items", cartcontrollers.CartRemoveItem(cartService, logg))
		})

		r.With(middleware.RateLimit(initiatePolicy, limiter, logg)).
			Post("/v1/checkout/initiate", checkoutcontrollers.Initiate(checkoutService, logg))

		r.Route("/v1/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(orderStore, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(orderStore, logg))
		})

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, string(enums.UserRoleAdmin)))
			r.Post("/orders/{orderId}/mark-paid", ordercontrollers.AdminMarkPaid(orderStore, settlementMetrics, logg))
			r.Get("/orders/{orderId}/ledger", ordercontrollers.AdminLedger(orderStore, logg))
		})
	})

	return r
}
