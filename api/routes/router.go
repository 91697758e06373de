package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketplace-orchestrator/api/controllers"
	webhookcontrollers "github.com/angelmondragon/marketplace-orchestrator/api/controllers/webhooks"
	"github.com/angelmondragon/marketplace-orchestrator/api/middleware"
	checkoutsvc "github.com/angelmondragon/marketplace-orchestrator/internal/checkout"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

// Deps carries everything the HTTP surface calls into.
type Deps struct {
	DB         controllers.Pinger
	Redis      controllers.Pinger
	Idempotent middleware.IdempotencyStore
	Gatherer   prometheus.Gatherer

	Orders   controllers.OrderService
	Checkout checkoutsvc.Service
	Accounts controllers.VendorAccountService
	Payouts  controllers.PayoutService
	Webhooks webhookcontrollers.StripeIngestor
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}, logg))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Signature-verified, never JWT-authenticated.
	r.Post("/webhook", webhookcontrollers.StripeWebhook(deps.Webhooks, logg))

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.Idempotency(deps.Idempotent, cfg.Redis.IdempotencyTTL, logg),
		)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.MemberRoleCustomer, enums.MemberRoleAdmin))
			r.Post("/orders", controllers.CreateOrder(deps.Orders, logg))
			r.Get("/orders/{orderId}", controllers.GetOrder(deps.Orders, logg))
			r.Post("/orders/{orderId}/cancel", controllers.CancelOrder(deps.Orders, logg))
			r.Post("/checkout/{orderId}", controllers.Checkout(deps.Checkout, logg))
			r.Post("/verify/{orderId}", controllers.VerifyPayment(deps.Checkout, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.MemberRoleVendor))
			r.Get("/vendor/onboarding", controllers.VendorOnboarding(deps.Accounts, logg))
			r.Get("/vendor/account-status", controllers.VendorAccountStatus(deps.Accounts, logg))
			r.Patch("/vendor/order-items/{itemId}", controllers.UpdateOrderItem(deps.Orders, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.MemberRoleAdmin))
			r.Post("/admin/payouts", controllers.SchedulePayout(deps.Payouts, logg))
			r.Post("/admin/payouts/{payoutId}/process", controllers.ProcessPayout(deps.Payouts, logg))
		})
	})

	return r
}
