package routes

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/paygate/internal/config"
	"github.com/example/paygate/internal/handlers"
	"github.com/example/paygate/internal/middleware"
	"github.com/example/paygate/internal/services"
	"github.com/example/paygate/internal/store"
)

// Deps carries what the HTTP layer needs from main.
type Deps struct {
	Config    *config.Config
	Store     store.GatewayStore
	Logger    *zap.Logger
	Notifiers *services.Notifiers

	// GatewayOptions are applied to every outbound gateway client.
	GatewayOptions []services.Option
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, deps Deps) {
	cfg := deps.Config
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	opts := deps.GatewayOptions

	stripe := services.NewStripeService(log, opts...)
	square := services.NewSquareService(log, opts...)
	registry := services.NewRegistry(
		stripe,
		services.NewPayPalCommerceService(log, opts...),
		square,
		services.NewAuthorizeNetService(log, opts...),
		services.NewKlarnaService(log, append(opts[:len(opts):len(opts)],
			services.WithMerchantURLs(services.KlarnaMerchantURLs(cfg.FrontendURL, cfg.BackendURL)))...),
	)

	paypal := services.NewPayPalClient("paypal", services.PayPalCredentials{
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
		Environment:  cfg.PayPalMode,
	}, log, opts...)
	checkout := services.NewCheckoutService(paypal, services.CheckoutSettings{
		FrontendURL: cfg.FrontendURL,
		BrandName:   cfg.AppName,
	}, deps.Notifiers, log, opts...)
	webhooks := services.NewWebhookService(deps.Notifiers, log.With(zap.String("component", "webhooks")))

	systemHandler := handlers.NewSystemHandler(cfg.AppName)
	authHandler := handlers.NewAuthHandler(cfg)
	adminHandler := handlers.NewAdminHandler(deps.Store, registry, log.With(zap.String("component", "admin")))
	paymentHandler := handlers.NewPaymentHandler(registry, stripe, square, deps.Store, deps.Notifiers, log.With(zap.String("component", "payments")))
	checkoutHandler := handlers.NewCheckoutHandler(checkout, deps.Store, log.With(zap.String("component", "checkout")))
	webhookHandler := handlers.NewWebhookHandler(webhooks, cfg.StripeWebhookSecret, deps.Store, log.With(zap.String("component", "webhooks")))

	app.Get("/", systemHandler.Welcome)
	app.Get("/health", systemHandler.Health)
	app.Get("/hello", systemHandler.Hello)
	app.Post("/hello", systemHandler.HelloPost)
	app.Get("/hello/:name", systemHandler.Hello)

	checkoutGroup := app.Group("/checkout")

	paypalGroup := checkoutGroup.Group("/paypal")
	paypalGroup.Post("/process-paypal", checkoutHandler.ProcessPayPal)
	paypalGroup.Post("/capture", checkoutHandler.CapturePayPal)
	paypalGroup.Get("/orders/:id", checkoutHandler.GetPayPalOrder)
	paypalGroup.Post("/test-connection", checkoutHandler.TestPayPalConnection)
	paypalGroup.Post("/webhook", webhookHandler.PayPal)

	// Gateway-specific routes come before the /:gateway matchers.
	card := checkoutGroup.Group("/credit-card")
	card.Post("/stripe/webhook", webhookHandler.Stripe)
	card.Post("/stripe/confirm-payment", paymentHandler.ConfirmStripePayment)
	card.Post("/stripe/refund-payment", paymentHandler.RefundStripePayment)
	card.Get("/stripe/payment-intent/:id", paymentHandler.GetStripePaymentIntent)
	card.Post("/square/refund-payment", paymentHandler.RefundSquarePayment)
	card.Post("/:gateway/process-payment", paymentHandler.ProcessPayment)
	card.Post("/:gateway/test-connection", paymentHandler.TestConnection)

	klarna := checkoutGroup.Group("/klarna")
	klarna.Post("/session", paymentHandler.ProcessKlarna)
	klarna.Post("/test-connection", paymentHandler.TestKlarna)
	klarna.Post("/notification", webhookHandler.Klarna)

	app.Post("/admin/login", authHandler.Login)

	admin := app.Group("/admin", middleware.AdminAuth(cfg))
	admin.Get("/health", adminHandler.Health)
	admin.Get("/payment-gateways", adminHandler.ListGateways)
	admin.Post("/payment-gateways", adminHandler.SaveGateway)
	admin.Get("/payment-gateways/:name", adminHandler.GetGateway)
	admin.Post("/payment-gateways/:name/test-connection", adminHandler.TestGateway)
}
