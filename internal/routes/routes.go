package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/example/pixaccess/internal/config"
	"github.com/example/pixaccess/internal/database"
	"github.com/example/pixaccess/internal/handlers"
	"github.com/example/pixaccess/internal/metrics"
	"github.com/example/pixaccess/internal/middleware"
	"github.com/example/pixaccess/internal/services"
)

// Dependencies are the process-wide resources routes are built from.
type Dependencies struct {
	DB       *gorm.DB
	Config   *config.Config
	Redis    *redis.Client
	Registry *prometheus.Registry
	Logger   zerolog.Logger
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, deps Dependencies) {
	cfg := deps.Config
	log := deps.Logger

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	recorder := metrics.NewRecorder(registry)

	store := database.NewPurchaseStore(deps.DB)
	gateway := services.NewMercadoPagoService(cfg.MercadoPagoBaseURL, cfg.MercadoPagoAccessToken, cfg.HTTPClientTimeout, log)
	notifier := services.NewWhatsAppService(services.WhatsAppConfig{
		BaseURL:       cfg.WhatsAppBaseURL,
		APIVersion:    cfg.WhatsAppAPIVersion,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		Token:         cfg.WhatsAppToken,
		TemplateName:  cfg.WhatsAppTemplateName,
		TemplateLang:  cfg.WhatsAppTemplateLang,
		Timeout:       cfg.HTTPClientTimeout,
	}, log)
	if !cfg.WhatsAppEnabled() {
		log.Warn().Msg("whatsapp credentials missing, access notifications will fail")
	}

	var locker services.PurchaseLocker = services.NoopPurchaseLocker{}
	if deps.Redis != nil {
		locker = services.NewRedisPurchaseLocker(deps.Redis, cfg.PurchaseLockTTL)
	}

	sessions := services.NewSessionManager(cfg.SessionSecret, cfg.SessionTTL)
	purchases := services.NewPurchaseService(services.PurchaseServiceParams{
		Store:   store,
		Gateway: gateway,
		Locker:  locker,
		Config: services.PurchaseConfig{
			Price:         cfg.ProductPrice,
			Description:   cfg.ProductDescription,
			PayerEmail:    cfg.PayerEmail,
			PublicBaseURL: cfg.PublicBaseURL,
		},
		Metrics: recorder,
		Logger:  log,
	})
	reconciler := services.NewReconciler(purchases, gateway, notifier, cfg.PublicBaseURL, recorder, log)
	access := services.NewAccessService(store, sessions)
	auth := services.NewAuthService(store, sessions, log)

	cookie := middleware.SessionCookie{
		Name:   cfg.SessionCookieName,
		Secure: cfg.CookieSecure,
		TTL:    sessions.TTL(),
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	purchaseHandler := handlers.NewPurchaseHandler(purchases, sessions, cookie, log)
	webhookHandler := handlers.NewWebhookHandler(reconciler, log)
	authHandler := handlers.NewAuthHandler(auth, cookie, log)
	contentHandler := handlers.NewContentHandler(access, cfg.ContentPath, cfg.PublicBaseURL, log)

	app.Get("/healthz", handlers.Health)
	app.Get("/a/:token", contentHandler.AccessLink)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := app.Group("/api")
	api.Use(middleware.LoadSession(access, cookie))

	// Purchase routes
	api.Post("/create_purchase", limiter.Handler(), purchaseHandler.Create)
	api.Get("/check_purchase", purchaseHandler.Check)
	api.Post("/mp_webhook", middleware.MercadoPagoSignature(cfg.MercadoPagoWebhookSecret, log), webhookHandler.MercadoPago)

	// Session routes
	api.Post("/login", limiter.Handler(), authHandler.Login)
	api.Post("/logout", authHandler.Logout)

	// Content routes
	api.Get("/content", contentHandler.Content)
	api.Get("/my_access", middleware.RequireSession(), contentHandler.MyAccess)
}
