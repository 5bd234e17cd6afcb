// Package routes wires the HTTP surface: handlers, services and the
// auth middleware.
package routes

import (
	"autobox/internal/config"
	"autobox/internal/gateway/webpay"
	"autobox/internal/handlers"
	"autobox/internal/middleware"
	"autobox/internal/repositories"
	"autobox/internal/services/auth"
	"autobox/internal/services/ledger"
	"autobox/internal/services/notification"
	"autobox/internal/services/payment"
	"autobox/internal/services/reconciliation"
	"autobox/internal/services/wallet"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupRoutes builds the service graph and registers every route.
func SetupRoutes(app *fiber.App, db *gorm.DB) {
	userRepo := repositories.NewUserRepository(db)
	paymentRepo := repositories.NewPaymentRepository(db)
	gatewayTxRepo := repositories.NewGatewayTransactionRepository(db)

	gatewayClient := webpay.NewClient(webpay.Config{
		BaseURL:      config.GetEnv("WEBPAY_BASE_URL", "https://webpay3gint.transbank.cl"),
		CommerceCode: config.GetEnv("WEBPAY_COMMERCE_CODE", "597055555532"),
		APIKey:       config.GetEnv("WEBPAY_API_KEY", ""),
		Timeout:      config.GetDurationEnv("WEBPAY_TIMEOUT", 0),
		MaxRetries:   config.GetIntEnv("WEBPAY_MAX_RETRIES", 0),
	})

	ledgerService := ledger.NewService(db)
	paymentService := payment.NewService(paymentRepo)
	engine := reconciliation.NewService(
		db,
		gatewayClient,
		ledgerService,
		paymentService,
		gatewayTxRepo,
		userRepo,
		notification.NewService(),
		reconciliation.Config{
			ReturnURL: config.GetEnv("WEBPAY_RETURN_URL", "http://localhost:3000/wallet/public/deposit/return"),
		},
	)

	var balanceCache wallet.BalanceCache
	if repositories.CacheService != nil {
		balanceCache = repositories.CacheService
	}
	walletService := wallet.NewService(db, ledgerService, paymentService, engine, balanceCache, nil)

	authService := auth.NewService(userRepo)
	authHandler := handlers.NewAuthHandler(authService)
	walletHandler := handlers.NewWalletHandler(walletService)

	app.Get("/health", handlers.HealthCheck)

	// The gateway redirects the user's browser here; no auth possible
	app.Post("/wallet/public/deposit/return", walletHandler.DepositReturn)
	app.Get("/wallet/public/deposit/return", walletHandler.DepositReturn)

	api := app.Group("/api")
	api.Post("/register", authHandler.Register)
	api.Post("/login", authHandler.Login)
	api.Post("/refresh", authHandler.Refresh)

	authMiddleware := middleware.NewAuthMiddleware(authService)
	protected := api.Use(authMiddleware.Handler)

	walletGroup := protected.Group("/wallet")
	walletGroup.Get("/", walletHandler.GetWallet)
	walletGroup.Get("/balance", walletHandler.GetBalance)
	walletGroup.Get("/transactions", walletHandler.GetTransactions)
	walletGroup.Post("/deposit/init", walletHandler.InitDeposit)
	walletGroup.Post("/deposit/confirm", walletHandler.ConfirmDeposit)
	walletGroup.Post("/payment", walletHandler.MakePayment)

	admin := protected.Group("/admin", middleware.RequireAdmin)
	admin.Post("/payments/:id/refund", walletHandler.RefundDeposit)
}
