package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/openvenue/venue-core/internal/auth"
	"github.com/openvenue/venue-core/internal/database"
	"github.com/openvenue/venue-core/internal/engine"
	"github.com/openvenue/venue-core/internal/ledger"
	"github.com/openvenue/venue-core/internal/notify"
	"github.com/openvenue/venue-core/internal/orderbook"
	"github.com/openvenue/venue-core/internal/pairs"
	"github.com/openvenue/venue-core/internal/settlement"
	"github.com/openvenue/venue-core/pkg/config"
	"github.com/openvenue/venue-core/pkg/logging"
	"github.com/openvenue/venue-core/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// main initializes and runs the trading venue API server with graceful
// shutdown support. It sets up all required services, the database
// connection, the background settlement processor and the API routes.
func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			zlog.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
		}
		cfg = loaded
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.File)

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	hub := notify.NewHub()

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	pairsService := pairs.NewService(db)
	pairsHandlers := pairs.NewGinHandlers(pairsService)

	bookService := orderbook.NewService(db)
	bookHandlers := orderbook.NewGinHandlers(bookService)

	recorder := settlement.NewRecorder(db, hub, cfg.Engine.SettlementRetries)
	engineService := engine.NewService(db, bookService, recorder, hub)
	engineHandlers := engine.NewGinHandlers(engineService)

	// Create and start the settlement processor
	processor := settlement.NewProcessor(db, engineService, cfg.SweepInterval())
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go processor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg, hub, authHandlers, ledgerHandlers, pairsHandlers, bookHandlers, engineHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers.
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Market data routes: Public read-only book and pair endpoints
// - Order and balance routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	hub *notify.Hub,
	authHandlers *auth.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	pairsHandlers *pairs.GinHandlers,
	bookHandlers *orderbook.GinHandlers,
	engineHandlers *engine.GinHandlers,
) {
	router.GET("/ws", hub.Handler())

	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Market data routes (public)
		pairsGroup := v1.Group("/pairs")
		{
			pairsGroup.GET("", pairsHandlers.ListPairsHandler())
			pairsGroup.GET("/:pair_id", pairsHandlers.GetPairHandler())
			pairsGroup.GET("/:pair_id/trades", pairsHandlers.RecentTradesHandler())
			pairsGroup.GET("/:pair_id/book", bookHandlers.GetBookHandler())
			pairsGroup.GET("/:pair_id/depth", bookHandlers.GetDepthHandler())
			pairsGroup.GET("/:pair_id/spread", bookHandlers.GetSpreadHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			orders.POST("/limit", engineHandlers.PlaceLimitOrderHandler())
			orders.POST("/market", engineHandlers.PlaceMarketOrderHandler())
			orders.GET("", engineHandlers.GetOpenOrdersHandler())
			orders.GET("/:order_id", engineHandlers.GetOrderHandler())
			orders.DELETE("/:order_id", engineHandlers.CancelOrderHandler())
		}

		// Balance routes
		balances := v1.Group("/balances")
		balances.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
		{
			balances.GET("", ledgerHandlers.GetBalancesHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.Auth.JWTSecret))
		{
			internal.POST("/pairs", pairsHandlers.CreatePairHandler())
			internal.POST("/currencies", pairsHandlers.UpsertCurrencyHandler())
			internal.POST("/deposits", ledgerHandlers.DepositHandler())
		}
	}
}
