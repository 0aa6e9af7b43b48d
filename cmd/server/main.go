package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	"github.com/storelink/backend/docs"
	"github.com/storelink/backend/internal/audit"
	"github.com/storelink/backend/internal/consumer"
	"github.com/storelink/backend/internal/database"
	"github.com/storelink/backend/internal/handlers"
	"github.com/storelink/backend/internal/logger"
	mW "github.com/storelink/backend/internal/middleware"
	"github.com/storelink/backend/internal/notify"
	"github.com/storelink/backend/internal/orders"
	"github.com/storelink/backend/internal/services"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title StoreLink Partner Wallet API
// @version 1.0
// @description Partner wallet ledger, order payment and payout engine
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.format", "LOG_FORMAT")

	viper.BindEnv("wallet.currency", "WALLET_CURRENCY")
	viper.BindEnv("rabbitmq.url", "RABBITMQ_URL")
	viper.BindEnv("rabbitmq.queue", "RABBITMQ_QUEUE")
	viper.BindEnv("settlement.export_interval", "SETTLEMENT_EXPORT_INTERVAL")

	viper.SetDefault("wallet.currency", "USD")
	viper.SetDefault("rabbitmq.queue", "wallet_decisions")
	viper.SetDefault("settlement.export_interval", 5*time.Minute)

	log := logger.New()

	if err := viper.ReadInConfig(); err != nil {
		log.Warnf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "StoreLink Partner Wallet API"
	docs.SwaggerInfo.Description = "Partner wallet ledger, order payment and payout engine"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize infrastructure
	db := database.InitDatabase()
	defer db.Close()
	database.MigrateDatabase(db)

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	auditLog := audit.NewLogger(log)
	hub := notify.NewHub(redisClient, log)

	walletService := services.NewWalletService(db, log, auditLog, hub, viper.GetString("wallet.currency"))
	orderStore := orders.NewStore(db, log)
	paymentService := services.NewPaymentService(walletService, orderStore, auditLog, log, hub)
	payoutService := services.NewPayoutService(walletService, orderStore, auditLog, log, hub)
	reconciliationService := services.NewReconciliationService(walletService, orderStore, log)
	earningsService := services.NewEarningsService(orderStore, log)
	intakeService := services.NewIntakeService(walletService, redisClient, log)
	qrService := services.NewQRService(db, redisClient)
	qrHandler := handlers.NewQRHandler(qrService)
	settlementService := services.NewSettlementService(db, redisClient, log)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Back-office decision consumer is optional; the HTTP approve/reject
	// endpoints cover the same operations.
	if amqpURL := viper.GetString("rabbitmq.url"); amqpURL != "" {
		decisionConsumer, err := consumer.New(consumer.Config{
			URL:   amqpURL,
			Queue: viper.GetString("rabbitmq.queue"),
		}, log, intakeService)
		if err != nil {
			log.Errorf("Decision consumer unavailable: %v", err)
		} else {
			defer decisionConsumer.Close()
			go func() {
				if err := decisionConsumer.Start(rootCtx); err != nil {
					log.Errorf("Decision consumer stopped: %v", err)
				}
			}()
		}
	}

	// Periodic ISO 20022 export of approved withdrawals.
	if redisClient != nil {
		go func() {
			interval := viper.GetDuration("settlement.export_interval")
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-rootCtx.Done():
					return
				case <-ticker.C:
					if n, err := settlementService.ExportQueued(rootCtx); err != nil {
						log.Errorf("Settlement export failed: %v", err)
					} else if n > 0 {
						log.Infof("Exported %d withdrawal settlements", n)
					}
				}
			}
		}()
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/wallet/balance", walletService.HandleGetBalance)
			r.Get("/wallet/transactions", walletService.HandleListTransactions)
			r.Get("/wallet/earnings", earningsService.HandleEarnings)
			r.Post("/wallet/reconcile", reconciliationService.HandleReconcile)

			r.Post("/orders/{orderId}/pay", paymentService.HandlePayOrder)
			r.Post("/orders/{orderId}/payout", payoutService.HandlePayoutOrder)

			r.Post("/wallet/deposits", intakeService.HandleRequestDeposit)
			r.Post("/wallet/deposits/qr", qrHandler.GenerateDepositQR)
			r.Post("/wallet/deposits/qr/resolve", qrHandler.ResolveDepositQR)
			r.Post("/wallet/withdrawals", intakeService.HandleRequestWithdrawal)
			r.Post("/wallet/entries/{entryId}/approve", intakeService.HandleApprove)
			r.Post("/wallet/entries/{entryId}/reject", intakeService.HandleReject)

			r.Get("/wallet/ws", handlers.WalletWSHandler(hub, walletService, log))
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Infof("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server shutting down...")
	rootCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}
