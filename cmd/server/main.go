package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/describemusic/backend/internal/config"
	"github.com/describemusic/backend/internal/domain"
	"github.com/describemusic/backend/internal/handler"
	appMiddleware "github.com/describemusic/backend/internal/middleware"
	"github.com/describemusic/backend/internal/repository"
	"github.com/describemusic/backend/internal/service"
	"github.com/describemusic/backend/internal/ws"
	"github.com/describemusic/backend/pkg/crypto"
	"github.com/describemusic/backend/pkg/payment"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if present (for local development)
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	ctx := context.Background()

	// Initialize database
	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Database error: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := repository.RunMigrations(ctx, db); err != nil {
		log.Fatalf("❌ Migration error: %v", err)
	}
	log.Println("✅ Database connected & migrated")

	// Initialize encryptor (seals retained webhook payloads)
	enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("❌ Encryption error: %v", err)
	}

	// Plan catalog: static variant → plan/credits mapping
	catalog := domain.NewPlanCatalog(cfg.BasicVariantID, cfg.ProVariantID, cfg.PremiumVariantID)

	// Payment gateway
	var gateway payment.Gateway
	if cfg.LemonSqueezyAPIKey != "" {
		gateway = payment.NewLemonSqueezy(cfg.LemonSqueezyAPIKey, cfg.LemonSqueezyStoreID, cfg.LemonSqueezyWebhookSecret)
		log.Println("✅ Lemon Squeezy gateway configured")
	} else {
		gateway = payment.NewMockGateway()
		log.Println("⚠️  LEMONSQUEEZY_API_KEY not set, using mock gateway (checkouts are fake)")
	}

	// Repositories & services
	userRepo := repository.NewUserRepository(db)
	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.AdminEmail, cfg.AdminPassword, userRepo)

	// Seed admin user on first startup
	if err := authSvc.SeedAdmin(ctx); err != nil {
		log.Fatalf("❌ Admin seed error: %v", err)
	}

	billingRepo := repository.NewBillingRepository(db, enc)
	feedHandler := ws.NewFeedHandler(authSvc)
	billingSvc := service.NewBillingService(billingRepo, catalog, feedHandler)
	subSvc := service.NewSubscriptionService(billingRepo, gateway, catalog)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authSvc)
	healthHandler := handler.NewHealthHandler(db)
	userHandler := handler.NewUserHandler(authSvc)
	webhookHandler := handler.NewWebhookHandler(gateway, billingSvc)
	plansHandler := handler.NewPlansHandler(catalog)
	paymentHandler := handler.NewPaymentHandler(subSvc)
	adminHandler := handler.NewAdminHandler(db, billingRepo, authSvc)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(20, 40)
	r.Use(globalRL.Middleware())

	// Health check and public routes (no auth — the webhook authenticates
	// with its signature, not a bearer token)
	r.Get("/health", healthHandler.Check)
	r.Get("/api/plans", plansHandler.List)
	r.Post("/api/payment/webhook", webhookHandler.HandleLemonSqueezy)

	// Auth routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.StrictRateLimiter())
		r.Post("/api/auth/login", authHandler.Login)
	})

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(authSvc))

		r.Get("/api/auth/me", authHandler.Me)

		// Payment / subscription
		r.Post("/api/payment/checkout", paymentHandler.CreateCheckout)
		r.Get("/api/payment/subscription", paymentHandler.GetSubscription)
		r.Get("/api/payment/credits", paymentHandler.GetCredits)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AdminOnly)
			r.Get("/api/admin/stats", adminHandler.GetStats)
			r.Get("/api/admin/users", adminHandler.ListUsers)
			r.Get("/api/admin/billing/events", adminHandler.ListBillingEvents)
			r.Get("/api/admin/billing/events/{id}/payload", adminHandler.GetBillingEventPayload)
			r.Get("/api/admin/billing/payments", adminHandler.ListPayments)
			r.Get("/api/users", userHandler.List)
			r.Post("/api/users", userHandler.Create)
			r.Delete("/api/users/{id}", userHandler.Delete)
		})
	})

	// WebSocket billing feed (auth via query param)
	r.HandleFunc("/api/admin/billing/feed", feedHandler.Handle)

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// WriteTimeout must be 0 for WebSocket connections (they are long-lived)
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("🛑 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("🚀 describemusic backend listening at http://%s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("❌ Server error: %v", err)
	}
}
