package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"marketpay/internal/auth"
	"marketpay/internal/config"
	"marketpay/internal/ledger"
	"marketpay/internal/notification"
	"marketpay/internal/order"
	"marketpay/internal/payment"
	"marketpay/internal/processor"
	"marketpay/internal/user"
	"marketpay/internal/wire"
)

type Server struct {
	router        *gin.Engine
	httpServer    *http.Server
	db            *sqlx.DB
	config        *config.Config
	notifications *notification.Service
}

func New(db *sqlx.DB, cfg *config.Config, notifications *notification.Service) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLoggingMiddleware())
	router.Use(corsMiddleware())
	router.Use(MetricsMiddleware())

	ledgerRepo := ledger.NewRepository(db)
	userRepo := user.NewRepository(db)
	orderRepo := order.NewRepository(db)

	gateway := processor.NewClient(cfg.ProcessorAPIBase, cfg.ProcessorSecretKey)
	wireService := wire.NewService(ledgerRepo, userRepo, gateway, cfg.ProcessorSystemCustomer, cfg.ProcessorTestEmail)
	paymentService := payment.NewService(orderRepo, ledgerRepo, notifications, cfg.FrontendDomain)

	wireHandler := wire.NewHandler(wireService)
	paymentHandler := payment.NewHandler(paymentService, wireService, ledgerRepo, cfg.ProcessorWebhookSecret)
	userHandler := user.NewHandler(userRepo, cfg.JWTSecret)

	router.GET("/health", Health)
	router.GET("/metrics", Metrics())
	SetupSwagger(router)

	// Webhook deliveries authenticate by signature, not by bearer token.
	webhooks := router.Group("/webhooks")
	webhooks.Use(RateLimitMiddleware(50, 100))
	{
		webhooks.POST("/processor", paymentHandler.HandleWebhook)
	}

	public := router.Group("/auth")
	public.Use(RateLimitMiddleware(5, 10))
	{
		public.POST("/login", userHandler.Login)
	}

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)
	protected := router.Group("/")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", userHandler.GetMe)
		protected.GET("/balance", wireHandler.GetBalance)
		protected.GET("/payments/ach-source", wireHandler.GetACHSource)
	}

	adminMiddleware := auth.RequireRole("admin")
	admin := router.Group("/admin/wire")
	admin.Use(authMiddleware, adminMiddleware)
	{
		admin.GET("/transactions", wireHandler.ListTransactions)
		admin.POST("/transactions/refresh", wireHandler.RefreshTransactions)
		admin.POST("/transactions/sync", wireHandler.SyncTransactions)
		admin.POST("/transactions/:transactionID/assign", wireHandler.AssignTransaction)
		admin.GET("/users", wireHandler.ListUsers)
		admin.GET("/bank-accounts", wireHandler.ListBankAccounts)
		admin.POST("/bank-accounts", wireHandler.CreateBankAccount)
		admin.GET("/bank-accounts/session", wireHandler.CreateBankAccountSession)
	}

	router.GET("/test-notification", TestNotification(notifications))

	return &Server{
		router:        router,
		db:            db,
		config:        cfg,
		notifications: notifications,
	}
}

func (s *Server) Start(port string) error {
	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
