package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/handlers"
	"storefront/internal/jobs"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/middleware"
	"storefront/internal/notify"
	"storefront/internal/orders"
	"storefront/internal/payments"
)

type closablePublisher interface {
	orders.EventPublisher
	Close() error
}

func main() {
	if err := config.Load(); err != nil {
		log.Fatal(err)
	}
	cfg := config.AppEnv

	logger, err := logging.Init(logging.Options{
		Mode:     cfg.LogMode,
		Level:    cfg.LogLevel,
		Filename: cfg.LogFile,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := database.Connect(cfg.MongoURI)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	db := client.Database(cfg.DBName)
	logger.Info("MongoDB connected", zap.String("db", db.Name()))

	if err := database.EnsureIndexes(ctx, db); err != nil {
		logger.Warn("index warning", zap.Error(err))
	}

	var sender notify.Sender = notify.NewLogSender(logger)
	if cfg.SMTPHost != "" {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	dispatcher, err := notify.NewDispatcher(sender, cfg.NotifyWorkers)
	if err != nil {
		return err
	}
	defer func() { _ = dispatcher.Close(5 * time.Second) }()

	var publisher closablePublisher = events.NewLogPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	defer func() { _ = publisher.Close() }()

	opts := []orders.Option{
		orders.WithLogger(logger),
		orders.WithNotifier(dispatcher),
		orders.WithEvents(publisher),
	}
	if cfg.StripeSecretKey != "" {
		gateway, err := payments.NewStripeGateway(cfg.StripeSecretKey)
		if err != nil {
			return err
		}
		opts = append(opts, orders.WithGateway(gateway))
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, card payments disabled")
	}
	if cfg.StripeWebhookSecret != "" {
		verifier, err := payments.NewWebhookVerifier(cfg.StripeWebhookSecret)
		if err != nil {
			return err
		}
		opts = append(opts, orders.WithVerifier(verifier))
	} else {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, payment webhooks will be rejected")
	}

	svc := orders.NewService(
		database.NewOrderStore(db, cfg.TxMaxAttempts),
		orders.Pricing{TaxRate: cfg.TaxRate, ShippingPrice: cfg.ShippingPrice, Currency: cfg.Currency},
		opts...,
	)

	scheduler := jobs.NewScheduler()
	if err := scheduler.AddStaleOrderSweep(cfg.SweepSchedule, cfg.PendingOrderTTL, svc); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, db, svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		scheduler.Stop(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(cfg config.Config, db *mongo.Database, svc *orders.Service, logger *zap.Logger) *gin.Engine {
	if cfg.LogMode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens := handlers.TokenConfig{
		Secret:     cfg.JWTSecret,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger), metrics.HTTP())

	r.GET("/healthz", handlers.Healthz(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/auth/register", handlers.Register(db))
	r.POST("/auth/login", handlers.Login(db, tokens))
	r.GET("/auth/me", middleware.UserAuth(cfg.JWTSecret), handlers.GetMe(db))
	r.POST("/auth/refresh", handlers.Refresh(db, tokens))
	r.POST("/auth/logout", handlers.Logout(db))

	r.POST("/admin/login", handlers.AdminLogin(db, tokens))

	r.GET("/products", handlers.GetProducts(db))
	r.GET("/products/:id", handlers.GetProduct(db))
	r.GET("/categories", handlers.GetCategories(db))

	r.POST("/webhooks/payments", handlers.PaymentWebhook(svc))

	anyRole := middleware.UserAuth(cfg.JWTSecret)
	user := r.Group("/orders")
	{
		user.POST("", middleware.CustomerAuth(cfg.JWTSecret),
			middleware.RateLimitPerActor(cfg.CheckoutRatePerMin), handlers.CreateOrder(svc))
		user.GET("/mine", anyRole, handlers.GetMyOrders(svc))
		user.GET("/:id", anyRole, handlers.GetOrder(svc))
		user.POST("/:id/pay", anyRole, handlers.PayOrder(svc))
	}

	admin := r.Group("/admin/api")
	admin.Use(middleware.AdminAuth(cfg.JWTSecret))
	{
		admin.POST("/products", handlers.CreateProduct(db))
		admin.PUT("/products/:id", handlers.UpdateProduct(db))
		admin.DELETE("/products/:id", handlers.DeleteProduct(db))

		admin.POST("/categories", handlers.CreateCategory(db))

		admin.POST("/agents", handlers.CreateDeliveryAgent(db))

		admin.PUT("/orders/:id/status", handlers.UpdateOrderStatus(svc, "PUT /admin/api/orders/:id/status"))
		admin.PUT("/orders/:id/agent", handlers.AssignDeliveryAgent(svc))
	}

	delivery := r.Group("/delivery")
	delivery.Use(middleware.DeliveryAuth(cfg.JWTSecret))
	{
		delivery.GET("/orders", handlers.GetDeliveryOrders(svc))
		delivery.PUT("/orders/:id/status", handlers.UpdateOrderStatus(svc, "PUT /delivery/orders/:id/status"))
	}

	return r
}
