package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront/internal/auth"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/events"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/repository"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/server"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/service"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()
	logging.Configure(cfg.LogLevel, cfg.LogFormat)

	logger := logging.NewLoggerV2("storefront")
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", logging.Fields{
			"environment": cfg.Environment,
			"error":       err.Error(),
		})
	}
	logging.Infof("Starting storefront on port %d", cfg.Server.Port)

	store, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", logging.Fields{
			"driver": cfg.Store.Driver,
			"error":  err.Error(),
		})
	}

	recorder := metrics.New()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	var (
		productCache repository.ProductCache
		rateLimiter  middleware.Counter
	)
	if cfg.Features.EnableProductCaching || cfg.Features.EnableRateLimit {
		redisClient := repository.NewRedisClient(cfg.Redis)
		defer redisClient.Close()
		if cfg.Features.EnableProductCaching {
			productCache = repository.NewRedisProductCache(redisClient, cfg.Redis.TTL)
		}
		if cfg.Features.EnableRateLimit {
			rateLimiter = middleware.NewRedisCounter(redisClient)
		}
	}

	var eventPublisher service.OrderEventPublisher = service.NoopPublisher{}
	if cfg.Features.EnableOrderEvents {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka, recorder)
		defer kafkaPublisher.Close()
		eventPublisher = kafkaPublisher
	}

	productService := service.NewProductService(store.Products(), productCache, recorder)
	orderService := service.NewOrderService(store, productService, eventPublisher, recorder)
	paymentService := service.NewPaymentService(store.Orders(), eventPublisher, recorder)
	userService := service.NewUserService(store.Users())
	authService := service.NewAuthService(userService, tokens)

	h := handlers.NewHandlers(handlers.Services{
		Products: productService,
		Orders:   orderService,
		Payments: paymentService,
		Users:    userService,
		Auth:     authService,
	}, store, cfg)

	srv := server.New(cfg, h, server.Options{
		Tokens:      tokens,
		Users:       store.Users(),
		Metrics:     recorder,
		RateLimiter: rateLimiter,
	})

	go func() {
		logger.Info("Server starting", logging.Fields{
			"port":                   cfg.Server.Port,
			"store":                  cfg.Store.Driver,
			"environment":            cfg.Environment,
			"enable_product_caching": cfg.Features.EnableProductCaching,
			"enable_order_events":    cfg.Features.EnableOrderEvents,
			"enable_payment_events":  cfg.Features.EnablePaymentEvents,
			"enable_rate_limit":      cfg.Features.EnableRateLimit,
		})
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", logging.Fields{"error": err.Error()})
		}
	}()

	var eventConsumer *events.KafkaConsumer
	if cfg.Features.EnablePaymentEvents {
		eventConsumer = events.NewKafkaConsumer(cfg.Kafka, paymentService, recorder)
		go func() {
			if err := eventConsumer.Start(context.Background()); err != nil {
				logger.Error("Event consumer failed", logging.Fields{"error": err.Error()})
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if eventConsumer != nil {
		eventConsumer.Stop()
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", logging.Fields{"error": err.Error()})
	}
	if err := store.Close(ctx); err != nil {
		logger.Error("Failed to close store", logging.Fields{"error": err.Error()})
	}

	logger.Info("Server exited")
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.LoggerV2) (repository.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMongo:
		return repository.NewMongoStore(ctx, cfg.Mongo, logging.NewLoggerV2("mongo-store"))
	case config.StorePostgres:
		db, err := initDatabase(cfg)
		if err != nil {
			return nil, err
		}
		store := repository.NewPostgresStore(db, logging.NewLoggerV2("postgres-store"))
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	case config.StoreMemory:
		logger.Warn("Using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info("Database connected", logging.Fields{
		"host": cfg.Database.Host,
		"name": cfg.Database.Name,
	})
	return db, nil
}
