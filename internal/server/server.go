package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/auth"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/middleware"
)

// Options carries the collaborators the router needs besides the handlers.
// RateLimiter is optional; auth routes are unthrottled without it.
type Options struct {
	Tokens      *auth.TokenManager
	Users       middleware.UserLookup
	Metrics     *metrics.Recorder
	RateLimiter middleware.Counter
}

type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	handlers   *handlers.Handlers
	opts       Options
	logger     *logging.LoggerV2
}

func New(cfg *config.Config, h *handlers.Handlers, opts Options) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	s := &Server{
		config:   cfg,
		router:   router,
		handlers: h,
		opts:     opts,
		logger:   logging.NewLoggerV2("http-server"),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestLogger(logging.NewLoggerV2("http")))
	s.router.Use(gin.CustomRecovery(s.handlePanic))
	s.router.Use(cors.New(s.corsConfig()))
	if s.opts.Metrics != nil {
		s.router.Use(s.opts.Metrics.Middleware())
	}
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", middleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	origins := s.config.Server.AllowedOrigins
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

// handlePanic answers a panic with 500. The stack is only exposed outside
// production.
func (s *Server) handlePanic(c *gin.Context, rec interface{}) {
	stack := string(debug.Stack())
	s.logger.Error("Panic recovered", logging.Fields{
		"request_id": middleware.RequestIDFromContext(c.Request.Context()),
		"path":       c.Request.URL.Path,
		"panic":      fmt.Sprint(rec),
		"stack":      stack,
	})

	body := gin.H{"message": "Server error", "error": fmt.Sprint(rec)}
	if !s.config.IsProduction() {
		body["stack"] = stack
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, body)
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.Health)
	s.router.GET("/ready", h.Ready)
	s.router.GET("/live", h.Live)
	s.router.GET("/version", h.Version)
	s.router.GET("/docs", handlers.Docs(s.router.Routes))
	if s.opts.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	authenticated := middleware.Authenticate(s.opts.Tokens, s.opts.Users)
	admin := middleware.RequireAdmin()

	api := s.router.Group("/api")

	products := api.Group("/products")
	{
		products.GET("", h.ListProducts)
		products.GET("/top/rated", h.TopRatedProducts)
		products.GET("/categories/all", h.ProductCategories)
		products.GET("/export", authenticated, admin, h.ExportProducts)
		products.GET("/:id", h.GetProduct)
		products.POST("", authenticated, admin, h.CreateProduct)
		products.PUT("/:id", authenticated, admin, h.UpdateProduct)
		products.DELETE("/:id", authenticated, admin, h.DeleteProduct)
	}

	orders := api.Group("/orders", authenticated)
	{
		orders.POST("", h.CreateOrder)
		orders.GET("", admin, h.ListOrders)
		orders.GET("/my/orders", h.MyOrders)
		orders.GET("/:id", h.GetOrder)
		orders.PUT("/:id/pay", h.PayOrder)
		orders.PUT("/:id/deliver", admin, h.DeliverOrder)
	}

	users := api.Group("/admin/users", authenticated, admin)
	{
		users.GET("", h.ListUsers)
		users.GET("/stats/overview", h.UserStats)
		users.GET("/:id", h.GetUser)
		users.POST("", h.CreateUser)
		users.PUT("/:id", h.UpdateUser)
		users.DELETE("/:id", h.DeleteUser)
	}

	authRoutes := api.Group("/auth")
	{
		register := []gin.HandlerFunc{h.Register}
		login := []gin.HandlerFunc{h.Login}
		if s.opts.RateLimiter != nil {
			limit := s.config.RateLimit
			register = append([]gin.HandlerFunc{middleware.RateLimit(s.opts.RateLimiter, "register", limit.Requests, limit.Window)}, register...)
			login = append([]gin.HandlerFunc{middleware.RateLimit(s.opts.RateLimiter, "login", limit.Requests, limit.Window)}, login...)
		}
		authRoutes.POST("/register", register...)
		authRoutes.POST("/login", login...)
		authRoutes.GET("/profile", authenticated, h.Profile)
		authRoutes.PUT("/profile", authenticated, h.UpdateProfile)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Not Found - " + c.Request.URL.Path})
	})
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting server", logging.Fields{"addr": s.httpServer.Addr})
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
