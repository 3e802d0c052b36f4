package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/auth"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/query"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/repository"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/service"
)

// Services groups the business services the handlers delegate to.
type Services struct {
	Products *service.ProductService
	Orders   *service.OrderService
	Payments *service.PaymentService
	Users    *service.UserService
	Auth     *service.AuthService
}

// Handlers holds all HTTP handlers for the storefront API.
type Handlers struct {
	products *service.ProductService
	orders   *service.OrderService
	payments *service.PaymentService
	users    *service.UserService
	auth     *service.AuthService
	store    repository.Store
	config   *config.Config
	logger   *logging.LoggerV2
}

// NewHandlers creates a new handlers instance.
func NewHandlers(svc Services, store repository.Store, cfg *config.Config) *Handlers {
	return &Handlers{
		products: svc.Products,
		orders:   svc.Orders,
		payments: svc.Payments,
		users:    svc.Users,
		auth:     svc.Auth,
		store:    store,
		config:   cfg,
		logger:   logging.NewLoggerV2("handlers"),
	}
}

// bindJSON decodes the request body and answers 400 when it is malformed.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
		return false
	}
	return true
}

// caller returns the identity set by the auth middleware. Routes that call
// it are always mounted behind Authenticate.
func caller(c *gin.Context) auth.Identity {
	id, _ := middleware.IdentityFrom(c)
	return id
}

func pageBody[T any](key string, page *query.Page[T]) gin.H {
	items := page.Items
	if items == nil {
		items = []T{}
	}
	return gin.H{
		key:     items,
		"page":  page.Page,
		"pages": page.Pages,
		"total": page.Total,
	}
}

func handleError(c *gin.Context, err error) {
	if verr, ok := apperrors.IsValidation(err); ok {
		body := gin.H{"message": verr.Message}
		if len(verr.Details) > 0 {
			body["errors"] = verr.Details
		}
		c.JSON(http.StatusBadRequest, body)
		return
	}

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
	case errors.Is(err, apperrors.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"message": err.Error()})
	case errors.Is(err, apperrors.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
	default:
		logging.NewLoggerV2("handlers").Error("Request failed", logging.Fields{
			"request_id": middleware.RequestIDFromContext(c.Request.Context()),
			"path":       c.Request.URL.Path,
			"error":      err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"message": "Server error",
			"error":   err.Error(),
		})
	}
}
