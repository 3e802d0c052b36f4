package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
)

// CreateOrder handles POST /api/orders
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), caller(c), &req)
	if err != nil {
		h.logger.Debug("Order rejected", logging.Fields{
			"user_id": caller(c).UserID.Hex(),
			"error":   err.Error(),
		})
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// GetOrder handles GET /api/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// PayOrder handles PUT /api/orders/:id/pay
func (h *Handlers) PayOrder(c *gin.Context) {
	var req models.PayOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.payments.PayOrder(c.Request.Context(), caller(c), c.Param("id"), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// DeliverOrder handles PUT /api/orders/:id/deliver
func (h *Handlers) DeliverOrder(c *gin.Context) {
	order, err := h.orders.MarkDelivered(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// MyOrders handles GET /api/orders/my/orders
func (h *Handlers) MyOrders(c *gin.Context) {
	orders, err := h.orders.GetMyOrders(c.Request.Context(), caller(c))
	if err != nil {
		handleError(c, err)
		return
	}
	if orders == nil {
		orders = []*models.OrderDetail{}
	}
	c.JSON(http.StatusOK, orders)
}

// ListOrders handles GET /api/orders
func (h *Handlers) ListOrders(c *gin.Context) {
	page, err := h.orders.ListOrders(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, pageBody("orders", page))
}
