package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/auth"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/query"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrOrderAlreadyPaid is returned when payment is recorded twice.
	ErrOrderAlreadyPaid = apperrors.BadRequest("Order is already paid")

	// ErrOrderAlreadyDelivered is returned when delivery is recorded twice.
	ErrOrderAlreadyDelivered = apperrors.BadRequest("Order is already delivered")
)

// OrderService handles checkout and order reads.
type OrderService struct {
	orders         repository.OrderRepository
	products       repository.ProductRepository
	users          repository.UserRepository
	productService *ProductService
	eventPublisher OrderEventPublisher
	metrics        *metrics.Recorder
	now            func() time.Time
	logger         *logging.LoggerV2
}

// NewOrderService creates a new order service.
func NewOrderService(
	store repository.Store,
	productService *ProductService,
	eventPublisher OrderEventPublisher,
	recorder *metrics.Recorder,
) *OrderService {
	if eventPublisher == nil {
		eventPublisher = NoopPublisher{}
	}
	return &OrderService{
		orders:         store.Orders(),
		products:       store.Products(),
		users:          store.Users(),
		productService: productService,
		eventPublisher: eventPublisher,
		metrics:        recorder,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logging.NewLoggerV2("order-service"),
	}
}

// CreateOrder checks stock for every line, snapshots the products into the
// order and reserves the stock atomically with the insert.
func (s *OrderService) CreateOrder(ctx context.Context, caller auth.Identity, req *models.CreateOrderRequest) (*models.Order, error) {
	s.logger.Info("Creating order", logging.Fields{
		"user_id":    caller.UserID.Hex(),
		"item_count": len(req.OrderItems),
	})

	if err := ValidateCreateOrderRequest(req); err != nil {
		return nil, err
	}

	ids := make([]primitive.ObjectID, len(req.OrderItems))
	for i, item := range req.OrderItems {
		id, err := primitive.ObjectIDFromHex(item.Product)
		if err != nil {
			return nil, apperrors.NotFoundf("Product %s not found", item.Product)
		}
		ids[i] = id
	}

	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Quantities are summed per product so repeated lines cannot
	// together exceed the stock. The running total never exceeds
	// CountInStock, so the comparison cannot overflow.
	wanted := make(map[primitive.ObjectID]int, len(ids))
	items := make([]models.OrderItem, len(req.OrderItems))
	for i, item := range req.OrderItems {
		p, ok := products[ids[i]]
		if !ok {
			return nil, apperrors.NotFoundf("Product %s not found", item.Product)
		}
		if item.Quantity > p.CountInStock-wanted[p.ID] {
			return nil, insufficientStock(p)
		}
		wanted[p.ID] += item.Quantity
		items[i] = models.OrderItem{
			Product:  p.ID,
			Name:     p.Name,
			Quantity: item.Quantity,
			Price:    p.Price,
			ImageURL: p.ImageURL,
		}
	}

	now := s.now()
	order := &models.Order{
		User:            caller.UserID,
		OrderItems:      items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		TaxPrice:        req.TaxPrice,
		ShippingPrice:   req.ShippingPrice,
		TotalPrice:      req.TotalPrice,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	total := CalculateOrderTotal(order.ItemsPrice(), order.TaxPrice, order.ShippingPrice)
	if !total.MatchesTotal(order.TotalPrice) {
		s.logger.Warn("Submitted total differs from item prices", logging.Fields{
			"user_id":        caller.UserID.Hex(),
			"submitted":      order.TotalPrice,
			"computed_total": total.Total,
		})
	}

	lines := make([]repository.StockLine, 0, len(wanted))
	for _, id := range ids {
		if q, ok := wanted[id]; ok {
			lines = append(lines, repository.StockLine{ProductID: id, Quantity: q})
			delete(wanted, id)
		}
	}

	if err := s.orders.Place(ctx, order, lines); err != nil {
		var conflict *repository.StockConflictError
		if errors.As(err, &conflict) {
			s.metrics.StockConflict()
			return nil, s.stockConflict(ctx, conflict, products)
		}
		s.logger.Error("Failed to place order", logging.Fields{
			"user_id": caller.UserID.Hex(),
			"error":   err.Error(),
		})
		return nil, err
	}

	productIDs := make([]primitive.ObjectID, len(lines))
	for i, line := range lines {
		productIDs[i] = line.ProductID
	}
	if s.productService != nil {
		s.productService.Invalidate(ctx, productIDs...)
	}

	if err := s.eventPublisher.PublishOrderCreated(ctx, order); err != nil {
		// Log but don't fail
		s.logger.Error("Failed to publish order created event", logging.Fields{
			"order_id": order.ID.Hex(),
			"error":    err.Error(),
		})
	}
	s.metrics.OrderPlaced(string(order.PaymentMethod), total.Items)

	s.logger.Info("Order created successfully", logging.Fields{
		"order_id": order.ID.Hex(),
		"total":    order.TotalPrice,
	})
	return order, nil
}

func insufficientStock(p *models.Product) error {
	return apperrors.BadRequest(fmt.Sprintf("Insufficient stock for %s. Available: %d", p.Name, p.CountInStock))
}

// stockConflict reports a reservation that lost a race with another order,
// using the stock left after that order.
func (s *OrderService) stockConflict(ctx context.Context, conflict *repository.StockConflictError, checked map[primitive.ObjectID]*models.Product) error {
	s.logger.Warn("Stock changed during reservation", logging.Fields{
		"product_id": conflict.ProductID.Hex(),
		"requested":  conflict.Requested,
	})
	p, err := s.products.GetByID(ctx, conflict.ProductID)
	if err != nil {
		if old, ok := checked[conflict.ProductID]; ok {
			return apperrors.BadRequest(fmt.Sprintf("Insufficient stock for %s", old.Name))
		}
		return apperrors.BadRequest("Insufficient stock")
	}
	return insufficientStock(p)
}

// GetOrder returns an order with its owner and live products expanded.
// Only the owner or an admin may read it.
func (s *OrderService) GetOrder(ctx context.Context, caller auth.Identity, id string) (*models.OrderDetail, error) {
	s.logger.Debug("Getting order", logging.Fields{"order_id": id})

	order, err := s.getOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(order.User) {
		return nil, apperrors.Forbidden("Not authorized to view this order")
	}

	details, err := s.expand(ctx, []*models.Order{order})
	if err != nil {
		return nil, err
	}
	return details[0], nil
}

func (s *OrderService) getOrder(ctx context.Context, id string) (*models.Order, error) {
	oid, err := repository.ParseID(id, "Order")
	if err != nil {
		return nil, err
	}
	return s.orders.GetByID(ctx, oid)
}

// MarkDelivered records delivery. Admin only; payment state is not
// checked.
func (s *OrderService) MarkDelivered(ctx context.Context, caller auth.Identity, id string) (*models.Order, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.Forbidden("Not authorized as an admin")
	}
	oid, err := repository.ParseID(id, "Order")
	if err != nil {
		return nil, err
	}

	order, err := s.orders.MarkDelivered(ctx, oid, s.now())
	if errors.Is(err, repository.ErrAlreadyApplied) {
		return nil, ErrOrderAlreadyDelivered
	}
	if err != nil {
		return nil, err
	}

	if err := s.eventPublisher.PublishOrderDelivered(ctx, order); err != nil {
		s.logger.Error("Failed to publish order delivered event", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
	}
	s.metrics.OrderTransition("delivered")

	s.logger.Info("Order delivered", logging.Fields{"order_id": id})
	return order, nil
}

// GetMyOrders returns every order placed by the caller, newest first.
func (s *OrderService) GetMyOrders(ctx context.Context, caller auth.Identity) ([]*models.OrderDetail, error) {
	orders, err := s.orders.Find(ctx, query.Filter{}.Where(query.Eq("user", caller.UserID)), query.FindOptions{
		Sort: query.NewestFirst,
	})
	if err != nil {
		return nil, err
	}
	return s.expand(ctx, orders)
}

// ListOrders returns one page of all orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, params query.Params) (*query.Page[*models.OrderDetail], error) {
	req := query.PageRequestFrom(params, query.DefaultPageSize)
	page, err := query.Paginate[*models.Order](ctx, s.orders, query.Filter{}, query.NewestFirst, req)
	if err != nil {
		return nil, err
	}

	details, err := s.expand(ctx, page.Items)
	if err != nil {
		return nil, err
	}
	return &query.Page[*models.OrderDetail]{
		Items: details,
		Page:  page.Page,
		Pages: page.Pages,
		Total: page.Total,
	}, nil
}

// expand loads the owners and live products referenced by orders in two
// lookups and builds the read models.
func (s *OrderService) expand(ctx context.Context, orders []*models.Order) ([]*models.OrderDetail, error) {
	details := make([]*models.OrderDetail, 0, len(orders))
	if len(orders) == 0 {
		return details, nil
	}

	seenProducts := make(map[primitive.ObjectID]bool)
	seenUsers := make(map[primitive.ObjectID]bool)
	productIDs := make([]primitive.ObjectID, 0)
	userConds := make([]query.Condition, 0)
	for _, o := range orders {
		if !seenUsers[o.User] {
			seenUsers[o.User] = true
			userConds = append(userConds, query.Eq("_id", o.User))
		}
		for _, item := range o.OrderItems {
			if !seenProducts[item.Product] {
				seenProducts[item.Product] = true
				productIDs = append(productIDs, item.Product)
			}
		}
	}

	products, err := s.products.GetByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	owners := make(map[primitive.ObjectID]*models.UserSummary, len(userConds))
	users, err := s.users.Find(ctx, query.Filter{}.Where(userConds...), query.FindOptions{})
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		owners[u.ID] = u.Summary()
	}

	for _, o := range orders {
		details = append(details, models.NewOrderDetail(o, owners[o.User], products))
	}
	return details, nil
}
