package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/auth"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/repository"
)

// recordingPublisher keeps the event types it was asked to publish.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *recordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return p.err
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	return p.record("order.created")
}

func (p *recordingPublisher) PublishOrderPaid(ctx context.Context, order *models.Order) error {
	return p.record("order.paid")
}

func (p *recordingPublisher) PublishOrderDelivered(ctx context.Context, order *models.Order) error {
	return p.record("order.delivered")
}

// params is a query.Params backed by a plain map.
type params map[string]string

func (p params) Get(key string) string { return p[key] }

type fixture struct {
	store     *repository.MemoryStore
	products  *ProductService
	orders    *OrderService
	payments  *PaymentService
	users     *UserService
	publisher *recordingPublisher
	admin     auth.Identity
	customer  auth.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	publisher := &recordingPublisher{}
	products := NewProductService(store.Products(), nil, nil)

	f := &fixture{
		store:     store,
		products:  products,
		orders:    NewOrderService(store, products, publisher, nil),
		payments:  NewPaymentService(store.Orders(), publisher, nil),
		users:     NewUserService(store.Users()),
		publisher: publisher,
	}
	f.admin = auth.IdentityOf(f.seedUser(t, "Admin", "admin@example.com", models.RoleAdmin))
	f.customer = auth.IdentityOf(f.seedUser(t, "Jane", "jane@example.com", models.RoleUser))
	return f
}

func (f *fixture) seedUser(t *testing.T, name, email string, role models.Role) *models.User {
	t.Helper()
	u, err := f.users.CreateUser(context.Background(), &models.CreateUserRequest{
		Name:     name,
		Email:    email,
		Password: "secret1",
		Role:     role,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) seedProduct(t *testing.T, name string, price float64, stock int) *models.Product {
	t.Helper()
	now := time.Now().UTC()
	p := &models.Product{
		Name:         name,
		Description:  name + " description",
		Price:        price,
		Category:     "Electronics",
		Brand:        "Acme",
		CountInStock: stock,
		ImageURL:     "/images/" + name + ".jpg",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.store.Products().Create(context.Background(), p))
	return p
}

func (f *fixture) stock(t *testing.T, p *models.Product) int {
	t.Helper()
	got, err := f.store.Products().GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	return got.CountInStock
}

func orderRequest(items ...models.OrderItemRequest) *models.CreateOrderRequest {
	return &models.CreateOrderRequest{
		OrderItems: items,
		ShippingAddress: models.ShippingAddress{
			Address:    "1 Main St",
			City:       "Springfield",
			PostalCode: "12345",
			Country:    "US",
		},
		PaymentMethod: models.PaymentMethodPayPal,
	}
}

func item(p *models.Product, quantity int) models.OrderItemRequest {
	return models.OrderItemRequest{Product: p.ID.Hex(), Quantity: quantity, Price: p.Price}
}

var errBroker = errors.New("broker unavailable")
