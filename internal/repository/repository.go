package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrDuplicateEmail is returned when a user write collides with an
	// existing address.
	ErrDuplicateEmail = errors.New("user already exists")

	// ErrAlreadyApplied is returned by one-way transitions that were already
	// performed on the order.
	ErrAlreadyApplied = errors.New("transition already applied")

	// ErrInvalidQuantity rejects a stock line that would not decrement.
	ErrInvalidQuantity = errors.New("stock line quantity must be positive")
)

// StockConflictError reports a product whose stock could not cover the
// requested quantity when the reservation was attempted.
type StockConflictError struct {
	ProductID primitive.ObjectID
	Requested int
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s (requested %d)", e.ProductID.Hex(), e.Requested)
}

// StockLine is a quantity to reserve from one product.
type StockLine struct {
	ProductID primitive.ObjectID
	Quantity  int
}

func checkLines(lines []StockLine) error {
	for _, line := range lines {
		if line.Quantity <= 0 {
			return ErrInvalidQuantity
		}
	}
	return nil
}

type ProductRepository interface {
	Count(ctx context.Context, filter query.Filter) (int64, error)
	Find(ctx context.Context, filter query.Filter, opts query.FindOptions) ([]*models.Product, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Product, error)
	// GetByIDs returns the products that still exist, keyed by id.
	GetByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, product *models.Product) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	Categories(ctx context.Context) ([]string, error)
}

type OrderRepository interface {
	Count(ctx context.Context, filter query.Filter) (int64, error)
	Find(ctx context.Context, filter query.Filter, opts query.FindOptions) ([]*models.Order, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error)
	// Place decrements stock for every line and inserts the order. Either
	// all of it happens or none of it does. A line whose stock no longer
	// covers the quantity fails with *StockConflictError.
	Place(ctx context.Context, order *models.Order, lines []StockLine) error
	// MarkPaid records payment on an unpaid order. ErrAlreadyApplied is
	// returned when the order is already paid.
	MarkPaid(ctx context.Context, id primitive.ObjectID, result models.PaymentResult, at time.Time) (*models.Order, error)
	// MarkDelivered flags an undelivered order as delivered.
	MarkDelivered(ctx context.Context, id primitive.ObjectID, at time.Time) (*models.Order, error)
}

type UserRepository interface {
	Count(ctx context.Context, filter query.Filter) (int64, error)
	Find(ctx context.Context, filter query.Filter, opts query.FindOptions) ([]*models.User, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// Store is the handle opened at startup and shared by every service.
type Store interface {
	Products() ProductRepository
	Orders() OrderRepository
	Users() UserRepository
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ProductCache caches catalog reads. Misses return nil with a nil error.
type ProductCache interface {
	Get(ctx context.Context, id string) (*models.Product, error)
	Set(ctx context.Context, product *models.Product) error
	Delete(ctx context.Context, ids ...string) error
	GetTopRated(ctx context.Context) ([]*models.Product, error)
	SetTopRated(ctx context.Context, products []*models.Product) error
	GetCategories(ctx context.Context) ([]string, error)
	SetCategories(ctx context.Context, categories []string) error
	InvalidateCatalog(ctx context.Context) error
}

// ParseID converts a hex id from a URL or payload. Malformed ids are
// reported as not found so callers cannot distinguish them from missing
// documents.
func ParseID(hex string, resource string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, apperrors.NotFound(resource)
	}
	return id, nil
}
