package repository

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func seedProduct(t *testing.T, store *MemoryStore, name string, price float64, stock int) *models.Product {
	t.Helper()
	now := time.Now().UTC()
	p := &models.Product{
		Name:         name,
		Price:        price,
		Category:     "Electronics",
		Brand:        "Acme",
		CountInStock: stock,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.Products().Create(context.Background(), p))
	return p
}

func newOrder(user primitive.ObjectID) *models.Order {
	now := time.Now().UTC()
	return &models.Order{
		User:          user,
		PaymentMethod: models.PaymentMethodPayPal,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestMemoryStore_PlaceDecrementsStock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := seedProduct(t, store, "Phone", 500, 5)
	b := seedProduct(t, store, "Case", 20, 2)

	order := newOrder(primitive.NewObjectID())
	err := store.Orders().Place(ctx, order, []StockLine{
		{ProductID: a.ID, Quantity: 2},
		{ProductID: b.ID, Quantity: 2},
	})
	require.NoError(t, err)
	assert.False(t, order.ID.IsZero())

	gotA, _ := store.Products().GetByID(ctx, a.ID)
	gotB, _ := store.Products().GetByID(ctx, b.ID)
	assert.Equal(t, 3, gotA.CountInStock)
	assert.Equal(t, 0, gotB.CountInStock)

	stored, err := store.Orders().GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.User, stored.User)
}

func TestMemoryStore_PlaceIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := seedProduct(t, store, "Phone", 500, 5)
	b := seedProduct(t, store, "Case", 20, 1)

	err := store.Orders().Place(ctx, newOrder(primitive.NewObjectID()), []StockLine{
		{ProductID: a.ID, Quantity: 2},
		{ProductID: b.ID, Quantity: 3},
	})

	var conflict *StockConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, b.ID, conflict.ProductID)

	gotA, _ := store.Products().GetByID(ctx, a.ID)
	assert.Equal(t, 5, gotA.CountInStock)
	total, _ := store.Orders().Count(ctx, query.Filter{})
	assert.Zero(t, total)
}

func TestMemoryStore_PlaceSumsRepeatedProduct(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := seedProduct(t, store, "Phone", 500, 3)

	err := store.Orders().Place(ctx, newOrder(primitive.NewObjectID()), []StockLine{
		{ProductID: p.ID, Quantity: 2},
		{ProductID: p.ID, Quantity: 2},
	})

	var conflict *StockConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 2, conflict.Requested)
}

func TestMemoryStore_PlaceRejectsOverflowingQuantities(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := seedProduct(t, store, "Phone", 500, 10)

	err := store.Orders().Place(ctx, newOrder(primitive.NewObjectID()), []StockLine{
		{ProductID: p.ID, Quantity: math.MaxInt},
		{ProductID: p.ID, Quantity: 2},
	})

	var conflict *StockConflictError
	require.True(t, errors.As(err, &conflict))
	got, _ := store.Products().GetByID(ctx, p.ID)
	assert.Equal(t, 10, got.CountInStock)
}

func TestMemoryStore_PlaceRejectsNonPositiveQuantity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := seedProduct(t, store, "Phone", 500, 10)

	for _, q := range []int{0, -5, math.MinInt} {
		err := store.Orders().Place(ctx, newOrder(primitive.NewObjectID()), []StockLine{{ProductID: p.ID, Quantity: q}})
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	}

	got, _ := store.Products().GetByID(ctx, p.ID)
	assert.Equal(t, 10, got.CountInStock)
	total, _ := store.Orders().Count(ctx, query.Filter{})
	assert.Zero(t, total)
}

func TestMemoryStore_ConcurrentPlaceNeverOversells(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := seedProduct(t, store, "Limited", 100, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	placed := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Orders().Place(ctx, newOrder(primitive.NewObjectID()), []StockLine{{ProductID: p.ID, Quantity: 1}})
			if err == nil {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, _ := store.Products().GetByID(ctx, p.ID)
	assert.Equal(t, 10, placed)
	assert.Equal(t, 0, got.CountInStock)
}

func TestMemoryStore_Transitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := seedProduct(t, store, "Phone", 500, 5)
	order := newOrder(primitive.NewObjectID())
	require.NoError(t, store.Orders().Place(ctx, order, []StockLine{{ProductID: p.ID, Quantity: 1}}))

	paidAt := time.Now().UTC()
	paid, err := store.Orders().MarkPaid(ctx, order.ID, models.PaymentResult{ID: "PAY-1", Status: "COMPLETED"}, paidAt)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	assert.Equal(t, paidAt, *paid.PaidAt)
	assert.Equal(t, "PAY-1", paid.PaymentResult.ID)

	_, err = store.Orders().MarkPaid(ctx, order.ID, models.PaymentResult{ID: "PAY-2"}, time.Now())
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	delivered, err := store.Orders().MarkDelivered(ctx, order.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, delivered.IsDelivered)
	assert.True(t, delivered.IsPaid)

	_, err = store.Orders().MarkDelivered(ctx, order.ID, time.Now())
	assert.ErrorIs(t, err, ErrAlreadyApplied)

	_, err = store.Orders().MarkDelivered(ctx, primitive.NewObjectID(), time.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := seedProduct(t, store, "Phone", 500, 5)

	got, _ := store.Products().GetByID(ctx, p.ID)
	got.CountInStock = 0

	again, _ := store.Products().GetByID(ctx, p.ID)
	assert.Equal(t, 5, again.CountInStock)
}

func TestMemoryStore_FindFiltersSortsAndPages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i, name := range []string{"Alpha Phone", "Beta Phone", "Gamma Tablet", "Delta Phone"} {
		p := &models.Product{
			Name:      name,
			Price:     float64(100 * (i + 1)),
			Category:  "Electronics",
			CreatedAt: time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC),
		}
		require.NoError(t, store.Products().Create(ctx, p))
	}

	filter := query.NewBuilder().
		Text("keyword", "name").
		Range("minPrice", "maxPrice", "price").
		Build(params{"keyword": "PHONE", "minPrice": "150"})

	page, err := query.Paginate[*models.Product](ctx, store.Products(), filter, query.NewestFirst, query.PageRequest{Number: 1, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, 2, page.Pages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Delta Phone", page.Items[0].Name)

	page, err = query.Paginate[*models.Product](ctx, store.Products(), filter, query.NewestFirst, query.PageRequest{Number: 2, Size: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Beta Phone", page.Items[0].Name)
}

func TestMemoryStore_Categories(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, c := range []string{"Home", "Books", "Home"} {
		require.NoError(t, store.Products().Create(ctx, &models.Product{Name: c, Category: c}))
	}

	categories, err := store.Products().Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Books", "Home"}, categories)
}

func TestMemoryStore_UserEmailUnique(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := &models.User{Name: "Ann", Email: "ann@example.com", Role: models.RoleUser}
	require.NoError(t, store.Users().Create(ctx, first))

	err := store.Users().Create(ctx, &models.User{Name: "Other", Email: "ann@example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	second := &models.User{Name: "Bob", Email: "bob@example.com", Role: models.RoleUser}
	require.NoError(t, store.Users().Create(ctx, second))
	second.Email = "ann@example.com"
	assert.ErrorIs(t, store.Users().Update(ctx, second), ErrDuplicateEmail)

	found, err := store.Users().GetByEmail(ctx, "  ANN@example.com ")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	require.NoError(t, store.Users().Delete(ctx, first.ID))
	_, err = store.Users().GetByID(ctx, first.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestParseID(t *testing.T) {
	id := primitive.NewObjectID()
	got, err := ParseID(id.Hex(), "Order")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseID("not-an-id", "Order")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, "Order not found", err.Error())
}
