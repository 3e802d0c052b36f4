package service

import (
	"context"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/query"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const topRatedLimit = 5

var productFilter = query.NewBuilder().
	Text("keyword", "name").
	Equal("category", "category").
	Range("minPrice", "maxPrice", "price")

// ProductService handles catalog reads and admin writes.
type ProductService struct {
	products repository.ProductRepository
	cache    repository.ProductCache
	metrics  *metrics.Recorder
	now      func() time.Time
	logger   *logging.LoggerV2
}

// NewProductService creates a product service. cache may be nil when
// product caching is disabled.
func NewProductService(
	products repository.ProductRepository,
	cache repository.ProductCache,
	recorder *metrics.Recorder,
) *ProductService {
	return &ProductService{
		products: products,
		cache:    cache,
		metrics:  recorder,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logging.NewLoggerV2("product-service"),
	}
}

// List returns one page of products matching keyword, category and price
// bounds, newest first.
func (s *ProductService) List(ctx context.Context, params query.Params) (*query.Page[*models.Product], error) {
	filter := productFilter.Build(params)
	req := query.PageRequestFrom(params, query.DefaultProductPageSize)

	s.logger.Debug("Listing products", logging.Fields{
		"clauses":   len(filter.Clauses),
		"page":      req.Number,
		"page_size": req.Size,
	})

	return query.Paginate[*models.Product](ctx, s.products, filter, query.NewestFirst, req)
}

// Get returns a product, consulting the cache first.
func (s *ProductService) Get(ctx context.Context, id string) (*models.Product, error) {
	oid, err := repository.ParseID(id, "Product")
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if p, err := s.cache.Get(ctx, oid.Hex()); err == nil && p != nil {
			s.metrics.CacheLookup(true)
			return p, nil
		}
		s.metrics.CacheLookup(false)
	}

	p, err := s.products.GetByID(ctx, oid)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, p); err != nil {
			s.logger.Warn("Failed to cache product", logging.Fields{
				"product_id": id,
				"error":      err.Error(),
			})
		}
	}
	return p, nil
}

// Create validates and stores a new product. Price is the one numeric field
// that must be supplied explicitly.
func (s *ProductService) Create(ctx context.Context, in *models.ProductInput) (*models.Product, error) {
	now := s.now()
	p := &models.Product{CreatedAt: now, UpdatedAt: now}
	in.Apply(p)

	if err := ValidateProduct(p); err != nil {
		return nil, withPriceRequired(err, in)
	}
	if in.Price == nil {
		return nil, apperrors.Validation("Invalid product data", []apperrors.FieldError{priceRequired})
	}

	if err := s.products.Create(ctx, p); err != nil {
		s.logger.Error("Failed to create product", logging.Fields{
			"name":  p.Name,
			"error": err.Error(),
		})
		return nil, err
	}

	s.invalidate(ctx)
	s.logger.Info("Product created", logging.Fields{
		"product_id": p.ID.Hex(),
		"name":       p.Name,
	})
	return p, nil
}

var priceRequired = apperrors.FieldError{Field: "price", Message: "is required"}

func withPriceRequired(err error, in *models.ProductInput) error {
	verr, ok := apperrors.IsValidation(err)
	if !ok || in.Price != nil {
		return err
	}
	details := append([]apperrors.FieldError{priceRequired}, verr.Details...)
	return apperrors.Validation(verr.Message, details)
}

// Update applies the supplied fields to an existing product.
func (s *ProductService) Update(ctx context.Context, id string, in *models.ProductInput) (*models.Product, error) {
	oid, err := repository.ParseID(id, "Product")
	if err != nil {
		return nil, err
	}

	p, err := s.products.GetByID(ctx, oid)
	if err != nil {
		return nil, err
	}

	in.Apply(p)
	p.UpdatedAt = s.now()
	if err := ValidateProduct(p); err != nil {
		return nil, err
	}

	if err := s.products.Update(ctx, p); err != nil {
		return nil, err
	}

	s.invalidate(ctx, p.ID)
	s.logger.Info("Product updated", logging.Fields{"product_id": id})
	return p, nil
}

// Delete removes a product. Orders keep their line-item snapshots.
func (s *ProductService) Delete(ctx context.Context, id string) error {
	oid, err := repository.ParseID(id, "Product")
	if err != nil {
		return err
	}
	if err := s.products.Delete(ctx, oid); err != nil {
		return err
	}

	s.invalidate(ctx, oid)
	s.logger.Info("Product deleted", logging.Fields{"product_id": id})
	return nil
}

// TopRated returns up to five products by rating, highest first.
func (s *ProductService) TopRated(ctx context.Context) ([]*models.Product, error) {
	if s.cache != nil {
		if products, err := s.cache.GetTopRated(ctx); err == nil && products != nil {
			s.metrics.CacheLookup(true)
			return products, nil
		}
		s.metrics.CacheLookup(false)
	}

	products, err := s.products.Find(ctx, query.Filter{}, query.FindOptions{
		Sort:  query.Sort{Field: "rating", Desc: true},
		Limit: topRatedLimit,
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.SetTopRated(ctx, products)
	}
	return products, nil
}

// Categories returns the distinct product categories in ascending order.
func (s *ProductService) Categories(ctx context.Context) ([]string, error) {
	if s.cache != nil {
		if categories, err := s.cache.GetCategories(ctx); err == nil && categories != nil {
			s.metrics.CacheLookup(true)
			return categories, nil
		}
		s.metrics.CacheLookup(false)
	}

	categories, err := s.products.Categories(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.SetCategories(ctx, categories)
	}
	return categories, nil
}

// All returns the whole catalog ordered by name, for exports.
func (s *ProductService) All(ctx context.Context) ([]*models.Product, error) {
	return s.products.Find(ctx, query.Filter{}, query.FindOptions{Sort: query.Sort{Field: "name"}})
}

// Invalidate drops cached copies of the given products and the derived
// catalog listings. Stock reservations call it after every order.
func (s *ProductService) Invalidate(ctx context.Context, ids ...primitive.ObjectID) {
	s.invalidate(ctx, ids...)
}

func (s *ProductService) invalidate(ctx context.Context, ids ...primitive.ObjectID) {
	if s.cache == nil {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.Hex()
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("Failed to evict products from cache", logging.Fields{"error": err.Error()})
	}
	if err := s.cache.InvalidateCatalog(ctx); err != nil {
		s.logger.Warn("Failed to invalidate catalog cache", logging.Fields{"error": err.Error()})
	}
}
