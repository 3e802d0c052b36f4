package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
)

const (
	productKeyPrefix = "product:"
	topRatedKey      = "products:top_rated"
	categoriesKey    = "products:categories"
	defaultCacheTTL  = 5 * time.Minute
)

// NewRedisClient builds the client shared by the product cache and the rate
// limiter.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisProductCache implements ProductCache using Redis.
type RedisProductCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *logging.LoggerV2
}

// NewRedisProductCache creates a cache on top of client. A zero ttl uses the
// five minute default.
func NewRedisProductCache(client redis.Cmdable, ttl time.Duration) *RedisProductCache {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	return &RedisProductCache{
		client: client,
		ttl:    ttl,
		logger: logging.NewLoggerV2("product-cache"),
	}
}

func (c *RedisProductCache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.logger.Debug("Cache miss", logging.Fields{"key": key})
		return false, nil
	}
	if err != nil {
		c.logger.Error("Cache get error", logging.Fields{
			"key":   key,
			"error": err.Error(),
		})
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	c.logger.Debug("Cache hit", logging.Fields{"key": key})
	return true, nil
}

func (c *RedisProductCache) setJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Error("Cache set error", logging.Fields{
			"key":   key,
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// Get retrieves a product from cache.
func (c *RedisProductCache) Get(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	ok, err := c.getJSON(ctx, productKeyPrefix+id, &product)
	if !ok || err != nil {
		return nil, err
	}
	return &product, nil
}

// Set stores a product in cache.
func (c *RedisProductCache) Set(ctx context.Context, product *models.Product) error {
	return c.setJSON(ctx, productKeyPrefix+product.ID.Hex(), product)
}

// Delete removes products from cache.
func (c *RedisProductCache) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKeyPrefix + id
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("Cache delete error", logging.Fields{
			"product_ids": ids,
			"error":       err.Error(),
		})
		return err
	}
	return nil
}

func (c *RedisProductCache) GetTopRated(ctx context.Context) ([]*models.Product, error) {
	var products []*models.Product
	ok, err := c.getJSON(ctx, topRatedKey, &products)
	if !ok || err != nil {
		return nil, err
	}
	return products, nil
}

func (c *RedisProductCache) SetTopRated(ctx context.Context, products []*models.Product) error {
	return c.setJSON(ctx, topRatedKey, products)
}

func (c *RedisProductCache) GetCategories(ctx context.Context) ([]string, error) {
	var categories []string
	ok, err := c.getJSON(ctx, categoriesKey, &categories)
	if !ok || err != nil {
		return nil, err
	}
	return categories, nil
}

func (c *RedisProductCache) SetCategories(ctx context.Context, categories []string) error {
	return c.setJSON(ctx, categoriesKey, categories)
}

// InvalidateCatalog drops the cached listings derived from many products.
func (c *RedisProductCache) InvalidateCatalog(ctx context.Context) error {
	return c.client.Del(ctx, topRatedKey, categoriesKey).Err()
}
