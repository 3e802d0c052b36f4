package service

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
)

// OrderEventPublisher announces order lifecycle changes to other systems.
type OrderEventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderPaid(ctx context.Context, order *models.Order) error
	PublishOrderDelivered(ctx context.Context, order *models.Order) error
}

// NoopPublisher is used when order events are disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error   { return nil }
func (NoopPublisher) PublishOrderPaid(ctx context.Context, order *models.Order) error      { return nil }
func (NoopPublisher) PublishOrderDelivered(ctx context.Context, order *models.Order) error { return nil }
