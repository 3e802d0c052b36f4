package service

import (
	"context"
	"errors"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/auth"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/repository"
)

// PaymentService records payments reported by the client or by the
// payment gateway.
type PaymentService struct {
	orders         repository.OrderRepository
	eventPublisher OrderEventPublisher
	metrics        *metrics.Recorder
	now            func() time.Time
	logger         *logging.LoggerV2
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	orders repository.OrderRepository,
	eventPublisher OrderEventPublisher,
	recorder *metrics.Recorder,
) *PaymentService {
	if eventPublisher == nil {
		eventPublisher = NoopPublisher{}
	}
	return &PaymentService{
		orders:         orders,
		eventPublisher: eventPublisher,
		metrics:        recorder,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logging.NewLoggerV2("payment-service"),
	}
}

// PayOrder marks the order paid with the gateway payload as submitted. The
// amount is not reconciled against the order total.
func (s *PaymentService) PayOrder(ctx context.Context, caller auth.Identity, id string, req *models.PayOrderRequest) (*models.Order, error) {
	s.logger.Info("Recording payment", logging.Fields{
		"order_id":   id,
		"payment_id": req.ID,
		"status":     req.Status,
	})

	oid, err := repository.ParseID(id, "Order")
	if err != nil {
		return nil, err
	}

	current, err := s.orders.GetByID(ctx, oid)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(current.User) {
		return nil, apperrors.Forbidden("Not authorized to update this order")
	}
	if current.IsPaid {
		return nil, ErrOrderAlreadyPaid
	}

	order, err := s.orders.MarkPaid(ctx, oid, req.Result(), s.now())
	if errors.Is(err, repository.ErrAlreadyApplied) {
		return nil, ErrOrderAlreadyPaid
	}
	if err != nil {
		s.logger.Error("Failed to record payment", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
		return nil, err
	}

	if err := s.eventPublisher.PublishOrderPaid(ctx, order); err != nil {
		// Log but don't fail
		s.logger.Error("Failed to publish order paid event", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
	}
	s.metrics.OrderTransition("paid")

	s.logger.Info("Order paid", logging.Fields{
		"order_id":   id,
		"payment_id": req.ID,
	})
	return order, nil
}

// ConfirmPayment applies a payment confirmed by the gateway. It runs under
// the system identity and is idempotent: an order that is already paid is
// left unchanged.
func (s *PaymentService) ConfirmPayment(ctx context.Context, orderID string, result models.PaymentResult) error {
	req := &models.PayOrderRequest{
		ID:         result.ID,
		Status:     result.Status,
		UpdateTime: result.UpdateTime,
	}
	if result.EmailAddress != "" {
		req.Payer = &models.Payer{EmailAddress: result.EmailAddress}
	}

	_, err := s.PayOrder(ctx, auth.System(), orderID, req)
	if errors.Is(err, ErrOrderAlreadyPaid) {
		s.logger.Debug("Payment already recorded", logging.Fields{"order_id": orderID})
		return nil
	}
	return err
}
