package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
)

// PaymentEventType represents the type of payment event.
type PaymentEventType string

const (
	PaymentEventCompleted PaymentEventType = "payment.completed"
	PaymentEventFailed    PaymentEventType = "payment.failed"
)

// PaymentEvent is published by the payment gateway integration.
type PaymentEvent struct {
	ID            string           `json:"id"`
	Type          PaymentEventType `json:"type"`
	PaymentID     string           `json:"payment_id"`
	OrderID       string           `json:"order_id"`
	Status        string           `json:"status"`
	EmailAddress  string           `json:"email_address,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
	CorrelationID string           `json:"correlation_id,omitempty"`
}

func (e *PaymentEvent) result() models.PaymentResult {
	status := e.Status
	if status == "" {
		status = "COMPLETED"
	}
	return models.PaymentResult{
		ID:           e.PaymentID,
		Status:       status,
		UpdateTime:   e.Timestamp.UTC().Format(time.RFC3339),
		EmailAddress: e.EmailAddress,
	}
}

// PaymentConfirmer records a payment settled outside the storefront.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, orderID string, result models.PaymentResult) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConsumer marks orders paid when the gateway reports a completed
// payment.
type KafkaConsumer struct {
	reader   messageReader
	payments PaymentConfirmer
	metrics  *metrics.Recorder
	logger   *logging.LoggerV2
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewKafkaConsumer creates a consumer of the configured payments topic.
func NewKafkaConsumer(cfg config.KafkaConfig, payments PaymentConfirmer, recorder *metrics.Recorder) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.PaymentsTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return newKafkaConsumer(reader, payments, recorder)
}

func newKafkaConsumer(reader messageReader, payments PaymentConfirmer, recorder *metrics.Recorder) *KafkaConsumer {
	return &KafkaConsumer{
		reader:   reader,
		payments: payments,
		metrics:  recorder,
		logger:   logging.NewLoggerV2("payment-events"),
		stopCh:   make(chan struct{}),
	}
}

// Start consumes until ctx is cancelled or Stop is called.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Kafka consumer stopped")
			return nil
		default:
		}

		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-c.stopCh:
				c.logger.Info("Kafka consumer stopped")
				return nil
			default:
			}
			c.logger.Error("Failed to read message", logging.Fields{"error": err.Error()})
			continue
		}

		c.handleMessage(ctx, msg)
	}
}

// Stop closes the reader. Safe to call more than once.
func (c *KafkaConsumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("Failed to close Kafka reader", logging.Fields{"error": err.Error()})
		}
	})
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, msg kafka.Message) {
	c.logger.Debug("Received message", logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var event PaymentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("Failed to unmarshal event", logging.Fields{"error": err.Error()})
		c.metrics.Event("in", "invalid", err)
		return
	}

	switch event.Type {
	case PaymentEventCompleted:
		err := c.handlePaymentCompleted(ctx, &event)
		c.metrics.Event("in", string(event.Type), err)
	case PaymentEventFailed:
		// A failed payment leaves the order unpaid; nothing to record.
		c.logger.Info("Payment failed", logging.Fields{
			"payment_id": event.PaymentID,
			"order_id":   event.OrderID,
		})
		c.metrics.Event("in", string(event.Type), nil)
	default:
		c.logger.Debug("Ignoring unknown event type", logging.Fields{"type": event.Type})
	}
}

func (c *KafkaConsumer) handlePaymentCompleted(ctx context.Context, event *PaymentEvent) error {
	c.logger.Info("Handling payment completed event", logging.Fields{
		"payment_id": event.PaymentID,
		"order_id":   event.OrderID,
	})

	if event.CorrelationID != "" {
		ctx = middleware.WithRequestID(ctx, event.CorrelationID)
	}
	err := c.payments.ConfirmPayment(ctx, event.OrderID, event.result())
	if err == nil {
		return nil
	}

	fields := logging.Fields{
		"order_id": event.OrderID,
		"error":    err.Error(),
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		c.logger.Warn("Payment for unknown order", fields)
	} else {
		c.logger.Error("Failed to confirm payment", fields)
	}
	return err
}
