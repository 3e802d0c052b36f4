package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/service"
)

var _ service.OrderEventPublisher = (*KafkaPublisher)(nil)

// EventType represents the type of order event.
type EventType string

const (
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderPaid      EventType = "order.paid"
	EventTypeOrderDelivered EventType = "order.delivered"
)

// OrderEvent is the envelope written to the orders topic.
type OrderEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	OrderID       string            `json:"order_id"`
	UserID        string            `json:"user_id"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes order events to Kafka.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	metrics *metrics.Recorder
	logger  *logging.LoggerV2
}

// NewKafkaPublisher creates a publisher writing to the configured orders
// topic.
func NewKafkaPublisher(cfg config.KafkaConfig, recorder *metrics.Recorder) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.OrdersTopic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(writer, cfg.OrdersTopic, recorder)
}

func newKafkaPublisher(writer messageWriter, topic string, recorder *metrics.Recorder) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  writer,
		topic:   topic,
		metrics: recorder,
		logger:  logging.NewLoggerV2("order-events"),
	}
}

func (p *KafkaPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	return p.publishOrder(ctx, EventTypeOrderCreated, order, map[string]string{
		"payment_method": string(order.PaymentMethod),
	})
}

func (p *KafkaPublisher) PublishOrderPaid(ctx context.Context, order *models.Order) error {
	meta := map[string]string{}
	if order.PaymentResult != nil {
		meta["payment_id"] = order.PaymentResult.ID
		meta["payment_status"] = order.PaymentResult.Status
	}
	return p.publishOrder(ctx, EventTypeOrderPaid, order, meta)
}

func (p *KafkaPublisher) PublishOrderDelivered(ctx context.Context, order *models.Order) error {
	return p.publishOrder(ctx, EventTypeOrderDelivered, order, nil)
}

func (p *KafkaPublisher) publishOrder(ctx context.Context, eventType EventType, order *models.Order, meta map[string]string) error {
	p.logger.Debug("Publishing order event", logging.Fields{
		"order_id":   order.ID.Hex(),
		"event_type": eventType,
	})

	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	event := newOrderEvent(ctx, eventType, order, data, meta)
	err = p.publish(ctx, event)
	p.metrics.Event("out", string(eventType), err)
	return err
}

func newOrderEvent(ctx context.Context, eventType EventType, order *models.Order, data []byte, meta map[string]string) *OrderEvent {
	if meta == nil {
		meta = make(map[string]string)
	}
	return &OrderEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		OrderID:       order.ID.Hex(),
		UserID:        order.User.Hex(),
		Data:          data,
		Metadata:      meta,
		Timestamp:     time.Now().UTC(),
		CorrelationID: middleware.RequestIDFromContext(ctx),
	}
}

func (p *KafkaPublisher) publish(ctx context.Context, event *OrderEvent) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// Keyed by order so every event of one order lands on one partition.
	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: eventData,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event", logging.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"order_id":   event.OrderID,
			"topic":      p.topic,
			"error":      err.Error(),
		})
		return err
	}

	p.logger.Info("Event published", logging.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
	})
	return nil
}

// Close closes the Kafka writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing Kafka publisher")
	return p.writer.Close()
}
