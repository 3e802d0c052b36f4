package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaPublisher_PublishOrderPaid(t *testing.T) {
	writer := &fakeWriter{}
	p := newKafkaPublisher(writer, "orders", nil)
	order := &models.Order{
		ID:            primitive.NewObjectID(),
		User:          primitive.NewObjectID(),
		PaymentMethod: models.PaymentMethodStripe,
		PaymentResult: &models.PaymentResult{ID: "pay_1", Status: "COMPLETED"},
		IsPaid:        true,
	}
	ctx := middleware.WithRequestID(context.Background(), "req-42")

	require.NoError(t, p.PublishOrderPaid(ctx, order))
	require.Len(t, writer.msgs, 1)

	msg := writer.msgs[0]
	assert.Equal(t, order.ID.Hex(), string(msg.Key))
	assert.Equal(t, "order.paid", header(msg, "event_type"))

	var event OrderEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, EventTypeOrderPaid, event.Type)
	assert.Equal(t, header(msg, "event_id"), event.ID)
	assert.Equal(t, order.ID.Hex(), event.OrderID)
	assert.Equal(t, order.User.Hex(), event.UserID)
	assert.Equal(t, "req-42", event.CorrelationID)
	assert.Equal(t, "pay_1", event.Metadata["payment_id"])

	var data models.Order
	require.NoError(t, json.Unmarshal(event.Data, &data))
	assert.True(t, data.IsPaid)
}

func TestKafkaPublisher_RecordsFailures(t *testing.T) {
	rec := metrics.New()
	p := newKafkaPublisher(&fakeWriter{err: errors.New("broker down")}, "orders", rec)
	order := &models.Order{ID: primitive.NewObjectID()}

	assert.Error(t, p.PublishOrderDelivered(context.Background(), order))

	p.writer = &fakeWriter{}
	require.NoError(t, p.PublishOrderCreated(context.Background(), order))

	series, err := testutil.GatherAndCount(rec.Registry(), "storefront_events_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series)
}

type fakeReader struct {
	msgs   chan kafka.Message
	closed chan struct{}
	once   sync.Once
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs)), closed: make(chan struct{})}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-r.closed:
		return kafka.Message{}, errors.New("reader closed")
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

type confirmation struct {
	orderID   string
	result    models.PaymentResult
	requestID string
}

type fakeConfirmer struct {
	mu    sync.Mutex
	calls []confirmation
	err   error
	done  chan struct{}
}

func (f *fakeConfirmer) ConfirmPayment(ctx context.Context, orderID string, result models.PaymentResult) error {
	f.mu.Lock()
	f.calls = append(f.calls, confirmation{orderID, result, middleware.RequestIDFromContext(ctx)})
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return f.err
}

func paymentMessage(t *testing.T, event PaymentEvent) kafka.Message {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Topic: "payments", Value: data}
}

func TestKafkaConsumer_ConfirmsCompletedPayments(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reader := newFakeReader(
		kafka.Message{Value: []byte("not json")},
		paymentMessage(t, PaymentEvent{Type: PaymentEventFailed, OrderID: "o1"}),
		paymentMessage(t, PaymentEvent{
			Type:          PaymentEventCompleted,
			PaymentID:     "pay_9",
			OrderID:       "o2",
			EmailAddress:  "buyer@example.com",
			Timestamp:     at,
			CorrelationID: "corr-1",
		}),
	)
	confirmer := &fakeConfirmer{done: make(chan struct{}, 1)}
	rec := metrics.New()
	c := newKafkaConsumer(reader, confirmer, rec)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()

	select {
	case <-confirmer.done:
	case <-time.After(5 * time.Second):
		t.Fatal("payment was not confirmed")
	}
	c.Stop()
	c.Stop()
	require.NoError(t, <-errCh)

	require.Len(t, confirmer.calls, 1)
	call := confirmer.calls[0]
	assert.Equal(t, "o2", call.orderID)
	assert.Equal(t, "corr-1", call.requestID)
	assert.Equal(t, models.PaymentResult{
		ID:           "pay_9",
		Status:       "COMPLETED",
		UpdateTime:   "2024-05-01T12:00:00Z",
		EmailAddress: "buyer@example.com",
	}, call.result)

	series, err := testutil.GatherAndCount(rec.Registry(), "storefront_events_total")
	require.NoError(t, err)
	assert.Equal(t, 3, series)
}

func TestKafkaConsumer_HandleMessageErrors(t *testing.T) {
	confirmer := &fakeConfirmer{err: apperrors.NotFound("Order")}
	c := newKafkaConsumer(newFakeReader(), confirmer, nil)

	c.handleMessage(context.Background(), paymentMessage(t, PaymentEvent{Type: PaymentEventCompleted, OrderID: "missing"}))
	c.handleMessage(context.Background(), paymentMessage(t, PaymentEvent{Type: "payment.refunded", OrderID: "x"}))

	assert.Len(t, confirmer.calls, 1)
}

func TestKafkaConsumer_StopsOnContextCancel(t *testing.T) {
	c := newKafkaConsumer(newFakeReader(), &fakeConfirmer{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Start(ctx), context.Canceled)
}
