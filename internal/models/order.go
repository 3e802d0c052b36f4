package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PaymentMethod is the checkout payment option chosen by the customer.
type PaymentMethod string

const (
	PaymentMethodPayPal PaymentMethod = "PayPal"
	PaymentMethodStripe PaymentMethod = "Stripe"
	PaymentMethodCash   PaymentMethod = "Cash"
)

// Valid reports whether m is one of the accepted payment methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodPayPal, PaymentMethodStripe, PaymentMethodCash:
		return true
	}
	return false
}

// OrderItem is a line item. Name, price and image are copied from the
// product when the order is placed and never refreshed.
type OrderItem struct {
	Product  primitive.ObjectID `json:"product" bson:"product"`
	Name     string             `json:"name" bson:"name"`
	Quantity int                `json:"quantity" bson:"quantity"`
	Price    float64            `json:"price" bson:"price"`
	ImageURL string             `json:"imageUrl" bson:"imageUrl"`
}

type ShippingAddress struct {
	Address    string `json:"address" bson:"address" validate:"required"`
	City       string `json:"city" bson:"city" validate:"required"`
	PostalCode string `json:"postalCode" bson:"postalCode" validate:"required"`
	Country    string `json:"country" bson:"country" validate:"required"`
}

// PaymentResult is the gateway payload recorded when an order is paid.
type PaymentResult struct {
	ID           string `json:"id" bson:"id"`
	Status       string `json:"status" bson:"status"`
	UpdateTime   string `json:"updateTime" bson:"updateTime"`
	EmailAddress string `json:"emailAddress" bson:"emailAddress"`
}

// Order is created once at checkout. Afterwards only the payment fields
// and the delivery fields change, each exactly once.
type Order struct {
	ID              primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	User            primitive.ObjectID `json:"user" bson:"user"`
	OrderItems      []OrderItem        `json:"orderItems" bson:"orderItems"`
	ShippingAddress ShippingAddress    `json:"shippingAddress" bson:"shippingAddress"`
	PaymentMethod   PaymentMethod      `json:"paymentMethod" bson:"paymentMethod"`
	PaymentResult   *PaymentResult     `json:"paymentResult,omitempty" bson:"paymentResult,omitempty"`
	TaxPrice        float64            `json:"taxPrice" bson:"taxPrice"`
	ShippingPrice   float64            `json:"shippingPrice" bson:"shippingPrice"`
	TotalPrice      float64            `json:"totalPrice" bson:"totalPrice"`
	IsPaid          bool               `json:"isPaid" bson:"isPaid"`
	PaidAt          *time.Time         `json:"paidAt,omitempty" bson:"paidAt,omitempty"`
	IsDelivered     bool               `json:"isDelivered" bson:"isDelivered"`
	DeliveredAt     *time.Time         `json:"deliveredAt,omitempty" bson:"deliveredAt,omitempty"`
	CreatedAt       time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// IsOwnedBy reports whether userID placed the order.
func (o *Order) IsOwnedBy(userID primitive.ObjectID) bool {
	return o.User == userID
}

// ItemsPrice is the sum of the snapshot line totals.
func (o *Order) ItemsPrice() float64 {
	var sum float64
	for _, item := range o.OrderItems {
		sum += item.Price * float64(item.Quantity)
	}
	return sum
}

func (o *Order) FieldValue(name string) (interface{}, bool) {
	switch name {
	case "_id":
		return o.ID, true
	case "user":
		return o.User, true
	case "paymentMethod":
		return string(o.PaymentMethod), true
	case "totalPrice":
		return o.TotalPrice, true
	case "isPaid":
		return o.IsPaid, true
	case "isDelivered":
		return o.IsDelivered, true
	case "createdAt":
		return o.CreatedAt, true
	case "updatedAt":
		return o.UpdatedAt, true
	}
	return nil, false
}

// OrderItemDetail is a line item with the live product expanded next to the
// snapshot. Product is nil once the product has been deleted.
type OrderItemDetail struct {
	Product  *ProductSummary `json:"product"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    float64         `json:"price"`
	ImageURL string          `json:"imageUrl"`
}

// OrderDetail is the read model returned for a single order.
type OrderDetail struct {
	ID              primitive.ObjectID `json:"_id"`
	User            *UserSummary       `json:"user"`
	OrderItems      []OrderItemDetail  `json:"orderItems"`
	ShippingAddress ShippingAddress    `json:"shippingAddress"`
	PaymentMethod   PaymentMethod      `json:"paymentMethod"`
	PaymentResult   *PaymentResult     `json:"paymentResult,omitempty"`
	TaxPrice        float64            `json:"taxPrice"`
	ShippingPrice   float64            `json:"shippingPrice"`
	TotalPrice      float64            `json:"totalPrice"`
	IsPaid          bool               `json:"isPaid"`
	PaidAt          *time.Time         `json:"paidAt,omitempty"`
	IsDelivered     bool               `json:"isDelivered"`
	DeliveredAt     *time.Time         `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// NewOrderDetail expands o with the given owner and products. Products
// missing from the map are rendered as null.
func NewOrderDetail(o *Order, owner *UserSummary, products map[primitive.ObjectID]*Product) *OrderDetail {
	d := &OrderDetail{
		ID:              o.ID,
		User:            owner,
		OrderItems:      make([]OrderItemDetail, 0, len(o.OrderItems)),
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   o.PaymentMethod,
		PaymentResult:   o.PaymentResult,
		TaxPrice:        o.TaxPrice,
		ShippingPrice:   o.ShippingPrice,
		TotalPrice:      o.TotalPrice,
		IsPaid:          o.IsPaid,
		PaidAt:          o.PaidAt,
		IsDelivered:     o.IsDelivered,
		DeliveredAt:     o.DeliveredAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, item := range o.OrderItems {
		line := OrderItemDetail{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
			ImageURL: item.ImageURL,
		}
		if p, ok := products[item.Product]; ok {
			line.Product = &ProductSummary{ID: p.ID, Name: p.Name, Price: p.Price, ImageURL: p.ImageURL}
		}
		d.OrderItems = append(d.OrderItems, line)
	}
	return d
}

// OrderItemRequest is a line item as submitted at checkout. Only the product
// and quantity are trusted; the rest is replaced by the product snapshot.
type OrderItemRequest struct {
	Product  string  `json:"product" validate:"required"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity" validate:"min=1,max=10000"`
	Price    float64 `json:"price" validate:"gte=0"`
	ImageURL string  `json:"imageUrl"`
}

// CreateOrderRequest is the checkout payload.
type CreateOrderRequest struct {
	OrderItems      []OrderItemRequest `json:"orderItems" validate:"dive"`
	ShippingAddress ShippingAddress    `json:"shippingAddress"`
	PaymentMethod   PaymentMethod      `json:"paymentMethod" validate:"required,oneof=PayPal Stripe Cash"`
	TaxPrice        float64            `json:"taxPrice" validate:"gte=0"`
	ShippingPrice   float64            `json:"shippingPrice" validate:"gte=0"`
	TotalPrice      float64            `json:"totalPrice" validate:"gte=0"`
}

// Payer identifies the account that settled a payment.
type Payer struct {
	EmailAddress string `json:"email_address"`
}

// PayOrderRequest is the payment confirmation forwarded by the client from
// the gateway.
type PayOrderRequest struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	UpdateTime string `json:"update_time"`
	Payer      *Payer `json:"payer"`
}

// Result converts the request into the stored payment result.
func (r *PayOrderRequest) Result() PaymentResult {
	res := PaymentResult{
		ID:         r.ID,
		Status:     r.Status,
		UpdateTime: r.UpdateTime,
	}
	if r.Payer != nil {
		res.EmailAddress = r.Payer.EmailAddress
	}
	return res
}
