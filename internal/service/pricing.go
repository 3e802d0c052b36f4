package service

import "math"

// OrderTotal is the price breakdown of an order.
type OrderTotal struct {
	Items    float64 `json:"itemsPrice"`
	Tax      float64 `json:"taxPrice"`
	Shipping float64 `json:"shippingPrice"`
	Total    float64 `json:"totalPrice"`
}

// RoundPrice rounds to cents.
func RoundPrice(v float64) float64 {
	return math.Round(v*100) / 100
}

// CalculateOrderTotal adds the caller-supplied tax and shipping to the
// snapshot item total.
func CalculateOrderTotal(items, tax, shipping float64) OrderTotal {
	items = RoundPrice(items)
	return OrderTotal{
		Items:    items,
		Tax:      RoundPrice(tax),
		Shipping: RoundPrice(shipping),
		Total:    RoundPrice(items + tax + shipping),
	}
}

// MatchesTotal reports whether total agrees with t to the cent.
func (t OrderTotal) MatchesTotal(total float64) bool {
	return math.Abs(t.Total-RoundPrice(total)) < 0.005
}
