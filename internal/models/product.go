package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Product is a catalog entry. CountInStock never goes below zero.
type Product struct {
	ID           primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Name         string             `json:"name" bson:"name" validate:"required,max=100"`
	Description  string             `json:"description" bson:"description" validate:"required,max=2000"`
	Price        float64            `json:"price" bson:"price" validate:"gte=0"`
	Category     string             `json:"category" bson:"category" validate:"required"`
	Brand        string             `json:"brand" bson:"brand" validate:"required"`
	CountInStock int                `json:"countInStock" bson:"countInStock" validate:"gte=0"`
	ImageURL     string             `json:"imageUrl" bson:"imageUrl" validate:"required"`
	Rating       float64            `json:"rating" bson:"rating" validate:"gte=0,lte=5"`
	NumReviews   int                `json:"numReviews" bson:"numReviews" validate:"gte=0"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// FieldValue exposes stored fields by their document name for in-process
// filtering.
func (p *Product) FieldValue(name string) (interface{}, bool) {
	switch name {
	case "_id":
		return p.ID, true
	case "name":
		return p.Name, true
	case "description":
		return p.Description, true
	case "price":
		return p.Price, true
	case "category":
		return p.Category, true
	case "brand":
		return p.Brand, true
	case "countInStock":
		return p.CountInStock, true
	case "rating":
		return p.Rating, true
	case "numReviews":
		return p.NumReviews, true
	case "createdAt":
		return p.CreatedAt, true
	case "updatedAt":
		return p.UpdatedAt, true
	}
	return nil, false
}

// ProductSummary is the subset of a product expanded into order line items.
type ProductSummary struct {
	ID       primitive.ObjectID `json:"_id"`
	Name     string             `json:"name"`
	Price    float64            `json:"price"`
	ImageURL string             `json:"imageUrl"`
}

// ProductInput carries product fields supplied by an admin. Nil fields are
// left untouched on update.
type ProductInput struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	Price        *float64 `json:"price"`
	Category     *string  `json:"category"`
	Brand        *string  `json:"brand"`
	CountInStock *int     `json:"countInStock"`
	ImageURL     *string  `json:"imageUrl"`
	Rating       *float64 `json:"rating"`
	NumReviews   *int     `json:"numReviews"`
}

// Apply copies every non-nil field onto p. String fields are trimmed.
func (in *ProductInput) Apply(p *Product) {
	if in.Name != nil {
		p.Name = trim(*in.Name)
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Price != nil {
		p.Price = *in.Price
	}
	if in.Category != nil {
		p.Category = trim(*in.Category)
	}
	if in.Brand != nil {
		p.Brand = trim(*in.Brand)
	}
	if in.CountInStock != nil {
		p.CountInStock = *in.CountInStock
	}
	if in.ImageURL != nil {
		p.ImageURL = *in.ImageURL
	}
	if in.Rating != nil {
		p.Rating = *in.Rating
	}
	if in.NumReviews != nil {
		p.NumReviews = *in.NumReviews
	}
}
