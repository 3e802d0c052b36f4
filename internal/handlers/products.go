package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tealeg/xlsx"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
)

// ListProducts handles GET /api/products
func (h *Handlers) ListProducts(c *gin.Context) {
	page, err := h.products.List(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, pageBody("products", page))
}

// GetProduct handles GET /api/products/:id
func (h *Handlers) GetProduct(c *gin.Context) {
	product, err := h.products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// CreateProduct handles POST /api/products
func (h *Handlers) CreateProduct(c *gin.Context) {
	var in models.ProductInput
	if !bindJSON(c, &in) {
		return
	}
	product, err := h.products.Create(c.Request.Context(), &in)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// UpdateProduct handles PUT /api/products/:id
func (h *Handlers) UpdateProduct(c *gin.Context) {
	var in models.ProductInput
	if !bindJSON(c, &in) {
		return
	}
	product, err := h.products.Update(c.Request.Context(), c.Param("id"), &in)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// DeleteProduct handles DELETE /api/products/:id
func (h *Handlers) DeleteProduct(c *gin.Context) {
	if err := h.products.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product removed"})
}

// TopRatedProducts handles GET /api/products/top/rated
func (h *Handlers) TopRatedProducts(c *gin.Context) {
	products, err := h.products.TopRated(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// ProductCategories handles GET /api/products/categories/all
func (h *Handlers) ProductCategories(c *gin.Context) {
	categories, err := h.products.Categories(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

var exportHeaders = []string{
	"ID", "Name", "Brand", "Category", "Price", "CountInStock",
	"Rating", "NumReviews", "ImageURL", "CreatedAt", "UpdatedAt",
}

// ExportProducts handles GET /api/products/export
func (h *Handlers) ExportProducts(c *gin.Context) {
	products, err := h.products.All(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	file, err := productWorkbook(products)
	if err != nil {
		handleError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=products.xlsx")
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Transfer-Encoding", "binary")
	c.Status(http.StatusOK)
	if err := file.Write(c.Writer); err != nil {
		h.logger.Error("Failed to write product export", logging.Fields{"error": err.Error()})
	}
}

func productWorkbook(products []*models.Product) (*xlsx.File, error) {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Products")
	if err != nil {
		return nil, err
	}

	header := sheet.AddRow()
	for _, name := range exportHeaders {
		header.AddCell().SetString(name)
	}
	for _, p := range products {
		row := sheet.AddRow()
		row.AddCell().SetString(p.ID.Hex())
		row.AddCell().SetString(p.Name)
		row.AddCell().SetString(p.Brand)
		row.AddCell().SetString(p.Category)
		row.AddCell().SetFloat(p.Price)
		row.AddCell().SetInt(p.CountInStock)
		row.AddCell().SetFloat(p.Rating)
		row.AddCell().SetInt(p.NumReviews)
		row.AddCell().SetString(p.ImageURL)
		row.AddCell().SetString(p.CreatedAt.Format("2006-01-02 15:04:05"))
		row.AddCell().SetString(p.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return file, nil
}
