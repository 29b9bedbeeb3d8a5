package cartdto

import (
	"time"

	cartsvc "github.com/angelmondragon/jem-cart/internal/cart"
)

type LineItemResponse struct {
	ProductCode string `json:"product_code"`
	Quantity    int    `json:"quantity"`
}

type CartResponse struct {
	OwnerID    string             `json:"owner_id"`
	LineItems  []LineItemResponse `json:"line_items"`
	TotalPrice string             `json:"total_price"`
	Version    int64              `json:"version"`
	UpdatedAt  *time.Time         `json:"updated_at,omitempty"`
}

type ViewItemResponse struct {
	ProductCode string `json:"product_code"`
	Quantity    int    `json:"quantity"`
	Found       bool   `json:"found"`
	Name        string `json:"name,omitempty"`
	Brand       string `json:"brand,omitempty"`
	Category    string `json:"category,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

// CartViewResponse is the expand=products rendering of a cart.
type CartViewResponse struct {
	CartResponse
	Items []ViewItemResponse `json:"items"`
}

type DeleteCartResponse struct {
	Deleted bool `json:"deleted"`
}

// NewCartResponse renders money with two decimals. A cart that was never
// stored has no updated_at.
func NewCartResponse(c *cartsvc.Cart) CartResponse {
	if c == nil {
		return CartResponse{LineItems: []LineItemResponse{}, TotalPrice: "0.00"}
	}
	items := make([]LineItemResponse, 0, len(c.LineItems))
	for _, line := range c.LineItems {
		items = append(items, LineItemResponse{ProductCode: line.ProductCode, Quantity: line.Quantity})
	}
	resp := CartResponse{
		OwnerID:    c.OwnerID,
		LineItems:  items,
		TotalPrice: c.TotalPrice.StringFixed(2),
		Version:    c.Version,
	}
	if !c.UpdatedAt.IsZero() {
		updated := c.UpdatedAt.UTC()
		resp.UpdatedAt = &updated
	}
	return resp
}

func NewCartViewResponse(view *cartsvc.CartView) CartViewResponse {
	if view == nil {
		return CartViewResponse{CartResponse: NewCartResponse(nil), Items: []ViewItemResponse{}}
	}
	items := make([]ViewItemResponse, 0, len(view.Items))
	for _, item := range view.Items {
		items = append(items, ViewItemResponse{
			ProductCode: item.ProductCode,
			Quantity:    item.Quantity,
			Found:       item.Found,
			Name:        item.Name,
			Brand:       item.Brand,
			Category:    item.Category,
			ImageURL:    item.ImageURL,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			LineTotal:   item.LineTotal.StringFixed(2),
		})
	}
	return CartViewResponse{CartResponse: NewCartResponse(view.Cart), Items: items}
}
