package cartdto

// ItemRequest is the body of POST and PATCH /cart/items. Quantity is checked
// by the cart service so non-positive values surface as invalid quantity.
type ItemRequest struct {
	ProductCode string `json:"product_code" validate:"required,notblank,max=128"`
	Quantity    int    `json:"quantity"`
}
