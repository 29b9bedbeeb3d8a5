package cart

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ViewItem is a line item decorated with the catalog's current details.
type ViewItem struct {
	ProductCode string
	Quantity    int
	Name        string
	Brand       string
	Category    string
	ImageURL    string
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
	Found       bool
}

// CartView pairs the stored cart with live product details. The cart's
// TotalPrice is the committed one; line totals use current prices.
type CartView struct {
	Cart  *Cart
	Items []ViewItem
}

// GetCartView loads the cart and decorates each line with catalog details.
// It never writes. Products the catalog no longer knows come back with
// Found=false instead of failing the read.
func (s *service) GetCartView(ctx context.Context, id Identity) (*CartView, error) {
	current, err := s.GetCart(ctx, id)
	if err != nil {
		return nil, err
	}

	items := make([]ViewItem, len(current.LineItems))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.lookupConcurrency)
	for i, line := range current.LineItems {
		g.Go(func() error {
			start := time.Now()
			quote, err := s.prices.Lookup(gctx, id.Credential, line.ProductCode)
			if err != nil {
				s.metrics.ObserveLookup("error", time.Since(start))
				return lookupError(err)
			}
			item := ViewItem{
				ProductCode: line.ProductCode,
				Quantity:    line.Quantity,
				UnitPrice:   decimal.Zero,
				LineTotal:   decimal.Zero,
			}
			if quote.Found {
				s.metrics.ObserveLookup("found", time.Since(start))
				item.Found = true
				item.Name = quote.Name
				item.Brand = quote.Brand
				item.Category = quote.Category
				item.ImageURL = quote.ImageURL
				item.UnitPrice = quote.UnitPrice
				item.LineTotal = quote.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
			} else {
				s.metrics.ObserveLookup("not_found", time.Since(start))
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &CartView{Cart: current, Items: items}, nil
}
