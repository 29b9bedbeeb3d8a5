package cart

import (
	"context"
	"net/http"
	"strings"

	cartdto "github.com/angelmondragon/jem-cart/api/controllers/cart/dto"
	"github.com/angelmondragon/jem-cart/api/middleware"
	"github.com/angelmondragon/jem-cart/api/responses"
	"github.com/angelmondragon/jem-cart/api/validators"
	cartsvc "github.com/angelmondragon/jem-cart/internal/cart"
	pkgerrors "github.com/angelmondragon/jem-cart/pkg/errors"
	"github.com/angelmondragon/jem-cart/pkg/logger"
)

const expandProducts = "products"

// CartFetch returns the caller's cart, or an empty cart at version 0.
// With ?expand=products each line carries live catalog details.
func CartFetch(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		id := identityFromRequest(r)

		expand := strings.TrimSpace(r.URL.Query().Get("expand"))
		switch expand {
		case "":
			record, err := svc.GetCart(r.Context(), id)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, cartdto.NewCartResponse(record))
		case expandProducts:
			view, err := svc.GetCartView(r.Context(), id)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, cartdto.NewCartViewResponse(view))
		default:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported expand value").
				WithDetails(map[string]any{"expand": expand}))
		}
	}
}

// CartAddItem merges a quantity of a product into the cart.
func CartAddItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return itemMutation(svc, logg, cartsvc.Service.AddItem)
}

// CartRemoveItem decrements a product's quantity, dropping the line at zero.
func CartRemoveItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return itemMutation(svc, logg, cartsvc.Service.RemoveItem)
}

// CartClear empties the cart. Clearing an empty cart changes nothing.
func CartClear(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		record, err := svc.ClearCart(r.Context(), identityFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, cartdto.NewCartResponse(record))
	}
}

// CartDelete removes the stored cart; 404 when there is none.
func CartDelete(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		if err := svc.DeleteCart(r.Context(), identityFromRequest(r)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, cartdto.DeleteCartResponse{Deleted: true})
	}
}

type itemMutator func(svc cartsvc.Service, ctx context.Context, id cartsvc.Identity, productCode string, quantity int) (*cartsvc.Cart, error)

func itemMutation(svc cartsvc.Service, logg *logger.Logger, mutate itemMutator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		var payload cartdto.ItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := mutate(svc, r.Context(), identityFromRequest(r), strings.TrimSpace(payload.ProductCode), payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, cartdto.NewCartResponse(record))
	}
}

func identityFromRequest(r *http.Request) cartsvc.Identity {
	caller, _ := middleware.CallerFromContext(r.Context())
	return cartsvc.Identity{OwnerID: caller.OwnerID, Credential: caller.Credential}
}
