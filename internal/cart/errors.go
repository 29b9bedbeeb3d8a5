package cart

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/jem-cart/internal/catalog"
	pkgerrors "github.com/angelmondragon/jem-cart/pkg/errors"
)

var (
	ErrInvalidQuantity        = errors.New("quantity must be a positive integer")
	ErrProductNotInCart       = errors.New("product not in cart")
	ErrProductUnavailable     = errors.New("product unavailable")
	ErrConcurrentModification = errors.New("cart modified concurrently")
	ErrUpstreamUnavailable    = catalog.ErrUnavailable
	ErrUpstreamError          = catalog.ErrUpstream

	// Store sentinels.
	ErrCartNotFound    = errors.New("cart not found")
	ErrVersionConflict = errors.New("cart version conflict")
)

func errInvalidQuantity(qty int) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidQuantity, "quantity must be a positive integer").
		WithDetails(map[string]any{"quantity": qty, "max_quantity": MaxLineQuantity})
}

func errProductCodeRequired() error {
	return pkgerrors.New(pkgerrors.CodeValidation, "product code is required")
}

func errUnknownMutation(kind MutationKind) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown cart mutation %q", kind))
}

func errProductNotInCart(code string) error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrProductNotInCart, "product not in cart").
		WithDetails(map[string]any{"product_code": code})
}

func errProductUnavailable(code string) error {
	return pkgerrors.Wrap(pkgerrors.CodeProductUnavailable, ErrProductUnavailable, "product unavailable").
		WithDetails(map[string]any{"product_code": code})
}

func errConcurrentModification(attempts int) error {
	return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrConcurrentModification, "cart was modified concurrently, retry the request").
		WithDetails(map[string]any{"attempts": attempts})
}

func errCartNotFound() error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrCartNotFound, "cart not found")
}

func errStorage(err error, op string) error {
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op)
}

// lookupError keeps typed catalog failures intact and classifies anything
// else a PriceLookup returns as the catalog being unreachable.
func lookupError(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, ErrUpstreamError) {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "price lookup failed")
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "price lookup failed")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err), "price lookup failed")
}
