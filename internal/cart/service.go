package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/jem-cart/internal/catalog"
	pkgerrors "github.com/angelmondragon/jem-cart/pkg/errors"
	"github.com/angelmondragon/jem-cart/pkg/logger"
)

const (
	defaultMaxWriteAttempts  = 3
	defaultLookupConcurrency = 4
)

// PriceLookup resolves the current unit price of a product.
type PriceLookup interface {
	Lookup(ctx context.Context, credential, productCode string) (catalog.Quote, error)
}

type mutationRecorder interface {
	ObserveMutation(operation, outcome string)
	ObserveConflict(operation string)
	ObserveLookup(outcome string, elapsed time.Duration)
}

// Identity is the already authenticated caller. Credential is forwarded to
// the catalog untouched.
type Identity struct {
	OwnerID    string
	Credential string
}

// Service exposes the cart aggregate operations.
type Service interface {
	GetCart(ctx context.Context, id Identity) (*Cart, error)
	GetCartView(ctx context.Context, id Identity) (*CartView, error)
	AddItem(ctx context.Context, id Identity, productCode string, quantity int) (*Cart, error)
	RemoveItem(ctx context.Context, id Identity, productCode string, quantity int) (*Cart, error)
	ClearCart(ctx context.Context, id Identity) (*Cart, error)
	DeleteCart(ctx context.Context, id Identity) error
}

type ServiceParams struct {
	Store             Store
	Prices            PriceLookup
	Logger            *logger.Logger
	Metrics           mutationRecorder
	MaxWriteAttempts  int
	LookupConcurrency int
}

type service struct {
	store             Store
	prices            PriceLookup
	logg              *logger.Logger
	metrics           mutationRecorder
	maxWriteAttempts  int
	lookupConcurrency int
}

// NewService builds the cart core on top of a store and a price source.
func NewService(params ServiceParams) (Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if params.Prices == nil {
		return nil, fmt.Errorf("price lookup required")
	}
	svc := &service{
		store:             params.Store,
		prices:            params.Prices,
		logg:              params.Logger,
		metrics:           params.Metrics,
		maxWriteAttempts:  params.MaxWriteAttempts,
		lookupConcurrency: params.LookupConcurrency,
	}
	if svc.metrics == nil {
		svc.metrics = noopRecorder{}
	}
	if svc.maxWriteAttempts <= 0 {
		svc.maxWriteAttempts = defaultMaxWriteAttempts
	}
	if svc.lookupConcurrency <= 0 {
		svc.lookupConcurrency = defaultLookupConcurrency
	}
	return svc, nil
}

func (s *service) GetCart(ctx context.Context, id Identity) (*Cart, error) {
	if err := id.validate(); err != nil {
		return nil, err
	}
	return s.load(ctx, id.OwnerID)
}

func (s *service) AddItem(ctx context.Context, id Identity, productCode string, quantity int) (*Cart, error) {
	return s.mutate(ctx, id, Add(productCode, quantity))
}

func (s *service) RemoveItem(ctx context.Context, id Identity, productCode string, quantity int) (*Cart, error) {
	return s.mutate(ctx, id, Remove(productCode, quantity))
}

func (s *service) ClearCart(ctx context.Context, id Identity) (*Cart, error) {
	return s.mutate(ctx, id, Clear())
}

func (s *service) DeleteCart(ctx context.Context, id Identity) error {
	if err := id.validate(); err != nil {
		return err
	}
	err := s.store.Delete(ctx, id.OwnerID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCartNotFound):
		return errCartNotFound()
	default:
		return errStorage(err, "delete cart")
	}
}

// mutate runs load, apply, re-price and versioned write, starting over when
// another writer commits between the load and the write.
func (s *service) mutate(ctx context.Context, id Identity, m Mutation) (*Cart, error) {
	op := string(m.Kind)
	if err := id.validate(); err != nil {
		return nil, err
	}
	if err := m.validate(); err != nil {
		s.metrics.ObserveMutation(op, outcomeOf(err))
		return nil, err
	}

	ctx = s.withOwner(ctx, id.OwnerID)
	for attempt := 1; attempt <= s.maxWriteAttempts; attempt++ {
		current, err := s.load(ctx, id.OwnerID)
		if err != nil {
			s.metrics.ObserveMutation(op, outcomeOf(err))
			return nil, err
		}
		if m.Kind == MutationClear && current.IsEmpty() {
			s.metrics.ObserveMutation(op, "noop")
			return current, nil
		}

		next := current.Clone()
		if err := m.apply(next); err != nil {
			s.metrics.ObserveMutation(op, outcomeOf(err))
			return nil, err
		}
		total, err := s.price(ctx, id.Credential, next.LineItems)
		if err != nil {
			s.metrics.ObserveMutation(op, outcomeOf(err))
			return nil, err
		}
		next.TotalPrice = total
		next.Version = current.Version + 1

		err = s.store.Write(ctx, id.OwnerID, current.Version, next)
		switch {
		case err == nil:
			s.metrics.ObserveMutation(op, "success")
			s.info(ctx, "cart.mutation.committed", map[string]any{
				"operation": op,
				"version":   next.Version,
				"attempt":   attempt,
			})
			return next, nil
		case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrCartNotFound):
			s.metrics.ObserveConflict(op)
			s.warn(ctx, "cart.version_conflict", map[string]any{
				"operation":        op,
				"expected_version": current.Version,
				"attempt":          attempt,
			})
			continue
		default:
			wrapped := errStorage(err, "persist cart")
			s.metrics.ObserveMutation(op, outcomeOf(wrapped))
			return nil, wrapped
		}
	}

	s.metrics.ObserveMutation(op, "conflict")
	s.warn(ctx, "cart.mutation.conflict_exhausted", map[string]any{
		"operation": op,
		"attempts":  s.maxWriteAttempts,
	})
	return nil, errConcurrentModification(s.maxWriteAttempts)
}

// load returns the stored cart or a fresh empty one at version 0.
func (s *service) load(ctx context.Context, ownerID string) (*Cart, error) {
	current, err := s.store.Read(ctx, ownerID)
	if errors.Is(err, ErrCartNotFound) {
		return NewCart(ownerID), nil
	}
	if err != nil {
		return nil, errStorage(err, "load cart")
	}
	if current.LineItems == nil {
		current.LineItems = []LineItem{}
	}
	current.OwnerID = ownerID
	return current, nil
}

// price looks every line up concurrently and returns the exact recomputed
// total.
// The first failure cancels the remaining lookups.
func (s *service) price(ctx context.Context, credential string, items []LineItem) (decimal.Decimal, error) {
	quotes, err := s.quoteAll(ctx, credential, items)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for i, item := range items {
		total = total.Add(quotes[i].UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total, nil
}

func (s *service) quoteAll(ctx context.Context, credential string, items []LineItem) ([]catalog.Quote, error) {
	quotes := make([]catalog.Quote, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.lookupConcurrency)
	for i, item := range items {
		g.Go(func() error {
			start := time.Now()
			quote, err := s.prices.Lookup(gctx, credential, item.ProductCode)
			if err != nil {
				s.metrics.ObserveLookup("error", time.Since(start))
				return lookupError(err)
			}
			if !quote.Found {
				s.metrics.ObserveLookup("not_found", time.Since(start))
				return errProductUnavailable(item.ProductCode)
			}
			s.metrics.ObserveLookup("found", time.Since(start))
			quotes[i] = quote
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return quotes, nil
}

func (id Identity) validate() error {
	if id.OwnerID == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "cart owner is required")
	}
	return nil
}

func (s *service) withOwner(ctx context.Context, ownerID string) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithOwnerID(ctx, ownerID)
}

func (s *service) info(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), msg)
}

func (s *service) warn(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), msg)
}

// outcomeOf maps a terminal error to its metric label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrProductNotInCart):
		return "not_in_cart"
	case errors.Is(err, ErrProductUnavailable):
		return "product_unavailable"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrUpstreamError):
		return "upstream_error"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case pkgerrors.HasCode(err, pkgerrors.CodeValidation):
		return "invalid"
	default:
		return "storage"
	}
}

type noopRecorder struct{}

func (noopRecorder) ObserveMutation(string, string)      {}
func (noopRecorder) ObserveConflict(string)              {}
func (noopRecorder) ObserveLookup(string, time.Duration) {}
