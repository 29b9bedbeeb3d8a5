package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/jem-cart/pkg/errors"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

const (
	defaultTimeout              = 3 * time.Second
	defaultRetryBackoff         = 100 * time.Millisecond
	responseBodyReadLimit int64 = 1024
	productPathPrefix           = "product"
)

var (
	// ErrUnavailable marks lookups that could not reach the catalog in time.
	ErrUnavailable = errors.New("catalog unavailable")
	// ErrUpstream marks lookups the catalog answered with a failure.
	ErrUpstream = errors.New("catalog upstream error")

	errBaseURLRequired = errors.New("catalog base url is required")
)

// Quote is the catalog's view of a product at lookup time.
type Quote struct {
	ProductCode string
	Name        string
	Brand       string
	Category    string
	ImageURL    string
	UnitPrice   decimal.Decimal
	Stock       int
	Found       bool
}

// Client resolves product codes against the catalog service. It never caches.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	maxRetries uint64
	backoff    time.Duration
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout bounds a whole lookup, retries included.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetries sets how many extra attempts transient failures get and the
// initial exponential backoff between them. maxRetries of zero disables retries.
func WithRetries(maxRetries uint64, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewClient builds a catalog client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("parse catalog base url: %w", err)
	}

	client := &Client{
		baseURL: trimmed,
		timeout: defaultTimeout,
		backoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: client.timeout}
	}

	return client, nil
}

type productResponse struct {
	Code     string           `json:"code"`
	Name     string           `json:"name"`
	Brand    string           `json:"brand"`
	Category string           `json:"category"`
	ImageURL string           `json:"image_url"`
	Price    *decimal.Decimal `json:"price"`
	Quantity int              `json:"quantity"`
}

// Lookup fetches the current price of productCode, forwarding credential as
// the Authorization header. A 404 yields Found=false and a nil error.
func (c *Client) Lookup(ctx context.Context, credential, productCode string) (Quote, error) {
	if c == nil {
		return Quote{}, pkgerrors.Wrap(pkgerrors.CodeDependency, ErrUnavailable, "catalog client not configured")
	}
	code := strings.TrimSpace(productCode)
	if code == "" {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "product code is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	quote, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (Quote, error) {
		q, err := c.fetch(ctx, credential, code)
		if err != nil {
			var transient *transientError
			if errors.As(err, &transient) {
				return Quote{}, retry.RetryableError(transient.err)
			}
			return Quote{}, err
		}
		return q, nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return Quote{}, err
		}
		return Quote{}, unavailable(err, code)
	}
	return quote, nil
}

// transientError marks failures worth another attempt.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func (c *Client) fetch(ctx context.Context, credential, code string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, productPathPrefix, url.PathEscape(code))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, pkgerrors.Wrap(pkgerrors.CodeUpstream, fmt.Errorf("%w: %w", ErrUpstream, err), "build catalog request")
	}
	req.Header.Set("Accept", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, &transientError{err: unavailable(err, code)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Quote{ProductCode: code, Found: false}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		failure := upstream(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), code)
		if retryableStatus(resp.StatusCode) {
			return Quote{}, &transientError{err: failure}
		}
		return Quote{}, failure
	}

	var body productResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if ctx.Err() != nil {
			return Quote{}, &transientError{err: unavailable(err, code)}
		}
		return Quote{}, upstream(fmt.Errorf("decode product: %w", err), code)
	}
	if body.Price == nil {
		return Quote{}, upstream(errors.New("product payload has no price"), code)
	}
	if body.Price.IsNegative() {
		return Quote{}, upstream(fmt.Errorf("negative price %s", body.Price.String()), code)
	}

	return Quote{
		ProductCode: code,
		Name:        body.Name,
		Brand:       body.Brand,
		Category:    body.Category,
		ImageURL:    body.ImageURL,
		UnitPrice:   *body.Price,
		Stock:       body.Quantity,
		Found:       true,
	}, nil
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func unavailable(cause error, code string) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %w", ErrUnavailable, cause), "catalog unavailable").
		WithDetails(map[string]any{"product_code": code})
}

func upstream(cause error, code string) error {
	return pkgerrors.Wrap(pkgerrors.CodeUpstream, fmt.Errorf("%w: %w", ErrUpstream, cause), "catalog lookup failed").
		WithDetails(map[string]any{"product_code": code})
}
