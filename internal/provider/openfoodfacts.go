package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/noot-app/allergen-scanner/internal/types"
	"github.com/noot-app/allergen-scanner/internal/version"
	"github.com/sethvargo/go-retry"
)

const (
	// DefaultBaseURL is the public Open Food Facts instance
	DefaultBaseURL = "https://world.openfoodfacts.org"

	defaultTimeout  = 10 * time.Second
	defaultBackoff  = 250 * time.Millisecond
	defaultPageSize = 10
	maxResponseSize = 8 << 20
)

// searchResponse is the body of the legacy search endpoint
type searchResponse struct {
	Count    int             `json:"count"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Products []types.Product `json:"products"`
}

// OpenFoodFacts is an HTTP client for the Open Food Facts v0 API
type OpenFoodFacts struct {
	baseURL    string
	client     *http.Client
	maxRetries uint64
	backoff    time.Duration
	pageSize   int
	userAgent  string
	log        *slog.Logger
}

// Ensure OpenFoodFacts implements Provider
var _ Provider = (*OpenFoodFacts)(nil)

// Option configures an OpenFoodFacts client
type Option func(*OpenFoodFacts)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *OpenFoodFacts) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *OpenFoodFacts) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithMaxRetries sets how many times a retryable failure is retried
func WithMaxRetries(n int) Option {
	return func(c *OpenFoodFacts) {
		if n >= 0 {
			c.maxRetries = uint64(n)
		}
	}
}

// WithBackoff sets the base delay of the exponential backoff
func WithBackoff(base time.Duration) Option {
	return func(c *OpenFoodFacts) {
		if base > 0 {
			c.backoff = base
		}
	}
}

// WithPageSize bounds the number of search results
func WithPageSize(n int) Option {
	return func(c *OpenFoodFacts) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewOpenFoodFacts creates a client for the instance at baseURL
func NewOpenFoodFacts(baseURL string, logger *slog.Logger, opts ...Option) *OpenFoodFacts {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &OpenFoodFacts{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: defaultTimeout},
		maxRetries: 2,
		backoff:    defaultBackoff,
		pageSize:   defaultPageSize,
		userAgent:  version.UserAgent(),
		log:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchByBarcode fetches a single product record
func (c *OpenFoodFacts) FetchByBarcode(ctx context.Context, barcode string) (*types.ProductResponse, error) {
	start := time.Now()
	barcode = strings.TrimSpace(barcode)
	c.log.Debug("FetchByBarcode starting", "barcode", barcode)

	if barcode == "" {
		return nil, ErrNotFound
	}

	endpoint := fmt.Sprintf("%s/api/v0/product/%s.json", c.baseURL, url.PathEscape(barcode))

	var resp types.ProductResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.log.Debug("Barcode not found upstream", "barcode", barcode, "duration", time.Since(start))
			return nil, ErrNotFound
		}
		c.log.Error("Barcode lookup failed", "barcode", barcode, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("barcode lookup failed: %w", err)
	}

	if !resp.Found() {
		c.log.Debug("Barcode not found upstream", "barcode", barcode, "status", resp.Status, "duration", time.Since(start))
		return nil, ErrNotFound
	}
	if resp.Code == "" {
		resp.Code = barcode
	}
	if resp.Product.Code == "" {
		resp.Product.Code = resp.Code
	}

	c.log.Info("FetchByBarcode completed", "barcode", barcode, "duration", time.Since(start))
	return &resp, nil
}

// SearchByName runs a simple full-text search and returns the first page
func (c *OpenFoodFacts) SearchByName(ctx context.Context, query string) ([]types.ProductResponse, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	c.log.Debug("SearchByName starting", "query", query, "page_size", c.pageSize)

	if query == "" {
		return []types.ProductResponse{}, nil
	}

	params := url.Values{}
	params.Set("search_terms", query)
	params.Set("search_simple", "1")
	params.Set("action", "process")
	params.Set("json", "1")
	params.Set("page_size", strconv.Itoa(c.pageSize))
	endpoint := c.baseURL + "/cgi/search.pl?" + params.Encode()

	var body searchResponse
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		if errors.Is(err, ErrNotFound) {
			return []types.ProductResponse{}, nil
		}
		c.log.Error("Search failed", "query", query, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]types.ProductResponse, 0, len(body.Products))
	for _, p := range body.Products {
		if len(results) >= c.pageSize {
			break
		}
		results = append(results, types.NewProductResponse(p))
	}

	c.log.Info("SearchByName completed", "query", query, "count", len(results), "duration", time.Since(start))
	return results, nil
}

// HealthCheck reports whether the API answers at all
func (c *OpenFoodFacts) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("open food facts unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("open food facts unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// getJSON performs a GET with bounded exponential retry and decodes the body into out.
// Transport errors, 429 and 5xx are retried; 404 maps to ErrNotFound.
func (c *OpenFoodFacts) getJSON(ctx context.Context, endpoint string, out any) error {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	attempt := 0

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("Request failed, retrying", "attempt", attempt, "error", err)
			return retry.RetryableError(fmt.Errorf("request failed: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
			c.log.Warn("Upstream error, retrying", "attempt", attempt, "status", resp.StatusCode)
			return retry.RetryableError(fmt.Errorf("upstream returned status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}
