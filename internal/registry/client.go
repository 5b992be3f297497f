// Package registry is the product registration pipeline: it evaluates the
// target category, maps the grade to a sourcing action, and lists products on
// the allowed marketplaces while recording every attempt as a trial.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
	"github.com/kestrel-commerce/sourcing-cli/internal/resilience"
)

// ClientConfig configures the marketplace listing client.
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	MaxRetries        int
}

// ListingRequest is one listing attempt against one market.
type ListingRequest struct {
	Market       string        `json:"market"`
	CategoryCode string        `json:"category_code"`
	Product      model.Product `json:"product"`
}

// ListingResult is the marketplace's verdict on a listing attempt.
type ListingResult struct {
	ListingID       string `json:"listing_id"`
	Approved        bool   `json:"approved"`
	ExactMatch      bool   `json:"exact_match"`
	FallbackUsed    bool   `json:"fallback_used"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// ListingAPI is the surface the registrar needs; Client implements it over
// HTTP, tests use fakes.
type ListingAPI interface {
	CreateListing(ctx context.Context, req ListingRequest) (*ListingResult, error)
}

// Client is a rate-limited marketplace API client with per-market circuit
// breakers and transient-error retry.
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	breakers *resilience.ServiceBreakers
}

// NewClient creates a marketplace client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	retryCfg := resilience.FromRetryConfig(cfg.MaxRetries, 0, 0, 0, -1)
	retryCfg.OnRetry = resilience.RetryLogger("marketplace", "create_listing")

	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		retry:    retryCfg,
		breakers: resilience.NewServiceBreakers(resilience.FromCircuitConfig(0, 0)),
	}
}

// CreateListing submits one listing. A rejected listing is a successful call:
// the rejection comes back in the result, not as an error.
func (c *Client) CreateListing(ctx context.Context, req ListingRequest) (*ListingResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "registry: rate limit wait")
	}

	cb := c.breakers.Get(req.Market)
	res, err := resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*ListingResult, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*ListingResult, error) {
			return c.doCreate(ctx, req)
		})
	})
	if err != nil {
		return nil, err
	}

	zap.L().Debug("registry: listing submitted",
		zap.String("market", req.Market),
		zap.String("category", req.CategoryCode),
		zap.String("product_id", req.Product.ID),
		zap.Bool("approved", res.Approved),
	)
	return res, nil
}

func (c *Client) doCreate(ctx context.Context, req ListingRequest) (*ListingResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "registry: marshal listing request")
	}

	url := fmt.Sprintf("%s/markets/%s/listings", c.baseURL, req.Market)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "registry: build listing request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: %s listing call", req.Market)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &resilience.MarketplaceError{
			Market:     req.Market,
			StatusCode: resp.StatusCode,
			Message:    string(payload),
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	var res ListingResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, eris.Wrapf(err, "registry: decode %s listing response", req.Market)
	}
	return &res, nil
}
