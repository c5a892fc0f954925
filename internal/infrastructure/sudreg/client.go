package sudreg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/registry"
	"github.com/kirillkom/crimson-crm/internal/infrastructure/resilience"
)

const (
	endpointCompanies       = "/subjekti"
	endpointCompanyDetail   = "/detalji_subjekta"
	endpointClassifications = "/nkd"

	operationList     = "sudreg.list_companies"
	operationDetail   = "sudreg.company_detail"
	operationTaxonomy = "sudreg.classifications"

	maxErrorBodyBytes = 2048
)

type Config struct {
	BaseURL        string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// Client is the authenticated, throttled client for the court registry API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenCache
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.RegistryConfig(true), nil)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		tokens:     NewTokenCache(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, httpClient),
		limiter:    rate.NewLimiter(limit, burst),
		executor:   executor,
	}
}

func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.tokens.Token(ctx)
	return err
}

func (c *Client) ListCompanies(ctx context.Context, offset, limit int) ([]registry.Node, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))
	doc, err := c.getJSON(ctx, operationList, endpointCompanies, query)
	if err != nil {
		return nil, err
	}
	return registry.ExtractList(doc), nil
}

func (c *Client) ListClassifications(ctx context.Context) ([]registry.Node, error) {
	doc, err := c.getJSON(ctx, operationTaxonomy, endpointClassifications, nil)
	if err != nil {
		return nil, err
	}
	return registry.ExtractList(doc), nil
}

// GetCompanyDetail fetches the expanded subject document. The response is
// returned as received, envelope included.
func (c *Client) GetCompanyDetail(ctx context.Context, mbs string) (registry.Node, error) {
	query := url.Values{}
	query.Set("tipIdentifikatora", "mbs")
	query.Set("identifikator", mbs)
	query.Set("expand_relations", "true")
	return c.getJSON(ctx, operationDetail, endpointCompanyDetail, query)
}

// getJSON performs one GET through the breaker. Malformed bodies read as null.
func (c *Client) getJSON(ctx context.Context, operation, endpoint string, query url.Values) (registry.Node, error) {
	body, err := resilience.Call(ctx, c.executor, operation, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, endpoint, query)
	}, classifyRegistryError)
	if err != nil {
		return registry.Null(), wrapRegistryError(operation, err)
	}
	return registry.ParseOrNull(body), nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for registry rate limit: %w", err)
	}

	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create registry %s request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &domain.UpstreamRequestError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read registry %s response: %w", endpoint, err)
	}
	return body, nil
}

func classifyRegistryError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if domain.IsKind(err, domain.ErrConfiguration) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var statusErr *domain.UpstreamRequestError
	if errors.As(err, &statusErr) {
		transient := isTransientStatus(statusErr.StatusCode)
		return resilience.ErrorClassification{Retryable: transient, RecordFailure: transient}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func wrapRegistryError(operation string, err error) error {
	switch {
	case domain.IsKind(err, domain.ErrConfiguration),
		domain.IsKind(err, domain.ErrUpstreamAuth),
		domain.IsKind(err, domain.ErrUpstreamRequest),
		domain.IsKind(err, domain.ErrTemporary):
		return err
	case resilience.IsCircuitOpen(err), classifyRegistryError(err).Retryable:
		return domain.WrapError(domain.ErrTemporary, operation, err)
	default:
		return domain.WrapError(domain.ErrUpstreamRequest, operation, err)
	}
}

func isTransientStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
