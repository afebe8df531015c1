package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/listctl/internal/config"
	"github.com/pitabwire/listctl/internal/observability"
	"github.com/pitabwire/listctl/model"
)

// maxResponseBytes bounds the size of a list response body.
const maxResponseBytes = 10 << 20

// RESTOptions configures a REST provider.
type RESTOptions struct {
	Config config.ProviderConfig
	// Secret signs service tokens. No Authorization header is sent when
	// it is empty.
	Secret  []byte
	Client  *http.Client
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// REST calls a JSON API that follows the simple REST convention:
//
//	GET /posts?sort=["title","ASC"]&range=[0,24]&filter={"q":"war"}
//
// The response body is a JSON array of records and the total comes from
// the Content-Range header ("posts 0-24/319"). Calls go through a circuit
// breaker and idempotent retries with exponential backoff.
type REST struct {
	baseURL string
	client  *http.Client
	breaker *CircuitBreaker
	retry   config.RetryConfig
	tokens  *TokenSource
	logger  *zap.Logger
}

// NewREST creates a REST provider.
func NewREST(opts RESTOptions) *REST {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	p := &REST{
		baseURL: strings.TrimRight(opts.Config.BaseURL, "/"),
		client:  client,
		retry:   opts.Config.Retry,
		logger:  logger,
	}
	if len(opts.Secret) > 0 {
		p.tokens = NewTokenSource(opts.Config.Auth, opts.Secret)
	}
	metrics := opts.Metrics
	p.breaker = NewCircuitBreaker(opts.Config.CircuitBreaker, func(s BreakerState) {
		metrics.SetProviderCircuitBreakerState("rest", s.gaugeValue())
		logger.Warn("provider circuit breaker changed state", zap.String("state", s.String()))
	})
	return p
}

// Breaker returns the circuit breaker guarding the provider.
func (p *REST) Breaker() *CircuitBreaker { return p.breaker }

// HealthCheck fails while the circuit breaker is open.
func (p *REST) HealthCheck(context.Context) error {
	if p.breaker.State() == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// GetList implements model.DataProvider.
func (p *REST) GetList(ctx context.Context, resource string, params model.GetListParams) (model.GetListResult, error) {
	reqURL, err := p.listURL(resource, params)
	if err != nil {
		return model.GetListResult{}, err
	}

	maxAttempts := max(p.retry.MaxAttempts, 1)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return model.GetListResult{}, ctx.Err()
			case <-time.After(backoff(p.retry, attempt)):
			}
		}

		res, err := p.getOnce(ctx, resource, reqURL)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable(err) {
			return model.GetListResult{}, err
		}
		p.logger.Debug("provider: retrying list request",
			zap.String("resource", resource),
			zap.Int("attempt", attempt+1),
			zap.Int("max", maxAttempts),
			zap.Error(err))
	}
	return model.GetListResult{}, lastErr
}

// listURL encodes sort, range and filter as JSON query parameters.
func (p *REST) listURL(resource string, params model.GetListParams) (string, error) {
	q := url.Values{}
	if params.Sort.Field != "" {
		sortJSON, _ := json.Marshal([]string{params.Sort.Field, string(params.Sort.Order)})
		q.Set("sort", string(sortJSON))
	}
	if pp := params.Pagination.PerPage; pp > 0 {
		page := max(params.Pagination.Page, 1)
		rangeJSON, _ := json.Marshal([]int{(page - 1) * pp, page*pp - 1})
		q.Set("range", string(rangeJSON))
	}
	filterJSON, err := json.Marshal(params.Filter)
	if err != nil {
		return "", model.NewBadRequestError(fmt.Sprintf("filter cannot be encoded: %v", err))
	}
	q.Set("filter", string(filterJSON))
	return p.baseURL + "/" + url.PathEscape(resource) + "?" + q.Encode(), nil
}

// statusError is a non-2xx provider response.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider responded %d: %s", e.status, e.body)
}

func (p *REST) getOnce(ctx context.Context, resource, reqURL string) (model.GetListResult, error) {
	if err := p.breaker.Allow(); err != nil {
		return model.GetListResult{}, model.NewBackendUnavailableError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.GetListResult{}, fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.tokens != nil {
		token, err := p.tokens.Token()
		if err != nil {
			return model.GetListResult{}, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		p.breaker.RecordFailure()
		if isConnectionError(err) {
			return model.GetListResult{}, model.NewBackendUnavailableError(err)
		}
		return model.GetListResult{}, fmt.Errorf("provider: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		p.breaker.RecordFailure()
		return model.GetListResult{}, fmt.Errorf("provider: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		p.breaker.RecordFailure()
		return model.GetListResult{}, &statusError{status: resp.StatusCode, body: truncate(body)}
	case resp.StatusCode == http.StatusNotFound:
		return model.GetListResult{}, model.NewNotFoundError(fmt.Sprintf("resource %q not found", resource))
	case resp.StatusCode >= 400:
		return model.GetListResult{}, model.NewBadRequestError(truncate(body))
	}
	p.breaker.RecordSuccess()

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var data []model.Record
	if err := dec.Decode(&data); err != nil {
		return model.GetListResult{}, fmt.Errorf("provider: decode %s list: %w", resource, err)
	}
	if data == nil {
		data = []model.Record{}
	}
	return model.GetListResult{Data: data, Total: parseContentRange(resp.Header.Get("Content-Range"))}, nil
}

// parseContentRange reads the total of "posts 0-24/319". It returns nil
// when the header is absent or the total is unknown ("*").
func parseContentRange(h string) *int {
	_, total, ok := strings.Cut(h, "/")
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(total))
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

func truncate(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, ErrBreakerOpen) {
		return false
	}
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code == model.ErrBackendUnavailable
	}
	return false
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}
	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}
