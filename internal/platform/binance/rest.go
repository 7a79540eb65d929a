package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// DefaultDepthLimit is the number of levels requested for book seeding.
const DefaultDepthLimit = 100

// RESTConfig configures the depth REST client.
type RESTConfig struct {
	// BaseURL is the REST API root, e.g. "https://api.binance.com".
	BaseURL string
	// RequestsPerMinute bounds outgoing requests. Zero disables limiting.
	RequestsPerMinute int
	// QueueTimeout bounds how long a request may wait for a limiter token.
	QueueTimeout time.Duration
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// DepthClient fetches full-depth order book snapshots over REST. Requests are
// throttled by a token bucket shared by all symbols.
type DepthClient struct {
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	queueTimeout time.Duration
}

// NewDepthClient creates a DepthClient.
func NewDepthClient(cfg RESTConfig) *DepthClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
		limiter = rate.NewLimiter(perSecond, cfg.RequestsPerMinute)
	}
	return &DepthClient{
		baseURL:      cfg.BaseURL,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      limiter,
		queueTimeout: cfg.QueueTimeout,
	}
}

// FetchDepth returns the current full-depth book for symbol with up to limit
// levels per side.
func (c *DepthClient) FetchDepth(ctx context.Context, symbol string, limit int) (domain.DepthSnapshot, error) {
	if limit <= 0 {
		limit = DefaultDepthLimit
	}
	if err := c.wait(ctx); err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("binance/rest: depth %s: %w", symbol, err)
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("limit", strconv.Itoa(limit))

	respBody, err := c.doRequest(ctx, "/api/v3/depth?"+q.Encode())
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("binance/rest: depth %s: %w", symbol, err)
	}

	var depth APIDepth
	if err := json.Unmarshal(respBody, &depth); err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("binance/rest: decode depth %s: %w", symbol, err)
	}
	snap, err := depth.ToDomain(symbol)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("binance/rest: depth %s: %w", symbol, err)
	}
	return snap, nil
}

// wait blocks until the limiter grants a token or the queue timeout elapses.
func (c *DepthClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if c.queueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queueTimeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: limiter queue: %v", domain.ErrRateLimited, err)
	}
	return nil
}

func (c *DepthClient) doRequest(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr APIError
	msg := string(body)
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		msg = fmt.Sprintf("code %d: %s", apiErr.Code, apiErr.Msg)
	}

	switch {
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case statusCode == http.StatusBadRequest && apiErr.Code == -1121:
		return fmt.Errorf("%w: %s", domain.ErrInvalidSymbol, msg)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}
