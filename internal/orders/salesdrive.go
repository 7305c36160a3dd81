package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultPageLimit = 100
	maxPages         = 50
	maxAttempts      = 3
)

// Client fetches orders from a SalesDrive-compatible CRM. Requests are
// rate-limited and transient failures (transport errors, 5xx) are retried
// with exponential backoff; an empty result set is a valid outcome and is
// never retried.
type Client struct {
	BaseURL string
	APIKey  string

	HTTPClient *http.Client
	Limiter    *rate.Limiter

	// Location is the civil timezone the CRM expects window bounds in.
	Location *time.Location

	PageLimit int
}

// NewClient builds an order-source client with sane defaults.
func NewClient(baseURL, apiKey string, loc *time.Location) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Limiter:    rate.NewLimiter(rate.Limit(5), 5),
		Location:   loc,
		PageLimit:  defaultPageLimit,
	}
}

type listResponse struct {
	Data []RawOrder `json:"data"`
}

// FetchOrders pulls every order whose orderTime falls in [start, end),
// following pagination until a short page.
func (c *Client) FetchOrders(ctx context.Context, start, end time.Time) ([]RawOrder, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("orders.FetchOrders: base URL is not configured")
	}
	if c.APIKey == "" {
		return nil, fmt.Errorf("orders.FetchOrders: API key is not configured")
	}

	limit := c.PageLimit
	if limit <= 0 {
		limit = defaultPageLimit
	}

	var all []RawOrder
	for page := 1; page <= maxPages; page++ {
		batch, err := c.fetchPage(ctx, start, end, page, limit)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < limit {
			break
		}
	}
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, start, end time.Time, page, limit int) ([]RawOrder, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("page", strconv.Itoa(page))
	params.Set("filter[orderTime][from]", start.In(c.Location).Format("2006-01-02 15:04:05"))
	params.Set("filter[orderTime][to]", end.In(c.Location).Format("2006-01-02 15:04:05"))

	endpoint := c.BaseURL + "/api/order/list/?" + params.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(1<<uint(attempt-2)) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		batch, retryable, err := c.doRequest(ctx, endpoint)
		if err == nil {
			return batch, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		log.Printf("orders: fetch attempt %d/%d failed: %v", attempt, maxAttempts, err)
	}
	return nil, fmt.Errorf("orders.FetchOrders: %d attempts exhausted: %w", maxAttempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context, endpoint string) (batch []RawOrder, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("X-Api-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("orders: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("orders: read body: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("orders: status %d: %s", resp.StatusCode, bodyHead(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("orders: status %d: %s", resp.StatusCode, bodyHead(body))
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("orders: decode response: %w", err)
	}
	return parsed.Data, false, nil
}

// bodyHead keeps diagnostics short: the first part of a response body is
// enough to identify the failure.
func bodyHead(body []byte) string {
	const head = 256
	if len(body) > head {
		return string(body[:head]) + "..."
	}
	return string(body)
}
