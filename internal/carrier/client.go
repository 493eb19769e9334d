package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	pageSize = 100
	// MaxPagesInitial bounds a first full sync; MaxPagesIncremental bounds
	// the usual cursor-driven catch-up.
	MaxPagesInitial     = 50
	MaxPagesIncremental = 10
)

// APIError is a non-2xx response from the carrier API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carrier: api error %d: %s", e.Status, e.Body)
}

// ErrNotFound is returned when the carrier does not know the record.
var ErrNotFound = errors.New("carrier: record not found")

// Client talks to the carrier HTTP API. All calls carry a request-level
// timeout via the underlying http.Client; transport errors and 5xx responses
// are retried a bounded number of times, 4xx is terminal.
type Client struct {
	baseURL    string
	httpc      *http.Client
	logger     *slog.Logger
	maxRetries int
}

// NewClient constructs a Client for the given API base URL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpc:      &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: 2,
	}
}

// ListOptions filter a paginated listing call.
type ListOptions struct {
	Since  string
	Cursor string
	Limit  int
}

func (o ListOptions) query() url.Values {
	params := url.Values{}
	if o.Since != "" {
		params.Set("updated_after", o.Since)
	}
	if o.Cursor != "" {
		params.Set("cursor", o.Cursor)
	}
	limit := o.Limit
	if limit <= 0 {
		limit = pageSize
	}
	params.Set("limit", strconv.Itoa(limit))
	return params
}

// ListParcels fetches one page of parcels and returns the next cursor, or ""
// when the listing is exhausted.
func (c *Client) ListParcels(ctx context.Context, creds Credentials, opts ListOptions) ([]Shipment, string, error) {
	var resp parcelListResponse
	if err := c.do(ctx, creds, http.MethodGet, "/parcels?"+opts.query().Encode(), nil, &resp); err != nil {
		return nil, "", err
	}
	shipments := make([]Shipment, 0, len(resp.Parcels))
	for _, raw := range resp.Parcels {
		s, err := parseParcel(raw)
		if err != nil {
			c.logger.Warn("skipping unparseable parcel", slog.Any("error", err))
			continue
		}
		shipments = append(shipments, s)
	}
	return shipments, nextCursor(resp.Next), nil
}

// ListReturns fetches one page of returns and the next cursor.
func (c *Client) ListReturns(ctx context.Context, creds Credentials, opts ListOptions) ([]Return, string, error) {
	var resp returnListResponse
	if err := c.do(ctx, creds, http.MethodGet, "/returns?"+opts.query().Encode(), nil, &resp); err != nil {
		return nil, "", err
	}
	returns := make([]Return, 0, len(resp.Returns))
	for _, raw := range resp.Returns {
		r, err := parseReturn(raw)
		if err != nil {
			c.logger.Warn("skipping unparseable return", slog.Any("error", err))
			continue
		}
		returns = append(returns, r)
	}
	return returns, nextCursor(resp.Next), nil
}

// StreamParcels walks the parcel listing page by page, invoking fn for each
// page in fetch order. The next page download is pipelined with fn running on
// the current one; processing order is unchanged. No ordering of records is
// assumed beyond that.
func (c *Client) StreamParcels(ctx context.Context, creds Credentials, since string, maxPages int, fn func([]Shipment) error) error {
	if maxPages <= 0 {
		maxPages = MaxPagesIncremental
	}
	pages := make(chan []Shipment, 1)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(pages)
		cursor := ""
		for page := 0; page < maxPages; page++ {
			shipments, next, err := c.ListParcels(ctx, creds, ListOptions{Since: since, Cursor: cursor})
			if err != nil {
				return err
			}
			if len(shipments) == 0 {
				return nil
			}
			select {
			case pages <- shipments:
			case <-ctx.Done():
				return ctx.Err()
			}
			if next == "" {
				return nil
			}
			cursor = next
		}
		return nil
	})
	g.Go(func() error {
		for shipments := range pages {
			if err := fn(shipments); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

// FetchAllParcels accumulates every page up to maxPages.
func (c *Client) FetchAllParcels(ctx context.Context, creds Credentials, since string, maxPages int) ([]Shipment, error) {
	var all []Shipment
	err := c.StreamParcels(ctx, creds, since, maxPages, func(page []Shipment) error {
		all = append(all, page...)
		return nil
	})
	return all, err
}

// FetchAllReturns accumulates every returns page up to maxPages.
func (c *Client) FetchAllReturns(ctx context.Context, creds Credentials, since string, maxPages int) ([]Return, error) {
	if maxPages <= 0 {
		maxPages = MaxPagesIncremental
	}
	var all []Return
	cursor := ""
	for page := 0; page < maxPages; page++ {
		returns, next, err := c.ListReturns(ctx, creds, ListOptions{Since: since, Cursor: cursor})
		if err != nil {
			return nil, err
		}
		all = append(all, returns...)
		if next == "" || len(returns) == 0 {
			break
		}
		cursor = next
	}
	return all, nil
}

// GetParcel fetches the current state of a single parcel.
func (c *Client) GetParcel(ctx context.Context, creds Credentials, externalID string) (Shipment, error) {
	var resp parcelEnvelope
	if err := c.do(ctx, creds, http.MethodGet, "/parcels/"+url.PathEscape(externalID), nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return Shipment{}, ErrNotFound
		}
		return Shipment{}, err
	}
	if resp.Error != nil {
		return Shipment{}, &APIError{Status: resp.Error.Code, Body: resp.Error.Message}
	}
	if len(resp.Parcel) == 0 {
		return Shipment{}, ErrNotFound
	}
	return parseParcel(resp.Parcel)
}

// CancelParcel asks the carrier to cancel a parcel.
func (c *Client) CancelParcel(ctx context.Context, creds Credentials, externalID string) error {
	err := c.do(ctx, creds, http.MethodPost, "/parcels/"+url.PathEscape(externalID)+"/cancel", nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

// FetchLabel downloads the shipping label binary from an absolute label URL.
func (c *Client) FetchLabel(ctx context.Context, creds Credentials, labelURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, labelURL, nil)
	if err != nil {
		return nil, fmt.Errorf("carrier: build label request: %w", err)
	}
	req.SetBasicAuth(creds.APIKey, creds.Secret)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("carrier: fetch label: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, creds Credentials, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("carrier: encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("carrier: build request: %w", err)
		}
		req.SetBasicAuth(creds.APIKey, creds.Secret)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("carrier: %s %s: %w", method, path, err)
			continue
		}

		if resp.StatusCode >= 500 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			lastErr = &APIError{Status: resp.StatusCode, Body: string(snippet)}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return &APIError{Status: resp.StatusCode, Body: string(snippet)}
		}

		if out == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("carrier: decode response: %w", err)
		}
		return nil
	}
	return lastErr
}

// nextCursor pulls the cursor parameter out of the "next page" URL the API
// returns, or "" when there is no further page.
func nextCursor(next string) string {
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil {
		return ""
	}
	return u.Query().Get("cursor")
}
