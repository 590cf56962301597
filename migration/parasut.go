package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/migration_backend/models"
)

func readAllAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

const parasutBaseURL = "https://api.parasut.com/v4"

// Parasut allows a small number of requests per second per token; the shared
// ticker paces every Extract call. 429 responses honor Retry-After before the
// single retry.
var parasutRateLimiter = time.Tick(250 * time.Millisecond)

type parasutEndpoint struct {
	Path   string
	Filter url.Values
}

var parasutEndpoints = map[models.MigrationEntityType]parasutEndpoint{
	models.MigrationEntityTypeCategory: {Path: "item_categories"},
	models.MigrationEntityTypeProduct:  {Path: "products"},
	models.MigrationEntityTypeCustomer: {Path: "contacts", Filter: url.Values{"filter[account_type]": {"customer"}}},
	models.MigrationEntityTypeSupplier: {Path: "contacts", Filter: url.Values{"filter[account_type]": {"supplier"}}},
	models.MigrationEntityTypeInvoice:  {Path: "sales_invoices"},
}

// parasutAdapter pulls rows from the Parasut REST API (JSON:API payloads).
// The cursor is the 1-based page number of the next unread page.
type parasutAdapter struct {
	cfg    *AdapterConfig
	client *http.Client
}

func newParasutAdapter(cfg *AdapterConfig) *parasutAdapter {
	return &parasutAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *parasutAdapter) Connect(ctx context.Context) error {
	// Probe the company endpoint to surface bad tokens before extraction.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/item_categories?page[size]=1", parasutBaseURL, a.cfg.CompanyId), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: parasut responded %d", ErrAuthenticationFail, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: parasut responded %d", ErrSourceUnreachable, resp.StatusCode)
	}
	return nil
}

func (a *parasutAdapter) Disconnect() error { return nil }

type parasutListResponse struct {
	Data []struct {
		Id         string                     `json:"id"`
		Attributes map[string]json.RawMessage `json:"attributes"`
	} `json:"data"`
	Meta struct {
		TotalPages  int `json:"total_pages"`
		CurrentPage int `json:"current_page"`
	} `json:"meta"`
}

func (a *parasutAdapter) Extract(ctx context.Context, entityType models.MigrationEntityType, cursor string) (*ExtractPage, error) {
	endpoint, ok := parasutEndpoints[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: parasut does not provide %s", ErrInvalidSourceConfig, entityType)
	}

	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: bad parasut cursor %q", ErrInvalidSourceConfig, cursor)
		}
		page = n
	}

	query := url.Values{}
	for k, vs := range endpoint.Filter {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set("page[number]", strconv.Itoa(page))
	query.Set("page[size]", strconv.Itoa(min(a.cfg.EffectivePageSize(), 100)))

	body, err := a.get(ctx, fmt.Sprintf("%s/%s/%s?%s", parasutBaseURL, a.cfg.CompanyId, endpoint.Path, query.Encode()))
	if err != nil {
		return nil, err
	}

	var decoded parasutListResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode parasut response: %v", ErrSourceUnreachable, err)
	}

	out := &ExtractPage{Cursor: strconv.Itoa(page + 1)}
	for _, item := range decoded.Data {
		row := RawRow{"code": item.Id}
		for field, raw := range item.Attributes {
			var asString string
			if err := json.Unmarshal(raw, &asString); err == nil {
				row[field] = asString
				continue
			}
			var asNumber float64
			if err := json.Unmarshal(raw, &asNumber); err == nil {
				row[field] = strconv.FormatFloat(asNumber, 'f', -1, 64)
			}
		}
		out.Rows = append(out.Rows, row)
	}
	out.Done = len(decoded.Data) == 0 || decoded.Meta.CurrentPage >= decoded.Meta.TotalPages
	return out, nil
}

func (a *parasutAdapter) get(ctx context.Context, rawURL string) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-parasutRateLimiter:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
		}
		req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := 2 * time.Second
			if s := resp.Header.Get("Retry-After"); s != "" {
				if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
					wait = time.Duration(secs) * time.Second
				}
			}
			resp.Body.Close()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		body, readErr := readAllAndClose(resp)
		if readErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnreachable, readErr)
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("%w: parasut responded %d", ErrAuthenticationFail, resp.StatusCode)
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("%w: parasut responded %d", ErrSourceUnreachable, resp.StatusCode)
		}
		return body, nil
	}
	return nil, fmt.Errorf("%w: parasut rate limit not lifted", ErrSourceUnreachable)
}
