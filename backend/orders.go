package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// PendingOrders fetches the products currently waiting on stock.
func (c *Client) PendingOrders(ctx context.Context) (*PendingOrdersResponse, error) {
	var resp PendingOrdersResponse
	if err := c.get(ctx, "/api/pending-orders", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats fetches the per-product client counts.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.get(ctx, "/api/stats", &resp); err != nil {
		return nil, err
	}
	if resp.Stats == nil {
		if resp.Error != "" {
			return nil, fmt.Errorf("backend stats: %s", resp.Error)
		}
		resp.Stats = &ProductStats{}
	}
	return &resp, nil
}

// CompleteOrder submits one completion. A non-nil error means the request
// never produced a readable reply (network, HTTP error without a JSON body,
// undecodable body); a reply with success=false is returned as an outcome.
func (c *Client) CompleteOrder(ctx context.Context, req CompletionRequest) (CompletionOutcome, error) {
	const path = "/api/complete-order"
	resp, err := c.postResponse(ctx, path, req)
	if err != nil {
		return CompletionOutcome{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionOutcome{}, fmt.Errorf("backend read body: %w", err)
	}

	var out struct {
		CompletionOutcome
		Present *bool `json:"success"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Present == nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return CompletionOutcome{}, &StatusError{Path: path, Code: resp.StatusCode, Body: string(data)}
		}
		if err == nil {
			err = fmt.Errorf("missing success flag")
		}
		return CompletionOutcome{}, fmt.Errorf("backend decode %s: %w", path, err)
	}
	out.Success = *out.Present
	return out.CompletionOutcome, nil
}

// Refresh asks the backend to reload its own cache from the database.
func (c *Client) Refresh(ctx context.Context) (*RefreshResponse, error) {
	var resp RefreshResponse
	if err := c.get(ctx, "/api/refresh", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, fmt.Errorf("backend refresh: %s", firstNonEmpty(resp.Error, resp.ErrorMessage, "unknown error"))
	}
	return &resp, nil
}

// ReportDates lists the days that have completed-order reports, newest first.
func (c *Client) ReportDates(ctx context.Context) ([]ReportDate, error) {
	var resp reportDatesResponse
	if err := c.get(ctx, "/api/reports/dates", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("backend report dates: %s", firstNonEmpty(resp.Error, "unknown error"))
	}
	return resp.Dates, nil
}

// TestConnection runs the backend's database connectivity check.
func (c *Client) TestConnection(ctx context.Context) (*ConnectionTest, error) {
	var resp ConnectionTest
	if err := c.get(ctx, "/api/connection/test", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
