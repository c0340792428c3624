// Package chain provides the client for the marketplace's chain event
// source. An external indexer watches the energy trading contract and
// exposes confirmed events over HTTP; delivery is at-least-once and may
// reorder across offers, which the settlement layer tolerates.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
)

// EventType names the contract events the engine consumes.
type EventType string

const (
	EventOfferCreated   EventType = "Created"
	EventOfferPurchased EventType = "Purchased"
	EventOfferCancelled EventType = "Cancelled"
)

// Event is one confirmed contract event. Creation details (seller,
// quantity, prices) are present on every event type so a consumer can
// reconstruct an offer it has never seen.
type Event struct {
	EventType   EventType       `json:"eventType"`
	OfferID     int64           `json:"offerId"`
	TxHash      string          `json:"txHash"`
	Seller      string          `json:"seller"`
	Buyer       string          `json:"buyer,omitempty"`
	Quantity    int64           `json:"quantity"`
	PriceETH    decimal.Decimal `json:"priceETH"`
	PriceVND    decimal.Decimal `json:"priceVND"`
	BlockNumber int64           `json:"blockNumber"`
}

// Client encapsulates HTTP access to the chain indexer.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient creates an indexer client for the given base address.
func NewClient(baseURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: c,
	}
}

type eventsResponse struct {
	Events []Event `json:"events"`
}

// GetEvents returns up to limit confirmed events with block numbers
// strictly greater than fromBlock.
func (c *Client) GetEvents(ctx context.Context, fromBlock int64, limit int) ([]Event, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("chain client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/events?fromBlock=%d&limit=%d", base, fromBlock, limit)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result eventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result.Events, nil
}
