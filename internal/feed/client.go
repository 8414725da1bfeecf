// Package feed polls a market-data provider for quotes on symbols with open
// positions and pushes them into the price cache.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Quote is a single symbol price observation.
type Quote struct {
	Symbol string
	Price  float64
	At     time.Time
}

// Client fetches quotes from a Twelve Data compatible HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a market-data client. timeout bounds each request.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// priceResponse is the provider's /price payload for a single symbol. Batch
// requests return a map of symbol to this shape.
type priceResponse struct {
	Price   string `json:"price"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// GetPrices fetches current prices for the given symbols in one batch request.
// Symbols the provider cannot quote are omitted from the result.
func (c *Client) GetPrices(ctx context.Context, symbols []string) ([]Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("symbol", strings.Join(symbols, ","))
	q.Set("apikey", c.apiKey)
	reqURL := fmt.Sprintf("%s/price?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("feed: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("feed: read response: %w", err)
	}

	now := time.Now().UTC()

	// Single-symbol requests return the object directly; batch requests
	// return a map keyed by symbol.
	if len(symbols) == 1 {
		var pr priceResponse
		if err := json.Unmarshal(raw, &pr); err != nil {
			return nil, fmt.Errorf("feed: decode response: %w", err)
		}
		quote, ok := toQuote(symbols[0], pr, now)
		if !ok {
			return nil, nil
		}
		return []Quote{quote}, nil
	}

	var batch map[string]priceResponse
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("feed: decode batch response: %w", err)
	}

	quotes := make([]Quote, 0, len(batch))
	for sym, pr := range batch {
		if quote, ok := toQuote(sym, pr, now); ok {
			quotes = append(quotes, quote)
		}
	}
	return quotes, nil
}

// toQuote converts one provider payload into a Quote, rejecting error
// payloads and non-positive prices.
func toQuote(symbol string, pr priceResponse, at time.Time) (Quote, bool) {
	if pr.Status == "error" || pr.Price == "" {
		return Quote{}, false
	}
	price, err := strconv.ParseFloat(pr.Price, 64)
	if err != nil || price <= 0 {
		return Quote{}, false
	}
	return Quote{Symbol: symbol, Price: price, At: at}, true
}
