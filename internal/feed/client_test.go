package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetPricesBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "AAPL,MSFT" {
			t.Errorf("symbol query = %q", got)
		}
		if got := r.URL.Query().Get("apikey"); got != "test-key" {
			t.Errorf("apikey query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"AAPL": {"price": "192.42"},
			"MSFT": {"price": "410.10"}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 5*time.Second)
	quotes, err := c.GetPrices(context.Background(), []string{"AAPL", "MSFT"})
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes", len(quotes))
	}
	bySym := make(map[string]float64)
	for _, q := range quotes {
		bySym[q.Symbol] = q.Price
	}
	if bySym["AAPL"] != 192.42 || bySym["MSFT"] != 410.10 {
		t.Fatalf("quotes = %v", bySym)
	}
}

func TestGetPricesSingleSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"price": "99.50"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", 5*time.Second)
	quotes, err := c.GetPrices(context.Background(), []string{"TSLA"})
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Price != 99.50 {
		t.Fatalf("quotes = %v", quotes)
	}
}

func TestGetPricesSkipsErrorPayloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{
			"AAPL": {"price": "192.42"},
			"BOGUS": {"status": "error", "message": "symbol not found"}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", 5*time.Second)
	quotes, err := c.GetPrices(context.Background(), []string{"AAPL", "BOGUS"})
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Symbol != "AAPL" {
		t.Fatalf("quotes = %v", quotes)
	}
}

func TestGetPricesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", 5*time.Second)
	if _, err := c.GetPrices(context.Background(), []string{"AAPL"}); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestGetPricesEmptySymbols(t *testing.T) {
	c := NewClient("http://unused", "k", time.Second)
	quotes, err := c.GetPrices(context.Background(), nil)
	if err != nil || quotes != nil {
		t.Fatalf("quotes=%v err=%v", quotes, err)
	}
}
