package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"percolator_keeper/internal/domain"

	"github.com/shopspring/decimal"
)

const defaultQuoteTimeout = 10 * time.Second

// CoinGeckoSource is the primary quote source. Response shape:
// {"bitcoin":{"usd":43250.12}}
type CoinGeckoSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewCoinGeckoSource creates the source against the given API base URL.
func NewCoinGeckoSource(baseURL string, timeoutSec int) *CoinGeckoSource {
	return &CoinGeckoSource{
		baseURL:    baseURL,
		httpClient: newQuoteClient(timeoutSec),
	}
}

func (s *CoinGeckoSource) Name() string { return "coingecko" }

// Quote fetches the USD spot price for the asset id.
func (s *CoinGeckoSource) Quote(ctx context.Context, assetID string) (decimal.Decimal, error) {
	GlobalMetrics.RecordQuoteFetch()

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd",
		s.baseURL, url.QueryEscape(assetID))

	body, err := fetchBody(ctx, s.httpClient, endpoint)
	if err != nil {
		GlobalMetrics.RecordQuoteFailure()
		return decimal.Zero, domain.NewNetworkError("quote coingecko", err)
	}

	var payload map[string]map[string]json.Number
	if err := json.Unmarshal(body, &payload); err != nil {
		GlobalMetrics.RecordQuoteFailure()
		return decimal.Zero, domain.NewNetworkError("quote coingecko", err)
	}

	usd, ok := payload[assetID]["usd"]
	if !ok {
		GlobalMetrics.RecordQuoteFailure()
		return decimal.Zero, domain.NewNetworkError("quote coingecko",
			fmt.Errorf("%w: %s", domain.ErrNoQuote, assetID))
	}

	quote, err := decimal.NewFromString(usd.String())
	if err != nil {
		GlobalMetrics.RecordQuoteFailure()
		return decimal.Zero, domain.NewNetworkError("quote coingecko", err)
	}
	return quote, nil
}

// coinbaseResponse represents the Coinbase spot price response
type coinbaseResponse struct {
	Data struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// CoinbaseSource is the secondary quote source. Response shape:
// {"data":{"amount":"43250.12","currency":"USD"}}
type CoinbaseSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewCoinbaseSource creates the source against the given API base URL.
func NewCoinbaseSource(baseURL string, timeoutSec int) *CoinbaseSource {
	return &CoinbaseSource{
		baseURL:    baseURL,
		httpClient: newQuoteClient(timeoutSec),
	}
}

func (s *CoinbaseSource) Name() string { return "coinbase" }

// Quote fetches the USD spot price for the asset id.
func (s *CoinbaseSource) Quote(ctx context.Context, assetID string) (decimal.Decimal, error) {
	GlobalMetrics.RecordQuoteFetch()

	endpoint := fmt.Sprintf("%s/v2/prices/%s-USD/spot", s.baseURL, url.PathEscape(assetID))

	body, err := fetchBody(ctx, s.httpClient, endpoint)
	if err != nil {
		GlobalMetrics.RecordQuoteFailure()
		return decimal.Zero, domain.NewNetworkError("quote coinbase", err)
	}

	var payload coinbaseResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		GlobalMetrics.RecordQuoteFailure()
		return decimal.Zero, domain.NewNetworkError("quote coinbase", err)
	}

	if payload.Data.Amount == "" {
		GlobalMetrics.RecordQuoteFailure()
		return decimal.Zero, domain.NewNetworkError("quote coinbase",
			fmt.Errorf("%w: %s", domain.ErrNoQuote, assetID))
	}

	quote, err := decimal.NewFromString(payload.Data.Amount)
	if err != nil {
		GlobalMetrics.RecordQuoteFailure()
		return decimal.Zero, domain.NewNetworkError("quote coinbase", err)
	}
	return quote, nil
}

func newQuoteClient(timeoutSec int) *http.Client {
	timeout := defaultQuoteTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		},
	}
}

func fetchBody(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
