package currency

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Centace/centace/internal/httputil"
)

// Fetcher retrieves a rate table.
type Fetcher interface {
	Fetch(ctx context.Context) (*Rates, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (*Rates, error)

func (f FetcherFunc) Fetch(ctx context.Context) (*Rates, error) {
	return f(ctx)
}

// HTTPFetcher reads exchangerate-api style responses:
// {"base":"USD","rates":{"EUR":0.92,...}} (or "base_code" and
// "conversion_rates").
type HTTPFetcher struct {
	client *httputil.Client
	url    string
	now    func() time.Time
}

// NewHTTPFetcher creates a fetcher for url.
func NewHTTPFetcher(url string, httpClient *http.Client) *HTTPFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{
		client: httputil.NewClient(httputil.ClientConfig{HTTPClient: httpClient}),
		url:    url,
		now:    time.Now,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*Rates, error) {
	resp, err := f.client.Get(ctx, f.url)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	return parseRates(body, f.now())
}

func parseRates(body []byte, now time.Time) (*Rates, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("rate response is not valid JSON")
	}
	doc := gjson.ParseBytes(body)

	base := doc.Get("base").String()
	if base == "" {
		base = doc.Get("base_code").String()
	}
	table := doc.Get("rates")
	if !table.Exists() {
		table = doc.Get("conversion_rates")
	}
	if base == "" || !table.IsObject() {
		return nil, fmt.Errorf("rate response missing base or rates")
	}

	rates := &Rates{Base: normalize(base), Rates: map[string]float64{}, FetchedAt: now, Source: SourceFetched}
	table.ForEach(func(code, value gjson.Result) bool {
		if value.Type == gjson.Number && value.Float() > 0 {
			rates.Rates[normalize(code.String())] = value.Float()
		}
		return true
	})
	if len(rates.Rates) == 0 {
		return nil, fmt.Errorf("rate response has no usable rates")
	}
	rates.Rates[rates.Base] = 1
	return rates, nil
}
