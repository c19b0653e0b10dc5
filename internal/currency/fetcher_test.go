package currency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"USD","date":"2024-05-01","rates":{"EUR":0.92,"ngn":1550,"BAD":"x","ZERO":0}}`))
	}))
	defer srv.Close()

	r, err := NewHTTPFetcher(srv.URL, srv.Client()).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "USD", r.Base)
	assert.Equal(t, 0.92, r.Rates["EUR"])
	assert.Equal(t, 1550.0, r.Rates["NGN"])
	assert.Equal(t, 1.0, r.Rates["USD"])
	assert.NotContains(t, r.Rates, "BAD")
	assert.NotContains(t, r.Rates, "ZERO")
}

func TestHTTPFetcherUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(srv.URL, srv.Client()).Fetch(context.Background())
	assert.Error(t, err)
}

func TestParseRatesFormats(t *testing.T) {
	now := time.Now()

	r, err := parseRates([]byte(`{"result":"success","base_code":"gbp","conversion_rates":{"USD":1.27}}`), now)
	require.NoError(t, err)
	assert.Equal(t, "GBP", r.Base)
	assert.Equal(t, 1.27, r.Rates["USD"])
	assert.Equal(t, now, r.FetchedAt)

	for _, body := range []string{`not json`, `{"rates":{"EUR":1}}`, `{"base":"USD","rates":{}}`, `{"base":"USD","rates":[1,2]}`} {
		_, err := parseRates([]byte(body), now)
		assert.Error(t, err, body)
	}
}
