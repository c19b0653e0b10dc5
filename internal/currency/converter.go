package currency

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	apperrors "github.com/Centace/centace/internal/errors"
	"github.com/Centace/centace/internal/metrics"
	"github.com/Centace/centace/pkg/logger"
)

// DefaultTTL is how long a fetched table is considered fresh.
const DefaultTTL = 4 * time.Hour

// Config configures a Converter.
type Config struct {
	Base    string
	TTL     time.Duration
	Fetcher Fetcher
	Store   RateStore
	Now     func() time.Time
	Metrics *metrics.Metrics
}

// Converter answers conversions from the cached rate table.
type Converter struct {
	base    string
	ttl     time.Duration
	fetcher Fetcher
	store   RateStore
	now     func() time.Time
	metrics *metrics.Metrics
	log     *logger.Logger

	// fetchMu serialises fetches so a cold cache triggers one request.
	fetchMu sync.Mutex
}

// NewConverter creates a converter.
func NewConverter(cfg Config, log *logger.Logger) *Converter {
	if cfg.Base == "" {
		cfg.Base = "USD"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.NewDefault("currency")
	}
	return &Converter{
		base:    normalize(cfg.Base),
		ttl:     cfg.TTL,
		fetcher: cfg.Fetcher,
		store:   cfg.Store,
		now:     cfg.Now,
		metrics: cfg.Metrics,
		log:     log,
	}
}

// Base returns the pivot currency.
func (c *Converter) Base() string { return c.base }

// Rates returns the best available table: fresh cache, then a new fetch,
// then the stale cache, then the built-in defaults. It never fails.
func (c *Converter) Rates(ctx context.Context) *Rates {
	if cached := c.load(ctx); cached != nil && cached.Fresh(c.now(), c.ttl) {
		c.metrics.RateLookup(string(SourceFresh))
		return cached.clone(SourceFresh)
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	// Another caller may have refreshed while we waited.
	cached := c.load(ctx)
	if cached != nil && cached.Fresh(c.now(), c.ttl) {
		c.metrics.RateLookup(string(SourceFresh))
		return cached.clone(SourceFresh)
	}

	fetched, err := c.fetch(ctx)
	if err == nil {
		c.metrics.RateLookup(string(SourceFetched))
		return fetched
	}
	c.log.WithError(err).Warn("exchange rate fetch failed, using fallback rates")

	if cached != nil {
		c.metrics.RateLookup(string(SourceStale))
		return cached.clone(SourceStale)
	}
	c.metrics.RateLookup(string(SourceDefault))
	return DefaultRates(c.base)
}

// Refresh fetches a new table regardless of the cache state.
func (c *Converter) Refresh(ctx context.Context) (*Rates, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	return c.fetch(ctx)
}

func (c *Converter) load(ctx context.Context) *Rates {
	r, err := c.store.Load(ctx)
	if err != nil {
		c.log.WithError(err).Warn("exchange rate cache unavailable")
		return nil
	}
	return r
}

func (c *Converter) fetch(ctx context.Context) (*Rates, error) {
	if c.fetcher == nil {
		return nil, fmt.Errorf("no rate fetcher configured")
	}
	r, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	r, err = rebase(r, c.base)
	if err != nil {
		return nil, err
	}
	r.FetchedAt = c.now()
	r.Source = SourceFetched
	if err := c.store.Save(ctx, r); err != nil {
		c.log.WithError(err).Warn("exchange rate cache write failed")
	}
	return r, nil
}

// rebase expresses r relative to base.
func rebase(r *Rates, base string) (*Rates, error) {
	if r.Base == base {
		return r, nil
	}
	pivot, ok := r.Rate(base)
	if !ok {
		return nil, fmt.Errorf("rate table based on %s has no %s rate", r.Base, base)
	}
	out := &Rates{Base: base, FetchedAt: r.FetchedAt, Source: r.Source, Rates: make(map[string]float64, len(r.Rates)+1)}
	out.Rates[r.Base] = 1 / pivot
	for code, v := range r.Rates {
		out.Rates[code] = v / pivot
	}
	out.Rates[base] = 1
	return out, nil
}

// Conversion is the result of Convert.
type Conversion struct {
	Amount    float64 `json:"amount"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Result    float64 `json:"result"`
	Rate      float64 `json:"rate"`
	Source    Source  `json:"source"`
	RatesDate string  `json:"rates_date,omitempty"`
}

// Convert converts amount from one currency to another through the base
// currency, rounding only the final result to two decimals.
func (c *Converter) Convert(ctx context.Context, amount float64, from, to string) (*Conversion, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, apperrors.Validation("amount must be a finite number")
	}
	from, to = normalize(from), normalize(to)

	rates := c.Rates(ctx)
	result, rate, err := convert(rates, amount, from, to)
	if err != nil {
		return nil, err
	}

	conv := &Conversion{Amount: amount, From: from, To: to, Result: result, Rate: rate, Source: rates.Source}
	if !rates.FetchedAt.IsZero() {
		conv.RatesDate = rates.FetchedAt.UTC().Format(time.RFC3339)
	}
	return conv, nil
}

func convert(rates *Rates, amount float64, from, to string) (result, rate float64, err error) {
	fromRate, ok := rates.Rate(from)
	if !ok {
		return 0, 0, apperrors.Validation(fmt.Sprintf("unsupported currency %q", from))
	}
	toRate, ok := rates.Rate(to)
	if !ok {
		return 0, 0, apperrors.Validation(fmt.Sprintf("unsupported currency %q", to))
	}
	if from == to {
		return Round2(amount), 1, nil
	}
	inBase := amount / fromRate
	return Round2(inBase * toRate), toRate / fromRate, nil
}
