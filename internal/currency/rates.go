// Package currency converts display amounts between currencies using a
// cached table of exchange rates. Rates are fetched from an external API,
// kept for a TTL, and fall back to the last known table and then to a
// built-in default table when the API is unavailable.
package currency

import (
	"math"
	"strings"
	"time"
)

// Source records which tier produced a rate table.
type Source string

const (
	SourceFresh   Source = "fresh"   // cached and within TTL
	SourceFetched Source = "fetched" // fetched for this lookup
	SourceStale   Source = "stale"   // cached past TTL, fetch failed
	SourceDefault Source = "default" // built-in table
)

// Rates is a table of units per one Base.
type Rates struct {
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	FetchedAt time.Time          `json:"fetched_at"`
	Source    Source             `json:"source"`
}

// Rate returns the units of code per one Base.
func (r *Rates) Rate(code string) (float64, bool) {
	code = normalize(code)
	if code == r.Base {
		return 1, true
	}
	v, ok := r.Rates[code]
	return v, ok && v > 0
}

// Fresh reports whether the table is younger than ttl at now.
func (r *Rates) Fresh(now time.Time, ttl time.Duration) bool {
	return !r.FetchedAt.IsZero() && now.Sub(r.FetchedAt) < ttl
}

func (r *Rates) clone(source Source) *Rates {
	out := &Rates{Base: r.Base, FetchedAt: r.FetchedAt, Source: source, Rates: make(map[string]float64, len(r.Rates))}
	for k, v := range r.Rates {
		out.Rates[k] = v
	}
	return out
}

// defaultRates per one USD, used when nothing else is available.
var defaultRates = map[string]float64{
	"USD": 1,
	"EUR": 0.92,
	"GBP": 0.79,
	"NGN": 1550,
	"GHS": 15.2,
	"KES": 129,
	"ZAR": 18.4,
	"CAD": 1.36,
	"AUD": 1.52,
	"JPY": 151,
	"CNY": 7.23,
	"INR": 83.4,
	"AED": 3.67,
	"CHF": 0.9,
}

// DefaultRates returns the built-in table rebased to base. Unknown bases
// fall back to USD.
func DefaultRates(base string) *Rates {
	base = normalize(base)
	pivot, ok := defaultRates[base]
	if !ok {
		base, pivot = "USD", 1
	}
	out := &Rates{Base: base, Source: SourceDefault, Rates: make(map[string]float64, len(defaultRates))}
	for code, perUSD := range defaultRates {
		out.Rates[code] = perUSD / pivot
	}
	return out
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
