// Package cost prices provider lookups in integer cents.
package cost

import "fmt"

// Rates maps a provider name to its flat per-lookup price in cents.
type Rates map[string]int64

// Calculator computes costs for provider lookups.
type Calculator struct {
	rates Rates
	max   int64
}

// NewCalculator creates a Calculator with the given rates. Negative rates
// are clamped to zero.
func NewCalculator(rates Rates) *Calculator {
	c := &Calculator{rates: make(Rates, len(rates))}
	for name, cents := range rates {
		cents = max(cents, 0)
		c.rates[name] = cents
		c.max = max(c.max, cents)
	}
	return c
}

// Lookup returns the list price of one lookup against provider. Unknown
// providers cost nothing.
func (c *Calculator) Lookup(provider string) int64 {
	return c.rates[provider]
}

// Charge returns what a single invocation actually bills. Failed lookups
// are free.
func (c *Calculator) Charge(provider string, succeeded bool) int64 {
	if !succeeded {
		return 0
	}
	return c.Lookup(provider)
}

// MaxLookup is the worst-case price of tracing one lead through the chain,
// since at most one provider is ever billed per lead.
func (c *Calculator) MaxLookup() int64 {
	return c.max
}

// FormatCents renders an amount in cents as dollars, e.g. "$1.25".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
