package cost

import (
	"strings"
)

// Rates holds per-model token pricing keyed by model name. A key also
// prices any model name it is a prefix of, so "claude-haiku-4-5" covers
// dated snapshots.
type Rates struct {
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Usage is the token consumption of one call.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rate looks up the pricing for model: an exact key first, then the longest
// key that is a prefix of model.
func (c *Calculator) Rate(model string) (ModelRate, bool) {
	if r, ok := c.rates.Models[model]; ok {
		return r, true
	}
	best := ""
	for k := range c.rates.Models {
		if strings.HasPrefix(model, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates.Models[best], true
}

// Cost computes the USD cost of one call. Unknown models cost 0.
func (c *Calculator) Cost(model string, u Usage) float64 {
	rate, ok := c.Rate(model)
	if !ok {
		return 0
	}

	inCost := (float64(u.Input) / 1e6) * rate.Input
	outCost := (float64(u.Output) / 1e6) * rate.Output
	cwCost := (float64(u.CacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(u.CacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// Merge returns the default rates overlaid with overrides.
func Merge(overrides map[string]ModelRate) Rates {
	r := DefaultRates()
	for k, v := range overrides {
		r.Models[k] = v
	}
	return r
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"claude-haiku-4-5": {
				Input: 1.00, Output: 5.00, CacheWriteMul: 2.0, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5": {
				Input: 3.00, Output: 15.00, CacheWriteMul: 2.0, CacheReadMul: 0.1,
			},
			"claude-opus-4-1": {
				Input: 15.00, Output: 75.00, CacheWriteMul: 2.0, CacheReadMul: 0.1,
			},
			"gpt-4o-mini": {
				Input: 0.15, Output: 0.60, CacheReadMul: 0.5,
			},
			"gpt-4o": {
				Input: 2.50, Output: 10.00, CacheReadMul: 0.5,
			},
			"gpt-4.1-mini": {
				Input: 0.40, Output: 1.60, CacheReadMul: 0.25,
			},
			"gpt-4.1": {
				Input: 2.00, Output: 8.00, CacheReadMul: 0.25,
			},
		},
	}
}
