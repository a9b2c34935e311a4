// Package weights holds the static lookup tables that turn qualitative inputs
// into numbers: intensity weights for the signal score, pledge amount buckets
// with their conversion rates, and the per-intensity conversion likelihood
// used for revenue projection.
//
// Tables are plain values. Copy and modify them to override defaults in tests
// or configuration; nothing in this package holds shared mutable state.
package weights

import (
	"fmt"
	"math"

	"github.com/rewired-gh/demandsignal/internal/models"
)

// IntensityTable maps each intensity level to a number.
type IntensityTable struct {
	Low      float64 `json:"low" mapstructure:"low"`
	Medium   float64 `json:"medium" mapstructure:"medium"`
	High     float64 `json:"high" mapstructure:"high"`
	Critical float64 `json:"critical" mapstructure:"critical"`
}

// Lookup returns the value for i. Out-of-range intensities are clamped onto
// the nearest defined level.
func (t IntensityTable) Lookup(i models.Intensity) float64 {
	switch i.Normalize() {
	case models.IntensityLow:
		return t.Low
	case models.IntensityMedium:
		return t.Medium
	case models.IntensityHigh:
		return t.High
	default:
		return t.Critical
	}
}

// ascending reports whether values never decrease from low to critical.
func (t IntensityTable) ascending() bool {
	return t.Low <= t.Medium && t.Medium <= t.High && t.High <= t.Critical
}

// AmountBucket is one pledge amount band. A pledge belongs to the first bucket
// whose MaxAmount is >= the amount.
type AmountBucket struct {
	Label     string  `json:"label" mapstructure:"label"`
	MaxAmount float64 `json:"max_amount" mapstructure:"max_amount"`
	Rate      float64 `json:"rate" mapstructure:"rate"`
}

// Tables groups every weighting table.
type Tables struct {
	IntensityWeights     IntensityTable `json:"intensity_weights" mapstructure:"intensity_weights"`
	ConversionRates      []AmountBucket `json:"conversion_rates" mapstructure:"conversion_rates"`
	ConversionLikelihood IntensityTable `json:"conversion_likelihood" mapstructure:"conversion_likelihood"`
}

// DefaultTables returns the default weighting tables. The last conversion
// bucket's MaxAmount is the largest pledge that still counts toward a score.
func DefaultTables() Tables {
	return Tables{
		IntensityWeights: IntensityTable{Low: 1, Medium: 2, High: 4, Critical: 7},
		ConversionRates: []AmountBucket{
			{Label: "micro", MaxAmount: 10, Rate: 0.5},
			{Label: "small", MaxAmount: 50, Rate: 0.75},
			{Label: "medium", MaxAmount: 250, Rate: 1.0},
			{Label: "large", MaxAmount: 100000, Rate: 1.25},
		},
		ConversionLikelihood: IntensityTable{Low: 0.05, Medium: 0.15, High: 0.35, Critical: 0.6},
	}
}

// ConversionRate returns the bucket for amount. It reports false for amounts
// that are not positive finite numbers or that exceed the largest bucket.
func (t Tables) ConversionRate(amount float64) (AmountBucket, bool) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return AmountBucket{}, false
	}
	for _, b := range t.ConversionRates {
		if amount <= b.MaxAmount {
			return b, true
		}
	}
	return AmountBucket{}, false
}

// MaxPledgeAmount is the upper bound of the last conversion bucket.
func (t Tables) MaxPledgeAmount() float64 {
	if len(t.ConversionRates) == 0 {
		return 0
	}
	return t.ConversionRates[len(t.ConversionRates)-1].MaxAmount
}

// Validate checks that the tables are usable by the engine and aggregator.
func (t Tables) Validate() error {
	w := t.IntensityWeights
	if w.Low <= 0 {
		return fmt.Errorf("intensity weight for low must be positive")
	}
	if !w.ascending() {
		return fmt.Errorf("intensity weights must not decrease from low to critical")
	}
	if len(t.ConversionRates) == 0 {
		return fmt.Errorf("at least one conversion rate bucket is required")
	}
	prev := 0.0
	for i, b := range t.ConversionRates {
		if b.MaxAmount <= prev {
			return fmt.Errorf("conversion bucket %d (%s): max_amount must be greater than %.2f", i, b.Label, prev)
		}
		if b.Rate < 0 {
			return fmt.Errorf("conversion bucket %d (%s): rate must not be negative", i, b.Label)
		}
		prev = b.MaxAmount
	}
	l := t.ConversionLikelihood
	for _, v := range []float64{l.Low, l.Medium, l.High, l.Critical} {
		if v < 0 || v > 1 {
			return fmt.Errorf("conversion likelihood values must be between 0.0 and 1.0")
		}
	}
	return nil
}
