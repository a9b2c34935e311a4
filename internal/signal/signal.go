// Package signal computes the Signal Score of a demand campaign.
//
// Each verified interest record contributes its intensity weight, decayed by
// age; each paid pledge adds a bounded bonus from its amount bucket:
//
//	raw   = Σ weight(intensity) × decay(age) + Σ pledgeWeight × conversionRate(amount)
//	decay = max(floor, 0.5^(age / halfLife))
//	score = 100 × (1 − e^(−raw / calibration))
//
// The saturating normalisation keeps scores comparable across campaigns of
// very different size: growth flattens out at high volumes instead of running
// away. The score is then classified into cold / warm / hot / viral bands.
//
// ComputeSignalScore is a pure function of its inputs, including the clock
// value, so identical snapshots always produce bit-identical results.
package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/demandsignal/internal/models"
	"github.com/rewired-gh/demandsignal/internal/stats"
	"github.com/rewired-gh/demandsignal/internal/weights"
)

// Score bounds.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// Thresholds are the lower bounds of each classification band. A score equal
// to a threshold belongs to the higher band.
type Thresholds struct {
	Warm  float64 `json:"warm" mapstructure:"warm"`
	Hot   float64 `json:"hot" mapstructure:"hot"`
	Viral float64 `json:"viral" mapstructure:"viral"`
}

// Config carries every tunable constant of the engine.
type Config struct {
	Tables       weights.Tables
	Thresholds   Thresholds
	HalfLife     time.Duration // age at which a record counts half
	DecayFloor   float64       // minimum decay multiplier, in (0,1]
	Calibration  float64       // raw sum at which the score reaches ~63
	PledgeWeight float64       // multiplier applied to a paid pledge's conversion rate
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Tables:       weights.DefaultTables(),
		Thresholds:   Thresholds{Warm: 20, Hot: 50, Viral: 80},
		HalfLife:     30 * 24 * time.Hour,
		DecayFloor:   0.1,
		Calibration:  100,
		PledgeWeight: 5,
	}
}

// Validate checks that all configuration values are usable
func (c Config) Validate() error {
	if err := c.Tables.Validate(); err != nil {
		return fmt.Errorf("weighting tables: %w", err)
	}
	t := c.Thresholds
	if !(MinScore < t.Warm && t.Warm < t.Hot && t.Hot < t.Viral && t.Viral <= MaxScore) {
		return fmt.Errorf("thresholds must satisfy 0 < warm < hot < viral <= 100")
	}
	if c.HalfLife <= 0 {
		return fmt.Errorf("half-life must be positive")
	}
	if c.DecayFloor <= 0 || c.DecayFloor > 1 {
		return fmt.Errorf("decay floor must be in (0, 1]")
	}
	if c.Calibration <= 0 {
		return fmt.Errorf("calibration must be positive")
	}
	if c.PledgeWeight < 0 {
		return fmt.Errorf("pledge weight must not be negative")
	}
	return nil
}

// Decay returns the recency multiplier for a record of the given age.
// Future records (negative age) count in full. The result never drops below
// floor, so old interest always keeps some weight.
func Decay(age, halfLife time.Duration, floor float64) float64 {
	if age <= 0 || halfLife <= 0 {
		return 1.0
	}
	factor := math.Exp2(-float64(age) / float64(halfLife))
	return math.Max(floor, factor)
}

// PledgeContribution returns the weight a pledge adds to the raw sum. Unpaid
// pledges and amounts outside the conversion buckets contribute zero.
func PledgeContribution(p models.PledgeRecord, cfg Config) float64 {
	if !p.IsPaid() {
		return 0
	}
	bucket, ok := cfg.Tables.ConversionRate(p.Amount)
	if !ok {
		return 0
	}
	return cfg.PledgeWeight * bucket.Rate
}

// Normalize maps a non-negative raw sum onto [0,100] with a saturating curve.
func Normalize(raw, calibration float64) float64 {
	if !(raw > 0) {
		return MinScore
	}
	if calibration <= 0 {
		calibration = 1
	}
	score := -MaxScore * math.Expm1(-raw/calibration)
	return stats.Clamp(score, MinScore, MaxScore)
}

// Classify places score in its band. Ties go to the higher classification.
func Classify(score float64, t Thresholds) models.Classification {
	switch {
	case score >= t.Viral:
		return models.ClassViral
	case score >= t.Hot:
		return models.ClassHot
	case score >= t.Warm:
		return models.ClassWarm
	default:
		return models.ClassCold
	}
}

// ComputeSignalScore computes the signal of one campaign from a snapshot of
// its interest records and pledges. records must already belong to a single
// campaign. Malformed records degrade (clamped intensity, zero-weight pledge)
// rather than fail the computation.
func ComputeSignalScore(records []models.InterestRecord, pledges []models.PledgeRecord, now time.Time, cfg Config) models.CampaignSignal {
	sig := models.CampaignSignal{
		Score:          MinScore,
		Classification: models.ClassCold,
		ComputedAt:     now,
	}

	var raw float64
	for _, r := range records {
		if !r.Verified {
			sig.Rejected++
			continue
		}
		sig.SampleSize++
		weight := cfg.Tables.IntensityWeights.Lookup(r.Intensity)
		raw += weight * Decay(now.Sub(r.CreatedAt), cfg.HalfLife, cfg.DecayFloor)
	}

	if total := sig.SampleSize + sig.Rejected; total > 0 {
		sig.RejectionRate = float64(sig.Rejected) / float64(total)
	}

	if sig.SampleSize == 0 {
		return sig
	}

	for _, p := range pledges {
		raw += PledgeContribution(p, cfg)
	}

	sig.Score = Normalize(raw, cfg.Calibration)
	sig.Classification = Classify(sig.Score, cfg.Thresholds)
	return sig
}
