package models

import "time"

// Classification is the discrete band a campaign falls into by Signal Score.
type Classification string

const (
	ClassCold  Classification = "cold"
	ClassWarm  Classification = "warm"
	ClassHot   Classification = "hot"
	ClassViral Classification = "viral"
)

// Rank orders classifications from cold (0) to viral (3). Unknown values rank -1.
func (c Classification) Rank() int {
	switch c {
	case ClassCold:
		return 0
	case ClassWarm:
		return 1
	case ClassHot:
		return 2
	case ClassViral:
		return 3
	}
	return -1
}

// CampaignSignal is the derived, ephemeral signal of one campaign. It is
// recomputed on demand and never persisted.
type CampaignSignal struct {
	Score          float64        `json:"score"` // 0–100
	Classification Classification `json:"classification"`
	SampleSize     int            `json:"sample_size"` // verified records
	Rejected       int            `json:"rejected"`    // unverified records, diagnostic only
	RejectionRate  float64        `json:"rejection_rate"`
	ComputedAt     time.Time      `json:"computed_at"`
}
