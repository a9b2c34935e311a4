// Package models defines the core domain entities for demandsignal.
// These models represent demand campaigns, the individual interest records
// (lobbies) and pledges collected for them, and the derived signal computed
// from those records.
//
// Records are owned by the storage collaborator. Scoring and aggregation only
// read snapshots of them; Validate is applied on write, never on read, so a
// malformed stored record degrades a score instead of failing it.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Intensity is the ordinal strength of an individual's expressed interest.
type Intensity int

const (
	IntensityLow Intensity = iota + 1
	IntensityMedium
	IntensityHigh
	IntensityCritical
)

// Intensities lists every valid intensity in ascending order.
var Intensities = []Intensity{IntensityLow, IntensityMedium, IntensityHigh, IntensityCritical}

// String returns the lowercase label of the intensity.
func (i Intensity) String() string {
	switch i {
	case IntensityLow:
		return "low"
	case IntensityMedium:
		return "medium"
	case IntensityHigh:
		return "high"
	case IntensityCritical:
		return "critical"
	default:
		return fmt.Sprintf("intensity(%d)", int(i))
	}
}

// Valid reports whether i is one of the four defined levels.
func (i Intensity) Valid() bool {
	return i >= IntensityLow && i <= IntensityCritical
}

// Normalize clamps an out-of-range intensity onto the nearest defined level.
func (i Intensity) Normalize() Intensity {
	if i < IntensityLow {
		return IntensityLow
	}
	if i > IntensityCritical {
		return IntensityCritical
	}
	return i
}

// ParseIntensity parses a label ("low", "MEDIUM", ...) or a digit 1-4.
func ParseIntensity(s string) (Intensity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "1":
		return IntensityLow, nil
	case "medium", "2":
		return IntensityMedium, nil
	case "high", "3":
		return IntensityHigh, nil
	case "critical", "4":
		return IntensityCritical, nil
	}
	return 0, fmt.Errorf("unknown intensity %q", s)
}

// InterestRecord is one user's expression of demand (a lobby) for a campaign.
type InterestRecord struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	UserID     string    `json:"user_id"`
	Intensity  Intensity `json:"intensity"`
	CreatedAt  time.Time `json:"created_at"`
	Verified   bool      `json:"verified"` // passed fraud and duplicate checks
	Region     string    `json:"region,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Validate checks that all interest record fields are valid
func (r *InterestRecord) Validate() error {
	if r.CampaignID == "" {
		return errors.New("campaign ID must not be empty")
	}
	if r.UserID == "" {
		return errors.New("user ID must not be empty")
	}
	if !r.Intensity.Valid() {
		return fmt.Errorf("intensity must be between %d and %d", IntensityLow, IntensityCritical)
	}
	if r.CreatedAt.IsZero() {
		return errors.New("created at must be set")
	}
	if r.CreatedAt.After(time.Now()) {
		return errors.New("created at must not be in the future")
	}
	return nil
}
