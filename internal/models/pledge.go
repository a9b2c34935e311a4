package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// PledgeStatus is the payment state of a pledge.
type PledgeStatus string

const (
	PledgePending  PledgeStatus = "pending"
	PledgePaid     PledgeStatus = "paid"
	PledgeRefunded PledgeStatus = "refunded"
	PledgeFailed   PledgeStatus = "failed"
)

// Valid reports whether s is a known status.
func (s PledgeStatus) Valid() bool {
	switch s {
	case PledgePending, PledgePaid, PledgeRefunded, PledgeFailed:
		return true
	}
	return false
}

// ParsePledgeStatus parses a status label case-insensitively.
func ParsePledgeStatus(s string) (PledgeStatus, error) {
	st := PledgeStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown pledge status %q", s)
	}
	return st, nil
}

// PledgeRecord is a monetary commitment by a user to a campaign.
// Only paid pledges count toward revenue-facing aggregates and the signal score.
type PledgeRecord struct {
	ID         string       `json:"id"`
	CampaignID string       `json:"campaign_id"`
	UserID     string       `json:"user_id"`
	Amount     float64      `json:"amount"`
	Currency   string       `json:"currency"` // ISO 4217, upper case
	Status     PledgeStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
}

// IsPaid reports whether the pledge has been paid.
func (p *PledgeRecord) IsPaid() bool {
	return p.Status == PledgePaid
}

// Validate checks that all pledge fields are valid
func (p *PledgeRecord) Validate() error {
	if p.CampaignID == "" {
		return errors.New("campaign ID must not be empty")
	}
	if p.UserID == "" {
		return errors.New("user ID must not be empty")
	}
	if math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) || p.Amount < 0 {
		return errors.New("amount must be a non-negative number")
	}
	if len(p.Currency) != 3 {
		return errors.New("currency must be a 3-letter code")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("status must be one of: %s, %s, %s, %s", PledgePending, PledgePaid, PledgeRefunded, PledgeFailed)
	}
	if p.CreatedAt.After(time.Now()) {
		return errors.New("created at must not be in the future")
	}
	return nil
}
