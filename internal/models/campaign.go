package models

import (
	"errors"
	"time"
)

// Campaign is a crowdsourced demand campaign. Goal is a structured field: the
// number of lobbies the campaign is aiming for.
type Campaign struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	CreatorID   string    `json:"creator_id"`
	BrandID     string    `json:"brand_id,omitempty"` // brand the demand is aimed at
	Goal        int       `json:"goal"`
	TargetPrice float64   `json:"target_price"` // expected unit price, used for revenue projection
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks that all campaign fields are valid
func (c *Campaign) Validate() error {
	if c.ID == "" {
		return errors.New("campaign ID must not be empty")
	}
	if c.Title == "" {
		return errors.New("campaign title must not be empty")
	}
	if c.CreatorID == "" {
		return errors.New("creator ID must not be empty")
	}
	if c.Goal < 0 {
		return errors.New("goal must not be negative")
	}
	if c.TargetPrice < 0 {
		return errors.New("target price must not be negative")
	}
	if c.Currency != "" && len(c.Currency) != 3 {
		return errors.New("currency must be a 3-letter code")
	}
	if c.CreatedAt.After(time.Now()) {
		return errors.New("created at must not be in the future")
	}
	return nil
}
