package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rewired-gh/demandsignal/internal/models"
)

// BrandMember is one row of a brand membership listing.
type BrandMember struct {
	BrandID string `json:"brand_id"`
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
}

// Dataset is the JSON document accepted by Import.
type Dataset struct {
	Campaigns    []models.Campaign       `json:"campaigns"`
	Interests    []models.InterestRecord `json:"interests"`
	Pledges      []models.PledgeRecord   `json:"pledges"`
	BrandMembers []BrandMember           `json:"brand_members"`
}

// ImportStats counts what Import stored.
type ImportStats struct {
	Campaigns    int
	Interests    int
	Pledges      int
	BrandMembers int
}

// DecodeDataset reads a Dataset from JSON.
func DecodeDataset(r io.Reader) (*Dataset, error) {
	var ds Dataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	return &ds, nil
}

// Import stores every entity of ds, campaigns first. It stops at the first
// invalid entity; entities stored before it are kept.
func (s *Storage) Import(ctx context.Context, ds *Dataset) (ImportStats, error) {
	var st ImportStats
	for i := range ds.Campaigns {
		if err := s.AddCampaign(ctx, &ds.Campaigns[i]); err != nil {
			return st, fmt.Errorf("campaign %d: %w", i, err)
		}
		st.Campaigns++
	}
	for i := range ds.Interests {
		if err := s.AddInterest(ctx, &ds.Interests[i]); err != nil {
			return st, fmt.Errorf("interest %d: %w", i, err)
		}
		st.Interests++
	}
	for i := range ds.Pledges {
		if err := s.AddPledge(ctx, &ds.Pledges[i]); err != nil {
			return st, fmt.Errorf("pledge %d: %w", i, err)
		}
		st.Pledges++
	}
	for i, m := range ds.BrandMembers {
		if err := s.AddBrandMember(ctx, m.BrandID, m.UserID, m.Role); err != nil {
			return st, fmt.Errorf("brand member %d: %w", i, err)
		}
		st.BrandMembers++
	}
	return st, nil
}
