// Package ranking recomputes campaign signals over a store snapshot and
// returns the top-K campaigns.
//
// Campaigns are ordered by Signal Score descending. Ties are broken by sample
// size descending, then by campaign ID lexicographic descending, so a ranking
// of the same snapshot is always identical.
//
// The Ranker also remembers the classification each campaign held when
// RecordClassifications was last called, so callers can report campaigns that
// moved into a hotter band (for example cold to warm) between runs.
package ranking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/demandsignal/internal/logger"
	"github.com/rewired-gh/demandsignal/internal/models"
	"github.com/rewired-gh/demandsignal/internal/signal"
)

// Source is the read side of the store the ranker scores from.
type Source interface {
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
	InterestRecords(ctx context.Context, campaignID string) ([]models.InterestRecord, error)
	Pledges(ctx context.Context, campaignID string) ([]models.PledgeRecord, error)
}

// RankedCampaign is one entry of a ranking.
type RankedCampaign struct {
	CampaignID string
	Title      string
	Category   string
	Signal     models.CampaignSignal
}

// RankError represents a per-campaign error during ranking
type RankError struct {
	CampaignID string
	Err        error
}

func (e RankError) Error() string {
	return fmt.Sprintf("ranking error for campaign %s: %v", e.CampaignID, e.Err)
}

func (e RankError) Unwrap() error { return e.Err }

// Promotion is a campaign whose classification rose since it was last recorded.
type Promotion struct {
	CampaignID string
	Title      string
	From       models.Classification
	To         models.Classification
	Score      float64
}

// Ranker scores and ranks campaigns
type Ranker struct {
	source Source
	cfg    signal.Config

	mu              sync.Mutex
	classifications map[string]models.Classification // key = campaign ID
}

// New creates a new Ranker instance
func New(source Source, cfg signal.Config) *Ranker {
	return &Ranker{
		source:          source,
		cfg:             cfg,
		classifications: make(map[string]models.Classification),
	}
}

// Rank computes the signal of every campaign at now and returns at most k
// campaigns in rank order. Campaigns whose records cannot be read are skipped
// and reported as RankErrors. Listing campaigns is the only fatal failure.
// Returns an empty (non-nil) slice when there is nothing to rank.
func (r *Ranker) Rank(ctx context.Context, now time.Time, k int) ([]RankedCampaign, []RankError, error) {
	cycleID := uuid.New().String()

	campaigns, err := r.source.ListCampaigns(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	var ranked []RankedCampaign
	var rankErrors []RankError

	for _, c := range campaigns {
		if err := ctx.Err(); err != nil {
			return nil, rankErrors, err
		}

		records, err := r.source.InterestRecords(ctx, c.ID)
		if err != nil {
			rankErrors = append(rankErrors, RankError{CampaignID: c.ID, Err: err})
			continue
		}
		pledges, err := r.source.Pledges(ctx, c.ID)
		if err != nil {
			rankErrors = append(rankErrors, RankError{CampaignID: c.ID, Err: err})
			continue
		}

		ranked = append(ranked, RankedCampaign{
			CampaignID: c.ID,
			Title:      c.Title,
			Category:   c.Category,
			Signal:     signal.ComputeSignalScore(records, pledges, now, r.cfg),
		})
	}

	sortRanked(ranked)

	logger.WithField("cycle_id", cycleID).Debugf("Rank: campaigns=%d scored=%d errors=%d k=%d",
		len(campaigns), len(ranked), len(rankErrors), k)

	if k <= 0 || len(ranked) == 0 {
		return []RankedCampaign{}, rankErrors, nil
	}
	if k > len(ranked) {
		k = len(ranked)
	}
	return ranked[:k], rankErrors, nil
}

func sortRanked(ranked []RankedCampaign) {
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i].Signal, ranked[j].Signal
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.SampleSize != b.SampleSize {
			return a.SampleSize > b.SampleSize
		}
		// Tie-break: ID lexicographic descending
		return ranked[i].CampaignID > ranked[j].CampaignID
	})
}

// Promotions returns the campaigns in ranked whose classification is higher
// than the one last recorded for them. Campaigns never recorded count as cold,
// so a first run reports every campaign above cold. Returns a non-nil slice.
func (r *Ranker) Promotions(ranked []RankedCampaign) []Promotion {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := []Promotion{}
	for _, rc := range ranked {
		prev, ok := r.classifications[rc.CampaignID]
		if !ok {
			prev = models.ClassCold
		}
		if rc.Signal.Classification.Rank() > prev.Rank() {
			result = append(result, Promotion{
				CampaignID: rc.CampaignID,
				Title:      rc.Title,
				From:       prev,
				To:         rc.Signal.Classification,
				Score:      rc.Signal.Score,
			})
		}
	}
	return result
}

// RecordClassifications remembers the current classification of every
// campaign in ranked. Call it after promotions have been reported.
func (r *Ranker) RecordClassifications(ranked []RankedCampaign) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rc := range ranked {
		r.classifications[rc.CampaignID] = rc.Signal.Classification
	}
}
