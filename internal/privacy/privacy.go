// Package privacy turns individual-level interest and pledge records into
// brand-safe aggregate views.
//
// Every output is built from contributor sets, never from records directly:
// a bucket (intensity, region, day, pledge status) is published only when it
// holds at least KFloor distinct contributors. Smaller buckets are folded into
// "other"; if "other" is still under the floor, the smallest published buckets
// are folded in as well. These rules apply no matter who the caller is.
// Authorisation is a separate, caller-side concern exposed through
// IsBrandUser and IsBrandOwner.
package privacy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/demandsignal/internal/models"
	"github.com/rewired-gh/demandsignal/internal/stats"
	"github.com/rewired-gh/demandsignal/internal/weights"
)

// OtherBucket is the label that sub-floor buckets are folded into.
const OtherBucket = "other"

// dayLayout is the finest time granularity ever published.
const dayLayout = "2006-01-02"

// Config holds the aggregation constants.
type Config struct {
	KFloor           int     // minimum distinct contributors per published bucket
	DefaultUnitPrice float64 // used for revenue projection when a campaign has no target price
	Tables           weights.Tables
}

// DefaultConfig returns the default aggregation configuration.
func DefaultConfig() Config {
	return Config{
		KFloor:           5,
		DefaultUnitPrice: 25,
		Tables:           weights.DefaultTables(),
	}
}

// Validate checks that all configuration values are usable
func (c Config) Validate() error {
	if c.KFloor < 1 {
		return fmt.Errorf("k-anonymity floor must be at least 1")
	}
	if err := c.Tables.Validate(); err != nil {
		return err
	}
	if !(c.DefaultUnitPrice >= 0) || c.DefaultUnitPrice > c.Tables.MaxPledgeAmount() {
		return fmt.Errorf("default unit price must be between 0 and %.2f", c.Tables.MaxPledgeAmount())
	}
	return nil
}

// AccessGate answers brand membership questions. It is implemented by the
// identity collaborator (the storage layer here).
type AccessGate interface {
	IsBrandUser(ctx context.Context, userID, brandID string) (bool, error)
	IsBrandOwner(ctx context.Context, userID, brandID string) (bool, error)
}

// Percentiles of a numeric distribution.
type Percentiles struct {
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
}

// AggregateView is the brand-facing summary of a campaign's lobbies.
type AggregateView struct {
	TotalCount            int            `json:"total_count"`
	IntensityDistribution map[string]int `json:"intensity_distribution"`
	Percentiles           Percentiles    `json:"percentiles"`
	RegionBreakdown       map[string]int `json:"region_breakdown"`
	DailyBreakdown        map[string]int `json:"daily_breakdown"`
	ReasonsProvided       int            `json:"reasons_provided"`
	RevenueProjection     float64        `json:"revenue_projection"`
}

// RevenueAggregate is the brand-facing summary of a campaign's pledges.
// Money figures cover paid pledges in the dominant currency only.
type RevenueAggregate struct {
	Currency        string         `json:"currency"`
	PaidCount       int            `json:"paid_count"`
	StatusBreakdown map[string]int `json:"status_breakdown"`
	TotalRevenue    float64        `json:"total_revenue"`
	AverageAmount   float64        `json:"average_amount"`
	Percentiles     Percentiles    `json:"percentiles"`
	Suppressed      bool           `json:"suppressed"` // too few payers to publish money figures
}

// BrandSafeCampaignView is everything a brand may see about a campaign.
type BrandSafeCampaignView struct {
	CampaignID     string                `json:"campaign_id"`
	Title          string                `json:"title"`
	Description    string                `json:"description,omitempty"`
	Category       string                `json:"category"`
	BrandID        string                `json:"brand_id,omitempty"`
	Goal           int                   `json:"goal"`
	GoalProgress   float64               `json:"goal_progress"` // 0–1
	CreatedOn      string                `json:"created_on,omitempty"`
	SignalScore    float64               `json:"signal_score"`
	Classification models.Classification `json:"classification,omitempty"`
	Lobbies        AggregateView         `json:"lobbies"`
	Revenue        *RevenueAggregate     `json:"revenue,omitempty"`
}

// WithSignal returns a copy of v carrying the score and classification of sig.
// Nothing else from sig is copied.
func (v BrandSafeCampaignView) WithSignal(sig models.CampaignSignal) BrandSafeCampaignView {
	v.SignalScore = sig.Score
	v.Classification = sig.Classification
	return v
}

// Aggregator builds brand-safe views. It holds no mutable state and is safe
// for concurrent use.
type Aggregator struct {
	cfg  Config
	gate AccessGate
}

// NewAggregator creates an Aggregator. gate may be nil, in which case every
// authorisation check is denied.
func NewAggregator(cfg Config, gate AccessGate) *Aggregator {
	if cfg.KFloor < 1 {
		cfg.KFloor = 1
	}
	return &Aggregator{cfg: cfg, gate: gate}
}

// Config returns the aggregation configuration.
func (a *Aggregator) Config() Config {
	return a.cfg
}

// IsBrandUser reports whether userID belongs to brandID. Errors deny.
func (a *Aggregator) IsBrandUser(ctx context.Context, userID, brandID string) bool {
	if a.gate == nil || userID == "" || brandID == "" {
		return false
	}
	ok, err := a.gate.IsBrandUser(ctx, userID, brandID)
	return err == nil && ok
}

// IsBrandOwner reports whether userID owns brandID. Errors deny.
func (a *Aggregator) IsBrandOwner(ctx context.Context, userID, brandID string) bool {
	if a.gate == nil || userID == "" || brandID == "" {
		return false
	}
	ok, err := a.gate.IsBrandOwner(ctx, userID, brandID)
	return err == nil && ok
}

// AggregateLobbies summarises verified interest records. Revenue projection
// uses the configured default unit price.
func (a *Aggregator) AggregateLobbies(records []models.InterestRecord) AggregateView {
	return a.aggregateLobbies(records, a.cfg.DefaultUnitPrice)
}

// contributor is one distinct person behind one or more interest records.
type contributor struct {
	intensity models.Intensity
	region    string
	regionAt  time.Time
	reason    bool
}

func (a *Aggregator) aggregateLobbies(records []models.InterestRecord, unitPrice float64) AggregateView {
	view := AggregateView{
		IntensityDistribution: map[string]int{},
		RegionBreakdown:       map[string]int{},
		DailyBreakdown:        map[string]int{},
	}

	// Collapse records into contributors, in order of first appearance.
	index := make(map[string]int)
	var people []contributor
	days := newBuckets()
	for i, r := range records {
		if !r.Verified {
			continue
		}
		key := r.UserID
		if key == "" {
			key = fmt.Sprintf("\x00anonymous-%d", i)
		}
		idx, seen := index[key]
		if !seen {
			idx = len(people)
			index[key] = idx
			people = append(people, contributor{})
		}
		c := &people[idx]
		if in := r.Intensity.Normalize(); in > c.intensity {
			c.intensity = in
		}
		if region := normalizeLabel(r.Region); region != "" && (c.region == "" || !r.CreatedAt.Before(c.regionAt)) {
			c.region = region
			c.regionAt = r.CreatedAt
		}
		if strings.TrimSpace(r.Reason) != "" {
			c.reason = true
		}
		if !r.CreatedAt.IsZero() {
			days.add(r.CreatedAt.UTC().Format(dayLayout), idx)
		}
	}

	view.TotalCount = len(people)
	if view.TotalCount == 0 {
		return view
	}

	k := a.cfg.KFloor
	intensities := newBuckets()
	regions := newBuckets()
	values := make([]float64, 0, len(people))
	reasons := 0
	var projection float64
	for idx, c := range people {
		intensities.add(c.intensity.String(), idx)
		region := c.region
		if region == "" {
			region = "unspecified"
		}
		regions.add(region, idx)
		values = append(values, float64(c.intensity))
		if c.reason {
			reasons++
		}
		projection += a.cfg.Tables.ConversionLikelihood.Lookup(c.intensity) * unitPrice
	}

	view.IntensityDistribution = intensities.fold(k)
	view.RegionBreakdown = regions.fold(k)
	view.DailyBreakdown = days.fold(k)
	if reasons >= k {
		view.ReasonsProvided = reasons
	}
	if view.TotalCount >= k {
		view.Percentiles = percentilesOf(values)
		view.RevenueProjection = projection
	}

	enforceFloor(view.IntensityDistribution, k)
	enforceFloor(view.RegionBreakdown, k)
	enforceFloor(view.DailyBreakdown, k)
	return view
}

// AggregatePledges summarises pledges. Money figures are published only when
// at least KFloor distinct users paid in the dominant currency.
func (a *Aggregator) AggregatePledges(pledges []models.PledgeRecord) RevenueAggregate {
	agg := RevenueAggregate{StatusBreakdown: map[string]int{}}
	if len(pledges) == 0 {
		return agg
	}

	k := a.cfg.KFloor
	maxAmount := a.cfg.Tables.MaxPledgeAmount()
	index := make(map[string]int)
	statuses := newBuckets()

	// Per currency: payer order of first appearance and each payer's total.
	type ledger struct {
		order  []int
		totals map[int]float64
	}
	currencies := make(map[string]*ledger)

	for i, p := range pledges {
		key := p.UserID
		if key == "" {
			key = fmt.Sprintf("\x00anonymous-%d", i)
		}
		idx, seen := index[key]
		if !seen {
			idx = len(index)
			index[key] = idx
		}

		status := string(p.Status)
		if !p.Status.Valid() {
			status = "unknown"
		}
		statuses.add(status, idx)

		if !p.IsPaid() {
			continue
		}
		cur := strings.ToUpper(strings.TrimSpace(p.Currency))
		l, ok := currencies[cur]
		if !ok {
			l = &ledger{totals: make(map[int]float64)}
			currencies[cur] = l
		}
		if _, ok := l.totals[idx]; !ok {
			l.order = append(l.order, idx)
		}
		l.totals[idx] += sanitizeAmount(p.Amount, maxAmount)
	}

	agg.StatusBreakdown = statuses.fold(k)
	enforceFloor(agg.StatusBreakdown, k)

	if len(currencies) == 0 {
		return agg
	}

	var dominant string
	var best *ledger
	for cur, l := range currencies {
		if best == nil || len(l.order) > len(best.order) || (len(l.order) == len(best.order) && cur < dominant) {
			dominant, best = cur, l
		}
	}
	if len(best.order) < k {
		agg.Suppressed = true
		return agg
	}

	amounts := make([]float64, 0, len(best.order))
	var total float64
	for _, idx := range best.order {
		amounts = append(amounts, best.totals[idx])
		total += best.totals[idx]
	}
	agg.Currency = dominant
	agg.PaidCount = len(best.order)
	agg.TotalRevenue = total
	agg.AverageAmount = total / float64(agg.PaidCount)
	agg.Percentiles = percentilesOf(amounts)
	return agg
}

// SanitizeForBrand builds the complete brand-facing view of a campaign.
// Records that name a different campaign are ignored. The creator's identity
// and all sub-day timestamps are dropped.
func (a *Aggregator) SanitizeForBrand(campaign models.Campaign, records []models.InterestRecord, pledges []models.PledgeRecord) BrandSafeCampaignView {
	ownRecords := make([]models.InterestRecord, 0, len(records))
	for _, r := range records {
		if r.CampaignID == "" || r.CampaignID == campaign.ID {
			ownRecords = append(ownRecords, r)
		}
	}
	ownPledges := make([]models.PledgeRecord, 0, len(pledges))
	for _, p := range pledges {
		if p.CampaignID == "" || p.CampaignID == campaign.ID {
			ownPledges = append(ownPledges, p)
		}
	}

	unitPrice := sanitizeAmount(campaign.TargetPrice, a.cfg.Tables.MaxPledgeAmount())
	if unitPrice <= 0 {
		unitPrice = a.cfg.DefaultUnitPrice
	}

	view := BrandSafeCampaignView{
		CampaignID:  campaign.ID,
		Title:       campaign.Title,
		Description: campaign.Description,
		Category:    campaign.Category,
		BrandID:     campaign.BrandID,
		Goal:        campaign.Goal,
		Lobbies:     a.aggregateLobbies(ownRecords, unitPrice),
	}
	if !campaign.CreatedAt.IsZero() {
		view.CreatedOn = campaign.CreatedAt.UTC().Format(dayLayout)
	}
	if campaign.Goal > 0 {
		view.GoalProgress = stats.Clamp(float64(view.Lobbies.TotalCount)/float64(campaign.Goal), 0, 1)
	}
	revenue := a.AggregatePledges(ownPledges)
	view.Revenue = &revenue
	return view
}

// buckets maps a label to the set of contributor indexes in it.
type buckets map[string]map[int]struct{}

func newBuckets() buckets {
	return make(buckets)
}

func (b buckets) add(label string, who int) {
	set, ok := b[label]
	if !ok {
		set = make(map[int]struct{})
		b[label] = set
	}
	set[who] = struct{}{}
}

// fold returns contributor counts per label with every label under k merged
// into OtherBucket. When the merged bucket is itself under k, the smallest
// remaining labels are merged in until it reaches k; if that never happens
// nothing is published.
func (b buckets) fold(k int) map[string]int {
	other := make(map[int]struct{})
	merge := func(set map[int]struct{}) {
		for who := range set {
			other[who] = struct{}{}
		}
	}

	var shown []string
	for label, set := range b {
		if label == OtherBucket || len(set) < k {
			merge(set)
			continue
		}
		shown = append(shown, label)
	}

	sort.Slice(shown, func(i, j int) bool {
		ci, cj := len(b[shown[i]]), len(b[shown[j]])
		if ci != cj {
			return ci < cj
		}
		return shown[i] < shown[j]
	})
	for len(other) > 0 && len(other) < k && len(shown) > 0 {
		merge(b[shown[0]])
		shown = shown[1:]
	}

	result := make(map[string]int, len(shown)+1)
	for _, label := range shown {
		result[label] = len(b[label])
	}
	if len(other) >= k {
		result[OtherBucket] = len(other)
	}
	return result
}

// enforceFloor drops any bucket under k. It runs on every published map.
func enforceFloor(counts map[string]int, k int) {
	for label, n := range counts {
		if n < k {
			delete(counts, label)
		}
	}
}

func percentilesOf(values []float64) Percentiles {
	ps, err := stats.Percentiles(values, 25, 50, 75, 90)
	if err != nil {
		return Percentiles{}
	}
	return Percentiles{P25: ps[0], P50: ps[1], P75: ps[2], P90: ps[3]}
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// sanitizeAmount zeroes amounts the conversion buckets do not cover, so money
// totals stay finite.
func sanitizeAmount(v, max float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > max {
		return 0
	}
	return v
}
