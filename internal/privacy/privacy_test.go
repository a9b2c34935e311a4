package privacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/demandsignal/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2026, 5, 1, 15, 30, 0, 0, time.UTC)

func rec(user string, intensity models.Intensity, region string, day int) models.InterestRecord {
	return models.InterestRecord{
		CampaignID: "camp-1",
		UserID:     user,
		Intensity:  intensity,
		CreatedAt:  day0.AddDate(0, 0, day),
		Verified:   true,
		Region:     region,
	}
}

func users(prefix string, n int, intensity models.Intensity, region string, day int) []models.InterestRecord {
	out := make([]models.InterestRecord, n)
	for i := range out {
		out[i] = rec(fmt.Sprintf("%s-%d", prefix, i), intensity, region, day)
	}
	return out
}

func concat(parts ...[]models.InterestRecord) []models.InterestRecord {
	var out []models.InterestRecord
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestAggregateLobbies_Empty(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	view := a.AggregateLobbies(nil)

	assert.Equal(t, 0, view.TotalCount)
	assert.NotNil(t, view.IntensityDistribution)
	assert.Empty(t, view.IntensityDistribution)
	assert.NotNil(t, view.RegionBreakdown)
	assert.Empty(t, view.RegionBreakdown)
	assert.Empty(t, view.DailyBreakdown)
	assert.Equal(t, Percentiles{}, view.Percentiles)
	assert.Equal(t, 0.0, view.RevenueProjection)
}

func TestAggregateLobbies_SmallRegionFoldsIntoOther(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	records := concat(
		users("us", 6, models.IntensityHigh, "US", 0),
		users("ca", 3, models.IntensityHigh, "CA", 0),
		users("mx", 2, models.IntensityHigh, "MX", 0),
	)

	view := a.AggregateLobbies(records)

	assert.Equal(t, 11, view.TotalCount)
	assert.Equal(t, map[string]int{"us": 6, OtherBucket: 5}, view.RegionBreakdown)
	_, exposed := view.RegionBreakdown["ca"]
	assert.False(t, exposed, "region with 3 contributors must not be published")
}

func TestAggregateLobbies_SecondarySuppression(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	records := concat(
		users("us", 6, models.IntensityHigh, "US", 0),
		users("ca", 3, models.IntensityHigh, "CA", 0),
	)

	view := a.AggregateLobbies(records)

	// "other" would hold only 3, so the next smallest bucket is folded in too.
	assert.Equal(t, map[string]int{OtherBucket: 9}, view.RegionBreakdown)
}

func TestAggregateLobbies_BelowFloorPublishesNothing(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	records := []models.InterestRecord{
		rec("a", models.IntensityLow, "US", 0),
		rec("b", models.IntensityCritical, "FR", 0),
		rec("c", models.IntensityHigh, "US", 1),
	}
	records[0].Reason = "I need this for work"

	view := a.AggregateLobbies(records)

	assert.Equal(t, 3, view.TotalCount)
	assert.Empty(t, view.RegionBreakdown)
	assert.Empty(t, view.IntensityDistribution)
	assert.Empty(t, view.DailyBreakdown)
	assert.Equal(t, Percentiles{}, view.Percentiles)
	assert.Equal(t, 0.0, view.RevenueProjection)
	assert.Equal(t, 0, view.ReasonsProvided)
}

func TestAggregateLobbies_PercentilesAndProjection(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	records := concat(
		users("l", 2, models.IntensityLow, "us", 0),
		users("m", 2, models.IntensityMedium, "us", 0),
		users("h", 3, models.IntensityHigh, "us", 0),
		users("c", 3, models.IntensityCritical, "us", 0),
	)

	view := a.AggregateLobbies(records)

	assert.Equal(t, 10, view.TotalCount)
	assert.InDelta(t, 2.0, view.Percentiles.P25, 1e-9)
	assert.InDelta(t, 3.0, view.Percentiles.P50, 1e-9)
	assert.InDelta(t, 3.75, view.Percentiles.P75, 1e-9)
	assert.InDelta(t, 4.0, view.Percentiles.P90, 1e-9)
	// (2×0.05 + 2×0.15 + 3×0.35 + 3×0.6) × 25
	assert.InDelta(t, 81.25, view.RevenueProjection, 1e-9)
	// Every intensity bucket is under the floor on its own.
	assert.Equal(t, map[string]int{OtherBucket: 10}, view.IntensityDistribution)
}

func TestAggregateLobbies_DistinctContributors(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	records := users("u", 5, models.IntensityLow, "de", 0)
	// The same five people lobby again, more strongly, and one unverified record.
	records = append(records, users("u", 5, models.IntensityCritical, "de", 1)...)
	noise := rec("bot", models.IntensityCritical, "de", 0)
	noise.Verified = false
	records = append(records, noise)

	view := a.AggregateLobbies(records)

	assert.Equal(t, 5, view.TotalCount)
	assert.Equal(t, map[string]int{"critical": 5}, view.IntensityDistribution)
	assert.Equal(t, map[string]int{"de": 5}, view.RegionBreakdown)
	assert.Equal(t, map[string]int{"2026-05-01": 5, "2026-05-02": 5}, view.DailyBreakdown)
}

func TestAggregateLobbies_DailyBucketsFoldByDistinctUsers(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	records := concat(
		users("d0", 6, models.IntensityMedium, "us", 0),
		users("d1", 5, models.IntensityMedium, "us", 1),
		users("d2", 2, models.IntensityMedium, "us", 2),
	)

	view := a.AggregateLobbies(records)

	assert.Equal(t, map[string]int{"2026-05-01": 6, OtherBucket: 7}, view.DailyBreakdown)
}

func TestAggregateLobbies_ReasonsAreCountedNotEchoed(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	records := users("r", 6, models.IntensityHigh, "us", 0)
	for i := range records {
		records[i].Reason = fmt.Sprintf("secret reason %d", i)
	}

	view := a.AggregateLobbies(records)
	raw, err := json.Marshal(view)
	require.NoError(t, err)

	assert.Equal(t, 6, view.ReasonsProvided)
	assert.NotContains(t, string(raw), "secret reason")
}

func TestAggregatePledges(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	var pledges []models.PledgeRecord
	for i, amount := range []float64{10, 20, 30, 40, 50, 60} {
		pledges = append(pledges, models.PledgeRecord{UserID: fmt.Sprintf("usd-%d", i), Amount: amount, Currency: "usd", Status: models.PledgePaid})
	}
	pledges = append(pledges, models.PledgeRecord{UserID: "eur-0", Amount: 999, Currency: "EUR", Status: models.PledgePaid})
	for i := 0; i < 5; i++ {
		pledges = append(pledges, models.PledgeRecord{UserID: fmt.Sprintf("ref-%d", i), Amount: 15, Currency: "USD", Status: models.PledgeRefunded})
	}
	pledges = append(pledges, models.PledgeRecord{UserID: "pend-0", Amount: 15, Currency: "USD", Status: models.PledgePending})

	agg := a.AggregatePledges(pledges)

	assert.False(t, agg.Suppressed)
	assert.Equal(t, "USD", agg.Currency)
	assert.Equal(t, 6, agg.PaidCount)
	assert.InDelta(t, 210.0, agg.TotalRevenue, 1e-9)
	assert.InDelta(t, 35.0, agg.AverageAmount, 1e-9)
	assert.InDelta(t, 35.0, agg.Percentiles.P50, 1e-9)
	// pending (1) is under the floor; folding it needs the smallest shown bucket.
	assert.Equal(t, map[string]int{"paid": 7, OtherBucket: 6}, agg.StatusBreakdown)
}

func TestAggregatePledges_SuppressedUnderFloor(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	pledges := []models.PledgeRecord{
		{UserID: "a", Amount: 500, Currency: "USD", Status: models.PledgePaid},
		{UserID: "a", Amount: 250, Currency: "USD", Status: models.PledgePaid},
		{UserID: "b", Amount: 40, Currency: "USD", Status: models.PledgePaid},
	}

	agg := a.AggregatePledges(pledges)

	assert.True(t, agg.Suppressed)
	assert.Equal(t, 0, agg.PaidCount)
	assert.Equal(t, 0.0, agg.TotalRevenue)
	assert.Equal(t, Percentiles{}, agg.Percentiles)
	assert.Empty(t, agg.StatusBreakdown)
}

func TestAggregatePledges_CombinesPerPayerAndIgnoresBadAmounts(t *testing.T) {
	a := NewAggregator(Config{KFloor: 2, DefaultUnitPrice: 10, Tables: DefaultConfig().Tables}, nil)
	pledges := []models.PledgeRecord{
		{UserID: "a", Amount: 30, Currency: "GBP", Status: models.PledgePaid},
		{UserID: "a", Amount: 20, Currency: "GBP", Status: models.PledgePaid},
		{UserID: "b", Amount: -100, Currency: "GBP", Status: models.PledgePaid},
		{UserID: "b", Amount: 10, Currency: "GBP", Status: models.PledgePaid},
	}

	agg := a.AggregatePledges(pledges)

	assert.Equal(t, 2, agg.PaidCount)
	assert.InDelta(t, 60.0, agg.TotalRevenue, 1e-9)
	assert.InDelta(t, 30.0, agg.AverageAmount, 1e-9)
}

func TestAggregatePledges_OversizedAmountsStaySerializable(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	var pledges []models.PledgeRecord
	for i := 0; i < 5; i++ {
		pledges = append(pledges,
			models.PledgeRecord{UserID: fmt.Sprintf("fan-%d", i), Amount: 40, Currency: "USD", Status: models.PledgePaid},
			models.PledgeRecord{UserID: fmt.Sprintf("whale-%d", i), Amount: math.MaxFloat64 / 2, Currency: "USD", Status: models.PledgePaid},
		)
	}
	pledges = append(pledges, models.PledgeRecord{UserID: "fan-0", Amount: 1e9, Currency: "USD", Status: models.PledgePaid})

	agg := a.AggregatePledges(pledges)

	assert.Equal(t, 10, agg.PaidCount)
	assert.InDelta(t, 200.0, agg.TotalRevenue, 1e-9)
	assert.InDelta(t, 20.0, agg.AverageAmount, 1e-9)
	assert.False(t, math.IsInf(agg.Percentiles.P90, 0))

	_, err := json.Marshal(agg)
	require.NoError(t, err)
}

func TestAggregatePledges_Empty(t *testing.T) {
	agg := NewAggregator(DefaultConfig(), nil).AggregatePledges(nil)
	assert.False(t, agg.Suppressed)
	assert.NotNil(t, agg.StatusBreakdown)
	assert.Equal(t, 0, agg.PaidCount)
}

func TestSanitizeForBrand(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	campaign := models.Campaign{
		ID:          "camp-1",
		Title:       "Bring back the flip phone",
		Category:    "electronics",
		CreatorID:   "creator-secret-id",
		BrandID:     "brand-1",
		Goal:        20,
		TargetPrice: 100,
		Currency:    "USD",
		CreatedAt:   time.Date(2026, 4, 2, 9, 41, 17, 0, time.UTC),
	}
	records := users("u", 10, models.IntensityHigh, "us", 0)
	records = append(records, models.InterestRecord{CampaignID: "camp-2", UserID: "elsewhere", Intensity: models.IntensityHigh, CreatedAt: day0, Verified: true})

	view := a.SanitizeForBrand(campaign, records, nil)

	assert.Equal(t, "camp-1", view.CampaignID)
	assert.Equal(t, "2026-04-02", view.CreatedOn)
	assert.Equal(t, 10, view.Lobbies.TotalCount)
	assert.InDelta(t, 0.5, view.GoalProgress, 1e-12)
	assert.InDelta(t, 10*0.35*100, view.Lobbies.RevenueProjection, 1e-9)
	require.NotNil(t, view.Revenue)

	raw, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "creator-secret-id")
	assert.NotContains(t, string(raw), "09:41")
	assert.NotContains(t, string(raw), "elsewhere")
}

func TestSanitizeForBrand_GoalProgressCapped(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	view := a.SanitizeForBrand(models.Campaign{ID: "camp-1", Goal: 2}, users("u", 6, models.IntensityLow, "", 0), nil)
	assert.Equal(t, 1.0, view.GoalProgress)
	assert.Equal(t, map[string]int{"unspecified": 6}, view.Lobbies.RegionBreakdown)
}

func TestSanitizeForBrand_OversizedTargetPriceUsesDefault(t *testing.T) {
	a := NewAggregator(DefaultConfig(), nil)
	campaign := models.Campaign{ID: "camp-1", Title: "Gold-plated kettle", TargetPrice: math.MaxFloat64}

	view := a.SanitizeForBrand(campaign, users("u", 5, models.IntensityHigh, "us", 0), nil)

	assert.InDelta(t, 5*0.35*25, view.Lobbies.RevenueProjection, 1e-9)
	_, err := json.Marshal(view)
	require.NoError(t, err)
}

func TestWithSignal(t *testing.T) {
	view := BrandSafeCampaignView{CampaignID: "camp-1"}
	sig := models.CampaignSignal{Score: 61.5, Classification: models.ClassHot, SampleSize: 3, ComputedAt: day0}

	got := view.WithSignal(sig)

	assert.Equal(t, 61.5, got.SignalScore)
	assert.Equal(t, models.ClassHot, got.Classification)
	assert.Equal(t, 0.0, view.SignalScore, "receiver must not be modified")
}

type fakeGate struct {
	members map[string]string // userID -> role
	err     error
}

func (g fakeGate) IsBrandUser(_ context.Context, userID, brandID string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	_, ok := g.members[brandID+"/"+userID]
	return ok, nil
}

func (g fakeGate) IsBrandOwner(_ context.Context, userID, brandID string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	return g.members[brandID+"/"+userID] == "owner", nil
}

func TestBrandAuthorization(t *testing.T) {
	ctx := context.Background()
	gate := fakeGate{members: map[string]string{"acme/alice": "owner", "acme/bob": "member"}}
	a := NewAggregator(DefaultConfig(), gate)

	assert.True(t, a.IsBrandUser(ctx, "alice", "acme"))
	assert.True(t, a.IsBrandOwner(ctx, "alice", "acme"))
	assert.True(t, a.IsBrandUser(ctx, "bob", "acme"))
	assert.False(t, a.IsBrandOwner(ctx, "bob", "acme"))
	assert.False(t, a.IsBrandUser(ctx, "mallory", "acme"))
	assert.False(t, a.IsBrandUser(ctx, "", "acme"))

	failing := NewAggregator(DefaultConfig(), fakeGate{err: errors.New("identity service down")})
	assert.False(t, failing.IsBrandUser(ctx, "alice", "acme"))
	assert.False(t, failing.IsBrandOwner(ctx, "alice", "acme"))

	assert.False(t, NewAggregator(DefaultConfig(), nil).IsBrandUser(ctx, "alice", "acme"))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.KFloor = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DefaultUnitPrice = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DefaultUnitPrice = cfg.Tables.MaxPledgeAmount() * 2
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.DefaultUnitPrice = math.NaN()
	assert.Error(t, cfg.Validate())
}
