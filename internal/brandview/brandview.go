// Package brandview serves the brand-facing view of a campaign.
//
// A request passes through the rate limiter, then the campaign lookup, then
// the access gate. Members of the campaign's brand see lobby aggregates and
// the Signal Score. Only brand owners also see the revenue block.
package brandview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/demandsignal/internal/logger"
	"github.com/rewired-gh/demandsignal/internal/models"
	"github.com/rewired-gh/demandsignal/internal/privacy"
	"github.com/rewired-gh/demandsignal/internal/ratelimit"
	"github.com/rewired-gh/demandsignal/internal/signal"
	"github.com/rewired-gh/demandsignal/internal/storage"
)

var (
	// ErrRateLimited is returned when the caller has used up its requests for the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrForbidden is returned when the caller is not a member of the campaign's brand.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when the campaign does not exist.
	ErrNotFound = errors.New("campaign not found")
)

// Store is the read side of the campaign store.
type Store interface {
	GetCampaign(ctx context.Context, id string) (models.Campaign, error)
	InterestRecords(ctx context.Context, campaignID string) ([]models.InterestRecord, error)
	Pledges(ctx context.Context, campaignID string) ([]models.PledgeRecord, error)
}

var _ privacy.AccessGate = (*storage.Storage)(nil)

// Service builds brand-safe campaign views.
type Service struct {
	store      Store
	aggregator *privacy.Aggregator
	limiter    ratelimit.Limiter
	signalCfg  signal.Config
	nowFn      func() time.Time
}

// New creates a Service. limiter may be nil to disable rate limiting.
func New(store Store, aggregator *privacy.Aggregator, limiter ratelimit.Limiter, signalCfg signal.Config) *Service {
	return &Service{
		store:      store,
		aggregator: aggregator,
		limiter:    limiter,
		signalCfg:  signalCfg,
		nowFn:      time.Now,
	}
}

// CampaignView returns the view of campaignID that userID is allowed to see.
func (s *Service) CampaignView(ctx context.Context, userID, campaignID string) (privacy.BrandSafeCampaignView, error) {
	var view privacy.BrandSafeCampaignView

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, userID)
		if err != nil {
			return view, fmt.Errorf("rate limiter: %w", err)
		}
		if !ok {
			return view, ErrRateLimited
		}
	}

	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if errors.Is(err, storage.ErrNotFound) {
		return view, ErrNotFound
	}
	if err != nil {
		return view, fmt.Errorf("failed to load campaign %s: %w", campaignID, err)
	}

	isOwner := s.aggregator.IsBrandOwner(ctx, userID, campaign.BrandID)
	if !isOwner && !s.aggregator.IsBrandUser(ctx, userID, campaign.BrandID) {
		logger.Warn("CampaignView: user %s denied access to campaign %s", userID, campaignID)
		return view, ErrForbidden
	}

	records, err := s.store.InterestRecords(ctx, campaignID)
	if err != nil {
		return view, fmt.Errorf("failed to load interest records for %s: %w", campaignID, err)
	}
	pledges, err := s.store.Pledges(ctx, campaignID)
	if err != nil {
		return view, fmt.Errorf("failed to load pledges for %s: %w", campaignID, err)
	}

	sig := signal.ComputeSignalScore(records, pledges, s.nowFn(), s.signalCfg)
	view = s.aggregator.SanitizeForBrand(campaign, records, pledges).WithSignal(sig)
	if !isOwner {
		view.Revenue = nil
	}
	return view, nil
}
