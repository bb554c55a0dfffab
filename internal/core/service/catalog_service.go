package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/bus"
	"github.com/rl1809/order-tracking/internal/cache"
	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/port"
	"github.com/rl1809/order-tracking/internal/retry"
)

var (
	bannersOpts    = cache.Options{Duration: 10 * time.Minute, FreshFor: time.Minute, Revalidate: true}
	restaurantOpts = cache.Options{Tier: cache.TierDurable, Duration: 30 * time.Minute}
	statsOpts      = cache.Options{Duration: time.Minute}
)

// CatalogService serves the restaurant, banner and dashboard data behind the
// storefront and dashboard.
type CatalogService struct {
	repo     port.CatalogRepository
	cache    cache.Layer
	policy   retry.Policy
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

func NewCatalogService(repo port.CatalogRepository, c cache.Layer, logger zerolog.Logger) *CatalogService {
	return &CatalogService{
		repo:     repo,
		cache:    c,
		policy:   retry.DefaultPolicy(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "catalog").Logger(),
		now:      time.Now,
	}
}

func bannersKey(restaurantID string) string { return cache.Key("banners", restaurantID) }
func restaurantKey(id string) string        { return cache.Key("restaurant", id) }
func statsKey(restaurantID string) string   { return cache.Key("dashboard", restaurantID) }

func (s *CatalogService) Banners(ctx context.Context, restaurantID string) ([]domain.Banner, error) {
	banners, err := cache.Fetch(ctx, s.cache, bannersKey(restaurantID), func(ctx context.Context) ([]domain.Banner, error) {
		return load(ctx, s.policy, func(ctx context.Context) ([]domain.Banner, error) {
			return s.repo.ListBanners(ctx, restaurantID)
		})
	}, bannersOpts)
	if err != nil {
		return nil, fmt.Errorf("banners of %s: %w", restaurantID, err)
	}
	if banners == nil {
		banners = []domain.Banner{}
	}
	return banners, nil
}

// Restaurant returns nil without an error when the restaurant does not exist.
func (s *CatalogService) Restaurant(ctx context.Context, id string) (*domain.Restaurant, error) {
	r, err := cache.Fetch(ctx, s.cache, restaurantKey(id), func(ctx context.Context) (*domain.Restaurant, error) {
		r, err := load(ctx, s.policy, func(ctx context.Context) (*domain.Restaurant, error) {
			return s.repo.GetRestaurant(ctx, id)
		})
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return r, err
	}, restaurantOpts)
	if err != nil {
		return nil, fmt.Errorf("restaurant %s: %w", id, err)
	}
	return r, nil
}

// DashboardStatistics returns zero counters for a restaurant with nothing
// aggregated yet.
func (s *CatalogService) DashboardStatistics(ctx context.Context, restaurantID string) (domain.DashboardStatistics, error) {
	stats, err := cache.Fetch(ctx, s.cache, statsKey(restaurantID), func(ctx context.Context) (domain.DashboardStatistics, error) {
		st, err := load(ctx, s.policy, func(ctx context.Context) (*domain.DashboardStatistics, error) {
			return s.repo.GetDashboardStatistics(ctx, restaurantID)
		})
		if errors.Is(err, domain.ErrNotFound) {
			return domain.DashboardStatistics{RestaurantID: restaurantID}, nil
		}
		if err != nil {
			return domain.DashboardStatistics{}, err
		}
		return *st, nil
	}, statsOpts)
	if err != nil {
		return domain.DashboardStatistics{}, fmt.Errorf("dashboard statistics of %s: %w", restaurantID, err)
	}
	return stats, nil
}

func (s *CatalogService) CreateBanner(ctx context.Context, restaurantID string, b domain.Banner) (*domain.Banner, error) {
	now := s.now().UTC()
	b.ID = uuid.NewString()
	b.RestaurantID = restaurantID
	b.CreatedAt = now
	b.UpdatedAt = now
	if err := s.validate.Struct(b); err != nil {
		return nil, err
	}

	if err := s.repo.CreateBanner(ctx, b); err != nil {
		return nil, fmt.Errorf("create banner: %w", err)
	}
	s.invalidate(ctx, bannersKey(restaurantID), cache.TierMemory)
	return &b, nil
}

func (s *CatalogService) UpdateBanner(ctx context.Context, b domain.Banner) (*domain.Banner, error) {
	b.UpdatedAt = s.now().UTC()
	if err := s.validate.Struct(b); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateBanner(ctx, b); err != nil {
		return nil, fmt.Errorf("update banner %s: %w", b.ID, err)
	}
	s.invalidate(ctx, bannersKey(b.RestaurantID), cache.TierMemory)
	return &b, nil
}

func (s *CatalogService) DeleteBanner(ctx context.Context, restaurantID, id string) error {
	if err := s.repo.DeleteBanner(ctx, restaurantID, id); err != nil {
		return fmt.Errorf("delete banner %s: %w", id, err)
	}
	s.invalidate(ctx, bannersKey(restaurantID), cache.TierMemory)
	return nil
}

// Watch drops cached catalog data when the store reports a change to it. The
// returned func stops watching.
func (s *CatalogService) Watch(sub ChangeSubscriber) func() {
	return stopAll([]func(){
		sub.Subscribe(domain.TableBanners, bus.Scope{}, func(ev domain.ChangeEvent) {
			if r := ev.Key("restaurant_id"); r != "" {
				s.invalidate(context.Background(), bannersKey(r), cache.TierMemory)
			}
		}),
		sub.Subscribe(domain.TableRestaurants, bus.Scope{}, func(ev domain.ChangeEvent) {
			s.invalidate(context.Background(), restaurantKey(ev.Key("id")), cache.TierDurable)
		}),
		sub.Subscribe(domain.TableDashboardStatistics, bus.Scope{}, func(ev domain.ChangeEvent) {
			s.invalidate(context.Background(), statsKey(ev.Key("restaurant_id")), cache.TierMemory)
		}),
	})
}

func (s *CatalogService) invalidate(ctx context.Context, key string, tier cache.Tier) {
	if err := s.cache.Invalidate(ctx, key, tier); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("invalidate cache entry")
	}
}
