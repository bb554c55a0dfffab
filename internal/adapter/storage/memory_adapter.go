package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/port"
)

// MemoryStore keeps everything in process. It backs local development and
// tests and follows the same contracts as the SQL adapters.
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[string]domain.Order
	tracking    map[string]domain.DeliveryTrackingRecord
	banners     map[string]domain.Banner
	restaurants map[string]domain.Restaurant
	stats       map[string]domain.DashboardStatistics

	events notifier
}

func NewMemoryStore(publisher port.ChangePublisher, logger zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]domain.Order),
		tracking:    make(map[string]domain.DeliveryTrackingRecord),
		banners:     make(map[string]domain.Banner),
		restaurants: make(map[string]domain.Restaurant),
		stats:       make(map[string]domain.DashboardStatistics),
		events:      notifier{publisher: publisher, logger: logger},
	}
}

func (m *MemoryStore) PutOrder(ctx context.Context, o domain.Order) {
	m.mu.Lock()
	_, existed := m.orders[o.ID]
	m.orders[o.ID] = o
	m.mu.Unlock()

	typ := domain.ChangeInsert
	if existed {
		typ = domain.ChangeUpdate
	}
	m.events.emit(ctx, domain.TableOrders, typ, orderKeys(o))
}

func (m *MemoryStore) PutRestaurant(ctx context.Context, r domain.Restaurant) {
	m.mu.Lock()
	m.restaurants[r.ID] = r
	m.mu.Unlock()
	m.events.emit(ctx, domain.TableRestaurants, domain.ChangeUpdate, map[string]string{"id": r.ID, "restaurant_id": r.ID})
}

func (m *MemoryStore) PutDashboardStatistics(ctx context.Context, s domain.DashboardStatistics) {
	m.mu.Lock()
	m.stats[s.RestaurantID] = s
	m.mu.Unlock()
	m.events.emit(ctx, domain.TableDashboardStatistics, domain.ChangeUpdate, map[string]string{"restaurant_id": s.RestaurantID})
}

// ActiveTrackingCount returns how many active records exist for an order.
func (m *MemoryStore) ActiveTrackingCount(orderID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.tracking {
		if t.OrderID == orderID && t.IsActive {
			n++
		}
	}
	return n
}

func (m *MemoryStore) GetTracking(id string) (domain.DeliveryTrackingRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracking[id]
	return t, ok
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (m *MemoryStore) ListOrders(ctx context.Context, restaurantID string, limit int) ([]domain.Order, error) {
	m.mu.RLock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.RestaurantID == restaurantID {
			out = append(out, o)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SetOrderStatus(ctx context.Context, change domain.StatusChange) error {
	m.mu.Lock()

	o, ok := m.orders[change.OrderID]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	if change.UpdatesOrder() && o.Status != change.From {
		m.mu.Unlock()
		return domain.ErrStatusConflict
	}

	var touched []domain.DeliveryTrackingRecord
	if change.TrackingID != "" {
		t, ok := m.tracking[change.TrackingID]
		if !ok || !t.IsActive || t.OrderID != change.OrderID {
			m.mu.Unlock()
			return domain.ErrNoActiveTracking
		}
		if change.TrackingStatus != "" {
			t.Status = change.TrackingStatus
		}
		if change.CloseTracking {
			t.IsActive = false
			t.Status = domain.OrderStatusDelivered
		}
		t.LastUpdated = change.At
		m.tracking[t.ID] = t
		touched = append(touched, t)
	} else if change.CloseTracking {
		for id, t := range m.tracking {
			if t.OrderID == change.OrderID && t.IsActive {
				t.IsActive = false
				t.Status = domain.OrderStatusDelivered
				t.LastUpdated = change.At
				m.tracking[id] = t
				touched = append(touched, t)
			}
		}
	}

	if change.UpdatesOrder() {
		o.Status = change.To
		o.UpdatedAt = change.At
		m.orders[o.ID] = o
	}
	m.mu.Unlock()

	if change.UpdatesOrder() {
		m.events.emit(ctx, domain.TableOrders, domain.ChangeUpdate, orderKeys(o))
	}
	for _, t := range touched {
		m.events.emit(ctx, domain.TableDeliveryTracking, domain.ChangeUpdate, trackingKeys(t.ID, t.OrderID))
	}
	return nil
}

func (m *MemoryStore) UpsertActiveTracking(ctx context.Context, record domain.DeliveryTrackingRecord) (*domain.DeliveryTrackingRecord, error) {
	m.mu.Lock()

	typ := domain.ChangeInsert
	current := record
	for _, t := range m.tracking {
		if t.OrderID == record.OrderID && t.IsActive {
			current = t
			current.DeliveryPersonID = record.DeliveryPersonID
			current.DeliveryPersonName = record.DeliveryPersonName
			current.CurrentLatitude = record.CurrentLatitude
			current.CurrentLongitude = record.CurrentLongitude
			current.Status = record.Status
			current.LastUpdated = record.LastUpdated
			typ = domain.ChangeUpdate
			break
		}
	}
	if typ == domain.ChangeInsert {
		current.ID = uuid.NewString()
		current.IsActive = true
		if current.CreatedAt.IsZero() {
			current.CreatedAt = current.LastUpdated
		}
	}
	m.tracking[current.ID] = current
	m.mu.Unlock()

	m.events.emit(ctx, domain.TableDeliveryTracking, typ, trackingKeys(current.ID, current.OrderID))
	return &current, nil
}

func (m *MemoryStore) GetActiveTracking(ctx context.Context, orderID string) (*domain.DeliveryTrackingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tracking {
		if t.OrderID == orderID && t.IsActive {
			return &t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MemoryStore) UpdateTrackingPosition(ctx context.Context, id string, pos domain.Position, at time.Time) error {
	m.mu.Lock()
	t, ok := m.tracking[id]
	if !ok || !t.IsActive {
		m.mu.Unlock()
		return domain.ErrNoActiveTracking
	}
	t.CurrentLatitude = pos.Latitude
	t.CurrentLongitude = pos.Longitude
	t.LastUpdated = at
	m.tracking[id] = t
	m.mu.Unlock()

	m.events.emit(ctx, domain.TableDeliveryTracking, domain.ChangeUpdate, trackingKeys(t.ID, t.OrderID))
	return nil
}

func (m *MemoryStore) CloseTracking(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	t, ok := m.tracking[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	if !t.IsActive {
		m.mu.Unlock()
		return nil
	}
	t.IsActive = false
	t.Status = domain.OrderStatusDelivered
	t.LastUpdated = at
	m.tracking[id] = t
	m.mu.Unlock()

	m.events.emit(ctx, domain.TableDeliveryTracking, domain.ChangeUpdate, trackingKeys(t.ID, t.OrderID))
	return nil
}

func (m *MemoryStore) ReconcileTracking(ctx context.Context, at time.Time) (int, error) {
	m.mu.Lock()
	var closed []domain.DeliveryTrackingRecord
	for id, t := range m.tracking {
		if !t.IsActive {
			continue
		}
		o, ok := m.orders[t.OrderID]
		if !ok || !o.Status.Terminal() {
			continue
		}
		t.IsActive = false
		t.Status = domain.OrderStatusDelivered
		t.LastUpdated = at
		m.tracking[id] = t
		closed = append(closed, t)
	}
	m.mu.Unlock()

	for _, t := range closed {
		m.events.emit(ctx, domain.TableDeliveryTracking, domain.ChangeUpdate, trackingKeys(t.ID, t.OrderID))
	}
	return len(closed), nil
}

func (m *MemoryStore) ListBanners(ctx context.Context, restaurantID string) ([]domain.Banner, error) {
	m.mu.RLock()
	var out []domain.Banner
	for _, b := range m.banners {
		if b.RestaurantID == restaurantID {
			out = append(out, b)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CreateBanner(ctx context.Context, banner domain.Banner) error {
	m.mu.Lock()
	m.banners[banner.ID] = banner
	m.mu.Unlock()

	m.events.emit(ctx, domain.TableBanners, domain.ChangeInsert, bannerKeys(banner.ID, banner.RestaurantID))
	return nil
}

func (m *MemoryStore) UpdateBanner(ctx context.Context, banner domain.Banner) error {
	m.mu.Lock()
	cur, ok := m.banners[banner.ID]
	if !ok || cur.RestaurantID != banner.RestaurantID {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	banner.CreatedAt = cur.CreatedAt
	m.banners[banner.ID] = banner
	m.mu.Unlock()

	m.events.emit(ctx, domain.TableBanners, domain.ChangeUpdate, bannerKeys(banner.ID, banner.RestaurantID))
	return nil
}

func (m *MemoryStore) DeleteBanner(ctx context.Context, restaurantID, id string) error {
	m.mu.Lock()
	cur, ok := m.banners[id]
	if !ok || cur.RestaurantID != restaurantID {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	delete(m.banners, id)
	m.mu.Unlock()

	m.events.emit(ctx, domain.TableBanners, domain.ChangeDelete, bannerKeys(id, restaurantID))
	return nil
}

func (m *MemoryStore) GetRestaurant(ctx context.Context, id string) (*domain.Restaurant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.restaurants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) GetDashboardStatistics(ctx context.Context, restaurantID string) (*domain.DashboardStatistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stats[restaurantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}
