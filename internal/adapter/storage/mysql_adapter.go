package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/port"
)

const (
	orderColumns = `id, number, restaurant_id, customer_id, status, subtotal, delivery_fee,
		discount, total, delivery_method, delivery_address, estimated_delivery_time, created_at, updated_at`
	trackingColumns = `id, order_id, delivery_person_id, delivery_person_name, current_latitude,
		current_longitude, status, is_active, last_updated, created_at`
	bannerColumns = `id, restaurant_id, title, image_url, link_url, position, is_active, created_at, updated_at`
)

// MySQLAdapter has no change feed of its own, so every committed write is
// announced through the publisher.
type MySQLAdapter struct {
	db     *sqlx.DB
	events notifier
}

func NewMySQLAdapter(db *sql.DB, publisher port.ChangePublisher, logger zerolog.Logger) *MySQLAdapter {
	return &MySQLAdapter{
		db:     sqlx.NewDb(db, "mysql"),
		events: notifier{publisher: publisher, logger: logger.With().Str("store", "mysql").Logger()},
	}
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	err := m.db.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, restaurantID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []domain.Order
	err := m.db.SelectContext(ctx, &orders, `
		SELECT `+orderColumns+`
		FROM orders WHERE restaurant_id = ?
		ORDER BY created_at DESC LIMIT ?`, restaurantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (m *MySQLAdapter) SetOrderStatus(ctx context.Context, change domain.StatusChange) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var restaurantID string
	err = tx.GetContext(ctx, &restaurantID, `SELECT restaurant_id FROM orders WHERE id = ? FOR UPDATE`, change.OrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock order: %w", err)
	}

	if change.UpdatesOrder() {
		result, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			change.To, change.At, change.OrderID, change.From,
		)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return domain.ErrStatusConflict
		}
	}

	var touched []string
	switch {
	case change.TrackingID != "":
		status := trackingStatusArg(change)
		result, err := tx.ExecContext(ctx, `
			UPDATE delivery_tracking
			SET status = COALESCE(?, status), is_active = ?, last_updated = ?
			WHERE id = ? AND order_id = ? AND is_active`,
			status, !change.CloseTracking, change.At, change.TrackingID, change.OrderID,
		)
		if err != nil {
			return fmt.Errorf("update tracking: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return domain.ErrNoActiveTracking
		}
		touched = append(touched, change.TrackingID)
	case change.CloseTracking:
		if err := tx.SelectContext(ctx, &touched, `
			SELECT id FROM delivery_tracking WHERE order_id = ? AND is_active FOR UPDATE`,
			change.OrderID,
		); err != nil {
			return fmt.Errorf("lock tracking: %w", err)
		}
		if len(touched) > 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE delivery_tracking SET is_active = FALSE, status = ?, last_updated = ?
				WHERE order_id = ? AND is_active`,
				domain.OrderStatusDelivered, change.At, change.OrderID,
			); err != nil {
				return fmt.Errorf("close tracking: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if change.UpdatesOrder() {
		m.events.emit(ctx, domain.TableOrders, domain.ChangeUpdate, map[string]string{"id": change.OrderID, "restaurant_id": restaurantID})
	}
	for _, id := range touched {
		m.events.emit(ctx, domain.TableDeliveryTracking, domain.ChangeUpdate, trackingKeys(id, change.OrderID))
	}
	return nil
}

// trackingStatusArg returns nil when the tracking status stays as it is.
func trackingStatusArg(change domain.StatusChange) *string {
	var s string
	switch {
	case change.CloseTracking:
		s = string(domain.OrderStatusDelivered)
	case change.TrackingStatus != "":
		s = string(change.TrackingStatus)
	default:
		return nil
	}
	return &s
}

// UpsertActiveTracking relies on the unique key over active_order_id, which
// only holds a value while the record is active.
func (m *MySQLAdapter) UpsertActiveTracking(ctx context.Context, record domain.DeliveryTrackingRecord) (*domain.DeliveryTrackingRecord, error) {
	// ids are assigned here, a caller supplied id never reaches the table
	record.ID = uuid.NewString()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.LastUpdated
	}
	record.IsActive = true

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO delivery_tracking (`+trackingColumns+`)
		VALUES (:id, :order_id, :delivery_person_id, :delivery_person_name, :current_latitude,
			:current_longitude, :status, :is_active, :last_updated, :created_at)
		ON DUPLICATE KEY UPDATE
			delivery_person_id = VALUES(delivery_person_id),
			delivery_person_name = VALUES(delivery_person_name),
			current_latitude = VALUES(current_latitude),
			current_longitude = VALUES(current_longitude),
			status = VALUES(status),
			last_updated = VALUES(last_updated)`,
		record,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert tracking: %w", err)
	}

	var current domain.DeliveryTrackingRecord
	if err := tx.GetContext(ctx, &current, `
		SELECT `+trackingColumns+` FROM delivery_tracking
		WHERE order_id = ? AND is_active`, record.OrderID,
	); err != nil {
		return nil, fmt.Errorf("read tracking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	typ := domain.ChangeUpdate
	if current.ID == record.ID {
		typ = domain.ChangeInsert
	}
	m.events.emit(ctx, domain.TableDeliveryTracking, typ, trackingKeys(current.ID, current.OrderID))
	return &current, nil
}

func (m *MySQLAdapter) GetActiveTracking(ctx context.Context, orderID string) (*domain.DeliveryTrackingRecord, error) {
	var t domain.DeliveryTrackingRecord
	err := m.db.GetContext(ctx, &t, `
		SELECT `+trackingColumns+` FROM delivery_tracking
		WHERE order_id = ? AND is_active`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tracking: %w", err)
	}
	return &t, nil
}

func (m *MySQLAdapter) UpdateTrackingPosition(ctx context.Context, id string, pos domain.Position, at time.Time) error {
	var orderID string
	err := m.db.GetContext(ctx, &orderID, `SELECT order_id FROM delivery_tracking WHERE id = ? AND is_active`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNoActiveTracking
	}
	if err != nil {
		return fmt.Errorf("query tracking: %w", err)
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE delivery_tracking
		SET current_latitude = ?, current_longitude = ?, last_updated = ?
		WHERE id = ? AND is_active`,
		pos.Latitude, pos.Longitude, at, id,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNoActiveTracking
	}

	m.events.emit(ctx, domain.TableDeliveryTracking, domain.ChangeUpdate, trackingKeys(id, orderID))
	return nil
}

func (m *MySQLAdapter) CloseTracking(ctx context.Context, id string, at time.Time) error {
	var t struct {
		OrderID  string `db:"order_id"`
		IsActive bool   `db:"is_active"`
	}
	err := m.db.GetContext(ctx, &t, `SELECT order_id, is_active FROM delivery_tracking WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query tracking: %w", err)
	}
	if !t.IsActive {
		return nil
	}

	if _, err := m.db.ExecContext(ctx, `
		UPDATE delivery_tracking SET is_active = FALSE, status = ?, last_updated = ?
		WHERE id = ? AND is_active`,
		domain.OrderStatusDelivered, at, id,
	); err != nil {
		return fmt.Errorf("close tracking: %w", err)
	}

	m.events.emit(ctx, domain.TableDeliveryTracking, domain.ChangeUpdate, trackingKeys(id, t.OrderID))
	return nil
}

func (m *MySQLAdapter) ReconcileTracking(ctx context.Context, at time.Time) (int, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var stale []struct {
		ID      string `db:"id"`
		OrderID string `db:"order_id"`
	}
	if err := tx.SelectContext(ctx, &stale, `
		SELECT t.id, t.order_id
		FROM delivery_tracking t
		JOIN orders o ON o.id = t.order_id
		WHERE t.is_active AND o.status IN (?, ?)
		FOR UPDATE`,
		domain.OrderStatusDelivered, domain.OrderStatusCancelled,
	); err != nil {
		return 0, fmt.Errorf("find stale tracking: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, len(stale))
	for i, s := range stale {
		ids[i] = s.ID
	}
	query, args, err := sqlx.In(`
		UPDATE delivery_tracking SET is_active = FALSE, status = ?, last_updated = ?
		WHERE id IN (?)`, domain.OrderStatusDelivered, at, ids)
	if err != nil {
		return 0, fmt.Errorf("build reconcile query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("close stale tracking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	for _, s := range stale {
		m.events.emit(ctx, domain.TableDeliveryTracking, domain.ChangeUpdate, trackingKeys(s.ID, s.OrderID))
	}
	return len(stale), nil
}

func (m *MySQLAdapter) ListBanners(ctx context.Context, restaurantID string) ([]domain.Banner, error) {
	var banners []domain.Banner
	err := m.db.SelectContext(ctx, &banners, `
		SELECT `+bannerColumns+` FROM banners
		WHERE restaurant_id = ?
		ORDER BY position, created_at`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list banners: %w", err)
	}
	return banners, nil
}

func (m *MySQLAdapter) CreateBanner(ctx context.Context, banner domain.Banner) error {
	_, err := m.db.NamedExecContext(ctx, `
		INSERT INTO banners (`+bannerColumns+`)
		VALUES (:id, :restaurant_id, :title, :image_url, :link_url, :position, :is_active, :created_at, :updated_at)`,
		banner,
	)
	if err != nil {
		return fmt.Errorf("insert banner: %w", err)
	}
	m.events.emit(ctx, domain.TableBanners, domain.ChangeInsert, bannerKeys(banner.ID, banner.RestaurantID))
	return nil
}

func (m *MySQLAdapter) UpdateBanner(ctx context.Context, banner domain.Banner) error {
	result, err := m.db.NamedExecContext(ctx, `
		UPDATE banners
		SET title = :title, image_url = :image_url, link_url = :link_url,
			position = :position, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id AND restaurant_id = :restaurant_id`,
		banner,
	)
	if err != nil {
		return fmt.Errorf("update banner: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	m.events.emit(ctx, domain.TableBanners, domain.ChangeUpdate, bannerKeys(banner.ID, banner.RestaurantID))
	return nil
}

func (m *MySQLAdapter) DeleteBanner(ctx context.Context, restaurantID, id string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM banners WHERE id = ? AND restaurant_id = ?`, id, restaurantID)
	if err != nil {
		return fmt.Errorf("delete banner: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	m.events.emit(ctx, domain.TableBanners, domain.ChangeDelete, bannerKeys(id, restaurantID))
	return nil
}

func (m *MySQLAdapter) GetRestaurant(ctx context.Context, id string) (*domain.Restaurant, error) {
	var r domain.Restaurant
	err := m.db.GetContext(ctx, &r, `
		SELECT id, name, slug, phone, address, is_open, created_at, updated_at
		FROM restaurants WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query restaurant: %w", err)
	}
	return &r, nil
}

func (m *MySQLAdapter) GetDashboardStatistics(ctx context.Context, restaurantID string) (*domain.DashboardStatistics, error) {
	var s domain.DashboardStatistics
	err := m.db.GetContext(ctx, &s, `
		SELECT restaurant_id, total_orders, pending_orders, total_revenue, average_ticket, updated_at
		FROM dashboard_statistics WHERE restaurant_id = ?`, restaurantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query dashboard statistics: %w", err)
	}
	return &s, nil
}
