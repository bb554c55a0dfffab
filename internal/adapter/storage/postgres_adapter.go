package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/order-tracking/internal/core/domain"
)

// PostgresAdapter relies on the notify_table_change triggers for change
// events, so it never publishes on its own.
type PostgresAdapter struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

func NewPostgresAdapter(pool *pgxpool.Pool, tracer trace.Tracer) *PostgresAdapter {
	return &PostgresAdapter{pool: pool, tracer: tracer}
}

func (p *PostgresAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := p.tracer.Start(ctx, "postgres.GetOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", id))

	rows, _ := p.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[domain.Order])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

func (p *PostgresAdapter) ListOrders(ctx context.Context, restaurantID string, limit int) ([]domain.Order, error) {
	ctx, span := p.tracer.Start(ctx, "postgres.ListOrders")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, _ := p.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE restaurant_id = $1
		ORDER BY created_at DESC LIMIT $2`, restaurantID, limit)
	orders, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.Order])
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	span.SetAttributes(attribute.Int("orders", len(orders)))
	return orders, nil
}

func (p *PostgresAdapter) SetOrderStatus(ctx context.Context, change domain.StatusChange) error {
	ctx, span := p.tracer.Start(ctx, "postgres.SetOrderStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_id", change.OrderID),
		attribute.String("to", change.To.String()),
	)

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT true FROM orders WHERE id = $1 FOR UPDATE`, change.OrderID).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if change.UpdatesOrder() {
			tag, err := tx.Exec(ctx, `
				UPDATE orders SET status = $1, updated_at = $2
				WHERE id = $3 AND status = $4`,
				change.To, change.At, change.OrderID, change.From)
			if err != nil {
				return fmt.Errorf("update order status: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return domain.ErrStatusConflict
			}
		}

		switch {
		case change.TrackingID != "":
			tag, err := tx.Exec(ctx, `
				UPDATE delivery_tracking
				SET status = COALESCE($1::text, status), is_active = $2, last_updated = $3
				WHERE id = $4 AND order_id = $5 AND is_active`,
				trackingStatusArg(change), !change.CloseTracking, change.At, change.TrackingID, change.OrderID)
			if err != nil {
				return fmt.Errorf("update tracking: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return domain.ErrNoActiveTracking
			}
		case change.CloseTracking:
			if _, err := tx.Exec(ctx, `
				UPDATE delivery_tracking SET is_active = false, status = $1, last_updated = $2
				WHERE order_id = $3 AND is_active`,
				domain.OrderStatusDelivered, change.At, change.OrderID); err != nil {
				return fmt.Errorf("close tracking: %w", err)
			}
		}
		return nil
	})
}

func (p *PostgresAdapter) UpsertActiveTracking(ctx context.Context, record domain.DeliveryTrackingRecord) (*domain.DeliveryTrackingRecord, error) {
	ctx, span := p.tracer.Start(ctx, "postgres.UpsertActiveTracking")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", record.OrderID))

	// ids are assigned here, a caller supplied id never reaches the table
	record.ID = uuid.NewString()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.LastUpdated
	}

	rows, _ := p.pool.Query(ctx, `
		INSERT INTO delivery_tracking (`+trackingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8, $9)
		ON CONFLICT (order_id) WHERE is_active DO UPDATE SET
			delivery_person_id = EXCLUDED.delivery_person_id,
			delivery_person_name = EXCLUDED.delivery_person_name,
			current_latitude = EXCLUDED.current_latitude,
			current_longitude = EXCLUDED.current_longitude,
			status = EXCLUDED.status,
			last_updated = EXCLUDED.last_updated
		RETURNING `+trackingColumns,
		record.ID, record.OrderID, record.DeliveryPersonID, record.DeliveryPersonName,
		record.CurrentLatitude, record.CurrentLongitude, record.Status, record.LastUpdated, record.CreatedAt)
	current, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[domain.DeliveryTrackingRecord])
	if err != nil {
		return nil, fmt.Errorf("upsert tracking: %w", err)
	}
	span.SetAttributes(attribute.Bool("created", current.ID == record.ID))
	return &current, nil
}

func (p *PostgresAdapter) GetActiveTracking(ctx context.Context, orderID string) (*domain.DeliveryTrackingRecord, error) {
	ctx, span := p.tracer.Start(ctx, "postgres.GetActiveTracking")
	defer span.End()

	rows, _ := p.pool.Query(ctx, `
		SELECT `+trackingColumns+` FROM delivery_tracking
		WHERE order_id = $1 AND is_active`, orderID)
	t, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[domain.DeliveryTrackingRecord])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tracking: %w", err)
	}
	return &t, nil
}

func (p *PostgresAdapter) UpdateTrackingPosition(ctx context.Context, id string, pos domain.Position, at time.Time) error {
	ctx, span := p.tracer.Start(ctx, "postgres.UpdateTrackingPosition")
	defer span.End()

	tag, err := p.pool.Exec(ctx, `
		UPDATE delivery_tracking
		SET current_latitude = $1, current_longitude = $2, last_updated = $3
		WHERE id = $4 AND is_active`,
		pos.Latitude, pos.Longitude, at, id)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoActiveTracking
	}
	return nil
}

func (p *PostgresAdapter) CloseTracking(ctx context.Context, id string, at time.Time) error {
	ctx, span := p.tracer.Start(ctx, "postgres.CloseTracking")
	defer span.End()

	var wasActive bool
	err := p.pool.QueryRow(ctx, `
		UPDATE delivery_tracking t
		SET is_active = false,
			status = CASE WHEN prev.is_active THEN $1 ELSE t.status END,
			last_updated = CASE WHEN prev.is_active THEN $2 ELSE t.last_updated END
		FROM (SELECT id, is_active FROM delivery_tracking WHERE id = $3 FOR UPDATE) prev
		WHERE t.id = prev.id
		RETURNING prev.is_active`,
		domain.OrderStatusDelivered, at, id).Scan(&wasActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("close tracking: %w", err)
	}
	span.SetAttributes(attribute.Bool("was_active", wasActive))
	return nil
}

func (p *PostgresAdapter) ReconcileTracking(ctx context.Context, at time.Time) (int, error) {
	ctx, span := p.tracer.Start(ctx, "postgres.ReconcileTracking")
	defer span.End()

	tag, err := p.pool.Exec(ctx, `
		UPDATE delivery_tracking t
		SET is_active = false, status = $1, last_updated = $2
		FROM orders o
		WHERE o.id = t.order_id AND t.is_active AND o.status IN ($3, $4)`,
		domain.OrderStatusDelivered, at, domain.OrderStatusDelivered, domain.OrderStatusCancelled)
	if err != nil {
		return 0, fmt.Errorf("reconcile tracking: %w", err)
	}
	span.SetAttributes(attribute.Int64("closed", tag.RowsAffected()))
	return int(tag.RowsAffected()), nil
}

func (p *PostgresAdapter) ListBanners(ctx context.Context, restaurantID string) ([]domain.Banner, error) {
	ctx, span := p.tracer.Start(ctx, "postgres.ListBanners")
	defer span.End()

	rows, _ := p.pool.Query(ctx, `
		SELECT `+bannerColumns+` FROM banners
		WHERE restaurant_id = $1
		ORDER BY position, created_at`, restaurantID)
	banners, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.Banner])
	if err != nil {
		return nil, fmt.Errorf("list banners: %w", err)
	}
	return banners, nil
}

func (p *PostgresAdapter) CreateBanner(ctx context.Context, banner domain.Banner) error {
	ctx, span := p.tracer.Start(ctx, "postgres.CreateBanner")
	defer span.End()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO banners (`+bannerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		banner.ID, banner.RestaurantID, banner.Title, banner.ImageURL, banner.LinkURL,
		banner.Position, banner.IsActive, banner.CreatedAt, banner.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert banner: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) UpdateBanner(ctx context.Context, banner domain.Banner) error {
	ctx, span := p.tracer.Start(ctx, "postgres.UpdateBanner")
	defer span.End()

	tag, err := p.pool.Exec(ctx, `
		UPDATE banners
		SET title = $1, image_url = $2, link_url = $3, position = $4, is_active = $5, updated_at = $6
		WHERE id = $7 AND restaurant_id = $8`,
		banner.Title, banner.ImageURL, banner.LinkURL, banner.Position, banner.IsActive,
		banner.UpdatedAt, banner.ID, banner.RestaurantID)
	if err != nil {
		return fmt.Errorf("update banner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *PostgresAdapter) DeleteBanner(ctx context.Context, restaurantID, id string) error {
	ctx, span := p.tracer.Start(ctx, "postgres.DeleteBanner")
	defer span.End()

	tag, err := p.pool.Exec(ctx, `DELETE FROM banners WHERE id = $1 AND restaurant_id = $2`, id, restaurantID)
	if err != nil {
		return fmt.Errorf("delete banner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *PostgresAdapter) GetRestaurant(ctx context.Context, id string) (*domain.Restaurant, error) {
	ctx, span := p.tracer.Start(ctx, "postgres.GetRestaurant")
	defer span.End()

	rows, _ := p.pool.Query(ctx, `
		SELECT id, name, slug, phone, address, is_open, created_at, updated_at
		FROM restaurants WHERE id = $1`, id)
	r, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[domain.Restaurant])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query restaurant: %w", err)
	}
	return &r, nil
}

func (p *PostgresAdapter) GetDashboardStatistics(ctx context.Context, restaurantID string) (*domain.DashboardStatistics, error) {
	ctx, span := p.tracer.Start(ctx, "postgres.GetDashboardStatistics")
	defer span.End()

	rows, _ := p.pool.Query(ctx, `
		SELECT restaurant_id, total_orders, pending_orders, total_revenue, average_ticket, updated_at
		FROM dashboard_statistics WHERE restaurant_id = $1`, restaurantID)
	s, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[domain.DashboardStatistics])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query dashboard statistics: %w", err)
	}
	return &s, nil
}
