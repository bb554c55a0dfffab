package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/rl1809/order-tracking/internal/adapter/geo"
	"github.com/rl1809/order-tracking/internal/adapter/storage"
	"github.com/rl1809/order-tracking/internal/config"
	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/core/service"
	"github.com/rl1809/order-tracking/internal/db"
	"github.com/rl1809/order-tracking/internal/logger"
	"github.com/rl1809/order-tracking/internal/port"
)

const (
	totalCouriers = 50
	restaurantID  = "stress-restaurant"
)

// stressStore is a store the test can seed and count in.
type stressStore struct {
	port.Store
	putOrder    func(ctx context.Context, o domain.Order) error
	activeCount func(ctx context.Context, orderID string) (int, error)
	close       func()
}

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := logger.New("warn", "console", "stress_test")
	ctx := context.Background()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open store")
	}
	defer store.close()

	// Seed one order ready for pickup
	now := time.Now().UTC()
	order := domain.Order{
		ID:              uuid.NewString(),
		Number:          int64(gofakeit.Number(100000, 999999)),
		RestaurantID:    restaurantID,
		CustomerID:      gofakeit.UUID(),
		Status:          domain.OrderStatusReady,
		Subtotal:        4200,
		Total:           4200,
		DeliveryMethod:  domain.DeliveryMethodDelivery,
		DeliveryAddress: gofakeit.Street(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.putOrder(ctx, order); err != nil {
		log.Fatal().Err(err).Msg("seed order")
	}

	tracking := service.NewTrackingService(store, store, geo.RandomRoute(10, 1), log)

	var successCount, failCount atomic.Int32
	ids := sync.Map{}

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalCouriers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			pos := domain.Position{Latitude: gofakeit.Latitude(), Longitude: gofakeit.Longitude()}
			rec, err := tracking.NewSession().StartTracking(ctx, order.ID, fmt.Sprintf("courier-%d", n), gofakeit.Name(), pos, "")
			if err != nil {
				failCount.Add(1)
				log.Warn().Err(err).Int("courier", n).Msg("start tracking")
				return
			}
			successCount.Add(1)
			ids.Store(rec.ID, struct{}{})
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	distinct := 0
	ids.Range(func(_, _ any) bool { distinct++; return true })

	active, err := store.activeCount(ctx, order.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("count active records")
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:             %s\n", cfg.StoreDriver)
	fmt.Printf("Order:             %s\n", order.ID)
	fmt.Printf("Concurrent starts: %d\n", totalCouriers)
	fmt.Printf("Successful:        %d\n", successCount.Load())
	fmt.Printf("Failed:            %d\n", failCount.Load())
	fmt.Printf("Record ids seen:   %d\n", distinct)
	fmt.Printf("Active records:    %d\n", active)
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Println("==========================================")

	if active == 1 && distinct == 1 {
		fmt.Println("PASS: exactly one active tracking record")
	} else {
		fmt.Printf("FAIL: expected 1 active record and 1 id, got %d active and %d ids\n", active, distinct)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Server, log zerolog.Logger) (*stressStore, error) {
	switch cfg.StoreDriver {
	case "mysql":
		sqlDB, err := db.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		if err := db.MigrateMySQL(sqlDB, log); err != nil {
			sqlDB.Close()
			return nil, err
		}
		return &stressStore{
			Store: storage.NewMySQLAdapter(sqlDB, nil, log),
			putOrder: func(ctx context.Context, o domain.Order) error {
				_, err := sqlDB.ExecContext(ctx, `
					INSERT INTO orders (id, number, restaurant_id, customer_id, status, subtotal, total, delivery_method, delivery_address, created_at, updated_at)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					o.ID, o.Number, o.RestaurantID, o.CustomerID, string(o.Status), o.Subtotal, o.Total, string(o.DeliveryMethod), o.DeliveryAddress, o.CreatedAt, o.UpdatedAt)
				return err
			},
			activeCount: func(ctx context.Context, orderID string) (int, error) {
				var n int
				err := sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_tracking WHERE order_id = ? AND is_active`, orderID).Scan(&n)
				return n, err
			},
			close: func() { sqlDB.Close() },
		}, nil

	case "postgres":
		pool, err := db.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := db.MigratePostgres(pool, log); err != nil {
			pool.Close()
			return nil, err
		}
		return &stressStore{
			Store: storage.NewPostgresAdapter(pool, noop.NewTracerProvider().Tracer("stress")),
			putOrder: func(ctx context.Context, o domain.Order) error {
				_, err := pool.Exec(ctx, `
					INSERT INTO orders (id, number, restaurant_id, customer_id, status, subtotal, total, delivery_method, delivery_address, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
					o.ID, o.Number, o.RestaurantID, o.CustomerID, string(o.Status), o.Subtotal, o.Total, string(o.DeliveryMethod), o.DeliveryAddress, o.CreatedAt, o.UpdatedAt)
				return err
			},
			activeCount: func(ctx context.Context, orderID string) (int, error) {
				var n int
				err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM delivery_tracking WHERE order_id = $1 AND is_active`, orderID).Scan(&n)
				return n, err
			},
			close: pool.Close,
		}, nil

	default:
		mem := storage.NewMemoryStore(nil, log)
		return &stressStore{
			Store: mem,
			putOrder: func(ctx context.Context, o domain.Order) error {
				mem.PutOrder(ctx, o)
				return nil
			},
			activeCount: func(ctx context.Context, orderID string) (int, error) {
				return mem.ActiveTrackingCount(orderID), nil
			},
			close: func() {},
		}, nil
	}
}
