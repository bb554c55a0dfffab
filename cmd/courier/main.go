package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/adapter/auth"
	"github.com/rl1809/order-tracking/internal/adapter/geo"
	"github.com/rl1809/order-tracking/internal/adapter/handler"
	"github.com/rl1809/order-tracking/internal/config"
	"github.com/rl1809/order-tracking/internal/core/domain"
	"github.com/rl1809/order-tracking/internal/core/service"
	"github.com/rl1809/order-tracking/internal/logger"
	"github.com/rl1809/order-tracking/internal/observability"
	"github.com/rl1809/order-tracking/internal/port"
	"github.com/rl1809/order-tracking/internal/retry"
	"github.com/rl1809/order-tracking/internal/schedule"
	"github.com/rl1809/order-tracking/internal/session"
)

const (
	routeSteps            = 20
	firstPositionAttempts = 10
)

func main() {
	cfg, err := config.LoadCourier()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName).With().
		Str("order_id", cfg.OrderID).
		Str("courier_id", cfg.CourierID).
		Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := observability.InitTracer(ctx, cfg.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracer")
	}
	defer tp.Shutdown(context.Background())

	// Store client
	conn, err := handler.Dial(cfg.ServerGRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("dial server")
	}
	defer conn.Close()
	store := handler.NewGRPCClient(conn)

	// Position source: the device endpoint, or a simulated route for demos
	var positions port.PositionSource
	var route *geo.SimulatedSource
	if cfg.PositionURL != "" {
		positions = geo.NewHTTPSource(cfg.PositionURL, nil)
	} else {
		route = geo.RandomRoute(routeSteps, uint64(time.Now().UnixNano()))
		positions = route
		log.Info().Msg("no POSITION_URL, simulating a route")
	}

	tracking := service.NewTrackingService(store, store, positions, log)
	delivery := tracking.NewSession()

	// Device session
	sessions := session.NewManager(auth.NewRenewer(cfg.AuthRefreshURL, cfg.AuthToken), session.Config{
		IdleTimeout: cfg.SessionIdleTimeout,
		RenewEvery:  cfg.SessionRenewEvery,
	}, log)
	sessions.OnExpire(func() {
		log.Warn().Msg("session expired, stopping")
		cancel()
	})
	sessions.Start(ctx)
	defer sessions.Stop()

	// hold the start until the device reports where the courier is
	start, err := tracking.InitialPosition(ctx, retry.Policy{
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		MaxAttempts: firstPositionAttempts,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("no initial position, not starting the delivery")
	}
	rec, err := delivery.StartTracking(ctx, cfg.OrderID, cfg.CourierID, cfg.CourierName, start, "")
	if err != nil {
		log.Fatal().Err(err).Msg("start tracking")
	}
	log.Info().Str("tracking_id", rec.ID).Msg("delivery started")
	sessions.Touch()

	auto := delivery.StartAutoTracking(ctx, cfg.TrackingInterval)
	defer auto.Stop()

	// a simulated courier hands the order over once the route is walked
	if route != nil {
		arrival := schedule.Every(ctx, cfg.TrackingInterval, func(ctx context.Context) {
			if _, ok := delivery.Active(); !ok {
				cancel()
				return
			}
			sessions.Touch()
			if !route.Arrived() {
				return
			}
			if err := delivery.UpdateStatus(ctx, domain.OrderStatusDelivered); err != nil {
				log.Error().Err(err).Msg("mark delivered")
				return
			}
			log.Info().Msg("order delivered")
			cancel()
		})
		defer arrival.Stop()
	}

	<-ctx.Done()
	delivery.StopAutoTracking()
	if _, ok := delivery.Active(); ok {
		log.Info().Msg("leaving the delivery open, another session can take it over")
	}
}
