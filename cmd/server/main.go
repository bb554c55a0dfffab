package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"

	"github.com/rl1809/order-tracking/internal/adapter/handler"
	"github.com/rl1809/order-tracking/internal/adapter/notify"
	"github.com/rl1809/order-tracking/internal/adapter/storage"
	"github.com/rl1809/order-tracking/internal/bus"
	"github.com/rl1809/order-tracking/internal/cache"
	"github.com/rl1809/order-tracking/internal/config"
	"github.com/rl1809/order-tracking/internal/core/service"
	"github.com/rl1809/order-tracking/internal/db"
	"github.com/rl1809/order-tracking/internal/logger"
	"github.com/rl1809/order-tracking/internal/metrics"
	"github.com/rl1809/order-tracking/internal/observability"
	"github.com/rl1809/order-tracking/internal/port"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := observability.InitTracer(ctx, cfg.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracer")
	}
	tracer := otel.Tracer(cfg.ServiceName)
	metrics.Register()

	// Initialize Redis, used by the durable cache tier and the redis transport
	var rdb *redis.Client
	var kv port.KVStore
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect redis")
		}
		kv = storage.NewRedisAdapter(rdb, tracer)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	}

	// Change feed: who publishes row changes and where the bus reads them
	var publisher port.ChangePublisher
	var transport port.ChangeTransport
	var closers []func() error
	switch cfg.ChangeTransport {
	case "redis":
		publisher = notify.NewRedisPublisher(rdb)
		transport = notify.NewRedisTransport(rdb, log)
	case "kafka":
		kp := notify.NewKafkaPublisher(cfg.KafkaBrokers)
		closers = append(closers, kp.Close)
		publisher = kp
		transport = notify.NewKafkaTransport(cfg.KafkaBrokers, cfg.KafkaGroupPrefix+"-"+uuid.NewString(), log)
	case "postgres":
		transport = notify.NewPostgresTransport(cfg.PostgresURL, log)
	default:
		local := notify.NewLocal(0)
		publisher, transport = local, local
	}
	if !cfg.UsesBroker() {
		log.Warn().Msg("change events stay in this process, other instances rely on cache expiry")
	}

	// Initialize the store
	var store port.Store
	switch cfg.StoreDriver {
	case "mysql":
		sqlDB, err := db.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connect mysql")
		}
		closers = append(closers, sqlDB.Close)
		if err := db.MigrateMySQL(sqlDB, log); err != nil {
			log.Fatal().Err(err).Msg("migrate mysql")
		}
		store = storage.NewMySQLAdapter(sqlDB, publisher, log)
		log.Info().Msg("connected to mysql")
	case "postgres":
		pool, err := db.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		closers = append(closers, func() error { pool.Close(); return nil })
		if err := db.MigratePostgres(pool, log); err != nil {
			log.Fatal().Err(err).Msg("migrate postgres")
		}
		if cfg.ChangeTransport != "postgres" {
			log.Warn().Str("transport", cfg.ChangeTransport).Msg("postgres announces changes through LISTEN only, caches will rely on expiry")
		}
		store = storage.NewPostgresAdapter(pool, tracer)
		log.Info().Msg("connected to postgres")
	default:
		store = storage.NewMemoryStore(publisher, log)
		log.Warn().Msg("using the in-memory store, data is lost on exit")
	}

	// Cache layer
	layer := cache.New(cache.Config{
		Durable:       kv,
		Logger:        log,
		SweepInterval: cfg.CacheSweepInterval,
	})
	janitor := layer.StartJanitor(ctx)

	// Change-notification bus
	changes := bus.New(transport, bus.DefaultReconnectPolicy(), log)
	changes.OnError(func(ev bus.Event) {
		if ev.Kind == bus.Reconnecting {
			log.Debug().Int("attempt", ev.Attempt).Dur("delay", ev.Delay).Msg("change feed reconnecting")
		}
	})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := changes.Run(ctx); err != nil {
			log.Error().Err(err).Msg("change feed stopped")
		}
	}()

	// Services
	orderService := service.NewOrderService(store, store, layer, log)
	catalogService := service.NewCatalogService(store, layer, log)
	stopOrders := orderService.Watch(changes)
	stopCatalog := catalogService.Watch(changes)
	reconciler := orderService.StartReconciler(ctx, cfg.ReconcileInterval)

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLogger(log)))
	handler.RegisterTrackingStoreServer(grpcServer, handler.NewGRPCHandler(store, store, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("listen grpc")
	}
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(orderService, catalogService, changes, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// event streams hold their requests open until ctx is done, do not wait on them forever
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
		httpServer.Close()
	}
	log.Info().Msg("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info().Msg("gRPC server stopped")

	reconciler.Stop()
	janitor.Stop()
	stopOrders()
	stopCatalog()
	wg.Wait()
	log.Info().Msg("background tasks stopped")

	for _, c := range closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("close resource")
		}
	}
	if rdb != nil {
		rdb.Close()
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown tracer")
	}
	log.Info().Msg("connections closed")
}
