package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	jwttoken "lifetag/internal/jwt_token"
	ledgerhandler "lifetag/internal/ledger/handler"
	ledgerservice "lifetag/internal/ledger/service"
	ledgerstore "lifetag/internal/ledger/store"
	notifyhandler "lifetag/internal/notify/handler"
	notifymetrics "lifetag/internal/notify/metrics"
	"lifetag/internal/notify/sender"
	notifyservice "lifetag/internal/notify/service"
	notifystore "lifetag/internal/notify/store"
	"lifetag/internal/platform/config"
	"lifetag/internal/platform/httpserver"
	"lifetag/internal/platform/kafka"
	"lifetag/internal/platform/logger"
	platformmetrics "lifetag/internal/platform/metrics"
	"lifetag/internal/platform/postgres"
	platformredis "lifetag/internal/platform/redis"
	profilehandler "lifetag/internal/profile/handler"
	profileservice "lifetag/internal/profile/service"
	profilestore "lifetag/internal/profile/store"
	"lifetag/internal/proof"
	ratelimitmetrics "lifetag/internal/ratelimit/metrics"
	ratelimitservice "lifetag/internal/ratelimit/service"
	"lifetag/internal/ratelimit/store/bucket"
	registryhandler "lifetag/internal/registry/handler"
	registrymetrics "lifetag/internal/registry/metrics"
	registryservice "lifetag/internal/registry/service"
	registrystore "lifetag/internal/registry/store"
	resolverhandler "lifetag/internal/resolver/handler"
	resolvermetrics "lifetag/internal/resolver/metrics"
	resolverservice "lifetag/internal/resolver/service"
	httptransport "lifetag/internal/transport/http"
	"lifetag/pkg/platform/circuit"
)

// main wires dependencies and runs the HTTP server next to the notification
// dispatcher until a signal arrives. Business logic lives in internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("lifetag stopped", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	registry registrystore.TxStore
	profiles profileservice.Store
	ledger   ledgerstore.Store
	notify   notifystore.Store
}

func run(cfg config.Config, log *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := map[string]httptransport.HealthCheck{}

	st, db, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		health["postgres"] = db.PingContext
	}

	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var primary ratelimitservice.BucketStore
	if rdb != nil {
		defer rdb.Close()
		primary = bucket.NewRedis(rdb.Client)
		health["redis"] = rdb.Health
	} else {
		log.Warn("REDIS_URL not set, rate limiting is per instance")
	}

	producer, err := kafka.NewProducer(cfg.Kafka, log)
	if err != nil {
		return err
	}
	var snd sender.Sender = sender.NewLogSender(log)
	if producer != nil {
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, cfg.Kafka.NotificationTopic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			return err
		}
		snd = sender.NewKafkaSender(producer, cfg.Kafka.NotificationTopic)
		health["kafka"] = producer.Health
	}
	snd = sender.NewCircuitSender(snd, circuit.New("notify-sender",
		circuit.WithFailureThreshold(5),
		circuit.WithCooldown(30*time.Second),
	), log)

	profiles := profileservice.New(st.profiles, profileservice.WithLogger(log))
	registry := registryservice.New(st.registry, profiles,
		registryservice.WithLogger(log),
		registryservice.WithMetrics(registrymetrics.New()),
	)
	ledger := ledgerservice.New(st.ledger,
		ledgerservice.WithLogger(log),
		ledgerservice.WithPageSize(cfg.Ledger.PageSize),
	)
	notifier := notifyservice.New(st.notify, profiles, ledger, snd, cfg.Notify,
		notifyservice.WithLogger(log),
		notifyservice.WithMetrics(notifymetrics.New()),
	)
	limiter := ratelimitservice.New(primary, cfg.RateLimit.TagLimit, cfg.RateLimit.TagWindow,
		ratelimitservice.WithLogger(log),
		ratelimitservice.WithMetrics(ratelimitmetrics.New()),
	)
	proofs := proof.New(cfg.Proof.SigningKey, cfg.Proof.Issuer, cfg.Proof.Audience, proof.WithTTL(cfg.Proof.TTL))
	resolver := resolverservice.New(registry, profiles, ledger, notifier, limiter, proofs,
		resolverservice.WithLogger(log),
		resolverservice.WithMetrics(resolvermetrics.New()),
		resolverservice.WithStorageTimeout(cfg.Server.StorageTimeout),
	)

	if cfg.SeedFile != "" {
		if db != nil {
			log.Warn("SEED_FILE ignored with DATABASE_URL set")
		} else if err := loadSeed(ctx, cfg.SeedFile, profiles, registry, log); err != nil {
			return err
		}
	}

	registryH := registryhandler.New(registry, log)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:           log,
		Metrics:          platformmetrics.New(),
		AccountValidator: jwttoken.NewJWTService(cfg.Server.AccountTokenKey, cfg.Server.AccountIssuer),
		AdminToken:       cfg.Server.AdminToken,
		RequestTimeout:   cfg.Server.RequestTimeout,
		Public:           []httptransport.RouteRegistrar{resolverhandler.New(resolver, log)},
		Account: []httptransport.RouteRegistrar{
			registryH,
			profilehandler.New(profiles, log),
			ledgerhandler.New(ledger, log),
			notifyhandler.New(notifier, log),
		},
		Admin:  []httptransport.AdminRegistrar{registryH},
		Health: health,
	})
	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting lifetag", "addr", cfg.Server.Addr, "postgres", db != nil, "redis", rdb != nil, "kafka", producer != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return notifier.Run(gctx)
	})
	g.Go(func() error {
		limiter.RunSweeper(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStores returns Postgres-backed stores when DATABASE_URL is set and
// in-memory stores otherwise. db is nil in memory mode.
func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (stores, *sql.DB, error) {
	if cfg.Postgres.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		return stores{
			registry: registrystore.NewInMemory(),
			profiles: profilestore.NewInMemory(),
			ledger:   ledgerstore.NewInMemory(),
			notify:   notifystore.NewInMemory(),
		}, nil, nil
	}
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return stores{}, nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return stores{}, nil, err
	}
	return stores{
		registry: registrystore.NewPostgres(db),
		profiles: profilestore.NewPostgres(db),
		ledger:   ledgerstore.NewPostgres(db),
		notify:   notifystore.NewPostgres(db),
	}, db, nil
}
