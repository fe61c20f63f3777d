package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	consensushandler "knomee/internal/consensus/handler"
	consensusmetrics "knomee/internal/consensus/metrics"
	consensusservice "knomee/internal/consensus/service"
	claimstore "knomee/internal/consensus/store/claim"
	vouchstore "knomee/internal/consensus/store/vouch"
	"knomee/internal/consensus/worker"
	governancehandler "knomee/internal/governance/handler"
	governanceservice "knomee/internal/governance/service"
	statestore "knomee/internal/governance/store/state"
	identityhandler "knomee/internal/identity/handler"
	identitymetrics "knomee/internal/identity/metrics"
	identityservice "knomee/internal/identity/service"
	identitystore "knomee/internal/identity/store/identity"
	"knomee/internal/ledger"
	"knomee/internal/platform/config"
	"knomee/internal/platform/httpserver"
	"knomee/internal/platform/logger"
	platformredis "knomee/internal/platform/redis"
	"knomee/pkg/domain"
	auditkafka "knomee/pkg/platform/audit/kafka"
	"knomee/pkg/platform/audit/publisher"
	auditmemory "knomee/pkg/platform/audit/store/memory"
	"knomee/pkg/platform/middleware/caller"
	"knomee/pkg/platform/middleware/requestid"
)

// main wires stores, services, and transport, then runs the HTTP server and
// the expiry sweeper until a shutdown signal arrives. Business logic lives in
// the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var (
		claims     claimstore.Store
		vouches    consensusservice.VouchStore
		identities identityservice.IdentityStore
		govState   governanceservice.StateStore
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("opening postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("postgres unreachable", "error", err)
			os.Exit(1)
		}
		claims = claimstore.NewPostgres(db)
		vouches = vouchstore.NewPostgres(db)
		identities = identitystore.NewPostgres(db)
		govState = statestore.NewPostgres(db)
		log.Info("using postgres stores")
	} else {
		claims = claimstore.NewInMemory()
		vouches = vouchstore.NewInMemory()
		identities = identitystore.NewInMemory()
		govState = statestore.NewInMemory()
		log.Warn("postgres DSN not set, state is in-memory only")
	}

	redisClient, err := platformredis.New(config.RedisFromEnv())
	if err != nil {
		log.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		claims = claimstore.NewCached(claims, redisClient.Client, claimstore.WithCacheLogger(log))
		log.Info("active-claim cache enabled")
	}

	auditStore := auditmemory.NewInMemoryStore()
	publisherOpts := []publisher.Option{
		publisher.WithAsyncBuffer(1024),
		publisher.WithLogger(log),
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := auditkafka.NewSink(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			log.Error("connecting to kafka", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		publisherOpts = append(publisherOpts, publisher.WithSink(sink))
		log.Info("audit kafka sink enabled", "topic", cfg.KafkaTopic)
	}
	auditPublisher := publisher.NewPublisher(auditStore, publisherOpts...)
	defer auditPublisher.Close()

	governance := governanceservice.New(govState,
		governanceservice.WithLogger(log),
		governanceservice.WithAuditPublisher(auditPublisher),
	)
	authority, err := domain.ParseAddress(cfg.Authority)
	if err != nil {
		log.Error("invalid authority address", "error", err)
		os.Exit(1)
	}
	override, err := domain.ParseAddress(cfg.Override)
	if err != nil {
		log.Error("invalid override address", "error", err)
		os.Exit(1)
	}
	if err := governance.Initialize(ctx, authority, override); err != nil {
		log.Error("initializing governance", "error", err)
		os.Exit(1)
	}

	registry := identityservice.NewRegistry(identities,
		identityservice.WithLogger(log),
		identityservice.WithAuditPublisher(auditPublisher),
		identityservice.WithMetrics(identitymetrics.New()),
		identityservice.WithOwnershipRecord(ledger.NewInMemoryOwnership()),
	)

	stake := ledger.NewInMemoryLedger()

	engine := consensusservice.NewEngine(claims, vouches, registry, governance, stake,
		consensusservice.WithLogger(log),
		consensusservice.WithAuditPublisher(auditPublisher),
		consensusservice.WithMetrics(consensusmetrics.New()),
	)

	sweeper := worker.NewSweeper(engine,
		worker.WithInterval(cfg.SweepInterval),
		worker.WithLogger(log),
	)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Group(func(r chi.Router) {
		r.Use(requestid.Middleware)
		r.Use(caller.Middleware)
		governancehandler.New(governance, log).Register(r)
		identityhandler.New(registry, governance, log).Register(r)
		consensushandler.New(engine, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting knomee server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		sweeper.Run(ctx)
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
