package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/graph"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/handler"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/ingest"
	claimsmetrics "github.com/Cooperation-org/claim-lexicon/internal/claims/metrics"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/proof"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/resolver"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/service"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/store"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/tracer"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/config"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/database"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/health"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/jetstream"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/kafka/consumer"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/logger"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/metrics"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/middleware"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/redis"
)

func newServeCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume change streams and serve the query API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger.New(cfg.Log.Level))
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address")
	cmd.Flags().String("database-url", "", "Postgres URL; empty keeps the store in memory")
	cmd.Flags().String("redis-url", "", "Redis URL for the shared resolver cache")
	cmd.Flags().String("jetstream-url", "", "Jetstream subscribe URL")
	cmd.Flags().String("admin-token", "", "token guarding /admin routes")
	o.bind(cmd, "server.addr", "addr")
	o.bind(cmd, "database.url", "database-url")
	o.bind(cmd, "redis.url", "redis-url")
	o.bind(cmd, "jetstream.url", "jetstream-url")
	o.bind(cmd, "server.admin_token", "admin-token")
	return cmd
}

// indexer holds every long-running component so shutdown can stop them in
// dependency order.
type indexer struct {
	cfg    config.Config
	log    *slog.Logger
	health *health.Handler

	db    *database.Pool
	redis *redis.Client
	store store.Store

	pool       *ingest.VerifyPool
	dispatcher *ingest.Dispatcher
	reverifier *ingest.Reverifier
	consumer   *consumer.Consumer
	jetstream  *jetstream.Client
	jsCursor   int64

	server *http.Server
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.InfoContext(ctx, "initializing claims indexer",
		"addr", cfg.Server.Addr,
		"environment", cfg.Server.Environment,
		"postgres", cfg.Database.URL != "",
		"kafka", cfg.Kafka.Brokers != "",
		"jetstream", cfg.Jetstream.URL != "",
	)

	ix := &indexer{cfg: cfg, log: log, health: health.New(cfg.Server.Environment)}
	defer ix.close()

	if err := ix.build(ctx); err != nil {
		return err
	}
	return ix.run(ctx)
}

func (ix *indexer) build(ctx context.Context) error {
	cfg := ix.cfg

	if err := ix.openStore(ctx); err != nil {
		return err
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	ix.redis = rc

	claimMetrics := claimsmetrics.New()
	tr := tracer.Tracer(tracer.NewNoop())
	if cfg.Tracing.Enabled {
		tr = tracer.NewOTel()
	}

	cacheOpts := []resolver.Option{
		resolver.WithConfig(resolver.Config{
			Size:         cfg.Resolver.CacheSize,
			FailureTTL:   cfg.Resolver.FailureTTL,
			TransientTTL: cfg.Resolver.TransientTTL,
			CallTimeout:  cfg.Resolver.CallTimeout,
			Rate:         rate.Limit(cfg.Resolver.Rate),
			Burst:        cfg.Resolver.Burst,
		}),
		resolver.WithMetrics(claimMetrics),
		resolver.WithLogger(ix.log),
	}
	if rc != nil {
		cacheOpts = append(cacheOpts, resolver.WithSharedTier(resolver.NewRedisTier(rc, cfg.Redis.TTL)))
		ix.health.RegisterCheck("redis", rc.Health)
		if err := prometheus.Register(rc.Collector()); err != nil {
			ix.log.WarnContext(ctx, "redis pool stats not exported", "error", err)
		}
	}
	identities, err := resolver.New(identityUpstream(cfg.Resolver), cacheOpts...)
	if err != nil {
		return fmt.Errorf("create resolver cache: %w", err)
	}

	ix.health.RegisterGauge("resolver_entries", func() int64 { return int64(identities.Len()) })

	verifier := proof.NewRegistry(identities,
		proof.WithTimeout(cfg.Ingest.VerifyTimeout),
		proof.WithLogger(ix.log),
	)
	ix.pool = ingest.NewVerifyPool(verifier, ix.store,
		ingest.WithPoolConfig(ingest.PoolConfig{Workers: cfg.Ingest.Workers, QueueSize: cfg.Ingest.QueueSize}),
		ingest.WithPoolMetrics(claimMetrics),
		ingest.WithPoolTracer(tr),
		ingest.WithPoolLogger(ix.log),
	)
	ix.health.RegisterGauge("verify_pending", func() int64 { return int64(ix.pool.Pending()) })
	pipeline := ingest.NewPipeline(ix.store,
		ingest.WithSubmitter(ix.pool),
		ingest.WithCollections(cfg.Ingest.Collections...),
		ingest.WithMetrics(claimMetrics),
		ingest.WithTracer(tr),
		ingest.WithLogger(ix.log),
	)
	ix.dispatcher = ingest.NewDispatcher(pipeline, ingest.DispatcherConfig{
		Lanes:     cfg.Ingest.Lanes,
		LaneDepth: cfg.Ingest.LaneDepth,
	}, ix.log)
	ix.health.RegisterCheck("ingest", func(context.Context) error { return ix.dispatcher.Err() })
	ix.reverifier = ingest.NewReverifier(ix.store, ix.pool, identities,
		ingest.WithSweepInterval(cfg.Ingest.SweepInterval),
		ingest.WithSweepBatch(cfg.Ingest.SweepBatch),
		ingest.WithReverifierLogger(ix.log),
	)

	svc, err := ix.queryService(ctx)
	if err != nil {
		return err
	}

	if err := ix.openSources(ctx, claimMetrics); err != nil {
		return err
	}

	ix.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           ix.router(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (ix *indexer) openStore(ctx context.Context) error {
	cfg := ix.cfg.Database
	if cfg.URL == "" {
		ix.log.WarnContext(ctx, "no database configured, derived state is kept in memory")
		ix.store = store.NewInMemoryStore()
		return nil
	}

	pool, err := database.New(ctx, database.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	ix.db = pool
	ix.health.RegisterCheck("database", pool.Health)
	if err := prometheus.Register(pool.Collector()); err != nil {
		ix.log.WarnContext(ctx, "database pool stats not exported", "error", err)
	}

	if cfg.Migrate {
		applied, err := database.Migrate(ctx, pool.DB())
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			ix.log.InfoContext(ctx, "migrations applied", "versions", applied)
		}
	}
	ix.store = store.NewPostgres(pool.DB())
	return nil
}

func identityUpstream(cfg config.ResolverConfig) resolver.Upstream {
	documents := resolver.NewHTTPResolver(resolver.WithPLCURL(cfg.PLCURL))
	return resolver.NewChain().
		Register("key", resolver.DIDKey{}).
		Register("plc", documents).
		Register("web", documents)
}

func (ix *indexer) queryService(ctx context.Context) (*service.Service, error) {
	cfg := ix.cfg.Graph

	policy := graph.DefaultPolicy()
	if flagged, ok := graph.ParseFlaggedPolicy(cfg.FlaggedPolicy); ok {
		policy.Flagged = flagged
	}
	policy.CountInvalidProofs = cfg.CountInvalidProofs
	if len(cfg.EndorseTypes) > 0 || len(cfg.DisputeTypes) > 0 {
		policy.Classifier = graph.NewClassifier(cfg.EndorseTypes, cfg.DisputeTypes)
	}
	limits := graph.Limits{MaxDepth: cfg.MaxDepth, MaxNodes: cfg.MaxNodes, MaxFanout: cfg.MaxFanout}

	opts := []service.Option{
		service.WithReverifier(ix.reverifier),
		service.WithLogger(ix.log),
	}
	if cfg.Incremental {
		tally := graph.NewTally(ix.store, graph.WithPolicy(policy), graph.WithLogger(ix.log))
		// Subscribe first so changes racing the rebuild are not lost.
		ix.store.Subscribe(tally)
		if err := tally.Rebuild(ctx); err != nil {
			return nil, fmt.Errorf("%w: rebuild trust tally: %w", ingest.ErrStorage, err)
		}
		opts = append(opts, service.WithTally(tally))
	}
	return service.NewFromStore(ix.store, policy, limits, opts...), nil
}

func (ix *indexer) openSources(ctx context.Context, m *claimsmetrics.Metrics) error {
	cfg := ix.cfg

	if cfg.Kafka.Brokers != "" {
		c, err := consumer.New(consumer.Config{
			Brokers:         cfg.Kafka.Brokers,
			GroupID:         cfg.Kafka.GroupID,
			Topics:          cfg.Kafka.Topics,
			AutoOffsetReset: cfg.Kafka.AutoOffsetReset,
			MaxPollRecords:  cfg.Kafka.MaxPollRecords,
		}, ingest.NewKafkaSource(ix.dispatcher, m, ix.log), ix.log)
		if err != nil {
			return err
		}
		ix.consumer = c
		ix.health.RegisterCheck("kafka", func(ctx context.Context) error {
			select {
			case <-c.Done():
				if err := c.Err(); err != nil {
					return err
				}
				return consumer.ErrStopped
			default:
				return c.Health(ctx)
			}
		})
	}

	if cfg.Jetstream.URL != "" {
		src := ingest.NewJetstreamSource(cfg.Jetstream.Name, ix.dispatcher, ix.store, ix.reverifier, ix.log)
		cursor, err := src.Resume(ctx)
		if err != nil {
			return err
		}
		client, err := jetstream.NewClient(jetstream.Config{
			URL:               cfg.Jetstream.URL,
			WantedCollections: cfg.Ingest.Collections,
			BatchSize:         cfg.Jetstream.BatchSize,
			FlushInterval:     cfg.Jetstream.FlushInterval,
			ReconnectDelay:    cfg.Jetstream.ReconnectDelay,
		}, src, ix.log)
		if err != nil {
			return err
		}
		ix.jetstream = client
		ix.jsCursor = cursor
	}

	if ix.consumer == nil && ix.jetstream == nil {
		ix.log.WarnContext(ctx, "no change stream configured, serving queries only")
	}
	return nil
}

func (ix *indexer) router(svc *service.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(ix.log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(ix.log))
	r.Use(middleware.Metrics(metrics.New()))

	ix.health.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	h := handler.New(svc, ix.log)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(ix.cfg.Server.RequestTimeout))
		h.Register(r)
	})
	if ix.cfg.Server.AdminToken != "" {
		h.RegisterAdmin(r, ix.cfg.Server.AdminToken)
	}
	return r
}

// run starts every component and blocks until ctx ends or one of them fails.
// A storage failure surfaces as ingest.ErrStorage.
func (ix *indexer) run(ctx context.Context) error {
	ix.pool.Start()
	if n, err := ix.reverifier.Sweep(ctx); err != nil {
		ix.log.ErrorContext(ctx, "startup sweep failed", "error", err)
	} else if n > 0 {
		ix.log.InfoContext(ctx, "pending claims resubmitted", "claims", n)
	}
	ix.reverifier.Start()

	g, gctx := errgroup.WithContext(ctx)

	if ix.consumer != nil {
		c := ix.consumer
		c.Start()
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-c.Done():
				if err := c.Err(); err != nil {
					return fmt.Errorf("kafka source: %w", err)
				}
				return nil
			}
		})
	}

	if ix.jetstream != nil {
		g.Go(func() error {
			err := ix.jetstream.Run(gctx, ix.jsCursor)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("jetstream source: %w", err)
		})
	}

	g.Go(func() error {
		ix.log.InfoContext(gctx, "starting http server", "addr", ix.server.Addr)
		if err := ix.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ix.cfg.Server.ShutdownTimeout)
		defer cancel()
		return ix.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err != nil {
		ix.log.Error("indexer failed", "error", err)
	}
	return err
}

// close stops components in reverse dependency order. Sources stop first so
// no event is accepted that cannot be applied.
func (ix *indexer) close() {
	ctx, cancel := context.WithTimeout(context.Background(), ix.shutdownTimeout())
	defer cancel()

	if ix.consumer != nil {
		if err := ix.consumer.Stop(ctx); err != nil {
			ix.log.Error("kafka consumer shutdown failed", "error", err)
		}
	}
	if ix.dispatcher != nil {
		if err := ix.dispatcher.Stop(ctx); err != nil {
			ix.log.Error("dispatcher shutdown failed", "error", err)
		}
	}
	if ix.reverifier != nil {
		if err := ix.reverifier.Stop(ctx); err != nil {
			ix.log.Error("reverifier shutdown failed", "error", err)
		}
	}
	if ix.pool != nil {
		if err := ix.pool.Stop(ctx); err != nil {
			ix.log.Error("verify pool shutdown failed", "error", err)
		}
	}
	if ix.redis != nil {
		if err := ix.redis.Close(); err != nil {
			ix.log.Error("redis close failed", "error", err)
		}
	}
	if err := ix.db.Close(); err != nil {
		ix.log.Error("database close failed", "error", err)
	}
	ix.log.Info("indexer stopped")
}

func (ix *indexer) shutdownTimeout() time.Duration {
	if ix.cfg.Server.ShutdownTimeout > 0 {
		return ix.cfg.Server.ShutdownTimeout
	}
	return 20 * time.Second
}
