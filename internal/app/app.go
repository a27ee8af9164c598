// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/venuegrid/crawler/internal/api"
	"github.com/venuegrid/crawler/internal/blob"
	blobgcs "github.com/venuegrid/crawler/internal/blob/gcs"
	bloblocal "github.com/venuegrid/crawler/internal/blob/local"
	"github.com/venuegrid/crawler/internal/browser"
	"github.com/venuegrid/crawler/internal/circuit"
	"github.com/venuegrid/crawler/internal/classify"
	"github.com/venuegrid/crawler/internal/clock"
	"github.com/venuegrid/crawler/internal/config"
	"github.com/venuegrid/crawler/internal/crawl"
	"github.com/venuegrid/crawler/internal/progress"
	"github.com/venuegrid/crawler/internal/publisher"
	pubsubpub "github.com/venuegrid/crawler/internal/publisher/pubsub"
	"github.com/venuegrid/crawler/internal/ratelimit"
	"github.com/venuegrid/crawler/internal/sink"
	"github.com/venuegrid/crawler/internal/storage"
	filestore "github.com/venuegrid/crawler/internal/storage/file"
	pgstore "github.com/venuegrid/crawler/internal/storage/postgres"
	"github.com/venuegrid/crawler/internal/worker"
)

// App wires every shared service once at startup and hands crawl runs a
// fully assembled pipeline. It is built by the root command and passed to
// subcommands through the command context.
type App struct {
	cfg     config.Config
	log     *zap.Logger
	store   storage.Store
	snaps   crawl.Snapshotter
	events  crawl.EventPublisher
	breaker *circuit.FileBreaker
	limiter *ratelimit.Window
	browser *browser.Provider
	auth    crawl.Authenticator
	tracker *progress.Tracker

	closers []func()
}

// New builds the service graph from configuration. It fails fast: any
// provider that cannot be initialized aborts startup.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, tracker: progress.NewTracker()}

	store, err := newStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() {
		if cerr := store.Close(); cerr != nil {
			log.Warn("closing store", zap.Error(cerr))
		}
	})

	snaps, err := a.newSnapshotter(ctx, cfg.Snapshots)
	if err != nil {
		return nil, fmt.Errorf("init snapshots: %w", err)
	}
	a.snaps = snaps

	events, err := a.newPublisher(ctx, cfg.Events)
	if err != nil {
		return nil, fmt.Errorf("init events: %w", err)
	}
	a.events = events

	a.breaker = circuit.NewFile(cfg.Block.FlagPath, cfg.Block.CooldownMin(), cfg.Block.CooldownMax(), log)
	a.limiter = ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window(), log)

	prov, err := browser.NewProvider(browser.Config{
		Headless:  cfg.Browser.Headless,
		DomainQPS: cfg.Browser.DomainQPS,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init browser: %w", err)
	}
	a.browser = prov
	a.closers = append(a.closers, prov.Close)

	if cfg.Auth.CookieFile != "" {
		auth, err := browser.NewCookieAuthenticator(browser.AuthConfig{
			CookieFile:        cfg.Auth.CookieFile,
			VerifyURL:         cfg.Auth.VerifyURL,
			LoggedInSelector:  cfg.Auth.LoggedInSelector,
			LoginFormSelector: cfg.Auth.LoginFormSelector,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("init auth: %w", err)
		}
		a.auth = auth
	} else {
		log.Warn("no cookie file configured, crawling unauthenticated")
	}

	if cfg.Ops.Addr != "" {
		srv := api.NewServer(api.Config{Addr: cfg.Ops.Addr}, a.tracker, a.breaker, log)
		go func() {
			if serr := srv.Run(ctx); serr != nil {
				log.Error("ops server stopped", zap.Error(serr))
			}
		}()
	}

	log.Info("application services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("snapshots", cfg.Snapshots.Provider),
		zap.String("events", cfg.Events.Provider))
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.log }

// Store exposes the configured result store.
func (a *App) Store() storage.Store { return a.store }

// Crawl runs the full pipeline for one task source and record kind, then
// publishes the run summary as an event.
func (a *App) Crawl(ctx context.Context, kind crawl.RecordKind, src crawl.TaskSource) (crawl.RunStats, error) {
	var classifier crawl.Classifier
	var opts []classify.Option
	if a.cfg.Crawl.MaxLoadMoreClicks > 0 {
		opts = append(opts, classify.WithMaxLoadMore(a.cfg.Crawl.MaxLoadMoreClicks))
	}
	switch kind {
	case crawl.KindReviewer:
		classifier = classify.NewReviewer(a.log, opts...)
	default:
		classifier = classify.NewVenue(a.log, opts...)
	}

	policy := crawl.NewRetryPolicy(a.cfg.Crawl.Retries, a.cfg.Crawl.BackoffBase(), a.cfg.Crawl.BackoffMax())
	w := worker.New(a.browser, a.auth, classifier, a.limiter, a.breaker, a.snaps, policy, worker.Config{
		NavTimeout: a.cfg.Crawl.NavTimeout(),
		PauseMin:   a.cfg.Crawl.PauseMin(),
		PauseMax:   a.cfg.Crawl.PauseMax(),
	}, a.log)

	results := progress.Observe(sink.New(a.store, kind, a.log), a.tracker)
	orch := crawl.NewOrchestrator(w, results, a.breaker, clock.System{}, crawl.Config{
		Workers:      a.cfg.Crawl.Workers,
		StartIndex:   a.cfg.Crawl.StartIndex,
		EndIndex:     a.cfg.Crawl.EndIndex,
		SummaryEvery: a.cfg.Crawl.SummaryEvery,
	}, a.log)

	stats, err := orch.Run(ctx, src)
	a.publishSummary(ctx, stats)
	return stats, err
}

func (a *App) publishSummary(ctx context.Context, stats crawl.RunStats) {
	topic := a.cfg.Events.Topic
	if topic == "" {
		topic = "crawl-runs"
	}
	id, err := a.events.Publish(context.WithoutCancel(ctx), topic, stats)
	if err != nil {
		a.log.Warn("publishing run summary", zap.Error(err))
		return
	}
	a.log.Debug("run summary published", zap.String("message_id", id))
}

// Close shuts down every held service in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

func newStore(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (storage.Store, error) {
	switch cfg.Provider {
	case "file":
		return filestore.New(filestore.Config{BaseDir: cfg.File.BaseDir}, log)
	case "postgres":
		return pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime(),
		})
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

func (a *App) newSnapshotter(ctx context.Context, cfg config.SnapshotsConfig) (crawl.Snapshotter, error) {
	var store blob.Store
	switch cfg.Provider {
	case "local":
		s, err := bloblocal.New(bloblocal.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, err
		}
		store = s
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if cerr := client.Close(); cerr != nil {
				a.log.Warn("closing gcs client", zap.Error(cerr))
			}
		})
		s, err := blobgcs.New(client, blobgcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, err
		}
		store = s
	case "noop":
		store = blob.NoOpStore{}
	default:
		return nil, fmt.Errorf("unknown snapshots provider %q", cfg.Provider)
	}
	return blob.NewSnapshotter(store, clock.System{}), nil
}

func (a *App) newPublisher(ctx context.Context, cfg config.EventsConfig) (crawl.EventPublisher, error) {
	switch cfg.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		pub, err := pubsubpub.New(client)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			pub.Close()
			if cerr := client.Close(); cerr != nil {
				a.log.Warn("closing pubsub client", zap.Error(cerr))
			}
		})
		return pub, nil
	case "noop":
		return publisher.NoOp{}, nil
	default:
		return nil, fmt.Errorf("unknown events provider %q", cfg.Provider)
	}
}
