package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jonathan/scout-agent/internal/archive"
	"github.com/jonathan/scout-agent/internal/auth"
	"github.com/jonathan/scout-agent/internal/batch"
	"github.com/jonathan/scout-agent/internal/catalog"
	"github.com/jonathan/scout-agent/internal/compose"
	"github.com/jonathan/scout-agent/internal/config"
	"github.com/jonathan/scout-agent/internal/db"
	"github.com/jonathan/scout-agent/internal/fetch"
	"github.com/jonathan/scout-agent/internal/llm"
	"github.com/jonathan/scout-agent/internal/lock"
	"github.com/jonathan/scout-agent/internal/matching"
	"github.com/jonathan/scout-agent/internal/store"
	"github.com/jonathan/scout-agent/internal/store/sheet"
	"github.com/jonathan/scout-agent/internal/store/sqlite"
	"github.com/jonathan/scout-agent/internal/types"
)

// app holds the resources opened for one command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	database *db.DB // nil without DATABASE_URL
	closers  []func()
}

// openApp connects to the database when configured and opens the row store.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, logger: logger}

	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, database.Close)
		if err := database.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.database = database
	}

	st, err := a.openStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st
	return a, nil
}

func (a *app) openStore() (store.Store, error) {
	cfg := a.cfg
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreSQLite:
		s, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		return s, nil
	case config.StorePostgres:
		if a.database == nil {
			return nil, fmt.Errorf("store backend %q requires a database URL", cfg.Store.Backend)
		}
		return a.database, nil
	default:
		s, err := sheet.Open(cfg.Store.Path, cfg.Store.Sheet, cfg.SheetLayout(), cfg.Store.Labels)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		return s, nil
	}
}

// Close releases everything opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newRunner builds the batch runner for the configured mode.
func (a *app) newRunner(ctx context.Context) (*batch.Runner, error) {
	proc, err := a.newProcessor(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.newLocker()
	if err != nil {
		return nil, err
	}

	opts := []batch.Option{
		batch.WithLocker(locker),
		batch.WithLogger(a.logger),
		batch.WithPacing(a.cfg.Run.Pacing()),
		batch.WithMode(a.cfg.Mode),
	}
	if a.database != nil {
		opts = append(opts, batch.WithRecorder(runRecorder{db: a.database}))
	}
	archiver, err := a.newArchiver(ctx)
	if err != nil {
		return nil, err
	}
	if archiver != nil {
		opts = append(opts, batch.WithArchiver(archiver))
	}
	return batch.NewRunner(a.store, proc, opts...), nil
}

func (a *app) newProcessor(ctx context.Context) (batch.Processor, error) {
	cfg := a.cfg
	fc := fetch.NewClient(cfg.Retry.Policy(), fetch.WithLogger(a.logger))

	var matcher batch.Matcher
	if cfg.Matching.URL != "" {
		tokens, err := a.newTokenProvider(ctx, fc)
		if err != nil {
			return nil, err
		}
		mc, err := matching.NewClient(cfg.Matching.URL, fc, tokens)
		if err != nil {
			return nil, err
		}
		matcher = mc
	}

	var generator batch.Generator
	if cfg.LLM.Enabled {
		client, err := llm.NewClient(ctx, cfg.LLM.ClientConfig(), cfg.LLM.APIKey, fc, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		generator = client
	}

	if cfg.Mode == config.ModeScout {
		return &batch.ScoutProcessor{
			Limits:    cfg.Packing,
			Matcher:   matcher,
			Generator: generator,
			Note:      cfg.Note,
			Logger:    a.logger,
		}, nil
	}

	items, err := a.loadCatalog()
	if err != nil {
		return nil, err
	}
	composer, err := compose.NewInMailComposer(cfg.Sender, cfg.InMail.Template, cfg.InMail.MaxPositions)
	if err != nil {
		return nil, err
	}
	return &batch.InMailProcessor{
		Catalog:      items,
		Limits:       cfg.Packing,
		Generator:    generator,
		Matcher:      matcher,
		Tier:         llm.TierStandard,
		Composer:     composer,
		Sender:       cfg.Sender,
		MaxPositions: cfg.InMail.MaxPositions,
		Logger:       a.logger,
	}, nil
}

func (a *app) loadCatalog() ([]types.CatalogItem, error) {
	if a.cfg.Catalog.Path == "" {
		return nil, nil
	}
	items, err := catalog.Load(a.cfg.Catalog.Path, a.cfg.Catalog.Options, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	a.logger.Info("catalog.loaded", "path", a.cfg.Catalog.Path, "items", len(items))
	return items, nil
}

// newTokenProvider returns nil when the matching service is called without a bearer token.
func (a *app) newTokenProvider(ctx context.Context, fc *fetch.Client) (auth.TokenProvider, error) {
	m := a.cfg.Matching
	if m.IDToken != "" {
		return auth.Static(m.IDToken), nil
	}
	if m.ServiceAccount == "" {
		return nil, nil
	}
	source := auth.StaticSource(m.AccessToken)
	if m.AccessToken == "" {
		var err error
		if source, err = auth.DefaultSource(ctx); err != nil {
			return nil, err
		}
	}
	p := auth.NewIDTokenProvider(fc, source, m.ServiceAccount, m.Audience)
	if m.IAMEndpoint != "" {
		p = p.WithEndpoint(m.IAMEndpoint)
	}
	return p, nil
}

func (a *app) newLocker() (lock.Locker, error) {
	cfg := a.cfg.Lock
	switch cfg.Backend {
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func() { _ = client.Close() })
		return lock.NewRedis(client, cfg.Key, cfg.TTL.Duration, a.logger), nil
	case config.LockPostgres:
		if a.database == nil {
			return nil, fmt.Errorf("lock backend %q requires a database URL", cfg.Backend)
		}
		return a.database.AdvisoryLock(cfg.Key), nil
	default:
		return lock.NewLocal(), nil
	}
}

// newArchiver returns nil when raw responses are not archived.
func (a *app) newArchiver(ctx context.Context) (archive.Archiver, error) {
	cfg := a.cfg.Archive
	switch cfg.Backend {
	case config.ArchiveLocal:
		return &archive.Local{BaseDir: cfg.Dir}, nil
	case config.ArchiveS3:
		s3, err := archive.NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 archive: %w", err)
		}
		return s3, nil
	default:
		return nil, nil
	}
}
