package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bryanwahyu/fp16-analyzer/internal/application"
	appanalysis "github.com/bryanwahyu/fp16-analyzer/internal/application/analysis"
	"github.com/bryanwahyu/fp16-analyzer/internal/config"
	domain "github.com/bryanwahyu/fp16-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/fp16-analyzer/internal/infra/artifacts"
	"github.com/bryanwahyu/fp16-analyzer/internal/infra/cache"
	mysqlp "github.com/bryanwahyu/fp16-analyzer/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/fp16-analyzer/internal/infra/db/postgres"
	"github.com/bryanwahyu/fp16-analyzer/internal/infra/executor/clang"
	minioStore "github.com/bryanwahyu/fp16-analyzer/internal/infra/storage"
	"github.com/bryanwahyu/fp16-analyzer/internal/infra/workspace"
	"github.com/bryanwahyu/fp16-analyzer/internal/middleware"
)

// App is the wired pipeline plus whatever it needs closed on shutdown.
type App struct {
	Service    *appanalysis.Service
	Workspaces *workspace.Manager
	Checkers   map[string]middleware.HealthChecker

	db *sql.DB
}

// New connects the configured store and archive, prepares the workspace root
// and builds the service.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	app := &App{Checkers: map[string]middleware.HealthChecker{}}

	store, err := app.openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var archiver domain.Archiver
	if cfg.Minio.Endpoint != "" && cfg.Minio.BucketName != "" {
		mc, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("minio init: %w", err)
		}
		archiver = mc
		app.Checkers["archive"] = middleware.CheckFunc(mc.Ping)
		log.Info("workspace archive enabled", zap.String("bucket", cfg.Minio.BucketName))
	}

	mgr := workspace.NewManager(cfg.Workspace.Root, workspace.Retention(cfg.Workspace.Retention), archiver, log)
	if err := mgr.Init(); err != nil {
		app.Close()
		return nil, err
	}
	app.Workspaces = mgr
	app.Checkers["workspace"] = &middleware.DirHealthChecker{Path: mgr.Root()}

	runner := clang.NewRunner(clang.Options{
		Binary:         cfg.Tool.Binary,
		PluginPath:     cfg.Tool.PluginPath,
		PluginName:     cfg.Tool.PluginName,
		Flags:          cfg.Tool.Flags,
		Timeout:        cfg.Tool.Timeout,
		MaxOutputBytes: cfg.Tool.MaxOutputBytes,
	}, log)

	svc := &appanalysis.Service{
		Workspaces: mgr,
		Invoker:    runner,
		Collector:  artifacts.NewCollector(log),
		Store:      store,
		Clock:      application.SystemClock{},
		Logger:     log,
	}
	if n := cfg.Concurrency.MaxConcurrent; n > 0 {
		svc.Limiter = semaphore.NewWeighted(n)
	}
	app.Service = svc

	log.Info("pipeline ready",
		zap.String("tool", cfg.Tool.Binary),
		zap.String("plugin", cfg.Tool.PluginPath),
		zap.Duration("timeout", cfg.Tool.Timeout),
		zap.String("workspace_root", mgr.Root()),
		zap.String("retention", cfg.Workspace.Retention),
		zap.String("store", cfg.Store.Driver),
		zap.Int64("max_concurrent", cfg.Concurrency.MaxConcurrent),
	)
	return app, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (domain.ResultStore, error) {
	switch cfg.Store.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, fmt.Errorf("mysql connect: %w", err)
		}
		repo := mysqlp.NewResultRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("mysql migrate: %w", err)
		}
		a.db = db
		a.Checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
		return repo, nil
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		repo := postgresp.NewResultRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		a.db = db
		a.Checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
		return repo, nil
	case "memory", "":
		store, err := cache.NewResultStore(cfg.Store.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("result cache: %w", err)
		}
		log.Debug("using in-memory result history", zap.Int("size", cfg.Store.CacheSize))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Close releases the database handle, if any.
func (a *App) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	return errors.Join(errs...)
}
