// Package bootstrap assembles the deployment service from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splunk/learning-labs-portal/internal/app/migrate"
	"github.com/splunk/learning-labs-portal/internal/docker"
	"github.com/splunk/learning-labs-portal/internal/domain"
	"github.com/splunk/learning-labs-portal/internal/health"
	"github.com/splunk/learning-labs-portal/internal/lock"
	"github.com/splunk/learning-labs-portal/internal/repository"
	"github.com/splunk/learning-labs-portal/internal/repository/memory"
	"github.com/splunk/learning-labs-portal/internal/repository/postgres"
	redisrepo "github.com/splunk/learning-labs-portal/internal/repository/redis"
	"github.com/splunk/learning-labs-portal/internal/service/auth"
	"github.com/splunk/learning-labs-portal/internal/service/deployment"
	"github.com/splunk/learning-labs-portal/pkg/config"
)

// Supported values of the DATASTORE setting.
const (
	DatastoreMemory   = "memory"
	DatastorePostgres = "postgres"
	DatastoreRedis    = "redis"
)

// App is the wired deployment service and the resources it owns.
type App struct {
	Service *deployment.Service
	Manager *deployment.Manager
	Docker  *docker.Client
	Store   repository.DeploymentRepository
	Catalog repository.CatalogRepository

	closers []func()
}

// Close releases the store connections and the docker client.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Build connects to docker and the configured store and wires the deployment
// service. reg receives lock and deployment metrics; nil disables them.
func Build(ctx context.Context, cfg config.PortalConfig, reg prometheus.Registerer, log *slog.Logger) (*App, error) {
	app := &App{}

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		return nil, err
	}
	app.Docker = dockerClient
	app.closers = append(app.closers, func() { _ = dockerClient.Close() })

	if err := app.openStore(ctx, cfg, log); err != nil {
		app.Close()
		return nil, err
	}

	authSvc, err := auth.New(cfg, log)
	if err != nil {
		app.Close()
		return nil, err
	}

	var lockOpts []lock.Option
	if reg != nil {
		lockOpts = append(lockOpts, lock.WithRegisterer(reg))
	}
	app.Manager = deployment.NewManager(deployment.Dependencies{
		Locks:      lock.New(lockOpts...),
		Store:      app.Store,
		Runtime:    dockerClient,
		Probe:      health.NewProber(&http.Client{}, log),
		Auth:       authSvc,
		Logger:     log,
		Registerer: reg,
	}, deployment.SettingsFromConfig(cfg))
	app.Service = deployment.NewService(app.Manager, app.Catalog, log)
	return app, nil
}

func (a *App) openStore(ctx context.Context, cfg config.PortalConfig, log *slog.Logger) error {
	workshops := Workshops(cfg)
	switch cfg.Datastore {
	case DatastoreMemory, "":
		store := memory.New(workshops)
		a.Store, a.Catalog = store, store
	case DatastorePostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		runner, err := migrate.New(pool, cfg.DatabaseURL, log)
		if err != nil {
			pool.Close()
			return err
		}
		a.closers = append(a.closers, runner.Close)
		if err := runner.Ensure(ctx); err != nil {
			return err
		}
		store := postgres.New(pool)
		a.Store = store
		a.Catalog = store
		if len(workshops) > 0 {
			a.Catalog = memory.New(workshops)
		}
	case DatastoreRedis:
		store, err := redisrepo.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		a.Store = store
		a.Catalog = memory.New(workshops)
	default:
		return fmt.Errorf("unsupported datastore %q", cfg.Datastore)
	}
	log.Info("deployment store ready", "datastore", cfg.Datastore)
	return nil
}

// Workshops converts the configured workshop list into catalog entries.
func Workshops(cfg config.PortalConfig) []domain.CatalogEntry {
	entries := make([]domain.CatalogEntry, 0, len(cfg.Workshops))
	for _, w := range cfg.Workshops {
		entries = append(entries, domain.CatalogEntry{ID: w.ID, Image: w.Image, ImageDigest: w.ImageDigest})
	}
	return entries
}

// ErrNoCatalog is returned by RestartOnBoot when restart is requested but the
// catalog is empty.
var ErrNoCatalog = errors.New("bootstrap: no workshops to restart")

// RestartOnBoot redeploys every catalog document when cfg.RestartDocs is set.
func (a *App) RestartOnBoot(ctx context.Context, cfg config.PortalConfig, log *slog.Logger) error {
	if !cfg.RestartDocs {
		return nil
	}
	entries, err := a.Catalog.ListCatalogEntries(ctx)
	if err != nil {
		return fmt.Errorf("list catalog: %w", err)
	}
	if len(entries) == 0 {
		return ErrNoCatalog
	}
	log.Info("restarting docs on boot", "count", len(entries))
	return a.Service.RestartAll(ctx, entries)
}
