// Package migrate keeps the deployment and catalog schema current.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var schema embed.FS

const (
	schemaDir      = "sql"
	migrateTimeout = time.Minute
)

// ErrUnknownVersion is returned by Down for a target the embedded schema
// does not define.
var ErrUnknownVersion = errors.New("migrate: unknown schema version")

// SchemaStatus compares the database schema with the embedded one.
type SchemaStatus struct {
	Current int64   `json:"current"`
	Latest  int64   `json:"latest"`
	Pending []int64 `json:"pending,omitempty"`
}

// UpToDate reports whether every embedded migration is applied.
func (s SchemaStatus) UpToDate() bool { return len(s.Pending) == 0 }

// Runner applies the embedded schema to the portal database.
type Runner struct {
	pool *pgxpool.Pool
	dsn  string
	log  *slog.Logger
}

// New returns a Runner for the database behind pool and dsn.
func New(pool *pgxpool.Pool, dsn string, log *slog.Logger) (Runner, error) {
	if pool == nil {
		return Runner{}, errors.New("nil pool provided")
	}
	if dsn == "" {
		return Runner{}, errors.New("empty database dsn")
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{pool: pool, dsn: dsn, log: log.With("component", "migrate")}, nil
}

// Ensure brings the schema to the latest embedded version. A database that
// is already current is left untouched.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withDB(ctx, func(ctx context.Context, db *sql.DB) error {
		status, err := readStatus(ctx, db)
		if err != nil {
			return err
		}
		if status.UpToDate() {
			r.log.Debug("deployment schema up to date", "version", status.Current)
			return nil
		}
		r.log.Info("upgrading deployment schema", "from", status.Current, "to", status.Latest, "pending", len(status.Pending))
		if err := goose.UpContext(ctx, db, schemaDir); err != nil {
			return fmt.Errorf("upgrade schema from %d: %w", status.Current, err)
		}
		r.log.Info("deployment schema upgraded", "version", status.Latest)
		return nil
	})
}

// Status reports the applied and pending schema versions.
func (r Runner) Status(ctx context.Context) (SchemaStatus, error) {
	var status SchemaStatus
	err := r.withDB(ctx, func(ctx context.Context, db *sql.DB) error {
		var err error
		status, err = readStatus(ctx, db)
		return err
	})
	return status, err
}

// Down rolls back the latest migration, or every migration above target when
// target is positive. target must be an embedded version.
func (r Runner) Down(ctx context.Context, target int64) error {
	versions, err := embeddedVersions()
	if err != nil {
		return err
	}
	if target > 0 && !slices.Contains(versions, target) {
		return fmt.Errorf("%w: %d (known %v)", ErrUnknownVersion, target, versions)
	}
	return r.withDB(ctx, func(ctx context.Context, db *sql.DB) error {
		if target > 0 {
			r.log.Info("rolling back deployment schema", "target", target)
			if err := goose.DownToContext(ctx, db, schemaDir, target); err != nil {
				return fmt.Errorf("roll back to version %d: %w", target, err)
			}
			return nil
		}
		r.log.Info("rolling back latest schema migration")
		if err := goose.DownContext(ctx, db, schemaDir); err != nil {
			return fmt.Errorf("roll back latest migration: %w", err)
		}
		return nil
	})
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r Runner) Close() {
	r.pool.Close()
}

func (r Runner) withDB(ctx context.Context, fn func(context.Context, *sql.DB) error) error {
	if err := useSchema(); err != nil {
		return err
	}
	db, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	runCtx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()
	if err := db.PingContext(runCtx); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}
	return fn(runCtx, db)
}

func useSchema() error {
	goose.SetBaseFS(schema)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	return nil
}

func embeddedVersions() ([]int64, error) {
	if err := useSchema(); err != nil {
		return nil, err
	}
	migrations, err := goose.CollectMigrations(schemaDir, 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("read embedded schema: %w", err)
	}
	versions := make([]int64, 0, len(migrations))
	for _, m := range migrations {
		versions = append(versions, m.Version)
	}
	return versions, nil
}

func readStatus(ctx context.Context, db *sql.DB) (SchemaStatus, error) {
	versions, err := embeddedVersions()
	if err != nil {
		return SchemaStatus{}, err
	}
	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return SchemaStatus{}, fmt.Errorf("read schema version: %w", err)
	}
	return compare(versions, current), nil
}

func compare(versions []int64, current int64) SchemaStatus {
	status := SchemaStatus{Current: current}
	for _, v := range versions {
		if v > status.Latest {
			status.Latest = v
		}
		if v > current {
			status.Pending = append(status.Pending, v)
		}
	}
	return status
}
