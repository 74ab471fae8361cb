package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splunk/learning-labs-portal/internal/domain"
	"github.com/splunk/learning-labs-portal/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

// Connect opens a pool against dsn and verifies it answers.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// ensure Repository satisfies interfaces.
var (
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.CatalogRepository    = (*Repository)(nil)
)

const (
	deploymentColumns = `id, status, host, port, updated_at`
	deploymentSelect  = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	deploymentInsert  = `INSERT INTO deployments (id, status, host, port, updated_at)
		VALUES ($1, $2, $3, $4, $5)`
	deploymentUpdate = `UPDATE deployments SET
		status = COALESCE(NULLIF($2, ''), status),
		host = COALESCE($3, host),
		port = COALESCE($4, port),
		updated_at = $5
		WHERE id = $1
		RETURNING ` + deploymentColumns
	catalogSelect = `SELECT id, image, image_digest FROM catalogs ORDER BY id`
)

// GetDeployment fetches the deployment record of a document.
func (r *Repository) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	return scanDeployment(r.pool.QueryRow(ctx, deploymentSelect, id))
}

// CreateDeployment inserts a deployment record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	if deployment == nil || strings.TrimSpace(deployment.ID) == "" || !deployment.Status.Valid() {
		return repository.ErrInvalidArgument
	}
	if deployment.UpdatedAt.IsZero() {
		deployment.UpdatedAt = r.now().UTC()
	}
	_, err := r.pool.Exec(ctx, deploymentInsert,
		deployment.ID,
		string(deployment.Status),
		deployment.Host,
		deployment.Port,
		deployment.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrConflict
		}
		return err
	}
	return nil
}

// UpdateDeployment applies update to an existing record and returns the result.
func (r *Repository) UpdateDeployment(ctx context.Context, id string, update domain.DeploymentUpdate) (*domain.Deployment, error) {
	if update.Status != "" && !update.Status.Valid() {
		return nil, repository.ErrInvalidArgument
	}
	row := r.pool.QueryRow(ctx, deploymentUpdate,
		id,
		string(update.Status),
		update.Host,
		update.Port,
		r.now().UTC(),
	)
	return scanDeployment(row)
}

// ListCatalogEntries returns every published workshop document.
func (r *Repository) ListCatalogEntries(ctx context.Context) ([]domain.CatalogEntry, error) {
	rows, err := r.pool.Query(ctx, catalogSelect)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.CatalogEntry
	for rows.Next() {
		var e domain.CatalogEntry
		if err := rows.Scan(&e.ID, &e.Image, &e.ImageDigest); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var (
		d      domain.Deployment
		status string
	)
	if err := row.Scan(&d.ID, &status, &d.Host, &d.Port, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	d.Status = domain.Status(status)
	return &d, nil
}
