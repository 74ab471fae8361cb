// Package memory keeps deployment records in process memory.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/splunk/learning-labs-portal/internal/domain"
	"github.com/splunk/learning-labs-portal/internal/repository"
)

// Repository is an in-memory DeploymentRepository and CatalogRepository.
type Repository struct {
	mu          sync.RWMutex
	deployments map[string]domain.Deployment
	catalog     []domain.CatalogEntry
	now         func() time.Time
}

var (
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.CatalogRepository    = (*Repository)(nil)
)

// New returns an empty repository serving catalog as its workshop list.
func New(catalog []domain.CatalogEntry) *Repository {
	return &Repository{
		deployments: make(map[string]domain.Deployment),
		catalog:     append([]domain.CatalogEntry(nil), catalog...),
		now:         time.Now,
	}
}

// GetDeployment returns a copy of the stored record.
func (r *Repository) GetDeployment(_ context.Context, id string) (*domain.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deployments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

// CreateDeployment stores a new record.
func (r *Repository) CreateDeployment(_ context.Context, deployment *domain.Deployment) error {
	if deployment == nil || strings.TrimSpace(deployment.ID) == "" || !deployment.Status.Valid() {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deployments[deployment.ID]; ok {
		return repository.ErrConflict
	}
	if deployment.UpdatedAt.IsZero() {
		deployment.UpdatedAt = r.now().UTC()
	}
	r.deployments[deployment.ID] = *deployment
	return nil
}

// UpdateDeployment merges update into an existing record.
func (r *Repository) UpdateDeployment(_ context.Context, id string, update domain.DeploymentUpdate) (*domain.Deployment, error) {
	if update.Status != "" && !update.Status.Valid() {
		return nil, repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deployments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	update.Apply(&d, r.now().UTC())
	r.deployments[id] = d
	return &d, nil
}

// ListCatalogEntries returns the configured workshop list.
func (r *Repository) ListCatalogEntries(context.Context) ([]domain.CatalogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.CatalogEntry(nil), r.catalog...), nil
}

// Ping always succeeds.
func (r *Repository) Ping(context.Context) error { return nil }
