package repository

import (
	"context"

	"github.com/splunk/learning-labs-portal/internal/domain"
)

// DeploymentRepository persists per-document deployment records.
type DeploymentRepository interface {
	GetDeployment(ctx context.Context, id string) (*domain.Deployment, error)
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	UpdateDeployment(ctx context.Context, id string, update domain.DeploymentUpdate) (*domain.Deployment, error)
	Ping(ctx context.Context) error
}

// CatalogRepository lists published workshop documents.
type CatalogRepository interface {
	ListCatalogEntries(ctx context.Context) ([]domain.CatalogEntry, error)
}
