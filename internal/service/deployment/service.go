package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/splunk/learning-labs-portal/internal/domain"
	"github.com/splunk/learning-labs-portal/internal/repository"
)

// Service is the entry point the portal uses for document deployments.
type Service struct {
	manager *Manager
	catalog repository.CatalogRepository
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(manager *Manager, catalog repository.CatalogRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = manager.logger
	}
	return &Service{manager: manager, catalog: catalog, logger: logger}
}

// DeploymentInfo returns the current deployment record of docID.
func (s *Service) DeploymentInfo(ctx context.Context, docID string) (*domain.Deployment, error) {
	return s.manager.Get(ctx, docID)
}

// StartDoc deploys image@digest for docID.
func (s *Service) StartDoc(ctx context.Context, docID, image, digest string) (*domain.Deployment, Outcome, error) {
	return s.manager.Deploy(ctx, Request{DocID: docID, Image: image, Digest: digest})
}

// StopDoc stops docID.
func (s *Service) StopDoc(ctx context.Context, docID string) (*domain.Deployment, error) {
	return s.manager.Clear(ctx, docID)
}

// RestartAll stops and redeploys every entry in order. A failing entry is
// logged and skipped; the failures are returned together.
func (s *Service) RestartAll(ctx context.Context, entries []domain.CatalogEntry) error {
	s.logger.Info("restarting all docs", "count", len(entries))
	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.restart(ctx, entry); err != nil {
			s.logger.Warn("restart failed", "doc_id", entry.ID, "error", err)
			errs = append(errs, fmt.Errorf("restart %s: %w", entry.ID, err))
		}
	}
	return errors.Join(errs...)
}

// RestartCatalog restarts every document the catalog lists.
func (s *Service) RestartCatalog(ctx context.Context) error {
	if s.catalog == nil {
		return errors.New("no catalog configured")
	}
	entries, err := s.catalog.ListCatalogEntries(ctx)
	if err != nil {
		return fmt.Errorf("list catalog: %w", err)
	}
	return s.RestartAll(ctx, entries)
}

func (s *Service) restart(ctx context.Context, entry domain.CatalogEntry) error {
	if _, err := s.StopDoc(ctx, entry.ID); err != nil {
		return err
	}
	_, outcome, err := s.StartDoc(ctx, entry.ID, entry.Image, entry.ImageDigest)
	if err != nil {
		return err
	}
	return outcome.Err
}
