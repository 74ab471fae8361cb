package deployment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splunk/learning-labs-portal/internal/domain"
	"github.com/splunk/learning-labs-portal/internal/lock"
	"github.com/splunk/learning-labs-portal/internal/repository"
)

// Manager serializes deployment work per document with a keyed lock.
type Manager struct {
	locks    *lock.Manager
	store    repository.DeploymentRepository
	runtime  ContainerRuntime
	probe    HealthProbe
	auth     AuthService
	settings Settings
	logger   *slog.Logger
	metrics  *metrics
	now      func() time.Time
}

// Dependencies are the collaborators a Manager drives.
type Dependencies struct {
	Locks   *lock.Manager
	Store   repository.DeploymentRepository
	Runtime ContainerRuntime
	Probe   HealthProbe
	Auth    AuthService
	Logger  *slog.Logger
	// Registerer receives deployment metrics when set.
	Registerer prometheus.Registerer
}

// NewManager constructs a Manager.
func NewManager(deps Dependencies, settings Settings) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	locks := deps.Locks
	if locks == nil {
		locks = lock.New()
	}
	m := &Manager{
		locks:    locks,
		store:    deps.Store,
		runtime:  deps.Runtime,
		probe:    deps.Probe,
		auth:     deps.Auth,
		settings: settings.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
	if deps.Registerer != nil {
		m.metrics = newMetrics(deps.Registerer)
	}
	return m
}

// Get returns the deployment record of docID. A PENDING record is re-read once
// the running deployment settles, and a missing record is created as
// NOT_DEPLOYED.
func (m *Manager) Get(ctx context.Context, docID string) (*domain.Deployment, error) {
	if err := validateDocID(docID); err != nil {
		return nil, err
	}

	var record *domain.Deployment
	err := m.locks.WaitShared(docID, func() error {
		var err error
		record, err = m.store.GetDeployment(ctx, docID)
		return err
	})
	switch {
	case err == nil && record.Status == domain.StatusPending:
		m.logger.Debug("status pending, waiting for deployment", "doc_id", docID)
		err = m.locks.WaitExclusive(docID, func() error {
			var err error
			record, err = m.store.GetDeployment(ctx, docID)
			return err
		})
	case errors.Is(err, repository.ErrNotFound):
		err = m.locks.WaitExclusive(docID, func() error {
			existing, err := m.store.GetDeployment(ctx, docID)
			if err == nil {
				record = existing
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			m.logger.Debug("creating deployment record", "doc_id", docID)
			created := &domain.Deployment{ID: docID, Status: domain.StatusNotDeployed, UpdatedAt: m.now().UTC()}
			if err := m.store.CreateDeployment(ctx, created); err != nil {
				return err
			}
			record = created
			return nil
		})
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Deploy runs a deployment for req.DocID under the document's exclusive lock.
// Callers queue behind any deployment already running for the same document.
func (m *Manager) Deploy(ctx context.Context, req Request) (*domain.Deployment, Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, Outcome{}, err
	}

	var (
		record  *domain.Deployment
		outcome Outcome
	)
	m.logger.Debug("waiting for exclusive lock before deployment", "doc_id", req.DocID)
	err := m.locks.WaitExclusive(req.DocID, func() error {
		runCtx := ctx
		if m.settings.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, m.settings.Timeout)
			defer cancel()
		}
		start := time.Now()
		var err error
		record, outcome, err = m.newHandler(req).Deploy(runCtx)
		m.metrics.observe(outcome, err, time.Since(start))
		return err
	})
	if err != nil {
		return nil, outcome, err
	}
	return record, outcome, nil
}

// Clear stops the document's container and marks it NOT_DEPLOYED.
func (m *Manager) Clear(ctx context.Context, docID string) (*domain.Deployment, error) {
	if err := validateDocID(docID); err != nil {
		return nil, err
	}
	var record *domain.Deployment
	m.logger.Debug("waiting for exclusive lock before clearing deployment", "doc_id", docID)
	err := m.locks.WaitExclusive(docID, func() error {
		var err error
		record, err = m.newHandler(Request{DocID: docID}).Stop(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Ping checks the deployment store.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}
