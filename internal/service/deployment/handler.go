package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/splunk/learning-labs-portal/internal/docker"
	"github.com/splunk/learning-labs-portal/internal/domain"
	"github.com/splunk/learning-labs-portal/internal/repository"
	"github.com/splunk/learning-labs-portal/internal/retry"
)

// Handler runs the deployment state machine of a single document. It is not
// safe for concurrent use; the Manager serializes handlers per document.
type Handler struct {
	req      Request
	runtime  ContainerRuntime
	probe    HealthProbe
	store    repository.DeploymentRepository
	auth     AuthService
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

func (m *Manager) newHandler(req Request) *Handler {
	return &Handler{
		req:      req,
		runtime:  m.runtime,
		probe:    m.probe,
		store:    m.store,
		auth:     m.auth,
		settings: m.settings,
		logger:   m.logger,
		now:      m.now,
	}
}

// Deploy moves the document to PENDING, reuses a healthy container running
// the requested digest or replaces it, and settles on READY or NOT_DEPLOYED.
// A failed deployment is reported through the Outcome; the returned error is
// non-nil only when the NOT_DEPLOYED status itself could not be stored.
func (h *Handler) Deploy(ctx context.Context) (*domain.Deployment, Outcome, error) {
	log := h.logger.With("doc_id", h.req.DocID, "attempt_id", uuid.NewString())
	log.Info("starting deployment", "image", h.req.Image, "digest", h.req.Digest)

	record, err := h.deploy(ctx, log)
	if err == nil {
		log.Info("completed deployment", "host", record.Host, "port", record.Port)
		return record, Outcome{Host: record.Host, Port: record.Port}, nil
	}

	log.Error("failed deployment", "error", err)
	settled, serr := h.setStatus(context.WithoutCancel(ctx), domain.StatusNotDeployed)
	if serr != nil {
		return nil, Outcome{Err: err}, fmt.Errorf("store NOT_DEPLOYED for %s: %w", h.req.DocID, serr)
	}
	return settled, Outcome{Err: err}, nil
}

// Stop marks the document NOT_DEPLOYED and stops its container if one runs.
func (h *Handler) Stop(ctx context.Context) (*domain.Deployment, error) {
	log := h.logger.With("doc_id", h.req.DocID)
	log.Info("stopping deployment")
	record, err := h.setStatus(ctx, domain.StatusNotDeployed)
	if err != nil {
		return nil, err
	}
	if err := h.terminate(ctx, log); err != nil {
		return nil, err
	}
	return record, nil
}

func (h *Handler) deploy(ctx context.Context, log *slog.Logger) (*domain.Deployment, error) {
	record, err := h.setStatus(ctx, domain.StatusPending)
	if err != nil {
		return nil, err
	}

	host, port := record.Host, record.Port
	if !h.hasExistingService(ctx, log, record) {
		if err := h.terminate(ctx, log); err != nil {
			return nil, err
		}
		if err := h.pullImage(ctx, log); err != nil {
			return nil, err
		}
		host, port, err = h.createService(ctx, log)
		if err != nil {
			return nil, err
		}
	}

	log.Debug("setting status to READY")
	return h.store.UpdateDeployment(ctx, h.req.DocID, domain.DeploymentUpdate{
		Status: domain.StatusReady,
		Host:   &host,
		Port:   &port,
	})
}

// hasExistingService reports whether a running container already serves the
// requested digest at the recorded address. Lookup failures count as no.
func (h *Handler) hasExistingService(ctx context.Context, log *slog.Logger, record *domain.Deployment) bool {
	containerID, err := h.runtime.FindContainerIDByName(ctx, h.req.DocID)
	if err != nil {
		log.Warn("container lookup failed", "error", err)
		return false
	}
	if containerID == "" {
		return false
	}
	log = log.With("container_id", containerID)
	log.Debug("found existing container")

	imageID, err := h.runtime.InspectImageOfContainer(ctx, containerID)
	if err != nil {
		log.Warn("inspect existing container failed", "error", err)
		return false
	}
	running, err := h.runtime.ImageDigest(ctx, imageID)
	if err != nil {
		log.Warn("read image digest failed", "error", err)
		return false
	}
	if running != h.req.Digest {
		log.Debug("existing container runs another digest", "running", running)
		return false
	}
	if record.Host == "" || record.Port == 0 {
		log.Debug("no recorded address for existing container")
		return false
	}
	if err := h.probe.Check(ctx, record.Host, record.Port, h.settings.Protocol, h.settings.Existing); err != nil {
		log.Debug("existing service is not responsive", "error", err)
		return false
	}
	log.Debug("reusing existing service", "host", record.Host, "port", record.Port)
	return true
}

// terminate stops the document's container. A failed lookup counts as no
// container; only a container that is found and cannot be stopped fails.
func (h *Handler) terminate(ctx context.Context, log *slog.Logger) error {
	containerID, err := h.runtime.FindContainerIDByName(ctx, h.req.DocID)
	if err != nil {
		log.Warn("container lookup failed, assuming none runs", "error", err)
		return nil
	}
	if containerID == "" {
		log.Debug("no active service found")
		return nil
	}
	log.Debug("stopping old container", "container_id", containerID)
	if err := h.runtime.Stop(ctx, containerID); err != nil {
		if errors.Is(err, docker.ErrNotFound) {
			log.Debug("container already gone", "container_id", containerID)
			return nil
		}
		return err
	}
	log.Debug("stopped old container", "container_id", containerID)
	return nil
}

func (h *Handler) pullImage(ctx context.Context, log *slog.Logger) error {
	present, err := h.runtime.ImageExistsLocally(ctx, h.req.Image, h.req.Digest)
	if err != nil {
		log.Warn("local image lookup failed, pulling", "error", err)
		present = false
	}
	if present {
		return nil
	}
	log.Debug("pulling image", "image", h.req.Image, "digest", h.req.Digest)
	err = retry.Run(ctx, h.settings.PullAttempts, func(ctx context.Context) error {
		return h.runtime.PullByDigest(ctx, h.req.Image, h.req.Digest)
	})
	if err != nil {
		return fmt.Errorf("pull %s@%s: %w", h.req.Image, h.req.Digest, err)
	}
	log.Debug("pulled image", "image", h.req.Image, "digest", h.req.Digest)
	return nil
}

func (h *Handler) createService(ctx context.Context, log *slog.Logger) (string, int, error) {
	spec, err := h.runSpec()
	if err != nil {
		return "", 0, err
	}
	log = log.With("container", spec.Name)
	log.Debug("starting container")
	info, err := h.runtime.Run(ctx, spec)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create a new service for %s: %w", h.req.DocID, err)
	}
	log.Debug("started container", "container_id", info.ID)

	host, port := spec.Name, h.settings.ContainerPort
	if h.settings.Bridge == "" {
		published, ok := info.HostPort(spec.Port)
		if !ok {
			return "", 0, fmt.Errorf("failed to create a new service for %s: no host port published for %s", h.req.DocID, spec.Port)
		}
		host, port = h.settings.PublicHost, published
	}

	if err := h.probe.Check(ctx, host, port, h.settings.Protocol, h.settings.Fresh); err != nil {
		return "", 0, fmt.Errorf("failed to create a new service for %s: %w", h.req.DocID, err)
	}
	return host, port, nil
}

func (h *Handler) runSpec() (docker.RunSpec, error) {
	token, err := h.auth.ServiceToken(h.req.DocID)
	if err != nil {
		return docker.RunSpec{}, err
	}
	env := map[string]string{
		"AUTH_SECRET":      h.auth.JWTSecret(),
		"AUTH_REDIRECT":    h.auth.LoginURL(),
		"AUTH_LOGOUT_URL":  h.auth.LogoutURL(),
		"PORT":             strconv.Itoa(h.settings.ContainerPort),
		"DOC_ID":           h.req.DocID,
		"SERVICE_PROGRESS": h.settings.ProgressURL,
		"SERVICE_CATALOG":  h.settings.CatalogURL,
		"SERVICE_TOKEN":    token,
	}
	return docker.RunSpec{
		Name:    docker.ContainerName(h.req.DocID, h.now()),
		Image:   h.req.Image,
		Digest:  h.req.Digest,
		Env:     docker.EnvList(env),
		Binds:   []string{h.settings.mount(h.req.DocID)},
		Port:    h.settings.port(),
		Network: h.settings.Bridge,
		Logging: h.settings.Logging,
	}, nil
}

// setStatus stores status for the document, creating its record when absent.
func (h *Handler) setStatus(ctx context.Context, status domain.Status) (*domain.Deployment, error) {
	record, err := h.store.UpdateDeployment(ctx, h.req.DocID, domain.DeploymentUpdate{Status: status})
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	record = &domain.Deployment{ID: h.req.DocID, Status: status, UpdatedAt: h.now().UTC()}
	if err := h.store.CreateDeployment(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
