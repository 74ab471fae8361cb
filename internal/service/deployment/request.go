// Package deployment runs workshop document containers and tracks their
// deployment status.
//
// Every transition for a document happens under that document's exclusive
// lock, so concurrent callers observe either the state before a deployment
// or the settled state after it, never a half-finished one.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/distribution/reference"
	"github.com/docker/go-connections/nat"
	"github.com/opencontainers/go-digest"

	"github.com/splunk/learning-labs-portal/internal/docker"
	"github.com/splunk/learning-labs-portal/internal/health"
	"github.com/splunk/learning-labs-portal/pkg/config"
)

// ErrInvalidRequest reports a malformed deployment call.
var ErrInvalidRequest = errors.New("deployment: invalid request")

// Request asks for a document to run image@digest.
type Request struct {
	DocID  string `json:"doc_id"`
	Image  string `json:"image"`
	Digest string `json:"digest"`
}

// Validate checks the document id, image reference and digest.
func (r Request) Validate() error {
	if err := validateDocID(r.DocID); err != nil {
		return err
	}
	if _, err := reference.ParseNormalizedNamed(strings.TrimSpace(r.Image)); err != nil {
		return fmt.Errorf("%w: image %q: %v", ErrInvalidRequest, r.Image, err)
	}
	if _, err := digest.Parse(strings.TrimSpace(r.Digest)); err != nil {
		return fmt.Errorf("%w: digest %q: %v", ErrInvalidRequest, r.Digest, err)
	}
	return nil
}

func validateDocID(docID string) error {
	if strings.TrimSpace(docID) == "" {
		return fmt.Errorf("%w: doc id must not be empty", ErrInvalidRequest)
	}
	if strings.ContainsAny(docID, `/\:`) || docID == "." || docID == ".." {
		return fmt.Errorf("%w: doc id %q contains path characters", ErrInvalidRequest, docID)
	}
	return nil
}

// Outcome is the result of a deployment attempt. A NotDeployed outcome keeps
// the error that ended the attempt.
type Outcome struct {
	Host string
	Port int
	Err  error
}

// Ready reports whether the document is serving.
func (o Outcome) Ready() bool { return o.Err == nil }

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("NotDeployed(%v)", o.Err)
	}
	return fmt.Sprintf("Ready(%s:%d)", o.Host, o.Port)
}

// ContainerRuntime is the container engine the handler drives.
type ContainerRuntime interface {
	InspectImageOfContainer(ctx context.Context, containerID string) (string, error)
	ImageDigest(ctx context.Context, imageID string) (string, error)
	FindContainerIDByName(ctx context.Context, name string) (string, error)
	Stop(ctx context.Context, containerID string) error
	PullByDigest(ctx context.Context, image, digest string) error
	ImageExistsLocally(ctx context.Context, image, digest string) (bool, error)
	Run(ctx context.Context, spec docker.RunSpec) (docker.ContainerInfo, error)
}

// HealthProbe decides whether a service answers.
type HealthProbe interface {
	Check(ctx context.Context, host string, port int, protocol string, policy health.Policy) error
}

// AuthService provides the authentication values passed to containers.
type AuthService interface {
	JWTSecret() string
	LoginURL() string
	LogoutURL() string
	ServiceToken(docID string) (string, error)
}

// Settings holds the deployment knobs taken from configuration.
type Settings struct {
	// Volume is the host directory holding one mount directory per document.
	Volume string
	// Bridge names the docker network containers join. Empty publishes the
	// container port on the host instead.
	Bridge        string
	ContainerPort int
	PublicHost    string
	Protocol      string
	ProgressURL   string
	CatalogURL    string
	Logging       *docker.LogConfig
	Existing      health.Policy
	Fresh         health.Policy
	PullAttempts  int
	Timeout       time.Duration
}

// SettingsFromConfig maps portal configuration onto Settings.
func SettingsFromConfig(cfg config.PortalConfig) Settings {
	s := Settings{
		Volume:        cfg.Volume,
		Bridge:        cfg.Bridge,
		ContainerPort: cfg.ContainerPort,
		PublicHost:    cfg.PublicHost,
		Protocol:      "http",
		ProgressURL:   cfg.ProgressServiceURL,
		CatalogURL:    cfg.CatalogServiceURL,
		Existing:      health.Policy{Attempts: cfg.ExistingAttempts, Timeout: cfg.ProbeTimeout, Delay: cfg.ProbeDelay},
		Fresh:         health.Policy{Attempts: cfg.FreshAttempts, Timeout: cfg.ProbeTimeout, Delay: cfg.ProbeDelay},
		PullAttempts:  cfg.PullAttempts,
		Timeout:       cfg.DeployTimeout,
	}
	if cfg.LogDriver != "" {
		s.Logging = docker.SplunkLogging(cfg.SplunkToken, cfg.SplunkURL, cfg.SplunkIndex, cfg.SplunkSource, cfg.SplunkSourceType)
	}
	return s.withDefaults()
}

func (s Settings) withDefaults() Settings {
	if s.ContainerPort <= 0 {
		s.ContainerPort = 4000
	}
	if s.PublicHost == "" {
		s.PublicHost = "localhost"
	}
	if s.Protocol == "" {
		s.Protocol = "http"
	}
	if s.Existing.Attempts <= 0 {
		s.Existing = health.ExistingService
	}
	if s.Fresh.Attempts <= 0 {
		s.Fresh = health.FreshContainer
	}
	if s.PullAttempts <= 0 {
		s.PullAttempts = 3
	}
	return s
}

func (s Settings) port() nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", s.ContainerPort))
}

func (s Settings) mount(docID string) string {
	return filepath.Join(s.Volume, docID) + ":/mount"
}
