package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"log/slog"

	"github.com/splunk/learning-labs-portal/pkg/config"
	jwtpkg "github.com/splunk/learning-labs-portal/pkg/jwt"
)

// ErrSecretUnavailable indicates the JWT secret file could not be used.
var ErrSecretUnavailable = errors.New("auth: failed to load JWT secret")

// Service exposes the authentication values handed to workshop containers.
type Service struct {
	secret    string
	loginURL  string
	logoutURL string
	tokenTTL  time.Duration
	logger    *slog.Logger
}

// New reads the JWT secret from cfg.AuthSecretPath.
func New(cfg config.PortalConfig, logger *slog.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.AuthSecretPath) == "" {
		return nil, fmt.Errorf("%w: no secret path configured", ErrSecretUnavailable)
	}
	raw, err := os.ReadFile(cfg.AuthSecretPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretUnavailable, err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrSecretUnavailable, cfg.AuthSecretPath)
	}
	ttl := cfg.ServiceTokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		secret:    secret,
		loginURL:  cfg.AuthLoginURL,
		logoutURL: cfg.AuthLogoutURL,
		tokenTTL:  ttl,
		logger:    logger,
	}, nil
}

// JWTSecret returns the shared signing secret.
func (s *Service) JWTSecret() string { return s.secret }

// LoginURL is where containers redirect unauthenticated users.
func (s *Service) LoginURL() string { return s.loginURL }

// LogoutURL is where containers send users to sign out.
func (s *Service) LogoutURL() string { return s.logoutURL }

// ServiceToken issues a token a workshop container uses to call back into the
// progress and catalog services on behalf of docID.
func (s *Service) ServiceToken(docID string) (string, error) {
	token, err := jwtpkg.GenerateToken(docID, s.secret, s.tokenTTL)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	s.logger.Debug("issued service token", "doc_id", docID, "ttl", s.tokenTTL)
	return token, nil
}
