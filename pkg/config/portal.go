package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Workshop is a catalog document listed in the YAML configuration.
type Workshop struct {
	ID          string `yaml:"id"`
	Image       string `yaml:"image"`
	ImageDigest string `yaml:"imageDigest"`
}

// PortalConfig holds runtime configuration for the portal daemon.
type PortalConfig struct {
	Environment string
	Addr        string
	LogLevel    string
	ConfigDir   string

	MetricsUser         string
	MetricsPasswordHash string

	Datastore     string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DockerHost    string
	Volume        string
	Bridge        string
	ContainerPort int
	PublicHost    string

	ProbeTimeout     time.Duration
	ProbeDelay       time.Duration
	ExistingAttempts int
	FreshAttempts    int
	PullAttempts     int

	LogDriver        string
	SplunkToken      string
	SplunkURL        string
	SplunkIndex      string
	SplunkSource     string
	SplunkSourceType string

	RestartDocs   bool
	DeployTimeout time.Duration
	Workshops     []Workshop

	ServiceTokenTTL    time.Duration
	AuthSecretPath     string
	AuthLoginURL       string
	AuthLogoutURL      string
	ProgressServiceURL string
	CatalogServiceURL  string
}

// LoadPortalConfig reads environment variables, then overlays CONFIG_DIR/base.yml
// and CONFIG_DIR/{APP_ENV}.yml when they exist. Keys set in the files win.
func LoadPortalConfig() (PortalConfig, error) {
	home, _ := os.UserHomeDir()
	cfg := PortalConfig{
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("PORTAL_ADDR", ":9090"),
		LogLevel:    GetString("LOG_LEVEL", "info"),
		ConfigDir:   GetString("CONFIG_DIR", ""),

		MetricsUser:         GetString("METRICS_USER", ""),
		MetricsPasswordHash: GetString("METRICS_PASSWORD_HASH", ""),

		Datastore:     strings.ToLower(GetString("DATASTORE", "memory")),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://portal:portal@db:5432/portal?sslmode=disable"),
		RedisAddr:     GetString("REDIS_ADDR", "redis:6379"),
		RedisPassword: GetString("REDIS_PASSWORD", ""),
		RedisDB:       GetInt("REDIS_DB", 0),

		DockerHost:    GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		Volume:        filepath.Clean(GetString("VOLUME", filepath.Join(home, "mount"))),
		Bridge:        GetString("BRIDGE", ""),
		ContainerPort: GetInt("CONTAINER_PORT", 4000),
		PublicHost:    GetString("PUBLIC_HOST", "localhost"),

		ProbeTimeout:     GetDuration("PROBE_TIMEOUT", 10*time.Second, time.Second),
		ProbeDelay:       GetDuration("PROBE_DELAY", time.Second, time.Millisecond),
		ExistingAttempts: GetInt("PROBE_EXISTING_ATTEMPTS", 3),
		FreshAttempts:    GetInt("PROBE_FRESH_ATTEMPTS", 30),
		PullAttempts:     GetInt("PULL_ATTEMPTS", 3),

		LogDriver:        GetString("LOG_DRIVER", ""),
		SplunkToken:      GetString("LOG_SPLUNK_TOKEN", ""),
		SplunkURL:        GetString("LOG_SPLUNK_URL", ""),
		SplunkIndex:      GetString("LOG_SPLUNK_INDEX", ""),
		SplunkSource:     GetString("LOG_SPLUNK_SOURCE", ""),
		SplunkSourceType: GetString("LOG_SPLUNK_SOURCETYPE", ""),

		RestartDocs:   GetString("RESTART_DOCS", "") == "yes",
		DeployTimeout: GetDuration("DEPLOY_TIMEOUT", 10*time.Minute, time.Second),

		ServiceTokenTTL:    GetDuration("SERVICE_TOKEN_TTL", 24*time.Hour, time.Hour),
		AuthSecretPath:     GetString("AUTH_SECRET_PATH", ""),
		AuthLoginURL:       GetString("AUTH_LOGIN_URL", ""),
		AuthLogoutURL:      GetString("AUTH_LOGOUT_URL", ""),
		ProgressServiceURL: GetString("SERVICE_PROGRESS_URL", "http://ws-svc/api/progress"),
		CatalogServiceURL:  GetString("SERVICE_CATALOG_URL", "http://ws-svc/api/catalog"),
	}
	if cfg.ConfigDir == "" {
		return cfg, nil
	}

	var file fileConfig
	found := false
	for _, name := range []string{"base.yml", cfg.Environment + ".yml"} {
		ok, err := file.load(filepath.Join(cfg.ConfigDir, name))
		if err != nil {
			return PortalConfig{}, err
		}
		found = found || ok
	}
	if !found {
		return PortalConfig{}, fmt.Errorf("no configuration files found in %s", cfg.ConfigDir)
	}
	file.apply(&cfg)
	return cfg, nil
}

type fileConfig struct {
	Auth struct {
		LoginURL  string `yaml:"loginUrl"`
		LogoutURL string `yaml:"logoutUrl"`
		Token     struct {
			SecretPath string `yaml:"secretPath"`
		} `yaml:"token"`
	} `yaml:"auth"`
	Services struct {
		Progress string `yaml:"progress"`
		Catalog  string `yaml:"catalog"`
	} `yaml:"services"`
	Workshops []Workshop `yaml:"workshops"`
}

// load decodes path over f. Fields absent from the file keep their value.
func (f *fileConfig) load(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, f); err != nil {
		return false, fmt.Errorf("file at %s is not a valid YAML file: %w", path, err)
	}
	return true, nil
}

func (f fileConfig) apply(cfg *PortalConfig) {
	overlay := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overlay(&cfg.AuthLoginURL, f.Auth.LoginURL)
	overlay(&cfg.AuthLogoutURL, f.Auth.LogoutURL)
	overlay(&cfg.AuthSecretPath, f.Auth.Token.SecretPath)
	overlay(&cfg.ProgressServiceURL, f.Services.Progress)
	overlay(&cfg.CatalogServiceURL, f.Services.Catalog)
	if len(f.Workshops) > 0 {
		cfg.Workshops = f.Workshops
	}
}
