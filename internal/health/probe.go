// Package health decides whether a deployed workshop service answers HTTP.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultDelay   = time.Second
)

// Policy bounds a probe: how often, how long each attempt may take and how
// long to pause between attempts.
type Policy struct {
	Attempts int
	Timeout  time.Duration
	Delay    time.Duration
}

// ExistingService is used before reusing a running container.
var ExistingService = Policy{Attempts: 3, Timeout: DefaultTimeout, Delay: DefaultDelay}

// FreshContainer is used after starting a new container.
var FreshContainer = Policy{Attempts: 30, Timeout: DefaultTimeout, Delay: DefaultDelay}

// UnresponsiveError is returned when every attempt of a probe failed.
type UnresponsiveError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *UnresponsiveError) Error() string {
	return fmt.Sprintf("url %s is not responsive after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *UnresponsiveError) Unwrap() error { return e.Err }

// Prober issues bounded HTTP GET probes.
type Prober struct {
	client *http.Client
	logger *slog.Logger
}

// NewProber builds a Prober. A nil client gets a fresh one; redirects are
// never followed either way.
func NewProber(client *http.Client, logger *slog.Logger) *Prober {
	if client == nil {
		client = &http.Client{}
	} else {
		copied := *client
		client = &copied
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Prober{client: client, logger: logger}
}

// Check probes protocol://host:port until a response below 500 arrives or the
// policy is exhausted. Redirects count as healthy.
func (p *Prober) Check(ctx context.Context, host string, port int, protocol string, policy Policy) error {
	if protocol == "" {
		protocol = "http"
	}
	if host == "" {
		host = "localhost"
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultTimeout
	}
	url := fmt.Sprintf("%s://%s", protocol, net.JoinHostPort(host, strconv.Itoa(port)))

	var backoff goretry.Backoff = goretry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	if policy.Delay > 0 {
		backoff = goretry.NewConstant(policy.Delay)
	}
	backoff = goretry.WithMaxRetries(uint64(policy.Attempts-1), backoff)

	attempt := 0
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := p.probe(ctx, url, policy.Timeout); err != nil {
			p.logger.Debug("probe attempt failed", "url", url, "attempt", attempt, "error", err)
			return goretry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return &UnresponsiveError{URL: url, Attempts: attempt, Err: err}
	}
	p.logger.Debug("service responsive", "url", url, "attempt", attempt)
	return nil
}

var errServerStatus = errors.New("server error status")

func (p *Prober) probe(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %d", errServerStatus, resp.StatusCode)
	}
	return nil
}
