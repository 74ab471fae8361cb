// Package redis stores deployment records as Redis hashes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/splunk/learning-labs-portal/internal/domain"
	"github.com/splunk/learning-labs-portal/internal/repository"
)

const defaultPrefix = "portal:deployment:"

// Repository implements repository.DeploymentRepository on Redis.
type Repository struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ repository.DeploymentRepository = (*Repository)(nil)

// Connect dials Redis and verifies it answers.
func Connect(ctx context.Context, addr, password string, db int) (*Repository, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client), nil
}

// New wraps an existing client.
func New(client *redis.Client) *Repository {
	return &Repository{client: client, prefix: defaultPrefix, now: time.Now}
}

// GetDeployment reads the record of a document.
func (r *Repository) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	fields, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, err
	}
	return decode(id, fields)
}

// CreateDeployment stores a new record unless one exists.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	if deployment == nil || strings.TrimSpace(deployment.ID) == "" || !deployment.Status.Valid() {
		return repository.ErrInvalidArgument
	}
	if deployment.UpdatedAt.IsZero() {
		deployment.UpdatedAt = r.now().UTC()
	}
	key := r.key(deployment.ID)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return repository.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encode(*deployment))
			return nil
		})
		return err
	}, key)
}

// UpdateDeployment merges update into an existing record.
func (r *Repository) UpdateDeployment(ctx context.Context, id string, update domain.DeploymentUpdate) (*domain.Deployment, error) {
	if update.Status != "" && !update.Status.Valid() {
		return nil, repository.ErrInvalidArgument
	}
	key := r.key(id)
	var updated *domain.Deployment
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		d, err := decode(id, fields)
		if err != nil {
			return err
		}
		update.Apply(d, r.now().UTC())
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encode(*d))
			return nil
		})
		if err != nil {
			return err
		}
		updated = d
		return nil
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("update deployment %s: concurrent modification: %w", id, err)
		}
		return nil, err
	}
	return updated, nil
}

// Ping checks the Redis connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Repository) Close() error {
	return r.client.Close()
}

func (r *Repository) key(id string) string {
	return r.prefix + id
}

func encode(d domain.Deployment) map[string]any {
	return map[string]any{
		"status":     string(d.Status),
		"host":       d.Host,
		"port":       strconv.Itoa(d.Port),
		"updated_at": d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decode(id string, fields map[string]string) (*domain.Deployment, error) {
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}
	d := &domain.Deployment{
		ID:     id,
		Status: domain.Status(fields["status"]),
		Host:   fields["host"],
	}
	if raw := fields["port"]; raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("decode port of %s: %w", id, err)
		}
		d.Port = port
	}
	if raw := fields["updated_at"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode updated_at of %s: %w", id, err)
		}
		d.UpdatedAt = ts
	}
	return d, nil
}
